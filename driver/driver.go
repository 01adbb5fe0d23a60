// Package driver composes the full read path (C14): opening a VMDK chain,
// listing its snapshot lineage, and extracting a single file out of one of
// its NTFS partitions.
package driver

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dstl1128/vmdkparse/ntfs"
	"github.com/dstl1128/vmdkparse/partition"
	"github.com/dstl1128/vmdkparse/vmdk"
)

// Driver is the top-level entry point a CLI or other caller drives. Every
// Driver carries its own correlation id so a single process extracting
// several files logs a traceable session (spec.md's ambient logging
// carried over from the teacher's per-run identifier convention).
type Driver struct {
	RunID uuid.UUID
	log   *logrus.Entry
}

// New builds a Driver bound to logger, tagging every log line it emits
// with a fresh run id.
func New(logger *logrus.Logger) *Driver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	runID := uuid.New()
	return &Driver{
		RunID: runID,
		log:   logger.WithField("run_id", runID.String()),
	}
}

// OpenVMDK opens the VMDK chain rooted at path, following parentFileNameHint
// links to build the full snapshot lineage.
func (d *Driver) OpenVMDK(path string) (*vmdk.Disk, error) {
	d.log.WithField("path", path).Info("opening vmdk")
	return vmdk.Open(path, vmdk.OSFileOpener{}, d.log)
}

// Snapshot describes one disk in a parent chain, outermost (the one opened
// by path) first.
type Snapshot struct {
	Depth           int
	ContentID       string
	ParentContentID string
}

// ListSnapshots walks disk's parent chain and reports it as an ordered
// list, child before parent (depth 0 is disk itself). It backs the CLI's
// diagnostic `lineage` command, not the directory listing.
func ListSnapshots(disk *vmdk.Disk) []Snapshot {
	var out []Snapshot
	depth := 0
	for cur := disk; cur != nil; cur = cur.Parent {
		out = append(out, Snapshot{
			Depth:           depth,
			ContentID:       cur.ContentID,
			ParentContentID: cur.ParentContentID,
		})
		depth++
	}
	return out
}

// OpenPartition reads disk's partition table and returns a SectorView over
// the partition at the given index (0-based, in MBR/EBR enumeration
// order).
func OpenPartition(disk *vmdk.Disk, index int) (*partition.SectorView, error) {
	table, err := partition.ReadTable(disk)
	if err != nil {
		return nil, fmt.Errorf("driver: read partition table: %w", err)
	}
	if index < 0 || index >= len(table.Partitions) {
		return nil, fmt.Errorf("driver: partition index %d out of range (disk has %d partitions)",
			index, len(table.Partitions))
	}
	return partition.NewSectorView(disk, table.Partitions[index]), nil
}

// ExtractFile resolves innerPath inside the NTFS volume on partition
// `partitionIndex` of disk and copies its unnamed data stream to w
// (spec.md §6 "--dump").
func (d *Driver) ExtractFile(disk *vmdk.Disk, partitionIndex int, innerPath string, w io.Writer) (int64, error) {
	view, err := OpenPartition(disk, partitionIndex)
	if err != nil {
		return 0, err
	}

	vol, err := ntfs.OpenVolume(view)
	if err != nil {
		return 0, fmt.Errorf("driver: open ntfs volume on partition %d: %w", partitionIndex, err)
	}

	f, err := vol.Open(innerPath)
	if err != nil {
		return 0, fmt.Errorf("driver: resolve %q: %w", innerPath, err)
	}

	d.log.WithFields(logrus.Fields{
		"partition": partitionIndex,
		"path":      innerPath,
		"size":      f.Stream.RealSize,
	}).Info("extracting file")

	n, err := io.Copy(w, readerFunc(f.Read))
	if err != nil {
		return n, fmt.Errorf("driver: extract %q: %w", innerPath, err)
	}
	return n, nil
}

// readerFunc adapts a Read method value to io.Reader for io.Copy.
type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
