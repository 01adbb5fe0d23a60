package driver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dstl1128/vmdkparse/ntfs"
	"github.com/dstl1128/vmdkparse/partition"
	"github.com/dstl1128/vmdkparse/vmdk"
)

// Listing is the rendered directory listing for one VMDK image (spec.md §6
// "Directory listing output format"), plus the raw sectors a caller can
// optionally persist alongside it.
type Listing struct {
	Text        string
	MBR         []byte
	BootSectors [][]byte // one per partition, in Table.Partitions order
}

// BuildListing walks disk's partition table and, for every NTFS partition
// on it, renders a depth-first directory listing under a drive-letter
// header (spec.md §6). Partition ordinals map to drive letters starting at
// 'C'; a table with more than 24 partitions runs past 'Z', which is fatal
// (spec.md §7 "Drive letter past Z").
func (d *Driver) BuildListing(disk *vmdk.Disk) (*Listing, error) {
	table, err := partition.ReadTable(disk)
	if err != nil {
		return nil, fmt.Errorf("driver: read partition table: %w", err)
	}

	mbr, err := disk.RawSector(0)
	if err != nil {
		return nil, fmt.Errorf("driver: read mbr sector: %w", err)
	}

	l := &Listing{MBR: append([]byte(nil), mbr...)}
	var out strings.Builder

	for i, part := range table.Partitions {
		drive := 'C' + rune(i)
		if drive > 'Z' {
			return nil, fmt.Errorf("driver: partition %d has no drive letter left past 'Z'", i)
		}

		view := partition.NewSectorView(disk, part)
		boot, err := view.ReadSector(0)
		if err != nil {
			return nil, fmt.Errorf("driver: read boot sector for partition %d: %w", i, err)
		}
		l.BootSectors = append(l.BootSectors, append([]byte(nil), boot...))
		if string(boot[3:7]) != "NTFS" {
			continue
		}

		vol, err := ntfs.OpenVolume(view)
		if err != nil {
			return nil, fmt.Errorf("driver: open ntfs volume on partition %d: %w", i, err)
		}

		fmt.Fprintf(&out, "%c:\\\n", drive)
		writeFolder(&out, vol.Tree, ntfs.RootMftIndex, fmt.Sprintf("%c:\\", drive))
	}

	l.Text = out.String()
	d.log.WithFields(logrus.Fields{"partitions": len(table.Partitions)}).Info("built directory listing")
	return l, nil
}

// writeFolder emits path's own header-less file lines, then recurses
// depth-first into every subfolder, each preceded by its own full-path
// header line (spec.md §6).
func writeFolder(out *strings.Builder, tree *ntfs.Tree, ref uint64, path string) {
	folder, ok := tree.Folders[ref]
	if !ok {
		return
	}

	var subdirs []uint64
	for _, childRef := range folder.Order {
		node, ok := tree.Nodes[childRef]
		if !ok {
			continue
		}
		if node.IsDir {
			subdirs = append(subdirs, childRef)
			continue
		}
		for _, line := range fileLines(node) {
			out.WriteString(line)
		}
	}

	for _, childRef := range subdirs {
		child := tree.Nodes[childRef]
		childPath := path + child.Name + `\`
		out.WriteString(childPath + "\n")
		writeFolder(out, tree, childRef, childPath)
	}
}

// fileLines renders one "\t<name>[:stream]\t<size>" line per stream carried
// by node, unnamed stream first then alternate streams in name order, for
// deterministic output (spec.md §6).
func fileLines(node *ntfs.Node) []string {
	names := make([]string, 0, len(node.Streams))
	for name := range node.Streams {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == "" {
			return true
		}
		if names[j] == "" {
			return false
		}
		return names[i] < names[j]
	})

	lines := make([]string, 0, len(names))
	for _, name := range names {
		stream := node.Streams[name]
		label := node.Name
		if name != "" {
			label += ":" + name
		}
		lines = append(lines, fmt.Sprintf("\t%s\t%d\n", label, stream.RealSize))
	}
	return lines
}
