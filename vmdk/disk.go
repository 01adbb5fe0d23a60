// Package vmdk implements the VMDK layer of the read path: extent
// resolution (C2), descriptor parsing and the extent/parent chain (C3).
package vmdk

import (
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dstl1128/vmdkparse/sectorio"
)

// maxParentChainDepth is the safety ceiling against snapshot-chain cycles
// (spec.md §4.2 "Extension": "a safety ceiling (e.g. 32 levels) is a
// reasonable implementation defense").
const maxParentChainDepth = 32

// FileOpener resolves a backing-file name (descriptor extent filename, or a
// parentFileNameHint) relative to the directory a descriptor was read from,
// and opens it as a ByteSource.
type FileOpener interface {
	Open(dir, name string) (sectorio.ByteSource, error)
}

// Disk is a VmdkDisk (C3): the ordered extent chain of one virtual disk,
// plus an optional parent disk consulted when a sector is unallocated.
type Disk struct {
	extents     []*Extent
	extentBase  []uint64 // cumulative sector offset of each extent, parallel to extents
	sectorCount uint64

	Parent          *Disk
	ContentID       string
	ParentContentID string

	log *logrus.Entry
}

// Open parses path (either an external text descriptor, or a
// self-describing SPARSE extent) and builds its full extent and parent
// chain.
func Open(path string, opener FileOpener, log *logrus.Entry) (*Disk, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return openDisk(path, opener, log, 0)
}

func openDisk(path string, opener FileOpener, log *logrus.Entry, depth int) (*Disk, error) {
	if depth > maxParentChainDepth {
		return nil, fmt.Errorf("vmdk: parent chain exceeds %d levels, probable cycle at %s", maxParentChainDepth, path)
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	src, err := opener.Open(dir, base)
	if err != nil {
		return nil, fmt.Errorf("vmdk: open %s: %w", path, err)
	}

	magic := make([]byte, 4)
	if _, err := src.ReadAt(magic, 0); err != nil {
		src.Close()
		return nil, fmt.Errorf("vmdk: read magic of %s: %w", path, err)
	}

	switch {
	case binary.LittleEndian.Uint32(magic) == SparseMagic:
		return openSelfDescribingDisk(src, dir, opener, log, depth)
	default:
		return openDescriptorDisk(src, dir, opener, log, depth)
	}
}

func openSelfDescribingDisk(src sectorio.ByteSource, dir string, opener FileOpener, log *logrus.Entry, depth int) (*Disk, error) {
	ext, embedded, err := NewSelfDescribingSparseExtent(src)
	if err != nil {
		src.Close()
		return nil, err
	}

	d := &Disk{extents: []*Extent{ext}, extentBase: []uint64{0}, sectorCount: ext.Sectors(), log: log}

	if embedded != nil {
		d.ContentID = embedded.Attr["CID"]
		d.ParentContentID = embedded.Attr["parentCID"]
		if hint, ok := embedded.ParentFileNameHint(); ok {
			parent, err := openParent(dir, hint, opener, log, depth)
			if err != nil {
				return nil, err
			}
			d.Parent = parent
		}
	}
	return d, nil
}

func openDescriptorDisk(src sectorio.ByteSource, dir string, opener FileOpener, log *logrus.Entry, depth int) (*Disk, error) {
	size, err := src.Size()
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("vmdk: stat descriptor: %w", err)
	}
	const maxDescriptorSize = 1 << 20
	if size > maxDescriptorSize {
		src.Close()
		return nil, fmt.Errorf("vmdk: descriptor file exceeds %d bytes", maxDescriptorSize)
	}

	buf := make([]byte, size)
	if _, err := src.ReadAt(buf, 0); err != nil && err != io.EOF {
		src.Close()
		return nil, fmt.Errorf("vmdk: read descriptor: %w", err)
	}
	src.Close()

	desc, err := ParseDescriptor(string(buf))
	if err != nil {
		return nil, err
	}

	d := &Disk{
		ContentID:       desc.Attr["CID"],
		ParentContentID: desc.Attr["parentCID"],
		log:             log,
	}

	if hint, ok := desc.ParentFileNameHint(); ok {
		parent, err := openParent(dir, hint, opener, log, depth)
		if err != nil {
			return nil, err
		}
		d.Parent = parent
	}

	for _, extDesc := range desc.Extents {
		extSrc, err := opener.Open(dir, extDesc.Filename)
		if err != nil {
			return nil, fmt.Errorf("vmdk: open extent %s: %w", extDesc.Filename, err)
		}

		var ext *Extent
		switch extDesc.Type {
		case "FLAT":
			ext = NewFlatExtent(extSrc, extDesc.Sectors, extDesc.Offset)
		case "SPARSE":
			ext, _, err = NewSparseExtent(extSrc, extDesc.Sectors)
			if err != nil {
				extSrc.Close()
				return nil, err
			}
		default:
			extSrc.Close()
			return nil, fmt.Errorf("vmdk: unsupported extent type %q (only FLAT and SPARSE are supported)", extDesc.Type)
		}

		d.extentBase = append(d.extentBase, d.sectorCount)
		d.extents = append(d.extents, ext)
		d.sectorCount += ext.Sectors()
	}

	return d, nil
}

func openParent(dir, hint string, opener FileOpener, log *logrus.Entry, depth int) (*Disk, error) {
	hint = strings.ReplaceAll(hint, `\`, "/")
	path := hint
	if !filepath.IsAbs(hint) {
		path = filepath.Join(dir, hint)
	}
	return openDisk(path, opener, log.WithField("parent_of_depth", depth+1), depth+1)
}

// SectorCount is the disk's total whole-disk sector count, summing every
// extent's advertised sector count.
func (d *Disk) SectorCount() uint64 { return d.sectorCount }

// Close releases every extent's backing ByteSource, then the parent's, in
// reverse-nested order (spec.md §5: "All owned host-file handles must be
// released on VmdkDisk teardown").
func (d *Disk) Close() error {
	var firstErr error
	for _, ext := range d.extents {
		if err := ext.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.Parent != nil {
		if err := d.Parent.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RawSector reads whole-disk sector n. With no parent and an unallocated
// sector, it returns 512 zero bytes and success (spec.md §8 law 7). The
// extent holding n is found by a binary search over the cumulative extent
// bases (extentIndexFor).
func (d *Disk) RawSector(n uint64) ([]byte, error) {
	if n >= d.sectorCount {
		return nil, fmt.Errorf("vmdk: sector %d out of range (disk has %d sectors)", n, d.sectorCount)
	}

	idx := extentIndexFor(d.extentBase, n)
	ext := d.extents[idx]
	relSector := n - d.extentBase[idx]

	buf, ok, err := ext.rawSector(relSector)
	if err != nil {
		return nil, err
	}
	if ok {
		return buf, nil
	}

	// Unallocated: fall through to the parent using the ORIGINAL
	// whole-disk sector index, not the extent-relative one (spec.md §4.2).
	if d.Parent != nil {
		d.log.WithField("sector", n).Debug("vmdk: sector unallocated, falling through to parent")
		return d.Parent.RawSector(n)
	}
	return make([]byte, sectorio.SectorSize), nil
}

func extentIndexFor(base []uint64, sector uint64) int {
	// base[i] is the first whole-disk sector covered by extents[i]; find the
	// last i with base[i] <= sector.
	lo, hi := 0, len(base)
	for lo < hi {
		mid := (lo + hi) / 2
		if base[mid] <= sector {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}
