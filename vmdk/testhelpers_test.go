package vmdk

import (
	"encoding/binary"

	"github.com/dstl1128/vmdkparse/sectorio"
)

// memSource is an in-memory sectorio.ByteSource used to exercise the
// extent/disk layers without touching the filesystem.
type memSource struct {
	data   []byte
	closed bool
}

func newMemSource(size int) *memSource {
	return &memSource{data: make([]byte, size)}
}

func (m *memSource) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.data[off:])
	return n, nil
}

func (m *memSource) Size() (int64, error) { return int64(len(m.data)), nil }

func (m *memSource) Close() error {
	m.closed = true
	return nil
}

func putUint32(buf []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:off+4], v)
}

func putUint64(buf []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(buf[off:off+8], v)
}

// buildSparseImage constructs a minimal, well-formed SPARSE extent image:
// one sector header, one sector grain directory with two entries, one
// one-sector grain table with four entries (grainSize=8 sectors,
// capacity=64 sectors), and one real grain of data at sector 10 covering
// the first 8 sectors of the virtual extent. The grain table's second
// entry and the second grain directory entry are left unallocated so
// tests can exercise both "no grain table" and "grain table present but
// entry empty" unallocated cases.
func buildSparseImage() ([]byte, sectorio.ByteSource) {
	const (
		grainSize    = 8  // sectors per grain
		numGTEsPerGT = 4  // entries per grain table
		capacity     = 64 // sectors
		grainSector  = 10
	)

	buf := make([]byte, 32*sectorio.SectorSize)

	// Header at sector 0.
	putUint32(buf, 0, SparseMagic)
	putUint32(buf, 4, 1)             // version
	putUint32(buf, 8, 0)             // flags
	putUint64(buf, 12, capacity)     // capacity
	putUint64(buf, 20, grainSize)    // grainSize
	putUint64(buf, 28, 0)            // descriptorOffset (none embedded)
	putUint64(buf, 36, 0)            // descriptorSize
	putUint32(buf, 44, numGTEsPerGT) // numGTEsPerGT
	putUint64(buf, 48, 1)            // rgdOffset (unused by this reader)
	putUint64(buf, 56, 1)            // gdOffset: grain directory at sector 1
	putUint64(buf, 64, 0)            // overhead

	// Grain directory at sector 1: two entries, one per 32-sector region.
	gd := buf[1*sectorio.SectorSize:]
	putUint32(gd, 0, 2) // GDE0 -> grain table at sector 2
	putUint32(gd, 4, 0) // GDE1 -> unallocated: no grain table for sectors 32-63

	// Grain table 0 at sector 2: covers sectors 0-31 of the extent.
	gt0 := buf[2*sectorio.SectorSize:]
	putUint32(gt0, 0, grainSector) // sectors 0-7 -> real grain at sector 10
	putUint32(gt0, 4, 0)           // sectors 8-15 -> unallocated
	putUint32(gt0, 8, 0)
	putUint32(gt0, 12, 0)

	// The real grain at sector 10, 8 sectors (4096 bytes) of a recognizable
	// pattern.
	grain := buf[grainSector*sectorio.SectorSize : (grainSector+grainSize)*sectorio.SectorSize]
	for i := range grain {
		grain[i] = 0xAA
	}

	return buf, &memSource{data: buf}
}

// buildEmptySparseImage builds a well-formed but entirely-unallocated
// SPARSE extent of the given sector capacity: every grain directory entry
// is zero, so every sector resolves as unallocated.
func buildEmptySparseImage(capacity uint64) sectorio.ByteSource {
	const grainSize = 8
	const numGTEsPerGT = 4

	buf := make([]byte, 4*sectorio.SectorSize)
	putUint32(buf, 0, SparseMagic)
	putUint32(buf, 4, 1)
	putUint32(buf, 8, 0)
	putUint64(buf, 12, capacity)
	putUint64(buf, 20, grainSize)
	putUint64(buf, 28, 0)
	putUint64(buf, 36, 0)
	putUint32(buf, 44, numGTEsPerGT)
	putUint64(buf, 48, 1)
	putUint64(buf, 56, 1) // gdOffset: sector 1, left all-zero

	return &memSource{data: buf}
}

// mapOpener is a vmdk.FileOpener backed by an in-memory name->bytes table,
// ignoring the directory argument (tests use flat, non-relative names).
type mapOpener map[string][]byte

func (m mapOpener) Open(dir, name string) (sectorio.ByteSource, error) {
	data, ok := m[name]
	if !ok {
		return nil, errNotFound(name)
	}
	return &memSource{data: append([]byte(nil), data...)}, nil
}

type errNotFound string

func (e errNotFound) Error() string { return "mapOpener: no such file: " + string(e) }
