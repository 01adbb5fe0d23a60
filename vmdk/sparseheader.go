package vmdk

import (
	"encoding/binary"
	"fmt"

	"github.com/dstl1128/vmdkparse/sectorio"
)

// SparseMagic is "KDMV" read as a little-endian uint32, the signature of a
// VMDK SPARSE extent's on-disk header (spec.md §3).
const SparseMagic uint32 = 0x564d444b

// sparseHeaderSize is the fixed on-disk size of SparseExtentHeader.
const sparseHeaderSize = 512

// SparseExtentHeader is the 512-byte on-disk struct beginning with
// SparseMagic (spec.md §3 "SparseExtentHeader invariants").
type SparseExtentHeader struct {
	Magic             uint32
	Version           uint32
	Flags             uint32
	Capacity          uint64
	GrainSize         uint64
	DescriptorOffset  uint64
	DescriptorSize    uint64
	NumGTEsPerGT      uint32
	RGDOffset         uint64
	GDOffset          uint64
	Overhead          uint64
	UncleanShutdown   uint8
	SingleEndLineChar uint8
	NonEndLineChar    uint8
	DoubleEndLineChar [2]uint8
	CompressAlgorithm uint16
}

// GrainTableCoverage is the number of whole-disk sectors one grain table
// covers: GrainSize * NumGTEsPerGT.
func (h *SparseExtentHeader) GrainTableCoverage() uint64 {
	return h.GrainSize * uint64(h.NumGTEsPerGT)
}

// parseSparseExtentHeader reads and validates the 512-byte header at the
// start of src.
func parseSparseExtentHeader(src sectorio.ByteSource) (*SparseExtentHeader, error) {
	buf := make([]byte, sparseHeaderSize)
	if _, err := src.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("vmdk: read sparse header: %w", err)
	}

	h := &SparseExtentHeader{
		Magic:             binary.LittleEndian.Uint32(buf[0:4]),
		Version:           binary.LittleEndian.Uint32(buf[4:8]),
		Flags:             binary.LittleEndian.Uint32(buf[8:12]),
		Capacity:          binary.LittleEndian.Uint64(buf[12:20]),
		GrainSize:         binary.LittleEndian.Uint64(buf[20:28]),
		DescriptorOffset:  binary.LittleEndian.Uint64(buf[28:36]),
		DescriptorSize:    binary.LittleEndian.Uint64(buf[36:44]),
		NumGTEsPerGT:      binary.LittleEndian.Uint32(buf[44:48]),
		RGDOffset:         binary.LittleEndian.Uint64(buf[48:56]),
		GDOffset:          binary.LittleEndian.Uint64(buf[56:64]),
		Overhead:          binary.LittleEndian.Uint64(buf[64:72]),
		UncleanShutdown:   buf[72],
		SingleEndLineChar: buf[73],
		NonEndLineChar:    buf[74],
		CompressAlgorithm: binary.LittleEndian.Uint16(buf[77:79]),
	}
	h.DoubleEndLineChar[0], h.DoubleEndLineChar[1] = buf[75], buf[76]

	if h.Magic != SparseMagic {
		return nil, fmt.Errorf("vmdk: bad sparse extent magic: %#08x", h.Magic)
	}
	if h.GrainSize == 0 || h.NumGTEsPerGT == 0 {
		return nil, fmt.Errorf("vmdk: degenerate sparse header (grainSize=%d numGTEsPerGT=%d)",
			h.GrainSize, h.NumGTEsPerGT)
	}
	return h, nil
}

// readEmbeddedDescriptor reads the descriptor text embedded in a SPARSE
// extent's header, when DescriptorSize > 0.
func readEmbeddedDescriptor(src sectorio.ByteSource, h *SparseExtentHeader) (*Descriptor, error) {
	if h.DescriptorSize == 0 {
		return nil, nil
	}
	buf := make([]byte, h.DescriptorSize*sectorio.SectorSize)
	if _, err := src.ReadAt(buf, int64(h.DescriptorOffset)*sectorio.SectorSize); err != nil {
		return nil, fmt.Errorf("vmdk: read embedded descriptor: %w", err)
	}
	// The embedded descriptor is NUL-padded to its sector allotment.
	end := 0
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	return ParseDescriptor(string(buf[:end]))
}
