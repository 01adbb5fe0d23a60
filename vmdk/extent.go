package vmdk

import (
	"encoding/binary"
	"fmt"

	"github.com/dstl1128/vmdkparse/sectorio"
)

// rawSector reports "no backing grain/sector here" through its ok return
// rather than as an error, so callers can tell it apart from a real I/O
// failure.

// extentKind is a closed set (spec.md §4.1): FLAT or SPARSE. Dispatch
// between the two is shallow and both arms share the same on-disk sector
// geometry, so a tagged variant is preferred over an interface hierarchy
// (spec.md §9).
type extentKind int

const (
	extentFlat extentKind = iota
	extentSparse
)

// Extent is one VMDK extent (C2): a single backing file, FLAT or SPARSE,
// able to resolve a sector index within itself to a byte offset in that
// file, or report the sector unallocated.
type Extent struct {
	kind    extentKind
	src     sectorio.ByteSource
	sectors uint64 // advertised sector count from the descriptor line

	// FLAT
	flatOffsetSectors uint64

	// SPARSE
	header         *SparseExtentHeader
	grainTableSize uint64 // numGTEsPerGT * grainSize, sectors covered per GT
}

// NewFlatExtent builds an Extent over a monolithic FLAT (or split FLAT)
// backing file.
func NewFlatExtent(src sectorio.ByteSource, sectors, offsetSectors uint64) *Extent {
	return &Extent{kind: extentFlat, src: src, sectors: sectors, flatOffsetSectors: offsetSectors}
}

// NewSparseExtent builds an Extent over a SPARSE backing file for a
// descriptor-listed extent line, validating the header's capacity against
// the descriptor's advertised sector count (spec.md §3 SparseExtentHeader
// invariants: "capacity must equal the extent's advertised sector count").
// embeddedDescriptor is non-nil when the file also carries "#DDB"-style
// properties in its header (normally unused in the descriptor-driven case).
func NewSparseExtent(src sectorio.ByteSource, expectedSectors uint64) (ext *Extent, embeddedDescriptor *Descriptor, err error) {
	h, err := parseSparseExtentHeader(src)
	if err != nil {
		return nil, nil, err
	}
	if h.Capacity != expectedSectors {
		return nil, nil, fmt.Errorf("vmdk: sparse header capacity %d does not match extent sector count %d",
			h.Capacity, expectedSectors)
	}
	embeddedDescriptor, err = readEmbeddedDescriptor(src, h)
	if err != nil {
		return nil, nil, err
	}
	return newExtentFromHeader(src, h), embeddedDescriptor, nil
}

// NewSelfDescribingSparseExtent builds an Extent from a SPARSE file that IS
// the entire (single-extent) virtual disk: no separate descriptor file was
// given, so the sector count comes from the header's own Capacity field.
// The header's embedded descriptor, if present, supplies parentFileNameHint
// for snapshot-chain following.
func NewSelfDescribingSparseExtent(src sectorio.ByteSource) (ext *Extent, embeddedDescriptor *Descriptor, err error) {
	h, err := parseSparseExtentHeader(src)
	if err != nil {
		return nil, nil, err
	}
	embeddedDescriptor, err = readEmbeddedDescriptor(src, h)
	if err != nil {
		return nil, nil, err
	}
	return newExtentFromHeader(src, h), embeddedDescriptor, nil
}

func newExtentFromHeader(src sectorio.ByteSource, h *SparseExtentHeader) *Extent {
	return &Extent{
		kind:           extentSparse,
		src:            src,
		sectors:        h.Capacity,
		header:         h,
		grainTableSize: h.GrainTableCoverage(),
	}
}

// Sectors is the extent's advertised sector count.
func (e *Extent) Sectors() uint64 { return e.sectors }

// Close releases the extent's backing ByteSource.
func (e *Extent) Close() error {
	if e.src == nil {
		return nil
	}
	return e.src.Close()
}

// rawSector resolves sectorIndex (relative to the start of this extent) to a
// 512-byte sector. ok is false when the sector is unallocated (SPARSE only);
// FLAT sectors are always allocated.
func (e *Extent) rawSector(sectorIndex uint64) (buf []byte, ok bool, err error) {
	switch e.kind {
	case extentFlat:
		off := (e.flatOffsetSectors + sectorIndex) * sectorio.SectorSize
		buf := make([]byte, sectorio.SectorSize)
		if _, err := e.src.ReadAt(buf, int64(off)); err != nil {
			return nil, false, fmt.Errorf("vmdk: flat extent read: %w", err)
		}
		return buf, true, nil

	case extentSparse:
		return e.sparseRawSector(sectorIndex)

	default:
		return nil, false, fmt.Errorf("vmdk: unknown extent kind %d", e.kind)
	}
}

func (e *Extent) sparseRawSector(sectorIndex uint64) ([]byte, bool, error) {
	h := e.header
	gdeIndex := sectorIndex / e.grainTableSize

	gde, err := e.readTableEntry(h.GDOffset, gdeIndex)
	if err != nil {
		return nil, false, err
	}
	if gde == 0 {
		return nil, false, nil
	}

	gteIndex := (sectorIndex % e.grainTableSize) / h.GrainSize
	gte, err := e.readTableEntry(gde, gteIndex)
	if err != nil {
		return nil, false, err
	}
	if gte == 0 {
		return nil, false, nil
	}

	grainByteOffset := gte*sectorio.SectorSize + (sectorIndex%h.GrainSize)*sectorio.SectorSize
	buf := make([]byte, sectorio.SectorSize)
	if _, err := e.src.ReadAt(buf, int64(grainByteOffset)); err != nil {
		return nil, false, fmt.Errorf("vmdk: sparse grain read: %w", err)
	}
	return buf, true, nil
}

// readTableEntry reads the 32-bit little-endian sector offset stored at
// entry `index` of a directory-or-table starting at sector `baseSector`
// (either the grain directory or a grain table).
func (e *Extent) readTableEntry(baseSector uint64, index uint64) (uint64, error) {
	var raw [4]byte
	off := int64(baseSector)*sectorio.SectorSize + int64(index)*4
	if _, err := e.src.ReadAt(raw[:], off); err != nil {
		return 0, fmt.Errorf("vmdk: read grain index entry at %d: %w", off, err)
	}
	return uint64(binary.LittleEndian.Uint32(raw[:])), nil
}
