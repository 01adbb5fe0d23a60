// Package partition implements the MBR/EBR partition walker (C4) and the
// IDiskRead surface used by upper layers (C5).
package partition

import (
	"encoding/binary"
	"fmt"

	"github.com/dstl1128/vmdkparse/sectorio"
)

const mbrSignature = 0xAA55

// entryTypeExtended marks an MBR/EBR partition-table entry as an extended
// container whose first sector is itself an EBR.
const entryTypeExtended = 0x0F
const entryTypeEmpty = 0x00

// Entry is one 16-byte MBR/EBR partition-table entry.
type Entry struct {
	Status         byte
	CHSFirst       [3]byte
	Type           byte
	CHSLast        [3]byte
	FirstSectorLBA uint32
	NumberBlock    uint32
}

func parseEntry(b []byte) Entry {
	return Entry{
		Status:         b[0],
		CHSFirst:       [3]byte{b[1], b[2], b[3]},
		Type:           b[4],
		CHSLast:        [3]byte{b[5], b[6], b[7]},
		FirstSectorLBA: binary.LittleEndian.Uint32(b[8:12]),
		NumberBlock:    binary.LittleEndian.Uint32(b[12:16]),
	}
}

// Partition is one enumerated primary or logical partition (spec.md §3
// "Partition record"), carrying the absolute LBA base used by DiskSectorView.
type Partition struct {
	FirstSectorLBA uint64 // absolute, whole-disk
	NumberBlock    uint64
	Type           byte
	Status         byte
	CHSFirst       [3]byte
	CHSLast        [3]byte
}

// RawDiskReader is the minimal whole-disk sector source the partition
// walker needs: a VmdkDisk (or any equivalent).
type RawDiskReader interface {
	RawSector(n uint64) ([]byte, error)
}

// Table is the enumerated partition list (C4): primaries in MBR slot order,
// then logicals in EBR-chain order (spec.md §8 law 5).
type Table struct {
	Partitions []Partition
}

// ReadTable reads sector 0 as an MBR and walks any extended/EBR chains.
func ReadTable(disk RawDiskReader) (*Table, error) {
	sector0, err := disk.RawSector(0)
	if err != nil {
		return nil, fmt.Errorf("partition: read MBR sector: %w", err)
	}
	if binary.LittleEndian.Uint16(sector0[510:512]) != mbrSignature {
		return nil, fmt.Errorf("partition: invalid MBR signature")
	}

	t := &Table{}
	var extended []Entry
	for i := 0; i < 4; i++ {
		e := parseEntry(sector0[446+i*16 : 446+(i+1)*16])
		if e.Type == entryTypeEmpty {
			continue
		}
		if e.Type == entryTypeExtended {
			extended = append(extended, e)
			continue
		}
		t.Partitions = append(t.Partitions, Partition{
			FirstSectorLBA: uint64(e.FirstSectorLBA),
			NumberBlock:    uint64(e.NumberBlock),
			Type:           e.Type,
			Status:         e.Status,
			CHSFirst:       e.CHSFirst,
			CHSLast:        e.CHSLast,
		})
	}

	for _, ext := range extended {
		logicals, err := walkEBRChain(disk, uint64(ext.FirstSectorLBA))
		if err != nil {
			return nil, err
		}
		t.Partitions = append(t.Partitions, logicals...)
	}

	return t, nil
}

// walkEBRChain reads the EBR at ebrSector (absolute LBA) and recurses via
// its second entry's pointer, which is relative to this EBR's own sector
// (spec.md §4.3, original_source/vmdk.cpp:271) — not to the first extended
// partition's base.
func walkEBRChain(disk RawDiskReader, ebrSector uint64) ([]Partition, error) {
	sector, err := disk.RawSector(ebrSector)
	if err != nil {
		return nil, fmt.Errorf("partition: read EBR at sector %d: %w", ebrSector, err)
	}
	if binary.LittleEndian.Uint16(sector[510:512]) != mbrSignature {
		return nil, fmt.Errorf("partition: invalid EBR signature at sector %d", ebrSector)
	}

	e0 := parseEntry(sector[446:462])
	e1 := parseEntry(sector[462:478])

	logical := Partition{
		FirstSectorLBA: ebrSector + uint64(e0.FirstSectorLBA),
		NumberBlock:    uint64(e0.NumberBlock),
		Type:           e0.Type,
		Status:         e0.Status,
		CHSFirst:       e0.CHSFirst,
		CHSLast:        e0.CHSLast,
	}
	result := []Partition{logical}

	if e1.FirstSectorLBA != 0 {
		next := ebrSector + uint64(e1.FirstSectorLBA)
		rest, err := walkEBRChain(disk, next)
		if err != nil {
			return nil, err
		}
		result = append(result, rest...)
	}

	return result, nil
}

// SectorView is the DiskSectorView (C5): the IDiskRead surface offering raw
// (whole-disk) and partition-relative sector reads.
type SectorView struct {
	disk RawDiskReader
	part Partition
}

// NewSectorView builds a SectorView scoped to a single partition.
func NewSectorView(disk RawDiskReader, part Partition) *SectorView {
	return &SectorView{disk: disk, part: part}
}

// ReadRawSector reads whole-disk sector n, bypassing the partition offset.
func (v *SectorView) ReadRawSector(n uint64) ([]byte, error) {
	return v.disk.RawSector(n)
}

// ReadSector reads sector n relative to the start of this view's partition.
func (v *SectorView) ReadSector(n uint64) ([]byte, error) {
	if n >= v.part.NumberBlock {
		return nil, fmt.Errorf("partition: sector %d beyond partition extent (%d sectors)", n, v.part.NumberBlock)
	}
	return v.disk.RawSector(v.part.FirstSectorLBA + n)
}

// ReadAt reads len(p) bytes at partition-relative byte offset off, spanning
// as many sectors as needed.
func (v *SectorView) ReadAt(p []byte, off int64) (int, error) {
	read := 0
	for read < len(p) {
		sector := (uint64(off) + uint64(read)) / sectorio.SectorSize
		inSector := int((uint64(off) + uint64(read)) % sectorio.SectorSize)
		buf, err := v.ReadSector(sector)
		if err != nil {
			return read, err
		}
		n := copy(p[read:], buf[inSector:])
		read += n
	}
	return read, nil
}
