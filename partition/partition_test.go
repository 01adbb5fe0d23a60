package partition

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dstl1128/vmdkparse/sectorio"
)

// memDisk is an in-memory RawDiskReader keyed by whole-disk sector index.
type memDisk struct {
	sectors map[uint64][]byte
}

func newMemDisk() *memDisk { return &memDisk{sectors: make(map[uint64][]byte)} }

func (d *memDisk) RawSector(n uint64) ([]byte, error) {
	if s, ok := d.sectors[n]; ok {
		return s, nil
	}
	return make([]byte, sectorio.SectorSize), nil
}

func (d *memDisk) putMBR(entries [4][16]byte) {
	sec := make([]byte, sectorio.SectorSize)
	for i, e := range entries {
		copy(sec[446+i*16:446+(i+1)*16], e[:])
	}
	binary.LittleEndian.PutUint16(sec[510:512], mbrSignature)
	d.sectors[0] = sec
}

func mbrEntry(status, typ byte, firstLBA, numBlocks uint32) [16]byte {
	var e [16]byte
	e[0] = status
	e[4] = typ
	binary.LittleEndian.PutUint32(e[8:12], firstLBA)
	binary.LittleEndian.PutUint32(e[12:16], numBlocks)
	return e
}

func mbrEntryBytes(status, typ byte, firstLBA, numBlocks uint32) []byte {
	e := mbrEntry(status, typ, firstLBA, numBlocks)
	return e[:]
}

func TestReadTablePrimaryPartitions(t *testing.T) {
	disk := newMemDisk()
	disk.putMBR([4][16]byte{
		mbrEntry(0x80, 0x07, 2048, 1000), // NTFS primary
		mbrEntry(0x00, 0x00, 0, 0),       // empty
		{}, {},
	})

	table, err := ReadTable(disk)
	require.NoError(t, err)
	require.Len(t, table.Partitions, 1)
	assert.Equal(t, uint64(2048), table.Partitions[0].FirstSectorLBA)
	assert.Equal(t, uint64(1000), table.Partitions[0].NumberBlock)
	assert.Equal(t, byte(0x07), table.Partitions[0].Type)
}

func TestReadTableRejectsBadSignature(t *testing.T) {
	disk := newMemDisk()
	// Leave sector 0 all zero: no 0xAA55 signature.
	_, err := ReadTable(disk)
	assert.Error(t, err)
}

func TestReadTableWalksExtendedChain(t *testing.T) {
	disk := newMemDisk()
	disk.putMBR([4][16]byte{
		mbrEntry(0x00, entryTypeExtended, 100, 5000),
		{}, {}, {},
	})

	// EBR #1 at absolute sector 100: one logical partition at 100+2=102,
	// and a pointer to the next EBR at extendedBase+300.
	ebr1 := make([]byte, sectorio.SectorSize)
	copy(ebr1[446:462], mbrEntryBytes(0x00, 0x07, 2, 50))
	copy(ebr1[462:478], mbrEntryBytes(0x00, entryTypeExtended, 300, 10))
	binary.LittleEndian.PutUint16(ebr1[510:512], mbrSignature)
	disk.sectors[100] = ebr1

	// EBR #2 at absolute sector 100+300=400: one logical partition, and a
	// pointer to a third EBR relative to EBR #2's OWN sector (400), not to
	// the chain's starting sector (100) — this is what distinguishes a
	// correct chain walk from one that re-bases every hop off the first
	// extended partition.
	ebr2 := make([]byte, sectorio.SectorSize)
	copy(ebr2[446:462], mbrEntryBytes(0x00, 0x07, 2, 75))
	copy(ebr2[462:478], mbrEntryBytes(0x00, entryTypeExtended, 50, 10))
	binary.LittleEndian.PutUint16(ebr2[510:512], mbrSignature)
	disk.sectors[400] = ebr2

	// EBR #3 at absolute sector 400+50=450: one logical partition, no
	// further chain.
	ebr3 := make([]byte, sectorio.SectorSize)
	copy(ebr3[446:462], mbrEntryBytes(0x00, 0x07, 2, 20))
	binary.LittleEndian.PutUint16(ebr3[510:512], mbrSignature)
	disk.sectors[450] = ebr3

	table, err := ReadTable(disk)
	require.NoError(t, err)
	require.Len(t, table.Partitions, 3)
	assert.Equal(t, uint64(102), table.Partitions[0].FirstSectorLBA)
	assert.Equal(t, uint64(402), table.Partitions[1].FirstSectorLBA)
	assert.Equal(t, uint64(452), table.Partitions[2].FirstSectorLBA)
}

func TestSectorViewReadSectorRespectsPartitionBounds(t *testing.T) {
	disk := newMemDisk()
	data := make([]byte, sectorio.SectorSize)
	data[0] = 0x7A
	disk.sectors[2048] = data

	part := Partition{FirstSectorLBA: 2048, NumberBlock: 10}
	view := NewSectorView(disk, part)

	sec, err := view.ReadSector(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0x7A), sec[0])

	_, err = view.ReadSector(10)
	assert.Error(t, err, "sector 10 is beyond a 10-sector partition")
}

func TestSectorViewReadAtSpansSectors(t *testing.T) {
	disk := newMemDisk()
	s0 := make([]byte, sectorio.SectorSize)
	s1 := make([]byte, sectorio.SectorSize)
	for i := range s0 {
		s0[i] = 1
	}
	for i := range s1 {
		s1[i] = 2
	}
	disk.sectors[0] = s0
	disk.sectors[1] = s1

	part := Partition{FirstSectorLBA: 0, NumberBlock: 2}
	view := NewSectorView(disk, part)

	buf := make([]byte, 8)
	n, err := view.ReadAt(buf, int64(sectorio.SectorSize-4))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, []byte{1, 1, 1, 1, 2, 2, 2, 2}, buf)
}
