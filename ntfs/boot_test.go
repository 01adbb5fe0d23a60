package ntfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSectorReader is a minimal SectorReader backed by an in-memory byte
// slice, for tests that don't need a full VMDK/partition stack.
type memSectorReader struct {
	data []byte
}

func (m *memSectorReader) ReadSector(n uint64) ([]byte, error) {
	buf := make([]byte, 512)
	copy(buf, m.data[n*512:])
	return buf, nil
}

func (m *memSectorReader) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.data[off:])
	return n, nil
}

func buildBootSector(bytesPerSector uint16, sectorsPerCluster uint8, mftStartLcn uint64, clustersPerFileRecord byte) []byte {
	buf := make([]byte, 512)
	copy(buf[3:7], "NTFS")
	binary.LittleEndian.PutUint16(buf[11:13], bytesPerSector)
	buf[13] = sectorsPerCluster
	binary.LittleEndian.PutUint64(buf[48:56], mftStartLcn)
	buf[64] = clustersPerFileRecord
	return buf
}

func TestParseBootPositiveRecordSize(t *testing.T) {
	// clustersPerFileRecord=2, sectorsPerCluster=8 -> clusterSize=4096,
	// recordSize=2*4096=8192.
	view := &memSectorReader{data: buildBootSector(512, 8, 100, 2)}
	b, err := ParseBoot(view)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), b.ClusterSize())
	assert.Equal(t, int64(8192), b.RecordSize())
	assert.Equal(t, uint64(100), b.MftStartLcn)
}

func TestParseBootNegativeEncodedRecordSize(t *testing.T) {
	// 0xF6 = -10 as a signed byte -> recordSize = 1<<10 = 1024.
	view := &memSectorReader{data: buildBootSector(512, 8, 0, 0xF6)}
	b, err := ParseBoot(view)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), b.RecordSize())
}

func TestParseBootRejectsBadMagic(t *testing.T) {
	buf := buildBootSector(512, 8, 0, 2)
	copy(buf[3:7], "XXXX")
	view := &memSectorReader{data: buf}
	_, err := ParseBoot(view)
	assert.Error(t, err)
}

func TestParseBootRejectsUnsupportedSectorSize(t *testing.T) {
	view := &memSectorReader{data: buildBootSector(4096, 1, 0, 2)}
	_, err := ParseBoot(view)
	assert.Error(t, err)
}
