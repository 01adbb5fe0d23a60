package ntfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFileRecord constructs a minimal, fixup-free (UsaCount=0) FILE record
// with one resident FileName attribute and one resident $DATA attribute,
// for exercising parseRecord/attributes/parseFileName end to end without a
// full volume.
func buildFileRecord(name string, parentRef uint64, data []byte) []byte {
	buf := make([]byte, 512)
	copy(buf[0:4], "FILE")
	binary.LittleEndian.PutUint16(buf[4:6], 48) // usaOffset, unused (usaCount=0)
	binary.LittleEndian.PutUint16(buf[6:8], 0)  // usaCount
	const attributesOffset = 56
	binary.LittleEndian.PutUint16(buf[20:22], attributesOffset)
	binary.LittleEndian.PutUint16(buf[22:24], recordFlagInUse)

	nameBytes := utf16leBytes(name)
	fnValueLen := 66 + len(nameBytes)
	fnAttrLen := 24 + fnValueLen

	off := attributesOffset
	putUint32(buf, off, AttrFileName)
	putUint32(buf, off+4, uint32(fnAttrLen))
	buf[off+8] = 0 // resident
	binary.LittleEndian.PutUint32(buf[off+16:off+20], uint32(fnValueLen))
	binary.LittleEndian.PutUint16(buf[off+20:off+22], 24)

	val := off + 24
	binary.LittleEndian.PutUint64(buf[val:val+8], parentRef)
	buf[val+64] = byte(len(nameBytes) / 2)
	buf[val+65] = 1 // Win32 namespace
	copy(buf[val+66:val+66+len(nameBytes)], nameBytes)

	off += fnAttrLen

	dataAttrLen := 24 + len(data)
	putUint32(buf, off, AttrData)
	putUint32(buf, off+4, uint32(dataAttrLen))
	buf[off+8] = 0
	binary.LittleEndian.PutUint32(buf[off+16:off+20], uint32(len(data)))
	binary.LittleEndian.PutUint16(buf[off+20:off+22], 24)
	copy(buf[off+24:off+24+len(data)], data)

	off += dataAttrLen

	binary.LittleEndian.PutUint32(buf[off:off+4], attrTerminator)

	binary.LittleEndian.PutUint32(buf[24:28], uint32(off+8)) // bytesInUse
	return buf
}

func TestParseRecordAndAttributes(t *testing.T) {
	buf := buildFileRecord("notepad.exe", 5, []byte("hello"))
	rec, err := parseRecord(buf)
	require.NoError(t, err)
	assert.True(t, rec.InUse())
	assert.False(t, rec.IsDirectory())

	attrs, err := rec.attributes()
	require.NoError(t, err)
	require.Len(t, attrs, 2)

	fn, err := parseFileName(attrs[0].residentValue(rec.buf))
	require.NoError(t, err)
	assert.Equal(t, "notepad.exe", fn.Name)
	assert.Equal(t, uint64(5), fn.ParentRef)

	assert.Equal(t, AttrData, attrs[1].Type)
	assert.Equal(t, []byte("hello"), attrs[1].residentValue(rec.buf))
}

func TestParseRecordRejectsBadMagic(t *testing.T) {
	buf := make([]byte, 64)
	_, err := parseRecord(buf)
	assert.Error(t, err)
}

func putUint32(buf []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:off+4], v)
}
