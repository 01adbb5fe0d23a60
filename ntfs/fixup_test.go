package ntfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFixupBuffer() []byte {
	buf := make([]byte, 1024) // two 512-byte sectors
	const usaOffset = 40
	buf[usaOffset], buf[usaOffset+1] = 0x01, 0x02   // checksum
	buf[usaOffset+2], buf[usaOffset+3] = 0xAA, 0xBB // USA entry 0 (sector 0's real bytes)
	buf[usaOffset+4], buf[usaOffset+5] = 0xCC, 0xDD // USA entry 1 (sector 1's real bytes)
	buf[510], buf[511] = 0x01, 0x02                 // sector 0 end carries the checksum
	buf[1022], buf[1023] = 0x01, 0x02               // sector 1 end carries the checksum
	return buf
}

func TestApplyFixupReplacesChecksumBytes(t *testing.T) {
	buf := buildFixupBuffer()
	err := applyFixup(buf, 40, 3, 1024)
	require.NoError(t, err)

	assert.Equal(t, byte(0xAA), buf[510])
	assert.Equal(t, byte(0xBB), buf[511])
	assert.Equal(t, byte(0xCC), buf[1022])
	assert.Equal(t, byte(0xDD), buf[1023])
}

func TestApplyFixupZeroUsaCountIsNoop(t *testing.T) {
	buf := buildFixupBuffer()
	orig := append([]byte(nil), buf...)
	require.NoError(t, applyFixup(buf, 40, 0, 1024))
	assert.Equal(t, orig, buf)
}

func TestApplyFixupMismatchWithinBytesInUseIsFatal(t *testing.T) {
	buf := buildFixupBuffer()
	buf[510] = 0xFF // corrupt sector 0's checksum bytes

	err := applyFixup(buf, 40, 3, 1024)
	assert.Error(t, err)
}

func TestApplyFixupMismatchBeyondBytesInUseIsTolerated(t *testing.T) {
	buf := buildFixupBuffer()
	buf[1022] = 0xFF // corrupt sector 1's checksum bytes, beyond bytesInUse

	err := applyFixup(buf, 40, 3, 600) // only the first 600 bytes are "in use"
	require.NoError(t, err)

	// Sector 0 (within bytesInUse) is still fixed up normally.
	assert.Equal(t, byte(0xAA), buf[510])
	assert.Equal(t, byte(0xBB), buf[511])
	// Sector 1's mismatching tail is left untouched rather than fixed up.
	assert.Equal(t, byte(0xFF), buf[1022])
}
