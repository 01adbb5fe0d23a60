package ntfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func utf16leBytes(s string) []byte {
	runes := []rune(s)
	buf := make([]byte, len(runes)*2)
	for i, r := range runes {
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(r))
	}
	return buf
}

func TestDecodeUTF16LE(t *testing.T) {
	assert.Equal(t, "notepad.exe", DecodeUTF16LE(utf16leBytes("notepad.exe")))
	assert.Equal(t, "", DecodeUTF16LE(nil))
}
