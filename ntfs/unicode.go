package ntfs

import (
	"golang.org/x/text/encoding/unicode"
)

// utf16leDecoder is shared across every on-disk name decode; NTFS names
// (FileName attribute values, stream names) are always UTF-16LE.
var utf16leDecoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

// DecodeUTF16LE converts raw on-disk UTF-16LE bytes to a UTF-8 string. It is
// the only Unicode conversion the core performs; display-oriented
// transcoding beyond this is an external collaborator's concern (spec.md
// §1 scope note).
func DecodeUTF16LE(raw []byte) string {
	out, err := utf16leDecoder.Bytes(raw)
	if err != nil {
		// A decode error should not abort a directory scan; out is nil
		// here, so the name decodes to the empty string.
		return string(out)
	}
	return string(out)
}
