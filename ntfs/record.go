package ntfs

import (
	"encoding/binary"
	"fmt"
)

const (
	recordFlagInUse     uint16 = 0x0001
	recordFlagDirectory uint16 = 0x0002
)

// Record is a fixed-up FILE_RECORD_HEADER (spec.md §3 "MFT record").
type Record struct {
	buf              []byte
	AttributesOffset uint16
	Flags            uint16
	BytesInUse       uint32
	BaseRecordRef    uint64 // masked to 48 bits; 0 for a base record
}

// InUse reports the record's in-use flag (bit 0).
func (r *Record) InUse() bool { return r.Flags&recordFlagInUse != 0 }

// IsDirectory reports the record's directory flag (bit 1).
func (r *Record) IsDirectory() bool { return r.Flags&recordFlagDirectory != 0 }

// parseRecord applies fixup to a raw record buffer and parses its header.
// Fatal on bad magic or a fixup failure outside the tolerated tail (spec.md
// §4.6, §7).
func parseRecord(buf []byte) (*Record, error) {
	if len(buf) < 48 || string(buf[0:4]) != "FILE" {
		return nil, fmt.Errorf("ntfs: bad FILE record magic %q", safeMagic(buf))
	}
	rh := parseNtfsRecordHeader(buf)

	bytesInUse := binary.LittleEndian.Uint32(buf[24:28])
	if err := applyFixup(buf, rh.UsaOffset, rh.UsaCount, bytesInUse); err != nil {
		return nil, err
	}

	r := &Record{
		buf:              buf,
		AttributesOffset: binary.LittleEndian.Uint16(buf[20:22]),
		Flags:            binary.LittleEndian.Uint16(buf[22:24]),
		BytesInUse:       bytesInUse,
		BaseRecordRef:    binary.LittleEndian.Uint64(buf[32:40]) & mftRefMask,
	}
	return r, nil
}

func safeMagic(buf []byte) string {
	if len(buf) < 4 {
		return string(buf)
	}
	return string(buf[0:4])
}

// attributes walks the record's attribute stream and returns every header
// up to (but not including) the 0xFFFFFFFF terminator or the end of
// BytesInUse, whichever comes first.
func (r *Record) attributes() ([]*attrHeader, error) {
	var out []*attrHeader
	off := int(r.AttributesOffset)
	for {
		h, err := parseAttrHeader(r.buf, off)
		if err != nil {
			return nil, err
		}
		if h.Type == attrTerminator {
			break
		}
		out = append(out, h)
		off += int(h.Length)
		if off >= int(r.BytesInUse) {
			break
		}
	}
	return out, nil
}
