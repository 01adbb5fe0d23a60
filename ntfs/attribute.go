package ntfs

import (
	"encoding/binary"
	"fmt"
)

// Attribute type codes used by this reader (spec.md §3 "Attribute header").
const (
	AttrStandardInformation uint32 = 0x10
	AttrAttributeList       uint32 = 0x20
	AttrFileName            uint32 = 0x30
	AttrData                uint32 = 0x80
	attrTerminator          uint32 = 0xFFFFFFFF
)

// mftRefMask extracts the 48-bit MFT record index from a packed
// FileReferenceNumber (low 48 bits; high 16 bits are the sequence number).
const mftRefMask = 0x0000_FFFF_FFFF_FFFF

// attrHeader is the common 16-byte attribute header, extended with the
// resident or non-resident fields (spec.md §3 "Attribute header").
type attrHeader struct {
	Type            uint32
	Length          uint32
	NonResident     bool
	NameLength      uint8
	NameOffset      uint16
	Flags           uint16
	AttributeNumber uint16

	// Resident
	ValueLength uint32
	ValueOffset uint16

	// Non-resident
	StartVcn            uint64
	LastVcn             uint64
	DataRunOffset       uint16
	CompressionUnitSize uint16
	AllocatedSize       uint64
	RealSize            uint64
	CompressSize        uint64 // only meaningful when Flags has the compressed bit

	offset int // offset of this attribute within the record buffer, for bounds-checked slicing
}

const attrFlagCompressed = 0x0001

// parseAttrHeader parses one attribute header from record buffer buf at
// offset off. Every offset+length step is validated against len(buf)
// before use (spec.md §9: "bounds-checked slice operations").
func parseAttrHeader(buf []byte, off int) (*attrHeader, error) {
	if off+16 > len(buf) {
		return nil, fmt.Errorf("ntfs: attribute header at %d overruns record (len %d)", off, len(buf))
	}
	h := &attrHeader{
		Type:            binary.LittleEndian.Uint32(buf[off : off+4]),
		Length:          binary.LittleEndian.Uint32(buf[off+4 : off+8]),
		NonResident:     buf[off+8] != 0,
		NameLength:      buf[off+9],
		NameOffset:      binary.LittleEndian.Uint16(buf[off+10 : off+12]),
		Flags:           binary.LittleEndian.Uint16(buf[off+12 : off+14]),
		AttributeNumber: binary.LittleEndian.Uint16(buf[off+14 : off+16]),
		offset:          off,
	}
	if h.Type == attrTerminator {
		return h, nil
	}
	if off+int(h.Length) > len(buf) {
		return nil, fmt.Errorf("ntfs: attribute at %d (length %d) overruns record (len %d)",
			off, h.Length, len(buf))
	}
	if h.NameLength > 0 && int(h.NameOffset)+int(h.NameLength)*2 > int(h.Length) {
		return nil, fmt.Errorf("ntfs: attribute name at %d (offset %d, %d chars) overruns attribute (length %d)",
			off, h.NameOffset, h.NameLength, h.Length)
	}

	if !h.NonResident {
		if off+24 > len(buf) {
			return nil, fmt.Errorf("ntfs: resident attribute header at %d truncated", off)
		}
		h.ValueLength = binary.LittleEndian.Uint32(buf[off+16 : off+20])
		h.ValueOffset = binary.LittleEndian.Uint16(buf[off+20 : off+22])
		if off+int(h.ValueOffset)+int(h.ValueLength) > len(buf) {
			return nil, fmt.Errorf("ntfs: resident value at %d (len %d) overruns record", off, h.ValueLength)
		}
		return h, nil
	}

	if off+64 > len(buf) {
		return nil, fmt.Errorf("ntfs: non-resident attribute header at %d truncated", off)
	}
	h.StartVcn = binary.LittleEndian.Uint64(buf[off+16 : off+24])
	h.LastVcn = binary.LittleEndian.Uint64(buf[off+24 : off+32])
	h.DataRunOffset = binary.LittleEndian.Uint16(buf[off+32 : off+34])
	h.CompressionUnitSize = binary.LittleEndian.Uint16(buf[off+34 : off+36])
	h.AllocatedSize = binary.LittleEndian.Uint64(buf[off+40 : off+48])
	h.RealSize = binary.LittleEndian.Uint64(buf[off+48 : off+56])

	if h.Flags&attrFlagCompressed != 0 {
		if off+64+8 > len(buf) {
			return nil, fmt.Errorf("ntfs: compressed attribute at %d missing compressSize", off)
		}
		h.CompressSize = binary.LittleEndian.Uint64(buf[off+64 : off+72])
	}

	if int(h.DataRunOffset) > int(h.Length) {
		return nil, fmt.Errorf("ntfs: data run offset %d at attribute %d out of range", h.DataRunOffset, off)
	}
	return h, nil
}

// residentValue returns the resident value bytes of a resident attribute.
func (h *attrHeader) residentValue(buf []byte) []byte {
	start := h.offset + int(h.ValueOffset)
	return buf[start : start+int(h.ValueLength)]
}

// runListBytes returns the non-resident data-run byte blob of the
// attribute, up to its declared Length.
func (h *attrHeader) runListBytes(buf []byte) []byte {
	start := h.offset + int(h.DataRunOffset)
	end := h.offset + int(h.Length)
	if end > len(buf) {
		end = len(buf)
	}
	return buf[start:end]
}

// fileNameAttr is the decoded FILENAME_ATTRIBUTE resident value.
type fileNameAttr struct {
	ParentRef      uint64 // masked to 48 bits
	AllocatedSize  uint64
	RealSize       uint64
	FileAttributes uint32
	NameType       uint8 // 0 POSIX, 1 Win32, 2 DOS, 3 Win32+DOS
	Name           string
}

// parseFileName decodes a resident FileName attribute value (spec.md §3
// FILENAME_ATTRIBUTE / §4.7 AttributeDecoder policy).
func parseFileName(value []byte) (*fileNameAttr, error) {
	if len(value) < 66 {
		return nil, fmt.Errorf("ntfs: FileName attribute value too short (%d bytes)", len(value))
	}
	parentRef := binary.LittleEndian.Uint64(value[0:8]) & mftRefMask
	allocSize := binary.LittleEndian.Uint64(value[40:48])
	realSize := binary.LittleEndian.Uint64(value[48:56])
	fileAttrs := binary.LittleEndian.Uint32(value[56:60])
	nameLenChars := int(value[64])
	nameType := value[65]

	nameStart := 66
	nameBytes := nameLenChars * 2
	if nameStart+nameBytes > len(value) {
		return nil, fmt.Errorf("ntfs: FileName.Name overruns attribute value (offset %d len %d size %d)",
			nameStart, nameBytes, len(value))
	}
	name := DecodeUTF16LE(value[nameStart : nameStart+nameBytes])

	return &fileNameAttr{
		ParentRef:      parentRef,
		AllocatedSize:  allocSize,
		RealSize:       realSize,
		FileAttributes: fileAttrs,
		NameType:       nameType,
		Name:           name,
	}, nil
}

// attributeListEntry is one decoded $ATTRIBUTE_LIST entry (spec.md §3
// "ATTRIBUTE_LIST entry").
type attributeListEntry struct {
	Type                uint32
	StartVcn            uint64
	FileReferenceNumber uint64
	AttributeID         uint16
}

// parseAttributeList decodes the resident $ATTRIBUTE_LIST value into its
// entries. Non-resident AttributeLists are rejected by the caller before
// this is invoked (spec.md §4.7: "Non-resident AttributeLists are not
// supported; reject").
func parseAttributeList(value []byte) ([]attributeListEntry, error) {
	var entries []attributeListEntry
	off := 0
	for off+26 <= len(value) {
		entryType := binary.LittleEndian.Uint32(value[off : off+4])
		entryLen := binary.LittleEndian.Uint16(value[off+4 : off+6])
		if entryLen == 0 {
			break
		}
		if off+int(entryLen) > len(value) {
			return nil, fmt.Errorf("ntfs: attribute list entry at %d (len %d) overruns value (size %d)",
				off, entryLen, len(value))
		}
		startVcn := binary.LittleEndian.Uint64(value[off+8 : off+16])
		fileRef := binary.LittleEndian.Uint64(value[off+16 : off+24])
		attrID := binary.LittleEndian.Uint16(value[off+24 : off+26])

		entries = append(entries, attributeListEntry{
			Type:                entryType,
			StartVcn:            startVcn,
			FileReferenceNumber: fileRef & mftRefMask,
			AttributeID:         attrID,
		})
		off += int(entryLen)
	}
	return entries, nil
}
