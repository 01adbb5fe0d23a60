package ntfs

import (
	"encoding/binary"
	"fmt"
)

// applyFixup performs update-sequence-array verification and application
// (C8, spec.md §4.6) on buf in place. usaOffset/usaCount come from the
// record's NTFS_RECORD_HEADER; bytesInUse bounds the record's valid region
// so a checksum mismatch in the unused tail is tolerated rather than fatal
// (spec.md §3 invariants, §7).
func applyFixup(buf []byte, usaOffset, usaCount uint16, bytesInUse uint32) error {
	if usaCount == 0 {
		return nil
	}
	if int(usaOffset)+2 > len(buf) {
		return fmt.Errorf("ntfs: fixup: USA offset %d out of range", usaOffset)
	}
	checksum := buf[usaOffset : usaOffset+2]

	usaArrayOffset := int(usaOffset) + 2
	covered := int(usaCount) - 1
	for i := 0; i < covered; i++ {
		sectorEnd := (i+1)*512 - 2
		if sectorEnd+2 > len(buf) {
			return fmt.Errorf("ntfs: fixup: sector %d beyond record buffer", i)
		}

		if buf[sectorEnd] != checksum[0] || buf[sectorEnd+1] != checksum[1] {
			if sectorEnd >= int(bytesInUse) {
				// Tolerated: the mismatching sector lies beyond the
				// record's used region.
				continue
			}
			return fmt.Errorf("ntfs: fixup checksum mismatch at sector %d (offset %d)", i, sectorEnd)
		}

		entryOffset := usaArrayOffset + i*2
		if entryOffset+2 > len(buf) {
			return fmt.Errorf("ntfs: fixup: USA entry %d out of range", i)
		}
		buf[sectorEnd] = buf[entryOffset]
		buf[sectorEnd+1] = buf[entryOffset+1]
	}
	return nil
}

// ntfsRecordHeader is the common 8-byte-plus header shared by every NTFS
// on-disk record that carries update-sequence fixup.
type ntfsRecordHeader struct {
	Magic     [4]byte
	UsaOffset uint16
	UsaCount  uint16
}

func parseNtfsRecordHeader(buf []byte) ntfsRecordHeader {
	var h ntfsRecordHeader
	copy(h.Magic[:], buf[0:4])
	h.UsaOffset = binary.LittleEndian.Uint16(buf[4:6])
	h.UsaCount = binary.LittleEndian.Uint16(buf[6:8])
	return h
}
