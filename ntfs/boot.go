package ntfs

import (
	"encoding/binary"
	"fmt"

	"github.com/dstl1128/vmdkparse/sectorio"
)

// Boot is the parsed NTFS boot sector (C6): the record/cluster geometry
// every other component derives from (spec.md §3 "NTFS boot block").
type Boot struct {
	BytesPerSector        uint16
	SectorsPerCluster     uint8
	MftStartLcn           uint64
	ClustersPerFileRecord int8 // raw on-disk byte, signed

	recordSize  int64
	clusterSize int64
}

// ParseBoot reads and validates the boot sector from partition-relative
// sector 0 of view.
func ParseBoot(view SectorReader) (*Boot, error) {
	buf, err := view.ReadSector(0)
	if err != nil {
		return nil, fmt.Errorf("ntfs: read boot sector: %w", err)
	}
	if string(buf[3:7]) != "NTFS" {
		return nil, fmt.Errorf("ntfs: bad boot sector magic %q", buf[3:7])
	}

	b := &Boot{
		BytesPerSector:        binary.LittleEndian.Uint16(buf[11:13]),
		SectorsPerCluster:     buf[13],
		MftStartLcn:           binary.LittleEndian.Uint64(buf[48:56]),
		ClustersPerFileRecord: int8(buf[64]),
	}
	if b.BytesPerSector != sectorio.SectorSize {
		return nil, fmt.Errorf("ntfs: unsupported sector size %d (only %d is supported)",
			b.BytesPerSector, sectorio.SectorSize)
	}

	b.clusterSize = int64(b.SectorsPerCluster) * int64(b.BytesPerSector)

	// spec.md §3: "if the byte value is < 0x80, record size = clustersPerFileRecord
	// * sectorsPerCluster * bytesPerSector; otherwise record size =
	// 1 << (0x100 - value)" -- value is the raw unsigned on-disk byte.
	raw := buf[64]
	if raw < 0x80 {
		b.recordSize = int64(raw) * b.clusterSize
	} else {
		b.recordSize = 1 << uint(0x100-int(raw))
	}
	if b.recordSize%int64(b.BytesPerSector) != 0 {
		return nil, fmt.Errorf("ntfs: record size %d is not a multiple of sector size", b.recordSize)
	}

	return b, nil
}

// ClusterSize is sectorsPerCluster * bytesPerSector.
func (b *Boot) ClusterSize() int64 { return b.clusterSize }

// RecordSize is the derived MFT file-record size in bytes.
func (b *Boot) RecordSize() int64 { return b.recordSize }

// SectorReader is the minimal partition-relative sector surface NtfsBoot
// (and everything built on top of it) needs.
type SectorReader interface {
	ReadSector(n uint64) ([]byte, error)
	ReadAt(p []byte, off int64) (int, error)
}
