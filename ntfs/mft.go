package ntfs

import "fmt"

// MftReader is the MftReader (C9): reads and fixes up file records by MFT
// index via the bootstrapped $MFT data run.
type MftReader struct {
	view        SectorReader
	clusterSize int64
	recordSize  int64
	dataRun     *DataRun
}

// BootstrapMFT reads and fixes up the first $MFT record directly off disk,
// initializes its $DATA data run, and — when the first record carries an
// $ATTRIBUTE_LIST (the $MFT itself is fragmented) — walks that list to
// append every other fragment's runs (spec.md §4.4).
func BootstrapMFT(view SectorReader, boot *Boot) (*MftReader, error) {
	clusterSize := boot.ClusterSize()
	recordSize := boot.RecordSize()

	firstRecordBuf := make([]byte, recordSize)
	mftByteOffset := int64(boot.MftStartLcn) * clusterSize
	if _, err := view.ReadAt(firstRecordBuf, mftByteOffset); err != nil {
		return nil, fmt.Errorf("ntfs: read first $MFT record: %w", err)
	}

	rec, err := parseRecord(firstRecordBuf)
	if err != nil {
		return nil, fmt.Errorf("ntfs: bootstrap $MFT record 0: %w", err)
	}
	if !rec.InUse() {
		return nil, fmt.Errorf("ntfs: $MFT record 0 is not in use")
	}

	attrs, err := rec.attributes()
	if err != nil {
		return nil, fmt.Errorf("ntfs: bootstrap $MFT attributes: %w", err)
	}

	m := &MftReader{view: view, clusterSize: clusterSize, recordSize: recordSize}

	var attrList []attributeListEntry
	var sawData bool
	for _, h := range attrs {
		switch h.Type {
		case AttrData:
			if !h.NonResident {
				return nil, fmt.Errorf("ntfs: $MFT $DATA attribute is resident, unsupported")
			}
			m.dataRun, err = Init(h.runListBytes(firstRecordBuf), h.StartVcn)
			if err != nil {
				return nil, fmt.Errorf("ntfs: decode $MFT data run: %w", err)
			}
			sawData = true

		case AttrAttributeList:
			if h.NonResident {
				return nil, fmt.Errorf("ntfs: non-resident $ATTRIBUTE_LIST on $MFT record 0 is unsupported")
			}
			attrList, err = parseAttributeList(h.residentValue(firstRecordBuf))
			if err != nil {
				return nil, fmt.Errorf("ntfs: decode $MFT attribute list: %w", err)
			}
		}
	}
	if !sawData {
		return nil, fmt.Errorf("ntfs: $MFT record 0 has no $DATA attribute")
	}

	for _, entry := range attrList {
		if entry.Type != AttrData {
			continue
		}
		if entry.FileReferenceNumber == 0 {
			// This is the record we already parsed directly.
			continue
		}
		if err := m.appendFragment(entry); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// appendFragment reads the MFT record referenced by entry (through the
// partial $MFT run list built so far), locates the $DATA attribute whose
// attribute id matches the list entry, and appends its run bytes to
// m.dataRun (spec.md §4.4 step 5).
func (m *MftReader) appendFragment(entry attributeListEntry) error {
	rec, err := m.ReadFileRecord(entry.FileReferenceNumber)
	if err != nil {
		return fmt.Errorf("ntfs: read $MFT fragment record %d: %w", entry.FileReferenceNumber, err)
	}
	attrs, err := rec.attributes()
	if err != nil {
		return err
	}
	for _, h := range attrs {
		if h.Type != AttrData || h.AttributeNumber != entry.AttributeID {
			continue
		}
		if !h.NonResident {
			return fmt.Errorf("ntfs: $MFT fragment %d $DATA attribute is resident, unsupported", entry.FileReferenceNumber)
		}
		return m.dataRun.Append(h.runListBytes(rec.buf), h.StartVcn)
	}
	return fmt.Errorf("ntfs: $MFT fragment record %d has no matching $DATA attribute id %d",
		entry.FileReferenceNumber, entry.AttributeID)
}

// ReadFileRecord reads and fixes up the file record at MFT index `index`
// (masked to the 48-bit MFT-index range) via the $MFT data run (spec.md
// §4.4 "ReadFileRecord"). When a record is smaller than a cluster several
// records share one cluster; when it is larger than a cluster (e.g. a
// 1 KiB record on a 512-byte-cluster volume) it spans two or more VCNs,
// each resolved to its own LCN rather than assumed contiguous.
func (m *MftReader) ReadFileRecord(index uint64) (*Record, error) {
	index &= mftRefMask
	byteOffset := int64(index) * m.recordSize

	startVcn := uint64(byteOffset / m.clusterSize)
	offInCluster := byteOffset % m.clusterSize

	clustersPerRecord := (offInCluster + m.recordSize + m.clusterSize - 1) / m.clusterSize
	span := make([]byte, clustersPerRecord*m.clusterSize)
	for i := int64(0); i < clustersPerRecord; i++ {
		lcn, sparse, err := m.dataRun.VcnToLcn(startVcn + uint64(i))
		if err != nil {
			return nil, fmt.Errorf("ntfs: locate mft record %d: %w", index, err)
		}
		if sparse {
			return nil, fmt.Errorf("ntfs: mft record %d falls in a sparse (unallocated) region of $MFT", index)
		}
		if _, err := m.view.ReadAt(span[i*m.clusterSize:(i+1)*m.clusterSize], int64(lcn)*m.clusterSize); err != nil {
			return nil, fmt.Errorf("ntfs: read cluster for mft record %d: %w", index, err)
		}
	}

	recordBuf := make([]byte, m.recordSize)
	copy(recordBuf, span[offInCluster:offInCluster+m.recordSize])

	return parseRecord(recordBuf)
}

// ClusterSize exposes the geometry MftReader was bootstrapped with, for
// callers (TreeBuilder, NtfsFile) built on the same partition.
func (m *MftReader) ClusterSize() int64 { return m.clusterSize }

// RecordSize is the MFT file-record size.
func (m *MftReader) RecordSize() int64 { return m.recordSize }

// MftSize is the total byte size of the $MFT stream.
func (m *MftReader) MftSize() int64 {
	return int64(m.dataRun.TotalClusters()) * m.clusterSize
}
