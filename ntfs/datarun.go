package ntfs

import "fmt"

// run is one decoded data-run tuple (spec.md §3 "Data run byte encoding"):
// a cluster count and either an absolute LCN (the run is allocated) or
// sparse (no physical allocation, O == 0 in the header byte).
type run struct {
	count    uint64
	sparse   bool
	startLcn uint64 // absolute LCN of the first cluster of the run; valid when !sparse
}

// DataRun is the decoded mapping from VCN to LCN (C7): an anchoring baseVcn
// plus the ordered run list, built by Init and optionally extended by
// Append (used when $MFT's $DATA is fragmented across an $ATTRIBUTE_LIST).
type DataRun struct {
	baseVcn uint64
	runs    []run
	total   uint64 // sum of run counts, i.e. next unwritten VCN relative to baseVcn
}

// Init decodes a zero-terminated run-list byte blob anchored at baseVcn
// (spec.md §4.5).
func Init(data []byte, baseVcn uint64) (*DataRun, error) {
	dr := &DataRun{baseVcn: baseVcn}
	if err := dr.decodeInto(data); err != nil {
		return nil, err
	}
	return dr, nil
}

// Append extends dr with a second run-list blob whose first VCN is
// startVcn, used when a fragmented $DATA attribute contributes another
// chunk of the same stream (spec.md §4.5, §4.4 step 5). startVcn must equal
// the VCN immediately following the runs decoded so far (the "append
// consistency check").
func (dr *DataRun) Append(data []byte, startVcn uint64) error {
	gotStart := dr.baseVcn + dr.total
	if gotStart != startVcn {
		return fmt.Errorf("ntfs: data run append inconsistency: have cumulative VCN %d, piece starts at %d",
			gotStart, startVcn)
	}
	return dr.decodeInto(data)
}

func (dr *DataRun) decodeInto(data []byte) error {
	var prevLcn int64
	i := 0
	for i < len(data) {
		header := data[i]
		if header == 0 {
			return nil
		}
		lengthBytes := int(header & 0x0F)
		offsetBytes := int((header >> 4) & 0x0F)
		i++

		if i+lengthBytes > len(data) {
			return fmt.Errorf("ntfs: data run length field overruns buffer")
		}
		count := readLEUint(data[i : i+lengthBytes])
		i += lengthBytes

		if offsetBytes == 0 {
			// Sparse run: no LCN delta follows.
			dr.runs = append(dr.runs, run{count: count, sparse: true})
			dr.total += count
			continue
		}

		if i+offsetBytes > len(data) {
			return fmt.Errorf("ntfs: data run offset field overruns buffer")
		}
		delta := readLESigned(data[i : i+offsetBytes])
		i += offsetBytes

		absLcn := prevLcn + delta
		if absLcn < 0 {
			return fmt.Errorf("ntfs: data run resolves to negative LCN")
		}
		dr.runs = append(dr.runs, run{count: count, startLcn: uint64(absLcn)})
		dr.total += count
		prevLcn = absLcn
	}
	return nil
}

func readLEUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = (v << 8) | uint64(b[i])
	}
	return v
}

// readLESigned decodes b as a little-endian two's-complement signed
// integer of len(b) bytes (the "O signed little-endian bytes" of spec.md
// §3).
func readLESigned(b []byte) int64 {
	v := readLEUint(b)
	bits := uint(len(b) * 8)
	signBit := uint64(1) << (bits - 1)
	if v&signBit != 0 {
		return int64(v) - (int64(1) << bits)
	}
	return int64(v)
}

// VcnToLcn maps VCN vcn (absolute, not relative to baseVcn) to an LCN.
// sparse is true when vcn falls in a zero-fill run (caller must zero-fill);
// an out-of-range vcn is fatal (spec.md §3 invariants, §8 law 1).
func (dr *DataRun) VcnToLcn(vcn uint64) (lcn uint64, sparse bool, err error) {
	if vcn < dr.baseVcn {
		return 0, false, fmt.Errorf("ntfs: vcn %d precedes data run base %d", vcn, dr.baseVcn)
	}
	rel := vcn - dr.baseVcn
	var cursor uint64
	for _, r := range dr.runs {
		if rel < cursor+r.count {
			if r.sparse {
				return 0, true, nil
			}
			return r.startLcn + (rel - cursor), false, nil
		}
		cursor += r.count
	}
	return 0, false, fmt.Errorf("ntfs: vcn %d exceeds data run extent (%d clusters from base %d)",
		vcn, dr.total, dr.baseVcn)
}

// TotalClusters is the sum of every run's cluster count.
func (dr *DataRun) TotalClusters() uint64 { return dr.total }

// BaseVcn is the anchoring VCN the run list starts at.
func (dr *DataRun) BaseVcn() uint64 { return dr.baseVcn }
