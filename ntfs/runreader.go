package ntfs

import "fmt"

// readRun fills buf with the uncompressed bytes of a non-resident stream
// described by dr, starting at byte offset `offset` within that stream.
// Sparse clusters (VcnToLcn reporting sparse) are zero-filled (spec.md
// §4.5, §4.9). NtfsFile's compressed read path uses it to read the
// allocated clusters of a compression unit.
func readRun(view SectorReader, clusterSize int64, dr *DataRun, offset int64, buf []byte) error {
	read := 0
	for read < len(buf) {
		pos := offset + int64(read)
		vcn := uint64(pos / clusterSize)
		offInCluster := pos % clusterSize

		lcn, sparse, err := dr.VcnToLcn(vcn)
		if err != nil {
			return err
		}

		want := int64(len(buf) - read)
		if room := clusterSize - offInCluster; want > room {
			want = room
		}

		if sparse {
			for i := int64(0); i < want; i++ {
				buf[read+int(i)] = 0
			}
			read += int(want)
			continue
		}

		clusterBuf := make([]byte, clusterSize)
		byteOffset := int64(lcn) * clusterSize
		if _, err := view.ReadAt(clusterBuf, byteOffset); err != nil {
			return fmt.Errorf("ntfs: read cluster at lcn %d: %w", lcn, err)
		}
		copy(buf[read:], clusterBuf[offInCluster:offInCluster+want])
		read += int(want)
	}
	return nil
}
