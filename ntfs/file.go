package ntfs

import (
	"fmt"
	"io"
	"strings"
)

// compressionUnitClusters is the only compression unit size this reader
// understands: 16 clusters (spec.md §4.9 "the compression unit must be 16
// clusters (64 KiB at 4 KiB clusters); reject otherwise").
const compressionUnitClusters = 16

// File is an open handle on one stream of a resolved path (C13). It tracks
// a read cursor and, for non-resident streams, a one-cluster or
// one-compression-unit cache so sequential reads don't re-fetch the same
// clusters.
type File struct {
	vol    *Volume
	Node   *Node
	Stream *Stream
	pos    int64

	groupStartVcn uint64
	group         []byte
	groupValid    bool

	clusterVcn   uint64
	cluster      []byte
	clusterValid bool
}

// splitPath breaks a path into its directory components and, if the final
// component carries a "name:streamName" suffix, its alternate stream name
// (spec.md §4.9 "a streamName may only follow the final component").
func splitPath(path string) (components []string, streamName string) {
	raw := strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' })
	if len(raw) == 0 {
		return nil, ""
	}
	last := raw[len(raw)-1]
	if idx := strings.IndexByte(last, ':'); idx >= 0 {
		streamName = last[idx+1:]
		raw[len(raw)-1] = last[:idx]
	}
	return raw, streamName
}

// Open resolves path against the volume's tree, starting at the root
// directory (MFT index 5) and matching each component case-sensitively
// against either a child's long name or short name (spec.md §4.9 "Path
// resolution"). Failing to resolve any component is fatal.
func (vol *Volume) Open(path string) (*File, error) {
	components, streamName := splitPath(path)
	if len(components) == 0 {
		return nil, fmt.Errorf("ntfs: empty path")
	}

	currentDir := uint64(RootMftIndex)
	var target *Node

	for i, comp := range components {
		folder, ok := vol.Tree.Folders[currentDir]
		if !ok {
			return nil, fmt.Errorf("ntfs: %q has no entries", comp)
		}
		ref, ok := folder.Children[comp]
		if !ok {
			return nil, fmt.Errorf("ntfs: path component %q not found", comp)
		}
		node, ok := vol.Tree.Nodes[ref]
		if !ok {
			return nil, fmt.Errorf("ntfs: dangling reference for %q", comp)
		}

		if i == len(components)-1 {
			target = node
			break
		}
		if !node.IsDir {
			return nil, fmt.Errorf("ntfs: %q is not a directory", comp)
		}
		currentDir = node.MftRef
	}

	stream, ok := target.Streams[streamName]
	if !ok {
		if streamName == "" {
			return nil, fmt.Errorf("ntfs: %q has no unnamed data stream", path)
		}
		return nil, fmt.Errorf("ntfs: %q has no stream named %q", path, streamName)
	}

	if stream.Compressed {
		unitClusters := 1 << stream.CompressUnitSize
		if unitClusters != compressionUnitClusters {
			return nil, fmt.Errorf("ntfs: unsupported compression unit size %d clusters (only %d is supported)",
				unitClusters, compressionUnitClusters)
		}
	}

	return &File{vol: vol, Node: target, Stream: stream}, nil
}

// Read fills p starting at the current cursor, advancing it by the number
// of bytes returned. It dispatches on the stream's storage mode (spec.md
// §4.9 "Read"):
//
//  1. resident: a direct slice of the inline value.
//  2. non-resident, uncompressed: cluster-granular reads through the data
//     run, zero-filling sparse clusters.
//  3. non-resident, compressed: whole 64 KiB compression units are
//     resolved (all-zero, all-raw, or LZ-decompressed) and cached.
func (f *File) Read(p []byte) (int, error) {
	if f.pos >= int64(f.Stream.RealSize) {
		return 0, io.EOF
	}
	remaining := int64(f.Stream.RealSize) - f.pos
	n := int64(len(p))
	if n > remaining {
		n = remaining
	}
	if n == 0 {
		return 0, nil
	}

	if f.Stream.Resident {
		copy(p[:n], f.Stream.InlineData[f.pos:f.pos+n])
		f.pos += n
		return int(n), nil
	}

	if !f.Stream.Compressed {
		if err := f.readUncompressed(p[:n]); err != nil {
			return 0, err
		}
		f.pos += n
		return int(n), nil
	}

	return f.readCompressed(p[:n])
}

// readUncompressed fills buf from the current cursor through the stream's
// data run, keeping the most recently fetched cluster cached so sequential
// reads within one cluster (the common case) don't re-fetch it a byte range
// at a time (spec.md §4.9 mode 2).
func (f *File) readUncompressed(buf []byte) error {
	clusterSize := f.vol.Mft.ClusterSize()
	dr := f.Stream.DataRun

	read := 0
	for read < len(buf) {
		pos := f.pos + int64(read)
		vcn := uint64(pos / clusterSize)
		offInCluster := pos % clusterSize

		want := int64(len(buf) - read)
		if room := clusterSize - offInCluster; want > room {
			want = room
		}

		if !f.clusterValid || f.clusterVcn != vcn {
			lcn, sparse, err := dr.VcnToLcn(vcn)
			if err != nil {
				return err
			}
			if sparse {
				f.cluster = nil
				f.clusterValid = false
				for i := int64(0); i < want; i++ {
					buf[read+int(i)] = 0
				}
				read += int(want)
				continue
			}

			cluster := make([]byte, clusterSize)
			if _, err := f.vol.View.ReadAt(cluster, int64(lcn)*clusterSize); err != nil {
				return fmt.Errorf("ntfs: read cluster at lcn %d: %w", lcn, err)
			}
			f.cluster = cluster
			f.clusterVcn = vcn
			f.clusterValid = true
		}

		copy(buf[read:], f.cluster[offInCluster:offInCluster+want])
		read += int(want)
	}
	return nil
}

func (f *File) readCompressed(p []byte) (int, error) {
	clusterSize := f.vol.Mft.ClusterSize()
	unitBytes := int64(compressionUnitClusters) * clusterSize

	read := 0
	for read < len(p) {
		pos := f.pos + int64(read)
		if pos >= int64(f.Stream.RealSize) {
			break
		}
		unitVcn := uint64(pos/unitBytes) * compressionUnitClusters
		if !f.groupValid || f.groupStartVcn != unitVcn {
			group, err := f.resolveCompressionUnit(unitVcn)
			if err != nil {
				return read, err
			}
			f.group = group
			f.groupStartVcn = unitVcn
			f.groupValid = true
		}

		offInUnit := pos - int64(unitVcn)*clusterSize
		want := int64(len(p) - read)
		if room := unitBytes - offInUnit; want > room {
			want = room
		}
		copy(p[read:], f.group[offInUnit:offInUnit+want])
		read += int(want)
	}
	f.pos += int64(read)
	return read, nil
}

// resolveCompressionUnit produces the 64 KiB of logical output for the
// compression unit starting at VCN unitVcn. NTFS lays a compressed
// compression unit out as a contiguous allocated prefix (holding the
// LZ77-variant stream) followed by sparse filler clusters for the rest of
// the unit; a unit with no sparse clusters at all is stored raw, and a unit
// that is entirely sparse is entirely zero (spec.md §4.9, §4.8).
func (f *File) resolveCompressionUnit(unitVcn uint64) ([]byte, error) {
	clusterSize := f.vol.Mft.ClusterSize()
	dr := f.Stream.DataRun

	allocated := 0
	for i := 0; i < compressionUnitClusters; i++ {
		_, sparse, err := dr.VcnToLcn(unitVcn + uint64(i))
		if err != nil {
			return nil, err
		}
		if sparse {
			break
		}
		allocated++
	}

	if allocated == 0 {
		return make([]byte, compressionUnitClusters*clusterSize), nil
	}

	raw := make([]byte, int64(allocated)*clusterSize)
	if err := readRun(f.vol.View, clusterSize, dr, int64(unitVcn)*clusterSize, raw); err != nil {
		return nil, err
	}

	if allocated == compressionUnitClusters {
		return raw, nil
	}

	out, err := Decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("ntfs: decompress compression unit at vcn %d: %w", unitVcn, err)
	}
	full := int(compressionUnitClusters * clusterSize)
	if len(out) < full {
		out = append(out, make([]byte, full-len(out))...)
	} else if len(out) > full {
		out = out[:full]
	}
	return out, nil
}

// Seek repositions the cursor. SEEK_END is anchored at the stream's
// RealSize, so offset 0 means end-of-stream and a negative offset seeks
// backward from it — the conventional io.SeekEnd behavior (spec.md §9 flags
// the source's own SEEK_END arithmetic as likely inverted; this reader
// implements the convention a caller would expect rather than reproducing
// the suspected bug).
func (f *File) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = f.pos
	case io.SeekEnd:
		base = int64(f.Stream.RealSize)
	default:
		return 0, fmt.Errorf("ntfs: invalid whence %d", whence)
	}
	newPos := base + offset
	if newPos < 0 {
		return 0, fmt.Errorf("ntfs: seek to negative position")
	}
	f.pos = newPos
	if f.groupValid {
		clusterSize := f.vol.Mft.ClusterSize()
		unitBytes := int64(compressionUnitClusters) * clusterSize
		if uint64(newPos/unitBytes)*compressionUnitClusters != f.groupStartVcn {
			f.groupValid = false
		}
	}
	return f.pos, nil
}

// Eof reports whether the cursor has reached or passed the end of the
// stream's logical size. Seeking past RealSize is tolerated by Seek (it
// does not itself fail); Eof is how a caller notices.
func (f *File) Eof() bool {
	return f.pos >= int64(f.Stream.RealSize)
}
