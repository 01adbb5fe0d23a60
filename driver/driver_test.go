package driver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dstl1128/vmdkparse/ntfs"
	"github.com/dstl1128/vmdkparse/vmdk"
)

func TestListSnapshotsOrdersChildBeforeParent(t *testing.T) {
	grandparent := &vmdk.Disk{ContentID: "cid-gp", ParentContentID: "ffffffff"}
	parent := &vmdk.Disk{ContentID: "cid-p", ParentContentID: "cid-gp", Parent: grandparent}
	child := &vmdk.Disk{ContentID: "cid-c", ParentContentID: "cid-p", Parent: parent}

	snaps := ListSnapshots(child)

	assert.Equal(t, []Snapshot{
		{Depth: 0, ContentID: "cid-c", ParentContentID: "cid-p"},
		{Depth: 1, ContentID: "cid-p", ParentContentID: "cid-gp"},
		{Depth: 2, ContentID: "cid-gp", ParentContentID: "ffffffff"},
	}, snaps)
}

func TestListSnapshotsSingleDiskNoParent(t *testing.T) {
	disk := &vmdk.Disk{ContentID: "cid-only", ParentContentID: "ffffffff"}
	snaps := ListSnapshots(disk)
	assert.Equal(t, []Snapshot{{Depth: 0, ContentID: "cid-only", ParentContentID: "ffffffff"}}, snaps)
}

// buildTestTree assembles root (5) -> "docs" (100) -> "a.txt" (101), with a
// second file "b.txt" (102) directly under root carrying an unnamed and a
// named alternate stream, exercising writeFolder's recursion and fileLines'
// ordering without a real NTFS volume.
func buildTestTree() *ntfs.Tree {
	tree := &ntfs.Tree{
		Nodes:   make(map[uint64]*ntfs.Node),
		Folders: make(map[uint64]*ntfs.Folder),
	}

	tree.Folders[ntfs.RootMftIndex] = &ntfs.Folder{
		Children: map[string]uint64{"docs": 100, "b.txt": 102},
		Order:    []uint64{100, 102},
	}
	tree.Nodes[100] = &ntfs.Node{MftRef: 100, IsDir: true, Name: "docs"}
	tree.Folders[100] = &ntfs.Folder{
		Children: map[string]uint64{"a.txt": 101},
		Order:    []uint64{101},
	}
	tree.Nodes[101] = &ntfs.Node{
		MftRef: 101, Name: "a.txt",
		Streams: map[string]*ntfs.Stream{"": {Name: "", RealSize: 11}},
	}
	tree.Nodes[102] = &ntfs.Node{
		MftRef: 102, Name: "b.txt",
		Streams: map[string]*ntfs.Stream{
			"":     {Name: "", RealSize: 5},
			"evil": {Name: "evil", RealSize: 20},
		},
	}
	return tree
}

func TestWriteFolderDepthFirst(t *testing.T) {
	tree := buildTestTree()
	var out strings.Builder
	writeFolder(&out, tree, ntfs.RootMftIndex, `C:\`)

	assert.Equal(t, "\tb.txt\t5\n\tb.txt:evil\t20\nC:\\docs\\\n\ta.txt\t11\n", out.String())
}

func TestFileLinesOrdersUnnamedStreamFirst(t *testing.T) {
	node := &ntfs.Node{
		Name: "b.txt",
		Streams: map[string]*ntfs.Stream{
			"zzz":  {RealSize: 1},
			"":     {RealSize: 5},
			"evil": {RealSize: 20},
		},
	}
	lines := fileLines(node)
	assert.Equal(t, []string{"\tb.txt\t5\n", "\tb.txt:evil\t20\n", "\tb.txt:zzz\t1\n"}, lines)
}
