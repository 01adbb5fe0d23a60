package vmdk

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dstl1128/vmdkparse/sectorio"
)

func memSourceBytes(src sectorio.ByteSource) []byte {
	return src.(*memSource).data
}

func TestOpenDescriptorDiskFallsThroughToParent(t *testing.T) {
	parentBytes := memSourceBytes(func() sectorio.ByteSource { _, s := buildSparseImage(); return s }())
	childSparseBytes := memSourceBytes(buildEmptySparseImage(64))

	childDescriptor := `# Disk DescriptorFile
version=1
CID=00000002
parentCID=00000001
parentFileNameHint="parent.vmdk"

# Extent description
RW 64 SPARSE "child-sparse.vmdk"
`

	opener := mapOpener{
		"child.vmdk":        []byte(childDescriptor),
		"child-sparse.vmdk": childSparseBytes,
		"parent.vmdk":       parentBytes,
	}

	disk, err := Open("child.vmdk", opener, nil)
	require.NoError(t, err)
	defer disk.Close()

	require.NotNil(t, disk.Parent)
	assert.Equal(t, "00000002", disk.ContentID)
	assert.Equal(t, "00000001", disk.ParentContentID)

	// Sector 0 is unallocated in the child, so it must fall through to the
	// parent's grain (which this reader fills with 0xAA), using the
	// original whole-disk index.
	sector, err := disk.RawSector(0)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(sector, bytes.Repeat([]byte{0xAA}, sectorio.SectorSize)))
}

func TestOpenDiskWithNoParentReturnsZeroForUnallocated(t *testing.T) {
	src := buildEmptySparseImage(8)
	disk, err := openSelfDescribingDisk(src, ".", mapOpener{}, nil, 0)
	require.NoError(t, err)
	defer disk.Close()

	sector, err := disk.RawSector(0)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, sectorio.SectorSize), sector)
}

func TestOpenRejectsUnsupportedExtentType(t *testing.T) {
	descriptor := `# Disk DescriptorFile
CID=00000001
parentCID=ffffffff

# Extent description
RW 100 VMFSRAW "raw-disk.vmdk"
`
	opener := mapOpener{"child.vmdk": []byte(descriptor)}
	_, err := Open("child.vmdk", opener, nil)
	assert.Error(t, err)
}
