package vmdk

import (
	"path/filepath"

	"github.com/dstl1128/vmdkparse/sectorio"
)

// OSFileOpener is the default FileOpener: it opens real files on the host
// filesystem, resolving backing filenames relative to the directory of the
// descriptor that named them.
type OSFileOpener struct{}

func (OSFileOpener) Open(dir, name string) (sectorio.ByteSource, error) {
	name = filepath.FromSlash(name)
	path := name
	if !filepath.IsAbs(name) {
		path = filepath.Join(dir, name)
	}
	return sectorio.Open(path)
}
