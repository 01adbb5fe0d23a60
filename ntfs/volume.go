package ntfs

import "fmt"

// Volume composes the full NTFS read path (spec.md §2 "Control flow" for a
// single NTFS partition): boot geometry, the bootstrapped $MFT reader, and
// the scanned directory tree.
type Volume struct {
	View SectorReader
	Boot *Boot
	Mft  *MftReader
	Tree *Tree
}

// OpenVolume parses the boot sector, bootstraps $MFT, and scans the whole
// volume into a Tree.
func OpenVolume(view SectorReader) (*Volume, error) {
	boot, err := ParseBoot(view)
	if err != nil {
		return nil, err
	}
	mft, err := BootstrapMFT(view, boot)
	if err != nil {
		return nil, fmt.Errorf("ntfs: bootstrap $MFT: %w", err)
	}
	tree, err := BuildTree(mft)
	if err != nil {
		return nil, fmt.Errorf("ntfs: build tree: %w", err)
	}
	return &Volume{View: view, Boot: boot, Mft: mft, Tree: tree}, nil
}
