// Package sectorio provides the lowest layer of the read path: a random-access
// byte source over a host file, and the fixed 512-byte sector size shared by
// every layer above it.
package sectorio

import (
	"fmt"
	"io"
	"os"
)

// SectorSize is the atomic unit of every disk layer in this module. NTFS
// volumes with a different physical sector size are out of scope.
const SectorSize = 512

// ByteSource is a random-access read surface over a host file. It is the
// only thing the platform needs to provide; no OS-conditional type leaks
// past this boundary.
type ByteSource interface {
	io.ReaderAt
	// Size returns the total byte length of the underlying source.
	Size() (int64, error)
	// Close releases any host resources. Safe to call more than once.
	Close() error
}

// FileSource is a ByteSource backed by an *os.File.
type FileSource struct {
	f    *os.File
	size int64
}

// Open opens path for random-access reading.
func Open(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sectorio: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sectorio: stat %s: %w", path, err)
	}
	return &FileSource{f: f, size: fi.Size()}, nil
}

// NewFileSource wraps an already-open file. Ownership of f transfers to the
// returned FileSource: Close will close f.
func NewFileSource(f *os.File) (*FileSource, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("sectorio: stat: %w", err)
	}
	return &FileSource{f: f, size: fi.Size()}, nil
}

func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	n, err := s.f.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("sectorio: read at %d: %w", off, err)
	}
	if n != len(p) {
		return n, fmt.Errorf("sectorio: short read at %d: got %d want %d", off, n, len(p))
	}
	return n, nil
}

func (s *FileSource) Size() (int64, error) { return s.size, nil }

func (s *FileSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// ReadSector reads exactly one SectorSize-byte sector at sector index idx
// (0-based) from src.
func ReadSector(src ByteSource, idx uint64) ([]byte, error) {
	buf := make([]byte, SectorSize)
	_, err := src.ReadAt(buf, int64(idx)*SectorSize)
	if err != nil {
		return nil, fmt.Errorf("sectorio: read sector %d: %w", idx, err)
	}
	return buf, nil
}
