//go:build unix

package memory

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// MappedFile is a read-only memory-mapped file.
type MappedFile struct {
	name string
	data []byte
}

// OpenMapped maps the named file into memory.
func OpenMapped(name string) (*MappedFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := st.Size()
	if size == 0 {
		return &MappedFile{name: name, data: []byte{}}, nil
	}
	if size != int64(int(size)) {
		return nil, fmt.Errorf("memory: file %q is too large to map", name)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("memory: failed to map %q: %w", name, err)
	}
	return &MappedFile{name: name, data: data}, nil
}

func (f *MappedFile) Name() string { return f.name }
func (f *MappedFile) Size() int64  { return int64(len(f.data)) }

// Bytes returns the mapped contents. The slice is invalid after Close.
func (f *MappedFile) Bytes() []byte { return f.data }

func (f *MappedFile) ReadAt(p []byte, off int64) (int, error) {
	if f.data == nil {
		return 0, ErrClosed
	}
	if off < 0 || off > int64(len(f.data)) {
		return 0, fmt.Errorf("memory: offset %d out of range for %q", off, f.name)
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *MappedFile) Close() error {
	if f.data == nil {
		return nil
	}
	var err error
	if len(f.data) > 0 {
		err = unix.Munmap(f.data)
	}
	f.data = nil
	return err
}
