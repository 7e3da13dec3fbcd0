package msf

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// File is an opened MSF container. The stream directory is loaded on first
// use; the File is safe for concurrent readers.
type File struct {
	src    io.ReaderAt
	closer io.Closer
	sb     *SuperBlock

	dir     *directory
	dirOnce sync.Once
	dirErr  error
}

// Open opens an MSF file from disk.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("msf: failed to open file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("msf: failed to stat file: %w", err)
	}
	m, err := NewFile(f, st.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	m.closer = f
	return m, nil
}

// NewFile wraps an arbitrary ReaderAt. The caller keeps ownership of r.
func NewFile(r io.ReaderAt, size int64) (*File, error) {
	if size < superBlockSize {
		return nil, ErrTruncatedFile
	}
	hdr := make([]byte, superBlockSize)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("msf: failed to read superblock: %w", err)
	}
	sb, err := parseSuperBlock(hdr)
	if err != nil {
		return nil, err
	}
	if want := int64(sb.NumBlocks) * int64(sb.BlockSize); size < want {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrTruncatedFile, size, want)
	}
	return &File{src: r, sb: sb}, nil
}

func (f *File) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

func (f *File) BlockSize() uint32 { return f.sb.BlockSize }

func (f *File) directory() (*directory, error) {
	f.dirOnce.Do(func() {
		f.dir, f.dirErr = readDirectory(f.sb, f.src)
	})
	return f.dir, f.dirErr
}

// NumStreams returns the number of directory entries.
func (f *File) NumStreams() (uint32, error) {
	d, err := f.directory()
	if err != nil {
		return 0, err
	}
	return uint32(len(d.sizes)), nil
}

// StreamExists reports whether stream i is present and non-empty.
func (f *File) StreamExists(i uint32) bool {
	d, err := f.directory()
	return err == nil && d.exists(i)
}

// OpenStream returns a reader over stream i.
func (f *File) OpenStream(i uint32) (*Stream, error) {
	d, err := f.directory()
	if err != nil {
		return nil, err
	}
	if int(i) >= len(d.sizes) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStreamIndex, i)
	}
	if d.sizes[i] == NilStreamSize {
		return nil, fmt.Errorf("%w: %d", ErrNilStream, i)
	}
	return &Stream{src: f.src, blocks: d.blocks[i], blockSize: f.sb.BlockSize, size: d.sizes[i]}, nil
}

// ReadStream reads stream i fully into memory.
func (f *File) ReadStream(i uint32) ([]byte, error) {
	s, err := f.OpenStream(i)
	if err != nil {
		return nil, err
	}
	return s.Bytes()
}
