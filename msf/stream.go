package msf

import (
	"fmt"
	"io"
)

// Stream is one logical stream scattered over fixed-size blocks.
type Stream struct {
	src       io.ReaderAt
	blocks    []uint32
	blockSize uint32
	size      uint32
}

func (s *Stream) Size() uint32 { return s.size }

// ReadAt implements io.ReaderAt across block boundaries.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("msf: negative offset: %d", off)
	}
	if off >= int64(s.size) {
		return 0, io.EOF
	}
	if rest := int64(s.size) - off; int64(len(p)) > rest {
		p = p[:rest]
	}

	n := 0
	for n < len(p) {
		pos := uint32(off) + uint32(n)
		idx, within := pos/s.blockSize, pos%s.blockSize
		if int(idx) >= len(s.blocks) {
			return n, io.ErrUnexpectedEOF
		}
		chunk := min(uint32(len(p)-n), s.blockSize-within)
		m, err := s.src.ReadAt(p[n:n+int(chunk)], int64(s.blocks[idx])*int64(s.blockSize)+int64(within))
		n += m
		if err != nil && !(err == io.EOF && m == int(chunk)) {
			return n, err
		}
	}
	return n, nil
}

// Bytes reads the whole stream into memory.
func (s *Stream) Bytes() ([]byte, error) {
	buf := make([]byte, s.size)
	n, err := s.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}
