package memory

import (
	"bytes"
	"fmt"
	"io"
)

// Dump reads process memory captured in a file. Each segment maps a range
// of virtual addresses onto the file.
type Dump struct {
	r    io.ReaderAt
	segs Segments
}

// NewDump creates a dump reader over r.
func NewDump(r io.ReaderAt, segs []Segment) (*Dump, error) {
	ss, err := NewSegments(segs)
	if err != nil {
		return nil, err
	}
	return &Dump{r: r, segs: ss}, nil
}

// FromBytes returns a dump holding data at base.
func FromBytes(base uint64, data []byte) *Dump {
	d := &Dump{r: bytes.NewReader(data)}
	if len(data) > 0 {
		d.segs = Segments{{Start: base, End: base + uint64(len(data))}}
	}
	return d
}

func (d *Dump) Segments() Segments { return d.segs }

func (d *Dump) Segment(addr uint64) (Segment, bool) {
	return d.segs.Find(addr)
}

// ReadMemory reads across adjacent segments; a gap fails with ErrUnmapped.
func (d *Dump) ReadMemory(buf []byte, addr uint64) error {
	for len(buf) > 0 {
		s, ok := d.segs.Find(addr)
		if !ok {
			return fmt.Errorf("%w: %#x", ErrUnmapped, addr)
		}
		n := min(uint64(len(buf)), s.End-addr)
		off := int64(s.Offset + addr - s.Start)
		if _, err := d.r.ReadAt(buf[:n], off); err != nil {
			return fmt.Errorf("memory: failed to read %#x from dump offset %#x: %w", addr, off, err)
		}
		buf = buf[n:]
		addr += n
	}
	return nil
}

// Close closes the backing file when it is closable.
func (d *Dump) Close() error {
	if c, ok := d.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
