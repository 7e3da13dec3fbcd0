// Package stream provides a little-endian cursor over CodeView byte streams.
package stream

import (
	"encoding/binary"
	"errors"
)

var (
	ErrUnexpectedEOF  = errors.New("stream: unexpected end of data")
	ErrNegativeOffset = errors.New("stream: negative offset")
	ErrInvalidNumeric = errors.New("stream: invalid numeric leaf")
)

// Numeric leaf prefixes. Values below leafNumeric are stored inline.
const (
	leafNumeric   = 0x8000
	leafChar      = 0x8000
	leafShort     = 0x8001
	leafUShort    = 0x8002
	leafLong      = 0x8003
	leafULong     = 0x8004
	leafQuadword  = 0x8009
	leafUQuadword = 0x800a
)

// Reader is a cursor over an in-memory byte slice.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Offset() int { return r.pos }

func (r *Reader) Len() int { return len(r.buf) }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	if r.pos >= len(r.buf) {
		return 0
	}
	return len(r.buf) - r.pos
}

func (r *Reader) Seek(off int) error {
	if off < 0 {
		return ErrNegativeOffset
	}
	r.pos = off
	return nil
}

func (r *Reader) Skip(n int) error {
	if n < 0 || r.pos+n > len(r.buf) {
		return ErrUnexpectedEOF
	}
	r.pos += n
	return nil
}

// Align advances the cursor to the next multiple of n.
func (r *Reader) Align(n int) {
	if n > 1 {
		if rem := r.pos % n; rem != 0 {
			r.pos += n - rem
		}
	}
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrUnexpectedEOF
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) U16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) U64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) I16() (int16, error) {
	v, err := r.U16()
	return int16(v), err
}

func (r *Reader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) ([]byte, error) {
	return r.take(n)
}

// CString reads a NUL-terminated string.
func (r *Reader) CString() (string, error) {
	for i := r.pos; i < len(r.buf); i++ {
		if r.buf[i] == 0 {
			s := string(r.buf[r.pos:i])
			r.pos = i + 1
			return s, nil
		}
	}
	return "", ErrUnexpectedEOF
}

// Numeric reads a CodeView numeric leaf. Signed encodings are sign-extended
// so callers needing a signed value can convert with int64(v).
func (r *Reader) Numeric() (uint64, error) {
	leaf, err := r.U16()
	if err != nil {
		return 0, err
	}
	if leaf < leafNumeric {
		return uint64(leaf), nil
	}
	switch leaf {
	case leafChar:
		v, err := r.U8()
		return uint64(int8(v)), err
	case leafShort:
		v, err := r.I16()
		return uint64(v), err
	case leafUShort:
		v, err := r.U16()
		return uint64(v), err
	case leafLong:
		v, err := r.I32()
		return uint64(v), err
	case leafULong:
		v, err := r.U32()
		return uint64(v), err
	case leafQuadword, leafUQuadword:
		return r.U64()
	}
	return 0, ErrInvalidNumeric
}

// SkipPadding skips LF_PAD bytes (0xF0-0xFF) between field list members.
func (r *Reader) SkipPadding() {
	for r.pos < len(r.buf) && r.buf[r.pos] >= 0xf0 {
		n := int(r.buf[r.pos] & 0x0f)
		if n == 0 {
			n = 1
		}
		r.pos += n
	}
}

// Sub returns a reader over the next n bytes and advances past them.
func (r *Reader) Sub(n int) (*Reader, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	return NewReader(b), nil
}

// Rest returns the unread tail of the buffer.
func (r *Reader) Rest() []byte {
	if r.pos >= len(r.buf) {
		return nil
	}
	return r.buf[r.pos:]
}
