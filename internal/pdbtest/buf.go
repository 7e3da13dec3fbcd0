package pdbtest

import "encoding/binary"

// Buf is a little-endian byte builder.
type Buf struct {
	b []byte
}

func (b *Buf) Bytes() []byte { return b.b }

func (b *Buf) Len() int { return len(b.b) }

func (b *Buf) U8(v uint8) *Buf {
	b.b = append(b.b, v)
	return b
}

func (b *Buf) U16(v uint16) *Buf {
	b.b = binary.LittleEndian.AppendUint16(b.b, v)
	return b
}

func (b *Buf) U32(v uint32) *Buf {
	b.b = binary.LittleEndian.AppendUint32(b.b, v)
	return b
}

func (b *Buf) U64(v uint64) *Buf {
	b.b = binary.LittleEndian.AppendUint64(b.b, v)
	return b
}

// Numeric appends a CodeView numeric leaf.
func (b *Buf) Numeric(v int64) *Buf {
	switch {
	case v >= 0 && v < 0x8000:
		return b.U16(uint16(v))
	case v >= -0x8000 && v < 0x8000:
		return b.U16(0x8001).U16(uint16(v))
	case v >= -0x80000000 && v < 0x80000000:
		return b.U16(0x8003).U32(uint32(v))
	}
	return b.U16(0x8009).U64(uint64(v))
}

func (b *Buf) CStr(s string) *Buf {
	b.b = append(b.b, s...)
	b.b = append(b.b, 0)
	return b
}

func (b *Buf) Raw(p []byte) *Buf {
	b.b = append(b.b, p...)
	return b
}

// Pad appends LF_PAD bytes up to a 4-byte boundary.
func (b *Buf) Pad() *Buf {
	for n := (4 - len(b.b)%4) % 4; n > 0; n-- {
		b.b = append(b.b, byte(0xf0+n))
	}
	return b
}

// Align appends zero bytes up to a multiple of n.
func (b *Buf) Align(n int) *Buf {
	for len(b.b)%n != 0 {
		b.b = append(b.b, 0)
	}
	return b
}
