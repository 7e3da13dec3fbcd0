package stream

// Decoder reads a run of fixed fields and keeps the first error, so record
// parsers can check once at the end.
type Decoder struct {
	r   *Reader
	err error
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{r: NewReader(buf)}
}

// DecoderFor returns a Decoder sharing r's cursor.
func DecoderFor(r *Reader) *Decoder {
	return &Decoder{r: r}
}

// Err returns the first error encountered.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) Reader() *Reader { return d.r }

func (d *Decoder) U8() uint8 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.U8()
	d.err = err
	return v
}

func (d *Decoder) U16() uint16 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.U16()
	d.err = err
	return v
}

func (d *Decoder) U32() uint32 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.U32()
	d.err = err
	return v
}

func (d *Decoder) U64() uint64 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.U64()
	d.err = err
	return v
}

func (d *Decoder) I32() int32 { return int32(d.U32()) }

func (d *Decoder) Numeric() uint64 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.Numeric()
	d.err = err
	return v
}

// CString reads a NUL-terminated name. A name cut off by the end of the
// record is returned as is.
func (d *Decoder) CString() string {
	if d.err != nil {
		return ""
	}
	s, err := d.r.CString()
	if err != nil {
		s = string(d.r.Rest())
		d.r.pos = len(d.r.buf)
	}
	return s
}

func (d *Decoder) Skip(n int) {
	if d.err == nil {
		d.err = d.r.Skip(n)
	}
}
