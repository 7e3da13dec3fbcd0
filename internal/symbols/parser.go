// Package symbols parses CodeView symbol records from module and global
// symbol streams.
package symbols

import (
	"errors"
	"fmt"
	"iter"

	"github.com/skdltmxn/dbgsym/internal/stream"
	"github.com/skdltmxn/dbgsym/internal/tpi"
)

var (
	ErrInvalidSymbolRecord = errors.New("symbols: invalid symbol record")
	ErrUnexpectedEnd       = errors.New("symbols: unexpected end of data")
	ErrUnexpectedKind      = errors.New("symbols: unexpected record kind")
)

// ParseSymbolRecord parses one record and returns it with the number of
// bytes consumed.
func ParseSymbolRecord(data []byte) (*SymbolRecord, int, error) {
	if len(data) < 4 {
		return nil, 0, ErrUnexpectedEnd
	}
	r := stream.NewReader(data)
	length, _ := r.U16()
	kind, _ := r.U16()

	total := int(length) + 2
	if length < 2 {
		return nil, 0, ErrInvalidSymbolRecord
	}
	if total > len(data) {
		return nil, 0, ErrUnexpectedEnd
	}
	return &SymbolRecord{Kind: SymbolRecordKind(kind), Data: data[4:total]}, total, nil
}

// SymbolIterator walks consecutive records. Offsets are relative to the
// start of the slice it was created with.
type SymbolIterator struct {
	data   []byte
	offset int
}

func NewSymbolIterator(data []byte) *SymbolIterator {
	return &SymbolIterator{data: data}
}

// NewSymbolIteratorAt starts at off, which module streams use to skip the
// leading signature.
func NewSymbolIteratorAt(data []byte, off int) *SymbolIterator {
	return &SymbolIterator{data: data, offset: off}
}

// Offset is the position of the record Next will return.
func (it *SymbolIterator) Offset() int { return it.offset }

// Seek moves to an absolute offset, as given by PtrEnd fields.
func (it *SymbolIterator) Seek(off int) { it.offset = off }

// Next returns the next record, or nil at the end.
func (it *SymbolIterator) Next() (*SymbolRecord, error) {
	if it.offset >= len(it.data) {
		return nil, nil
	}
	rec, size, err := ParseSymbolRecord(it.data[it.offset:])
	if err != nil {
		return nil, fmt.Errorf("%w at offset %d", err, it.offset)
	}
	it.offset += size
	return rec, nil
}

// All yields every record with its offset and stops at the first error.
func All(data []byte, start int) iter.Seq2[int, *SymbolRecord] {
	return func(yield func(int, *SymbolRecord) bool) {
		it := NewSymbolIteratorAt(data, start)
		for {
			off := it.Offset()
			rec, err := it.Next()
			if err != nil || rec == nil {
				return
			}
			if !yield(off, rec) {
				return
			}
		}
	}
}

func ParseProcSym(data []byte) (*ProcSym, error) {
	d := stream.NewDecoder(data)
	p := &ProcSym{
		PtrParent:    d.U32(),
		PtrEnd:       d.U32(),
		PtrNext:      d.U32(),
		CodeSize:     d.U32(),
		DbgStart:     d.U32(),
		DbgEnd:       d.U32(),
		FunctionType: tpi.TypeIndex(d.U32()),
		CodeOffset:   d.U32(),
		Segment:      d.U16(),
		Flags:        ProcFlags(d.U8()),
	}
	p.Name = d.CString()
	return p, d.Err()
}

func ParseBlockSym(data []byte) (*BlockSym, error) {
	d := stream.NewDecoder(data)
	b := &BlockSym{
		PtrParent: d.U32(),
		PtrEnd:    d.U32(),
		CodeSize:  d.U32(),
		Offset:    d.U32(),
		Segment:   d.U16(),
	}
	b.Name = d.CString()
	return b, d.Err()
}

func ParseDataSym(data []byte) (*DataSym, error) {
	d := stream.NewDecoder(data)
	s := &DataSym{Type: tpi.TypeIndex(d.U32()), Offset: d.U32(), Segment: d.U16()}
	s.Name = d.CString()
	return s, d.Err()
}

func ParsePublicSym32(data []byte) (*PublicSym32, error) {
	d := stream.NewDecoder(data)
	s := &PublicSym32{Flags: PublicSymFlags(d.U32()), Offset: d.U32(), Segment: d.U16()}
	s.Name = d.CString()
	return s, d.Err()
}

func ParseLocalSym(data []byte) (*LocalSym, error) {
	d := stream.NewDecoder(data)
	s := &LocalSym{Type: tpi.TypeIndex(d.U32()), Flags: LocalFlags(d.U16())}
	s.Name = d.CString()
	return s, d.Err()
}

func ParseRegisterSym(data []byte) (*RegisterSym, error) {
	d := stream.NewDecoder(data)
	s := &RegisterSym{Type: tpi.TypeIndex(d.U32()), Register: d.U16()}
	s.Name = d.CString()
	return s, d.Err()
}

func ParseRegRelSym(data []byte) (*RegRelSym, error) {
	d := stream.NewDecoder(data)
	s := &RegRelSym{Offset: d.I32(), Type: tpi.TypeIndex(d.U32()), Register: d.U16()}
	s.Name = d.CString()
	return s, d.Err()
}

func ParseBPRelSym(data []byte) (*BPRelSym, error) {
	d := stream.NewDecoder(data)
	s := &BPRelSym{Offset: d.I32(), Type: tpi.TypeIndex(d.U32())}
	s.Name = d.CString()
	return s, d.Err()
}

func ParseFrameProcSym(data []byte) (*FrameProcSym, error) {
	d := stream.NewDecoder(data)
	s := &FrameProcSym{
		TotalFrameBytes:   d.U32(),
		PaddingFrameBytes: d.U32(),
		OffsetToPadding:   d.U32(),
		CalleeSaveBytes:   d.U32(),
	}
	d.Skip(8) // exception handler offset and section
	s.Flags = d.U32()
	return s, d.Err()
}

func ParseUDTSym(data []byte) (*UDTSym, error) {
	d := stream.NewDecoder(data)
	s := &UDTSym{Type: tpi.TypeIndex(d.U32())}
	s.Name = d.CString()
	return s, d.Err()
}

func ParseConstantSym(data []byte) (*ConstantSym, error) {
	d := stream.NewDecoder(data)
	s := &ConstantSym{Type: tpi.TypeIndex(d.U32()), Value: d.Numeric()}
	s.Name = d.CString()
	return s, d.Err()
}

// ParseDefRange parses any of the S_DEFRANGE_* records this package
// understands.
func ParseDefRange(kind SymbolRecordKind, data []byte) (*DefRange, error) {
	d := stream.NewDecoder(data)
	dr := &DefRange{Kind: kind}
	switch kind {
	case S_DEFRANGE_REGISTER:
		dr.Register = d.U16()
		d.U16()
	case S_DEFRANGE_FRAMEPOINTER_REL:
		dr.Offset = d.I32()
	case S_DEFRANGE_FRAMEPOINTER_REL_FULL_SCOPE:
		dr.Offset = d.I32()
		dr.FullScope = true
		return dr, d.Err()
	case S_DEFRANGE_SUBFIELD_REGISTER:
		dr.Register = d.U16()
		d.U16()
		dr.Offset = int32(d.U32() & 0xfff)
	case S_DEFRANGE_REGISTER_REL:
		dr.Register = d.U16()
		d.U16()
		dr.Offset = d.I32()
	default:
		return nil, fmt.Errorf("%w: %#x", ErrUnexpectedKind, uint16(kind))
	}
	dr.Range = AddrRange{Offset: d.U32(), Section: d.U16(), Length: d.U16()}
	for d.Err() == nil && d.Reader().Remaining() >= 4 {
		dr.Range.Gaps = append(dr.Range.Gaps, AddrGap{Start: d.U16(), Length: d.U16()})
	}
	return dr, d.Err()
}

// SymbolName returns the name carried by common named records.
func SymbolName(rec *SymbolRecord) string {
	switch {
	case rec.Kind == S_PUB32:
		if s, err := ParsePublicSym32(rec.Data); err == nil {
			return s.Name
		}
	case rec.Kind.IsData():
		if s, err := ParseDataSym(rec.Data); err == nil {
			return s.Name
		}
	case rec.Kind.IsProc():
		if s, err := ParseProcSym(rec.Data); err == nil {
			return s.Name
		}
	case rec.Kind == S_UDT:
		if s, err := ParseUDTSym(rec.Data); err == nil {
			return s.Name
		}
	case rec.Kind == S_CONSTANT:
		if s, err := ParseConstantSym(rec.Data); err == nil {
			return s.Name
		}
	}
	return ""
}
