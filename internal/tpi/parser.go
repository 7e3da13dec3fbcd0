package tpi

import (
	"errors"
	"fmt"
	"sync"

	"github.com/skdltmxn/dbgsym/internal/stream"
)

const (
	TPIVersionV70 uint32 = 19990903
	TPIVersionV80 uint32 = 20040203
)

const HeaderSize = 56

var (
	ErrInvalidHeader       = errors.New("tpi: invalid TPI header")
	ErrUnsupportedVersion  = errors.New("tpi: unsupported TPI version")
	ErrTypeIndexOutOfRange = errors.New("tpi: type index out of range")
	ErrInvalidTypeRecord   = errors.New("tpi: invalid type record")
	ErrUnexpectedKind      = errors.New("tpi: unexpected record kind")
)

// Header is the fixed part of a TPI or IPI stream. Only the fields needed
// to walk the records are kept; hash buffers are not used.
type Header struct {
	Version         uint32
	HeaderSize      uint32
	TypeIndexBegin  TypeIndex
	TypeIndexEnd    TypeIndex
	TypeRecordBytes uint32
}

func (h *Header) TypeCount() uint32 { return uint32(h.TypeIndexEnd - h.TypeIndexBegin) }

// Stream is a parsed TPI stream with random access by type index.
type Stream struct {
	Header Header

	records []byte
	offsets []uint32 // indexed by ti - TypeIndexBegin

	cache sync.Map // TypeIndex -> *TypeRecord
}

// ParseStream parses a TPI stream and indexes its records.
func ParseStream(data []byte) (*Stream, error) {
	if len(data) < HeaderSize {
		return nil, ErrInvalidHeader
	}
	d := stream.NewDecoder(data)
	s := &Stream{}
	s.Header.Version = d.U32()
	s.Header.HeaderSize = d.U32()
	s.Header.TypeIndexBegin = TypeIndex(d.U32())
	s.Header.TypeIndexEnd = TypeIndex(d.U32())
	s.Header.TypeRecordBytes = d.U32()
	if err := d.Err(); err != nil {
		return nil, err
	}
	if s.Header.Version != TPIVersionV80 && s.Header.Version != TPIVersionV70 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, s.Header.Version)
	}
	if s.Header.TypeIndexEnd < s.Header.TypeIndexBegin {
		return nil, ErrInvalidHeader
	}

	start := int(s.Header.HeaderSize)
	end := start + int(s.Header.TypeRecordBytes)
	if end > len(data) {
		return nil, fmt.Errorf("tpi: truncated stream: expected %d bytes, got %d", end, len(data))
	}
	s.records = data[start:end]

	if err := s.buildOffsetIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stream) buildOffsetIndex() error {
	r := stream.NewReader(s.records)
	s.offsets = make([]uint32, 0, s.Header.TypeCount())
	for r.Remaining() > 0 && len(s.offsets) < int(s.Header.TypeCount()) {
		s.offsets = append(s.offsets, uint32(r.Offset()))
		n, err := r.U16()
		if err != nil {
			return err
		}
		if err := r.Skip(int(n)); err != nil {
			return fmt.Errorf("%w: record %#x overruns stream", ErrInvalidTypeRecord,
				s.Header.TypeIndexBegin+TypeIndex(len(s.offsets)-1))
		}
	}
	return nil
}

// TypeRecord is one raw leaf record.
type TypeRecord struct {
	Kind Kind
	Data []byte // without length and kind
}

// Record returns the raw record for ti. Simple indices have no record.
func (s *Stream) Record(ti TypeIndex) (*TypeRecord, error) {
	if ti.IsSimple() {
		return nil, fmt.Errorf("%w: %#x is a simple type", ErrTypeIndexOutOfRange, ti)
	}
	if v, ok := s.cache.Load(ti); ok {
		return v.(*TypeRecord), nil
	}
	i := int(ti) - int(s.Header.TypeIndexBegin)
	if i < 0 || i >= len(s.offsets) {
		return nil, fmt.Errorf("%w: %#x", ErrTypeIndexOutOfRange, ti)
	}

	r := stream.NewReader(s.records[s.offsets[i]:])
	n, err := r.U16()
	if err != nil {
		return nil, err
	}
	if n < 2 {
		return nil, ErrInvalidTypeRecord
	}
	kind, err := r.U16()
	if err != nil {
		return nil, err
	}
	data, err := r.Bytes(int(n) - 2)
	if err != nil {
		return nil, err
	}

	rec := &TypeRecord{Kind: Kind(kind), Data: data}
	s.cache.Store(ti, rec)
	return rec, nil
}

func (s *Stream) TypeIndexBegin() TypeIndex { return s.Header.TypeIndexBegin }
func (s *Stream) TypeIndexEnd() TypeIndex   { return s.Header.TypeIndexEnd }

// ModifierRecord is LF_MODIFIER.
type ModifierRecord struct {
	ModifiedType TypeIndex
	Options      ModifierOptions
}

func ParseModifierRecord(data []byte) (*ModifierRecord, error) {
	d := stream.NewDecoder(data)
	rec := &ModifierRecord{
		ModifiedType: TypeIndex(d.U32()),
		Options:      ModifierOptions(d.U16()),
	}
	return rec, d.Err()
}

// PointerRecord is LF_POINTER.
type PointerRecord struct {
	ReferentType    TypeIndex
	Attributes      PointerAttributes
	ContainingClass TypeIndex // member pointers only
}

func ParsePointerRecord(data []byte) (*PointerRecord, error) {
	d := stream.NewDecoder(data)
	rec := &PointerRecord{
		ReferentType: TypeIndex(d.U32()),
		Attributes:   PointerAttributes(d.U32()),
	}
	if m := rec.Attributes.Mode(); m == PointerModeDataMember || m == PointerModeMemberFunction {
		rec.ContainingClass = TypeIndex(d.U32())
	}
	return rec, d.Err()
}

// ProcedureRecord is LF_PROCEDURE.
type ProcedureRecord struct {
	ReturnType     TypeIndex
	CallingConv    uint8
	ParameterCount uint16
	ArgumentList   TypeIndex
}

func ParseProcedureRecord(data []byte) (*ProcedureRecord, error) {
	d := stream.NewDecoder(data)
	rec := &ProcedureRecord{ReturnType: TypeIndex(d.U32()), CallingConv: d.U8()}
	d.U8()
	rec.ParameterCount = d.U16()
	rec.ArgumentList = TypeIndex(d.U32())
	return rec, d.Err()
}

// MFunctionRecord is LF_MFUNCTION.
type MFunctionRecord struct {
	ReturnType     TypeIndex
	ClassType      TypeIndex
	ThisType       TypeIndex
	CallingConv    uint8
	ParameterCount uint16
	ArgumentList   TypeIndex
	ThisAdjust     int32
}

func ParseMFunctionRecord(data []byte) (*MFunctionRecord, error) {
	d := stream.NewDecoder(data)
	rec := &MFunctionRecord{
		ReturnType:  TypeIndex(d.U32()),
		ClassType:   TypeIndex(d.U32()),
		ThisType:    TypeIndex(d.U32()),
		CallingConv: d.U8(),
	}
	d.U8()
	rec.ParameterCount = d.U16()
	rec.ArgumentList = TypeIndex(d.U32())
	rec.ThisAdjust = d.I32()
	return rec, d.Err()
}

// ArgListRecord is LF_ARGLIST.
type ArgListRecord struct {
	ArgTypes []TypeIndex
}

func ParseArgListRecord(data []byte) (*ArgListRecord, error) {
	d := stream.NewDecoder(data)
	n := d.U32()
	if d.Err() != nil || int(n)*4 > len(data)-4 {
		return nil, ErrInvalidTypeRecord
	}
	rec := &ArgListRecord{ArgTypes: make([]TypeIndex, n)}
	for i := range rec.ArgTypes {
		rec.ArgTypes[i] = TypeIndex(d.U32())
	}
	return rec, d.Err()
}

// ArrayRecord is LF_ARRAY. Size is the total size in bytes.
type ArrayRecord struct {
	ElementType TypeIndex
	IndexType   TypeIndex
	Size        uint64
	Name        string
}

func ParseArrayRecord(data []byte) (*ArrayRecord, error) {
	d := stream.NewDecoder(data)
	rec := &ArrayRecord{
		ElementType: TypeIndex(d.U32()),
		IndexType:   TypeIndex(d.U32()),
		Size:        d.Numeric(),
	}
	rec.Name = d.CString()
	return rec, d.Err()
}

// ClassRecord is LF_CLASS, LF_STRUCTURE or LF_INTERFACE.
type ClassRecord struct {
	MemberCount uint16
	Properties  ClassProperties
	FieldList   TypeIndex
	DerivedFrom TypeIndex
	VShape      TypeIndex
	Size        uint64
	Name        string
	UniqueName  string
}

func ParseClassRecord(data []byte) (*ClassRecord, error) {
	d := stream.NewDecoder(data)
	rec := &ClassRecord{
		MemberCount: d.U16(),
		Properties:  ClassProperties(d.U16()),
		FieldList:   TypeIndex(d.U32()),
		DerivedFrom: TypeIndex(d.U32()),
		VShape:      TypeIndex(d.U32()),
		Size:        d.Numeric(),
	}
	rec.Name = d.CString()
	if rec.Properties.HasUniqueName() {
		rec.UniqueName = d.CString()
	}
	return rec, d.Err()
}

// UnionRecord is LF_UNION.
type UnionRecord struct {
	MemberCount uint16
	Properties  ClassProperties
	FieldList   TypeIndex
	Size        uint64
	Name        string
	UniqueName  string
}

func ParseUnionRecord(data []byte) (*UnionRecord, error) {
	d := stream.NewDecoder(data)
	rec := &UnionRecord{
		MemberCount: d.U16(),
		Properties:  ClassProperties(d.U16()),
		FieldList:   TypeIndex(d.U32()),
		Size:        d.Numeric(),
	}
	rec.Name = d.CString()
	if rec.Properties.HasUniqueName() {
		rec.UniqueName = d.CString()
	}
	return rec, d.Err()
}

// EnumRecord is LF_ENUM.
type EnumRecord struct {
	MemberCount    uint16
	Properties     ClassProperties
	UnderlyingType TypeIndex
	FieldList      TypeIndex
	Name           string
	UniqueName     string
}

func ParseEnumRecord(data []byte) (*EnumRecord, error) {
	d := stream.NewDecoder(data)
	rec := &EnumRecord{
		MemberCount:    d.U16(),
		Properties:     ClassProperties(d.U16()),
		UnderlyingType: TypeIndex(d.U32()),
		FieldList:      TypeIndex(d.U32()),
	}
	rec.Name = d.CString()
	if rec.Properties.HasUniqueName() {
		rec.UniqueName = d.CString()
	}
	return rec, d.Err()
}

// BitFieldRecord is LF_BITFIELD.
type BitFieldRecord struct {
	Type     TypeIndex
	Length   uint8
	Position uint8
}

func ParseBitFieldRecord(data []byte) (*BitFieldRecord, error) {
	d := stream.NewDecoder(data)
	rec := &BitFieldRecord{Type: TypeIndex(d.U32()), Length: d.U8(), Position: d.U8()}
	return rec, d.Err()
}
