package tpi

import (
	"fmt"

	"github.com/skdltmxn/dbgsym/internal/stream"
)

// FieldList is the decoded content of one LF_FIELDLIST record, with
// continuations left for the caller to follow via Continuation.
type FieldList struct {
	Bases        []BaseClass
	VirtualBases []VirtualBaseClass
	Members      []Member
	Static       []StaticMember
	Enumerates   []Enumerate
	Nested       []NestedType
	HasVFuncTab  bool
	Continuation TypeIndex // 0 when absent
}

// BaseClass is LF_BCLASS: a non-virtual base at a fixed offset.
type BaseClass struct {
	Attributes MemberAttributes
	Type       TypeIndex
	Offset     uint64
}

// VirtualBaseClass is LF_VBCLASS (direct) or LF_IVBCLASS (indirect).
type VirtualBaseClass struct {
	Attributes   MemberAttributes
	Type         TypeIndex
	VBPtrType    TypeIndex
	VBPtrOffset  int64  // offset of the vbptr within the derived object
	VBTableIndex uint64 // slot in the vbtable
	Indirect     bool
}

// Member is LF_MEMBER.
type Member struct {
	Attributes MemberAttributes
	Type       TypeIndex
	Offset     uint64
	Name       string
}

// StaticMember is LF_STMEMBER.
type StaticMember struct {
	Attributes MemberAttributes
	Type       TypeIndex
	Name       string
}

// Enumerate is LF_ENUMERATE.
type Enumerate struct {
	Attributes MemberAttributes
	Value      uint64
	Name       string
}

// NestedType is LF_NESTTYPE or LF_NESTTYPEEX.
type NestedType struct {
	Type TypeIndex
	Name string
}

// ParseFieldList decodes the members of an LF_FIELDLIST record.
// Method entries are skipped; they carry no layout information.
func ParseFieldList(data []byte) (*FieldList, error) {
	r := stream.NewReader(data)
	fl := &FieldList{}

	for r.Remaining() > 0 {
		r.SkipPadding()
		if r.Remaining() == 0 {
			break
		}
		start := r.Offset()
		k, err := r.U16()
		if err != nil {
			return nil, err
		}
		if err := fl.parseMember(r, Kind(k)); err != nil {
			return nil, fmt.Errorf("tpi: field list member %#x at %d: %w", k, start, err)
		}
	}
	return fl, nil
}

func (fl *FieldList) parseMember(r *stream.Reader, kind Kind) error {
	d := stream.DecoderFor(r)

	switch kind {
	case LF_BCLASS, LF_BINTERFACE:
		fl.Bases = append(fl.Bases, BaseClass{
			Attributes: MemberAttributes(d.U16()),
			Type:       TypeIndex(d.U32()),
			Offset:     d.Numeric(),
		})

	case LF_VBCLASS, LF_IVBCLASS:
		vb := VirtualBaseClass{
			Attributes: MemberAttributes(d.U16()),
			Type:       TypeIndex(d.U32()),
			VBPtrType:  TypeIndex(d.U32()),
			Indirect:   kind == LF_IVBCLASS,
		}
		vb.VBPtrOffset = int64(d.Numeric())
		vb.VBTableIndex = d.Numeric()
		fl.VirtualBases = append(fl.VirtualBases, vb)

	case LF_MEMBER:
		m := Member{
			Attributes: MemberAttributes(d.U16()),
			Type:       TypeIndex(d.U32()),
			Offset:     d.Numeric(),
		}
		m.Name = d.CString()
		fl.Members = append(fl.Members, m)

	case LF_STMEMBER:
		m := StaticMember{Attributes: MemberAttributes(d.U16()), Type: TypeIndex(d.U32())}
		m.Name = d.CString()
		fl.Static = append(fl.Static, m)

	case LF_ENUMERATE:
		e := Enumerate{Attributes: MemberAttributes(d.U16()), Value: d.Numeric()}
		e.Name = d.CString()
		fl.Enumerates = append(fl.Enumerates, e)

	case LF_METHOD:
		d.U16()
		d.U32()
		d.CString()

	case LF_ONEMETHOD:
		attr := MemberAttributes(d.U16())
		d.U32()
		if attr.IsIntroVirtual() {
			d.U32()
		}
		d.CString()

	case LF_NESTTYPE, LF_NESTTYPEEX:
		d.U16()
		n := NestedType{Type: TypeIndex(d.U32())}
		n.Name = d.CString()
		fl.Nested = append(fl.Nested, n)

	case LF_VFUNCTAB:
		d.U16()
		d.U32()
		fl.HasVFuncTab = true

	case LF_FRIENDCLS:
		d.U16()
		d.U32()

	case LF_FRIENDFCN:
		d.U16()
		d.U32()
		d.CString()

	case LF_VFUNCOFF:
		d.U16()
		d.U32()
		d.U32()

	case LF_INDEX:
		d.U16()
		fl.Continuation = TypeIndex(d.U32())

	default:
		return fmt.Errorf("%w: %#x", ErrUnexpectedKind, uint16(kind))
	}
	return d.Err()
}
