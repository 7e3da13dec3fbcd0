package symbols

import (
	"github.com/skdltmxn/dbgsym/internal/tpi"
)

// SymbolRecordKind is a CodeView symbol kind (S_*).
type SymbolRecordKind uint16

const (
	S_END                                  SymbolRecordKind = 0x0006
	S_FRAMEPROC                            SymbolRecordKind = 0x1012
	S_OBJNAME                              SymbolRecordKind = 0x1101
	S_BLOCK32                              SymbolRecordKind = 0x1103
	S_REGISTER                             SymbolRecordKind = 0x1106
	S_CONSTANT                             SymbolRecordKind = 0x1107
	S_UDT                                  SymbolRecordKind = 0x1108
	S_BPREL32                              SymbolRecordKind = 0x110b
	S_LDATA32                              SymbolRecordKind = 0x110c
	S_GDATA32                              SymbolRecordKind = 0x110d
	S_PUB32                                SymbolRecordKind = 0x110e
	S_LPROC32                              SymbolRecordKind = 0x110f
	S_GPROC32                              SymbolRecordKind = 0x1110
	S_REGREL32                             SymbolRecordKind = 0x1111
	S_LTHREAD32                            SymbolRecordKind = 0x1112
	S_GTHREAD32                            SymbolRecordKind = 0x1113
	S_PROCREF                              SymbolRecordKind = 0x1125
	S_LPROCREF                             SymbolRecordKind = 0x1127
	S_LOCAL                                SymbolRecordKind = 0x113e
	S_DEFRANGE_REGISTER                    SymbolRecordKind = 0x1141
	S_DEFRANGE_FRAMEPOINTER_REL            SymbolRecordKind = 0x1142
	S_DEFRANGE_SUBFIELD_REGISTER           SymbolRecordKind = 0x1143
	S_DEFRANGE_FRAMEPOINTER_REL_FULL_SCOPE SymbolRecordKind = 0x1144
	S_DEFRANGE_REGISTER_REL                SymbolRecordKind = 0x1145
	S_LPROC32_ID                           SymbolRecordKind = 0x1146
	S_GPROC32_ID                           SymbolRecordKind = 0x1147
	S_INLINESITE                           SymbolRecordKind = 0x114d
	S_INLINESITE_END                       SymbolRecordKind = 0x114e
	S_PROC_ID_END                          SymbolRecordKind = 0x114f
)

func (k SymbolRecordKind) IsProc() bool {
	switch k {
	case S_GPROC32, S_LPROC32, S_GPROC32_ID, S_LPROC32_ID:
		return true
	}
	return false
}

// OpensScope reports whether k is closed by a matching S_END.
func (k SymbolRecordKind) OpensScope() bool {
	return k.IsProc() || k == S_BLOCK32 || k == S_INLINESITE
}

func (k SymbolRecordKind) ClosesScope() bool {
	return k == S_END || k == S_PROC_ID_END || k == S_INLINESITE_END
}

func (k SymbolRecordKind) IsData() bool {
	switch k {
	case S_GDATA32, S_LDATA32, S_GTHREAD32, S_LTHREAD32:
		return true
	}
	return false
}

func (k SymbolRecordKind) IsDefRange() bool {
	return k >= S_DEFRANGE_REGISTER && k <= S_DEFRANGE_REGISTER_REL
}

type ProcFlags uint8

func (pf ProcFlags) HasFP() bool { return pf&0x01 != 0 }

type PublicSymFlags uint32

func (psf PublicSymFlags) IsCode() bool     { return psf&0x01 != 0 }
func (psf PublicSymFlags) IsFunction() bool { return psf&0x02 != 0 }

type LocalFlags uint16

func (lf LocalFlags) IsParameter() bool    { return lf&0x0001 != 0 }
func (lf LocalFlags) IsOptimizedOut() bool { return lf&0x0100 != 0 }

// SymbolRecord is one raw symbol record.
type SymbolRecord struct {
	Kind SymbolRecordKind
	Data []byte
}

// ProcSym is S_GPROC32, S_LPROC32 and their _ID forms.
type ProcSym struct {
	PtrParent    uint32
	PtrEnd       uint32
	PtrNext      uint32
	CodeSize     uint32
	DbgStart     uint32
	DbgEnd       uint32
	FunctionType tpi.TypeIndex
	CodeOffset   uint32
	Segment      uint16
	Flags        ProcFlags
	Name         string
}

// Contains reports whether seg:off falls inside the procedure body.
func (p *ProcSym) Contains(seg uint16, off uint32) bool {
	return p.Segment == seg && off >= p.CodeOffset && off-p.CodeOffset < p.CodeSize
}

// BlockSym is S_BLOCK32.
type BlockSym struct {
	PtrParent uint32
	PtrEnd    uint32
	CodeSize  uint32
	Offset    uint32
	Segment   uint16
	Name      string
}

func (b *BlockSym) Contains(seg uint16, off uint32) bool {
	return b.Segment == seg && off >= b.Offset && off-b.Offset < b.CodeSize
}

// DataSym is S_GDATA32, S_LDATA32 and the thread-local forms.
type DataSym struct {
	Type    tpi.TypeIndex
	Offset  uint32
	Segment uint16
	Name    string
}

// PublicSym32 is S_PUB32.
type PublicSym32 struct {
	Flags   PublicSymFlags
	Offset  uint32
	Segment uint16
	Name    string
}

// LocalSym is S_LOCAL. Its location follows in S_DEFRANGE_* records.
type LocalSym struct {
	Type  tpi.TypeIndex
	Flags LocalFlags
	Name  string
}

// RegisterSym is S_REGISTER: a variable living in one register.
type RegisterSym struct {
	Type     tpi.TypeIndex
	Register uint16
	Name     string
}

// RegRelSym is S_REGREL32.
type RegRelSym struct {
	Offset   int32
	Type     tpi.TypeIndex
	Register uint16
	Name     string
}

// BPRelSym is S_BPREL32.
type BPRelSym struct {
	Offset int32
	Type   tpi.TypeIndex
	Name   string
}

// FrameProcSym is S_FRAMEPROC.
type FrameProcSym struct {
	TotalFrameBytes   uint32
	PaddingFrameBytes uint32
	OffsetToPadding   uint32
	CalleeSaveBytes   uint32
	Flags             uint32
}

// UDTSym is S_UDT.
type UDTSym struct {
	Type tpi.TypeIndex
	Name string
}

// ConstantSym is S_CONSTANT.
type ConstantSym struct {
	Type  tpi.TypeIndex
	Value uint64
	Name  string
}

// AddrRange is the code range a def-range record applies to, minus gaps.
type AddrRange struct {
	Offset  uint32
	Section uint16
	Length  uint16
	Gaps    []AddrGap
}

// AddrGap is relative to AddrRange.Offset.
type AddrGap struct {
	Start  uint16
	Length uint16
}

// Contains reports whether seg:off is live within the range.
func (r *AddrRange) Contains(seg uint16, off uint32) bool {
	if r.Section != seg || off < r.Offset || off-r.Offset >= uint32(r.Length) {
		return false
	}
	rel := off - r.Offset
	for _, g := range r.Gaps {
		if rel >= uint32(g.Start) && rel-uint32(g.Start) < uint32(g.Length) {
			return false
		}
	}
	return true
}

// DefRange describes where an S_LOCAL lives over a code range.
// Kind selects which of the other fields are meaningful.
type DefRange struct {
	Kind      SymbolRecordKind
	Register  uint16 // S_DEFRANGE_REGISTER and the base of S_DEFRANGE_REGISTER_REL
	Offset    int32  // frame or base register relative offset
	FullScope bool
	Range     AddrRange
}

// Covers reports whether the def-range applies at seg:off.
func (d *DefRange) Covers(seg uint16, off uint32) bool {
	return d.FullScope || d.Range.Contains(seg, off)
}
