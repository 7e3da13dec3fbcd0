// Package tpi parses the TPI (type information) stream of a PDB.
package tpi

// TypeIndex refers to a type record. Indices below FirstUserTypeIndex
// encode primitive types directly.
type TypeIndex uint32

const FirstUserTypeIndex TypeIndex = 0x1000

func (ti TypeIndex) IsSimple() bool { return ti < FirstUserTypeIndex }

func (ti TypeIndex) SimpleKind() SimpleKind { return SimpleKind(ti & 0xff) }

func (ti TypeIndex) SimpleMode() SimpleMode { return SimpleMode((ti >> 8) & 0x0f) }

// SimpleKind is the primitive part of a simple type index.
type SimpleKind uint8

const (
	SimpleNone          SimpleKind = 0x00
	SimpleVoid          SimpleKind = 0x03
	SimpleHResult       SimpleKind = 0x08
	SimpleSignedChar    SimpleKind = 0x10
	SimpleUnsignedChar  SimpleKind = 0x20
	SimpleNarrowChar    SimpleKind = 0x70
	SimpleWideChar      SimpleKind = 0x71
	SimpleChar16        SimpleKind = 0x7a
	SimpleChar32        SimpleKind = 0x7b
	SimpleChar8         SimpleKind = 0x7c
	SimpleSByte         SimpleKind = 0x68
	SimpleByte          SimpleKind = 0x69
	SimpleInt16Short    SimpleKind = 0x11
	SimpleUInt16Short   SimpleKind = 0x21
	SimpleInt16         SimpleKind = 0x72
	SimpleUInt16        SimpleKind = 0x73
	SimpleInt32Long     SimpleKind = 0x12
	SimpleUInt32Long    SimpleKind = 0x22
	SimpleInt32         SimpleKind = 0x74
	SimpleUInt32        SimpleKind = 0x75
	SimpleInt64Quad     SimpleKind = 0x13
	SimpleUInt64Quad    SimpleKind = 0x23
	SimpleInt64         SimpleKind = 0x76
	SimpleUInt64        SimpleKind = 0x77
	SimpleInt128Oct     SimpleKind = 0x14
	SimpleUInt128Oct    SimpleKind = 0x24
	SimpleInt128        SimpleKind = 0x78
	SimpleUInt128       SimpleKind = 0x79
	SimpleFloat16       SimpleKind = 0x46
	SimpleFloat32       SimpleKind = 0x40
	SimpleFloat64       SimpleKind = 0x41
	SimpleFloat80       SimpleKind = 0x42
	SimpleFloat128      SimpleKind = 0x43
	SimpleBool8         SimpleKind = 0x30
	SimpleBool16        SimpleKind = 0x31
	SimpleBool32        SimpleKind = 0x32
	SimpleBool64        SimpleKind = 0x33
)

// SimpleMode is the pointer mode of a simple type index.
type SimpleMode uint8

const (
	SimpleDirect         SimpleMode = 0x00
	SimpleNearPointer    SimpleMode = 0x01
	SimpleNearPointer32  SimpleMode = 0x04
	SimpleNearPointer64  SimpleMode = 0x06
	SimpleNearPointer128 SimpleMode = 0x07
)

// Kind is a leaf record kind (LF_*).
type Kind uint16

const (
	LF_VTSHAPE    Kind = 0x000a
	LF_MODIFIER   Kind = 0x1001
	LF_POINTER    Kind = 0x1002
	LF_PROCEDURE  Kind = 0x1008
	LF_MFUNCTION  Kind = 0x1009
	LF_ARGLIST    Kind = 0x1201
	LF_FIELDLIST  Kind = 0x1203
	LF_BITFIELD   Kind = 0x1205
	LF_METHODLIST Kind = 0x1206

	LF_BCLASS    Kind = 0x1400
	LF_VBCLASS   Kind = 0x1401
	LF_IVBCLASS  Kind = 0x1402
	LF_INDEX     Kind = 0x1404
	LF_VFUNCTAB  Kind = 0x1409
	LF_FRIENDCLS Kind = 0x140a
	LF_VFUNCOFF  Kind = 0x140c

	LF_ENUMERATE  Kind = 0x1502
	LF_ARRAY      Kind = 0x1503
	LF_CLASS      Kind = 0x1504
	LF_STRUCTURE  Kind = 0x1505
	LF_UNION      Kind = 0x1506
	LF_ENUM       Kind = 0x1507
	LF_FRIENDFCN  Kind = 0x150c
	LF_MEMBER     Kind = 0x150d
	LF_STMEMBER   Kind = 0x150e
	LF_METHOD     Kind = 0x150f
	LF_NESTTYPE   Kind = 0x1510
	LF_ONEMETHOD  Kind = 0x1511
	LF_NESTTYPEEX Kind = 0x1512
	LF_INTERFACE  Kind = 0x1519
	LF_BINTERFACE Kind = 0x151a
)

func (k Kind) String() string {
	switch k {
	case LF_MODIFIER:
		return "LF_MODIFIER"
	case LF_POINTER:
		return "LF_POINTER"
	case LF_PROCEDURE:
		return "LF_PROCEDURE"
	case LF_MFUNCTION:
		return "LF_MFUNCTION"
	case LF_ARGLIST:
		return "LF_ARGLIST"
	case LF_FIELDLIST:
		return "LF_FIELDLIST"
	case LF_BITFIELD:
		return "LF_BITFIELD"
	case LF_ARRAY:
		return "LF_ARRAY"
	case LF_CLASS:
		return "LF_CLASS"
	case LF_STRUCTURE:
		return "LF_STRUCTURE"
	case LF_INTERFACE:
		return "LF_INTERFACE"
	case LF_UNION:
		return "LF_UNION"
	case LF_ENUM:
		return "LF_ENUM"
	case LF_VTSHAPE:
		return "LF_VTSHAPE"
	}
	return "LF_UNKNOWN"
}

// PointerAttributes packs pointer kind, mode and size.
type PointerAttributes uint32

func (pa PointerAttributes) Mode() PointerMode { return PointerMode((pa >> 5) & 0x07) }
func (pa PointerAttributes) Size() uint8       { return uint8((pa >> 13) & 0x3f) }
func (pa PointerAttributes) IsConst() bool     { return pa&0x400 != 0 }

// PointerMode distinguishes pointers, references and member pointers.
type PointerMode uint8

const (
	PointerModePointer         PointerMode = 0x00
	PointerModeLValueRef       PointerMode = 0x01
	PointerModeDataMember      PointerMode = 0x02
	PointerModeMemberFunction  PointerMode = 0x03
	PointerModeRValueRef       PointerMode = 0x04
)

// ClassProperties is the property bitfield shared by class, union and enum records.
type ClassProperties uint16

func (cp ClassProperties) IsForwardRef() bool  { return cp&0x0080 != 0 }
func (cp ClassProperties) HasUniqueName() bool { return cp&0x0200 != 0 }

// MemberAttributes is the attribute word of field list members.
type MemberAttributes uint16

func (ma MemberAttributes) Access() uint8 { return uint8(ma & 0x03) }

// MethodKind returns the mprop bits (vanilla, virtual, static, intro...).
func (ma MemberAttributes) MethodKind() uint8 { return uint8((ma >> 2) & 0x07) }

// IsIntroVirtual reports whether a one-method record carries a vtable offset.
func (ma MemberAttributes) IsIntroVirtual() bool {
	k := ma.MethodKind()
	return k == 4 || k == 6
}

// ModifierOptions flags const/volatile/unaligned.
type ModifierOptions uint16

func (mo ModifierOptions) IsConst() bool    { return mo&0x01 != 0 }
func (mo ModifierOptions) IsVolatile() bool { return mo&0x02 != 0 }
