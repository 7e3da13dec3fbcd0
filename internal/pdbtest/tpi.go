package pdbtest

// Leaf kinds used by the builders.
const (
	lfModifier  = 0x1001
	lfPointer   = 0x1002
	lfProcedure = 0x1008
	lfArgList   = 0x1201
	lfFieldList = 0x1203
	lfBitfield  = 0x1205
	lfBClass    = 0x1400
	lfVBClass   = 0x1401
	lfIVBClass  = 0x1402
	lfIndex     = 0x1404
	lfVFuncTab  = 0x1409
	lfEnumerate = 0x1502
	lfArray     = 0x1503
	lfClass     = 0x1504
	lfStructure = 0x1505
	lfUnion     = 0x1506
	lfEnum      = 0x1507
	lfMember    = 0x150d
	lfSTMember  = 0x150e
	lfOneMethod = 0x1511
)

// Simple type indices.
const (
	TVoid    = 0x0003
	TChar    = 0x0070
	TWChar   = 0x0071
	TUChar   = 0x0020
	TBool    = 0x0030
	TInt16   = 0x0072
	TUInt16  = 0x0073
	TInt32   = 0x0074
	TUInt32  = 0x0075
	TInt64   = 0x0076
	TUInt64  = 0x0077
	TLong    = 0x0012
	TULong   = 0x0022
	TFloat   = 0x0040
	TDouble  = 0x0041
	TFloat80 = 0x0042
	TInt128  = 0x0078
	TUInt128 = 0x0079
)

// TPI accumulates type records; indices start at 0x1000.
type TPI struct {
	recs [][]byte
}

// Add appends a raw record and returns its type index.
func (t *TPI) Add(kind uint16, payload []byte) uint32 {
	rec := new(Buf).U16(uint16(len(payload) + 2)).U16(kind).Raw(payload)
	t.recs = append(t.recs, rec.Bytes())
	return 0x1000 + uint32(len(t.recs)-1)
}

// Next returns the index the next Add will return.
func (t *TPI) Next() uint32 { return 0x1000 + uint32(len(t.recs)) }

// Bytes encodes the stream with a V80 header.
func (t *TPI) Bytes() []byte {
	var body []byte
	for _, r := range t.recs {
		body = append(body, r...)
	}
	b := new(Buf).U32(20040203).U32(56).U32(0x1000).U32(t.Next()).U32(uint32(len(body)))
	b.U16(0xffff).U16(0xffff).U32(4).U32(0)
	for range 6 {
		b.U32(0)
	}
	return b.Raw(body).Bytes()
}

// FieldList builds an LF_FIELDLIST payload.
type FieldList struct {
	Buf
}

func (f *FieldList) Member(name string, typ uint32, off int64) *FieldList {
	f.U16(lfMember).U16(3).U32(typ).Numeric(off).CStr(name).Pad()
	return f
}

func (f *FieldList) Static(name string, typ uint32) *FieldList {
	f.U16(lfSTMember).U16(3).U32(typ).CStr(name).Pad()
	return f
}

func (f *FieldList) Base(typ uint32, off int64) *FieldList {
	f.U16(lfBClass).U16(3).U32(typ).Numeric(off).Pad()
	return f
}

// VirtualBase adds LF_VBCLASS (or LF_IVBCLASS when indirect).
func (f *FieldList) VirtualBase(typ, vbptrType uint32, vbptrOff int64, vbIndex int64, indirect bool) *FieldList {
	kind := uint16(lfVBClass)
	if indirect {
		kind = lfIVBClass
	}
	f.U16(kind).U16(3).U32(typ).U32(vbptrType).Numeric(vbptrOff).Numeric(vbIndex).Pad()
	return f
}

func (f *FieldList) Enumerate(name string, v int64) *FieldList {
	f.U16(lfEnumerate).U16(3).Numeric(v).CStr(name).Pad()
	return f
}

// IntroVirtual adds an introducing virtual LF_ONEMETHOD.
func (f *FieldList) IntroVirtual(name string, typ uint32, vtOff uint32) *FieldList {
	f.U16(lfOneMethod).U16(3 | 4<<2).U32(typ).U32(vtOff).CStr(name).Pad()
	return f
}

func (f *FieldList) VFuncTab(typ uint32) *FieldList {
	f.U16(lfVFuncTab).U16(0).U32(typ)
	return f
}

func (f *FieldList) Continue(ti uint32) *FieldList {
	f.U16(lfIndex).U16(0).U32(ti)
	return f
}

func (t *TPI) FieldList(f *FieldList) uint32 { return t.Add(lfFieldList, f.Bytes()) }

// Struct adds an LF_STRUCTURE; pass fieldList 0 and fwd true for a forward reference.
func (t *TPI) Struct(name string, fieldList uint32, size int64, fwd bool) uint32 {
	return t.class(lfStructure, name, fieldList, size, fwd)
}

func (t *TPI) Class(name string, fieldList uint32, size int64) uint32 {
	return t.class(lfClass, name, fieldList, size, false)
}

func (t *TPI) class(kind uint16, name string, fieldList uint32, size int64, fwd bool) uint32 {
	var props uint16
	if fwd {
		props = 0x80
	}
	b := new(Buf).U16(0).U16(props).U32(fieldList).U32(0).U32(0).Numeric(size).CStr(name)
	return t.Add(kind, b.Bytes())
}

func (t *TPI) Union(name string, fieldList uint32, size int64) uint32 {
	b := new(Buf).U16(0).U16(0).U32(fieldList).Numeric(size).CStr(name)
	return t.Add(lfUnion, b.Bytes())
}

func (t *TPI) Enum(name string, underlying, fieldList uint32) uint32 {
	b := new(Buf).U16(0).U16(0).U32(underlying).U32(fieldList).CStr(name)
	return t.Add(lfEnum, b.Bytes())
}

// Pointer adds a plain 32 or 64 bit pointer.
func (t *TPI) Pointer(referent uint32, size uint8) uint32 {
	kind := uint32(0x0c)
	if size == 4 {
		kind = 0x0a
	}
	attrs := kind | uint32(size)<<13
	return t.Add(lfPointer, new(Buf).U32(referent).U32(attrs).Bytes())
}

// Reference adds an lvalue reference.
func (t *TPI) Reference(referent uint32, size uint8) uint32 {
	attrs := uint32(0x0c) | 1<<5 | uint32(size)<<13
	return t.Add(lfPointer, new(Buf).U32(referent).U32(attrs).Bytes())
}

func (t *TPI) Array(elem uint32, total int64) uint32 {
	b := new(Buf).U32(elem).U32(TUInt64).Numeric(total).CStr("")
	return t.Add(lfArray, b.Bytes())
}

func (t *TPI) Const(typ uint32) uint32 {
	return t.Add(lfModifier, new(Buf).U32(typ).U16(1).Bytes())
}

func (t *TPI) Bitfield(typ uint32, length, pos uint8) uint32 {
	return t.Add(lfBitfield, new(Buf).U32(typ).U8(length).U8(pos).Bytes())
}

func (t *TPI) ArgList(args ...uint32) uint32 {
	b := new(Buf).U32(uint32(len(args)))
	for _, a := range args {
		b.U32(a)
	}
	return t.Add(lfArgList, b.Bytes())
}

func (t *TPI) Procedure(ret, argList uint32, nparams uint16) uint32 {
	b := new(Buf).U32(ret).U8(0).U8(0).U16(nparams).U32(argList)
	return t.Add(lfProcedure, b.Bytes())
}
