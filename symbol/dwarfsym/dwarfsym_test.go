package dwarfsym_test

import (
	"debug/dwarf"
	"debug/elf"
	"encoding/binary"
	"slices"
	"testing"

	"github.com/go-delve/delve/pkg/dwarf/frame"
	"github.com/go-delve/delve/pkg/dwarf/regnum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/internal/dwarftest"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/symbol"
	"github.com/skdltmxn/dbgsym/symbol/dwarfsym"
)

const (
	linkBase = 0x400000
	loadBase = 0x1400000
	delta    = loadBase - linkBase
)

type fixture struct {
	p *dwarfsym.Provider
	m *symbol.Module

	intT, charT, ucharT, ldT, boolT, u64T  *dwarftest.DIE
	point, a, b, c, cptr, v, d, f, color   *dwarftest.DIE
	box, opaque, s, alias, constInt, intPP *dwarftest.DIE
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{}
	u := dwarftest.NewUnit("app.cpp")
	cu := u.Root

	fx.intT = cu.BaseType("int", dwarftest.EncSigned, 4)
	fx.charT = cu.BaseType("char", dwarftest.EncSignedChar, 1)
	fx.ucharT = cu.BaseType("unsigned char", dwarftest.EncUnsignedChar, 1)
	fx.ldT = cu.BaseType("long double", dwarftest.EncFloat, 16)
	fx.boolT = cu.BaseType("bool", dwarftest.EncBoolean, 1)
	fx.u64T = cu.BaseType("unsigned long", dwarftest.EncUnsigned, 8)

	ns := cu.Namespace("app")
	fx.point = ns.Struct("Point", 12).
		Member("x", fx.intT, 0).
		Member("y", fx.intT, 4).
		Member("tag", fx.charT, 8)
	fx.box = ns.Struct("Box<int, 4>", 4).
		TypeParam("T", fx.intT).
		ValueParam("N", fx.intT, 4).
		Member("value", fx.intT, 0)
	ns.Variable("g_point", fx.point, dwarftest.OpAddr(0x601000))

	// struct C : A, B
	fx.a = cu.Struct("A", 4).Member("a", fx.intT, 0)
	fx.b = cu.Struct("B", 4).Member("b", fx.intT, 0)
	fx.c = cu.Struct("C", 12).
		Inherit(fx.a, 0).
		Inherit(fx.b, 4).
		Member("c", fx.intT, 8)
	fx.cptr = cu.Pointer(fx.c, 8)

	// struct D : virtual V; struct F : X, D
	fx.v = cu.Struct("V", 4).Member("v", fx.intT, 0)
	fx.d = cu.Struct("D", 16).
		VirtualInherit(fx.v, dwarftest.VirtualBaseLoc(24)).
		Member("d", fx.intT, 8)
	x := cu.Struct("X", 8).Member("x", fx.u64T, 0)
	fx.f = cu.Struct("F", 32).
		Inherit(x, 0).
		Inherit(fx.d, 8)

	fx.color = cu.Enum("Color", fx.intT, 4).
		Enumerator("A", 1).
		Enumerator("B", 2).
		Enumerator("Alias", 2)
	fx.opaque = cu.Declaration("Opaque")
	fx.alias = cu.Typedef("PointAlias", fx.point)
	fx.constInt = cu.Const(fx.intT)
	fx.intPP = cu.Pointer(cu.Pointer(fx.intT, 8), 8)

	fx.s = cu.Struct("S", 4).Member("inst", fx.intT, 0)
	count := fx.s.StaticMember("count", fx.u64T)
	cu.Child(dwarf.TagVariable).
		Attr(dwarf.AttrSpecification, count).
		Attr(dwarf.AttrLocation, dwarftest.OpAddr(0x601040))
	cu.Variable("discarded", fx.intT, dwarftest.OpAddr(0))

	main := cu.Subprogram("main", 0x401000, 0x100, dwarftest.OpCallFrameCFA())
	main.Param("argc", fx.intT, dwarftest.OpFbreg(-20))
	main.Variable("tmp", fx.intT, dwarftest.OpFbreg(-24))
	main.Variable("tmp", fx.intT, dwarftest.OpFbreg(-24))
	main.Variable("gone", fx.intT, dwarftest.LocList(0))
	main.Block(0x401050, 0x30).Variable("inner", fx.cptr, dwarftest.OpFbreg(-32))
	cu.Subprogram("helper", 0x401200, 0x40, nil)

	d, err := u.Data()
	require.NoError(t, err)

	cfi := dwarftest.NewFrame(regnum.AMD64_Rip, slices.Concat(
		dwarftest.DefCFA(regnum.AMD64_Rsp, 8),
		dwarftest.SavedAt(regnum.AMD64_Rip, 1),
	)).FDE(0x401000, 0x100, slices.Concat(
		dwarftest.AdvanceLoc(1),
		dwarftest.DefCFAOffset(16),
		dwarftest.SavedAt(regnum.AMD64_Rbp, 2),
		dwarftest.AdvanceLoc(3),
		dwarftest.DefCFARegister(regnum.AMD64_Rbp),
	))
	fdes, err := frame.Parse(cfi.Bytes(), binary.LittleEndian, 0, 8, 0)
	require.NoError(t, err)

	syms := []elf.Symbol{
		{Name: "main", Info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC), Section: 1, Value: 0x401000, Size: 0x100},
		{Name: "_Z3fooi", Info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC), Section: 1, Value: 0x401100, Size: 0x20},
		{Name: "_ZTV1C", Info: elf.ST_INFO(elf.STB_WEAK, elf.STT_OBJECT), Section: 2, Value: 0x602000, Size: 48},
		{Name: "undefined", Info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC), Section: elf.SHN_UNDEF},
	}

	p, err := dwarfsym.NewFromData(d, arch.AMD64,
		dwarfsym.WithLinkBase(linkBase),
		dwarfsym.WithSymbols(syms),
		dwarfsym.WithFrame(fdes))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	fx.p = p
	fx.m = &symbol.Module{Name: "app", Base: loadBase, Size: 0x300000, PtrSize: 8, Arch: arch.AMD64}
	return fx
}

func id(d *dwarftest.DIE) symbol.TypeID { return symbol.TypeID(d.Offset()) }

func TestTypeQueries(t *testing.T) {
	fx := newFixture(t)
	p, m := fx.p, fx.m

	got, err := p.TypeID(m, "app::Point")
	require.NoError(t, err)
	assert.Equal(t, id(fx.point), got)
	tag, err := p.TypeTag(m, got)
	require.NoError(t, err)
	assert.Equal(t, symbol.TagUDT, tag)
	name, err := p.TypeName(m, got)
	require.NoError(t, err)
	assert.Equal(t, "app::Point", name)

	names, err := p.TypeNames()
	require.NoError(t, err)
	assert.Contains(t, names, "app::Point")
	assert.True(t, slices.IsSorted(names))

	builtins := map[string]symbol.BuiltinType{
		"int":           symbol.BuiltinInt32,
		"char":          symbol.BuiltinChar8,
		"unsigned char": symbol.BuiltinUInt8,
		"long double":   symbol.BuiltinFloat80,
		"bool":          symbol.BuiltinBool,
		"unsigned long": symbol.BuiltinUInt64,
	}
	for n, want := range builtins {
		tid, err := p.TypeID(m, n)
		require.NoError(t, err, n)
		assert.Equal(t, want, p.BuiltinType(m, tid), n)
	}
	assert.Equal(t, symbol.BuiltinNoType, p.BuiltinType(m, id(fx.point)))
	assert.Equal(t, symbol.BuiltinInt32, p.BuiltinType(m, id(fx.constInt)))

	got, err = p.TypeID(m, "C*")
	require.NoError(t, err)
	assert.Equal(t, id(fx.cptr), got)
	elem, err := p.ElementType(m, got)
	require.NoError(t, err)
	assert.Equal(t, id(fx.c), elem)

	got, err = p.TypeID(m, "int**")
	require.NoError(t, err)
	assert.Equal(t, id(fx.intPP), got)

	under, err := p.ElementType(m, id(fx.color))
	require.NoError(t, err)
	assert.Equal(t, id(fx.intT), under)
	tag, _ = p.TypeTag(m, id(fx.color))
	assert.Equal(t, symbol.TagEnum, tag)

	// typedefs and qualifiers are transparent
	got, err = p.TypeID(m, "PointAlias")
	require.NoError(t, err)
	size, err := p.TypeSize(m, got)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), size)
	name, _ = p.TypeName(m, id(fx.constInt))
	assert.Equal(t, "const int", name)

	// a declaration without a definition has no layout
	tag, err = p.TypeTag(m, id(fx.opaque))
	require.NoError(t, err)
	assert.Equal(t, symbol.TagUDT, tag)
	_, err = p.FieldNames(m, id(fx.opaque))
	assert.ErrorIs(t, err, symbol.ErrNotFound)
	_, err = p.TypeSize(m, id(fx.opaque))
	assert.ErrorIs(t, err, symbol.ErrNotFound)

	_, err = p.TypeID(m, "Missing")
	assert.ErrorIs(t, err, symbol.ErrNotFound)
	_, err = p.TypeTag(m, 0xfffff)
	assert.ErrorIs(t, err, symbol.ErrNotFound)
	_, err = p.ElementType(m, id(fx.point))
	assert.ErrorIs(t, err, symbol.ErrNotFound)

	args, err := p.TemplateArguments(m, id(fx.box))
	require.NoError(t, err)
	assert.Equal(t, []symbol.TemplateArgument{
		{Text: "int"},
		{Text: "4", IsNumber: true, Number: 4},
	}, args)
}

// No field of a POD struct extends past the reported size.
func TestPODSizeConsistency(t *testing.T) {
	fx := newFixture(t)
	p, m := fx.p, fx.m

	for _, name := range []string{"app::Point", "A", "B", "C", "S", "app::Box<int, 4>"} {
		tid, err := p.TypeID(m, name)
		require.NoError(t, err)
		size, err := p.TypeSize(m, tid)
		require.NoError(t, err)
		fields, err := p.FieldNames(m, tid)
		require.NoError(t, err)
		require.NotEmpty(t, fields)
		for _, f := range fields {
			ft, off, err := p.FieldTypeAndOffset(m, tid, f)
			require.NoError(t, err)
			fs, err := p.TypeSize(m, ft)
			require.NoError(t, err)
			assert.LessOrEqual(t, uint64(off)+fs, size, "%s.%s", name, f)
		}
	}
}

func TestFields(t *testing.T) {
	fx := newFixture(t)
	p, m := fx.p, fx.m

	names, err := p.FieldNames(m, id(fx.c))
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, names)

	all, err := p.AllFieldNames(m, id(fx.c))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, all)

	typ, off, err := p.AllFieldTypeAndOffset(m, id(fx.c), "b")
	require.NoError(t, err)
	assert.Equal(t, id(fx.intT), typ)
	assert.Equal(t, symbol.StaticOffset(4), off)

	// static members are not fields
	names, err = p.FieldNames(m, id(fx.s))
	require.NoError(t, err)
	assert.Equal(t, []string{"inst"}, names)

	_, _, err = p.FieldTypeAndOffset(m, id(fx.c), "a")
	assert.ErrorIs(t, err, symbol.ErrNotFound)

	_, off, err = p.AllFieldTypeAndOffset(m, id(fx.f), "v")
	require.NoError(t, err)
	assert.True(t, off.IsVirtual())
	_, off, err = p.AllFieldTypeAndOffset(m, id(fx.f), "d")
	require.NoError(t, err)
	assert.Equal(t, symbol.StaticOffset(16), off)

	all, err = p.AllFieldNames(m, id(fx.f))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x", "v", "d"}, all)
}

func TestBaseClasses(t *testing.T) {
	fx := newFixture(t)
	p, m := fx.p, fx.m

	bases, err := p.DirectBaseClasses(m, id(fx.c))
	require.NoError(t, err)
	assert.Equal(t, []symbol.BaseClass{
		{Name: "A", Type: id(fx.a), Offset: symbol.StaticOffset(0)},
		{Name: "B", Type: id(fx.b), Offset: symbol.StaticOffset(4)},
	}, bases)

	typ, off, err := p.BaseClass(m, id(fx.f), "V")
	require.NoError(t, err)
	assert.Equal(t, id(fx.v), typ)
	assert.True(t, off.IsVirtual())

	_, off, err = p.BaseClass(m, id(fx.f), "D")
	require.NoError(t, err)
	assert.Equal(t, symbol.StaticOffset(8), off)

	_, _, err = p.BaseClass(m, id(fx.c), "V")
	assert.ErrorIs(t, err, symbol.ErrNotFound)
}

func vtableMemory() *memory.Dump {
	img := make([]byte, 0x1100)
	put := func(addr, v uint64) { binary.LittleEndian.PutUint64(img[addr-0x5000:], v) }
	// vbase offsets 24 bytes before two different address points
	put(0x6000, 12)
	put(0x6040, 16)
	put(0x5000, 0x6018) // D #1
	put(0x5100, 0x6058) // D #2
	put(0x5208, 0x6018) // D inside F at 0x5200
	return memory.FromBytes(0x5000, img)
}

// The same static virtual base resolves through each object's own vptr.
func TestVirtualBaseFromTwoObjects(t *testing.T) {
	fx := newFixture(t)
	p, m := fx.p, fx.m
	mem := vtableMemory()

	a1, err := p.VirtualClassBaseAddress(m, mem, id(fx.d), 0x5000, "V")
	require.NoError(t, err)
	a2, err := p.VirtualClassBaseAddress(m, mem, id(fx.d), 0x5100, "V")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x500c), a1)
	assert.Equal(t, uint64(0x5110), a2)

	a3, err := p.VirtualClassBaseAddress(m, mem, id(fx.f), 0x5200, "V")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x5214), a3)

	none, err := p.VirtualClassBaseAddress(m, mem, id(fx.c), 0x5000, "V")
	require.NoError(t, err)
	assert.Zero(t, none)

	_, err = p.VirtualClassBaseAddress(m, mem, id(fx.d), 0x9000, "V")
	assert.Error(t, err)
}

func TestEnumName(t *testing.T) {
	fx := newFixture(t)
	p, m := fx.p, fx.m

	name, err := p.EnumName(m, id(fx.color), 2)
	require.NoError(t, err)
	assert.Equal(t, "B", name)
	name, err = p.EnumName(m, id(fx.color), 0xffffffff00000001)
	require.NoError(t, err)
	assert.Equal(t, "A", name)

	_, err = p.EnumName(m, id(fx.color), 99)
	assert.ErrorIs(t, err, symbol.ErrNotFound)
	_, err = p.EnumName(m, id(fx.point), 1)
	assert.ErrorIs(t, err, symbol.ErrNotFound)
}

func TestGlobals(t *testing.T) {
	fx := newFixture(t)
	p, m := fx.p, fx.m

	addr, err := p.GlobalVariableAddress(m, "app::g_point")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x601000+delta), addr)
	typ, err := p.GlobalVariableTypeID(m, "app::g_point")
	require.NoError(t, err)
	assert.Equal(t, id(fx.point), typ)

	addr, err = p.GlobalVariableAddress(m, "S::count")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x601040+delta), addr)
	typ, err = p.GlobalVariableTypeID(m, "S::count")
	require.NoError(t, err)
	assert.Equal(t, id(fx.u64T), typ)

	_, err = p.GlobalVariableAddress(m, "discarded")
	assert.ErrorIs(t, err, symbol.ErrNotFound)
	_, err = p.GlobalVariableAddress(m, "g_point")
	assert.ErrorIs(t, err, symbol.ErrNotFound)
	_, err = p.GlobalVariableTypeID(m, "nowhere")
	assert.ErrorIs(t, err, symbol.ErrNotFound)
}

func TestRuntimeTypeAndSymbols(t *testing.T) {
	fx := newFixture(t)
	p, m := fx.p, fx.m

	img := make([]byte, 48)
	top := int64(-4)
	binary.LittleEndian.PutUint64(img[0x18:], uint64(top))
	mem := memory.FromBytes(0x602000+delta, img)

	rt, err := p.RuntimeCodeTypeAndOffset(m, mem, 0x602010+delta)
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.Equal(t, &symbol.RuntimeType{Type: id(fx.c), Name: "C"}, rt)

	rt, err = p.RuntimeCodeTypeAndOffset(m, mem, 0x602028+delta)
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.Equal(t, int64(4), rt.Offset)

	rt, err = p.RuntimeCodeTypeAndOffset(m, mem, 0x401010+delta)
	require.NoError(t, err)
	assert.Nil(t, rt)

	name, disp, err := p.SymbolByAddress(m, 0x401110+delta)
	require.NoError(t, err)
	assert.Equal(t, "foo(int)", name)
	assert.Equal(t, uint64(0x10), disp)

	raw, _, err := p.SymbolByAddressRaw(m, 0x401110+delta)
	require.NoError(t, err)
	assert.Equal(t, "_Z3fooi", raw)

	// no ELF symbol: the subprogram answers
	name, disp, err = p.SymbolByAddress(m, 0x401208+delta)
	require.NoError(t, err)
	assert.Equal(t, "helper", name)
	assert.Equal(t, uint64(8), disp)

	_, _, err = p.SymbolByAddress(m, 0x700000+delta)
	assert.ErrorIs(t, err, symbol.ErrNotFound)
}

func TestFrameLocals(t *testing.T) {
	fx := newFixture(t)
	p, m := fx.p, fx.m

	locals, err := p.FrameLocals(m, 0x401060+delta, false)
	require.NoError(t, err)
	var names []string
	for _, l := range locals {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"argc", "tmp", "gone", "inner"}, names)

	assert.Equal(t, symbol.LocalSymbol{
		Name:        "argc",
		Type:        id(fx.intT),
		IsParameter: true,
		Location: symbol.Expression{
			Program:   []byte(dwarftest.OpFbreg(-20)),
			FrameBase: []byte(dwarftest.OpCallFrameCFA()),
			LinkBase:  linkBase,
		},
	}, locals[0])
	assert.Equal(t, symbol.Unsupported{Kind: "location list"}, locals[2].Location)
	assert.Equal(t, id(fx.cptr), locals[3].Type)

	// outside the block
	locals, err = p.FrameLocals(m, 0x401010+delta, false)
	require.NoError(t, err)
	assert.Len(t, locals, 3)

	args, err := p.FrameLocals(m, 0x401060+delta, true)
	require.NoError(t, err)
	require.Len(t, args, 1)
	assert.Equal(t, "argc", args[0].Name)

	// the frame base is the CFA
	ctx := arch.NewThreadContext(arch.AMD64, map[uint64]uint64{
		regnum.AMD64_Rip: 0x401060 + delta,
		regnum.AMD64_Rsp: 0x7fff0000,
		regnum.AMD64_Rbp: 0x7fff0100,
	})
	cfa, ok, err := p.CanonicalFrameAddress(m, ctx, nil)
	require.NoError(t, err)
	require.True(t, ok)
	res, err := symbol.Resolve(locals[0].Location, m, ctx.WithCFA(cfa), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7fff0110-20), res.Address)

	_, err = p.FrameLocals(m, 0x500000+delta, false)
	assert.ErrorIs(t, err, symbol.ErrNotFound)
}

func TestCanonicalFrameAddress(t *testing.T) {
	fx := newFixture(t)
	p, m := fx.p, fx.m

	base := map[uint64]uint64{
		regnum.AMD64_Rsp: 0x7fff0000,
		regnum.AMD64_Rbp: 0x7fff0100,
	}
	tests := []struct {
		pc   uint64
		cfa  uint64
		want bool
	}{
		{0x401000, 0x7fff0008, true}, // at entry
		{0x401002, 0x7fff0010, true}, // after push rbp
		{0x401010, 0x7fff0110, true}, // body, rbp based
		{0x401300, 0, false},
	}
	for _, tt := range tests {
		ctx := arch.NewThreadContext(arch.AMD64, base).With(regnum.AMD64_Rip, tt.pc+delta)
		cfa, ok, err := p.CanonicalFrameAddress(m, ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "%#x", tt.pc)
		assert.Equal(t, tt.cfa, cfa, "%#x", tt.pc)
	}
}
