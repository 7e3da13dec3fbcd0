package variable_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/codetype"
	"github.com/skdltmxn/dbgsym/internal/symtest"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/symbol"
	"github.com/skdltmxn/dbgsym/variable"
)

const (
	tInt symbol.TypeID = iota + 1
	tChar
	tBool
	tDouble
	tLongDouble
	tInt128
	tUShort
	tChar32
	tA
	tB
	tC
	tIntPtr
	tCPtr
	tIntArray
	tColor
	tV
	tD
	tOther
	tBase
	tDerived
	tVoidPtr
	tVoid
)

const memBase = 0x1000

type fixture struct {
	img []byte
	mem *memory.Dump
	mod *codetype.Module
	p   *symtest.Provider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p := symtest.New()
	builtin := func(id symbol.TypeID, name string, size uint64, b symbol.BuiltinType) {
		p.Add(id, &symtest.Type{Name: name, Tag: symbol.TagBuiltin, Size: size, Builtin: b})
	}
	builtin(tInt, "int", 4, symbol.BuiltinInt32)
	builtin(tChar, "char", 1, symbol.BuiltinChar8)
	builtin(tBool, "bool", 1, symbol.BuiltinBool)
	builtin(tDouble, "double", 8, symbol.BuiltinFloat64)
	builtin(tLongDouble, "long double", 16, symbol.BuiltinFloat80)
	builtin(tInt128, "__int128", 16, symbol.BuiltinInt128)
	builtin(tUShort, "unsigned short", 2, symbol.BuiltinUInt16)
	builtin(tChar32, "char32_t", 4, symbol.BuiltinChar32)
	builtin(tVoid, "void", 0, symbol.BuiltinVoid)

	p.Add(tA, &symtest.Type{Name: "A", Tag: symbol.TagUDT, Size: 4, Fields: []symtest.Field{{Name: "a", Type: tInt}}})
	p.Add(tB, &symtest.Type{Name: "B", Tag: symbol.TagUDT, Size: 4, Fields: []symtest.Field{{Name: "b", Type: tInt}}})
	p.Add(tC, &symtest.Type{
		Name: "C", Tag: symbol.TagUDT, Size: 12,
		Fields: []symtest.Field{{Name: "c", Type: tInt, Offset: 8}},
		Bases: []symbol.BaseClass{
			{Name: "A", Type: tA, Offset: symbol.StaticOffset(0)},
			{Name: "B", Type: tB, Offset: symbol.StaticOffset(4)},
		},
	})
	p.Add(tIntPtr, &symtest.Type{Name: "int*", Tag: symbol.TagPointer, Size: 8, Elem: tInt})
	p.Add(tCPtr, &symtest.Type{Name: "C*", Tag: symbol.TagPointer, Size: 8, Elem: tC})
	p.Add(tVoidPtr, &symtest.Type{Name: "void*", Tag: symbol.TagPointer, Size: 8, Elem: tVoid})
	p.Add(tIntArray, &symtest.Type{Name: "int[3]", Tag: symbol.TagArray, Size: 12, Elem: tInt})
	p.Add(tColor, &symtest.Type{Name: "Color", Tag: symbol.TagEnum, Size: 4, Elem: tInt,
		Enumerators: map[uint64]string{1: "A", 2: "B"}})

	// struct D : virtual V { int d; }, vbptr at 0
	p.Add(tV, &symtest.Type{Name: "V", Tag: symbol.TagUDT, Size: 4, Fields: []symtest.Field{{Name: "v", Type: tInt}}})
	p.Add(tD, &symtest.Type{
		Name: "D", Tag: symbol.TagUDT, Size: 24,
		Fields:  []symtest.Field{{Name: "d", Type: tInt, Offset: 8}},
		Virtual: []symtest.VirtualBase{{Name: "V", Type: tV, VBPtrOffset: 0, Index: 1}},
	})

	// struct Derived : Other, Base, with Base polymorphic
	p.Add(tOther, &symtest.Type{Name: "Other", Tag: symbol.TagUDT, Size: 8, Fields: []symtest.Field{{Name: "o", Type: tInt}}})
	p.Add(tBase, &symtest.Type{Name: "Base", Tag: symbol.TagUDT, Size: 16, Fields: []symtest.Field{{Name: "x", Type: tInt, Offset: 8}}})
	p.Add(tDerived, &symtest.Type{
		Name: "Derived", Tag: symbol.TagUDT, Size: 24,
		Bases: []symbol.BaseClass{
			{Name: "Other", Type: tOther, Offset: symbol.StaticOffset(0)},
			{Name: "Base", Type: tBase, Offset: symbol.StaticOffset(8)},
		},
	})
	p.Vtables[0x1f00] = symbol.RuntimeType{Type: tDerived, Name: "Derived", Offset: 8}

	img := make([]byte, 0x1000)
	desc := &symbol.Module{Name: "app", Base: 0x400000, Size: 0x1000, PtrSize: 8, Arch: arch.AMD64}
	return &fixture{
		img: img,
		mem: memory.FromBytes(memBase, img),
		mod: codetype.NewModule(desc, p),
		p:   p,
	}
}

func (fx *fixture) typ(t *testing.T, id symbol.TypeID) *codetype.CodeType {
	t.Helper()
	ct, err := fx.mod.TypeByID(id)
	require.NoError(t, err)
	return ct
}

func (fx *fixture) put32(addr uint64, v uint32) {
	binary.LittleEndian.PutUint32(fx.img[addr-memBase:], v)
}

func (fx *fixture) put64(addr uint64, v uint64) {
	binary.LittleEndian.PutUint64(fx.img[addr-memBase:], v)
}

func TestScalarRoundTrip(t *testing.T) {
	fx := newFixture(t)
	f80 := variable.NewFloat80(-2.5)

	tests := []struct {
		name string
		typ  symbol.TypeID
		raw  []byte
		want any
	}{
		{"int", tInt, binary.LittleEndian.AppendUint32(nil, uint32(0xfffffffb)), int32(-5)},
		{"char", tChar, []byte{'x'}, uint8('x')},
		{"bool", tBool, []byte{1}, true},
		{"double", tDouble, binary.LittleEndian.AppendUint64(nil, math.Float64bits(3.25)), 3.25},
		{"long double", tLongDouble, append(f80[:], 0, 0, 0, 0, 0, 0), f80},
		{"int128", tInt128, binary.LittleEndian.AppendUint64(binary.LittleEndian.AppendUint64(nil, 7), math.MaxUint64), variable.Int128{Lo: 7, Hi: -1}},
		{"ushort", tUShort, []byte{0xef, 0xbe}, uint16(0xbeef)},
		{"char32", tChar32, binary.LittleEndian.AppendUint32(nil, 'é'), 'é'},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := uint64(memBase + 0x100 + i*0x10)
			copy(fx.img[addr-memBase:], tt.raw)
			ct := fx.typ(t, tt.typ)

			v := variable.New(ct, fx.mem, addr, tt.name)
			first, err := v.Data()
			require.NoError(t, err)
			assert.Equal(t, tt.want, first)
			second, err := variable.New(ct, fx.mem, addr, tt.name).Data()
			require.NoError(t, err)
			assert.Equal(t, first, second)

			raw, err := v.Bytes()
			require.NoError(t, err)
			inline, err := variable.FromBuffer(ct, nil, raw, tt.name).Data()
			require.NoError(t, err)
			assert.Equal(t, first, inline)
		})
	}
}

func TestFloat80(t *testing.T) {
	one := variable.NewFloat80(1)
	assert.Equal(t, variable.Float80{0, 0, 0, 0, 0, 0, 0, 0x80, 0xff, 0x3f}, one)
	assert.Equal(t, "1", one.String())

	for _, f := range []float64{0, 1, -2.5, math.Pi, math.MaxFloat64, math.SmallestNonzeroFloat64, math.Inf(-1)} {
		assert.Equal(t, f, variable.NewFloat80(f).Float64(), "%g", f)
	}
	nan := variable.NewFloat80(math.NaN())
	assert.True(t, nan.IsNaN())
	assert.Nil(t, nan.Big())
	assert.True(t, math.IsNaN(nan.Float64()))

	// 1 + 2^-63 is exact in extended precision only
	exact := variable.Float80{1, 0, 0, 0, 0, 0, 0, 0x80, 0xff, 0x3f}
	assert.Equal(t, "1.00000000000000000011", exact.String())
	assert.Equal(t, 1.0, exact.Float64())
}

// C : A, B. Reading b through the B subobject matches reading it at its
// offset, and the A subobject sits at the address of C.
func TestMultipleInheritance(t *testing.T) {
	fx := newFixture(t)
	const addrC = 0x1200
	fx.put32(addrC, 1)
	fx.put32(addrC+4, 2)
	fx.put32(addrC+8, 3)

	c := variable.New(fx.typ(t, tC), fx.mem, addrC, "c")

	b, err := c.GetBaseClass("B")
	require.NoError(t, err)
	viaBase, err := b.GetField("b")
	require.NoError(t, err)
	direct, err := memory.ReadInt32(fx.mem, addrC+4)
	require.NoError(t, err)
	got, err := viaBase.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(direct), got)
	assert.Equal(t, "c.(B).b", viaBase.Path())

	inherited, err := c.GetField("b")
	require.NoError(t, err)
	assert.Equal(t, uint64(addrC+4), inherited.PointerAddress())

	a, err := c.GetBaseClass("A")
	require.NoError(t, err)
	down, err := a.DowncastInterface()
	require.NoError(t, err)
	assert.Equal(t, uint64(addrC), down.PointerAddress())

	own, err := c.GetField("c")
	require.NoError(t, err)
	assert.Equal(t, "3", own.String())

	_, err = c.GetField("missing")
	assert.ErrorIs(t, err, symbol.ErrNotFound)
	_, err = c.GetBaseClass("V")
	assert.ErrorIs(t, err, symbol.ErrNotFound)
}

// The same virtual base of two objects of one type is found through each
// object's own vbtable.
func TestVirtualBaseFromTwoObjects(t *testing.T) {
	fx := newFixture(t)
	fx.put32(0x1804, 16) // vbtable 1: {0, 16}
	fx.put32(0x1814, 24) // vbtable 2: {0, 24}
	fx.put64(0x1200, 0x1800)
	fx.put64(0x1300, 0x1810)
	fx.put32(0x1210, 11)
	fx.put32(0x1318, 22)

	d := fx.typ(t, tD)
	var addrs []uint64
	var values []int64
	for _, obj := range []uint64{0x1200, 0x1300} {
		v, err := variable.New(d, fx.mem, obj, "d").GetBaseClass("V")
		require.NoError(t, err)
		addrs = append(addrs, v.PointerAddress())
		x, err := variable.New(d, fx.mem, obj, "d").GetField("v")
		require.NoError(t, err)
		n, err := x.Int()
		require.NoError(t, err)
		values = append(values, n)
	}
	assert.Equal(t, []uint64{0x1210, 0x1318}, addrs)
	assert.Equal(t, []int64{11, 22}, values)

	// the virtual base is looked up on every access
	before := fx.p.Calls("VirtualClassBaseAddress")
	_, err := variable.New(d, fx.mem, 0x1200, "d").GetBaseClass("V")
	require.NoError(t, err)
	assert.Equal(t, before+1, fx.p.Calls("VirtualClassBaseAddress"))

	reg := variable.FromBuffer(d, fx.mem, make([]byte, 24), "r")
	_, err = reg.GetBaseClass("V")
	assert.ErrorIs(t, err, symbol.ErrUnsupportedLocation)
}

func TestDowncast(t *testing.T) {
	fx := newFixture(t)
	fx.put64(0x1408, 0x1f00)

	base := variable.New(fx.typ(t, tBase), fx.mem, 0x1408, "obj")
	dyn, err := base.DowncastInterface()
	require.NoError(t, err)
	assert.Equal(t, "Derived", dyn.Type().Name())
	assert.Equal(t, uint64(0x1400), dyn.PointerAddress())

	again, err := dyn.GetBaseClass("Base")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1408), again.PointerAddress())

	// no vtable at the object: returned as is
	plain := variable.New(fx.typ(t, tBase), fx.mem, 0x1500, "plain")
	same, err := plain.DowncastInterface()
	require.NoError(t, err)
	assert.Same(t, plain, same)
}

func TestPointersAndArrays(t *testing.T) {
	fx := newFixture(t)
	for i := range 3 {
		fx.put32(uint64(0x1600+4*i), uint32(10*(i+1)))
	}
	fx.put64(0x1700, 0x1600)

	p := variable.New(fx.typ(t, tIntPtr), fx.mem, 0x1700, "p")
	assert.Equal(t, "0x1600", p.String())

	target, err := p.DereferencePointer()
	require.NoError(t, err)
	assert.Equal(t, "*p", target.Path())
	// simple pointees are read when the pointer is followed
	fx.put32(0x1600, 99)
	n, err := target.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	arr, err := variable.FromPointer(p, 3)
	require.NoError(t, err)
	assert.True(t, arr.IsArray())
	e, err := arr.GetArrayElement(2)
	require.NoError(t, err)
	n, err = e.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(30), n)
	assert.Equal(t, "p[0:3][2]", e.Path())
	_, err = arr.GetArrayElement(3)
	assert.ErrorIs(t, err, variable.ErrIndexOutOfRange)

	fixed := variable.New(fx.typ(t, tIntArray), fx.mem, 0x1600, "a")
	size, err := fixed.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, size)
	e, err = fixed.GetArrayElement(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1604), e.PointerAddress())

	null := variable.New(fx.typ(t, tIntPtr), fx.mem, 0x1708, "null")
	_, err = null.DereferencePointer()
	assert.ErrorIs(t, err, variable.ErrNullPointer)

	fx.put64(0x1710, 0x1600)
	void := variable.New(fx.typ(t, tVoidPtr), fx.mem, 0x1710, "vp")
	_, err = void.DereferencePointer()
	assert.ErrorIs(t, err, symbol.ErrUnsupportedFormat)

	// struct pointees are read on access
	fx.put64(0x1718, 0x1200)
	cp := variable.New(fx.typ(t, tCPtr), fx.mem, 0x1718, "cp")
	obj, err := cp.DereferencePointer()
	require.NoError(t, err)
	fx.put32(0x1208, 42)
	f, err := obj.GetField("c")
	require.NoError(t, err)
	n, err = f.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestArrayGroups(t *testing.T) {
	fx := newFixture(t)
	fx.put64(0x1700, 0x1000)
	p := variable.New(fx.typ(t, tIntPtr), fx.mem, 0x1700, "p")
	arr, err := variable.FromPointer(p, 250)
	require.NoError(t, err)

	var groups [][2]int
	for start, end := range arr.Groups() {
		groups = append(groups, [2]int{start, end})
	}
	assert.Equal(t, [][2]int{{0, 100}, {100, 200}, {200, 250}}, groups)

	e, err := arr.GetArrayElement(249)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000+249*4), e.PointerAddress())
}

func TestEnum(t *testing.T) {
	fx := newFixture(t)
	color := fx.typ(t, tColor)
	fx.put32(0x1800, 2)
	fx.put32(0x1804, 99)

	v := variable.New(color, fx.mem, 0x1800, "c")
	name, err := v.EnumName()
	require.NoError(t, err)
	assert.Equal(t, "B", name)
	assert.Equal(t, "B", v.String())

	raw := variable.New(color, fx.mem, 0x1804, "c")
	_, err = raw.EnumName()
	assert.ErrorIs(t, err, symbol.ErrNotFound)
	assert.Equal(t, "99", raw.String())
}

func TestFromResolved(t *testing.T) {
	fx := newFixture(t)
	in := variable.FromResolved(fx.typ(t, tInt), fx.mem, symbol.Resolved{InRegister: true, Value: 0xdeadbeef_fffffffe}, "r")
	assert.False(t, in.Addressable())
	assert.Zero(t, in.PointerAddress())
	n, err := in.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(-2), n)

	fx.put32(0x1900, 7)
	at := variable.FromResolved(fx.typ(t, tInt), fx.mem, symbol.Resolved{Address: 0x1900}, "m")
	assert.Equal(t, "7", at.String())

	_, err = variable.FromBuffer(fx.typ(t, tDouble), nil, []byte{1, 2}, "short").Data()
	assert.ErrorIs(t, err, variable.ErrShortBuffer)

	_, err = variable.New(fx.typ(t, tInt), fx.mem, 0x9000, "far").Data()
	assert.ErrorIs(t, err, memory.ErrUnmapped)
}

type pair struct{ a, b int64 }

func TestRegistry(t *testing.T) {
	fx := newFixture(t)
	fx.put32(0x1200, 5)
	fx.put32(0x1204, 6)

	r := variable.NewRegistry()
	key := variable.TypeKey{Module: "app", Type: "C"}
	build := func(v *variable.Variable) (any, error) {
		var out pair
		for name, dst := range map[string]*int64{"a": &out.a, "b": &out.b} {
			f, err := v.GetField(name)
			if err != nil {
				return nil, err
			}
			if *dst, err = f.Int(); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	require.NoError(t, r.Register(key, variable.UserTypeFuncs{FromVariableFunc: build}))
	assert.ErrorIs(t, r.Register(key, variable.UserTypeFuncs{FromVariableFunc: build}), variable.ErrDuplicateType)

	c := fx.typ(t, tC)
	assert.Equal(t, key, variable.KeyOf(c))
	got, err := r.Cast(variable.New(c, fx.mem, 0x1200, "c"))
	require.NoError(t, err)
	assert.Equal(t, pair{5, 6}, got)

	got, err = r.CastBuffer(c, []byte{5, 0, 0, 0, 6, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, pair{5, 6}, got)

	_, err = r.Cast(variable.New(fx.typ(t, tA), fx.mem, 0x1200, "a"))
	assert.ErrorIs(t, err, symbol.ErrNotFound)
}

func TestMemoAndCollection(t *testing.T) {
	fx := newFixture(t)
	memo, err := variable.NewMemo(2)
	require.NoError(t, err)

	i := fx.typ(t, tInt)
	a := memo.Variable(i, fx.mem, 0x1200, "x")
	assert.Same(t, a, memo.Variable(i, fx.mem, 0x1200, "x"))
	renamed := memo.Variable(i, fx.mem, 0x1200, "y")
	assert.Equal(t, "y", renamed.Name())
	memo.Variable(i, fx.mem, 0x1204, "z")
	memo.Variable(i, fx.mem, 0x1208, "w")
	assert.Equal(t, 2, memo.Len())
	assert.NotSame(t, a, memo.Variable(i, fx.mem, 0x1200, "x"))

	col := variable.NewCollection(a, variable.New(i, fx.mem, 0x1300, "tmp"))
	col.Add(variable.New(i, fx.mem, 0x1400, "tmp"))
	assert.Equal(t, []string{"x", "tmp", "tmp"}, col.Names())
	inner, err := col.Get("tmp")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1400), inner.PointerAddress())
	_, err = col.Get("nope")
	assert.ErrorIs(t, err, symbol.ErrNotFound)
}
