package tpi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/dbgsym/internal/pdbtest"
	"github.com/skdltmxn/dbgsym/internal/tpi"
)

func TestRecordsAndClass(t *testing.T) {
	var b pdbtest.TPI
	fl := new(pdbtest.FieldList).
		Member("x", pdbtest.TInt32, 0).
		Member("big", pdbtest.TInt64, 0x10000).
		Static("count", pdbtest.TUInt32)
	flIdx := b.FieldList(fl)
	cls := b.Struct("Point", flIdx, 0x10008, false)
	ptr := b.Pointer(cls, 8)

	s, err := tpi.ParseStream(b.Bytes())
	require.NoError(t, err)
	assert.Equal(t, tpi.TypeIndex(0x1000), s.TypeIndexBegin())
	assert.Equal(t, tpi.TypeIndex(ptr+1), s.TypeIndexEnd())

	rec, err := s.Record(tpi.TypeIndex(cls))
	require.NoError(t, err)
	require.Equal(t, tpi.LF_STRUCTURE, rec.Kind)
	c, err := tpi.ParseClassRecord(rec.Data)
	require.NoError(t, err)
	assert.Equal(t, "Point", c.Name)
	assert.Equal(t, uint64(0x10008), c.Size)
	assert.Equal(t, tpi.TypeIndex(flIdx), c.FieldList)
	assert.False(t, c.Properties.IsForwardRef())

	rec, err = s.Record(tpi.TypeIndex(flIdx))
	require.NoError(t, err)
	list, err := tpi.ParseFieldList(rec.Data)
	require.NoError(t, err)
	require.Len(t, list.Members, 2)
	assert.Equal(t, "big", list.Members[1].Name)
	assert.Equal(t, uint64(0x10000), list.Members[1].Offset)
	require.Len(t, list.Static, 1)
	assert.Equal(t, "count", list.Static[0].Name)

	rec, err = s.Record(tpi.TypeIndex(ptr))
	require.NoError(t, err)
	p, err := tpi.ParsePointerRecord(rec.Data)
	require.NoError(t, err)
	assert.Equal(t, uint8(8), p.Attributes.Size())
	assert.Equal(t, tpi.PointerModePointer, p.Attributes.Mode())
}

func TestFieldListBasesAndContinuation(t *testing.T) {
	var b pdbtest.TPI
	tail := b.FieldList(new(pdbtest.FieldList).Enumerate("Neg", -2))
	fl := new(pdbtest.FieldList).
		Base(0x1100, 8).
		VirtualBase(0x1200, 0x1300, 4, 1, false).
		VirtualBase(0x1201, 0x1300, 4, 2, true).
		IntroVirtual("f", 0x1400, 0).
		VFuncTab(0x1500).
		Enumerate("Red", 1).
		Continue(tail)

	list, err := tpi.ParseFieldList(fl.Bytes())
	require.NoError(t, err)
	require.Len(t, list.Bases, 1)
	assert.Equal(t, uint64(8), list.Bases[0].Offset)

	require.Len(t, list.VirtualBases, 2)
	assert.Equal(t, tpi.VirtualBaseClass{
		Attributes: 3, Type: 0x1200, VBPtrType: 0x1300, VBPtrOffset: 4, VBTableIndex: 1,
	}, list.VirtualBases[0])
	assert.True(t, list.VirtualBases[1].Indirect)
	assert.True(t, list.HasVFuncTab)
	assert.Equal(t, tpi.TypeIndex(tail), list.Continuation)

	var s pdbtest.TPI
	s.FieldList(new(pdbtest.FieldList).Enumerate("Neg", -2))
	st, err := tpi.ParseStream(s.Bytes())
	require.NoError(t, err)
	rec, err := st.Record(0x1000)
	require.NoError(t, err)
	tl, err := tpi.ParseFieldList(rec.Data)
	require.NoError(t, err)
	require.Len(t, tl.Enumerates, 1)
	assert.Equal(t, int64(-2), int64(tl.Enumerates[0].Value))
}

func TestRecordErrors(t *testing.T) {
	var b pdbtest.TPI
	b.Struct("A", 0, 0, true)
	s, err := tpi.ParseStream(b.Bytes())
	require.NoError(t, err)

	_, err = s.Record(0x74)
	assert.ErrorIs(t, err, tpi.ErrTypeIndexOutOfRange)
	_, err = s.Record(0x2000)
	assert.ErrorIs(t, err, tpi.ErrTypeIndexOutOfRange)

	_, err = tpi.ParseStream([]byte{1, 2, 3})
	assert.ErrorIs(t, err, tpi.ErrInvalidHeader)

	_, err = tpi.ParseFieldList([]byte{0x99, 0x99})
	assert.ErrorIs(t, err, tpi.ErrUnexpectedKind)
}

func TestSimpleTypeIndex(t *testing.T) {
	ti := tpi.TypeIndex(0x0674)
	assert.True(t, ti.IsSimple())
	assert.Equal(t, tpi.SimpleInt32, ti.SimpleKind())
	assert.Equal(t, tpi.SimpleNearPointer64, ti.SimpleMode())
}
