package symbols_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/dbgsym/internal/pdbtest"
	"github.com/skdltmxn/dbgsym/internal/symbols"
)

const (
	cvRBP = 334
	cvRSP = 335
	cvRCX = 330
)

func moduleStream() []byte {
	s := pdbtest.ModuleSyms()
	s.Proc("other", 0x1001, 1, 0x0, 0x100).
		RegRel("ignored", pdbtest.TInt32, cvRSP, 8).
		End()
	s.Proc("work", 0x1001, 1, 0x100, 0x80).
		FrameProc(0x28).
		RegRel("arg", pdbtest.TInt32, cvRSP, 0x30).
		Register("r", pdbtest.TInt64, cvRCX).
		Local("live", pdbtest.TInt32, false).
		DefRangeRegister(cvRCX, 1, 0x200, 4).
		DefRangeFrameRel(-8, 1, 0x100, 0x40).
		Local("dead", pdbtest.TInt32, false).
		DefRangeFrameRel(-16, 1, 0x150, 0x10).
		Local("p", pdbtest.TInt64, true).
		DefRangeFullScope(16).
		Block(1, 0x110, 0x10).
		BPRel("inner", pdbtest.TInt32, -4).
		End().
		Block(1, 0x140, 0x10).
		BPRel("elsewhere", pdbtest.TInt32, -4).
		End().
		End()
	return s.Bytes()
}

func names(f *symbols.Frame) []string {
	var out []string
	for _, v := range f.Variables {
		out = append(out, v.Name)
	}
	return out
}

func TestFindFrame(t *testing.T) {
	data := moduleStream()

	f, err := symbols.FindFrame(data, 1, 0x114)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "work", f.Proc.Name)
	require.NotNil(t, f.FrameProc)
	assert.Equal(t, uint32(0x28), f.FrameProc.TotalFrameBytes)
	assert.Equal(t, []string{"arg", "r", "live", "p", "inner"}, names(f))

	live := f.Variables[2]
	require.NotNil(t, live.Live)
	assert.Equal(t, symbols.S_DEFRANGE_FRAMEPOINTER_REL, live.Live.Kind)
	assert.Equal(t, int32(-8), live.Live.Offset)
	assert.True(t, f.Variables[3].Flags.IsParameter())
	assert.True(t, f.Variables[3].Live.FullScope)

	f, err = symbols.FindFrame(data, 1, 0x150)
	require.NoError(t, err)
	assert.Equal(t, []string{"arg", "r", "dead", "p"}, names(f))

	f, err = symbols.FindFrame(data, 1, 0x10)
	require.NoError(t, err)
	assert.Equal(t, "other", f.Proc.Name)

	f, err = symbols.FindFrame(data, 2, 0x110)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestIndex(t *testing.T) {
	g := pdbtest.GlobalSyms().
		Public("?b@@3HA", 2, 0x20, false).
		Public("main", 1, 0x100, true).
		Public("helper", 1, 0x40, true).
		Data("g_count", pdbtest.TInt32, 2, 0x20).
		UDT("Point", 0x1003)

	idx, err := symbols.NewIndex(g.Bytes())
	require.NoError(t, err)

	p, exact, found := idx.FindByAddress(1, 0x100)
	require.True(t, found)
	assert.True(t, exact)
	assert.Equal(t, "main", p.Name)

	p, exact, found = idx.FindByAddress(1, 0x80)
	require.True(t, found)
	assert.False(t, exact)
	assert.Equal(t, "helper", p.Name)

	_, _, found = idx.FindByAddress(1, 0x10)
	assert.False(t, found)

	recs := idx.FindByName("g_count")
	require.Len(t, recs, 1)
	d, err := symbols.ParseDataSym(recs[0].Data)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), d.Segment)
	assert.Empty(t, idx.FindByName("missing"))
}

func TestDefRangeGaps(t *testing.T) {
	r := symbols.AddrRange{Offset: 0x100, Section: 1, Length: 0x20, Gaps: []symbols.AddrGap{{Start: 4, Length: 4}}}
	assert.True(t, r.Contains(1, 0x100))
	assert.False(t, r.Contains(1, 0x105))
	assert.True(t, r.Contains(1, 0x108))
	assert.False(t, r.Contains(1, 0x120))
	assert.False(t, r.Contains(2, 0x100))
}
