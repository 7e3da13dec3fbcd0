package unwind_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/codetype"
	"github.com/skdltmxn/dbgsym/internal/symtest"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/symbol"
	"github.com/skdltmxn/dbgsym/unwind"
)

const stackBase = 0x7000

type stack []byte

func newStack() stack { return make(stack, 0x1000) }

func (s stack) put(addr, v uint64) {
	binary.LittleEndian.PutUint64(s[addr-stackBase:], v)
}

// frame stores a saved frame pointer and return address at addr.
func (s stack) frame(addr, fp, ip uint64) {
	s.put(addr, fp)
	s.put(addr+8, ip)
}

type moduleList []*codetype.Module

func (l moduleList) ModuleAt(addr uint64) (*codetype.Module, bool) {
	for _, m := range l {
		if m.Contains(addr) {
			return m, true
		}
	}
	return nil, false
}

func appModule(p symbol.Provider) *codetype.Module {
	d := &symbol.Module{Name: "app", Base: 0x400000, Size: 0x10000, PtrSize: 8, Arch: arch.AMD64}
	return codetype.NewModule(d, p)
}

func regs(ip, sp, fp uint64) *arch.ThreadContext {
	return arch.NewThreadContext(arch.AMD64, nil).WithFrame(ip, sp, fp)
}

func TestFramePointerChain(t *testing.T) {
	s := newStack()
	s.frame(0x7100, 0x7200, 0x401100)
	s.frame(0x7200, 0x7300, 0x401200)
	s.frame(0x7300, 0, 0x401300)

	mod := appModule(symtest.New())
	frames, err := unwind.Unwind(regs(0x401010, 0x70f0, 0x7100), memory.FromBytes(stackBase, s), moduleList{mod}, unwind.Options{})
	require.NoError(t, err)
	require.Len(t, frames, 3)

	want := []struct{ ip, sp, fp uint64 }{
		{0x401010, 0x70f0, 0x7100},
		{0x401100, 0x7110, 0x7200},
		{0x401200, 0x7210, 0x7300},
	}
	for i, w := range want {
		assert.Equal(t, w.ip, frames[i].IP, "frame %d ip", i)
		assert.Equal(t, w.sp, frames[i].SP, "frame %d sp", i)
		assert.Equal(t, w.fp, frames[i].FP, "frame %d fp", i)
		assert.Same(t, mod, frames[i].Module)
		assert.Equal(t, w.ip, frames[i].Context.PC())
	}
}

func TestCallFrameInformation(t *testing.T) {
	s := newStack()
	// innermost frame has not set up a frame pointer yet
	s.frame(0x7010, 0x7200, 0x401180)
	s.frame(0x7200, 0x7300, 0x401300)
	s.frame(0x7300, 0, 0)

	var lookups []uint64
	p := symtest.CFAProvider{Provider: symtest.New(), CFA: func(ctx *arch.ThreadContext) (uint64, bool) {
		lookups = append(lookups, ctx.PC())
		if ctx.PC() < 0x401100 {
			return ctx.SP() + 0x20, true
		}
		return 0, false
	}}

	frames, err := unwind.Unwind(regs(0x401010, 0x7000, 0x7100), memory.FromBytes(stackBase, s), moduleList{appModule(p)}, unwind.Options{})
	require.NoError(t, err)
	require.Len(t, frames, 3)

	cfa, ok := frames[0].Context.CFA()
	assert.True(t, ok)
	assert.Equal(t, uint64(0x7020), cfa)
	_, ok = frames[1].Context.CFA()
	assert.False(t, ok)

	assert.Equal(t, uint64(0x401180), frames[1].IP)
	assert.Equal(t, uint64(0x7020), frames[1].SP)
	assert.Equal(t, uint64(0x7200), frames[1].FP)
	assert.Equal(t, uint64(0x401300), frames[2].IP)

	// outer frames are looked up at the call instruction
	assert.Equal(t, []uint64{0x401010, 0x40117f, 0x4012ff}, lookups)
}

func TestUnmappedFramePointer(t *testing.T) {
	frames, err := unwind.Unwind(regs(0x401000, 0x10, 0x10), memory.FromBytes(stackBase, newStack()), nil, unwind.Options{})
	assert.NoError(t, err)
	assert.Empty(t, frames)
}

func TestFrameLimit(t *testing.T) {
	s := newStack()
	s.frame(0x7100, 0x7100, 0x401000)

	frames, err := unwind.Unwind(regs(0x401000, 0x7000, 0x7100), memory.FromBytes(stackBase, s), nil, unwind.Options{MaxFrames: 4})
	assert.ErrorIs(t, err, symbol.ErrCorruptData)
	assert.Len(t, frames, 4)
	assert.Nil(t, frames[0].Module)
}

func TestLeavesSegment(t *testing.T) {
	buf := make([]byte, 0x1100)
	binary.LittleEndian.PutUint64(buf[0x100:], 0x9000)
	binary.LittleEndian.PutUint64(buf[0x108:], 0x401100)
	binary.LittleEndian.PutUint64(buf[0x1000:], 0x9080)
	binary.LittleEndian.PutUint64(buf[0x1008:], 0x401200)

	mem, err := memory.NewDump(bytes.NewReader(buf), []memory.Segment{
		{Start: 0x7000, End: 0x8000, Offset: 0},
		{Start: 0x9000, End: 0x9100, Offset: 0x1000},
	})
	require.NoError(t, err)

	frames, err := unwind.Unwind(regs(0x401000, 0x7000, 0x7100), mem, nil, unwind.Options{})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, uint64(0x7100), frames[0].FP)
}
