package engine

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-delve/delve/pkg/dwarf/regnum"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/dbgsym/affinity"
	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/codetype"
	"github.com/skdltmxn/dbgsym/internal/symtest"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/symbol"
)

const (
	tInt symbol.TypeID = iota + 1
	tPoint
)

const memBase = 0x6000

type image []byte

func (b image) put64(addr, v uint64)        { binary.LittleEndian.PutUint64(b[addr-memBase:], v) }
func (b image) put32(addr uint64, v uint32) { binary.LittleEndian.PutUint32(b[addr-memBase:], v) }

func appProvider() *symtest.Provider {
	p := symtest.New()
	p.Add(tInt, &symtest.Type{Name: "int", Tag: symbol.TagBuiltin, Size: 4, Builtin: symbol.BuiltinInt32})
	p.Add(tPoint, &symtest.Type{
		Name: "Point", Tag: symbol.TagUDT, Size: 8,
		Fields: []symtest.Field{{Name: "x", Type: tInt}, {Name: "y", Type: tInt, Offset: 4}},
	})
	p.Globals["g_counter"] = symtest.Global{Addr: 0x6000, Type: tInt}
	p.Funcs = []symtest.Func{
		{
			Name: "main", Low: 0x401000, High: 0x401100,
			Locals: []symbol.LocalSymbol{
				{Name: "argc", Type: tInt, IsParameter: true, Location: symbol.RegisterRelative{Reg: regnum.AMD64_Rbp, Offset: -20}},
				{Name: "p", Type: tPoint, Location: symbol.RegisterRelative{Reg: regnum.AMD64_Rbp, Offset: -16}},
				{Name: "bad", Type: tInt, Location: symbol.Unsupported{Kind: "tls"}},
				{Name: "r", Type: tInt, Location: symbol.Enregistered{Reg: regnum.AMD64_Rax}},
			},
		},
		{
			Name: "helper", Low: 0x401100, High: 0x401200,
			Locals: []symbol.LocalSymbol{
				{Name: "n", Type: tInt, IsParameter: true, Location: symbol.RegisterRelative{Reg: regnum.AMD64_Rbp, Offset: -4}},
			},
		},
	}
	return p
}

// testProcess is stopped in helper, called from main.
func testProcess(t *testing.T, opts Options) (*Process, *Thread) {
	t.Helper()
	img := make(image, 0x2000)
	img.put32(0x6000, 42)
	img.put32(0x70fc, 5)
	img.put64(0x7100, 0x7200)
	img.put64(0x7108, 0x401050)
	img.put32(0x71ec, 2)
	img.put32(0x71f0, 3)
	img.put32(0x71f4, 4)

	p, err := NewProcess(arch.AMD64, memory.FromBytes(memBase, img), opts)
	require.NoError(t, err)
	desc := &symbol.Module{Name: "app", Base: 0x400000, Size: 0x10000, PtrSize: 8, Arch: arch.AMD64}
	p.AddModule(desc, appProvider())

	ctx := arch.NewThreadContext(arch.AMD64, map[uint64]uint64{
		regnum.AMD64_Rip: 0x401150,
		regnum.AMD64_Rsp: 0x7000,
		regnum.AMD64_Rbp: 0x7100,
		regnum.AMD64_Rax: 7,
	})
	th := p.AddThread(100, ctx)
	t.Cleanup(func() { p.Close() })
	return p, th
}

func TestStackTrace(t *testing.T) {
	_, th := testProcess(t, Options{})

	frames, err := th.StackTrace()
	require.NoError(t, err)
	require.Len(t, frames, 2)

	again, _ := th.StackTrace()
	assert.Same(t, frames[0], again[0])

	name, disp, err := frames[0].Function()
	require.NoError(t, err)
	assert.Equal(t, "helper", name)
	assert.Equal(t, uint64(0x50), disp)

	assert.Equal(t, "#0 0x401150 app!helper+0x50", frames[0].String())
	assert.Equal(t, "#1 0x401050 app!main+0x50", frames[1].String())
	assert.Equal(t, uint64(0x7200), frames[1].FP())
	assert.Equal(t, uint64(0x7110), frames[1].SP())
}

func TestFrameLocals(t *testing.T) {
	_, th := testProcess(t, Options{})
	frames, err := th.StackTrace()
	require.NoError(t, err)

	args, err := frames[0].Arguments()
	require.NoError(t, err)
	n, err := args.Get("n")
	require.NoError(t, err)
	v, err := n.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	locals, err := frames[1].Locals()
	assert.ErrorIs(t, err, symbol.ErrUnsupportedLocation)
	if diff := cmp.Diff([]string{"argc", "p", "r"}, locals.Names()); diff != "" {
		t.Errorf("locals mismatch (-want +got):\n%s", diff)
	}

	cases := map[string]int64{"argc": 2, "r": 7}
	for name, want := range cases {
		lv, err := locals.Get(name)
		require.NoError(t, err, name)
		got, err := lv.Int()
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	pt, err := locals.Get("p")
	require.NoError(t, err)
	y, err := pt.GetField("y")
	require.NoError(t, err)
	yv, err := y.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(4), yv)

	args, err = frames[1].Arguments()
	require.NoError(t, err)
	assert.Equal(t, []string{"argc"}, args.Names())
}

func TestGlobals(t *testing.T) {
	p, _ := testProcess(t, Options{Variables: 16})

	g, err := p.Global("app!g_counter")
	require.NoError(t, err)
	v, err := g.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	again, err := p.Global("g_counter")
	require.NoError(t, err)
	assert.Same(t, g, again)

	_, err = p.Global("missing")
	assert.ErrorIs(t, err, symbol.ErrNotFound)
	_, err = p.Global("lib!g_counter")
	assert.ErrorIs(t, err, symbol.ErrNotFound)
}

func TestProcessModules(t *testing.T) {
	p, _ := testProcess(t, Options{})

	typ, err := p.Type("app!Point")
	require.NoError(t, err)
	assert.Equal(t, uint64(8), typ.Size())

	m, ok := p.ModuleAt(0x401234)
	require.True(t, ok)
	assert.Equal(t, "app", m.Name())
	_, ok = p.ModuleAt(0x500000)
	assert.False(t, ok)

	th, err := p.Thread(100)
	require.NoError(t, err)
	assert.Equal(t, 100, th.ID())
	_, err = p.Thread(1)
	assert.ErrorIs(t, err, symbol.ErrNotFound)

	require.NoError(t, p.Close())
	_, err = m.TypeByName("Point")
	assert.ErrorIs(t, err, codetype.ErrClosed)
}

func TestFindSymbols(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "app")
	require.NoError(t, os.WriteFile(exe, []byte("not an elf"), 0o644))

	got, err := findSymbols(exe, nil)
	require.NoError(t, err)
	assert.Equal(t, exe, got)

	debug := filepath.Join(t.TempDir(), "app.debug")
	require.NoError(t, os.WriteFile(debug, nil, 0o644))
	got, err = findSymbols(exe, []string{filepath.Dir(debug)})
	require.NoError(t, err)
	assert.Equal(t, debug, got)

	_, err = findSymbols(filepath.Join(dir, "missing"), nil)
	assert.ErrorIs(t, err, symbol.ErrNotFound)
}

func TestLoadImagesWarns(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "app")
	require.NoError(t, os.WriteFile(exe, []byte("not an elf"), 0o644))

	p, err := NewProcess(arch.AMD64, memory.FromBytes(memBase, make([]byte, 0x10)), Options{})
	require.NoError(t, err)
	defer p.Close()

	p.loadImages([]memory.Mapping{
		{Segment: memory.Segment{Start: 0x400000, End: 0x401000}, Path: exe},
		{Segment: memory.Segment{Start: 0x7f0000, End: 0x7f1000}, Path: filepath.Join(dir, "libgone.so")},
	}, exe, "")
	assert.Empty(t, p.Modules())
	assert.Error(t, p.Warnings())
}

func TestRetryWorkerIsolated(t *testing.T) {
	reads := affinity.NewWorker("ptrace")
	defer reads.Close()

	opts, wc := withWorker(Options{}, "symbols")
	defer wc.Close()
	require.NotNil(t, opts.Worker)

	// A retried call that reads memory through another worker completes.
	g := affinity.NewGuard(nil, opts.Worker)
	tries := 0
	v, err := affinity.Call(context.Background(), g, func() (uint64, error) {
		tries++
		if tries == 1 {
			return 0, affinity.ErrMarshalling
		}
		return affinity.Run(context.Background(), reads, func() (uint64, error) { return 42, nil })
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)
	assert.Equal(t, 2, tries)

	kept, kc := withWorker(Options{Worker: reads}, "symbols")
	assert.Same(t, reads, kept.Worker)
	require.NoError(t, kc.Close())
	_, err = affinity.Run(context.Background(), reads, func() (int, error) { return 1, nil })
	assert.NoError(t, err)
}
