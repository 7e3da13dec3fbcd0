package elfcore

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/symbol"
)

var le = binary.LittleEndian

func pad4(b *bytes.Buffer) {
	for b.Len()%4 != 0 {
		b.WriteByte(0)
	}
}

func note(typ NoteType, name string, desc []byte) []byte {
	var b bytes.Buffer
	binary.Write(&b, le, [3]uint32{uint32(len(name) + 1), uint32(len(desc)), uint32(typ)})
	b.WriteString(name)
	b.WriteByte(0)
	pad4(&b)
	b.Write(desc)
	pad4(&b)
	return b.Bytes()
}

func words(ptrSize int, vs ...uint64) []byte {
	var b bytes.Buffer
	for _, v := range vs {
		if ptrSize == 4 {
			binary.Write(&b, le, uint32(v))
		} else {
			binary.Write(&b, le, v)
		}
	}
	return b.Bytes()
}

func TestStructLayouts(t *testing.T) {
	assert.Equal(t, 144, binary.Size(prstatus32{}))
	assert.Equal(t, 336, binary.Size(prstatus64{}))
	assert.Equal(t, 124, binary.Size(prpsinfo32{}))
	assert.Equal(t, 136, binary.Size(prpsinfo64{}))
	assert.Len(t, amd64Regs, 27)
	assert.Len(t, i386Regs, 17)
}

func TestParseNotes(t *testing.T) {
	var data []byte
	data = append(data, note(NotePrPsInfo, "CORE", []byte{1, 2, 3})...)
	data = append(data, note(NoteAuxv, "CORE", nil)...)

	notes, err := ParseNotes(data, 0x100, le)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, NotePrPsInfo, notes[0].Type)
	assert.Equal(t, "CORE", notes[0].Name)
	assert.Equal(t, []byte{1, 2, 3}, notes[0].Desc)
	assert.Equal(t, int64(0x100), notes[0].Offset)
	// 12 header + 8 name + 4 desc
	assert.Equal(t, int64(0x100+24), notes[1].Offset)
	assert.Empty(t, notes[1].Desc)

	t.Run("Truncated", func(t *testing.T) {
		bad := append(bytes.Clone(data), note(NotePrStatus, "CORE", make([]byte, 16))...)
		bad = bad[:len(bad)-4]
		notes, err := ParseNotes(bad, 0, le)
		assert.Len(t, notes, 2)
		assert.ErrorIs(t, err, symbol.ErrCorruptData)
		var ne *NoteError
		require.ErrorAs(t, err, &ne)
		assert.Equal(t, NotePrStatus, ne.Type)
		assert.Equal(t, int64(len(data)), ne.Offset)
	})
}

func TestParseAuxv(t *testing.T) {
	tests := []struct {
		name    string
		ptrSize int
		desc    []byte
		want    []AuxEntry
		wantErr bool
	}{
		{
			name:    "NullTerminates",
			ptrSize: 8,
			desc:    words(8, uint64(AuxPageSize), 0x1000, uint64(AuxNull), 0, uint64(AuxEntryPoint), 0x401000),
			want:    []AuxEntry{{AuxPageSize, 0x1000}},
		},
		{
			name:    "IgnoreSkipped",
			ptrSize: 8,
			desc:    words(8, uint64(AuxIgnore), 7, uint64(AuxEntryPoint), 0x401000, uint64(AuxNull), 0),
			want:    []AuxEntry{{AuxEntryPoint, 0x401000}},
		},
		{
			name:    "NoNull",
			ptrSize: 4,
			desc:    words(4, uint64(AuxPhnum), 9, uint64(AuxBase), 0xf7f00000),
			want:    []AuxEntry{{AuxPhnum, 9}, {AuxBase, 0xf7f00000}},
		},
		{
			name:    "TrailingBytes",
			ptrSize: 8,
			desc:    append(words(8, uint64(AuxPhnum), 9), 1, 2, 3),
			want:    []AuxEntry{{AuxPhnum, 9}},
			wantErr: true,
		},
		{
			name:    "TrailingAfterNull",
			ptrSize: 8,
			desc:    append(words(8, uint64(AuxNull), 0), 1, 2, 3),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAuxv(tt.desc, tt.ptrSize, le)
			if tt.wantErr {
				assert.ErrorIs(t, err, symbol.ErrCorruptData)
			} else {
				assert.NoError(t, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseAuxv mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPrStatusX86(t *testing.T) {
	desc := make([]byte, 144)
	le.PutUint16(desc[12:], 11)
	le.PutUint32(desc[24:], 4242)
	reg := func(i int, v uint32) { le.PutUint32(desc[72+4*i:], v) }
	reg(5, 0xbffff020)  // ebp
	reg(12, 0x8048123)  // eip
	reg(15, 0xbffff000) // esp

	th, err := parsePrStatus(&Note{Type: NotePrStatus, Desc: desc}, arch.X86, le)
	require.NoError(t, err)
	assert.Equal(t, 4242, th.Pid)
	assert.Equal(t, 11, th.Signal)
	assert.Equal(t, uint64(0x8048123), th.Context.PC())
	assert.Equal(t, uint64(0xbffff000), th.Context.SP())
	assert.Equal(t, uint64(0xbffff020), th.Context.FP())
	v, ok := th.Reg("orig_eax")
	assert.True(t, ok)
	assert.Zero(t, v)

	_, err = parsePrStatus(&Note{Type: NotePrStatus, Desc: desc[:100]}, arch.X86, le)
	assert.ErrorIs(t, err, symbol.ErrCorruptData)
}

func TestPrPsInfoX86(t *testing.T) {
	desc := make([]byte, 124)
	desc[1] = 'S'
	le.PutUint32(desc[12:], 77)
	copy(desc[28:], "worker")
	copy(desc[44:], "worker --fast ")

	ps, err := parsePrPsInfo(&Note{Type: NotePrPsInfo, Desc: desc}, arch.X86, le)
	require.NoError(t, err)
	assert.Equal(t, &ProcessInfo{Pid: 77, State: 'S', Name: "worker", Args: "worker --fast"}, ps)
}

func TestParseFileNoteBounds(t *testing.T) {
	tests := []struct {
		name string
		desc []byte
	}{
		{"header only", words(8, 1, 0x1000)},
		{"entry without names", words(8, 1, 0x1000, 0x400000, 0x401000, 0)},
		{"count overflows", words(8, 1<<62, 0x1000, 0x400000)},
		{"short header", words(4, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &Note{Type: NoteFile, Desc: tt.desc}
			var (
				maps []memory.Mapping
				err  error
			)
			require.NotPanics(t, func() { maps, err = parseFileNote(n, 8, le) })
			assert.Empty(t, maps)
			assert.ErrorIs(t, err, symbol.ErrCorruptData)
			var ne *NoteError
			assert.True(t, errors.As(err, &ne))
		})
	}
}

type progSpec struct {
	typ   elf.ProgType
	flags elf.ProgFlag
	vaddr uint64
	data  []byte
	memsz uint64
}

// buildCore lays out an ELF64 core: header, program headers, then each
// segment's bytes in order.
func buildCore(progs []progSpec) []byte {
	const ehsize, phentsize = 64, 56
	off := uint64(ehsize + phentsize*len(progs))

	var hdr, body bytes.Buffer
	eh := elf.Header64{
		Type:      uint16(elf.ET_CORE),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     uint16(len(progs)),
	}
	copy(eh.Ident[:], elf.ELFMAG)
	eh.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	eh.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	eh.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	binary.Write(&hdr, le, eh)

	for _, p := range progs {
		ph := elf.Prog64{
			Type:   uint32(p.typ),
			Flags:  uint32(p.flags),
			Off:    off,
			Vaddr:  p.vaddr,
			Filesz: uint64(len(p.data)),
			Memsz:  max(p.memsz, uint64(len(p.data))),
			Align:  1,
		}
		binary.Write(&hdr, le, ph)
		body.Write(p.data)
		off += uint64(len(p.data))
	}
	return append(hdr.Bytes(), body.Bytes()...)
}

func amd64PrStatus(pid int32, rip, rsp, rbp uint64) []byte {
	desc := make([]byte, 336)
	le.PutUint16(desc[12:], 11)
	le.PutUint32(desc[32:], uint32(pid))
	reg := func(i int, v uint64) { le.PutUint64(desc[112+8*i:], v) }
	reg(4, rbp)
	reg(16, rip)
	reg(19, rsp)
	return desc
}

func testCore(t *testing.T) *Core {
	t.Helper()

	psinfo := make([]byte, 136)
	psinfo[1] = 'R'
	le.PutUint32(psinfo[24:], 1234)
	le.PutUint32(psinfo[28:], 1)
	copy(psinfo[40:], "app")
	copy(psinfo[56:], "app -v")

	siginfo := make([]byte, 128)
	le.PutUint32(siginfo[0:], 11)
	le.PutUint32(siginfo[8:], 1)
	le.PutUint64(siginfo[16:], 0xdead)

	files := words(8, 3, 0x1000,
		0x400000, 0x401000, 0,
		0x401000, 0x403000, 1,
		0x7f0000000000, 0x7f0000002000, 0)
	files = append(files, "/bin/app\x00/bin/app\x00/lib/libc.so.6\x00"...)

	auxv := words(8,
		uint64(AuxPageSize), 0x1000,
		uint64(AuxIgnore), 5,
		uint64(AuxExecFn), 0x7ffd0100,
		uint64(AuxNull), 0,
		uint64(AuxEntryPoint), 0x401000)

	var notes []byte
	notes = append(notes, note(NotePrStatus, "CORE", amd64PrStatus(1234, 0x401010, 0x7ffd0040, 0x7ffd0080))...)
	notes = append(notes, note(NotePrPsInfo, "CORE", psinfo)...)
	notes = append(notes, note(NoteSigInfo, "CORE", siginfo)...)
	notes = append(notes, note(NotePrStatus, "CORE", make([]byte, 10))...)
	notes = append(notes, note(NotePrStatus, "CORE", amd64PrStatus(1235, 0x401200, 0x7ffd0180, 0x7ffd01a0))...)
	notes = append(notes, note(NoteFile, "CORE", files)...)
	notes = append(notes, note(NoteAuxv, "CORE", auxv)...)
	notes = append(notes, note(NoteXState, "LINUX", make([]byte, 8))...)

	text := make([]byte, 0x100)
	copy(text, "\x7fELF")
	stack := make([]byte, 0x200)
	copy(stack[0x100:], "/bin/app\x00")
	le.PutUint64(stack[0x80:], 0xcafe)

	data := buildCore([]progSpec{
		{typ: elf.PT_NOTE, data: notes},
		{typ: elf.PT_LOAD, flags: elf.PF_R | elf.PF_X, vaddr: 0x400000, data: text, memsz: 0x1000},
		{typ: elf.PT_LOAD, flags: elf.PF_R, vaddr: 0x401000, memsz: 0x2000},
		{typ: elf.PT_LOAD, flags: elf.PF_R | elf.PF_W, vaddr: 0x7ffd0000, data: stack},
	})
	c, err := NewFile(bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCore(t *testing.T) {
	c := testCore(t)

	assert.Equal(t, arch.AMD64, c.Arch)
	require.Len(t, c.Threads, 2)
	th := c.Threads[0]
	assert.Equal(t, 1234, th.Pid)
	assert.Equal(t, 11, th.Signal)
	assert.Equal(t, uint64(0x401010), th.Context.PC())
	assert.Equal(t, uint64(0x7ffd0040), th.Context.SP())
	assert.Equal(t, uint64(0x7ffd0080), th.Context.FP())
	rip, ok := th.Reg("rip")
	assert.True(t, ok)
	assert.Equal(t, uint64(0x401010), rip)
	assert.Equal(t, 1235, c.Threads[1].Pid)

	assert.Equal(t, &ProcessInfo{Pid: 1234, Ppid: 1, State: 'R', Name: "app", Args: "app -v"}, c.Process)
	assert.Equal(t, &SigInfo{Signo: 11, Code: 1, Addr: 0xdead}, c.Signal)

	wantAuxv := []AuxEntry{{AuxPageSize, 0x1000}, {AuxExecFn, 0x7ffd0100}}
	if diff := cmp.Diff(wantAuxv, c.Auxv); diff != "" {
		t.Errorf("Auxv mismatch (-want +got):\n%s", diff)
	}
	_, ok = c.AuxValue(AuxEntryPoint)
	assert.False(t, ok)
	assert.Equal(t, "/bin/app", c.ExecPath())
}

func TestCoreFiles(t *testing.T) {
	c := testCore(t)

	want := []memory.Mapping{
		{Segment: memory.Segment{Start: 0x400000, End: 0x401000}, Perms: "r-xp", Path: "/bin/app"},
		{Segment: memory.Segment{Start: 0x401000, End: 0x403000, Offset: 0x1000}, Perms: "r--p", Path: "/bin/app"},
		{Segment: memory.Segment{Start: 0x7f0000000000, End: 0x7f0000002000}, Path: "/lib/libc.so.6"},
	}
	if diff := cmp.Diff(want, c.Files); diff != "" {
		t.Errorf("Files mismatch (-want +got):\n%s", diff)
	}

	mods := c.Modules()
	require.Len(t, mods, 2)
	assert.Equal(t, "/bin/app", mods[0].Path)
	assert.Equal(t, uint64(0x400000), mods[0].Start)
	assert.Equal(t, uint64(0x403000), mods[0].End)
	assert.Equal(t, "/lib/libc.so.6", mods[1].Path)
}

func TestCoreMemory(t *testing.T) {
	c := testCore(t)
	mem := c.Memory()

	v, err := memory.ReadPointer(mem, 0x7ffd0080, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xcafe), v)

	magic := make([]byte, 4)
	require.NoError(t, mem.ReadMemory(magic, 0x400000))
	assert.Equal(t, []byte("\x7fELF"), magic)

	// memsz beyond filesz and filesz 0 segments are not readable
	assert.ErrorIs(t, mem.ReadMemory(magic, 0x400100), memory.ErrUnmapped)
	assert.ErrorIs(t, mem.ReadMemory(magic, 0x401000), memory.ErrUnmapped)
}

func TestCoreWarnings(t *testing.T) {
	c := testCore(t)

	err := c.Warnings()
	require.Error(t, err)
	assert.ErrorIs(t, err, symbol.ErrCorruptData)
	var ne *NoteError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, NotePrStatus, ne.Type)
}

func TestNotCore(t *testing.T) {
	data := buildCore(nil)
	le.PutUint16(data[16:], uint16(elf.ET_EXEC))
	_, err := NewFile(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrNotCore)
}
