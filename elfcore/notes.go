package elfcore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/go-delve/delve/pkg/dwarf/regnum"

	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/symbol"
)

// NoteType is the n_type of an ELF note.
type NoteType uint32

// See /usr/include/linux/elf.h.
const (
	NotePrStatus NoteType = 1
	NoteFPRegs   NoteType = 2
	NotePrPsInfo NoteType = 3
	NoteAuxv     NoteType = 6
	NoteXState   NoteType = 0x202
	NoteSigInfo  NoteType = 0x53494749
	NoteFile     NoteType = 0x46494c45
)

var noteNames = map[NoteType]string{
	NotePrStatus: "NT_PRSTATUS",
	NoteFPRegs:   "NT_PRFPREG",
	NotePrPsInfo: "NT_PRPSINFO",
	NoteAuxv:     "NT_AUXV",
	NoteXState:   "NT_X86_XSTATE",
	NoteSigInfo:  "NT_SIGINFO",
	NoteFile:     "NT_FILE",
}

func (t NoteType) String() string {
	if s, ok := noteNames[t]; ok {
		return s
	}
	return fmt.Sprintf("NoteType(%#x)", uint32(t))
}

const noteHeaderSize = 12

// Note is one entry of a PT_NOTE segment.
type Note struct {
	Type   NoteType
	Name   string
	Desc   []byte
	Offset int64
}

func align4(n uint64) uint64 { return (n + 3) &^ 3 }

// ParseNotes splits the contents of a PT_NOTE segment found at file offset
// base. Name and desc are padded to 4 bytes. A note running past the end of
// data stops the walk; the notes before it are returned with the error.
func ParseNotes(data []byte, base int64, order binary.ByteOrder) ([]Note, error) {
	var notes []Note
	off := uint64(0)
	for off < uint64(len(data)) {
		n := Note{Offset: base + int64(off)}
		if uint64(len(data))-off < noteHeaderSize {
			return notes, noteError(&n, "truncated header", nil)
		}
		namesz := uint64(order.Uint32(data[off:]))
		descsz := uint64(order.Uint32(data[off+4:]))
		n.Type = NoteType(order.Uint32(data[off+8:]))

		p := off + noteHeaderSize
		if align4(namesz)+align4(descsz) > uint64(len(data))-p {
			return notes, noteError(&n, fmt.Sprintf("namesz %d descsz %d overrun segment", namesz, descsz), nil)
		}
		n.Name = strings.TrimRight(string(data[p:p+namesz]), "\x00")
		p += align4(namesz)
		n.Desc = data[p : p+descsz]
		notes = append(notes, n)
		off = p + align4(descsz)
	}
	return notes, nil
}

func readStruct(n *Note, order binary.ByteOrder, v any, what string) error {
	if size := binary.Size(v); len(n.Desc) < size {
		return noteError(n, fmt.Sprintf("%s needs %d bytes, have %d", what, size, len(n.Desc)), nil)
	}
	if err := binary.Read(bytes.NewReader(n.Desc), order, v); err != nil {
		return noteError(n, "failed to read "+what, err)
	}
	return nil
}

func readWord(b []byte, size int, order binary.ByteOrder) uint64 {
	if size == 4 {
		return uint64(order.Uint32(b))
	}
	return order.Uint64(b)
}

// See linux's include/uapi/linux/elfcore.h.

type elfSiginfo struct {
	Signo int32
	Code  int32
	Errno int32
}

type timeval32 struct{ Sec, Usec int32 }
type timeval64 struct{ Sec, Usec int64 }

type prstatus32 struct {
	Info    elfSiginfo
	Cursig  uint16
	_       uint16
	Sigpend uint32
	Sighold uint32
	Pid     int32
	Ppid    int32
	Pgrp    int32
	Sid     int32
	Utime   timeval32
	Stime   timeval32
	Cutime  timeval32
	Cstime  timeval32
	Reg     [17]uint32
	Fpvalid int32
}

type prstatus64 struct {
	Info    elfSiginfo
	Cursig  uint16
	_       uint16
	Sigpend uint64
	Sighold uint64
	Pid     int32
	Ppid    int32
	Pgrp    int32
	Sid     int32
	Utime   timeval64
	Stime   timeval64
	Cutime  timeval64
	Cstime  timeval64
	Reg     [27]uint64
	Fpvalid int32
	_       int32
}

type prpsinfo32 struct {
	State  uint8
	Sname  uint8
	Zombie uint8
	Nice   int8
	Flag   uint32
	Uid    uint16
	Gid    uint16
	Pid    int32
	Ppid   int32
	Pgrp   int32
	Sid    int32
	Fname  [16]byte
	Psargs [80]byte
}

type prpsinfo64 struct {
	State  uint8
	Sname  uint8
	Zombie uint8
	Nice   int8
	_      [4]byte
	Flag   uint64
	Uid    uint32
	Gid    uint32
	Pid    int32
	Ppid   int32
	Pgrp   int32
	Sid    int32
	Fname  [16]byte
	Psargs [80]byte
}

// noReg marks a kernel register with no DWARF number.
const noReg = -1

type regSpec struct {
	name string
	num  int
}

// user_regs_struct order, arch/x86/include/uapi/asm/ptrace.h.
var amd64Regs = []regSpec{
	{"r15", regnum.AMD64_R15}, {"r14", regnum.AMD64_R14}, {"r13", regnum.AMD64_R13},
	{"r12", regnum.AMD64_R12}, {"rbp", regnum.AMD64_Rbp}, {"rbx", regnum.AMD64_Rbx},
	{"r11", regnum.AMD64_R11}, {"r10", regnum.AMD64_R10}, {"r9", regnum.AMD64_R9},
	{"r8", regnum.AMD64_R8}, {"rax", regnum.AMD64_Rax}, {"rcx", regnum.AMD64_Rcx},
	{"rdx", regnum.AMD64_Rdx}, {"rsi", regnum.AMD64_Rsi}, {"rdi", regnum.AMD64_Rdi},
	{"orig_rax", noReg}, {"rip", regnum.AMD64_Rip}, {"cs", regnum.AMD64_Cs},
	{"rflags", regnum.AMD64_Rflags}, {"rsp", regnum.AMD64_Rsp}, {"ss", regnum.AMD64_Ss},
	{"fs_base", regnum.AMD64_Fs_base}, {"gs_base", regnum.AMD64_Gs_base},
	{"ds", regnum.AMD64_Ds}, {"es", regnum.AMD64_Es}, {"fs", regnum.AMD64_Fs},
	{"gs", regnum.AMD64_Gs},
}

var i386Regs = []regSpec{
	{"ebx", regnum.I386_Ebx}, {"ecx", regnum.I386_Ecx}, {"edx", regnum.I386_Edx},
	{"esi", regnum.I386_Esi}, {"edi", regnum.I386_Edi}, {"ebp", regnum.I386_Ebp},
	{"eax", regnum.I386_Eax}, {"ds", regnum.I386_Ds}, {"es", regnum.I386_Es},
	{"fs", regnum.I386_Fs}, {"gs", regnum.I386_Gs}, {"orig_eax", noReg},
	{"eip", regnum.I386_Eip}, {"cs", regnum.I386_Cs}, {"eflags", regnum.I386_Eflags},
	{"esp", regnum.I386_Esp}, {"ss", regnum.I386_Ss},
}

// Register is one general purpose register as the kernel saved it.
type Register struct {
	Name  string
	Value uint64
}

// Thread is the state of one thread from its NT_PRSTATUS note.
type Thread struct {
	Pid    int
	Signal int
	// Regs are in the kernel's user_regs_struct order.
	Regs    []Register
	Context *arch.ThreadContext
}

func (t *Thread) Reg(name string) (uint64, bool) {
	for _, r := range t.Regs {
		if r.Name == name {
			return r.Value, true
		}
	}
	return 0, false
}

func newThread(a arch.Arch, pid int32, sig uint16, specs []regSpec, values func(i int) uint64) *Thread {
	t := &Thread{Pid: int(pid), Signal: int(sig), Regs: make([]Register, len(specs))}
	dwarf := make(map[uint64]uint64, len(specs))
	for i, s := range specs {
		v := values(i)
		t.Regs[i] = Register{Name: s.name, Value: v}
		if s.num != noReg {
			dwarf[uint64(s.num)] = v
		}
	}
	t.Context = arch.NewThreadContext(a, dwarf)
	return t
}

func parsePrStatus(n *Note, a arch.Arch, order binary.ByteOrder) (*Thread, error) {
	switch a {
	case arch.AMD64:
		var st prstatus64
		if err := readStruct(n, order, &st, "prstatus64"); err != nil {
			return nil, err
		}
		return newThread(a, st.Pid, st.Cursig, amd64Regs, func(i int) uint64 { return st.Reg[i] }), nil
	case arch.X86:
		var st prstatus32
		if err := readStruct(n, order, &st, "prstatus32"); err != nil {
			return nil, err
		}
		return newThread(a, st.Pid, st.Cursig, i386Regs, func(i int) uint64 { return uint64(st.Reg[i]) }), nil
	}
	return nil, fmt.Errorf("%w: prstatus for %s", ErrUnsupported, a)
}

// ProcessInfo is the NT_PRPSINFO note.
type ProcessInfo struct {
	Pid, Ppid int
	Uid, Gid  uint32
	State     byte
	// Name is the command name, truncated to 15 bytes by the kernel.
	Name string
	Args string
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func parsePrPsInfo(n *Note, a arch.Arch, order binary.ByteOrder) (*ProcessInfo, error) {
	switch a {
	case arch.AMD64:
		var ps prpsinfo64
		if err := readStruct(n, order, &ps, "prpsinfo64"); err != nil {
			return nil, err
		}
		return &ProcessInfo{
			Pid: int(ps.Pid), Ppid: int(ps.Ppid), Uid: ps.Uid, Gid: ps.Gid, State: ps.Sname,
			Name: cstring(ps.Fname[:]), Args: strings.TrimSpace(cstring(ps.Psargs[:])),
		}, nil
	case arch.X86:
		var ps prpsinfo32
		if err := readStruct(n, order, &ps, "prpsinfo32"); err != nil {
			return nil, err
		}
		return &ProcessInfo{
			Pid: int(ps.Pid), Ppid: int(ps.Ppid), Uid: uint32(ps.Uid), Gid: uint32(ps.Gid), State: ps.Sname,
			Name: cstring(ps.Fname[:]), Args: strings.TrimSpace(cstring(ps.Psargs[:])),
		}, nil
	}
	return nil, fmt.Errorf("%w: prpsinfo for %s", ErrUnsupported, a)
}

// SigInfo is the siginfo_t of the signal that killed the process.
type SigInfo struct {
	Signo int32
	Errno int32
	Code  int32
	// Addr is the faulting address for SIGILL, SIGFPE, SIGSEGV and SIGBUS.
	Addr uint64
}

const (
	sigill  = 4
	sigbus  = 7
	sigfpe  = 8
	sigsegv = 11
)

func parseSigInfo(n *Note, ptrSize int, order binary.ByteOrder) (*SigInfo, error) {
	// the union is pointer aligned after three ints
	union := 12
	if ptrSize == 8 {
		union = 16
	}
	if len(n.Desc) < union+ptrSize {
		return nil, noteError(n, fmt.Sprintf("siginfo needs %d bytes, have %d", union+ptrSize, len(n.Desc)), nil)
	}
	si := &SigInfo{
		Signo: int32(order.Uint32(n.Desc)),
		Errno: int32(order.Uint32(n.Desc[4:])),
		Code:  int32(order.Uint32(n.Desc[8:])),
	}
	switch si.Signo {
	case sigill, sigbus, sigfpe, sigsegv:
		si.Addr = readWord(n.Desc[union:], ptrSize, order)
	}
	return si, nil
}

// parseFileNote decodes NT_FILE: count and page size words, count
// (start, end, page offset) triples, then count NUL terminated names.
func parseFileNote(n *Note, ptrSize int, order binary.ByteOrder) ([]memory.Mapping, error) {
	w := uint64(ptrSize)
	d := n.Desc
	if uint64(len(d)) < 2*w {
		return nil, noteError(n, "truncated header", nil)
	}
	count := readWord(d, ptrSize, order)
	pageSize := readWord(d[w:], ptrSize, order)
	if count > (uint64(len(d))-2*w)/(3*w) {
		return nil, noteError(n, fmt.Sprintf("%d entries do not fit in %d bytes", count, len(d)), nil)
	}
	names := d[2*w+3*w*count:]

	maps := make([]memory.Mapping, 0, count)
	for i := range count {
		e := d[2*w+3*w*i:]
		if len(names) == 0 {
			return maps, noteError(n, fmt.Sprintf("missing name for entry %d", i), nil)
		}
		name, rest, _ := bytes.Cut(names, []byte{0})
		names = rest
		maps = append(maps, memory.Mapping{
			Segment: memory.Segment{
				Start:  readWord(e, ptrSize, order),
				End:    readWord(e[w:], ptrSize, order),
				Offset: readWord(e[2*w:], ptrSize, order) * pageSize,
			},
			Path: string(name),
		})
	}
	return maps, nil
}

// AuxType is the a_type of an auxiliary vector entry.
type AuxType uint64

// See /usr/include/linux/auxvec.h.
const (
	AuxNull        AuxType = 0
	AuxIgnore      AuxType = 1
	AuxPhdr        AuxType = 3
	AuxPhent       AuxType = 4
	AuxPhnum       AuxType = 5
	AuxPageSize    AuxType = 6
	AuxBase        AuxType = 7
	AuxEntryPoint  AuxType = 9
	AuxUID         AuxType = 11
	AuxPlatform    AuxType = 15
	AuxHWCap       AuxType = 16
	AuxClockTick   AuxType = 17
	AuxSecure      AuxType = 23
	AuxRandom      AuxType = 25
	AuxExecFn      AuxType = 31
	AuxSysinfoEhdr AuxType = 33
)

var auxNames = map[AuxType]string{
	AuxNull:        "AT_NULL",
	AuxIgnore:      "AT_IGNORE",
	AuxPhdr:        "AT_PHDR",
	AuxPhent:       "AT_PHENT",
	AuxPhnum:       "AT_PHNUM",
	AuxPageSize:    "AT_PAGESZ",
	AuxBase:        "AT_BASE",
	AuxEntryPoint:  "AT_ENTRY",
	AuxUID:         "AT_UID",
	AuxPlatform:    "AT_PLATFORM",
	AuxHWCap:       "AT_HWCAP",
	AuxClockTick:   "AT_CLKTCK",
	AuxSecure:      "AT_SECURE",
	AuxRandom:      "AT_RANDOM",
	AuxExecFn:      "AT_EXECFN",
	AuxSysinfoEhdr: "AT_SYSINFO_EHDR",
}

func (t AuxType) String() string {
	if s, ok := auxNames[t]; ok {
		return s
	}
	return fmt.Sprintf("AT_%d", uint64(t))
}

type AuxEntry struct {
	Type  AuxType
	Value uint64
}

// ParseAuxv decodes an auxiliary vector of pointer sized (type, value)
// pairs. AuxNull ends the vector even when bytes remain and AuxIgnore
// entries are dropped. A trailing partial pair before any AuxNull is an
// error; the entries read so far are still returned.
func ParseAuxv(desc []byte, ptrSize int, order binary.ByteOrder) ([]AuxEntry, error) {
	pair := 2 * ptrSize
	var out []AuxEntry
	for off := 0; off < len(desc); off += pair {
		if len(desc)-off < pair {
			return out, fmt.Errorf("elfcore: %w: auxv has %d trailing bytes", symbol.ErrCorruptData, len(desc)-off)
		}
		e := AuxEntry{
			Type:  AuxType(readWord(desc[off:], ptrSize, order)),
			Value: readWord(desc[off+ptrSize:], ptrSize, order),
		}
		switch e.Type {
		case AuxNull:
			return out, nil
		case AuxIgnore:
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
