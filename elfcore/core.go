// Package elfcore reads Linux ELF core dumps: the thread register sets,
// mapped files and auxiliary vector from the PT_NOTE segments, and process
// memory from the PT_LOAD segments.
package elfcore

import (
	"bytes"
	"cmp"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/symbol"
)

// maxPathLen bounds strings read from dump memory.
const maxPathLen = 4096

type options struct {
	log *zap.Logger
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// Core is an opened core dump. Notes that fail to decode are skipped and
// reported by Warnings.
type Core struct {
	Arch    arch.Arch
	Threads []*Thread
	Process *ProcessInfo // nil without NT_PRPSINFO
	Signal  *SigInfo     // nil without NT_SIGINFO
	Files   []memory.Mapping
	Auxv    []AuxEntry

	mem      *memory.Dump
	loads    []elf.ProgHeader
	warnings *multierror.Error
	log      *zap.Logger
}

// Open maps the named core file and parses it.
func Open(name string, opts ...Option) (*Core, error) {
	f, err := memory.OpenMapped(name)
	if err != nil {
		return nil, fmt.Errorf("elfcore: failed to open %s: %w", name, err)
	}
	c, err := NewFile(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

// NewFile parses a core dump read from r. Memory reads go to r for as long
// as the Core is used.
func NewFile(r io.ReaderAt, opts ...Option) (*Core, error) {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("elfcore: failed to parse ELF header: %w", err)
	}
	if f.Type != elf.ET_CORE {
		return nil, fmt.Errorf("%w: type is %s", ErrNotCore, f.Type)
	}
	a, err := arch.FromELFMachine(f.Machine)
	if err != nil {
		return nil, fmt.Errorf("elfcore: %w", err)
	}
	if (a.PtrSize() == 4) != (f.Class == elf.ELFCLASS32) {
		return nil, fmt.Errorf("%w: %s with %s", ErrUnsupported, f.Class, a)
	}

	c := &Core{Arch: a, log: o.log}
	var segs []memory.Segment
	for _, p := range f.Progs {
		switch p.Type {
		case elf.PT_LOAD:
			c.loads = append(c.loads, p.ProgHeader)
			if p.Filesz == 0 {
				continue
			}
			if p.Memsz < p.Filesz {
				return nil, fmt.Errorf("elfcore: %w: segment at %#x has filesz %#x > memsz %#x",
					symbol.ErrCorruptData, p.Vaddr, p.Filesz, p.Memsz)
			}
			segs = append(segs, memory.Segment{Start: p.Vaddr, End: p.Vaddr + p.Filesz, Offset: p.Off})
		case elf.PT_NOTE:
			c.readNotes(p, f.ByteOrder)
		}
	}

	c.mem, err = memory.NewDump(r, segs)
	if err != nil {
		return nil, fmt.Errorf("elfcore: %w: %w", symbol.ErrCorruptData, err)
	}
	slices.SortFunc(c.Files, func(x, y memory.Mapping) int {
		return cmp.Compare(x.Start, y.Start)
	})
	for i := range c.Files {
		c.Files[i].Perms = c.perms(c.Files[i].Start)
	}

	c.log.Debug("core opened",
		zap.Stringer("arch", a),
		zap.Int("threads", len(c.Threads)),
		zap.Int("segments", len(segs)),
		zap.Int("files", len(c.Files)))
	return c, nil
}

func (c *Core) warn(err error) {
	c.log.Debug("note skipped", zap.Error(err))
	c.warnings = multierror.Append(c.warnings, err)
}

func (c *Core) readNotes(p *elf.Prog, order binary.ByteOrder) {
	data := make([]byte, p.Filesz)
	if _, err := p.ReadAt(data, 0); err != nil {
		c.warn(&NoteError{Offset: int64(p.Off), Message: "unreadable note segment", Err: err})
		return
	}
	notes, err := ParseNotes(data, int64(p.Off), order)
	if err != nil {
		c.warn(err)
	}
	for i := range notes {
		c.decode(&notes[i], order)
	}
}

func (c *Core) decode(n *Note, order binary.ByteOrder) {
	ptr := c.Arch.PtrSize()
	switch n.Type {
	case NotePrStatus:
		t, err := parsePrStatus(n, c.Arch, order)
		if err != nil {
			c.warn(err)
			return
		}
		c.Threads = append(c.Threads, t)
	case NotePrPsInfo:
		ps, err := parsePrPsInfo(n, c.Arch, order)
		if err != nil {
			c.warn(err)
			return
		}
		c.Process = ps
	case NoteSigInfo:
		si, err := parseSigInfo(n, ptr, order)
		if err != nil {
			c.warn(err)
			return
		}
		c.Signal = si
	case NoteFile:
		files, err := parseFileNote(n, ptr, order)
		if err != nil {
			c.warn(err)
		}
		c.Files = append(c.Files, files...)
	case NoteAuxv:
		auxv, err := ParseAuxv(n.Desc, ptr, order)
		if err != nil {
			c.warn(noteError(n, "bad auxiliary vector", err))
		}
		c.Auxv = auxv
	default:
		c.log.Debug("note ignored", zap.Stringer("type", n.Type), zap.String("name", n.Name))
	}
}

func (c *Core) perms(addr uint64) string {
	for _, p := range c.loads {
		if p.Vaddr != addr {
			continue
		}
		b := []byte("---p")
		if p.Flags&elf.PF_R != 0 {
			b[0] = 'r'
		}
		if p.Flags&elf.PF_W != 0 {
			b[1] = 'w'
		}
		if p.Flags&elf.PF_X != 0 {
			b[2] = 'x'
		}
		return string(b)
	}
	return ""
}

// Memory reads the dumped process memory.
func (c *Core) Memory() *memory.Dump { return c.mem }

// Warnings returns the notes that were skipped, or nil.
func (c *Core) Warnings() error { return c.warnings.ErrorOrNil() }

func (c *Core) Close() error { return c.mem.Close() }

// AuxValue returns the value of the first auxiliary vector entry of type t.
func (c *Core) AuxValue(t AuxType) (uint64, bool) {
	for _, e := range c.Auxv {
		if e.Type == t {
			return e.Value, true
		}
	}
	return 0, false
}

// Modules returns the images mapped in the process, one per file mapped
// from offset 0.
func (c *Core) Modules() []memory.Mapping { return memory.Images(c.Files) }

// ExecPath returns the path of the executable from the AT_EXECFN string,
// falling back to the command name in NT_PRPSINFO.
func (c *Core) ExecPath() string {
	if addr, ok := c.AuxValue(AuxExecFn); ok {
		if s, err := c.readString(addr); err == nil && s != "" {
			return s
		}
	}
	if c.Process != nil {
		return c.Process.Name
	}
	return ""
}

func (c *Core) readString(addr uint64) (string, error) {
	var out []byte
	var chunk [64]byte
	for len(out) < maxPathLen {
		seg, ok := c.mem.Segment(addr)
		if !ok {
			return "", fmt.Errorf("%w: %#x", memory.ErrUnmapped, addr)
		}
		n := min(uint64(len(chunk)), seg.End-addr)
		if err := c.mem.ReadMemory(chunk[:n], addr); err != nil {
			return "", err
		}
		if i := bytes.IndexByte(chunk[:n], 0); i >= 0 {
			return string(append(out, chunk[:i]...)), nil
		}
		out = append(out, chunk[:n]...)
		addr += n
	}
	return string(out), nil
}
