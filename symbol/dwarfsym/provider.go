// Package dwarfsym answers symbol queries from DWARF debugging information
// and the ELF file that carries it.
package dwarfsym

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/go-delve/delve/pkg/dwarf/frame"
	"go.uber.org/zap"

	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/symbol"
)

// Provider implements symbol.Provider and symbol.FrameAddressProvider over
// the DWARF data of one module.
type Provider struct {
	data     *dwarf.Data
	file     *elf.File
	arch     arch.Arch
	linkBase uint64
	symtab   []elf.Symbol
	frames   frame.FrameDescriptionEntries
	log      *zap.Logger

	once sync.Once
	idx  *index
	err  error

	enums sync.Map // dwarf.Offset -> map[uint64]string
	names sync.Map // string -> dwarf.Offset
}

var (
	_ symbol.Provider             = (*Provider)(nil)
	_ symbol.FrameAddressProvider = (*Provider)(nil)
)

type Option func(*Provider)

func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// WithSymbols supplies the ELF symbol table used for address lookups and
// vtable recognition.
func WithSymbols(syms []elf.Symbol) Option {
	return func(p *Provider) { p.symtab = syms }
}

// WithFrame supplies call frame information for CanonicalFrameAddress.
func WithFrame(fdes frame.FrameDescriptionEntries) Option {
	return func(p *Provider) { p.frames = fdes }
}

// WithLinkBase sets the address the module was linked to load at. Debug
// information addresses are relocated by the difference between a
// module's base and this address.
func WithLinkBase(base uint64) Option {
	return func(p *Provider) { p.linkBase = base }
}

// Open loads the DWARF data, symbol table and call frame information of
// the ELF file at path.
func Open(path string, opts ...Option) (*Provider, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	p, err := fromELF(f, opts)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("dwarfsym: %s: %w", path, err)
	}
	return p, nil
}

func fromELF(f *elf.File, opts []Option) (*Provider, error) {
	a, err := arch.FromELFMachine(f.Machine)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", symbol.ErrUnsupportedFormat, err)
	}
	d, err := f.DWARF()
	if err != nil {
		return nil, fmt.Errorf("failed to load DWARF: %w", err)
	}
	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("failed to read symbol table: %w", err)
	}
	fdes, err := loadFrames(f, a.PtrSize())
	if err != nil {
		return nil, fmt.Errorf("failed to parse call frame information: %w", err)
	}

	base := []Option{WithSymbols(syms), WithFrame(fdes), WithLinkBase(LinkBase(f))}
	p, err := NewFromData(d, a, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	p.file = f
	return p, nil
}

func loadFrames(f *elf.File, ptrSize int) (frame.FrameDescriptionEntries, error) {
	if s := f.Section(".debug_frame"); s != nil {
		data, err := s.Data()
		if err != nil {
			return nil, err
		}
		return frame.Parse(data, f.ByteOrder, 0, ptrSize, 0)
	}
	if s := f.Section(".eh_frame"); s != nil {
		data, err := s.Data()
		if err != nil {
			return nil, err
		}
		return frame.Parse(data, f.ByteOrder, 0, ptrSize, s.Addr)
	}
	return nil, nil
}

// LinkBase returns the lowest page-aligned address of the loadable
// segments of f.
func LinkBase(f *elf.File) uint64 {
	base := ^uint64(0)
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		addr := prog.Vaddr
		if prog.Align > 1 {
			addr &^= prog.Align - 1
		}
		base = min(base, addr)
	}
	if base == ^uint64(0) {
		return 0
	}
	return base
}

// NewFromData creates a provider over already loaded DWARF data.
func NewFromData(d *dwarf.Data, a arch.Arch, opts ...Option) (*Provider, error) {
	if a == arch.Unknown {
		return nil, fmt.Errorf("%w: no architecture", symbol.ErrUnsupportedFormat)
	}
	p := &Provider{data: d, arch: a, log: zap.NewNop()}
	for _, o := range opts {
		o(p)
	}
	p.symtab = slices.DeleteFunc(slices.Clone(p.symtab), func(s elf.Symbol) bool {
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC, elf.STT_OBJECT, elf.STT_NOTYPE:
			return s.Value == 0 || s.Section == elf.SHN_UNDEF || s.Name == ""
		}
		return true
	})
	slices.SortStableFunc(p.symtab, func(a, b elf.Symbol) int {
		switch {
		case a.Value < b.Value:
			return -1
		case a.Value > b.Value:
			return 1
		}
		return 0
	})
	return p, nil
}

// Close releases the ELF file opened by Open.
func (p *Provider) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

func (p *Provider) Arch() arch.Arch { return p.arch }

func (p *Provider) Data() *dwarf.Data { return p.data }

// TypeNames returns the qualified names of the named types in sorted order.
func (p *Provider) TypeNames() ([]string, error) {
	idx, err := p.index()
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(idx.types)), nil
}

// delta is the relocation applied to link-time addresses in m.
func (p *Provider) delta(m *symbol.Module) uint64 { return m.Base - p.linkBase }

func (p *Provider) index() (*index, error) {
	p.once.Do(func() {
		p.idx, p.err = buildIndex(p.data)
		if p.err == nil {
			p.log.Debug("dwarf index built",
				zap.Int("entries", len(p.idx.nodes)),
				zap.Int("types", len(p.idx.types)),
				zap.Int("functions", len(p.idx.funcs)))
		}
	})
	return p.idx, p.err
}
