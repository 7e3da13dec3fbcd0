package pdb

import (
	"fmt"
	"iter"
	"sync"

	"github.com/skdltmxn/dbgsym/internal/demangle"
	"github.com/skdltmxn/dbgsym/internal/symbols"
)

// SymbolKind identifies the type of symbol.
type SymbolKind uint16

const (
	SymbolKindUnknown SymbolKind = iota
	SymbolKindPublic
	SymbolKindFunction
	SymbolKindData
	SymbolKindUDT
	SymbolKindConstant
)

func (k SymbolKind) String() string {
	switch k {
	case SymbolKindPublic:
		return "public"
	case SymbolKindFunction:
		return "function"
	case SymbolKindData:
		return "data"
	case SymbolKindUDT:
		return "udt"
	case SymbolKindConstant:
		return "constant"
	default:
		return "unknown"
	}
}

// Symbol is the interface implemented by all symbol types.
type Symbol interface {
	// Name returns the raw (possibly mangled) symbol name.
	Name() string

	// DemangledName returns the demangled name, or the raw name if not mangled.
	DemangledName() string

	Kind() SymbolKind

	// Section returns the section number (1-based, 0 = no section).
	Section() uint16

	Offset() uint32
}

type baseSymbol struct {
	name          string
	demangledName string
	demangledOnce sync.Once
}

func (s *baseSymbol) Name() string { return s.name }

func (s *baseSymbol) DemangledName() string {
	s.demangledOnce.Do(func() {
		s.demangledName = demangle.DemangleSimple(s.name)
	})
	return s.demangledName
}

// PublicSymbol is an S_PUB32 entry.
type PublicSymbol struct {
	baseSymbol
	section uint16
	offset  uint32
	flags   symbols.PublicSymFlags
}

func (s *PublicSymbol) Kind() SymbolKind { return SymbolKindPublic }
func (s *PublicSymbol) Section() uint16  { return s.section }
func (s *PublicSymbol) Offset() uint32   { return s.offset }
func (s *PublicSymbol) IsCode() bool     { return s.flags.IsCode() }
func (s *PublicSymbol) IsFunction() bool { return s.flags.IsFunction() }

// FunctionSymbol is a procedure from a module symbol stream.
type FunctionSymbol struct {
	baseSymbol
	section   uint16
	offset    uint32
	length    uint32
	typeIndex TypeIndex
}

func (s *FunctionSymbol) Kind() SymbolKind     { return SymbolKindFunction }
func (s *FunctionSymbol) Section() uint16      { return s.section }
func (s *FunctionSymbol) Offset() uint32       { return s.offset }
func (s *FunctionSymbol) Length() uint32       { return s.length }
func (s *FunctionSymbol) TypeIndex() TypeIndex { return s.typeIndex }

// DataSymbol is a global or file-static variable.
type DataSymbol struct {
	baseSymbol
	section   uint16
	offset    uint32
	typeIndex TypeIndex
	global    bool
}

func (s *DataSymbol) Kind() SymbolKind     { return SymbolKindData }
func (s *DataSymbol) Section() uint16      { return s.section }
func (s *DataSymbol) Offset() uint32       { return s.offset }
func (s *DataSymbol) TypeIndex() TypeIndex { return s.typeIndex }
func (s *DataSymbol) IsGlobal() bool       { return s.global }

// UDTSymbol is a typedef or user-defined type name.
type UDTSymbol struct {
	baseSymbol
	typeIndex TypeIndex
}

func (s *UDTSymbol) Kind() SymbolKind     { return SymbolKindUDT }
func (s *UDTSymbol) Section() uint16      { return 0 }
func (s *UDTSymbol) Offset() uint32       { return 0 }
func (s *UDTSymbol) TypeIndex() TypeIndex { return s.typeIndex }

// ConstantSymbol is a named compile-time constant.
type ConstantSymbol struct {
	baseSymbol
	value     uint64
	typeIndex TypeIndex
}

func (s *ConstantSymbol) Kind() SymbolKind     { return SymbolKindConstant }
func (s *ConstantSymbol) Section() uint16      { return 0 }
func (s *ConstantSymbol) Offset() uint32       { return 0 }
func (s *ConstantSymbol) Value() uint64        { return s.value }
func (s *ConstantSymbol) TypeIndex() TypeIndex { return s.typeIndex }

// SymbolTable provides access to the global symbols of the PDB.
type SymbolTable struct {
	index    *symbols.Index
	sections *SectionHeaders // nil when the PDB has no section headers

	publics     []*PublicSymbol
	publicsOnce sync.Once
}

// Symbols returns the global symbol table.
func (f *File) Symbols() (*SymbolTable, error) {
	idx, err := f.symbolIndex()
	if err != nil {
		return nil, err
	}
	st := &SymbolTable{index: idx}
	if sh, err := f.Sections(); err == nil {
		st.sections = sh
	}
	return st, nil
}

// Publics returns an iterator over public symbols in address order.
func (st *SymbolTable) Publics() iter.Seq[*PublicSymbol] {
	return func(yield func(*PublicSymbol) bool) {
		st.loadPublics()
		for _, p := range st.publics {
			if !yield(p) {
				return
			}
		}
	}
}

func (st *SymbolTable) loadPublics() {
	st.publicsOnce.Do(func() {
		pubs := st.index.Publics()
		st.publics = make([]*PublicSymbol, len(pubs))
		for i, p := range pubs {
			st.publics[i] = newPublic(p)
		}
	})
}

func newPublic(p symbols.Public) *PublicSymbol {
	return &PublicSymbol{
		baseSymbol: baseSymbol{name: p.Name},
		section:    p.Section,
		offset:     p.Offset,
		flags:      p.Flags,
	}
}

// ByName returns every global symbol with the given raw name.
func (st *SymbolTable) ByName(name string) []Symbol {
	var out []Symbol
	for _, rec := range st.index.FindByName(name) {
		if sym := convertSymbolRecord(rec); sym != nil {
			out = append(out, sym)
		}
	}
	return out
}

// FindData returns the data symbol named name. Global definitions win
// over file-static ones.
func (st *SymbolTable) FindData(name string) (*DataSymbol, error) {
	var found *DataSymbol
	for _, sym := range st.ByName(name) {
		d, ok := sym.(*DataSymbol)
		if !ok {
			continue
		}
		if d.global {
			return d, nil
		}
		if found == nil {
			found = d
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, name)
	}
	return found, nil
}

// RVA converts the section:offset of sym to a relative virtual address.
func (st *SymbolTable) RVA(sym Symbol) (uint32, error) {
	if st.sections == nil {
		return 0, ErrNoSectionHeaders
	}
	rva, ok := st.sections.ToRVA(sym.Section(), sym.Offset())
	if !ok {
		return 0, fmt.Errorf("%w: bad section %d for %s", ErrSymbolNotFound, sym.Section(), sym.Name())
	}
	return rva, nil
}

// ByAddress returns the public symbol at or before rva within the same
// section and the displacement from it.
func (st *SymbolTable) ByAddress(rva uint32) (*PublicSymbol, uint32, error) {
	if st.sections == nil {
		return nil, 0, ErrNoSectionHeaders
	}
	sec, off, ok := st.sections.FindSection(rva)
	if !ok {
		return nil, 0, fmt.Errorf("%w: rva %#x outside every section", ErrSymbolNotFound, rva)
	}
	p, _, found := st.index.FindByAddress(sec, off)
	if !found {
		return nil, 0, fmt.Errorf("%w: rva %#x", ErrSymbolNotFound, rva)
	}
	return newPublic(p), off - p.Offset, nil
}

func convertSymbolRecord(rec *symbols.SymbolRecord) Symbol {
	switch rec.Kind {
	case symbols.S_PUB32:
		p, err := symbols.ParsePublicSym32(rec.Data)
		if err != nil {
			return nil
		}
		return newPublic(symbols.Public{Section: p.Segment, Offset: p.Offset, Flags: p.Flags, Name: p.Name})

	case symbols.S_GDATA32, symbols.S_LDATA32:
		d, err := symbols.ParseDataSym(rec.Data)
		if err != nil {
			return nil
		}
		return &DataSymbol{
			baseSymbol: baseSymbol{name: d.Name},
			section:    d.Segment,
			offset:     d.Offset,
			typeIndex:  TypeIndex(d.Type),
			global:     rec.Kind == symbols.S_GDATA32,
		}

	case symbols.S_GPROC32, symbols.S_LPROC32, symbols.S_GPROC32_ID, symbols.S_LPROC32_ID:
		p, err := symbols.ParseProcSym(rec.Data)
		if err != nil {
			return nil
		}
		return &FunctionSymbol{
			baseSymbol: baseSymbol{name: p.Name},
			section:    p.Segment,
			offset:     p.CodeOffset,
			length:     p.CodeSize,
			typeIndex:  TypeIndex(p.FunctionType),
		}

	case symbols.S_UDT:
		u, err := symbols.ParseUDTSym(rec.Data)
		if err != nil {
			return nil
		}
		return &UDTSymbol{baseSymbol: baseSymbol{name: u.Name}, typeIndex: TypeIndex(u.Type)}

	case symbols.S_CONSTANT:
		c, err := symbols.ParseConstantSym(rec.Data)
		if err != nil {
			return nil
		}
		return &ConstantSymbol{baseSymbol: baseSymbol{name: c.Name}, value: c.Value, typeIndex: TypeIndex(c.Type)}
	}
	return nil
}
