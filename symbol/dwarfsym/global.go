package dwarfsym

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"sort"

	"github.com/ianlancetaylor/demangle"

	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/symbol"
)

// noMemory backs evaluation of static locations, which never read memory.
var noMemory = memory.ReaderFunc(func(buf []byte, addr uint64) error {
	return fmt.Errorf("%w: %#x", memory.ErrUnmapped, addr)
})

func (p *Provider) GlobalVariableAddress(m *symbol.Module, name string) (uint64, error) {
	_, n, err := p.global(name)
	if err != nil {
		return 0, err
	}
	f := n.AttrField(dwarf.AttrLocation)
	if f.Class != dwarf.ClassExprLoc {
		return 0, fmt.Errorf("%w: global %s has a %s location", symbol.ErrUnsupportedLocation, name, f.Class)
	}

	loc := symbol.Expression{Program: f.Val.([]byte), LinkBase: p.linkBase}
	res, err := symbol.Resolve(loc, m, arch.NewThreadContext(p.arch, nil), noMemory)
	if err != nil {
		return 0, err
	}
	if res.InRegister {
		return 0, fmt.Errorf("%w: global %s is not in memory", symbol.ErrUnsupportedLocation, name)
	}
	if res.Address == p.delta(m) {
		return 0, fmt.Errorf("%w: global %s has no storage", symbol.ErrNotFound, name)
	}
	return res.Address, nil
}

func (p *Provider) GlobalVariableTypeID(m *symbol.Module, name string) (symbol.TypeID, error) {
	idx, n, err := p.global(name)
	if err != nil {
		return 0, err
	}
	if ref, ok := n.ref(dwarf.AttrType); ok {
		return symbol.TypeID(ref), nil
	}
	if decl, ok := n.ref(dwarf.AttrSpecification); ok {
		if dn, ok := idx.nodes[decl]; ok {
			if ref, ok := dn.ref(dwarf.AttrType); ok {
				return symbol.TypeID(ref), nil
			}
		}
	}
	return 0, fmt.Errorf("%w: global %s has no type", symbol.ErrNotFound, name)
}

// global finds a variable definition by qualified name. Static data
// members are indexed under their class-qualified name through the
// declaration they specify.
func (p *Provider) global(name string) (*index, *node, error) {
	idx, err := p.index()
	if err != nil {
		return nil, nil, err
	}
	n, ok := idx.globals[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: global %s", symbol.ErrNotFound, name)
	}
	return idx, n, nil
}

func (p *Provider) SymbolByAddress(m *symbol.Module, addr uint64) (string, uint64, error) {
	name, disp, err := p.SymbolByAddressRaw(m, addr)
	if err != nil {
		return "", 0, err
	}
	return demangle.Filter(name), disp, nil
}

// SymbolByAddressRaw is SymbolByAddress returning the mangled name. The
// ELF symbol table is consulted first, then the subprograms of the debug
// information.
func (p *Provider) SymbolByAddressRaw(m *symbol.Module, addr uint64) (string, uint64, error) {
	pc := addr - p.delta(m)
	if sym, disp, ok := p.symbolAt(pc); ok {
		return sym.Name, disp, nil
	}
	idx, err := p.index()
	if err != nil {
		return "", 0, err
	}
	if f, ok := idx.function(pc); ok {
		name := f.node.qname
		if linkage, ok := f.node.Val(dwarf.AttrLinkageName).(string); ok {
			name = linkage
		}
		return name, pc - f.low, nil
	}
	return "", 0, fmt.Errorf("%w: no symbol at %#x in %s", symbol.ErrNotFound, addr, m.Name)
}

// symbolAt finds the sized symbol covering the link-time address pc, or
// an unsized symbol starting exactly at it.
func (p *Provider) symbolAt(pc uint64) (elf.Symbol, uint64, bool) {
	i := sort.Search(len(p.symtab), func(i int) bool { return p.symtab[i].Value > pc }) - 1
	for ; i >= 0; i-- {
		s := p.symtab[i]
		if s.Size == 0 && s.Value == pc || pc < s.Value+s.Size {
			return s, pc - s.Value, true
		}
		if s.Value < pc && s.Size != 0 {
			break
		}
	}
	return elf.Symbol{}, 0, false
}
