package pdbsym

import (
	"errors"
	"fmt"
	"strings"

	"github.com/skdltmxn/dbgsym/pdb"
	"github.com/skdltmxn/dbgsym/symbol"
)

func (p *Provider) GlobalVariableAddress(m *symbol.Module, name string) (uint64, error) {
	rva, _, err := p.global(name)
	if err != nil {
		return 0, err
	}
	return m.Base + uint64(rva), nil
}

func (p *Provider) GlobalVariableTypeID(m *symbol.Module, name string) (symbol.TypeID, error) {
	_, ti, err := p.global(name)
	if err != nil {
		return 0, err
	}
	return symbol.TypeID(ti), nil
}

// global resolves a data symbol by name. Names that are not found as data
// symbols are split at the last "::" and looked up as static members of
// the enclosing class, whose storage is found through the public symbol
// with the same undecorated name. A zero RVA means the symbol was
// discarded by the linker.
func (p *Provider) global(name string) (uint32, pdb.TypeIndex, error) {
	d, err := p.syms.FindData(name)
	if err == nil {
		rva, err := p.syms.RVA(d)
		if err != nil {
			return 0, 0, notFound(err)
		}
		if rva == 0 {
			return 0, 0, fmt.Errorf("%w: global %s has no storage", symbol.ErrNotFound, name)
		}
		return rva, d.TypeIndex(), nil
	}
	if !errors.Is(err, pdb.ErrSymbolNotFound) {
		return 0, 0, err
	}

	i := strings.LastIndex(name, "::")
	if i <= 0 {
		return 0, 0, fmt.Errorf("%w: global %s", symbol.ErrNotFound, name)
	}
	ti, err := p.staticMember(name[:i], name[i+2:])
	if err != nil {
		return 0, 0, err
	}
	for pub := range p.syms.Publics() {
		if pub.IsCode() || pub.DemangledName() != name {
			continue
		}
		rva, err := p.syms.RVA(pub)
		if err != nil || rva == 0 {
			break
		}
		return rva, ti, nil
	}
	return 0, 0, fmt.Errorf("%w: static member %s has no storage", symbol.ErrNotFound, name)
}

func (p *Provider) staticMember(class, member string) (pdb.TypeIndex, error) {
	t, err := p.types.ByName(class)
	if err != nil {
		return 0, notFound(err)
	}
	_, fl, err := p.udt(symbol.TypeID(t.Index()))
	if err != nil {
		return 0, err
	}
	for _, s := range fl.Static {
		if s.Name == member {
			return pdb.TypeIndex(s.Type), nil
		}
	}
	return 0, fmt.Errorf("%w: %s has no static member %s", symbol.ErrNotFound, class, member)
}
