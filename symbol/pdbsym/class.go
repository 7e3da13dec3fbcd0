package pdbsym

import (
	"fmt"

	"github.com/skdltmxn/dbgsym/internal/demangle"
	"github.com/skdltmxn/dbgsym/internal/tpi"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/pdb"
	"github.com/skdltmxn/dbgsym/symbol"
)

// maxDepth bounds inheritance walks so that a cyclic base list in a
// corrupt PDB cannot recurse forever.
const maxDepth = 64

func errTooDeep(id symbol.TypeID) error {
	return fmt.Errorf("%w: inheritance of type %#x too deep", symbol.ErrCorruptData, uint64(id))
}

func (p *Provider) FieldNames(m *symbol.Module, id symbol.TypeID) ([]string, error) {
	_, fl, err := p.udt(id)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(fl.Members))
	for _, mem := range fl.Members {
		names = append(names, mem.Name)
	}
	return names, nil
}

func (p *Provider) FieldTypeAndOffset(m *symbol.Module, id symbol.TypeID, field string) (symbol.TypeID, int64, error) {
	ct, fl, err := p.udt(id)
	if err != nil {
		return 0, 0, err
	}
	for _, mem := range fl.Members {
		if mem.Name == field {
			return symbol.TypeID(mem.Type), int64(mem.Offset), nil
		}
	}
	return 0, 0, fmt.Errorf("%w: %s has no field %q", symbol.ErrNotFound, ct.Name(), field)
}

func (p *Provider) AllFieldNames(m *symbol.Module, id symbol.TypeID) ([]string, error) {
	var names []string
	err := p.walkFields(id, 0, func(name string) { names = append(names, name) })
	return names, err
}

// walkFields visits the members of every base before the members of the
// type itself.
func (p *Provider) walkFields(id symbol.TypeID, depth int, visit func(string)) error {
	if depth > maxDepth {
		return errTooDeep(id)
	}
	_, fl, err := p.udt(id)
	if err != nil {
		return err
	}
	for _, b := range fl.Bases {
		if err := p.walkFields(symbol.TypeID(b.Type), depth+1, visit); err != nil {
			return err
		}
	}
	for _, vb := range fl.VirtualBases {
		if vb.Indirect {
			continue
		}
		if err := p.walkFields(symbol.TypeID(vb.Type), depth+1, visit); err != nil {
			return err
		}
	}
	for _, mem := range fl.Members {
		visit(mem.Name)
	}
	return nil
}

func (p *Provider) AllFieldTypeAndOffset(m *symbol.Module, id symbol.TypeID, field string) (symbol.TypeID, symbol.BaseOffset, error) {
	typ, off, ok, err := p.findField(id, field, 0)
	if err != nil {
		return 0, symbol.BaseOffset{}, err
	}
	if !ok {
		return 0, symbol.BaseOffset{}, fmt.Errorf("%w: no field %q in type %#x or its bases", symbol.ErrNotFound, field, uint64(id))
	}
	return typ, off, nil
}

// findField looks in the type itself first so that a derived member
// hides a base member of the same name.
func (p *Provider) findField(id symbol.TypeID, field string, depth int) (symbol.TypeID, symbol.BaseOffset, bool, error) {
	if depth > maxDepth {
		return 0, symbol.BaseOffset{}, false, errTooDeep(id)
	}
	_, fl, err := p.udt(id)
	if err != nil {
		return 0, symbol.BaseOffset{}, false, err
	}
	for _, mem := range fl.Members {
		if mem.Name == field {
			return symbol.TypeID(mem.Type), symbol.StaticOffset(int64(mem.Offset)), true, nil
		}
	}
	for _, b := range fl.Bases {
		typ, off, ok, err := p.findField(symbol.TypeID(b.Type), field, depth+1)
		if err != nil || ok {
			return typ, symbol.StaticOffset(int64(b.Offset)).Then(off), ok, err
		}
	}
	for _, vb := range fl.VirtualBases {
		if vb.Indirect {
			continue
		}
		typ, _, ok, err := p.findField(symbol.TypeID(vb.Type), field, depth+1)
		if err != nil || ok {
			return typ, symbol.VirtualBase(), ok, err
		}
	}
	return 0, symbol.BaseOffset{}, false, nil
}

func (p *Provider) typeName(ti tpi.TypeIndex) string {
	t, err := p.types.Resolve(pdb.TypeIndex(ti))
	if err != nil {
		return ""
	}
	return t.Name()
}

func (p *Provider) DirectBaseClasses(m *symbol.Module, id symbol.TypeID) ([]symbol.BaseClass, error) {
	_, fl, err := p.udt(id)
	if err != nil {
		return nil, err
	}
	bases := make([]symbol.BaseClass, 0, len(fl.Bases)+len(fl.VirtualBases))
	for _, b := range fl.Bases {
		bases = append(bases, symbol.BaseClass{
			Name:   p.typeName(b.Type),
			Type:   symbol.TypeID(b.Type),
			Offset: symbol.StaticOffset(int64(b.Offset)),
		})
	}
	for _, vb := range fl.VirtualBases {
		if vb.Indirect {
			continue
		}
		bases = append(bases, symbol.BaseClass{
			Name:   p.typeName(vb.Type),
			Type:   symbol.TypeID(vb.Type),
			Offset: symbol.VirtualBase(),
		})
	}
	return bases, nil
}

func (p *Provider) BaseClass(m *symbol.Module, id symbol.TypeID, className string) (symbol.TypeID, symbol.BaseOffset, error) {
	typ, off, ok, err := p.findBase(id, className, 0)
	if err != nil {
		return 0, symbol.BaseOffset{}, err
	}
	if !ok {
		return 0, symbol.BaseOffset{}, fmt.Errorf("%w: no base %q in type %#x", symbol.ErrNotFound, className, uint64(id))
	}
	return typ, off, nil
}

func (p *Provider) findBase(id symbol.TypeID, className string, depth int) (symbol.TypeID, symbol.BaseOffset, bool, error) {
	if depth > maxDepth {
		return 0, symbol.BaseOffset{}, false, errTooDeep(id)
	}
	bases, err := p.DirectBaseClasses(nil, id)
	if err != nil {
		return 0, symbol.BaseOffset{}, false, err
	}
	for _, b := range bases {
		if b.Name == className {
			return b.Type, b.Offset, true, nil
		}
	}
	for _, b := range bases {
		typ, off, ok, err := p.findBase(b.Type, className, depth+1)
		if err != nil || ok {
			return typ, b.Offset.Then(off), ok, err
		}
	}
	return 0, symbol.BaseOffset{}, false, nil
}

// VirtualClassBaseAddress follows the MSVC vbtable: the pointer at
// obj+vbptrOffset addresses a table of int32 displacements, and the
// virtual base lives at obj+vbptrOffset+table[index].
func (p *Provider) VirtualClassBaseAddress(m *symbol.Module, mem memory.Reader, id symbol.TypeID, objAddr uint64, className string) (uint64, error) {
	return p.virtualBase(mem, id, objAddr, className, 0)
}

func (p *Provider) virtualBase(mem memory.Reader, id symbol.TypeID, objAddr uint64, className string, depth int) (uint64, error) {
	if depth > maxDepth {
		return 0, errTooDeep(id)
	}
	_, fl, err := p.udt(id)
	if err != nil {
		return 0, err
	}

	// indirect entries give displacements from this object's vbptr too
	for _, vb := range fl.VirtualBases {
		if p.typeName(vb.Type) == className {
			return p.vbtableAddress(mem, objAddr, vb)
		}
	}

	for _, b := range fl.Bases {
		addr, err := p.virtualBase(mem, symbol.TypeID(b.Type), objAddr+b.Offset, className, depth+1)
		if err != nil || addr != 0 {
			return addr, err
		}
	}
	for _, vb := range fl.VirtualBases {
		base, err := p.vbtableAddress(mem, objAddr, vb)
		if err != nil {
			return 0, err
		}
		addr, err := p.virtualBase(mem, symbol.TypeID(vb.Type), base, className, depth+1)
		if err != nil || addr != 0 {
			return addr, err
		}
	}
	return 0, nil
}

func (p *Provider) vbtableAddress(mem memory.Reader, objAddr uint64, vb tpi.VirtualBaseClass) (uint64, error) {
	vbptr := uint64(int64(objAddr) + vb.VBPtrOffset)
	table, err := memory.ReadPointer(mem, vbptr, p.arch.PtrSize())
	if err != nil {
		return 0, fmt.Errorf("pdbsym: failed to read vbptr at %#x: %w", vbptr, err)
	}
	disp, err := memory.ReadInt32(mem, table+vb.VBTableIndex*4)
	if err != nil {
		return 0, fmt.Errorf("pdbsym: failed to read vbtable slot %d at %#x: %w", vb.VBTableIndex, table, err)
	}
	return uint64(int64(vbptr) + int64(disp)), nil
}

// RuntimeCodeTypeAndOffset maps a vftable address back to its class
// through the `??_7Class@@6B...@` public at that address. A vftable
// emitted for a base subobject names that base after "for".
func (p *Provider) RuntimeCodeTypeAndOffset(m *symbol.Module, mem memory.Reader, vtableAddr uint64) (*symbol.RuntimeType, error) {
	name, disp, err := p.SymbolByAddressRaw(m, vtableAddr)
	if err != nil || disp != 0 {
		return nil, nil
	}
	vf, err := demangle.ParseVftable(name)
	if err != nil {
		return nil, nil
	}

	id, err := p.TypeID(m, vf.Class)
	if err != nil {
		return nil, err
	}
	rt := &symbol.RuntimeType{Type: id, Name: vf.Class}
	if vf.Base == "" {
		return rt, nil
	}
	_, off, err := p.BaseClass(m, id, vf.Base)
	if err != nil {
		return nil, err
	}
	if n, ok := off.Static(); ok {
		rt.Offset = n
	} else {
		rt.Virtual = true
	}
	return rt, nil
}

// SymbolByAddressRaw is SymbolByAddress returning the decorated name.
func (p *Provider) SymbolByAddressRaw(m *symbol.Module, addr uint64) (string, uint64, error) {
	if addr < m.Base || addr-m.Base > 0xffffffff {
		return "", 0, fmt.Errorf("%w: %#x outside %s", symbol.ErrNotFound, addr, m.Name)
	}
	pub, disp, err := p.syms.ByAddress(uint32(addr - m.Base))
	if err != nil {
		return "", 0, notFound(err)
	}
	return pub.Name(), uint64(disp), nil
}
