package dwarfsym

import (
	"bytes"
	"debug/dwarf"
	"fmt"
	"strings"

	"github.com/go-delve/delve/pkg/dwarf/op"
	"github.com/go-delve/delve/pkg/dwarf/util"
	"github.com/ianlancetaylor/demangle"

	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/symbol"
)

const virtualityNone = 0

type member struct {
	name   string
	typ    dwarf.Offset
	offset int64
}

type inheritance struct {
	base    *node
	offset  symbol.BaseOffset
	loc     []byte // location expression of a virtual base
	virtual bool
}

// udt resolves id to the definition of a class, struct or union.
func (p *Provider) udt(id symbol.TypeID) (*index, *node, error) {
	idx, n, err := p.stripped(id)
	if err != nil {
		return nil, nil, err
	}
	switch n.Tag {
	case dwarf.TagStructType, dwarf.TagClassType, dwarf.TagUnionType:
	default:
		return nil, nil, fmt.Errorf("%w: type %#x is not a class", symbol.ErrNotFound, uint64(id))
	}
	if n.isDecl() {
		return nil, nil, fmt.Errorf("%w: no definition of %s", symbol.ErrNotFound, n.qname)
	}
	return idx, n, nil
}

// memberOffset decodes a constant data member location, either a plain
// constant or DW_OP_plus_uconst.
func memberOffset(n *node) int64 {
	if off, ok := n.num(dwarf.AttrDataMemberLoc); ok {
		return off
	}
	if loc := n.expr(dwarf.AttrDataMemberLoc); len(loc) > 1 && op.Opcode(loc[0]) == op.DW_OP_plus_uconst {
		off, _ := util.DecodeULEB128(bytes.NewBuffer(loc[1:]))
		return int64(off)
	}
	if bits, ok := n.num(dwarf.AttrDataBitOffset); ok {
		return bits / 8
	}
	return 0
}

// members lists the non-static data members declared by n itself.
func members(n *node) []member {
	var out []member
	for _, c := range n.children {
		if c.Tag != dwarf.TagMember || c.isDecl() {
			continue
		}
		if ext, _ := c.Val(dwarf.AttrExternal).(bool); ext {
			continue
		}
		typ, _ := c.ref(dwarf.AttrType)
		out = append(out, member{name: c.name(), typ: typ, offset: memberOffset(c)})
	}
	return out
}

func (idx *index) bases(n *node) ([]inheritance, error) {
	var out []inheritance
	for _, c := range n.children {
		if c.Tag != dwarf.TagInheritance {
			continue
		}
		ref, ok := c.ref(dwarf.AttrType)
		if !ok {
			continue
		}
		b, ok := idx.nodes[ref]
		if !ok {
			return nil, fmt.Errorf("%w: dangling base reference %#x", symbol.ErrCorruptData, ref)
		}
		b, err := idx.strip(b)
		if err != nil {
			return nil, err
		}
		inh := inheritance{base: b}
		if v, _ := c.num(dwarf.AttrVirtuality); v != virtualityNone {
			inh.virtual = true
			inh.offset = symbol.VirtualBase()
			inh.loc = c.expr(dwarf.AttrDataMemberLoc)
		} else {
			inh.offset = symbol.StaticOffset(memberOffset(c))
		}
		out = append(out, inh)
	}
	return out, nil
}

func (p *Provider) FieldNames(m *symbol.Module, id symbol.TypeID) ([]string, error) {
	_, n, err := p.udt(id)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, mem := range members(n) {
		names = append(names, mem.name)
	}
	return names, nil
}

func (p *Provider) FieldTypeAndOffset(m *symbol.Module, id symbol.TypeID, field string) (symbol.TypeID, int64, error) {
	_, n, err := p.udt(id)
	if err != nil {
		return 0, 0, err
	}
	for _, mem := range members(n) {
		if mem.name == field {
			return symbol.TypeID(mem.typ), mem.offset, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: %s has no field %q", symbol.ErrNotFound, n.qname, field)
}

// AllFieldNames visits the members of every base before the members of
// the type itself. A virtual base shared along several paths is visited
// once.
func (p *Provider) AllFieldNames(m *symbol.Module, id symbol.TypeID) ([]string, error) {
	idx, n, err := p.udt(id)
	if err != nil {
		return nil, err
	}
	var names []string
	seen := make(map[dwarf.Offset]bool)
	var walk func(n *node, depth int) error
	walk = func(n *node, depth int) error {
		if depth > maxDepth {
			return errTooDeep(n.Offset)
		}
		bases, err := idx.bases(n)
		if err != nil {
			return err
		}
		for _, b := range bases {
			if b.virtual {
				if seen[b.base.Offset] {
					continue
				}
				seen[b.base.Offset] = true
			}
			if err := walk(b.base, depth+1); err != nil {
				return err
			}
		}
		for _, mem := range members(n) {
			names = append(names, mem.name)
		}
		return nil
	}
	return names, walk(n, 0)
}

func (p *Provider) AllFieldTypeAndOffset(m *symbol.Module, id symbol.TypeID, field string) (symbol.TypeID, symbol.BaseOffset, error) {
	idx, n, err := p.udt(id)
	if err != nil {
		return 0, symbol.BaseOffset{}, err
	}
	typ, off, ok, err := idx.findField(n, field, 0)
	if err != nil {
		return 0, symbol.BaseOffset{}, err
	}
	if !ok {
		return 0, symbol.BaseOffset{}, fmt.Errorf("%w: no field %q in %s or its bases", symbol.ErrNotFound, field, n.qname)
	}
	return typ, off, nil
}

// findField looks in the type itself first so that a derived member
// hides a base member of the same name.
func (idx *index) findField(n *node, field string, depth int) (symbol.TypeID, symbol.BaseOffset, bool, error) {
	if depth > maxDepth {
		return 0, symbol.BaseOffset{}, false, errTooDeep(n.Offset)
	}
	for _, mem := range members(n) {
		if mem.name == field {
			return symbol.TypeID(mem.typ), symbol.StaticOffset(mem.offset), true, nil
		}
	}
	bases, err := idx.bases(n)
	if err != nil {
		return 0, symbol.BaseOffset{}, false, err
	}
	for _, b := range bases {
		typ, off, ok, err := idx.findField(b.base, field, depth+1)
		if err != nil || ok {
			return typ, b.offset.Then(off), ok, err
		}
	}
	return 0, symbol.BaseOffset{}, false, nil
}

func (p *Provider) DirectBaseClasses(m *symbol.Module, id symbol.TypeID) ([]symbol.BaseClass, error) {
	idx, n, err := p.udt(id)
	if err != nil {
		return nil, err
	}
	bases, err := idx.bases(n)
	if err != nil {
		return nil, err
	}
	out := make([]symbol.BaseClass, 0, len(bases))
	for _, b := range bases {
		out = append(out, symbol.BaseClass{
			Name:   b.base.qname,
			Type:   symbol.TypeID(b.base.Offset),
			Offset: b.offset,
		})
	}
	return out, nil
}

func (p *Provider) BaseClass(m *symbol.Module, id symbol.TypeID, className string) (symbol.TypeID, symbol.BaseOffset, error) {
	idx, n, err := p.udt(id)
	if err != nil {
		return 0, symbol.BaseOffset{}, err
	}
	typ, off, ok, err := idx.findBase(n, className, 0)
	if err != nil {
		return 0, symbol.BaseOffset{}, err
	}
	if !ok {
		return 0, symbol.BaseOffset{}, fmt.Errorf("%w: no base %q in %s", symbol.ErrNotFound, className, n.qname)
	}
	return typ, off, nil
}

func (idx *index) findBase(n *node, className string, depth int) (symbol.TypeID, symbol.BaseOffset, bool, error) {
	if depth > maxDepth {
		return 0, symbol.BaseOffset{}, false, errTooDeep(n.Offset)
	}
	bases, err := idx.bases(n)
	if err != nil {
		return 0, symbol.BaseOffset{}, false, err
	}
	for _, b := range bases {
		if b.base.qname == className {
			return symbol.TypeID(b.base.Offset), b.offset, true, nil
		}
	}
	for _, b := range bases {
		typ, off, ok, err := idx.findBase(b.base, className, depth+1)
		if err != nil || ok {
			return typ, b.offset.Then(off), ok, err
		}
	}
	return 0, symbol.BaseOffset{}, false, nil
}

// VirtualClassBaseAddress evaluates the data member location of the
// virtual base with the object address pushed, as the Itanium ABI lays it
// out: the displacement is read through the object's vptr.
func (p *Provider) VirtualClassBaseAddress(m *symbol.Module, mem memory.Reader, id symbol.TypeID, objAddr uint64, className string) (uint64, error) {
	idx, n, err := p.udt(id)
	if err != nil {
		return 0, err
	}
	return p.virtualBase(idx, mem, n, objAddr, className, 0)
}

func (p *Provider) virtualBase(idx *index, mem memory.Reader, n *node, objAddr uint64, className string, depth int) (uint64, error) {
	if depth > maxDepth {
		return 0, errTooDeep(n.Offset)
	}
	bases, err := idx.bases(n)
	if err != nil {
		return 0, err
	}
	for _, b := range bases {
		if b.virtual && b.base.qname == className {
			return p.baseAddress(mem, b, objAddr)
		}
	}
	for _, b := range bases {
		addr, err := p.baseAddress(mem, b, objAddr)
		if err != nil {
			return 0, err
		}
		found, err := p.virtualBase(idx, mem, b.base, addr, className, depth+1)
		if err != nil || found != 0 {
			return found, err
		}
	}
	return 0, nil
}

func (p *Provider) baseAddress(mem memory.Reader, b inheritance, objAddr uint64) (uint64, error) {
	if n, ok := b.offset.Static(); ok {
		return uint64(int64(objAddr) + n), nil
	}
	if b.loc == nil {
		return 0, fmt.Errorf("%w: virtual base %s has no location", symbol.ErrUnsupportedLocation, b.base.qname)
	}

	var prog bytes.Buffer
	prog.WriteByte(byte(op.DW_OP_constu))
	util.EncodeULEB128(&prog, objAddr)
	prog.Write(b.loc)

	regs := arch.NewThreadContext(p.arch, nil).DwarfRegisters(0)
	addr, pieces, err := op.ExecuteStackProgram(*regs, prog.Bytes(), p.arch.PtrSize(), readFunc(mem))
	if err != nil {
		return 0, fmt.Errorf("dwarfsym: failed to locate virtual base %s of object at %#x: %w", b.base.qname, objAddr, err)
	}
	if len(pieces) != 0 {
		return 0, fmt.Errorf("%w: virtual base %s is not in memory", symbol.ErrUnsupportedLocation, b.base.qname)
	}
	return uint64(addr), nil
}

func readFunc(mem memory.Reader) func([]byte, uint64) (int, error) {
	return func(buf []byte, addr uint64) (int, error) {
		if err := mem.ReadMemory(buf, addr); err != nil {
			return 0, err
		}
		return len(buf), nil
	}
}

// RuntimeCodeTypeAndOffset recognizes an address inside a `_ZTV` vtable
// symbol. The offset-to-top entry two slots before the address point
// gives the position of the subobject in the dynamic object.
func (p *Provider) RuntimeCodeTypeAndOffset(m *symbol.Module, mem memory.Reader, vtableAddr uint64) (*symbol.RuntimeType, error) {
	sym, _, ok := p.symbolAt(vtableAddr - p.delta(m))
	if !ok || !strings.HasPrefix(sym.Name, "_ZTV") {
		return nil, nil
	}
	text, err := demangle.ToString(sym.Name)
	if err != nil {
		return nil, nil
	}
	class, ok := strings.CutPrefix(text, "vtable for ")
	if !ok {
		return nil, nil
	}

	id, err := p.TypeID(m, class)
	if err != nil {
		return nil, err
	}
	rt := &symbol.RuntimeType{Type: id, Name: class}
	if mem == nil {
		return rt, nil
	}
	ptr := p.arch.PtrSize()
	raw, err := memory.ReadUint(mem, vtableAddr-uint64(2*ptr), ptr)
	if err != nil {
		return nil, fmt.Errorf("dwarfsym: failed to read offset-to-top of %s: %w", class, err)
	}
	top := int64(raw)
	if ptr == 4 {
		top = int64(int32(raw))
	}
	rt.Offset = -top
	return rt, nil
}
