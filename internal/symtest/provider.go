// Package symtest provides an in-memory symbol.Provider for tests.
package symtest

import (
	"fmt"
	"slices"
	"sync"

	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/symbol"
)

type Field struct {
	Name   string
	Type   symbol.TypeID
	Offset int64
}

// VirtualBase is an MSVC style virtual base: the vbtable pointer sits at
// VBPtrOffset in the object and the displacement of the base is the
// Index-th int32 of the vbtable.
type VirtualBase struct {
	Name        string
	Type        symbol.TypeID
	VBPtrOffset int64
	Index       int64
}

type Type struct {
	Name        string
	Tag         symbol.Tag
	Size        uint64
	Builtin     symbol.BuiltinType
	Elem        symbol.TypeID
	Fields      []Field
	Bases       []symbol.BaseClass
	Virtual     []VirtualBase
	Enumerators map[uint64]string
	Args        []symbol.TemplateArgument
}

type Global struct {
	Addr uint64
	Type symbol.TypeID
}

type Func struct {
	Name      string
	Low, High uint64
	Locals    []symbol.LocalSymbol
}

// Provider answers from its maps. Addresses are absolute. It counts the
// calls made to each method.
type Provider struct {
	Types    map[symbol.TypeID]*Type
	Globals  map[string]Global
	Funcs    []Func
	Vtables  map[uint64]symbol.RuntimeType
	Failures map[string]error

	mu    sync.Mutex
	calls map[string]int
}

var _ symbol.Provider = (*Provider)(nil)

func New() *Provider {
	return &Provider{
		Types:   make(map[symbol.TypeID]*Type),
		Globals: make(map[string]Global),
		Vtables: make(map[uint64]symbol.RuntimeType),
	}
}

// Add registers t under id and returns id.
func (p *Provider) Add(id symbol.TypeID, t *Type) symbol.TypeID {
	p.Types[id] = t
	return id
}

// Calls returns how many times method was called.
func (p *Provider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

func (p *Provider) enter(method string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[method]++
	return p.Failures[method]
}

func (p *Provider) get(id symbol.TypeID) (*Type, error) {
	t, ok := p.Types[id]
	if !ok {
		return nil, fmt.Errorf("%w: type %#x", symbol.ErrNotFound, id)
	}
	return t, nil
}

func (p *Provider) TypeTag(m *symbol.Module, id symbol.TypeID) (symbol.Tag, error) {
	if err := p.enter("TypeTag"); err != nil {
		return 0, err
	}
	t, err := p.get(id)
	if err != nil {
		return 0, err
	}
	return t.Tag, nil
}

func (p *Provider) TypeName(m *symbol.Module, id symbol.TypeID) (string, error) {
	if err := p.enter("TypeName"); err != nil {
		return "", err
	}
	t, err := p.get(id)
	if err != nil {
		return "", err
	}
	return t.Name, nil
}

func (p *Provider) TypeID(m *symbol.Module, name string) (symbol.TypeID, error) {
	if err := p.enter("TypeID"); err != nil {
		return 0, err
	}
	for id, t := range p.Types {
		if t.Name == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: type %s", symbol.ErrNotFound, name)
}

func (p *Provider) TypeSize(m *symbol.Module, id symbol.TypeID) (uint64, error) {
	if err := p.enter("TypeSize"); err != nil {
		return 0, err
	}
	t, err := p.get(id)
	if err != nil {
		return 0, err
	}
	return t.Size, nil
}

func (p *Provider) BuiltinType(m *symbol.Module, id symbol.TypeID) symbol.BuiltinType {
	p.enter("BuiltinType")
	if t, ok := p.Types[id]; ok {
		return t.Builtin
	}
	return symbol.BuiltinNoType
}

func (p *Provider) ElementType(m *symbol.Module, id symbol.TypeID) (symbol.TypeID, error) {
	if err := p.enter("ElementType"); err != nil {
		return 0, err
	}
	t, err := p.get(id)
	if err != nil {
		return 0, err
	}
	switch t.Tag {
	case symbol.TagPointer, symbol.TagArray, symbol.TagEnum:
		return t.Elem, nil
	}
	return 0, fmt.Errorf("%w: %s has no element", symbol.ErrNotFound, t.Name)
}

func (p *Provider) FieldNames(m *symbol.Module, id symbol.TypeID) ([]string, error) {
	if err := p.enter("FieldNames"); err != nil {
		return nil, err
	}
	t, err := p.get(id)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, f := range t.Fields {
		names = append(names, f.Name)
	}
	return names, nil
}

func (p *Provider) FieldTypeAndOffset(m *symbol.Module, id symbol.TypeID, field string) (symbol.TypeID, int64, error) {
	if err := p.enter("FieldTypeAndOffset"); err != nil {
		return 0, 0, err
	}
	t, err := p.get(id)
	if err != nil {
		return 0, 0, err
	}
	for _, f := range t.Fields {
		if f.Name == field {
			return f.Type, f.Offset, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: field %s in %s", symbol.ErrNotFound, field, t.Name)
}

// bases merges the static and virtual bases of t.
func (t *Type) bases() []symbol.BaseClass {
	out := slices.Clone(t.Bases)
	for _, v := range t.Virtual {
		out = append(out, symbol.BaseClass{Name: v.Name, Type: v.Type, Offset: symbol.VirtualBase()})
	}
	return out
}

func (p *Provider) AllFieldNames(m *symbol.Module, id symbol.TypeID) ([]string, error) {
	if err := p.enter("AllFieldNames"); err != nil {
		return nil, err
	}
	var names []string
	var walk func(id symbol.TypeID) error
	walk = func(id symbol.TypeID) error {
		t, err := p.get(id)
		if err != nil {
			return err
		}
		for _, b := range t.bases() {
			if err := walk(b.Type); err != nil {
				return err
			}
		}
		for _, f := range t.Fields {
			names = append(names, f.Name)
		}
		return nil
	}
	return names, walk(id)
}

func (p *Provider) AllFieldTypeAndOffset(m *symbol.Module, id symbol.TypeID, field string) (symbol.TypeID, symbol.BaseOffset, error) {
	if err := p.enter("AllFieldTypeAndOffset"); err != nil {
		return 0, symbol.BaseOffset{}, err
	}
	var find func(id symbol.TypeID) (symbol.TypeID, symbol.BaseOffset, bool)
	find = func(id symbol.TypeID) (symbol.TypeID, symbol.BaseOffset, bool) {
		t, ok := p.Types[id]
		if !ok {
			return 0, symbol.BaseOffset{}, false
		}
		for _, f := range t.Fields {
			if f.Name == field {
				return f.Type, symbol.StaticOffset(f.Offset), true
			}
		}
		for _, b := range t.bases() {
			if typ, off, ok := find(b.Type); ok {
				return typ, b.Offset.Then(off), true
			}
		}
		return 0, symbol.BaseOffset{}, false
	}
	if typ, off, ok := find(id); ok {
		return typ, off, nil
	}
	return 0, symbol.BaseOffset{}, fmt.Errorf("%w: field %s", symbol.ErrNotFound, field)
}

func (p *Provider) BaseClass(m *symbol.Module, id symbol.TypeID, className string) (symbol.TypeID, symbol.BaseOffset, error) {
	if err := p.enter("BaseClass"); err != nil {
		return 0, symbol.BaseOffset{}, err
	}
	var find func(id symbol.TypeID) (symbol.TypeID, symbol.BaseOffset, bool)
	find = func(id symbol.TypeID) (symbol.TypeID, symbol.BaseOffset, bool) {
		t, ok := p.Types[id]
		if !ok {
			return 0, symbol.BaseOffset{}, false
		}
		bases := t.bases()
		for _, b := range bases {
			if b.Name == className {
				return b.Type, b.Offset, true
			}
		}
		for _, b := range bases {
			if typ, off, ok := find(b.Type); ok {
				return typ, b.Offset.Then(off), true
			}
		}
		return 0, symbol.BaseOffset{}, false
	}
	if typ, off, ok := find(id); ok {
		return typ, off, nil
	}
	return 0, symbol.BaseOffset{}, fmt.Errorf("%w: base %s", symbol.ErrNotFound, className)
}

func (p *Provider) DirectBaseClasses(m *symbol.Module, id symbol.TypeID) ([]symbol.BaseClass, error) {
	if err := p.enter("DirectBaseClasses"); err != nil {
		return nil, err
	}
	t, err := p.get(id)
	if err != nil {
		return nil, err
	}
	return t.bases(), nil
}

func (p *Provider) EnumName(m *symbol.Module, id symbol.TypeID, value uint64) (string, error) {
	if err := p.enter("EnumName"); err != nil {
		return "", err
	}
	t, err := p.get(id)
	if err != nil {
		return "", err
	}
	if name, ok := t.Enumerators[value]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: %s has no enumerator %d", symbol.ErrNotFound, t.Name, value)
}

func (p *Provider) GlobalVariableAddress(m *symbol.Module, name string) (uint64, error) {
	if err := p.enter("GlobalVariableAddress"); err != nil {
		return 0, err
	}
	g, ok := p.Globals[name]
	if !ok || g.Addr == 0 {
		return 0, fmt.Errorf("%w: global %s", symbol.ErrNotFound, name)
	}
	return g.Addr, nil
}

func (p *Provider) GlobalVariableTypeID(m *symbol.Module, name string) (symbol.TypeID, error) {
	if err := p.enter("GlobalVariableTypeID"); err != nil {
		return 0, err
	}
	g, ok := p.Globals[name]
	if !ok {
		return 0, fmt.Errorf("%w: global %s", symbol.ErrNotFound, name)
	}
	return g.Type, nil
}

func (p *Provider) VirtualClassBaseAddress(m *symbol.Module, mem memory.Reader, id symbol.TypeID, objAddr uint64, className string) (uint64, error) {
	if err := p.enter("VirtualClassBaseAddress"); err != nil {
		return 0, err
	}
	var find func(id symbol.TypeID, obj uint64) (uint64, error)
	find = func(id symbol.TypeID, obj uint64) (uint64, error) {
		t, ok := p.Types[id]
		if !ok {
			return 0, nil
		}
		for _, v := range t.Virtual {
			if v.Name != className {
				continue
			}
			vbptr := obj + uint64(v.VBPtrOffset)
			table, err := memory.ReadPointer(mem, vbptr, m.PtrSize)
			if err != nil {
				return 0, err
			}
			disp, err := memory.ReadInt32(mem, table+uint64(v.Index*4))
			if err != nil {
				return 0, err
			}
			return uint64(int64(vbptr) + int64(disp)), nil
		}
		for _, b := range t.Bases {
			off, _ := b.Offset.Static()
			if addr, err := find(b.Type, obj+uint64(off)); err != nil || addr != 0 {
				return addr, err
			}
		}
		return 0, nil
	}
	return find(id, objAddr)
}

func (p *Provider) RuntimeCodeTypeAndOffset(m *symbol.Module, mem memory.Reader, vtableAddr uint64) (*symbol.RuntimeType, error) {
	if err := p.enter("RuntimeCodeTypeAndOffset"); err != nil {
		return nil, err
	}
	rt, ok := p.Vtables[vtableAddr]
	if !ok {
		return nil, nil
	}
	return &rt, nil
}

func (p *Provider) SymbolByAddress(m *symbol.Module, addr uint64) (string, uint64, error) {
	if err := p.enter("SymbolByAddress"); err != nil {
		return "", 0, err
	}
	for _, f := range p.Funcs {
		if addr >= f.Low && addr < f.High {
			return f.Name, addr - f.Low, nil
		}
	}
	return "", 0, fmt.Errorf("%w: no symbol at %#x", symbol.ErrNotFound, addr)
}

func (p *Provider) TemplateArguments(m *symbol.Module, id symbol.TypeID) ([]symbol.TemplateArgument, error) {
	if err := p.enter("TemplateArguments"); err != nil {
		return nil, err
	}
	t, err := p.get(id)
	if err != nil {
		return nil, err
	}
	if t.Args != nil {
		return t.Args, nil
	}
	return symbol.ParseTemplateArguments(t.Name), nil
}

func (p *Provider) FrameLocals(m *symbol.Module, ip uint64, onlyArguments bool) ([]symbol.LocalSymbol, error) {
	if err := p.enter("FrameLocals"); err != nil {
		return nil, err
	}
	for _, f := range p.Funcs {
		if ip < f.Low || ip >= f.High {
			continue
		}
		if !onlyArguments {
			return f.Locals, nil
		}
		var args []symbol.LocalSymbol
		for _, l := range f.Locals {
			if l.IsParameter {
				args = append(args, l)
			}
		}
		return args, nil
	}
	return nil, fmt.Errorf("%w: no function at %#x", symbol.ErrNotFound, ip)
}

// CFAProvider adds call frame information computed by CFA.
type CFAProvider struct {
	*Provider
	CFA func(ctx *arch.ThreadContext) (uint64, bool)
}

var _ symbol.FrameAddressProvider = CFAProvider{}

func (p CFAProvider) CanonicalFrameAddress(m *symbol.Module, ctx *arch.ThreadContext, mem memory.Reader) (uint64, bool, error) {
	p.enter("CanonicalFrameAddress")
	cfa, ok := p.CFA(ctx)
	return cfa, ok, nil
}
