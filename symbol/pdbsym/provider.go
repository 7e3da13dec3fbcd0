// Package pdbsym answers symbol queries from a PDB file.
package pdbsym

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/internal/demangle"
	"github.com/skdltmxn/dbgsym/internal/tpi"
	"github.com/skdltmxn/dbgsym/pdb"
	"github.com/skdltmxn/dbgsym/symbol"
)

// Provider implements symbol.Provider over one PDB file.
type Provider struct {
	file  *pdb.File
	types *pdb.TypeTable
	syms  *pdb.SymbolTable
	arch  arch.Arch
	log   *zap.Logger

	enums     sync.Map // pdb.TypeIndex -> map[uint64]string
	nameCache sync.Map // string -> pdb.TypeIndex
}

var _ symbol.Provider = (*Provider)(nil)

type Option func(*Provider)

func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// Open opens the PDB at path.
func Open(path string, opts ...Option) (*Provider, error) {
	f, err := pdb.Open(path)
	if err != nil {
		return nil, err
	}
	p, err := New(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return p, nil
}

// New creates a provider over an open PDB. The provider owns f.
func New(f *pdb.File, opts ...Option) (*Provider, error) {
	p := &Provider{file: f, log: zap.NewNop()}
	for _, o := range opts {
		o(p)
	}

	var err error
	if p.types, err = f.Types(); err != nil {
		return nil, fmt.Errorf("pdbsym: failed to load types: %w", err)
	}
	if p.syms, err = f.Symbols(); err != nil {
		return nil, fmt.Errorf("pdbsym: failed to load symbols: %w", err)
	}
	machine, err := f.Machine()
	if err != nil {
		return nil, fmt.Errorf("pdbsym: failed to read machine type: %w", err)
	}
	if p.arch, err = arch.FromPEMachine(machine); err != nil {
		return nil, fmt.Errorf("%w: %v", symbol.ErrUnsupportedFormat, err)
	}
	return p, nil
}

func (p *Provider) Close() error { return p.file.Close() }

func (p *Provider) Arch() arch.Arch { return p.arch }

func (p *Provider) File() *pdb.File { return p.file }

// TypeNames returns the names of user-defined types and enums in sorted
// order.
func (p *Provider) TypeNames() ([]string, error) {
	types, err := p.file.Types()
	if err != nil {
		return nil, err
	}
	return types.Names(), nil
}

func notFound(err error) error {
	if errors.Is(err, pdb.ErrTypeNotFound) || errors.Is(err, pdb.ErrSymbolNotFound) {
		return fmt.Errorf("%w: %v", symbol.ErrNotFound, err)
	}
	return err
}

func (p *Provider) resolve(id symbol.TypeID) (pdb.Type, error) {
	if id > math.MaxUint32 {
		return nil, fmt.Errorf("%w: type %#x", symbol.ErrNotFound, uint64(id))
	}
	t, err := p.types.Resolve(pdb.TypeIndex(id))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// udt resolves id to a class, struct or union definition together with
// its field list.
func (p *Provider) udt(id symbol.TypeID) (*pdb.ClassType, *tpi.FieldList, error) {
	t, err := p.resolve(id)
	if err != nil {
		return nil, nil, err
	}
	ct, ok := t.(*pdb.ClassType)
	if !ok {
		return nil, nil, fmt.Errorf("%w: type %#x is a %s, not a class", symbol.ErrNotFound, uint64(id), t.Kind())
	}
	if ct.IsForwardRef() {
		return nil, nil, fmt.Errorf("%w: no definition of %s", symbol.ErrNotFound, ct.Name())
	}
	if ct.FieldList() == 0 {
		return ct, &tpi.FieldList{}, nil
	}
	fl, err := p.types.FieldList(ct.FieldList())
	if err != nil {
		return nil, nil, err
	}
	return ct, fl, nil
}

func (p *Provider) TypeTag(m *symbol.Module, id symbol.TypeID) (symbol.Tag, error) {
	t, err := p.resolve(id)
	if err != nil {
		return symbol.TagUnknown, err
	}
	return tagOf(t), nil
}

func tagOf(t pdb.Type) symbol.Tag {
	switch t := t.(type) {
	case *pdb.PrimitiveType:
		if t.IsPointer() {
			return symbol.TagPointer
		}
		return symbol.TagBuiltin
	case *pdb.BitfieldType:
		return symbol.TagBuiltin
	}
	switch t.Kind() {
	case pdb.TypeKindPointer:
		return symbol.TagPointer
	case pdb.TypeKindArray:
		return symbol.TagArray
	case pdb.TypeKindEnum:
		return symbol.TagEnum
	case pdb.TypeKindFunction, pdb.TypeKindMemberFunction:
		return symbol.TagFunction
	case pdb.TypeKindClass, pdb.TypeKindStruct, pdb.TypeKindInterface, pdb.TypeKindUnion:
		return symbol.TagUDT
	}
	return symbol.TagUnknown
}

func (p *Provider) TypeName(m *symbol.Module, id symbol.TypeID) (string, error) {
	if _, err := p.resolve(id); err != nil {
		return "", err
	}
	name, err := p.types.TypeName(pdb.TypeIndex(id))
	if err != nil {
		return "", notFound(err)
	}
	return name, nil
}

// TypeID looks name up among user-defined types, then primitives, then
// every other rendered type name such as pointers and arrays.
func (p *Provider) TypeID(m *symbol.Module, name string) (symbol.TypeID, error) {
	if v, ok := p.nameCache.Load(name); ok {
		return symbol.TypeID(v.(pdb.TypeIndex)), nil
	}

	idx, err := p.lookupName(name)
	if err != nil {
		return 0, err
	}
	p.nameCache.Store(name, idx)
	return symbol.TypeID(idx), nil
}

func (p *Provider) lookupName(name string) (pdb.TypeIndex, error) {
	if t, err := p.types.ByName(name); err == nil {
		return t.Index(), nil
	}
	if idx, ok := pdb.SimpleTypeByName(name, p.arch.PtrSize()); ok {
		return idx, nil
	}
	if strings.ContainsAny(name, "*&[") {
		for t := range p.types.All() {
			switch t.Kind() {
			case pdb.TypeKindPointer, pdb.TypeKindArray:
			default:
				continue
			}
			if n, err := p.types.TypeName(t.Index()); err == nil && n == name {
				return t.Index(), nil
			}
		}
	}
	return 0, fmt.Errorf("%w: type %q", symbol.ErrNotFound, name)
}

func (p *Provider) TypeSize(m *symbol.Module, id symbol.TypeID) (uint64, error) {
	t, err := p.resolve(id)
	if err != nil {
		return 0, err
	}
	return t.Size(), nil
}

func (p *Provider) BuiltinType(m *symbol.Module, id symbol.TypeID) symbol.BuiltinType {
	t, err := p.resolve(id)
	if err != nil {
		return symbol.BuiltinNoType
	}
	if bf, ok := t.(*pdb.BitfieldType); ok {
		if t, err = p.resolve(symbol.TypeID(bf.UnderlyingType())); err != nil {
			return symbol.BuiltinNoType
		}
	}
	pt, ok := t.(*pdb.PrimitiveType)
	if !ok || pt.IsPointer() {
		return symbol.BuiltinNoType
	}
	return symbol.Classify(simpleEncoding(pt.SimpleKind()), pt.Size())
}

func simpleEncoding(k tpi.SimpleKind) symbol.Encoding {
	switch k {
	case tpi.SimpleVoid:
		return symbol.EncodingVoid
	case tpi.SimpleBool8, tpi.SimpleBool16, tpi.SimpleBool32, tpi.SimpleBool64:
		return symbol.EncodingBool
	case tpi.SimpleNarrowChar, tpi.SimpleChar8, tpi.SimpleWideChar, tpi.SimpleChar16, tpi.SimpleChar32:
		return symbol.EncodingChar
	case tpi.SimpleSignedChar, tpi.SimpleSByte, tpi.SimpleInt16Short, tpi.SimpleInt16,
		tpi.SimpleInt32Long, tpi.SimpleInt32, tpi.SimpleInt64Quad, tpi.SimpleInt64,
		tpi.SimpleInt128Oct, tpi.SimpleInt128, tpi.SimpleHResult:
		return symbol.EncodingSigned
	case tpi.SimpleUnsignedChar, tpi.SimpleByte, tpi.SimpleUInt16Short, tpi.SimpleUInt16,
		tpi.SimpleUInt32Long, tpi.SimpleUInt32, tpi.SimpleUInt64Quad, tpi.SimpleUInt64,
		tpi.SimpleUInt128Oct, tpi.SimpleUInt128:
		return symbol.EncodingUnsigned
	case tpi.SimpleFloat32, tpi.SimpleFloat64, tpi.SimpleFloat80:
		return symbol.EncodingFloat
	}
	return symbol.EncodingNone
}

func (p *Provider) ElementType(m *symbol.Module, id symbol.TypeID) (symbol.TypeID, error) {
	t, err := p.resolve(id)
	if err != nil {
		return 0, err
	}
	switch t := t.(type) {
	case *pdb.PrimitiveType:
		if t.IsPointer() {
			return symbol.TypeID(t.Pointee()), nil
		}
	case *pdb.PointerType:
		return symbol.TypeID(t.ReferentType()), nil
	case *pdb.ArrayType:
		return symbol.TypeID(t.ElementType()), nil
	case *pdb.EnumType:
		return symbol.TypeID(t.UnderlyingType()), nil
	case *pdb.BitfieldType:
		return symbol.TypeID(t.UnderlyingType()), nil
	}
	return 0, fmt.Errorf("%w: %s type %#x has no element type", symbol.ErrNotFound, t.Kind(), uint64(id))
}

func (p *Provider) TemplateArguments(m *symbol.Module, id symbol.TypeID) ([]symbol.TemplateArgument, error) {
	name, err := p.TypeName(m, id)
	if err != nil {
		return nil, err
	}
	return symbol.ParseTemplateArguments(name), nil
}

func (p *Provider) EnumName(m *symbol.Module, id symbol.TypeID, value uint64) (string, error) {
	t, err := p.resolve(id)
	if err != nil {
		return "", err
	}
	e, ok := t.(*pdb.EnumType)
	if !ok {
		return "", fmt.Errorf("%w: type %#x is not an enum", symbol.ErrNotFound, uint64(id))
	}

	names, err := p.enumValues(e)
	if err != nil {
		return "", err
	}
	if name, ok := names[value&sizeMask(e.Size())]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: no enumerator of %s with value %d", symbol.ErrNotFound, e.Name(), value)
}

// enumValues builds the value to name map of an enum once. The first
// enumerator wins when several share a value.
func (p *Provider) enumValues(e *pdb.EnumType) (map[uint64]string, error) {
	if v, ok := p.enums.Load(e.Index()); ok {
		return v.(map[uint64]string), nil
	}
	names := make(map[uint64]string)
	if e.FieldList() != 0 {
		fl, err := p.types.FieldList(e.FieldList())
		if err != nil {
			return nil, err
		}
		mask := sizeMask(e.Size())
		for _, en := range fl.Enumerates {
			if _, dup := names[en.Value&mask]; !dup {
				names[en.Value&mask] = en.Name
			}
		}
	}
	v, _ := p.enums.LoadOrStore(e.Index(), names)
	return v.(map[uint64]string), nil
}

func sizeMask(size uint64) uint64 {
	if size == 0 || size >= 8 {
		return math.MaxUint64
	}
	return 1<<(size*8) - 1
}

func (p *Provider) SymbolByAddress(m *symbol.Module, addr uint64) (string, uint64, error) {
	name, disp, err := p.SymbolByAddressRaw(m, addr)
	if err != nil {
		return "", 0, err
	}
	return demangle.DemangleSimple(name), disp, nil
}
