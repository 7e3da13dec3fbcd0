package dwarfsym

import (
	"debug/dwarf"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/skdltmxn/dbgsym/symbol"
)

// Base type encodings.
const (
	ateAddress      = 0x01
	ateBoolean      = 0x02
	ateFloat        = 0x04
	ateSigned       = 0x05
	ateSignedChar   = 0x06
	ateUnsigned     = 0x07
	ateUnsignedChar = 0x08
	ateUTF          = 0x10
)

// maxDepth bounds walks over type references and inheritance so that a
// reference cycle in corrupt data cannot recurse forever.
const maxDepth = 64

func errTooDeep(id dwarf.Offset) error {
	return fmt.Errorf("%w: type chain at %#x too deep", symbol.ErrCorruptData, id)
}

func isType(t dwarf.Tag) bool {
	switch t {
	case dwarf.TagBaseType, dwarf.TagStructType, dwarf.TagClassType, dwarf.TagUnionType,
		dwarf.TagEnumerationType, dwarf.TagTypedef, dwarf.TagPointerType,
		dwarf.TagReferenceType, dwarf.TagRvalueReferenceType, dwarf.TagArrayType,
		dwarf.TagConstType, dwarf.TagVolatileType, dwarf.TagRestrictType,
		dwarf.TagSubroutineType, dwarf.TagUnspecifiedType, dwarf.TagPtrToMemberType:
		return true
	}
	return false
}

func (p *Provider) typeNode(id symbol.TypeID) (*index, *node, error) {
	idx, err := p.index()
	if err != nil {
		return nil, nil, err
	}
	n, ok := idx.nodes[dwarf.Offset(id)]
	if !ok || !isType(n.Tag) {
		return nil, nil, fmt.Errorf("%w: type %#x", symbol.ErrNotFound, uint64(id))
	}
	return idx, n, nil
}

// strip follows typedefs and cv-qualifiers to the underlying type, and a
// declaration to its definition when the module has one.
func (idx *index) strip(n *node) (*node, error) {
	for range maxDepth {
		switch n.Tag {
		case dwarf.TagTypedef, dwarf.TagConstType, dwarf.TagVolatileType, dwarf.TagRestrictType:
			ref, ok := n.ref(dwarf.AttrType)
			if !ok {
				return n, nil
			}
			next, ok := idx.nodes[ref]
			if !ok {
				return nil, fmt.Errorf("%w: dangling type reference %#x", symbol.ErrCorruptData, ref)
			}
			n = next
		case dwarf.TagStructType, dwarf.TagClassType, dwarf.TagUnionType, dwarf.TagEnumerationType:
			if n.isDecl() {
				if def, ok := idx.types[n.qname]; ok && !def.isDecl() {
					return def, nil
				}
			}
			return n, nil
		default:
			return n, nil
		}
	}
	return nil, errTooDeep(n.Offset)
}

func (p *Provider) stripped(id symbol.TypeID) (*index, *node, error) {
	idx, n, err := p.typeNode(id)
	if err != nil {
		return nil, nil, err
	}
	n, err = idx.strip(n)
	return idx, n, err
}

func (p *Provider) TypeTag(m *symbol.Module, id symbol.TypeID) (symbol.Tag, error) {
	_, n, err := p.stripped(id)
	if err != nil {
		return symbol.TagUnknown, err
	}
	switch n.Tag {
	case dwarf.TagBaseType:
		return symbol.TagBuiltin, nil
	case dwarf.TagStructType, dwarf.TagClassType, dwarf.TagUnionType:
		return symbol.TagUDT, nil
	case dwarf.TagPointerType, dwarf.TagReferenceType, dwarf.TagRvalueReferenceType:
		return symbol.TagPointer, nil
	case dwarf.TagArrayType:
		return symbol.TagArray, nil
	case dwarf.TagEnumerationType:
		return symbol.TagEnum, nil
	case dwarf.TagSubroutineType:
		return symbol.TagFunction, nil
	}
	return symbol.TagUnknown, nil
}

func (p *Provider) TypeName(m *symbol.Module, id symbol.TypeID) (string, error) {
	idx, n, err := p.typeNode(id)
	if err != nil {
		return "", err
	}
	return idx.render(n, 0), nil
}

func (idx *index) target(n *node) (*node, bool) {
	ref, ok := n.ref(dwarf.AttrType)
	if !ok {
		return nil, false
	}
	t, ok := idx.nodes[ref]
	return t, ok
}

// render spells a type the way C++ declares it, cv-qualifiers first.
func (idx *index) render(n *node, depth int) string {
	if depth > maxDepth {
		return "?"
	}
	inner := func(void string) string {
		if t, ok := idx.target(n); ok {
			return idx.render(t, depth+1)
		}
		return void
	}
	switch n.Tag {
	case dwarf.TagPointerType:
		return inner("void") + "*"
	case dwarf.TagReferenceType:
		return inner("void") + "&"
	case dwarf.TagRvalueReferenceType:
		return inner("void") + "&&"
	case dwarf.TagConstType:
		return "const " + inner("void")
	case dwarf.TagVolatileType:
		return "volatile " + inner("void")
	case dwarf.TagRestrictType:
		return inner("void")
	case dwarf.TagArrayType:
		var b strings.Builder
		b.WriteString(inner("?"))
		for _, c := range n.children {
			if c.Tag != dwarf.TagSubrangeType {
				continue
			}
			if count, ok := subrangeCount(c); ok {
				fmt.Fprintf(&b, "[%d]", count)
			} else {
				b.WriteString("[]")
			}
		}
		return b.String()
	case dwarf.TagSubroutineType:
		var args []string
		for _, c := range n.children {
			if c.Tag == dwarf.TagFormalParameter {
				if t, ok := idx.target(c); ok {
					args = append(args, idx.render(t, depth+1))
				}
			}
		}
		return inner("void") + "(" + strings.Join(args, ", ") + ")"
	}
	if n.qname != "" {
		return n.qname
	}
	return "<anonymous>"
}

func subrangeCount(n *node) (int64, bool) {
	if c, ok := n.num(dwarf.AttrCount); ok {
		return c, true
	}
	if ub, ok := n.num(dwarf.AttrUpperBound); ok {
		lb, _ := n.num(dwarf.AttrLowerBound)
		return ub - lb + 1, true
	}
	return 0, false
}

// TypeID looks name up among named types first, then among rendered
// names of pointer, reference, array and qualified types.
func (p *Provider) TypeID(m *symbol.Module, name string) (symbol.TypeID, error) {
	idx, err := p.index()
	if err != nil {
		return 0, err
	}
	if n, ok := idx.types[name]; ok {
		return symbol.TypeID(n.Offset), nil
	}
	if v, ok := p.names.Load(name); ok {
		return symbol.TypeID(v.(dwarf.Offset)), nil
	}
	for _, n := range idx.derived {
		if idx.render(n, 0) == name {
			p.names.Store(name, n.Offset)
			return symbol.TypeID(n.Offset), nil
		}
	}
	return 0, fmt.Errorf("%w: type %q", symbol.ErrNotFound, name)
}

func (p *Provider) TypeSize(m *symbol.Module, id symbol.TypeID) (uint64, error) {
	idx, n, err := p.stripped(id)
	if err != nil {
		return 0, err
	}
	return p.size(idx, n, 0)
}

func (p *Provider) size(idx *index, n *node, depth int) (uint64, error) {
	if depth > maxDepth {
		return 0, errTooDeep(n.Offset)
	}
	if sz, ok := n.num(dwarf.AttrByteSize); ok {
		return uint64(sz), nil
	}
	switch n.Tag {
	case dwarf.TagPointerType, dwarf.TagReferenceType, dwarf.TagRvalueReferenceType:
		return uint64(p.arch.PtrSize()), nil
	case dwarf.TagArrayType, dwarf.TagEnumerationType, dwarf.TagTypedef,
		dwarf.TagConstType, dwarf.TagVolatileType, dwarf.TagRestrictType:
		t, ok := idx.target(n)
		if !ok {
			break
		}
		elem, err := p.size(idx, t, depth+1)
		if err != nil || n.Tag != dwarf.TagArrayType {
			return elem, err
		}
		total := elem
		for _, c := range n.children {
			if c.Tag != dwarf.TagSubrangeType {
				continue
			}
			count, ok := subrangeCount(c)
			if !ok {
				return 0, nil
			}
			total *= uint64(count)
		}
		return total, nil
	}
	if n.isDecl() {
		return 0, fmt.Errorf("%w: no definition of %s", symbol.ErrNotFound, n.qname)
	}
	return 0, nil
}

func (p *Provider) BuiltinType(m *symbol.Module, id symbol.TypeID) symbol.BuiltinType {
	_, n, err := p.stripped(id)
	if err != nil || n.Tag != dwarf.TagBaseType {
		return symbol.BuiltinNoType
	}
	enc, _ := n.num(dwarf.AttrEncoding)
	size, _ := n.num(dwarf.AttrByteSize)
	return symbol.Classify(encoding(enc, n.name()), uint64(size))
}

// encoding maps a DW_ATE value to an encoding family. Plain char shares
// its encoding with signed or unsigned char depending on the target, so
// it is told apart by name.
func encoding(ate int64, name string) symbol.Encoding {
	switch ate {
	case ateBoolean:
		return symbol.EncodingBool
	case ateFloat:
		return symbol.EncodingFloat
	case ateSigned:
		return symbol.EncodingSigned
	case ateUnsigned, ateAddress:
		return symbol.EncodingUnsigned
	case ateSignedChar:
		if name == "char" {
			return symbol.EncodingChar
		}
		return symbol.EncodingSigned
	case ateUnsignedChar:
		if name == "char" {
			return symbol.EncodingChar
		}
		return symbol.EncodingUnsigned
	case ateUTF:
		return symbol.EncodingChar
	}
	return symbol.EncodingNone
}

func (p *Provider) ElementType(m *symbol.Module, id symbol.TypeID) (symbol.TypeID, error) {
	_, n, err := p.stripped(id)
	if err != nil {
		return 0, err
	}
	switch n.Tag {
	case dwarf.TagPointerType, dwarf.TagReferenceType, dwarf.TagRvalueReferenceType,
		dwarf.TagArrayType, dwarf.TagEnumerationType:
		if ref, ok := n.ref(dwarf.AttrType); ok {
			return symbol.TypeID(ref), nil
		}
	}
	return 0, fmt.Errorf("%w: type %#x has no element type", symbol.ErrNotFound, uint64(id))
}

// TemplateArguments prefers the template parameter entries of the type
// and falls back to parsing its name.
func (p *Provider) TemplateArguments(m *symbol.Module, id symbol.TypeID) ([]symbol.TemplateArgument, error) {
	idx, n, err := p.stripped(id)
	if err != nil {
		return nil, err
	}
	var args []symbol.TemplateArgument
	for _, c := range n.children {
		switch c.Tag {
		case dwarf.TagTemplateTypeParameter:
			text := "void"
			if t, ok := idx.target(c); ok {
				text = idx.render(t, 0)
			}
			args = append(args, symbol.TemplateArgument{Text: text})
		case dwarf.TagTemplateValueParameter:
			v, ok := c.num(dwarf.AttrConstValue)
			if !ok {
				args = append(args, symbol.TemplateArgument{Text: c.name()})
				continue
			}
			args = append(args, symbol.TemplateArgument{Text: strconv.FormatInt(v, 10), IsNumber: true, Number: v})
		}
	}
	if args == nil {
		return symbol.ParseTemplateArguments(n.qname), nil
	}
	return args, nil
}

func (p *Provider) EnumName(m *symbol.Module, id symbol.TypeID, value uint64) (string, error) {
	idx, n, err := p.stripped(id)
	if err != nil {
		return "", err
	}
	if n.Tag != dwarf.TagEnumerationType {
		return "", fmt.Errorf("%w: type %#x is not an enum", symbol.ErrNotFound, uint64(id))
	}
	size, err := p.size(idx, n, 0)
	if err != nil {
		return "", err
	}
	mask := sizeMask(size)

	names := p.enumValues(n, mask)
	if name, ok := names[value&mask]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: no enumerator of %s with value %d", symbol.ErrNotFound, n.qname, value)
}

// enumValues builds the value to name map of an enum once. The first
// enumerator wins when several share a value.
func (p *Provider) enumValues(n *node, mask uint64) map[uint64]string {
	if v, ok := p.enums.Load(n.Offset); ok {
		return v.(map[uint64]string)
	}
	names := make(map[uint64]string)
	for _, c := range n.children {
		if c.Tag != dwarf.TagEnumerator {
			continue
		}
		v, ok := c.num(dwarf.AttrConstValue)
		if !ok {
			continue
		}
		if _, dup := names[uint64(v)&mask]; !dup {
			names[uint64(v)&mask] = c.name()
		}
	}
	v, _ := p.enums.LoadOrStore(n.Offset, names)
	return v.(map[uint64]string)
}

func sizeMask(size uint64) uint64 {
	if size == 0 || size >= 8 {
		return math.MaxUint64
	}
	return 1<<(size*8) - 1
}
