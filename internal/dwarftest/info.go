// Package dwarftest builds synthetic DWARF 4 sections for tests.
package dwarftest

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"fmt"

	"github.com/go-delve/delve/pkg/dwarf/util"
)

// Attribute value types with a form of their own. Other values are
// encoded by Go type: string as DW_FORM_string, int64 and int as
// DW_FORM_sdata, uint64 as DW_FORM_udata, bool as DW_FORM_flag_present and
// *DIE as DW_FORM_ref4.
type (
	Addr    uint64
	Expr    []byte
	LocList uint32
)

const (
	formAddr          = 0x01
	formString        = 0x08
	formSdata         = 0x0d
	formUdata         = 0x0f
	formRef4          = 0x13
	formSecOffset     = 0x17
	formExprloc       = 0x18
	formFlagPresent   = 0x19
	langCPlusPlus     = 0x04
	virtualityVirtual = 0x01
)

// Base type encodings.
const (
	EncBoolean      = 0x02
	EncFloat        = 0x04
	EncSigned       = 0x05
	EncSignedChar   = 0x06
	EncUnsigned     = 0x07
	EncUnsignedChar = 0x08
	EncUTF          = 0x10
)

type attr struct {
	at  dwarf.Attr
	val any
}

// DIE is a debugging information entry. Offset is valid once the unit
// has been built.
type DIE struct {
	Tag      dwarf.Tag
	attrs    []attr
	children []*DIE
	off      uint32
}

func (d *DIE) Offset() dwarf.Offset { return dwarf.Offset(d.off) }

// Attr appends an attribute and returns d.
func (d *DIE) Attr(at dwarf.Attr, v any) *DIE {
	d.attrs = append(d.attrs, attr{at, v})
	return d
}

// Child appends a new child entry and returns it.
func (d *DIE) Child(tag dwarf.Tag) *DIE {
	c := &DIE{Tag: tag}
	d.children = append(d.children, c)
	return c
}

func (d *DIE) Named(tag dwarf.Tag, name string) *DIE {
	return d.Child(tag).Attr(dwarf.AttrName, name)
}

func (d *DIE) Namespace(name string) *DIE { return d.Named(dwarf.TagNamespace, name) }

func (d *DIE) BaseType(name string, enc, size int64) *DIE {
	return d.Named(dwarf.TagBaseType, name).
		Attr(dwarf.AttrEncoding, enc).
		Attr(dwarf.AttrByteSize, size)
}

func (d *DIE) Struct(name string, size int64) *DIE {
	return d.Named(dwarf.TagStructType, name).Attr(dwarf.AttrByteSize, size)
}

func (d *DIE) Class(name string, size int64) *DIE {
	return d.Named(dwarf.TagClassType, name).Attr(dwarf.AttrByteSize, size)
}

// Declaration adds a struct declaration without a body.
func (d *DIE) Declaration(name string) *DIE {
	return d.Named(dwarf.TagStructType, name).Attr(dwarf.AttrDeclaration, true)
}

func (d *DIE) Pointer(typ *DIE, size int64) *DIE {
	p := d.Child(dwarf.TagPointerType).Attr(dwarf.AttrByteSize, size)
	if typ != nil {
		p.Attr(dwarf.AttrType, typ)
	}
	return p
}

func (d *DIE) Typedef(name string, typ *DIE) *DIE {
	return d.Named(dwarf.TagTypedef, name).Attr(dwarf.AttrType, typ)
}

func (d *DIE) Const(typ *DIE) *DIE {
	return d.Child(dwarf.TagConstType).Attr(dwarf.AttrType, typ)
}

// Array adds an array type with one dimension of count elements.
func (d *DIE) Array(elem *DIE, count int64) *DIE {
	a := d.Child(dwarf.TagArrayType).Attr(dwarf.AttrType, elem)
	a.Child(dwarf.TagSubrangeType).Attr(dwarf.AttrCount, count)
	return a
}

func (d *DIE) Enum(name string, underlying *DIE, size int64) *DIE {
	return d.Named(dwarf.TagEnumerationType, name).
		Attr(dwarf.AttrType, underlying).
		Attr(dwarf.AttrByteSize, size)
}

// Enumerator adds an enumerator to an enum and returns the enum.
func (d *DIE) Enumerator(name string, v int64) *DIE {
	d.Named(dwarf.TagEnumerator, name).Attr(dwarf.AttrConstValue, v)
	return d
}

// Member adds a data member at a constant offset and returns the parent.
func (d *DIE) Member(name string, typ *DIE, off int64) *DIE {
	d.Named(dwarf.TagMember, name).
		Attr(dwarf.AttrType, typ).
		Attr(dwarf.AttrDataMemberLoc, off)
	return d
}

// StaticMember declares a static data member and returns the declaration.
func (d *DIE) StaticMember(name string, typ *DIE) *DIE {
	return d.Named(dwarf.TagMember, name).
		Attr(dwarf.AttrType, typ).
		Attr(dwarf.AttrExternal, true).
		Attr(dwarf.AttrDeclaration, true)
}

// Inherit adds a non-virtual base and returns the derived type.
func (d *DIE) Inherit(typ *DIE, off int64) *DIE {
	d.Child(dwarf.TagInheritance).
		Attr(dwarf.AttrType, typ).
		Attr(dwarf.AttrDataMemberLoc, off)
	return d
}

// VirtualInherit adds a virtual base located by loc and returns the
// derived type.
func (d *DIE) VirtualInherit(typ *DIE, loc Expr) *DIE {
	d.Child(dwarf.TagInheritance).
		Attr(dwarf.AttrType, typ).
		Attr(dwarf.AttrDataMemberLoc, loc).
		Attr(dwarf.AttrVirtuality, int64(virtualityVirtual))
	return d
}

// TypeParam adds a template type parameter and returns the template.
func (d *DIE) TypeParam(name string, typ *DIE) *DIE {
	d.Named(dwarf.TagTemplateTypeParameter, name).Attr(dwarf.AttrType, typ)
	return d
}

// ValueParam adds a template value parameter and returns the template.
func (d *DIE) ValueParam(name string, typ *DIE, v int64) *DIE {
	d.Named(dwarf.TagTemplateValueParameter, name).
		Attr(dwarf.AttrType, typ).
		Attr(dwarf.AttrConstValue, v)
	return d
}

func (d *DIE) Variable(name string, typ *DIE, loc any) *DIE {
	v := d.Named(dwarf.TagVariable, name)
	if typ != nil {
		v.Attr(dwarf.AttrType, typ)
	}
	if loc != nil {
		v.Attr(dwarf.AttrLocation, loc)
	}
	return v
}

func (d *DIE) Param(name string, typ *DIE, loc any) *DIE {
	v := d.Named(dwarf.TagFormalParameter, name)
	if typ != nil {
		v.Attr(dwarf.AttrType, typ)
	}
	if loc != nil {
		v.Attr(dwarf.AttrLocation, loc)
	}
	return v
}

// Subprogram adds a function covering [low, low+size).
func (d *DIE) Subprogram(name string, low, size uint64, frameBase Expr) *DIE {
	s := d.Named(dwarf.TagSubprogram, name).
		Attr(dwarf.AttrLowpc, Addr(low)).
		Attr(dwarf.AttrHighpc, size)
	if frameBase != nil {
		s.Attr(dwarf.AttrFrameBase, frameBase)
	}
	return s
}

func (d *DIE) Block(low, size uint64) *DIE {
	return d.Child(dwarf.TagLexDwarfBlock).
		Attr(dwarf.AttrLowpc, Addr(low)).
		Attr(dwarf.AttrHighpc, size)
}

// Unit is a compilation unit with 8-byte addresses.
type Unit struct {
	Root *DIE
}

func NewUnit(name string) *Unit {
	root := &DIE{Tag: dwarf.TagCompileUnit}
	root.Attr(dwarf.AttrName, name).Attr(dwarf.AttrLanguage, int64(langCPlusPlus))
	return &Unit{Root: root}
}

type patch struct {
	at  int
	die *DIE
}

// Build encodes the unit, assigning every DIE its offset.
func (u *Unit) Build() (abbrev, info []byte) {
	var ab, in bytes.Buffer
	var patches []patch
	code := uint64(0)

	// unit_length is patched last
	in.Write([]byte{0, 0, 0, 0})
	binary.Write(&in, binary.LittleEndian, uint16(4))
	binary.Write(&in, binary.LittleEndian, uint32(0))
	in.WriteByte(8)

	var emit func(d *DIE)
	emit = func(d *DIE) {
		code++
		d.off = uint32(in.Len())
		util.EncodeULEB128(&ab, code)
		util.EncodeULEB128(&ab, uint64(d.Tag))
		if len(d.children) > 0 {
			ab.WriteByte(1)
		} else {
			ab.WriteByte(0)
		}

		util.EncodeULEB128(&in, code)
		for _, a := range d.attrs {
			util.EncodeULEB128(&ab, uint64(a.at))
			switch v := a.val.(type) {
			case string:
				ab.WriteByte(formString)
				in.WriteString(v)
				in.WriteByte(0)
			case int:
				ab.WriteByte(formSdata)
				util.EncodeSLEB128(&in, int64(v))
			case int64:
				ab.WriteByte(formSdata)
				util.EncodeSLEB128(&in, v)
			case uint64:
				ab.WriteByte(formUdata)
				util.EncodeULEB128(&in, v)
			case bool:
				ab.WriteByte(formFlagPresent)
			case Addr:
				ab.WriteByte(formAddr)
				binary.Write(&in, binary.LittleEndian, uint64(v))
			case Expr:
				ab.WriteByte(formExprloc)
				util.EncodeULEB128(&in, uint64(len(v)))
				in.Write(v)
			case LocList:
				ab.WriteByte(formSecOffset)
				binary.Write(&in, binary.LittleEndian, uint32(v))
			case *DIE:
				ab.WriteByte(formRef4)
				patches = append(patches, patch{in.Len(), v})
				in.Write([]byte{0, 0, 0, 0})
			default:
				panic(fmt.Sprintf("dwarftest: unsupported attribute value %T", a.val))
			}
		}
		ab.Write([]byte{0, 0})

		if len(d.children) > 0 {
			for _, c := range d.children {
				emit(c)
			}
			in.WriteByte(0)
		}
	}
	emit(u.Root)
	ab.WriteByte(0)

	info = in.Bytes()
	binary.LittleEndian.PutUint32(info, uint32(len(info)-4))
	for _, p := range patches {
		binary.LittleEndian.PutUint32(info[p.at:], p.die.off)
	}
	return ab.Bytes(), info
}

// Data builds the unit and loads it with debug/dwarf.
func (u *Unit) Data() (*dwarf.Data, error) {
	abbrev, info := u.Build()
	return dwarf.New(abbrev, nil, nil, info, nil, nil, nil, nil)
}
