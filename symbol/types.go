// Package symbol defines the capability set every debug symbol backend
// answers, the error taxonomy shared by the engine, and the resolution of
// variable storage locations.
package symbol

import (
	"fmt"

	"github.com/skdltmxn/dbgsym/arch"
)

// TypeID identifies a type within one module's symbol stream.
type TypeID uint64

// Tag classifies a type.
type Tag uint8

const (
	TagUnknown Tag = iota
	TagBuiltin
	TagUDT
	TagPointer
	TagArray
	TagEnum
	TagFunction
)

func (t Tag) String() string {
	switch t {
	case TagBuiltin:
		return "builtin"
	case TagUDT:
		return "udt"
	case TagPointer:
		return "pointer"
	case TagArray:
		return "array"
	case TagEnum:
		return "enum"
	case TagFunction:
		return "function"
	default:
		return "unknown"
	}
}

// BuiltinType is the classification of a scalar type.
type BuiltinType uint8

const (
	BuiltinNoType BuiltinType = iota
	BuiltinVoid
	BuiltinBool
	BuiltinChar8
	BuiltinChar16
	BuiltinChar32
	BuiltinInt8
	BuiltinInt16
	BuiltinInt32
	BuiltinInt64
	BuiltinInt128
	BuiltinUInt8
	BuiltinUInt16
	BuiltinUInt32
	BuiltinUInt64
	BuiltinUInt128
	BuiltinFloat32
	BuiltinFloat64
	BuiltinFloat80
)

var builtinNames = [...]string{
	BuiltinNoType:  "notype",
	BuiltinVoid:    "void",
	BuiltinBool:    "bool",
	BuiltinChar8:   "char8",
	BuiltinChar16:  "char16",
	BuiltinChar32:  "char32",
	BuiltinInt8:    "int8",
	BuiltinInt16:   "int16",
	BuiltinInt32:   "int32",
	BuiltinInt64:   "int64",
	BuiltinInt128:  "int128",
	BuiltinUInt8:   "uint8",
	BuiltinUInt16:  "uint16",
	BuiltinUInt32:  "uint32",
	BuiltinUInt64:  "uint64",
	BuiltinUInt128: "uint128",
	BuiltinFloat32: "float32",
	BuiltinFloat64: "float64",
	BuiltinFloat80: "float80",
}

func (b BuiltinType) String() string {
	if int(b) < len(builtinNames) {
		return builtinNames[b]
	}
	return fmt.Sprintf("builtin(%d)", b)
}

// Size returns the byte width of the value, 0 for NoType and void.
func (b BuiltinType) Size() int {
	switch b {
	case BuiltinBool, BuiltinChar8, BuiltinInt8, BuiltinUInt8:
		return 1
	case BuiltinChar16, BuiltinInt16, BuiltinUInt16:
		return 2
	case BuiltinChar32, BuiltinInt32, BuiltinUInt32, BuiltinFloat32:
		return 4
	case BuiltinInt64, BuiltinUInt64, BuiltinFloat64:
		return 8
	case BuiltinFloat80:
		return 10
	case BuiltinInt128, BuiltinUInt128:
		return 16
	}
	return 0
}

func (b BuiltinType) IsSigned() bool {
	return b >= BuiltinInt8 && b <= BuiltinInt128
}

func (b BuiltinType) IsFloat() bool {
	return b >= BuiltinFloat32 && b <= BuiltinFloat80
}

// Encoding is a backend-neutral basic type family.
type Encoding uint8

const (
	EncodingNone Encoding = iota
	EncodingVoid
	EncodingBool
	EncodingSigned
	EncodingUnsigned
	EncodingChar
	EncodingFloat
)

// Classify maps a basic type family and byte width to a builtin
// classification. Unsupported combinations give BuiltinNoType.
func Classify(enc Encoding, size uint64) BuiltinType {
	switch enc {
	case EncodingVoid:
		return BuiltinVoid
	case EncodingBool:
		if size >= 1 && size <= 8 {
			return BuiltinBool
		}
	case EncodingChar:
		switch size {
		case 1:
			return BuiltinChar8
		case 2:
			return BuiltinChar16
		case 4:
			return BuiltinChar32
		}
	case EncodingSigned:
		switch size {
		case 1:
			return BuiltinInt8
		case 2:
			return BuiltinInt16
		case 4:
			return BuiltinInt32
		case 8:
			return BuiltinInt64
		case 16:
			return BuiltinInt128
		}
	case EncodingUnsigned:
		switch size {
		case 1:
			return BuiltinUInt8
		case 2:
			return BuiltinUInt16
		case 4:
			return BuiltinUInt32
		case 8:
			return BuiltinUInt64
		case 16:
			return BuiltinUInt128
		}
	case EncodingFloat:
		switch size {
		case 4:
			return BuiltinFloat32
		case 8:
			return BuiltinFloat64
		case 10, 12, 16:
			// x87 extended precision, padded to 12 or 16 bytes
			return BuiltinFloat80
		}
	}
	return BuiltinNoType
}

// BaseOffset locates a base class subobject. It is either a static byte
// offset from the derived object or a virtual base, whose offset depends
// on the complete object and must be computed from memory.
type BaseOffset struct {
	virtual bool
	offset  int64
}

func StaticOffset(n int64) BaseOffset { return BaseOffset{offset: n} }

func VirtualBase() BaseOffset { return BaseOffset{virtual: true} }

func (o BaseOffset) IsVirtual() bool { return o.virtual }

// Static returns the offset and true unless o is a virtual base.
func (o BaseOffset) Static() (int64, bool) {
	if o.virtual {
		return 0, false
	}
	return o.offset, true
}

// Add shifts a static offset by n. A virtual base stays virtual.
func (o BaseOffset) Add(n int64) BaseOffset {
	if o.virtual {
		return o
	}
	return StaticOffset(o.offset + n)
}

// Then composes o with an offset measured from the subobject o locates.
func (o BaseOffset) Then(inner BaseOffset) BaseOffset {
	if o.virtual || inner.virtual {
		return VirtualBase()
	}
	return StaticOffset(o.offset + inner.offset)
}

func (o BaseOffset) String() string {
	if o.virtual {
		return "virtual"
	}
	return fmt.Sprintf("%+d", o.offset)
}

// BaseClass is one direct base of a class.
type BaseClass struct {
	Name   string
	Type   TypeID
	Offset BaseOffset
}

// RuntimeType is the dynamic type recovered from a vtable pointer.
type RuntimeType struct {
	Type TypeID
	Name string
	// Offset is the position of the vtable's subobject inside the dynamic
	// object. It is meaningless when Virtual is set.
	Offset int64
	// Virtual is set when the subobject is a virtual base of the dynamic
	// type.
	Virtual bool
}

// LocalSymbol is a local variable or parameter of a frame.
type LocalSymbol struct {
	Name        string
	Type        TypeID
	IsParameter bool
	Location    Location
}

// Module describes one loaded binary.
type Module struct {
	Name string
	// Base is the load address. RVAs are relative to it.
	Base       uint64
	Size       uint64
	PtrSize    int
	SymbolPath string
	Arch       arch.Arch
}

func (m *Module) String() string {
	return fmt.Sprintf("%s@%#x", m.Name, m.Base)
}

// Contains reports whether addr lies within the module image.
func (m *Module) Contains(addr uint64) bool {
	return addr >= m.Base && addr-m.Base < m.Size
}
