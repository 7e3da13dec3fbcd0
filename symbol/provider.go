package symbol

import (
	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/memory"
)

// Provider answers structural queries about the types and symbols of a
// module. Lookups that miss return errors wrapping ErrNotFound.
//
// Name lists are returned in backend order. The order differs between
// backends and carries no meaning; index results by name.
type Provider interface {
	TypeTag(m *Module, id TypeID) (Tag, error)
	TypeName(m *Module, id TypeID) (string, error)
	TypeID(m *Module, name string) (TypeID, error)
	TypeSize(m *Module, id TypeID) (uint64, error)

	// BuiltinType classifies a scalar type. It never fails: types that are
	// not scalars, or whose width is not supported, give BuiltinNoType.
	BuiltinType(m *Module, id TypeID) BuiltinType

	// ElementType returns the pointee of a pointer, the element of an
	// array or the underlying type of an enum.
	ElementType(m *Module, id TypeID) (TypeID, error)

	// FieldNames lists the direct non-static data members.
	FieldNames(m *Module, id TypeID) ([]string, error)
	FieldTypeAndOffset(m *Module, id TypeID, field string) (TypeID, int64, error)

	// AllFieldNames lists the data members of the type and of every base,
	// depth first.
	AllFieldNames(m *Module, id TypeID) ([]string, error)

	// AllFieldTypeAndOffset finds a member anywhere in the inheritance
	// tree. Members reached through a virtual base have a virtual offset.
	AllFieldTypeAndOffset(m *Module, id TypeID, field string) (TypeID, BaseOffset, error)

	// BaseClass finds a base anywhere in the inheritance tree by exact
	// name, accumulating static offsets along the path.
	BaseClass(m *Module, id TypeID, className string) (TypeID, BaseOffset, error)
	DirectBaseClasses(m *Module, id TypeID) ([]BaseClass, error)

	EnumName(m *Module, id TypeID, value uint64) (string, error)

	// GlobalVariableAddress returns the absolute address of a global or
	// static data member, relocated by the module base.
	GlobalVariableAddress(m *Module, name string) (uint64, error)
	GlobalVariableTypeID(m *Module, name string) (TypeID, error)

	// VirtualClassBaseAddress returns the address of the virtual base
	// named className inside the object of type id at objAddr, or 0 when
	// no such virtual base exists.
	VirtualClassBaseAddress(m *Module, mem memory.Reader, id TypeID, objAddr uint64, className string) (uint64, error)

	// RuntimeCodeTypeAndOffset recovers the dynamic type of an object
	// from the vtable address stored in it. It returns nil without error
	// when vtableAddr is not a vtable.
	RuntimeCodeTypeAndOffset(m *Module, mem memory.Reader, vtableAddr uint64) (*RuntimeType, error)

	// SymbolByAddress returns the symbol covering addr and the
	// displacement of addr from its start.
	SymbolByAddress(m *Module, addr uint64) (string, uint64, error)

	TemplateArguments(m *Module, id TypeID) ([]TemplateArgument, error)

	// FrameLocals lists the variables in scope at ip, innermost block
	// last.
	FrameLocals(m *Module, ip uint64, onlyArguments bool) ([]LocalSymbol, error)
}

// FrameAddressProvider is implemented by backends with call frame
// information.
type FrameAddressProvider interface {
	// CanonicalFrameAddress computes the CFA of the frame described by
	// ctx. ok is false when the backend has no rule for ctx.PC().
	CanonicalFrameAddress(m *Module, ctx *arch.ThreadContext, mem memory.Reader) (cfa uint64, ok bool, err error)
}
