package pdb

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/skdltmxn/dbgsym/internal/tpi"
)

// TypeKind identifies the category of a type.
type TypeKind uint16

const (
	TypeKindUnknown TypeKind = iota
	TypeKindPrimitive
	TypeKindPointer
	TypeKindArray
	TypeKindFunction
	TypeKindMemberFunction
	TypeKindClass
	TypeKindStruct
	TypeKindInterface
	TypeKindUnion
	TypeKindEnum
	TypeKindBitfield
	TypeKindModifier
)

func (k TypeKind) String() string {
	switch k {
	case TypeKindPrimitive:
		return "primitive"
	case TypeKindPointer:
		return "pointer"
	case TypeKindArray:
		return "array"
	case TypeKindFunction:
		return "function"
	case TypeKindMemberFunction:
		return "member_function"
	case TypeKindClass:
		return "class"
	case TypeKindStruct:
		return "struct"
	case TypeKindInterface:
		return "interface"
	case TypeKindUnion:
		return "union"
	case TypeKindEnum:
		return "enum"
	case TypeKindBitfield:
		return "bitfield"
	case TypeKindModifier:
		return "modifier"
	default:
		return "unknown"
	}
}

// IsUDT reports whether k is a class, struct, interface or union.
func (k TypeKind) IsUDT() bool {
	return k == TypeKindClass || k == TypeKindStruct || k == TypeKindInterface || k == TypeKindUnion
}

// TypeIndex is a reference to a type in the type table.
type TypeIndex uint32

// IsSimpleType returns true if this is a built-in primitive type.
func (ti TypeIndex) IsSimpleType() bool {
	return tpi.TypeIndex(ti).IsSimple()
}

// Type provides information about a type record.
type Type interface {
	// Index returns the type index.
	Index() TypeIndex

	// Kind returns the type kind.
	Kind() TypeKind

	// Name returns the type name (if any).
	Name() string

	// Size returns the size in bytes (0 if unknown).
	Size() uint64
}

// PrimitiveType represents a built-in type, or a pointer to one when the
// index carries a pointer mode.
type PrimitiveType struct {
	index     TypeIndex
	name      string
	size      uint64
	simple    tpi.SimpleKind
	isPointer bool
}

func (t *PrimitiveType) Index() TypeIndex           { return t.index }
func (t *PrimitiveType) Kind() TypeKind             { return TypeKindPrimitive }
func (t *PrimitiveType) Name() string               { return t.name }
func (t *PrimitiveType) Size() uint64               { return t.size }
func (t *PrimitiveType) SimpleKind() tpi.SimpleKind { return t.simple }
func (t *PrimitiveType) IsPointer() bool            { return t.isPointer }

// Pointee returns the direct simple type a simple pointer refers to.
func (t *PrimitiveType) Pointee() TypeIndex { return TypeIndex(t.simple) }

// PointerType represents a pointer or reference.
type PointerType struct {
	index        TypeIndex
	referentType TypeIndex
	size         uint64
	mode         tpi.PointerMode
}

func (t *PointerType) Index() TypeIndex        { return t.index }
func (t *PointerType) Kind() TypeKind          { return TypeKindPointer }
func (t *PointerType) Name() string            { return "" }
func (t *PointerType) Size() uint64            { return t.size }
func (t *PointerType) ReferentType() TypeIndex { return t.referentType }

func (t *PointerType) IsReference() bool {
	return t.mode == tpi.PointerModeLValueRef || t.mode == tpi.PointerModeRValueRef
}

func (t *PointerType) IsMemberPointer() bool {
	return t.mode == tpi.PointerModeDataMember || t.mode == tpi.PointerModeMemberFunction
}

// ArrayType represents a fixed-size array. Size is the total size.
type ArrayType struct {
	index       TypeIndex
	elementType TypeIndex
	size        uint64
	name        string
}

func (t *ArrayType) Index() TypeIndex       { return t.index }
func (t *ArrayType) Kind() TypeKind         { return TypeKindArray }
func (t *ArrayType) Name() string           { return t.name }
func (t *ArrayType) Size() uint64           { return t.size }
func (t *ArrayType) ElementType() TypeIndex { return t.elementType }

// FunctionType represents a free or member function signature.
type FunctionType struct {
	index          TypeIndex
	returnType     TypeIndex
	classType      TypeIndex
	argumentList   TypeIndex
	parameterCount uint16
}

func (t *FunctionType) Index() TypeIndex { return t.index }

func (t *FunctionType) Kind() TypeKind {
	if t.classType != 0 {
		return TypeKindMemberFunction
	}
	return TypeKindFunction
}

func (t *FunctionType) Name() string            { return "" }
func (t *FunctionType) Size() uint64            { return 0 }
func (t *FunctionType) ReturnType() TypeIndex   { return t.returnType }
func (t *FunctionType) ClassType() TypeIndex    { return t.classType }
func (t *FunctionType) ArgumentList() TypeIndex { return t.argumentList }
func (t *FunctionType) ParameterCount() uint16  { return t.parameterCount }

// ClassType represents a class, struct, interface or union.
type ClassType struct {
	index        TypeIndex
	kind         TypeKind
	name         string
	uniqueName   string
	size         uint64
	fieldList    TypeIndex
	vshape       TypeIndex
	isForwardRef bool
}

func (t *ClassType) Index() TypeIndex     { return t.index }
func (t *ClassType) Kind() TypeKind       { return t.kind }
func (t *ClassType) Name() string         { return t.name }
func (t *ClassType) Size() uint64         { return t.size }
func (t *ClassType) UniqueName() string   { return t.uniqueName }
func (t *ClassType) FieldList() TypeIndex { return t.fieldList }
func (t *ClassType) VShape() TypeIndex    { return t.vshape }
func (t *ClassType) IsForwardRef() bool   { return t.isForwardRef }

// EnumType represents an enumeration. Its size is that of the underlying type.
type EnumType struct {
	index          TypeIndex
	name           string
	uniqueName     string
	size           uint64
	underlyingType TypeIndex
	fieldList      TypeIndex
	isForwardRef   bool
}

func (t *EnumType) Index() TypeIndex          { return t.index }
func (t *EnumType) Kind() TypeKind            { return TypeKindEnum }
func (t *EnumType) Name() string              { return t.name }
func (t *EnumType) Size() uint64              { return t.size }
func (t *EnumType) UniqueName() string        { return t.uniqueName }
func (t *EnumType) UnderlyingType() TypeIndex { return t.underlyingType }
func (t *EnumType) FieldList() TypeIndex      { return t.fieldList }
func (t *EnumType) IsForwardRef() bool        { return t.isForwardRef }

// BitfieldType represents a bit field member type.
type BitfieldType struct {
	index          TypeIndex
	underlyingType TypeIndex
	size           uint64
	length         uint8
	position       uint8
}

func (t *BitfieldType) Index() TypeIndex          { return t.index }
func (t *BitfieldType) Kind() TypeKind            { return TypeKindBitfield }
func (t *BitfieldType) Name() string              { return "" }
func (t *BitfieldType) Size() uint64              { return t.size }
func (t *BitfieldType) UnderlyingType() TypeIndex { return t.underlyingType }
func (t *BitfieldType) Length() uint8             { return t.length }
func (t *BitfieldType) Position() uint8           { return t.position }

// ModifierType represents a const or volatile qualified type.
type ModifierType struct {
	index        TypeIndex
	modifiedType TypeIndex
	isConst      bool
	isVolatile   bool
}

func (t *ModifierType) Index() TypeIndex        { return t.index }
func (t *ModifierType) Kind() TypeKind          { return TypeKindModifier }
func (t *ModifierType) Name() string            { return "" }
func (t *ModifierType) Size() uint64            { return 0 }
func (t *ModifierType) ModifiedType() TypeIndex { return t.modifiedType }
func (t *ModifierType) IsConst() bool           { return t.isConst }
func (t *ModifierType) IsVolatile() bool        { return t.isVolatile }

// TypeTable provides access to types in the PDB.
type TypeTable struct {
	tpiStream *tpi.Stream

	typeCache  sync.Map // TypeIndex -> Type
	fieldCache sync.Map // TypeIndex -> *tpi.FieldList

	byName     map[string][]Type
	byNameOnce sync.Once
}

func newTypeTable(tpiStream *tpi.Stream) *TypeTable {
	return &TypeTable{tpiStream: tpiStream}
}

// All returns an iterator over all record-backed types.
func (tt *TypeTable) All() iter.Seq[Type] {
	return func(yield func(Type) bool) {
		begin := tt.tpiStream.TypeIndexBegin()
		end := tt.tpiStream.TypeIndexEnd()

		for ti := begin; ti < end; ti++ {
			typ, err := tt.ByIndex(TypeIndex(ti))
			if err != nil {
				continue
			}
			if !yield(typ) {
				return
			}
		}
	}
}

// ByIndex returns the type at the given index.
func (tt *TypeTable) ByIndex(index TypeIndex) (Type, error) {
	if cached, ok := tt.typeCache.Load(index); ok {
		return cached.(Type), nil
	}

	var typ Type
	if index.IsSimpleType() {
		typ = parseSimpleType(index)
	} else {
		record, err := tt.tpiStream.Record(tpi.TypeIndex(index))
		if err != nil {
			if errors.Is(err, tpi.ErrTypeIndexOutOfRange) {
				return nil, fmt.Errorf("%w: %#x", ErrTypeNotFound, uint32(index))
			}
			return nil, err
		}
		if typ, err = tt.parseTypeRecord(index, record); err != nil {
			return nil, &ParseError{Stream: "TPI", Offset: int64(index), Message: record.Kind.String(), Err: err}
		}
	}

	v, _ := tt.typeCache.LoadOrStore(index, typ)
	return v.(Type), nil
}

// ByName returns the named type. Full definitions win over forward
// references; the first definition in index order is returned.
func (tt *TypeTable) ByName(name string) (Type, error) {
	tt.buildNameIndex()
	types := tt.byName[name]
	if len(types) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotFound, name)
	}
	for _, typ := range types {
		if !isForwardRef(typ) {
			return typ, nil
		}
	}
	return types[0], nil
}

// Names returns the distinct names of user-defined types in sorted order.
func (tt *TypeTable) Names() []string {
	tt.buildNameIndex()
	return slices.Sorted(maps.Keys(tt.byName))
}

func (tt *TypeTable) buildNameIndex() {
	tt.byNameOnce.Do(func() {
		tt.byName = make(map[string][]Type)
		for typ := range tt.All() {
			if !typ.Kind().IsUDT() && typ.Kind() != TypeKindEnum {
				continue
			}
			if name := typ.Name(); name != "" {
				tt.byName[name] = append(tt.byName[name], typ)
			}
		}
	})
}

func isForwardRef(t Type) bool {
	switch t := t.(type) {
	case *ClassType:
		return t.isForwardRef
	case *EnumType:
		return t.isForwardRef
	}
	return false
}

// Definition resolves a forward reference to the full definition. Types
// that are not forward references are returned as-is, and so are forward
// references without a definition.
func (tt *TypeTable) Definition(t Type) Type {
	if !isForwardRef(t) {
		return t
	}
	def, err := tt.ByName(t.Name())
	if err != nil || isForwardRef(def) || def.Kind() != t.Kind() {
		return t
	}
	return def
}

// Resolve returns the type at index with modifiers stripped and forward
// references replaced by their definitions.
func (tt *TypeTable) Resolve(index TypeIndex) (Type, error) {
	for range 16 {
		t, err := tt.ByIndex(index)
		if err != nil {
			return nil, err
		}
		m, ok := t.(*ModifierType)
		if !ok {
			return tt.Definition(t), nil
		}
		index = m.modifiedType
	}
	return nil, &ParseError{Stream: "TPI", Offset: int64(index), Message: "modifier chain too deep"}
}

// FieldList returns the merged field list of a class, union or enum,
// following LF_INDEX continuations.
func (tt *TypeTable) FieldList(index TypeIndex) (*tpi.FieldList, error) {
	if v, ok := tt.fieldCache.Load(index); ok {
		return v.(*tpi.FieldList), nil
	}

	merged := &tpi.FieldList{}
	seen := make(map[TypeIndex]bool)
	for ti := index; ti != 0; {
		if seen[ti] {
			return nil, &ParseError{Stream: "TPI", Offset: int64(ti), Message: "field list continuation loop"}
		}
		seen[ti] = true

		rec, err := tt.tpiStream.Record(tpi.TypeIndex(ti))
		if err != nil {
			return nil, err
		}
		if rec.Kind != tpi.LF_FIELDLIST {
			return nil, fmt.Errorf("%w: %s at %#x", tpi.ErrUnexpectedKind, rec.Kind, uint32(ti))
		}
		fl, err := tpi.ParseFieldList(rec.Data)
		if err != nil {
			return nil, &ParseError{Stream: "TPI", Offset: int64(ti), Message: "bad field list", Err: err}
		}
		merged.Bases = append(merged.Bases, fl.Bases...)
		merged.VirtualBases = append(merged.VirtualBases, fl.VirtualBases...)
		merged.Members = append(merged.Members, fl.Members...)
		merged.Static = append(merged.Static, fl.Static...)
		merged.Enumerates = append(merged.Enumerates, fl.Enumerates...)
		merged.Nested = append(merged.Nested, fl.Nested...)
		merged.HasVFuncTab = merged.HasVFuncTab || fl.HasVFuncTab
		ti = TypeIndex(fl.Continuation)
	}

	v, _ := tt.fieldCache.LoadOrStore(index, merged)
	return v.(*tpi.FieldList), nil
}

// TypeName renders a display name for any type index. Qualifiers are
// dropped so that names can be fed back into ByName.
func (tt *TypeTable) TypeName(index TypeIndex) (string, error) {
	return tt.typeName(index, 0)
}

func (tt *TypeTable) typeName(index TypeIndex, depth int) (string, error) {
	if depth > 16 {
		return "", &ParseError{Stream: "TPI", Offset: int64(index), Message: "type name too deep"}
	}
	t, err := tt.ByIndex(index)
	if err != nil {
		return "", err
	}
	switch t := t.(type) {
	case *PointerType:
		inner, err := tt.typeName(t.referentType, depth+1)
		if err != nil {
			return "", err
		}
		if t.IsReference() {
			return inner + "&", nil
		}
		return inner + "*", nil
	case *ArrayType:
		inner, err := tt.typeName(t.elementType, depth+1)
		if err != nil {
			return "", err
		}
		elem, err := tt.Resolve(t.elementType)
		if err != nil {
			return "", err
		}
		n := uint64(0)
		if elem.Size() > 0 {
			n = t.size / elem.Size()
		}
		return inner + "[" + strconv.FormatUint(n, 10) + "]", nil
	case *ModifierType:
		return tt.typeName(t.modifiedType, depth+1)
	case *BitfieldType:
		return tt.typeName(t.underlyingType, depth+1)
	case *FunctionType:
		ret, err := tt.typeName(t.returnType, depth+1)
		if err != nil {
			return "", err
		}
		return ret + "()", nil
	}
	return t.Name(), nil
}

// Count returns the number of record-backed types.
func (tt *TypeTable) Count() uint32 {
	return tt.tpiStream.Header.TypeCount()
}

// simpleKinds lists the primitive kinds in the order name lookups prefer
// them.
var simpleKinds = []tpi.SimpleKind{
	tpi.SimpleVoid, tpi.SimpleBool8, tpi.SimpleNarrowChar, tpi.SimpleSignedChar,
	tpi.SimpleUnsignedChar, tpi.SimpleWideChar, tpi.SimpleChar8, tpi.SimpleChar16,
	tpi.SimpleChar32, tpi.SimpleSByte, tpi.SimpleByte, tpi.SimpleInt16Short,
	tpi.SimpleUInt16Short, tpi.SimpleInt32Long, tpi.SimpleUInt32Long, tpi.SimpleInt32,
	tpi.SimpleUInt32, tpi.SimpleInt64Quad, tpi.SimpleUInt64Quad, tpi.SimpleInt128Oct,
	tpi.SimpleUInt128Oct, tpi.SimpleFloat16, tpi.SimpleFloat32, tpi.SimpleFloat64,
	tpi.SimpleFloat80, tpi.SimpleFloat128, tpi.SimpleBool16, tpi.SimpleBool32,
	tpi.SimpleBool64, tpi.SimpleHResult,
}

// SimpleTypeByName returns the primitive type index whose display name is
// name, such as "int" or "char*". Pointer forms use the pointer mode of
// ptrSize.
func SimpleTypeByName(name string, ptrSize int) (TypeIndex, bool) {
	mode := tpi.SimpleNearPointer32
	if ptrSize == 8 {
		mode = tpi.SimpleNearPointer64
	}
	for _, m := range []tpi.SimpleMode{tpi.SimpleDirect, mode} {
		for _, k := range simpleKinds {
			idx := TypeIndex(uint32(m)<<8 | uint32(k))
			if parseSimpleType(idx).name == name {
				return idx, true
			}
		}
	}
	return 0, false
}

func parseSimpleType(index TypeIndex) *PrimitiveType {
	ti := tpi.TypeIndex(index)
	kind := ti.SimpleKind()
	mode := ti.SimpleMode()

	var name string
	var size uint64

	switch kind {
	case tpi.SimpleVoid:
		name = "void"
	case tpi.SimpleSignedChar:
		name, size = "signed char", 1
	case tpi.SimpleUnsignedChar:
		name, size = "unsigned char", 1
	case tpi.SimpleNarrowChar:
		name, size = "char", 1
	case tpi.SimpleWideChar:
		name, size = "wchar_t", 2
	case tpi.SimpleChar16:
		name, size = "char16_t", 2
	case tpi.SimpleChar32:
		name, size = "char32_t", 4
	case tpi.SimpleChar8:
		name, size = "char8_t", 1
	case tpi.SimpleSByte:
		name, size = "int8_t", 1
	case tpi.SimpleByte:
		name, size = "uint8_t", 1
	case tpi.SimpleInt16Short, tpi.SimpleInt16:
		name, size = "short", 2
	case tpi.SimpleUInt16Short, tpi.SimpleUInt16:
		name, size = "unsigned short", 2
	case tpi.SimpleInt32Long:
		name, size = "long", 4
	case tpi.SimpleUInt32Long:
		name, size = "unsigned long", 4
	case tpi.SimpleInt32:
		name, size = "int", 4
	case tpi.SimpleUInt32:
		name, size = "unsigned int", 4
	case tpi.SimpleInt64Quad, tpi.SimpleInt64:
		name, size = "int64_t", 8
	case tpi.SimpleUInt64Quad, tpi.SimpleUInt64:
		name, size = "uint64_t", 8
	case tpi.SimpleInt128Oct, tpi.SimpleInt128:
		name, size = "__int128", 16
	case tpi.SimpleUInt128Oct, tpi.SimpleUInt128:
		name, size = "unsigned __int128", 16
	case tpi.SimpleFloat16:
		name, size = "_Float16", 2
	case tpi.SimpleFloat32:
		name, size = "float", 4
	case tpi.SimpleFloat64:
		name, size = "double", 8
	case tpi.SimpleFloat80:
		name, size = "long double", 10
	case tpi.SimpleFloat128:
		name, size = "__float128", 16
	case tpi.SimpleBool8:
		name, size = "bool", 1
	case tpi.SimpleBool16:
		name, size = "bool16", 2
	case tpi.SimpleBool32:
		name, size = "bool32", 4
	case tpi.SimpleBool64:
		name, size = "bool64", 8
	case tpi.SimpleHResult:
		name, size = "HRESULT", 4
	default:
		name = "unknown"
	}

	isPointer := mode != tpi.SimpleDirect
	if isPointer {
		switch mode {
		case tpi.SimpleNearPointer64:
			size = 8
		case tpi.SimpleNearPointer128:
			size = 16
		default:
			size = 4
		}
		name += "*"
	}

	return &PrimitiveType{
		index:     index,
		name:      name,
		size:      size,
		simple:    kind,
		isPointer: isPointer,
	}
}

func (tt *TypeTable) parseTypeRecord(index TypeIndex, record *tpi.TypeRecord) (Type, error) {
	switch record.Kind {
	case tpi.LF_MODIFIER:
		rec, err := tpi.ParseModifierRecord(record.Data)
		if err != nil {
			return nil, err
		}
		return &ModifierType{
			index:        index,
			modifiedType: TypeIndex(rec.ModifiedType),
			isConst:      rec.Options.IsConst(),
			isVolatile:   rec.Options.IsVolatile(),
		}, nil

	case tpi.LF_POINTER:
		rec, err := tpi.ParsePointerRecord(record.Data)
		if err != nil {
			return nil, err
		}
		return &PointerType{
			index:        index,
			referentType: TypeIndex(rec.ReferentType),
			size:         uint64(rec.Attributes.Size()),
			mode:         rec.Attributes.Mode(),
		}, nil

	case tpi.LF_ARRAY:
		rec, err := tpi.ParseArrayRecord(record.Data)
		if err != nil {
			return nil, err
		}
		return &ArrayType{
			index:       index,
			elementType: TypeIndex(rec.ElementType),
			size:        rec.Size,
			name:        rec.Name,
		}, nil

	case tpi.LF_PROCEDURE:
		rec, err := tpi.ParseProcedureRecord(record.Data)
		if err != nil {
			return nil, err
		}
		return &FunctionType{
			index:          index,
			returnType:     TypeIndex(rec.ReturnType),
			argumentList:   TypeIndex(rec.ArgumentList),
			parameterCount: rec.ParameterCount,
		}, nil

	case tpi.LF_MFUNCTION:
		rec, err := tpi.ParseMFunctionRecord(record.Data)
		if err != nil {
			return nil, err
		}
		return &FunctionType{
			index:          index,
			returnType:     TypeIndex(rec.ReturnType),
			classType:      TypeIndex(rec.ClassType),
			argumentList:   TypeIndex(rec.ArgumentList),
			parameterCount: rec.ParameterCount,
		}, nil

	case tpi.LF_CLASS, tpi.LF_STRUCTURE, tpi.LF_INTERFACE:
		rec, err := tpi.ParseClassRecord(record.Data)
		if err != nil {
			return nil, err
		}
		kind := TypeKindClass
		switch record.Kind {
		case tpi.LF_STRUCTURE:
			kind = TypeKindStruct
		case tpi.LF_INTERFACE:
			kind = TypeKindInterface
		}
		return &ClassType{
			index:        index,
			kind:         kind,
			name:         rec.Name,
			uniqueName:   rec.UniqueName,
			size:         rec.Size,
			fieldList:    TypeIndex(rec.FieldList),
			vshape:       TypeIndex(rec.VShape),
			isForwardRef: rec.Properties.IsForwardRef(),
		}, nil

	case tpi.LF_UNION:
		rec, err := tpi.ParseUnionRecord(record.Data)
		if err != nil {
			return nil, err
		}
		return &ClassType{
			index:        index,
			kind:         TypeKindUnion,
			name:         rec.Name,
			uniqueName:   rec.UniqueName,
			size:         rec.Size,
			fieldList:    TypeIndex(rec.FieldList),
			isForwardRef: rec.Properties.IsForwardRef(),
		}, nil

	case tpi.LF_ENUM:
		rec, err := tpi.ParseEnumRecord(record.Data)
		if err != nil {
			return nil, err
		}
		t := &EnumType{
			index:          index,
			name:           rec.Name,
			uniqueName:     rec.UniqueName,
			underlyingType: TypeIndex(rec.UnderlyingType),
			fieldList:      TypeIndex(rec.FieldList),
			isForwardRef:   rec.Properties.IsForwardRef(),
		}
		if u, err := tt.ByIndex(t.underlyingType); err == nil {
			t.size = u.Size()
		}
		return t, nil

	case tpi.LF_BITFIELD:
		rec, err := tpi.ParseBitFieldRecord(record.Data)
		if err != nil {
			return nil, err
		}
		t := &BitfieldType{
			index:          index,
			underlyingType: TypeIndex(rec.Type),
			length:         rec.Length,
			position:       rec.Position,
		}
		if u, err := tt.ByIndex(t.underlyingType); err == nil {
			t.size = u.Size()
		}
		return t, nil

	default:
		return &genericType{index: index}, nil
	}
}

// genericType is used for record kinds without a dedicated model.
type genericType struct {
	index TypeIndex
}

func (t *genericType) Index() TypeIndex { return t.index }
func (t *genericType) Kind() TypeKind   { return TypeKindUnknown }
func (t *genericType) Name() string     { return "" }
func (t *genericType) Size() uint64     { return 0 }
