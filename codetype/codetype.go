package codetype

import (
	"fmt"
	"sync"

	"github.com/skdltmxn/dbgsym/symbol"
)

// Field is a data member of a user-defined type.
type Field struct {
	Name   string
	Type   symbol.TypeID
	Offset int64
}

// BaseClass is a base of a user-defined type. The offset of a virtual
// base is only known for a given object.
type BaseClass struct {
	Name   string
	Type   symbol.TypeID
	Offset symbol.BaseOffset
}

// CodeType is one type of a module. Its structural attributes are fixed
// when it is created; members and bases are fetched on first use.
type CodeType struct {
	module  *Module
	id      symbol.TypeID
	name    string
	tag     symbol.Tag
	builtin symbol.BuiltinType
	size    uint64
	elemID  symbol.TypeID

	membersOnce sync.Once
	fieldNames  []string
	fields      map[string]Field
	baseNames   []string
	bases       map[string]BaseClass
	membersErr  error
}

func (t *CodeType) Module() *Module             { return t.module }
func (t *CodeType) ID() symbol.TypeID           { return t.id }
func (t *CodeType) Name() string                { return t.name }
func (t *CodeType) Tag() symbol.Tag             { return t.tag }
func (t *CodeType) Builtin() symbol.BuiltinType { return t.builtin }
func (t *CodeType) Size() uint64                { return t.size }

func (t *CodeType) IsPointer() bool  { return t.tag == symbol.TagPointer }
func (t *CodeType) IsArray() bool    { return t.tag == symbol.TagArray }
func (t *CodeType) IsEnum() bool     { return t.tag == symbol.TagEnum }
func (t *CodeType) IsUDT() bool      { return t.tag == symbol.TagUDT }
func (t *CodeType) IsFunction() bool { return t.tag == symbol.TagFunction }

// IsSimple reports whether t is a scalar the engine can decode.
func (t *CodeType) IsSimple() bool {
	return t.tag == symbol.TagBuiltin && t.builtin != symbol.BuiltinNoType && t.builtin != symbol.BuiltinVoid
}

func (t *CodeType) String() string {
	return fmt.Sprintf("%s!%s", t.module.Name(), t.name)
}

// ElementType returns the pointee of a pointer, the element of an array
// or the underlying type of an enum.
func (t *CodeType) ElementType() (*CodeType, error) {
	switch t.tag {
	case symbol.TagPointer, symbol.TagArray, symbol.TagEnum:
		return t.module.TypeByID(t.elemID)
	}
	return nil, fmt.Errorf("%w: %s has no element type", symbol.ErrNotFound, t.name)
}

// ArrayLength returns the element count of a fixed-size array.
func (t *CodeType) ArrayLength() (int, error) {
	elem, err := t.ElementType()
	if err != nil {
		return 0, err
	}
	if !t.IsArray() || elem.size == 0 {
		return 0, fmt.Errorf("%w: %s is not a sized array", symbol.ErrUnsupportedFormat, t.name)
	}
	return int(t.size / elem.size), nil
}

func (t *CodeType) loadMembers() error {
	t.membersOnce.Do(func() {
		if t.tag != symbol.TagUDT {
			t.fields = map[string]Field{}
			t.bases = map[string]BaseClass{}
			return
		}
		t.membersErr = t.fetchMembers()
	})
	return t.membersErr
}

func (t *CodeType) fetchMembers() error {
	m := t.module
	names, err := call(m, func(p symbol.Provider, d *symbol.Module) ([]string, error) {
		return p.FieldNames(d, t.id)
	})
	if err != nil {
		return fmt.Errorf("codetype: failed to list fields of %s: %w", t.name, err)
	}
	t.fieldNames = names
	t.fields = make(map[string]Field, len(names))
	for _, name := range names {
		f := Field{Name: name}
		f.Type, f.Offset, err = fieldTypeAndOffset(m, t.id, name)
		if err != nil {
			return fmt.Errorf("codetype: failed to resolve field %s.%s: %w", t.name, name, err)
		}
		t.fields[name] = f
	}

	bases, err := call(m, func(p symbol.Provider, d *symbol.Module) ([]symbol.BaseClass, error) {
		return p.DirectBaseClasses(d, t.id)
	})
	if err != nil {
		return fmt.Errorf("codetype: failed to list bases of %s: %w", t.name, err)
	}
	t.bases = make(map[string]BaseClass, len(bases))
	for _, b := range bases {
		t.baseNames = append(t.baseNames, b.Name)
		t.bases[b.Name] = BaseClass(b)
	}
	return nil
}

func fieldTypeAndOffset(m *Module, id symbol.TypeID, name string) (symbol.TypeID, int64, error) {
	type result struct {
		typ symbol.TypeID
		off int64
	}
	r, err := call(m, func(p symbol.Provider, d *symbol.Module) (result, error) {
		typ, off, err := p.FieldTypeAndOffset(d, id, name)
		return result{typ, off}, err
	})
	return r.typ, r.off, err
}

// FieldNames lists the direct data members in provider order. The order
// carries no meaning.
func (t *CodeType) FieldNames() ([]string, error) {
	if err := t.loadMembers(); err != nil {
		return nil, err
	}
	return t.fieldNames, nil
}

// Field returns the direct data member called name.
func (t *CodeType) Field(name string) (Field, error) {
	if err := t.loadMembers(); err != nil {
		return Field{}, err
	}
	f, ok := t.fields[name]
	if !ok {
		return Field{}, fmt.Errorf("%w: field %s in %s", symbol.ErrNotFound, name, t.name)
	}
	return f, nil
}

// BaseClassNames lists the direct bases in provider order.
func (t *CodeType) BaseClassNames() ([]string, error) {
	if err := t.loadMembers(); err != nil {
		return nil, err
	}
	return t.baseNames, nil
}

// DirectBaseClass returns the direct base called name.
func (t *CodeType) DirectBaseClass(name string) (BaseClass, error) {
	if err := t.loadMembers(); err != nil {
		return BaseClass{}, err
	}
	b, ok := t.bases[name]
	if !ok {
		return BaseClass{}, fmt.Errorf("%w: base %s of %s", symbol.ErrNotFound, name, t.name)
	}
	return b, nil
}

// BaseClass finds the base called name anywhere in the inheritance tree.
func (t *CodeType) BaseClass(name string) (*CodeType, symbol.BaseOffset, error) {
	if b, err := t.DirectBaseClass(name); err == nil {
		bt, err := t.module.TypeByID(b.Type)
		return bt, b.Offset, err
	}
	type result struct {
		id  symbol.TypeID
		off symbol.BaseOffset
	}
	r, err := call(t.module, func(p symbol.Provider, d *symbol.Module) (result, error) {
		id, off, err := p.BaseClass(d, t.id, name)
		return result{id, off}, err
	})
	if err != nil {
		return nil, symbol.BaseOffset{}, err
	}
	bt, err := t.module.TypeByID(r.id)
	if err != nil {
		return nil, symbol.BaseOffset{}, err
	}
	return bt, r.off, nil
}

// AllFieldNames lists the members of t and of all its bases.
func (t *CodeType) AllFieldNames() ([]string, error) {
	return call(t.module, func(p symbol.Provider, d *symbol.Module) ([]string, error) {
		return p.AllFieldNames(d, t.id)
	})
}

// EnumName returns the enumerator of t with the given value.
func (t *CodeType) EnumName(value uint64) (string, error) {
	if !t.IsEnum() {
		return "", fmt.Errorf("%w: %s is not an enum", symbol.ErrNotFound, t.name)
	}
	return call(t.module, func(p symbol.Provider, d *symbol.Module) (string, error) {
		return p.EnumName(d, t.id, value)
	})
}

func (t *CodeType) TemplateArguments() ([]symbol.TemplateArgument, error) {
	return call(t.module, func(p symbol.Provider, d *symbol.Module) ([]symbol.TemplateArgument, error) {
		return p.TemplateArguments(d, t.id)
	})
}
