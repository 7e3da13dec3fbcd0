package variable

import (
	"errors"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/skdltmxn/dbgsym/codetype"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/symbol"
)

// maxBaseDepth bounds the search of nested base classes.
const maxBaseDepth = 64

// child returns the member of type t at byte offset off inside v.
func (v *Variable) child(t *codetype.CodeType, off int64, name, path string) (*Variable, error) {
	if v.inline {
		b, err := v.raw(uint64(off), t.Size())
		if err != nil {
			return nil, err
		}
		return FromBuffer(t, v.mem, b, name).withPath(name, path), nil
	}
	c := New(t, v.mem, uint64(int64(v.addr)+off), name).withPath(name, path)
	if v.data != nil && off >= 0 && uint64(off)+t.Size() <= uint64(len(v.data)) {
		c.data = v.data[off : uint64(off)+t.Size()]
	}
	return c, nil
}

// eager reports whether the pointee of a pointer is read when the pointer
// is followed.
func eager(t *codetype.CodeType) bool {
	switch {
	case t.IsSimple(), t.IsPointer(), t.IsEnum():
		return true
	case t.IsArray():
		n, err := t.ArrayLength()
		return err == nil && n <= ArrayGroupSize
	}
	return false
}

// DereferencePointer returns the value a pointer points to. Simple
// values, pointers, enums and small arrays are read immediately; other
// pointees are read on access.
func (v *Variable) DereferencePointer() (*Variable, error) {
	if !v.typ.IsPointer() {
		return nil, fmt.Errorf("variable: %s is not a pointer", v.path)
	}
	elem, err := v.typ.ElementType()
	if err != nil {
		return nil, err
	}
	if elem.Size() == 0 {
		return nil, fmt.Errorf("%w: cannot dereference %s", symbol.ErrUnsupportedFormat, v.typ.Name())
	}
	addr, err := v.Uint()
	if err != nil {
		return nil, err
	}
	if addr == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNullPointer, v.path)
	}
	d := New(elem, v.mem, addr, v.name).withPath(v.name, "*"+v.path)
	if eager(elem) {
		d.prefetch()
	}
	return d, nil
}

// Len returns the number of elements of an array.
func (v *Variable) Len() (int, error) {
	if v.count >= 0 {
		return v.count, nil
	}
	if !v.typ.IsArray() {
		return 0, fmt.Errorf("variable: %s is not an array", v.path)
	}
	return v.typ.ArrayLength()
}

func (v *Variable) elementType() (*codetype.CodeType, error) {
	if v.count >= 0 {
		return v.typ, nil
	}
	return v.typ.ElementType()
}

// GetArrayElement returns element i of an array without reading the
// others.
func (v *Variable) GetArrayElement(i int) (*Variable, error) {
	n, err := v.Len()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= n {
		return nil, fmt.Errorf("%w: %s[%d] of %d", ErrIndexOutOfRange, v.path, i, n)
	}
	elem, err := v.elementType()
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("[%d]", i)
	return v.child(elem, int64(i)*int64(elem.Size()), name, v.path+name)
}

// Groups yields the [start, end) index ranges in which the elements of an
// array are listed.
func (v *Variable) Groups() iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		n, err := v.Len()
		if err != nil {
			return
		}
		for start := 0; start < n; start += ArrayGroupSize {
			if !yield(start, min(start+ArrayGroupSize, n)) {
				return
			}
		}
	}
}

func (v *Variable) requireUDT() error {
	if !v.typ.IsUDT() || v.count >= 0 {
		return fmt.Errorf("variable: %s of type %s has no members", v.path, v.typ.Name())
	}
	return nil
}

// GetField returns the data member called name, looking through the
// bases when v's type has no such direct member.
func (v *Variable) GetField(name string) (*Variable, error) {
	if err := v.requireUDT(); err != nil {
		return nil, err
	}
	return v.field(name, 0)
}

func (v *Variable) field(name string, depth int) (*Variable, error) {
	if depth > maxBaseDepth {
		return nil, fmt.Errorf("%w: base classes of %s nest too deep", symbol.ErrCorruptData, v.typ.Name())
	}
	f, err := v.typ.Field(name)
	if err == nil {
		ft, err := v.typ.Module().TypeByID(f.Type)
		if err != nil {
			return nil, err
		}
		return v.child(ft, f.Offset, name, v.path+"."+name)
	}
	if !errors.Is(err, symbol.ErrNotFound) {
		return nil, err
	}

	bases, err := v.typ.BaseClassNames()
	if err != nil {
		return nil, err
	}
	for _, bn := range bases {
		b, err := v.GetBaseClass(bn)
		if err != nil {
			return nil, err
		}
		found, err := b.field(name, depth+1)
		if err == nil || !errors.Is(err, symbol.ErrNotFound) {
			return found, err
		}
	}
	return nil, fmt.Errorf("%w: field %s of %s", symbol.ErrNotFound, name, v.typ.Name())
}

// GetBaseClass returns the base subobject called name. Virtual bases are
// located through the object itself each time.
func (v *Variable) GetBaseClass(name string) (*Variable, error) {
	if err := v.requireUDT(); err != nil {
		return nil, err
	}
	return v.base(name, 0)
}

func (v *Variable) base(name string, depth int) (*Variable, error) {
	if depth > maxBaseDepth {
		return nil, fmt.Errorf("%w: base classes of %s nest too deep", symbol.ErrCorruptData, v.typ.Name())
	}
	bt, off, err := v.typ.BaseClass(name)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("%s.(%s)", v.path, name)
	if o, ok := off.Static(); ok {
		return v.child(bt, o, v.name, path)
	}

	if v.inline {
		return nil, fmt.Errorf("%w: virtual base %s of a register value", symbol.ErrUnsupportedLocation, name)
	}
	m := v.typ.Module()
	addr, err := m.VirtualBaseAddress(v.mem, v.typ, v.addr, name)
	if err != nil {
		return nil, err
	}
	if addr != 0 {
		return New(bt, v.mem, addr, v.name).withPath(v.name, path), nil
	}

	// name is a static base of a virtual base: reach it one level down
	direct, err := v.typ.BaseClassNames()
	if err != nil {
		return nil, err
	}
	for _, dn := range direct {
		d, err := v.base(dn, depth+1)
		if err != nil {
			return nil, err
		}
		found, err := d.base(name, depth+1)
		if err == nil || !errors.Is(err, symbol.ErrNotFound) {
			return found, err
		}
	}
	return nil, fmt.Errorf("%w: base %s of %s", symbol.ErrNotFound, name, v.typ.Name())
}

// DowncastInterface returns the complete object of a polymorphic object
// by reading its vtable pointer. Objects without a recognized vtable are
// returned as is.
func (v *Variable) DowncastInterface() (*Variable, error) {
	if err := v.requireUDT(); err != nil {
		return nil, err
	}
	m := v.typ.Module()
	ptr := m.PtrSize()
	if v.inline || v.typ.Size() < uint64(ptr) {
		return v, nil
	}
	vptr, err := memory.ReadPointer(v.mem, v.addr, ptr)
	if err != nil {
		return nil, fmt.Errorf("variable: failed to read vtable pointer of %s: %w", v.path, err)
	}
	dyn, off, virtual, err := m.RuntimeType(v.mem, vptr)
	if err != nil {
		return nil, err
	}
	if dyn == nil {
		return v, nil
	}
	if virtual {
		m.Logger().Debug("virtual base subobject left as is",
			zap.String("name", v.path),
			zap.String("dynamic", dyn.Name()),
			zap.Uint64("addr", v.addr))
		return v, nil
	}
	return New(dyn, v.mem, uint64(int64(v.addr)-off), v.name).withPath(v.name, fmt.Sprintf("(%s)%s", dyn.Name(), v.path)), nil
}
