// Package variable materializes typed values over process memory.
package variable

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/skdltmxn/dbgsym/codetype"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/symbol"
)

// ArrayGroupSize is the number of elements presented together when an
// array is listed.
const ArrayGroupSize = 100

var (
	ErrNotScalar       = errors.New("variable: not a scalar")
	ErrNullPointer     = errors.New("variable: null pointer")
	ErrIndexOutOfRange = errors.New("variable: index out of range")
	ErrShortBuffer     = errors.New("variable: buffer too short")
)

// Variable is a typed view of a value. It lives either in memory at an
// address or inline in a buffer, as for values held in registers.
// Variables are cheap to recreate and are not updated when the memory
// they view changes.
type Variable struct {
	typ  *codetype.CodeType
	mem  memory.Reader
	addr uint64
	// data holds the value of an inline variable, or a snapshot of the
	// value read when the variable was created.
	data   []byte
	inline bool
	name   string
	path   string

	// count is the length of an array built from a pointer, -1 otherwise
	count int
}

// New creates the variable of type t at addr.
func New(t *codetype.CodeType, mem memory.Reader, addr uint64, name string) *Variable {
	return &Variable{typ: t, mem: mem, addr: addr, name: name, path: name, count: -1}
}

// FromBuffer creates a variable whose value is held in buf. mem is used to
// follow pointers out of the value.
func FromBuffer(t *codetype.CodeType, mem memory.Reader, buf []byte, name string) *Variable {
	return &Variable{
		typ:    t,
		mem:    mem,
		data:   append([]byte(nil), buf...),
		inline: true,
		name:   name,
		path:   name,
		count:  -1,
	}
}

// FromResolved creates the variable stored where a resolved location
// points. Register values are truncated to the size of t.
func FromResolved(t *codetype.CodeType, mem memory.Reader, r symbol.Resolved, name string) *Variable {
	if !r.InRegister {
		return New(t, mem, r.Address, name)
	}
	buf := binary.LittleEndian.AppendUint64(nil, r.Value)
	if n := t.Size(); n > 0 && n < uint64(len(buf)) {
		buf = buf[:n]
	}
	return FromBuffer(t, mem, buf, name)
}

// FromPointer views count consecutive elements starting where ptr points.
func FromPointer(ptr *Variable, count int) (*Variable, error) {
	if !ptr.typ.IsPointer() {
		return nil, fmt.Errorf("variable: %s is not a pointer", ptr.path)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrIndexOutOfRange, count)
	}
	elem, err := ptr.typ.ElementType()
	if err != nil {
		return nil, err
	}
	addr, err := ptr.Uint()
	if err != nil {
		return nil, err
	}
	if addr == 0 && count > 0 {
		return nil, fmt.Errorf("%w: %s", ErrNullPointer, ptr.path)
	}
	v := New(elem, ptr.mem, addr, ptr.name)
	v.path = fmt.Sprintf("%s[0:%d]", ptr.path, count)
	v.count = count
	return v, nil
}

func (v *Variable) Type() *codetype.CodeType { return v.typ }
func (v *Variable) Name() string             { return v.name }

// Path describes how the variable was reached from its root.
func (v *Variable) Path() string { return v.path }

// PointerAddress returns the address of the variable, 0 for inline values.
func (v *Variable) PointerAddress() uint64 {
	if v.inline {
		return 0
	}
	return v.addr
}

// Addressable reports whether the variable lives in memory.
func (v *Variable) Addressable() bool { return !v.inline }

func (v *Variable) withPath(name, path string) *Variable {
	v.name, v.path = name, path
	return v
}

// Rename returns a copy of v with another name.
func (v *Variable) Rename(name string) *Variable {
	c := *v
	c.name, c.path = name, name
	return &c
}

// IsArray reports whether v is an array, either by type or as a view
// built by FromPointer.
func (v *Variable) IsArray() bool { return v.count >= 0 || v.typ.IsArray() }

// Size returns the byte size of the value.
func (v *Variable) Size() uint64 {
	if v.count >= 0 {
		return uint64(v.count) * v.typ.Size()
	}
	return v.typ.Size()
}

func (v *Variable) raw(off, n uint64) ([]byte, error) {
	if v.data != nil {
		if off+n > uint64(len(v.data)) {
			return nil, fmt.Errorf("%w: %s needs %d bytes at %d, have %d", ErrShortBuffer, v.path, n, off, len(v.data))
		}
		return v.data[off : off+n], nil
	}
	if v.mem == nil {
		return nil, fmt.Errorf("variable: %s has no memory", v.path)
	}
	buf := make([]byte, n)
	if err := v.mem.ReadMemory(buf, v.addr+off); err != nil {
		return nil, fmt.Errorf("variable: failed to read %s at %#x: %w", v.path, v.addr+off, err)
	}
	return buf, nil
}

// Bytes returns the raw bytes of the value.
func (v *Variable) Bytes() ([]byte, error) {
	b, err := v.raw(0, v.Size())
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// prefetch snapshots the value so later reads need no memory access.
func (v *Variable) prefetch() {
	if v.data != nil {
		return
	}
	b, err := v.raw(0, v.Size())
	if err != nil {
		v.typ.Module().Logger().Debug("pointee left unread",
			zap.String("name", v.path),
			zap.Uint64("addr", v.addr),
			zap.Error(err))
		return
	}
	v.data = b
}

// scalarKind is the builtin classification used to decode v.
func (v *Variable) scalarKind() (symbol.BuiltinType, uint64, error) {
	t := v.typ
	switch {
	case v.count >= 0:
	case t.IsPointer():
		return symbol.BuiltinUInt64, uint64(t.Module().PtrSize()), nil
	case t.IsEnum():
		under, err := t.ElementType()
		if err != nil {
			return 0, 0, err
		}
		if under.IsSimple() {
			return under.Builtin(), max(t.Size(), uint64(under.Builtin().Size())), nil
		}
	case t.IsSimple():
		return t.Builtin(), t.Size(), nil
	}
	return 0, 0, fmt.Errorf("%w: %s is %s", ErrNotScalar, v.path, t.Name())
}

// Data decodes the scalar value as bool, int8 through int64, Int128,
// uint8 through uint64, Uint128, float32, float64 or Float80. Characters
// decode to uint8, uint16 and rune by width. Pointers and enums decode to
// their integer value.
func (v *Variable) Data() (any, error) {
	kind, size, err := v.scalarKind()
	if err != nil {
		return nil, err
	}
	n := uint64(kind.Size())
	if kind == symbol.BuiltinBool {
		n = min(max(size, 1), 8)
	}
	if v.typ.IsPointer() {
		n = size
	}
	b, err := v.raw(0, n)
	if err != nil {
		return nil, err
	}

	if kind.IsFloat() {
		return decodeFloat(b)
	}
	if n == 16 {
		lo, hi := binary.LittleEndian.Uint64(b), binary.LittleEndian.Uint64(b[8:])
		if kind.IsSigned() {
			return Int128{Lo: lo, Hi: int64(hi)}, nil
		}
		return Uint128{Lo: lo, Hi: hi}, nil
	}

	var buf [8]byte
	copy(buf[:], b)
	u := binary.LittleEndian.Uint64(buf[:])
	switch kind {
	case symbol.BuiltinBool:
		return u != 0, nil
	case symbol.BuiltinChar8, symbol.BuiltinUInt8:
		return uint8(u), nil
	case symbol.BuiltinChar16, symbol.BuiltinUInt16:
		return uint16(u), nil
	case symbol.BuiltinChar32:
		return rune(u), nil
	case symbol.BuiltinUInt32:
		return uint32(u), nil
	case symbol.BuiltinUInt64:
		return u, nil
	case symbol.BuiltinInt8:
		return int8(u), nil
	case symbol.BuiltinInt16:
		return int16(u), nil
	case symbol.BuiltinInt32:
		return int32(u), nil
	case symbol.BuiltinInt64:
		return int64(u), nil
	}
	return nil, fmt.Errorf("%w: %s has kind %s", ErrNotScalar, v.path, kind)
}

// Int returns an integer value sign-extended to 64 bits.
func (v *Variable) Int() (int64, error) {
	d, err := v.Data()
	if err != nil {
		return 0, err
	}
	switch x := d.(type) {
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case Int128:
		return int64(x.Lo), nil
	case Uint128:
		return int64(x.Lo), nil
	}
	return 0, fmt.Errorf("%w: %s is not an integer", ErrNotScalar, v.path)
}

// Uint returns an integer value zero-extended to 64 bits.
func (v *Variable) Uint() (uint64, error) {
	d, err := v.Data()
	if err != nil {
		return 0, err
	}
	switch x := d.(type) {
	case int8:
		return uint64(uint8(x)), nil
	case int16:
		return uint64(uint16(x)), nil
	case int32:
		return uint64(uint32(x)), nil
	}
	i, err := v.Int()
	return uint64(i), err
}

func (v *Variable) Float() (float64, error) {
	d, err := v.Data()
	if err != nil {
		return 0, err
	}
	switch x := d.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case Float80:
		return x.Float64(), nil
	}
	return 0, fmt.Errorf("%w: %s is not a float", ErrNotScalar, v.path)
}

func (v *Variable) Bool() (bool, error) {
	i, err := v.Int()
	return i != 0, err
}

// EnumName returns the enumerator matching the value of an enum.
func (v *Variable) EnumName() (string, error) {
	if !v.typ.IsEnum() {
		return "", fmt.Errorf("%w: %s is not an enum", ErrNotScalar, v.path)
	}
	u, err := v.Uint()
	if err != nil {
		return "", err
	}
	return v.typ.EnumName(u)
}

func (v *Variable) String() string {
	t := v.typ
	switch {
	case v.IsArray():
		n, _ := v.Len()
		return fmt.Sprintf("%s[%d] @ %#x", t.Name(), n, v.addr)
	case t.IsEnum():
		if name, err := v.EnumName(); err == nil {
			return name
		}
		if kind, _, err := v.scalarKind(); err == nil && kind.IsSigned() {
			i, err := v.Int()
			return formatOr(i, err)
		}
		u, err := v.Uint()
		return formatOr(u, err)
	case t.IsPointer():
		u, err := v.Uint()
		if err != nil {
			return errorString(err)
		}
		return fmt.Sprintf("%#x", u)
	case t.IsSimple():
		switch t.Builtin() {
		case symbol.BuiltinChar8, symbol.BuiltinChar16, symbol.BuiltinChar32:
			u, err := v.Uint()
			if err != nil {
				return errorString(err)
			}
			return fmt.Sprintf("%q", rune(u))
		}
		d, err := v.Data()
		if err != nil {
			return errorString(err)
		}
		return fmt.Sprint(d)
	}
	if v.inline {
		return fmt.Sprintf("{%s}", t.Name())
	}
	return fmt.Sprintf("{%s @ %#x}", t.Name(), v.addr)
}

func formatOr[T any](v T, err error) string {
	if err != nil {
		return errorString(err)
	}
	return fmt.Sprint(v)
}

func errorString(err error) string { return "<" + err.Error() + ">" }
