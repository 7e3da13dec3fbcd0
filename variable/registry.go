package variable

import (
	"errors"
	"fmt"
	"sync"

	"github.com/skdltmxn/dbgsym/codetype"
	"github.com/skdltmxn/dbgsym/symbol"
)

var ErrDuplicateType = errors.New("variable: user type already registered")

// TypeKey identifies a type across sessions by module and type name.
type TypeKey struct {
	Module string
	Type   string
}

func (k TypeKey) String() string { return k.Module + "!" + k.Type }

// KeyOf returns the key of t.
func KeyOf(t *codetype.CodeType) TypeKey {
	return TypeKey{Module: t.Module().Name(), Type: t.Name()}
}

// UserType builds a caller-defined value from a variable or from the raw
// bytes of one.
type UserType interface {
	FromVariable(v *Variable) (any, error)
	FromBuffer(t *codetype.CodeType, buf []byte) (any, error)
}

// UserTypeFuncs adapts a pair of functions to UserType. FromBufferFunc
// may be nil, in which case the buffer is wrapped in an inline variable
// and passed to FromVariableFunc.
type UserTypeFuncs struct {
	FromVariableFunc func(v *Variable) (any, error)
	FromBufferFunc   func(t *codetype.CodeType, buf []byte) (any, error)
}

func (u UserTypeFuncs) FromVariable(v *Variable) (any, error) { return u.FromVariableFunc(v) }

func (u UserTypeFuncs) FromBuffer(t *codetype.CodeType, buf []byte) (any, error) {
	if u.FromBufferFunc == nil {
		return u.FromVariableFunc(FromBuffer(t, nil, buf, ""))
	}
	return u.FromBufferFunc(t, buf)
}

// Registry maps types to the user types that view them. Entries are added
// explicitly with Register.
type Registry struct {
	mu    sync.RWMutex
	types map[TypeKey]UserType
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[TypeKey]UserType)}
}

// Register binds u to key. A key can be bound once.
func (r *Registry) Register(key TypeKey, u UserType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, key)
	}
	r.types[key] = u
	return nil
}

func (r *Registry) Lookup(key TypeKey) (UserType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.types[key]
	return u, ok
}

// Cast builds the user type registered for v's type.
func (r *Registry) Cast(v *Variable) (any, error) {
	key := KeyOf(v.typ)
	u, ok := r.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: no user type for %s", symbol.ErrNotFound, key)
	}
	return u.FromVariable(v)
}

// CastBuffer builds the user type registered for t from raw bytes.
func (r *Registry) CastBuffer(t *codetype.CodeType, buf []byte) (any, error) {
	key := KeyOf(t)
	u, ok := r.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: no user type for %s", symbol.ErrNotFound, key)
	}
	return u.FromBuffer(t, buf)
}
