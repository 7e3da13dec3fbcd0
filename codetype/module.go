// Package codetype describes the types of a loaded module as resolved by
// its symbol provider.
package codetype

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/skdltmxn/dbgsym/affinity"
	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/symbol"
)

// ErrClosed is returned by lookups on a closed module.
var ErrClosed = errors.New("codetype: module closed")

// Module is a loaded binary together with the provider answering for its
// symbols and the cache of its resolved types.
type Module struct {
	desc     *symbol.Module
	provider symbol.Provider
	guard    *affinity.Guard
	cache    *Cache
	log      *zap.Logger
	closed   atomic.Bool
}

type Option func(*Module)

// WithCache makes the module store its types in c. Without it the module
// owns a private cache.
func WithCache(c *Cache) Option {
	return func(m *Module) { m.cache = c }
}

// WithGuard routes every provider call through g.
func WithGuard(g *affinity.Guard) Option {
	return func(m *Module) { m.guard = g }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Module) { m.log = l }
}

// NewModule creates the handle of the module described by desc.
func NewModule(desc *symbol.Module, p symbol.Provider, opts ...Option) *Module {
	m := &Module{desc: desc, provider: p, log: zap.NewNop()}
	for _, o := range opts {
		o(m)
	}
	if m.cache == nil {
		m.cache = NewCache(0)
	}
	return m
}

func (m *Module) Name() string               { return m.desc.Name }
func (m *Module) Base() uint64               { return m.desc.Base }
func (m *Module) PtrSize() int               { return m.desc.PtrSize }
func (m *Module) Descriptor() *symbol.Module { return m.desc }
func (m *Module) Provider() symbol.Provider  { return m.provider }
func (m *Module) Contains(addr uint64) bool  { return m.desc.Contains(addr) }
func (m *Module) String() string             { return m.desc.String() }
func (m *Module) Logger() *zap.Logger        { return m.log }

// Close drops the module's cached types. Lookups fail afterwards.
func (m *Module) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	n := m.cache.evict(m)
	m.log.Debug("module closed", zap.String("module", m.desc.Name), zap.Int("types", n))
	return nil
}

// call runs fn against the provider under the module's guard.
func call[T any](m *Module, fn func(p symbol.Provider, d *symbol.Module) (T, error)) (T, error) {
	return affinity.Call(context.Background(), m.guard, func() (T, error) {
		return fn(m.provider, m.desc)
	})
}

// TypeByID returns the type with the given id.
func (m *Module) TypeByID(id symbol.TypeID) (*CodeType, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	return m.cache.typeByID(typeKey{m, id}, func() (*CodeType, error) {
		return m.resolve(id)
	})
}

// TypeByName returns the type with the given name. Names are matched
// exactly.
func (m *Module) TypeByName(name string) (*CodeType, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	id, err := m.cache.typeID(nameKey{m, name}, func() (symbol.TypeID, error) {
		return call(m, func(p symbol.Provider, d *symbol.Module) (symbol.TypeID, error) {
			return p.TypeID(d, name)
		})
	})
	if err != nil {
		return nil, err
	}
	return m.TypeByID(id)
}

// Create resolves a type by name. The name may be qualified with its
// module as "module!type".
func Create(name string, m *Module) (*CodeType, error) {
	if mod, typ, ok := strings.Cut(name, "!"); ok {
		if mod != m.Name() {
			return nil, fmt.Errorf("%w: module %q is not %q", symbol.ErrNotFound, mod, m.Name())
		}
		name = typ
	}
	return m.TypeByName(name)
}

func (m *Module) resolve(id symbol.TypeID) (*CodeType, error) {
	tag, err := call(m, func(p symbol.Provider, d *symbol.Module) (symbol.Tag, error) {
		return p.TypeTag(d, id)
	})
	if err != nil {
		return nil, err
	}
	name, err := call(m, func(p symbol.Provider, d *symbol.Module) (string, error) {
		return p.TypeName(d, id)
	})
	if err != nil {
		return nil, err
	}

	t := &CodeType{module: m, id: id, tag: tag, name: name}
	switch tag {
	case symbol.TagPointer, symbol.TagArray, symbol.TagEnum:
		elem, err := call(m, func(p symbol.Provider, d *symbol.Module) (symbol.TypeID, error) {
			return p.ElementType(d, id)
		})
		if err != nil {
			return nil, fmt.Errorf("codetype: failed to resolve element of %s: %w", name, err)
		}
		t.elemID = elem
	}

	// functions and forward declarations have no size
	t.size, err = call(m, func(p symbol.Provider, d *symbol.Module) (uint64, error) {
		return p.TypeSize(d, id)
	})
	if err != nil && !errors.Is(err, symbol.ErrNotFound) {
		return nil, err
	}
	if tag == symbol.TagPointer && t.size == 0 {
		t.size = uint64(m.desc.PtrSize)
	}
	t.builtin, err = call(m, func(p symbol.Provider, d *symbol.Module) (symbol.BuiltinType, error) {
		return p.BuiltinType(d, id), nil
	})
	if err != nil {
		m.log.Debug("builtin type unavailable",
			zap.String("module", m.desc.Name),
			zap.Uint64("id", uint64(id)),
			zap.Error(err))
	}

	m.log.Debug("type resolved",
		zap.String("module", m.desc.Name),
		zap.Uint64("id", uint64(id)),
		zap.String("name", name),
		zap.Stringer("tag", tag))
	return t, nil
}

// GlobalVariable returns the address and type of a global or static data
// member.
func (m *Module) GlobalVariable(name string) (uint64, *CodeType, error) {
	addr, err := call(m, func(p symbol.Provider, d *symbol.Module) (uint64, error) {
		return p.GlobalVariableAddress(d, name)
	})
	if err != nil {
		return 0, nil, err
	}
	id, err := call(m, func(p symbol.Provider, d *symbol.Module) (symbol.TypeID, error) {
		return p.GlobalVariableTypeID(d, name)
	})
	if err != nil {
		return 0, nil, err
	}
	t, err := m.TypeByID(id)
	if err != nil {
		return 0, nil, err
	}
	return addr, t, nil
}

// SymbolByAddress names the symbol covering addr.
func (m *Module) SymbolByAddress(addr uint64) (string, uint64, error) {
	type result struct {
		name string
		disp uint64
	}
	r, err := call(m, func(p symbol.Provider, d *symbol.Module) (result, error) {
		name, disp, err := p.SymbolByAddress(d, addr)
		return result{name, disp}, err
	})
	return r.name, r.disp, err
}

// RuntimeType recovers the dynamic type of the object whose vtable
// pointer is vtableAddr. It returns nil when vtableAddr is not a vtable.
func (m *Module) RuntimeType(mem memory.Reader, vtableAddr uint64) (*CodeType, int64, bool, error) {
	rt, err := call(m, func(p symbol.Provider, d *symbol.Module) (*symbol.RuntimeType, error) {
		return p.RuntimeCodeTypeAndOffset(d, mem, vtableAddr)
	})
	if err != nil || rt == nil {
		return nil, 0, false, err
	}
	t, err := m.TypeByID(rt.Type)
	if err != nil {
		return nil, 0, false, err
	}
	return t, rt.Offset, rt.Virtual, nil
}

// VirtualBaseAddress locates the virtual base named className inside the
// object of type t at objAddr. It returns 0 when t has no such base.
func (m *Module) VirtualBaseAddress(mem memory.Reader, t *CodeType, objAddr uint64, className string) (uint64, error) {
	return call(m, func(p symbol.Provider, d *symbol.Module) (uint64, error) {
		return p.VirtualClassBaseAddress(d, mem, t.id, objAddr, className)
	})
}

// FrameLocals lists the variables in scope at ip.
func (m *Module) FrameLocals(ip uint64, onlyArguments bool) ([]symbol.LocalSymbol, error) {
	return call(m, func(p symbol.Provider, d *symbol.Module) ([]symbol.LocalSymbol, error) {
		return p.FrameLocals(d, ip, onlyArguments)
	})
}

// CanonicalFrameAddress computes the CFA of the frame described by ctx
// when the provider has call frame information. ok is false otherwise.
func (m *Module) CanonicalFrameAddress(ctx *arch.ThreadContext, mem memory.Reader) (uint64, bool, error) {
	fa, ok := m.provider.(symbol.FrameAddressProvider)
	if !ok {
		return 0, false, nil
	}
	type result struct {
		cfa uint64
		ok  bool
	}
	r, err := call(m, func(_ symbol.Provider, d *symbol.Module) (result, error) {
		cfa, ok, err := fa.CanonicalFrameAddress(d, ctx, mem)
		return result{cfa, ok}, err
	})
	return r.cfa, r.ok, err
}
