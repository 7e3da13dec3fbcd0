// Package engine ties processes, threads and modules together: it builds
// stack traces, materializes frame locals and finds globals.
package engine

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/skdltmxn/dbgsym/affinity"
	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/codetype"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/symbol"
	"github.com/skdltmxn/dbgsym/unwind"
	"github.com/skdltmxn/dbgsym/variable"
)

type Options struct {
	Logger *zap.Logger
	// MaxFrames bounds every stack trace. Zero means unwind.DefaultMaxFrames.
	MaxFrames int
	// TypeCache is the size hint of the type cache shared by all modules.
	TypeCache int
	// Variables is the number of variables remembered by address and
	// type. Zero disables the memo.
	Variables int
	// SymbolPath lists directories searched for symbol files.
	SymbolPath []string
	// Worker is where provider calls failing with a marshalling error are
	// retried. Without one they fail on the first error.
	Worker *affinity.Worker
}

type workerCloser struct{ w *affinity.Worker }

func (c workerCloser) Close() error {
	if c.w != nil {
		c.w.Close()
	}
	return nil
}

// withWorker gives opts a retry worker of its own when none is set. The
// closer stops that worker and is a no-op for a worker supplied by the
// caller.
func withWorker(opts Options, name string) (Options, io.Closer) {
	if opts.Worker != nil {
		return opts, workerCloser{}
	}
	opts.Worker = affinity.NewWorker(name)
	return opts, workerCloser{opts.Worker}
}

// Process is a debugged process, live or dumped.
type Process struct {
	arch     arch.Arch
	mem      memory.Segmented
	opts     Options
	log      *zap.Logger
	cache    *codetype.Cache
	memo     *variable.Memo
	registry *variable.Registry

	mu       sync.RWMutex
	modules  []*codetype.Module
	threads  []*Thread
	closers  []io.Closer
	warnings *multierror.Error
}

// NewProcess creates an empty process reading memory from mem. Modules and
// threads are added with AddModule and AddThread.
func NewProcess(a arch.Arch, mem memory.Segmented, opts Options) (*Process, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	p := &Process{
		arch:     a,
		mem:      mem,
		opts:     opts,
		log:      opts.Logger,
		cache:    codetype.NewCache(opts.TypeCache),
		registry: variable.NewRegistry(),
	}
	if opts.Variables > 0 {
		memo, err := variable.NewMemo(opts.Variables)
		if err != nil {
			return nil, fmt.Errorf("engine: failed to create variable memo: %w", err)
		}
		p.memo = memo
	}
	return p, nil
}

func (p *Process) Arch() arch.Arch              { return p.arch }
func (p *Process) Memory() memory.Segmented     { return p.mem }
func (p *Process) Registry() *variable.Registry { return p.registry }
func (p *Process) Logger() *zap.Logger          { return p.log }

// AddModule loads the module described by desc with symbols from sp. When
// sp is an io.Closer it is closed with the process.
func (p *Process) AddModule(desc *symbol.Module, sp symbol.Provider) *codetype.Module {
	log := p.log.With(zap.String("module", desc.Name))
	m := codetype.NewModule(desc, sp,
		codetype.WithCache(p.cache),
		codetype.WithLogger(log),
		codetype.WithGuard(affinity.NewGuard(sp, p.opts.Worker, affinity.WithLogger(log))))

	p.mu.Lock()
	defer p.mu.Unlock()
	i, _ := slices.BinarySearchFunc(p.modules, desc.Base, func(m *codetype.Module, base uint64) int {
		return cmp.Compare(m.Base(), base)
	})
	p.modules = slices.Insert(p.modules, i, m)
	if c, ok := sp.(io.Closer); ok {
		p.closers = append(p.closers, c)
	}
	log.Debug("module added", zap.Uint64("base", desc.Base), zap.Uint64("size", desc.Size))
	return m
}

// Modules returns the loaded modules ordered by base address.
func (p *Process) Modules() []*codetype.Module {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.modules)
}

// ModuleAt returns the module whose image contains addr.
func (p *Process) ModuleAt(addr uint64) (*codetype.Module, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range p.modules {
		if m.Contains(addr) {
			return m, true
		}
	}
	return nil, false
}

// Module returns the module called name.
func (p *Process) Module(name string) (*codetype.Module, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range p.modules {
		if m.Name() == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: module %s", symbol.ErrNotFound, name)
}

// AddThread records a thread stopped with the registers in ctx.
func (p *Process) AddThread(id int, ctx *arch.ThreadContext) *Thread {
	t := &Thread{proc: p, id: id, ctx: ctx}
	p.mu.Lock()
	p.threads = append(p.threads, t)
	p.mu.Unlock()
	return t
}

func (p *Process) Threads() []*Thread {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.threads)
}

func (p *Process) Thread(id int) (*Thread, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, t := range p.threads {
		if t.id == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: thread %d", symbol.ErrNotFound, id)
}

// lookup runs fn on the module named in a "module!name" qualified name, or
// on every module in turn until one finds the unqualified name.
func lookup[T any](p *Process, name string, fn func(m *codetype.Module, name string) (T, error)) (T, error) {
	if mod, rest, ok := strings.Cut(name, "!"); ok {
		m, err := p.Module(mod)
		if err != nil {
			var zero T
			return zero, err
		}
		return fn(m, rest)
	}
	var errs *multierror.Error
	for _, m := range p.Modules() {
		v, err := fn(m, name)
		if err == nil {
			return v, nil
		}
		errs = multierror.Append(errs, err)
	}
	var zero T
	if errs == nil {
		return zero, fmt.Errorf("%w: %s", symbol.ErrNotFound, name)
	}
	return zero, errs
}

// Type resolves a type name, optionally qualified as "module!type".
func (p *Process) Type(name string) (*codetype.CodeType, error) {
	return lookup(p, name, func(m *codetype.Module, name string) (*codetype.CodeType, error) {
		return m.TypeByName(name)
	})
}

// Global materializes a global variable, optionally qualified as
// "module!name".
func (p *Process) Global(name string) (*variable.Variable, error) {
	return lookup(p, name, func(m *codetype.Module, name string) (*variable.Variable, error) {
		addr, t, err := m.GlobalVariable(name)
		if err != nil {
			return nil, err
		}
		return p.Variable(t, addr, name), nil
	})
}

// Variable returns the variable of type t at addr, reusing a remembered one
// when the memo is enabled.
func (p *Process) Variable(t *codetype.CodeType, addr uint64, name string) *variable.Variable {
	if p.memo != nil {
		return p.memo.Variable(t, p.mem, addr, name)
	}
	return variable.New(t, p.mem, addr, name)
}

func (p *Process) unwindOptions() unwind.Options {
	return unwind.Options{MaxFrames: p.opts.MaxFrames, Logger: p.log}
}

func (p *Process) warn(err error) {
	p.mu.Lock()
	p.warnings = multierror.Append(p.warnings, err)
	p.mu.Unlock()
}

// Warnings reports what was skipped while the process was loaded, such
// as modules without symbols.
func (p *Process) Warnings() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.warnings.ErrorOrNil()
}

// Close releases the modules and their symbol files.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs *multierror.Error
	for _, m := range p.modules {
		if err := m.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if p.memo != nil {
		p.memo.Purge()
	}
	p.modules, p.closers = nil, nil
	return errs.ErrorOrNil()
}
