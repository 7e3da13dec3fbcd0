package engine

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/codetype"
	"github.com/skdltmxn/dbgsym/symbol"
	"github.com/skdltmxn/dbgsym/unwind"
	"github.com/skdltmxn/dbgsym/variable"
)

// Thread is one stopped thread of a process.
type Thread struct {
	proc *Process
	id   int
	ctx  *arch.ThreadContext

	once   sync.Once
	frames []*StackFrame
	err    error
}

func (t *Thread) ID() int                      { return t.id }
func (t *Thread) Process() *Process            { return t.proc }
func (t *Thread) Context() *arch.ThreadContext { return t.ctx }

// StackTrace unwinds the thread on first use. Index 0 is the innermost
// frame. When err is not nil the frames found before the walk stopped are
// still returned.
func (t *Thread) StackTrace() ([]*StackFrame, error) {
	t.once.Do(func() {
		frames, err := unwind.Unwind(t.ctx, t.proc.mem, t.proc, t.proc.unwindOptions())
		t.frames = make([]*StackFrame, len(frames))
		for i, f := range frames {
			t.frames[i] = &StackFrame{thread: t, index: i, frame: f}
		}
		t.err = err
	})
	return t.frames, t.err
}

// StackFrame is one activation of a thread's stack.
type StackFrame struct {
	thread *Thread
	index  int
	frame  unwind.Frame

	localsOnce sync.Once
	locals     *variable.Collection
	localsErr  error

	argsOnce sync.Once
	args     *variable.Collection
	argsErr  error
}

func (f *StackFrame) Thread() *Thread              { return f.thread }
func (f *StackFrame) Index() int                   { return f.index }
func (f *StackFrame) IP() uint64                   { return f.frame.IP }
func (f *StackFrame) SP() uint64                   { return f.frame.SP }
func (f *StackFrame) FP() uint64                   { return f.frame.FP }
func (f *StackFrame) Context() *arch.ThreadContext { return f.frame.Context }

// Module returns the module holding the frame's code, or nil.
func (f *StackFrame) Module() *codetype.Module { return f.frame.Module }

// Function names the symbol containing the instruction pointer and the
// displacement into it.
func (f *StackFrame) Function() (string, uint64, error) {
	if f.frame.Module == nil {
		return "", 0, fmt.Errorf("%w: no module at %#x", symbol.ErrNotFound, f.frame.IP)
	}
	return f.frame.Module.SymbolByAddress(f.frame.IP)
}

func (f *StackFrame) String() string {
	loc := "??"
	if m := f.frame.Module; m != nil {
		loc = m.Name()
		if name, disp, err := f.Function(); err == nil {
			loc += "!" + name
			if disp != 0 {
				loc += fmt.Sprintf("+%#x", disp)
			}
		}
	}
	return fmt.Sprintf("#%d %#x %s", f.index, f.frame.IP, loc)
}

// Locals returns the variables in scope in the frame, parameters
// included. Variables that cannot be materialized are left out and
// reported in err; the rest are returned regardless.
func (f *StackFrame) Locals() (*variable.Collection, error) {
	f.localsOnce.Do(func() {
		f.locals, f.localsErr = f.variables(false)
	})
	return f.locals, f.localsErr
}

// Arguments is Locals restricted to the function's parameters.
func (f *StackFrame) Arguments() (*variable.Collection, error) {
	f.argsOnce.Do(func() {
		f.args, f.argsErr = f.variables(true)
	})
	return f.args, f.argsErr
}

func (f *StackFrame) variables(onlyArguments bool) (*variable.Collection, error) {
	m := f.frame.Module
	if m == nil {
		return variable.NewCollection(), fmt.Errorf("%w: no module at %#x", symbol.ErrNotFound, f.frame.IP)
	}
	// outer frames stop after the call, which may end the scope
	ip := f.frame.IP
	if f.index > 0 {
		ip--
	}
	syms, err := m.FrameLocals(ip, onlyArguments)
	if err != nil {
		return variable.NewCollection(), err
	}

	c := variable.NewCollection()
	var errs *multierror.Error
	for _, s := range syms {
		v, err := f.materialize(m, s)
		if err != nil {
			m.Logger().Debug("local skipped",
				zap.String("name", s.Name),
				zap.Uint64("addr", f.frame.IP),
				zap.Error(err))
			errs = multierror.Append(errs, fmt.Errorf("engine: local %s: %w", s.Name, err))
			continue
		}
		c.Add(v)
	}
	return c, errs.ErrorOrNil()
}

func (f *StackFrame) materialize(m *codetype.Module, s symbol.LocalSymbol) (*variable.Variable, error) {
	t, err := m.TypeByID(s.Type)
	if err != nil {
		return nil, err
	}
	p := f.thread.proc
	r, err := symbol.Resolve(s.Location, m.Descriptor(), f.frame.Context, p.mem)
	if err != nil {
		return nil, err
	}
	if r.InRegister {
		return variable.FromResolved(t, p.mem, r, s.Name), nil
	}
	return p.Variable(t, r.Address, s.Name), nil
}
