package affinity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Bound is implemented by backends that must only be called from one
// thread. Calls against them are always dispatched to their worker.
type Bound interface {
	Worker() *Worker
}

// MarshallingError is returned when a call failed inline with a
// marshalling error and failed again on the worker.
type MarshallingError struct {
	// Cause is the inline failure that triggered the retry.
	Cause error
	// Err is the failure of the retry.
	Err error
}

func (e *MarshallingError) Error() string {
	return fmt.Sprintf("affinity: retry on worker failed: %v (first attempt: %v)", e.Err, e.Cause)
}

func (e *MarshallingError) Unwrap() []error {
	return []error{e.Err, e.Cause}
}

// Guard records the execution context a backend belongs to.
type Guard struct {
	backend any
	worker  *Worker
	log     *zap.Logger
}

type GuardOption func(*Guard)

func WithLogger(l *zap.Logger) GuardOption {
	return func(g *Guard) { g.log = l }
}

// NewGuard wraps backend. w is the fallback worker used for retries; it
// may be nil, in which case marshalling failures are returned as is.
// A backend implementing Bound always uses its own worker.
func NewGuard(backend any, w *Worker, opts ...GuardOption) *Guard {
	g := &Guard{backend: backend, worker: w, log: zap.NewNop()}
	if b, ok := backend.(Bound); ok && b.Worker() != nil {
		g.worker = b.Worker()
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Backend returns the wrapped backend.
func (g *Guard) Backend() any { return g.backend }

func (g *Guard) bound() bool {
	_, ok := g.backend.(Bound)
	return ok && g.worker != nil
}

// Call runs fn under the guard. Bound backends run on their worker.
// Others run inline and are retried once on the worker when the inline
// attempt fails with ErrMarshalling. A nil guard runs fn inline.
func Call[T any](ctx context.Context, g *Guard, fn func() (T, error)) (T, error) {
	if g == nil {
		return fn()
	}
	if g.bound() {
		return Run(ctx, g.worker, fn)
	}

	v, err := fn()
	if err == nil || !errors.Is(err, ErrMarshalling) || g.worker == nil {
		return v, err
	}

	g.log.Debug("retrying call on worker", zap.String("worker", g.worker.Name()), zap.Error(err))
	v, rerr := Run(ctx, g.worker, fn)
	if rerr != nil {
		var zero T
		return zero, &MarshallingError{Cause: err, Err: rerr}
	}
	return v, nil
}
