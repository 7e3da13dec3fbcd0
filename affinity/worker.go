// Package affinity runs calls on a dedicated OS thread for backends that
// must only be used from the thread that created them.
package affinity

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

var (
	// ErrMarshalling reports a call made from a thread the backend is not
	// bound to. Backends return errors wrapping it to request a retry on
	// the worker.
	ErrMarshalling = errors.New("affinity: call on foreign thread")

	ErrWorkerClosed = errors.New("affinity: worker closed")
)

type result struct {
	v   any
	err error
}

type request struct {
	run  func() (any, error)
	resp chan result
}

// Worker is a goroutine locked to one OS thread that executes submitted
// calls in order.
type Worker struct {
	name string
	reqs chan request
	done chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewWorker starts a worker. Close must be called to release the thread.
func NewWorker(name string) *Worker {
	w := &Worker{
		name: name,
		reqs: make(chan request),
		done: make(chan struct{}),
	}

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(w.done)

		for q := range w.reqs {
			var out any
			var err error
			func() {
				defer func() {
					if x := recover(); x != nil {
						err = fmt.Errorf("affinity: worker %s panicked: %v", w.name, x)
					}
				}()
				out, err = q.run()
			}()
			q.resp <- result{out, err}
			close(q.resp)
		}
	}()

	return w
}

func (w *Worker) Name() string { return w.name }

// Close stops the worker after pending calls finish.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.reqs)
		w.mu.Unlock()
		<-w.done
	})
}

// Run executes fn on the worker thread and waits for its result. The
// context only bounds the wait for the worker to accept the call; a call
// that has started runs to completion.
func Run[T any](ctx context.Context, w *Worker, fn func() (T, error)) (T, error) {
	var zero T
	resp := make(chan result, 1)
	req := request{
		run:  func() (any, error) { v, err := fn(); return v, err },
		resp: resp,
	}

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return zero, ErrWorkerClosed
	}
	select {
	case w.reqs <- req:
		w.mu.RUnlock()
	case <-ctx.Done():
		w.mu.RUnlock()
		return zero, ctx.Err()
	}

	r := <-resp
	if r.err != nil {
		return zero, r.err
	}
	v, _ := r.v.(T)
	return v, nil
}

// Do is Run for calls without a result.
func (w *Worker) Do(ctx context.Context, fn func() error) error {
	_, err := Run(ctx, w, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
