package affinity_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/dbgsym/affinity"
)

// threadBound fails with ErrMarshalling unless called on its worker.
type threadBound struct {
	w       *affinity.Worker
	mu      sync.Mutex
	onOwner bool
}

type plainBackend struct{}

func TestRunOnWorker(t *testing.T) {
	w := affinity.NewWorker("test")
	defer w.Close()

	v, err := affinity.Run(context.Background(), w, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	boom := errors.New("boom")
	_, err = affinity.Run(context.Background(), w, func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}

func TestWorkerRecoversPanic(t *testing.T) {
	w := affinity.NewWorker("panicky")
	defer w.Close()

	err := w.Do(context.Background(), func() error { panic("bad") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	// the worker keeps serving afterwards
	require.NoError(t, w.Do(context.Background(), func() error { return nil }))
}

func TestClosedWorker(t *testing.T) {
	w := affinity.NewWorker("closed")
	w.Close()
	w.Close()
	err := w.Do(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, affinity.ErrWorkerClosed)
}

func TestCallInline(t *testing.T) {
	w := affinity.NewWorker("fallback")
	defer w.Close()
	g := affinity.NewGuard(plainBackend{}, w)

	calls := 0
	v, err := affinity.Call(context.Background(), g, func() (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, calls)

	// errors other than marshalling are not retried
	notFound := errors.New("not found")
	_, err = affinity.Call(context.Background(), g, func() (string, error) {
		calls++
		return "", notFound
	})
	assert.ErrorIs(t, err, notFound)
	assert.Equal(t, 2, calls)
}

func TestCallRetriesOnceOnWorker(t *testing.T) {
	w := affinity.NewWorker("fallback")
	defer w.Close()
	g := affinity.NewGuard(plainBackend{}, w)

	attempt := 0
	v, err := affinity.Call(context.Background(), g, func() (int, error) {
		attempt++
		if attempt == 1 {
			return 0, fmt.Errorf("session: %w", affinity.ErrMarshalling)
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 2, attempt)
}

func TestCallSecondFailurePreservesCause(t *testing.T) {
	w := affinity.NewWorker("fallback")
	defer w.Close()
	g := affinity.NewGuard(plainBackend{}, w)

	first := fmt.Errorf("inline: %w", affinity.ErrMarshalling)
	second := errors.New("still broken")
	attempt := 0
	_, err := affinity.Call(context.Background(), g, func() (int, error) {
		attempt++
		if attempt == 1 {
			return 0, first
		}
		return 0, second
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempt)

	var me *affinity.MarshallingError
	require.ErrorAs(t, err, &me)
	assert.Same(t, first, me.Cause)
	assert.ErrorIs(t, err, second)
	assert.ErrorIs(t, err, affinity.ErrMarshalling)
}

func (b *threadBound) Worker() *affinity.Worker { return b.w }

func TestBoundBackendDispatchesDirectly(t *testing.T) {
	w := affinity.NewWorker("owner")
	defer w.Close()
	b := &threadBound{w: w}
	g := affinity.NewGuard(b, nil)

	// mark calls running on the worker by probing through it first
	require.NoError(t, w.Do(context.Background(), func() error {
		b.mu.Lock()
		b.onOwner = true
		b.mu.Unlock()
		return nil
	}))

	attempts := 0
	v, err := affinity.Call(context.Background(), g, func() (bool, error) {
		attempts++
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.onOwner, nil
	})
	require.NoError(t, err)
	assert.True(t, v)
	assert.Equal(t, 1, attempts)
}

func TestNilGuardRunsInline(t *testing.T) {
	v, err := affinity.Call(context.Background(), nil, func() (int, error) { return 3, nil })
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestRunHonoursContextBeforeDispatch(t *testing.T) {
	w := affinity.NewWorker("busy")
	defer w.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = w.Do(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := affinity.Run(ctx, w, func() (int, error) { return 1, nil })
	assert.ErrorIs(t, err, context.Canceled)
	close(release)
}
