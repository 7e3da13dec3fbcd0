//go:build linux

package memory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/skdltmxn/dbgsym/affinity"
)

// Process reads the memory of a live process under ptrace. Every ptrace
// request runs on the worker thread that attached.
type Process struct {
	pid    int
	worker *affinity.Worker

	mu   sync.Mutex
	maps Segments
}

// Attach stops pid with PTRACE_ATTACH and waits for it to enter the
// stopped state.
func Attach(pid int) (*Process, error) {
	p := &Process{pid: pid, worker: affinity.NewWorker(fmt.Sprintf("ptrace-%d", pid))}
	ctx := context.Background()

	if err := p.worker.Do(ctx, func() error { return unix.PtraceAttach(pid) }); err != nil {
		p.worker.Close()
		return nil, fmt.Errorf("memory: failed to attach to %d: %w", pid, err)
	}
	err := p.worker.Do(ctx, func() error {
		var ws unix.WaitStatus
		_, err := unix.Wait4(pid, &ws, 0, nil)
		return err
	})
	if err != nil {
		_ = p.worker.Do(ctx, func() error { return unix.PtraceDetach(pid) })
		p.worker.Close()
		return nil, fmt.Errorf("memory: failed to wait for %d: %w", pid, err)
	}
	if err := p.Refresh(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Process) Pid() int { return p.pid }

// Worker returns the thread the process was attached from.
func (p *Process) Worker() *affinity.Worker { return p.worker }

func (p *Process) ReadMemory(buf []byte, addr uint64) error {
	n, err := affinity.Run(context.Background(), p.worker, func() (int, error) {
		return unix.PtracePeekData(p.pid, uintptr(addr), buf)
	})
	if err != nil {
		return fmt.Errorf("%w: %#x: %v", ErrUnmapped, addr, err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: short read at %#x", ErrUnmapped, addr+uint64(n))
	}
	return nil
}

// Refresh reloads the mapping table.
func (p *Process) Refresh() error {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		return fmt.Errorf("memory: failed to open maps: %w", err)
	}
	defer f.Close()
	mappings, err := ParseMaps(f)
	if err != nil {
		return err
	}
	segs := make([]Segment, 0, len(mappings))
	for _, m := range mappings {
		segs = append(segs, m.Segment)
	}
	ss, err := NewSegments(segs)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.maps = ss
	p.mu.Unlock()
	return nil
}

func (p *Process) Segment(addr uint64) (Segment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maps.Find(addr)
}

// Registers returns the general purpose registers of thread tid.
func (p *Process) Registers(tid int) (*unix.PtraceRegs, error) {
	return affinity.Run(context.Background(), p.worker, func() (*unix.PtraceRegs, error) {
		regs := &unix.PtraceRegs{}
		if err := unix.PtraceGetRegs(tid, regs); err != nil {
			return nil, err
		}
		return regs, nil
	})
}

// Close detaches and stops the worker.
func (p *Process) Close() error {
	err := p.worker.Do(context.Background(), func() error { return unix.PtraceDetach(p.pid) })
	p.worker.Close()
	return err
}
