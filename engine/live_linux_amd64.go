//go:build linux && amd64

package engine

import (
	"fmt"
	"os"

	"github.com/go-delve/delve/pkg/dwarf/regnum"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/memory"
)

// Attach stops the process pid under ptrace and loads the images mapped
// in it. Only the thread group leader is stopped, so it is the one thread
// of the returned process. Memory reads are cached in pages pages.
func Attach(pid, pages int, opts Options) (*Process, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	lp, err := memory.Attach(pid)
	if err != nil {
		return nil, err
	}
	p, err := attached(lp, pages, opts)
	if err != nil {
		lp.Close()
		return nil, err
	}
	return p, nil
}

func attached(lp *memory.Process, pages int, opts Options) (*Process, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", lp.Pid()))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	maps, err := memory.ParseMaps(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	regs, err := lp.Registers(lp.Pid())
	if err != nil {
		return nil, fmt.Errorf("engine: failed to read registers of %d: %w", lp.Pid(), err)
	}
	mem, err := memory.NewPageCache(lp, pages)
	if err != nil {
		return nil, err
	}

	// Retries must not land on the ptrace worker: memory reads made by a
	// retried call are queued on it.
	opts, wc := withWorker(opts, "symbols")
	p, err := NewProcess(arch.AMD64, mem, opts)
	if err != nil {
		wc.Close()
		return nil, err
	}
	p.addCloser(wc)
	p.addCloser(lp)
	exe, _ := os.Readlink(fmt.Sprintf("/proc/%d/exe", lp.Pid()))
	p.loadImages(memory.Images(maps), exe, "")
	p.AddThread(lp.Pid(), ptraceContext(regs))
	return p, nil
}

func ptraceContext(r *unix.PtraceRegs) *arch.ThreadContext {
	return arch.NewThreadContext(arch.AMD64, map[uint64]uint64{
		regnum.AMD64_Rax:     r.Rax,
		regnum.AMD64_Rdx:     r.Rdx,
		regnum.AMD64_Rcx:     r.Rcx,
		regnum.AMD64_Rbx:     r.Rbx,
		regnum.AMD64_Rsi:     r.Rsi,
		regnum.AMD64_Rdi:     r.Rdi,
		regnum.AMD64_Rbp:     r.Rbp,
		regnum.AMD64_Rsp:     r.Rsp,
		regnum.AMD64_R8:      r.R8,
		regnum.AMD64_R9:      r.R9,
		regnum.AMD64_R10:     r.R10,
		regnum.AMD64_R11:     r.R11,
		regnum.AMD64_R12:     r.R12,
		regnum.AMD64_R13:     r.R13,
		regnum.AMD64_R14:     r.R14,
		regnum.AMD64_R15:     r.R15,
		regnum.AMD64_Rip:     r.Rip,
		regnum.AMD64_Rflags:  r.Eflags,
		regnum.AMD64_Fs_base: r.Fs_base,
		regnum.AMD64_Gs_base: r.Gs_base,
	})
}
