// Package unwind walks the stack of a thread from its register snapshot.
package unwind

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/codetype"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/symbol"
)

// DefaultMaxFrames bounds a walk when Options.MaxFrames is zero.
const DefaultMaxFrames = 1024

// Frame is one activation on the stack. Index 0 of a trace is the
// innermost frame.
type Frame struct {
	IP, SP, FP uint64
	// Module contains IP. It is nil for code outside every known module.
	Module *codetype.Module
	// Context is the register snapshot of the frame. Outer frames only
	// carry ip, sp and fp, plus the CFA when call frame information
	// provided one.
	Context *arch.ThreadContext
}

// ModuleFinder finds the module containing an address.
type ModuleFinder interface {
	ModuleAt(addr uint64) (*codetype.Module, bool)
}

type Options struct {
	MaxFrames int
	Logger    *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxFrames <= 0 {
		o.MaxFrames = DefaultMaxFrames
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Unwind walks the frame chain starting at ctx.
//
// The saved frame pointer and return address of each frame are read from
// two words at CFA - 2*ptr. The CFA comes from the module's call frame
// information when it has any, and is fp + 2*ptr otherwise. The walk ends
// when the next frame pointer leaves the segment holding the current one.
// A first frame pointer that is not mapped gives no frames.
//
// Frames are returned even when err is not nil. err aggregates CFA rules
// that failed to evaluate, after which the walk fell back to the frame
// pointer, and an error wrapping symbol.ErrCorruptData when the walk
// exceeded opts.MaxFrames.
func Unwind(ctx *arch.ThreadContext, mem memory.Segmented, modules ModuleFinder, opts Options) ([]Frame, error) {
	opts = opts.withDefaults()
	log := opts.Logger
	ptr := uint64(ctx.Arch().PtrSize())
	if ptr == 0 {
		return nil, fmt.Errorf("%w: no pointer size for %s", symbol.ErrUnsupportedFormat, ctx.Arch())
	}

	ip, sp, fp := ctx.PC(), ctx.SP(), ctx.FP()
	seg, ok := mem.Segment(fp)
	if !ok {
		log.Debug("frame pointer not mapped", zap.Uint64("addr", fp))
		return nil, nil
	}

	var (
		frames []Frame
		errs   *multierror.Error
	)
	for {
		if len(frames) == opts.MaxFrames {
			errs = multierror.Append(errs, fmt.Errorf("%w: stack has more than %d frames", symbol.ErrCorruptData, opts.MaxFrames))
			break
		}

		f := Frame{IP: ip, SP: sp, FP: fp, Context: ctx}
		if modules != nil {
			f.Module, _ = modules.ModuleAt(ip)
		}

		cfa := fp + 2*ptr
		if f.Module != nil {
			// return addresses point past the call
			lookup := ctx
			if len(frames) > 0 {
				lookup = ctx.With(ctx.Arch().PCRegNum(), ip-1)
			}
			c, ok, err := f.Module.CanonicalFrameAddress(lookup, mem)
			switch {
			case err != nil:
				log.Debug("cfa rule failed", zap.Uint64("addr", ip), zap.Error(err))
				errs = multierror.Append(errs, fmt.Errorf("unwind: frame %d at %#x: %w", len(frames), ip, err))
			case ok:
				cfa = c
				f.Context = ctx.WithCFA(c)
			}
		}
		frames = append(frames, f)

		saved := cfa - 2*ptr
		nextFP, err := memory.ReadPointer(mem, saved, int(ptr))
		if err != nil {
			log.Debug("saved frame pointer unreadable", zap.Uint64("addr", saved), zap.Error(err))
			break
		}
		nextIP, err := memory.ReadPointer(mem, saved+ptr, int(ptr))
		if err != nil {
			log.Debug("return address unreadable", zap.Uint64("addr", saved+ptr), zap.Error(err))
			break
		}
		if !seg.Contains(nextFP) || nextIP == 0 {
			break
		}

		ip, sp, fp = nextIP, cfa, nextFP
		ctx = ctx.WithFrame(ip, sp, fp)
		if s, ok := mem.Segment(fp); ok {
			seg = s
		}
	}

	log.Debug("stack unwound", zap.Int("frames", len(frames)))
	return frames, errs.ErrorOrNil()
}
