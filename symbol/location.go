package symbol

import (
	"encoding/binary"
	"fmt"

	"github.com/go-delve/delve/pkg/dwarf/op"

	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/memory"
)

// RegFrameBase names the virtual frame register. It aliases the stack
// pointer on 64-bit targets and the frame pointer on 32-bit ones.
const RegFrameBase = ^uint64(0)

// Location is where a variable is stored. Register numbers are DWARF
// numbers for the module's architecture.
type Location interface {
	isLocation()
	String() string
}

// RegisterRelative is stored in memory at [Reg + Offset].
type RegisterRelative struct {
	Reg    uint64
	Offset int64
}

// Enregistered lives in Reg itself.
type Enregistered struct {
	Reg uint64
}

// Static lives at RVA relative to the module base.
type Static struct {
	RVA uint64
}

// Expression is a DWARF location expression. FrameBase is the expression
// of the enclosing function's frame base, if any. LinkBase is the address
// the module was linked at; DW_OP_addr operands are relocated by the
// difference between it and the module base.
type Expression struct {
	Program   []byte
	FrameBase []byte
	LinkBase  uint64
}

// Unsupported is a location kind that cannot be interpreted.
type Unsupported struct {
	Kind string
}

func (RegisterRelative) isLocation() {}
func (Enregistered) isLocation()     {}
func (Static) isLocation()           {}
func (Expression) isLocation()       {}
func (Unsupported) isLocation()      {}

func (l RegisterRelative) String() string {
	if l.Reg == RegFrameBase {
		return fmt.Sprintf("[vframe%+d]", l.Offset)
	}
	return fmt.Sprintf("[r%d%+d]", l.Reg, l.Offset)
}

func (l Enregistered) String() string { return fmt.Sprintf("r%d", l.Reg) }
func (l Static) String() string       { return fmt.Sprintf("rva %#x", l.RVA) }
func (l Expression) String() string   { return fmt.Sprintf("expr % x", l.Program) }
func (l Unsupported) String() string  { return "unsupported " + l.Kind }

// Resolved is the outcome of resolving a Location: either the address of
// the variable, or its value when it is held in a register.
type Resolved struct {
	Address    uint64
	InRegister bool
	Value      uint64
}

// Resolve computes where the variable at loc lives in the frame described
// by ctx.
func Resolve(loc Location, m *Module, ctx *arch.ThreadContext, mem memory.Reader) (Resolved, error) {
	switch l := loc.(type) {
	case RegisterRelative:
		base, err := register(ctx, l.Reg)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{Address: uint64(int64(base) + l.Offset)}, nil

	case Enregistered:
		v, err := register(ctx, l.Reg)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{InRegister: true, Value: v}, nil

	case Static:
		return Resolved{Address: m.Base + l.RVA}, nil

	case Expression:
		return evaluate(l, m, ctx, mem)

	case Unsupported:
		return Resolved{}, fmt.Errorf("%w: %s", ErrUnsupportedLocation, l.Kind)
	}
	return Resolved{}, fmt.Errorf("%w: %T", ErrUnsupportedLocation, loc)
}

func register(ctx *arch.ThreadContext, num uint64) (uint64, error) {
	if num == RegFrameBase {
		if ctx.Arch().PtrSize() == 8 {
			num = ctx.Arch().SPRegNum()
		} else {
			num = ctx.Arch().FPRegNum()
		}
	}
	v, ok := ctx.Reg(num)
	if !ok {
		return 0, fmt.Errorf("%w: register %s not in context", ErrUnsupportedLocation, ctx.Arch().RegisterName(num))
	}
	return v, nil
}

func evaluate(l Expression, m *Module, ctx *arch.ThreadContext, mem memory.Reader) (Resolved, error) {
	regs := ctx.DwarfRegisters(m.Base - l.LinkBase)
	read := func(buf []byte, addr uint64) (int, error) {
		if err := mem.ReadMemory(buf, addr); err != nil {
			return 0, err
		}
		return len(buf), nil
	}

	if len(l.FrameBase) > 0 {
		fb, pieces, err := op.ExecuteStackProgram(*regs, l.FrameBase, m.PtrSize, read)
		if err != nil {
			return Resolved{}, fmt.Errorf("%w: frame base: %v", ErrUnsupportedLocation, err)
		}
		if len(pieces) == 1 && pieces[0].Kind == op.RegPiece {
			fb = int64(regs.Uint64Val(pieces[0].Val))
		}
		regs.FrameBase = fb
	}

	addr, pieces, err := op.ExecuteStackProgram(*regs, l.Program, m.PtrSize, read)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %v", ErrUnsupportedLocation, err)
	}
	switch {
	case len(pieces) == 0:
		return Resolved{Address: uint64(addr)}, nil
	case len(pieces) > 1:
		return Resolved{}, fmt.Errorf("%w: %d-piece composite", ErrUnsupportedLocation, len(pieces))
	}

	p := pieces[0]
	switch p.Kind {
	case op.RegPiece:
		return Resolved{InRegister: true, Value: regs.Uint64Val(p.Val)}, nil
	case op.ImmPiece:
		if p.Bytes == nil {
			return Resolved{InRegister: true, Value: p.Val}, nil
		}
		if len(p.Bytes) > 8 {
			return Resolved{}, fmt.Errorf("%w: %d-byte implicit value", ErrUnsupportedLocation, len(p.Bytes))
		}
		var buf [8]byte
		copy(buf[:], p.Bytes)
		return Resolved{InRegister: true, Value: binary.LittleEndian.Uint64(buf[:])}, nil
	default:
		return Resolved{Address: p.Val}, nil
	}
}
