package arch

import (
	"encoding/binary"
	"maps"
	"slices"

	"github.com/go-delve/delve/pkg/dwarf/op"
)

// ThreadContext is an immutable register snapshot of one thread. Registers
// are keyed by their DWARF number.
type ThreadContext struct {
	arch   Arch
	regs   map[uint64]uint64
	cfa    uint64
	hasCFA bool
}

// NewThreadContext copies regs into a new snapshot.
func NewThreadContext(a Arch, regs map[uint64]uint64) *ThreadContext {
	return &ThreadContext{arch: a, regs: maps.Clone(regs)}
}

func (c *ThreadContext) Arch() Arch { return c.arch }

// Reg returns the value of a register and whether the snapshot holds it.
func (c *ThreadContext) Reg(num uint64) (uint64, bool) {
	v, ok := c.regs[num]
	return v, ok
}

func (c *ThreadContext) PC() uint64 { return c.regs[c.arch.PCRegNum()] }
func (c *ThreadContext) SP() uint64 { return c.regs[c.arch.SPRegNum()] }
func (c *ThreadContext) FP() uint64 { return c.regs[c.arch.FPRegNum()] }

// Registers returns the register numbers held by the snapshot in
// ascending order.
func (c *ThreadContext) Registers() []uint64 {
	return slices.Sorted(maps.Keys(c.regs))
}

// With returns a copy with one register replaced.
func (c *ThreadContext) With(num, v uint64) *ThreadContext {
	n := &ThreadContext{arch: c.arch, regs: maps.Clone(c.regs), cfa: c.cfa, hasCFA: c.hasCFA}
	if n.regs == nil {
		n.regs = make(map[uint64]uint64)
	}
	n.regs[num] = v
	return n
}

// WithFrame returns the context of an outer frame: ip, sp and fp replaced
// and any CFA dropped.
func (c *ThreadContext) WithFrame(ip, sp, fp uint64) *ThreadContext {
	n := c.With(c.arch.PCRegNum(), ip)
	n.regs[c.arch.SPRegNum()] = sp
	n.regs[c.arch.FPRegNum()] = fp
	n.cfa, n.hasCFA = 0, false
	return n
}

// WithCFA returns a copy carrying the canonical frame address of the
// frame the snapshot describes.
func (c *ThreadContext) WithCFA(cfa uint64) *ThreadContext {
	n := &ThreadContext{arch: c.arch, regs: c.regs, cfa: cfa, hasCFA: true}
	return n
}

func (c *ThreadContext) CFA() (uint64, bool) { return c.cfa, c.hasCFA }

// DwarfRegisters converts the snapshot for the DWARF expression evaluator.
func (c *ThreadContext) DwarfRegisters(staticBase uint64) *op.DwarfRegisters {
	var hi uint64
	for num := range c.regs {
		hi = max(hi, num)
	}
	regs := make([]*op.DwarfRegister, hi+1)
	for num, v := range c.regs {
		regs[num] = op.DwarfRegisterFromUint64(v)
	}
	dr := op.NewDwarfRegisters(staticBase, regs, binary.LittleEndian,
		c.arch.PCRegNum(), c.arch.SPRegNum(), c.arch.FPRegNum(), 0)
	if c.hasCFA {
		dr.CFA = int64(c.cfa)
	}
	return dr
}
