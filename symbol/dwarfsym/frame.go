package dwarfsym

import (
	"debug/dwarf"
	"fmt"

	"github.com/go-delve/delve/pkg/dwarf/frame"
	"github.com/go-delve/delve/pkg/dwarf/op"
	"go.uber.org/zap"

	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/symbol"
)

// FrameLocals lists the parameters and variables of the function
// containing ip, descending into the lexical blocks that contain it.
func (p *Provider) FrameLocals(m *symbol.Module, ip uint64, onlyArguments bool) ([]symbol.LocalSymbol, error) {
	idx, err := p.index()
	if err != nil {
		return nil, err
	}
	pc := ip - p.delta(m)
	fn, ok := idx.function(pc)
	if !ok {
		return nil, fmt.Errorf("%w: no function at %#x in %s", symbol.ErrNotFound, ip, m.Name)
	}
	frameBase := fn.node.expr(dwarf.AttrFrameBase)

	var out []symbol.LocalSymbol
	var walk func(n *node)
	walk = func(n *node) {
		for _, c := range n.children {
			switch c.Tag {
			case dwarf.TagFormalParameter, dwarf.TagVariable:
			case dwarf.TagLexDwarfBlock:
				if p.contains(c, pc) {
					walk(c)
				}
				continue
			default:
				continue
			}

			isParam := c.Tag == dwarf.TagFormalParameter
			if onlyArguments && !isParam {
				continue
			}
			ls := symbol.LocalSymbol{
				Name:        idx.localName(c),
				IsParameter: isParam,
				Location:    p.location(c, frameBase),
			}
			if typ, ok := idx.localType(c); ok {
				ls.Type = symbol.TypeID(typ)
			}
			if k := len(out); k > 0 && out[k-1].Name == ls.Name && out[k-1].Location.String() == ls.Location.String() {
				continue
			}
			if _, ok := ls.Location.(symbol.Unsupported); ok {
				p.log.Debug("unsupported local location",
					zap.String("function", fn.node.qname),
					zap.String("name", ls.Name),
					zap.Stringer("location", ls.Location))
			}
			out = append(out, ls)
		}
	}
	walk(fn.node)
	return out, nil
}

// localName and localType follow DW_AT_abstract_origin for variables of
// concrete out-of-line instances.
func (idx *index) localName(n *node) string {
	if name := n.name(); name != "" {
		return name
	}
	if o, ok := n.ref(dwarf.AttrAbstractOrigin); ok {
		if on, ok := idx.nodes[o]; ok {
			return on.name()
		}
	}
	return ""
}

func (idx *index) localType(n *node) (dwarf.Offset, bool) {
	if ref, ok := n.ref(dwarf.AttrType); ok {
		return ref, true
	}
	if o, ok := n.ref(dwarf.AttrAbstractOrigin); ok {
		if on, ok := idx.nodes[o]; ok {
			return on.ref(dwarf.AttrType)
		}
	}
	return 0, false
}

func (p *Provider) contains(n *node, pc uint64) bool {
	ranges, err := p.data.Ranges(n.Entry)
	if err != nil {
		return false
	}
	for _, rg := range ranges {
		if pc >= rg[0] && pc < rg[1] {
			return true
		}
	}
	return false
}

func (p *Provider) location(n *node, frameBase []byte) symbol.Location {
	f := n.AttrField(dwarf.AttrLocation)
	switch {
	case f == nil && n.AttrField(dwarf.AttrConstValue) != nil:
		return symbol.Unsupported{Kind: "constant value"}
	case f == nil:
		return symbol.Unsupported{Kind: "optimized out"}
	case f.Class == dwarf.ClassExprLoc:
		return symbol.Expression{Program: f.Val.([]byte), FrameBase: frameBase, LinkBase: p.linkBase}
	case f.Class == dwarf.ClassLocListPtr || f.Class == dwarf.ClassLocList:
		return symbol.Unsupported{Kind: "location list"}
	}
	return symbol.Unsupported{Kind: f.Class.String()}
}

// CanonicalFrameAddress applies the CFA rule of the FDE covering the
// context's pc.
func (p *Provider) CanonicalFrameAddress(m *symbol.Module, ctx *arch.ThreadContext, mem memory.Reader) (uint64, bool, error) {
	if len(p.frames) == 0 {
		return 0, false, nil
	}
	delta := p.delta(m)
	pc := ctx.PC() - delta
	fde, err := p.frames.FDEForPC(pc)
	if err != nil {
		return 0, false, nil
	}
	fctx := fde.EstablishFrame(pc)

	switch fctx.CFA.Rule {
	case frame.RuleCFA:
		v, ok := ctx.Reg(fctx.CFA.Reg)
		if !ok {
			p.log.Debug("cfa register not in context",
				zap.Uint64("pc", ctx.PC()),
				zap.String("register", p.arch.RegisterName(fctx.CFA.Reg)))
			return 0, false, nil
		}
		return uint64(int64(v) + fctx.CFA.Offset), true, nil

	case frame.RuleExpression:
		regs := ctx.DwarfRegisters(delta)
		addr, _, err := op.ExecuteStackProgram(*regs, fctx.CFA.Expression, p.arch.PtrSize(), readFunc(mem))
		if err != nil {
			return 0, false, fmt.Errorf("dwarfsym: failed to evaluate CFA expression at %#x: %w", ctx.PC(), err)
		}
		return uint64(addr), true, nil
	}
	return 0, false, nil
}
