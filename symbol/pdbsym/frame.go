package pdbsym

import (
	"fmt"
	"math"

	"github.com/go-delve/delve/pkg/dwarf/regnum"
	"go.uber.org/zap"

	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/pdb"
	"github.com/skdltmxn/dbgsym/symbol"
)

// CodeView register numbers mapped to DWARF numbering.
var (
	cvX86 = map[uint16]uint64{
		17: regnum.I386_Eax,
		18: regnum.I386_Ecx,
		19: regnum.I386_Edx,
		20: regnum.I386_Ebx,
		21: regnum.I386_Esp,
		22: regnum.I386_Ebp,
		23: regnum.I386_Esi,
		24: regnum.I386_Edi,
		33: regnum.I386_Eip,
	}
	cvAMD64 = map[uint16]uint64{
		33:  regnum.AMD64_Rip,
		328: regnum.AMD64_Rax,
		329: regnum.AMD64_Rbx,
		330: regnum.AMD64_Rcx,
		331: regnum.AMD64_Rdx,
		332: regnum.AMD64_Rsi,
		333: regnum.AMD64_Rdi,
		334: regnum.AMD64_Rbp,
		335: regnum.AMD64_Rsp,
		336: regnum.AMD64_R8,
		337: regnum.AMD64_R9,
		338: regnum.AMD64_R10,
		339: regnum.AMD64_R11,
		340: regnum.AMD64_R12,
		341: regnum.AMD64_R13,
		342: regnum.AMD64_R14,
		343: regnum.AMD64_R15,
	}
)

func (p *Provider) dwarfRegister(cv uint16) (uint64, bool) {
	if cv == pdb.RegVFrame {
		return symbol.RegFrameBase, true
	}
	table := cvAMD64
	if p.arch == arch.X86 {
		table = cvX86
	}
	n, ok := table[cv]
	return n, ok
}

func (p *Provider) location(l pdb.Location) symbol.Location {
	switch l.Kind {
	case pdb.LocationRegisterRelative:
		if reg, ok := p.dwarfRegister(l.Register); ok {
			return symbol.RegisterRelative{Reg: reg, Offset: int64(l.Offset)}
		}
	case pdb.LocationRegister:
		if reg, ok := p.dwarfRegister(l.Register); ok && reg != symbol.RegFrameBase {
			return symbol.Enregistered{Reg: reg}
		}
	default:
		return symbol.Unsupported{Kind: "pdb"}
	}
	return symbol.Unsupported{Kind: fmt.Sprintf("cv register %d", l.Register)}
}

// FrameLocals lists the variables of the procedure containing ip. Repeated
// entries with the same name and location, which optimizing compilers
// emit for one variable, are reported once.
func (p *Provider) FrameLocals(m *symbol.Module, ip uint64, onlyArguments bool) ([]symbol.LocalSymbol, error) {
	if ip < m.Base || ip-m.Base > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %#x outside %s", symbol.ErrNotFound, ip, m.Name)
	}
	fr, err := p.file.FrameAt(uint32(ip - m.Base))
	if err != nil {
		return nil, notFound(err)
	}

	var out []symbol.LocalSymbol
	for _, l := range fr.Locals {
		if onlyArguments && !l.IsParameter {
			continue
		}
		ls := symbol.LocalSymbol{
			Name:        l.Name,
			Type:        symbol.TypeID(l.Type),
			IsParameter: l.IsParameter,
			Location:    p.location(l.Location),
		}
		if n := len(out); n > 0 && out[n-1].Name == ls.Name && out[n-1].Location.String() == ls.Location.String() {
			continue
		}
		if _, ok := ls.Location.(symbol.Unsupported); ok {
			p.log.Debug("unsupported local location",
				zap.String("function", fr.Function.Name()),
				zap.String("name", l.Name),
				zap.Uint16("register", l.Location.Register))
		}
		out = append(out, ls)
	}
	return out, nil
}
