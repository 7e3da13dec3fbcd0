package pdb

import (
	"fmt"
	"iter"

	"github.com/skdltmxn/dbgsym/internal/dbi"
	"github.com/skdltmxn/dbgsym/internal/symbols"
)

// RegVFrame is the CodeView pseudo register for the frame base that
// frame-relative locations are expressed against.
const RegVFrame uint16 = 30006

// CodeView registers the parameter heuristics need.
const (
	regEBP uint16 = 22
	regRSP uint16 = 335
	regRBP uint16 = 334
)

// Module represents a compilation unit (object file) in the PDB.
type Module struct {
	pdb  *File
	info *dbi.ModuleInfo
}

func (m *Module) Index() int { return m.info.Index }

// Name returns the module name (typically the object file path).
func (m *Module) Name() string { return m.info.ModuleName }

func (m *Module) ObjectFileName() string { return m.info.ObjFileName }

// HasSymbols reports whether the module carries a symbol stream.
func (m *Module) HasSymbols() bool { return m.info.HasSymbols() }

// Functions returns an iterator over the procedures of the module.
func (m *Module) Functions() iter.Seq[*FunctionSymbol] {
	return func(yield func(*FunctionSymbol) bool) {
		if !m.HasSymbols() {
			return
		}
		data, err := m.pdb.moduleStream(m.info)
		if err != nil {
			return
		}
		for _, rec := range symbols.All(data, symbols.ModuleSignature) {
			if !rec.Kind.IsProc() {
				continue
			}
			if fn, ok := convertSymbolRecord(rec).(*FunctionSymbol); ok {
				if !yield(fn) {
					return
				}
			}
		}
	}
}

// Modules returns the compilation units listed in the DBI stream.
func (f *File) Modules() ([]*Module, error) {
	d, err := f.dbi()
	if err != nil {
		return nil, err
	}
	mods := make([]*Module, len(d.Modules))
	for i := range d.Modules {
		mods[i] = &Module{pdb: f, info: &d.Modules[i]}
	}
	return mods, nil
}

// LocationKind selects how a Local is stored.
type LocationKind uint8

const (
	LocationUnsupported LocationKind = iota
	// LocationRegisterRelative is [Register + Offset]. Register may be RegVFrame.
	LocationRegisterRelative
	// LocationRegister holds the value in Register itself.
	LocationRegister
)

// Location is where a local lives at the frame's address. Register is a
// CodeView register number.
type Location struct {
	Kind     LocationKind
	Register uint16
	Offset   int32
}

// Local is a variable or parameter visible in a Frame.
type Local struct {
	Name        string
	Type        TypeIndex
	IsParameter bool
	Location    Location
}

// Frame is the procedure containing an address with the locals in scope
// there, innermost block last.
type Frame struct {
	Function *FunctionSymbol
	Module   *Module
	// FrameSize is the fixed frame allocation; 0 without S_FRAMEPROC.
	FrameSize uint32
	Locals    []Local
}

// FrameAt returns the procedure frame covering rva. The module is located
// through section contributions and, failing that, by scanning every
// module.
func (f *File) FrameAt(rva uint32) (*Frame, error) {
	sh, err := f.Sections()
	if err != nil {
		return nil, err
	}
	sec, off, ok := sh.FindSection(rva)
	if !ok {
		return nil, fmt.Errorf("%w: rva %#x outside every section", ErrSymbolNotFound, rva)
	}
	d, err := f.dbi()
	if err != nil {
		return nil, err
	}

	if mi, ok := d.ModuleForAddress(sec, off); ok && mi.HasSymbols() {
		fr, err := f.frameIn(mi, sec, off, d.Header.Machine)
		if err != nil || fr != nil {
			return fr, err
		}
	}
	for i := range d.Modules {
		mi := &d.Modules[i]
		if !mi.HasSymbols() {
			continue
		}
		fr, err := f.frameIn(mi, sec, off, d.Header.Machine)
		if err != nil {
			return nil, err
		}
		if fr != nil {
			return fr, nil
		}
	}
	return nil, fmt.Errorf("%w: no procedure at rva %#x", ErrSymbolNotFound, rva)
}

func (f *File) frameIn(mi *dbi.ModuleInfo, sec uint16, off uint32, machine uint16) (*Frame, error) {
	data, err := f.moduleStream(mi)
	if err != nil {
		return nil, err
	}
	sf, err := symbols.FindFrame(data, sec, off)
	if err != nil {
		return nil, &ParseError{Stream: "module " + mi.ModuleName, Offset: -1, Message: "bad symbol stream", Err: err}
	}
	if sf == nil {
		return nil, nil
	}

	fr := &Frame{
		Function: &FunctionSymbol{
			baseSymbol: baseSymbol{name: sf.Proc.Name},
			section:    sf.Proc.Segment,
			offset:     sf.Proc.CodeOffset,
			length:     sf.Proc.CodeSize,
			typeIndex:  TypeIndex(sf.Proc.FunctionType),
		},
		Module: &Module{pdb: f, info: mi},
	}
	if sf.FrameProc != nil {
		fr.FrameSize = sf.FrameProc.TotalFrameBytes
	}
	for _, v := range sf.Variables {
		fr.Locals = append(fr.Locals, Local{
			Name:        v.Name,
			Type:        TypeIndex(v.Type),
			IsParameter: isParameter(v, fr.FrameSize, sf.FrameProc != nil, machine),
			Location:    location(v),
		})
	}
	return fr, nil
}

func location(v symbols.Variable) Location {
	switch v.Kind {
	case symbols.S_REGREL32:
		return Location{Kind: LocationRegisterRelative, Register: v.Register, Offset: v.Offset}
	case symbols.S_BPREL32:
		return Location{Kind: LocationRegisterRelative, Register: RegVFrame, Offset: v.Offset}
	case symbols.S_REGISTER:
		return Location{Kind: LocationRegister, Register: v.Register}
	case symbols.S_LOCAL:
		switch v.Live.Kind {
		case symbols.S_DEFRANGE_REGISTER:
			return Location{Kind: LocationRegister, Register: v.Live.Register}
		case symbols.S_DEFRANGE_FRAMEPOINTER_REL, symbols.S_DEFRANGE_FRAMEPOINTER_REL_FULL_SCOPE:
			return Location{Kind: LocationRegisterRelative, Register: RegVFrame, Offset: v.Live.Offset}
		case symbols.S_DEFRANGE_REGISTER_REL:
			return Location{Kind: LocationRegisterRelative, Register: v.Live.Register, Offset: v.Live.Offset}
		}
	}
	return Location{Kind: LocationUnsupported}
}

// isParameter classifies records that carry no parameter flag. Arguments
// sit above the return address: positive frame offsets on x86, and on x64
// at or beyond the fixed frame plus the return address slot.
func isParameter(v symbols.Variable, frameSize uint32, hasFrameProc bool, machine uint16) bool {
	switch v.Kind {
	case symbols.S_LOCAL:
		return v.Flags.IsParameter()
	case symbols.S_BPREL32:
		return v.Offset > 0
	case symbols.S_REGREL32:
		switch {
		case machine == dbi.MachineI386 && v.Register == regEBP:
			return v.Offset > 0
		case machine == dbi.MachineAMD64 && v.Register == regRSP && hasFrameProc:
			return int64(v.Offset) >= int64(frameSize)+8
		case machine == dbi.MachineAMD64 && v.Register == regRBP:
			return v.Offset > 0
		}
	}
	return false
}
