package pdbtest

// Machine types accepted by PDB.Machine.
const (
	MachineI386  = 0x014c
	MachineAMD64 = 0x8664
)

// Section is one PE section header.
type Section struct {
	Name string
	VA   uint32
	Size uint32
}

// Module is a compilation unit with its symbols and the code it owns.
type Module struct {
	Name     string
	Syms     *Syms
	Contribs []Contrib
}

// Contrib is a section contribution of a module.
type Contrib struct {
	Section uint16
	Offset  uint32
	Size    uint32
}

// PDB describes a synthetic PDB file.
type PDB struct {
	Machine  uint16
	Age      uint32
	Types    TPI
	Globals  *Syms
	Sections []Section
	Modules  []Module
}

const (
	streamGSI = 5 + iota
	streamPSI
	streamSymRecords
	streamSections
	streamFirstModule
)

// Bytes lays the PDB out as an MSF image.
func (p *PDB) Bytes() []byte {
	streams := make([][]byte, streamFirstModule+len(p.Modules))
	streams[0] = []byte{}
	streams[1] = p.info()
	streams[2] = p.Types.Bytes()
	streams[3] = p.dbi()
	streams[4] = new(TPI).Bytes()
	streams[streamGSI] = []byte{}
	streams[streamPSI] = []byte{}
	if p.Globals != nil {
		streams[streamSymRecords] = p.Globals.Bytes()
	} else {
		streams[streamSymRecords] = []byte{}
	}
	sh := new(Buf)
	for _, s := range p.Sections {
		name := make([]byte, 8)
		copy(name, s.Name)
		sh.Raw(name).U32(s.Size).U32(s.VA)
		for range 6 {
			sh.U32(0)
		}
	}
	streams[streamSections] = sh.Bytes()
	for i, m := range p.Modules {
		if m.Syms != nil {
			streams[streamFirstModule+i] = m.Syms.Bytes()
		} else {
			streams[streamFirstModule+i] = []byte{0x04, 0, 0, 0}
		}
	}
	return MSF(streams)
}

func (p *PDB) info() []byte {
	b := new(Buf).U32(20000404).U32(0x5eed).U32(p.Age)
	for i := range 16 {
		b.U8(byte(i))
	}
	return b.U32(0).U32(0).U32(0).U32(0).U32(0).Bytes()
}

func contrib(b *Buf, c Contrib, module uint16) {
	b.U16(c.Section).U16(0).U32(c.Offset).U32(c.Size).U32(0x60000020).U16(module).U16(0).U32(0).U32(0)
}

func (p *PDB) dbi() []byte {
	mods := new(Buf)
	secs := new(Buf).U32(0xF13151F5)
	for i, m := range p.Modules {
		var first Contrib
		if len(m.Contribs) > 0 {
			first = m.Contribs[0]
		}
		symBytes := uint32(4)
		if m.Syms != nil {
			symBytes = uint32(m.Syms.Len())
		}
		mods.U32(0)
		contrib(mods, first, uint16(i))
		mods.U16(0).U16(uint16(streamFirstModule + i)).U32(symBytes)
		mods.U32(0).U32(0).U16(0).U16(0).U32(0).U32(0).U32(0)
		mods.CStr(m.Name).CStr(m.Name).Align(4)
		for _, c := range m.Contribs {
			contrib(secs, c, uint16(i))
		}
	}
	opt := new(Buf)
	for i := range 11 {
		if i == 5 {
			opt.U16(streamSections)
		} else {
			opt.U16(0xffff)
		}
	}

	machine := p.Machine
	if machine == 0 {
		machine = MachineAMD64
	}
	h := new(Buf).U32(0xffffffff).U32(19990903).U32(p.Age)
	h.U16(streamGSI).U16(0x8e00).U16(streamPSI).U16(0).U16(streamSymRecords).U16(0)
	h.U32(uint32(mods.Len())).U32(uint32(secs.Len())).U32(0).U32(0).U32(0).U32(0)
	h.U32(uint32(opt.Len())).U32(0).U16(0).U16(machine).U32(0)
	return h.Raw(mods.Bytes()).Raw(secs.Bytes()).Raw(opt.Bytes()).Bytes()
}
