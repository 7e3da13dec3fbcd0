package pdbtest

import "encoding/binary"

const (
	sEnd         = 0x0006
	sFrameProc   = 0x1012
	sBlock32     = 0x1103
	sRegister    = 0x1106
	sUDT         = 0x1108
	sBPRel32     = 0x110b
	sLData32     = 0x110c
	sGData32     = 0x110d
	sPub32       = 0x110e
	sGProc32     = 0x1110
	sRegRel32    = 0x1111
	sLocal       = 0x113e
	sDefRangeReg = 0x1141
	sDefRangeFP  = 0x1142
	sDefRangeFS  = 0x1144
	sDefRangeRR  = 0x1145
)

// Syms builds a symbol stream. Scopes opened by Proc and Block are closed
// by End, which patches the opener's end pointer.
type Syms struct {
	Buf
	open []int // offsets of PtrEnd fields awaiting patch
}

// ModuleSyms starts a module symbol stream with its C13 signature.
func ModuleSyms() *Syms {
	s := &Syms{}
	s.U32(4)
	return s
}

// GlobalSyms starts a global symbol record stream.
func GlobalSyms() *Syms { return &Syms{} }

func (s *Syms) rec(kind uint16, payload []byte) int {
	off := s.Len()
	s.U16(uint16(len(payload) + 2)).U16(kind).Raw(payload)
	return off
}

// Proc opens an S_GPROC32.
func (s *Syms) Proc(name string, typ uint32, seg uint16, off, size uint32) *Syms {
	p := new(Buf).U32(0).U32(0).U32(0).U32(size).U32(0).U32(size).U32(typ).U32(off).U16(seg).U8(1).CStr(name)
	at := s.rec(sGProc32, p.Bytes())
	s.open = append(s.open, at+8)
	return s
}

// Block opens an S_BLOCK32.
func (s *Syms) Block(seg uint16, off, size uint32) *Syms {
	p := new(Buf).U32(0).U32(0).U32(size).U32(off).U16(seg).CStr("")
	at := s.rec(sBlock32, p.Bytes())
	s.open = append(s.open, at+8)
	return s
}

// End closes the innermost scope.
func (s *Syms) End() *Syms {
	at := s.rec(sEnd, nil)
	n := len(s.open) - 1
	binary.LittleEndian.PutUint32(s.b[s.open[n]:], uint32(at))
	s.open = s.open[:n]
	return s
}

func (s *Syms) FrameProc(total uint32) *Syms {
	p := new(Buf).U32(total).U32(0).U32(0).U32(0).U32(0).U16(0).U16(0).U32(0)
	s.rec(sFrameProc, p.Bytes())
	return s
}

func (s *Syms) RegRel(name string, typ uint32, reg uint16, off int32) *Syms {
	s.rec(sRegRel32, new(Buf).U32(uint32(off)).U32(typ).U16(reg).CStr(name).Bytes())
	return s
}

func (s *Syms) BPRel(name string, typ uint32, off int32) *Syms {
	s.rec(sBPRel32, new(Buf).U32(uint32(off)).U32(typ).CStr(name).Bytes())
	return s
}

func (s *Syms) Register(name string, typ uint32, reg uint16) *Syms {
	s.rec(sRegister, new(Buf).U32(typ).U16(reg).CStr(name).Bytes())
	return s
}

// Local adds S_LOCAL; param sets the parameter flag.
func (s *Syms) Local(name string, typ uint32, param bool) *Syms {
	var flags uint16
	if param {
		flags = 1
	}
	s.rec(sLocal, new(Buf).U32(typ).U16(flags).CStr(name).Bytes())
	return s
}

func (s *Syms) DefRangeRegister(reg uint16, seg uint16, start uint32, length uint16) *Syms {
	s.rec(sDefRangeReg, new(Buf).U16(reg).U16(0).U32(start).U16(seg).U16(length).Bytes())
	return s
}

func (s *Syms) DefRangeFrameRel(off int32, seg uint16, start uint32, length uint16) *Syms {
	s.rec(sDefRangeFP, new(Buf).U32(uint32(off)).U32(start).U16(seg).U16(length).Bytes())
	return s
}

func (s *Syms) DefRangeFullScope(off int32) *Syms {
	s.rec(sDefRangeFS, new(Buf).U32(uint32(off)).Bytes())
	return s
}

func (s *Syms) DefRangeRegRel(reg uint16, off int32, seg uint16, start uint32, length uint16) *Syms {
	s.rec(sDefRangeRR, new(Buf).U16(reg).U16(0).U32(uint32(off)).U32(start).U16(seg).U16(length).Bytes())
	return s
}

func (s *Syms) Public(name string, seg uint16, off uint32, code bool) *Syms {
	var flags uint32
	if code {
		flags = 3
	}
	s.rec(sPub32, new(Buf).U32(flags).U32(off).U16(seg).CStr(name).Bytes())
	return s
}

func (s *Syms) Data(name string, typ uint32, seg uint16, off uint32) *Syms {
	s.rec(sGData32, new(Buf).U32(typ).U32(off).U16(seg).CStr(name).Bytes())
	return s
}

func (s *Syms) StaticData(name string, typ uint32, seg uint16, off uint32) *Syms {
	s.rec(sLData32, new(Buf).U32(typ).U32(off).U16(seg).CStr(name).Bytes())
	return s
}

func (s *Syms) UDT(name string, typ uint32) *Syms {
	s.rec(sUDT, new(Buf).U32(typ).CStr(name).Bytes())
	return s
}
