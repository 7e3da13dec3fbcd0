package dwarftest

import (
	"bytes"
	"encoding/binary"

	"github.com/go-delve/delve/pkg/dwarf/util"
)

// Call frame instructions.
const (
	cfaAdvanceLoc     = 0x40
	cfaOffset         = 0x80
	cfaDefCFA         = 0x0c
	cfaDefCFARegister = 0x0d
	cfaDefCFAOffset   = 0x0e
)

// Frame builds a .debug_frame section with one CIE and any number of FDEs
// for 8-byte addresses.
type Frame struct {
	b bytes.Buffer
}

// NewFrame writes a version 3 CIE with a code alignment of 1, a data
// alignment of -8 and the given return address register.
func NewFrame(raReg uint64, initial []byte) *Frame {
	var cie bytes.Buffer
	binary.Write(&cie, binary.LittleEndian, uint32(0xffffffff))
	cie.WriteByte(3)
	cie.WriteByte(0) // augmentation ""
	util.EncodeULEB128(&cie, 1)
	util.EncodeSLEB128(&cie, -8)
	util.EncodeULEB128(&cie, raReg)
	cie.Write(initial)

	f := &Frame{}
	f.entry(cie.Bytes())
	return f
}

func (f *Frame) entry(body []byte) {
	for len(body)%8 != 4 {
		body = append(body, 0) // DW_CFA_nop
	}
	binary.Write(&f.b, binary.LittleEndian, uint32(len(body)))
	f.b.Write(body)
}

// FDE adds the rules for [begin, begin+size).
func (f *Frame) FDE(begin, size uint64, instr []byte) *Frame {
	var fde bytes.Buffer
	binary.Write(&fde, binary.LittleEndian, uint32(0)) // CIE at offset 0
	binary.Write(&fde, binary.LittleEndian, begin)
	binary.Write(&fde, binary.LittleEndian, size)
	fde.Write(instr)
	f.entry(fde.Bytes())
	return f
}

func (f *Frame) Bytes() []byte { return f.b.Bytes() }

func DefCFA(reg uint64, off uint64) []byte {
	var b bytes.Buffer
	b.WriteByte(cfaDefCFA)
	util.EncodeULEB128(&b, reg)
	util.EncodeULEB128(&b, off)
	return b.Bytes()
}

func DefCFAOffset(off uint64) []byte {
	var b bytes.Buffer
	b.WriteByte(cfaDefCFAOffset)
	util.EncodeULEB128(&b, off)
	return b.Bytes()
}

func DefCFARegister(reg uint64) []byte {
	var b bytes.Buffer
	b.WriteByte(cfaDefCFARegister)
	util.EncodeULEB128(&b, reg)
	return b.Bytes()
}

// SavedAt records reg saved at CFA + factored*-8.
func SavedAt(reg uint64, factored uint64) []byte {
	var b bytes.Buffer
	b.WriteByte(cfaOffset | byte(reg))
	util.EncodeULEB128(&b, factored)
	return b.Bytes()
}

func AdvanceLoc(delta uint8) []byte { return []byte{cfaAdvanceLoc | delta} }
