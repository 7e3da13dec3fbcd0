package dwarftest

import (
	"bytes"
	"encoding/binary"

	"github.com/go-delve/delve/pkg/dwarf/op"
	"github.com/go-delve/delve/pkg/dwarf/util"
)

// OpAddr is DW_OP_addr with an 8-byte operand.
func OpAddr(a uint64) Expr {
	return Expr(binary.LittleEndian.AppendUint64([]byte{byte(op.DW_OP_addr)}, a))
}

func OpFbreg(off int64) Expr {
	var b bytes.Buffer
	b.WriteByte(byte(op.DW_OP_fbreg))
	util.EncodeSLEB128(&b, off)
	return b.Bytes()
}

func OpBreg(reg uint64, off int64) Expr {
	var b bytes.Buffer
	b.WriteByte(byte(op.DW_OP_breg0) + byte(reg))
	util.EncodeSLEB128(&b, off)
	return b.Bytes()
}

func OpReg(reg uint64) Expr { return Expr{byte(op.DW_OP_reg0) + byte(reg)} }

func OpCallFrameCFA() Expr { return Expr{byte(op.DW_OP_call_frame_cfa)} }

// VirtualBaseLoc is the Itanium location of a virtual base: the object's
// vptr is loaded and the base offset read slot bytes before it.
func VirtualBaseLoc(slot uint64) Expr {
	var b bytes.Buffer
	b.WriteByte(byte(op.DW_OP_dup))
	b.WriteByte(byte(op.DW_OP_deref))
	b.WriteByte(byte(op.DW_OP_constu))
	util.EncodeULEB128(&b, slot)
	b.WriteByte(byte(op.DW_OP_minus))
	b.WriteByte(byte(op.DW_OP_deref))
	b.WriteByte(byte(op.DW_OP_plus))
	return b.Bytes()
}
