// Package arch describes the CPU architectures the engine understands and
// the register snapshots taken from them.
package arch

import (
	"debug/elf"
	"errors"
	"fmt"

	"github.com/go-delve/delve/pkg/dwarf/regnum"
)

var ErrUnknownArch = errors.New("arch: unsupported architecture")

// Arch identifies an instruction set.
type Arch uint8

const (
	Unknown Arch = iota
	X86
	AMD64
)

// PE machine types.
const (
	machineI386  = 0x014c
	machineAMD64 = 0x8664
)

func (a Arch) String() string {
	switch a {
	case X86:
		return "x86"
	case AMD64:
		return "amd64"
	default:
		return "unknown"
	}
}

// PtrSize returns the width of a pointer in bytes.
func (a Arch) PtrSize() int {
	switch a {
	case X86:
		return 4
	case AMD64:
		return 8
	}
	return 0
}

// PCRegNum returns the DWARF number of the instruction pointer.
func (a Arch) PCRegNum() uint64 {
	if a == X86 {
		return regnum.I386_Eip
	}
	return regnum.AMD64_Rip
}

// SPRegNum returns the DWARF number of the stack pointer.
func (a Arch) SPRegNum() uint64 {
	if a == X86 {
		return regnum.I386_Esp
	}
	return regnum.AMD64_Rsp
}

// FPRegNum returns the DWARF number of the frame pointer.
func (a Arch) FPRegNum() uint64 {
	if a == X86 {
		return regnum.I386_Ebp
	}
	return regnum.AMD64_Rbp
}

// RegisterName returns the conventional name of a DWARF register.
func (a Arch) RegisterName(num uint64) string {
	switch a {
	case X86:
		return regnum.I386ToName(num)
	case AMD64:
		return regnum.AMD64ToName(num)
	}
	return fmt.Sprintf("r%d", num)
}

// FromELFMachine maps an ELF e_machine value.
func FromELFMachine(m elf.Machine) (Arch, error) {
	switch m {
	case elf.EM_386:
		return X86, nil
	case elf.EM_X86_64:
		return AMD64, nil
	}
	return Unknown, fmt.Errorf("%w: %v", ErrUnknownArch, m)
}

// FromPEMachine maps a PE/COFF machine type as stored in PDB headers.
func FromPEMachine(m uint16) (Arch, error) {
	switch m {
	case machineI386:
		return X86, nil
	case machineAMD64:
		return AMD64, nil
	}
	return Unknown, fmt.Errorf("%w: machine %#x", ErrUnknownArch, m)
}
