package arch_test

import (
	"debug/elf"
	"testing"

	"github.com/go-delve/delve/pkg/dwarf/regnum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/dbgsym/arch"
)

func TestFromMachine(t *testing.T) {
	a, err := arch.FromELFMachine(elf.EM_X86_64)
	require.NoError(t, err)
	assert.Equal(t, arch.AMD64, a)
	assert.Equal(t, 8, a.PtrSize())

	a, err = arch.FromPEMachine(0x014c)
	require.NoError(t, err)
	assert.Equal(t, arch.X86, a)
	assert.Equal(t, 4, a.PtrSize())

	_, err = arch.FromELFMachine(elf.EM_AARCH64)
	assert.ErrorIs(t, err, arch.ErrUnknownArch)
	_, err = arch.FromPEMachine(0xaa64)
	assert.ErrorIs(t, err, arch.ErrUnknownArch)
}

func TestRegisterNumbers(t *testing.T) {
	assert.Equal(t, uint64(regnum.AMD64_Rip), arch.AMD64.PCRegNum())
	assert.Equal(t, uint64(regnum.AMD64_Rbp), arch.AMD64.FPRegNum())
	assert.Equal(t, uint64(regnum.I386_Esp), arch.X86.SPRegNum())
	assert.Equal(t, "Rsp", arch.AMD64.RegisterName(regnum.AMD64_Rsp))
	assert.Equal(t, "r99", arch.Unknown.RegisterName(99))
}

func TestThreadContextIsImmutable(t *testing.T) {
	src := map[uint64]uint64{
		regnum.AMD64_Rip: 0x401000,
		regnum.AMD64_Rsp: 0x7ff000,
		regnum.AMD64_Rbp: 0x7ff040,
	}
	c := arch.NewThreadContext(arch.AMD64, src)
	src[regnum.AMD64_Rip] = 0

	assert.Equal(t, uint64(0x401000), c.PC())
	assert.Equal(t, uint64(0x7ff000), c.SP())
	assert.Equal(t, uint64(0x7ff040), c.FP())

	outer := c.WithCFA(0x7ff050).WithFrame(0x401234, 0x7ff050, 0x7ff090)
	assert.Equal(t, uint64(0x401000), c.PC())
	assert.Equal(t, uint64(0x401234), outer.PC())
	_, ok := outer.CFA()
	assert.False(t, ok)

	withCFA := c.WithCFA(0x7ff050)
	cfa, ok := withCFA.CFA()
	require.True(t, ok)
	assert.Equal(t, uint64(0x7ff050), cfa)
	_, ok = c.CFA()
	assert.False(t, ok)

	assert.Equal(t, []uint64{regnum.AMD64_Rbp, regnum.AMD64_Rsp, regnum.AMD64_Rip}, c.Registers())
}

func TestDwarfRegisters(t *testing.T) {
	c := arch.NewThreadContext(arch.X86, map[uint64]uint64{
		regnum.I386_Eip: 0x8048000,
		regnum.I386_Esp: 0xbffff000,
		regnum.I386_Ebp: 0xbffff020,
	}).WithCFA(0xbffff028)

	dr := c.DwarfRegisters(0)
	assert.Equal(t, uint64(0x8048000), dr.PC())
	assert.Equal(t, uint64(0xbffff000), dr.SP())
	assert.Equal(t, uint64(0xbffff020), dr.BP())
	assert.Equal(t, int64(0xbffff028), dr.CFA)
	assert.Equal(t, uint64(0xbffff020), dr.Uint64Val(regnum.I386_Ebp))
}
