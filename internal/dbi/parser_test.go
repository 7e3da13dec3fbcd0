package dbi_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/dbgsym/internal/dbi"
	"github.com/skdltmxn/dbgsym/internal/pdbtest"
	"github.com/skdltmxn/dbgsym/msf"
)

func parse(t *testing.T, p *pdbtest.PDB) *dbi.Stream {
	t.Helper()
	img := p.Bytes()
	f, err := msf.NewFile(bytes.NewReader(img), int64(len(img)))
	require.NoError(t, err)
	data, err := f.ReadStream(msf.StreamDBI)
	require.NoError(t, err)
	s, err := dbi.ParseStream(data)
	require.NoError(t, err)
	return s
}

func TestModulesAndContributions(t *testing.T) {
	p := &pdbtest.PDB{
		Machine: pdbtest.MachineI386,
		Modules: []pdbtest.Module{
			{Name: "a.obj", Contribs: []pdbtest.Contrib{{Section: 1, Offset: 0x200, Size: 0x40}}},
			{Name: "b.obj", Contribs: []pdbtest.Contrib{
				{Section: 1, Offset: 0x0, Size: 0x100},
				{Section: 2, Offset: 0x10, Size: 0x8},
			}},
		},
	}
	s := parse(t, p)

	assert.Equal(t, dbi.MachineI386, s.Header.Machine)
	require.Len(t, s.Modules, 2)
	assert.Equal(t, "a.obj", s.Modules[0].ModuleName)
	assert.Equal(t, "b.obj", s.Modules[1].ObjFileName)
	assert.True(t, s.Modules[1].HasSymbols())
	assert.NotEqual(t, dbi.InvalidStreamIndex, s.OptionalDbg.SectionHdrStreamIndex)
	assert.Equal(t, dbi.InvalidStreamIndex, s.OptionalDbg.FPOStreamIndex)

	require.Len(t, s.Contributions, 3)
	assert.Equal(t, int32(0), s.Contributions[0].Offset)

	m, ok := s.ModuleForAddress(1, 0x210)
	require.True(t, ok)
	assert.Equal(t, "a.obj", m.ModuleName)

	m, ok = s.ModuleForAddress(2, 0x14)
	require.True(t, ok)
	assert.Equal(t, "b.obj", m.ModuleName)

	_, ok = s.ModuleForAddress(1, 0x150)
	assert.False(t, ok)
	_, ok = s.ModuleForAddress(3, 0)
	assert.False(t, ok)
}

func TestRejectsShortHeader(t *testing.T) {
	_, err := dbi.ParseStream(make([]byte, 10))
	assert.ErrorIs(t, err, dbi.ErrInvalidHeader)
}
