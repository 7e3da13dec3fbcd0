package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/dbgsym/internal/pdbtest"
)

func writePDB(t *testing.T) string {
	t.Helper()
	p := &pdbtest.PDB{Machine: pdbtest.MachineAMD64}
	ty := &p.Types
	point := ty.Struct("Point", ty.FieldList(new(pdbtest.FieldList).
		Member("x", pdbtest.TInt32, 0).
		Member("y", pdbtest.TInt32, 4)), 8, false)
	a := ty.Struct("A", ty.FieldList(new(pdbtest.FieldList).Member("a", pdbtest.TInt32, 0)), 4, false)
	b := ty.Struct("B", ty.FieldList(new(pdbtest.FieldList).Member("b", pdbtest.TInt32, 0)), 4, false)
	ty.Struct("C", ty.FieldList(new(pdbtest.FieldList).
		Base(a, 0).
		Base(b, 4).
		Member("c", pdbtest.TInt32, 8)), 12, false)
	ty.Enum("Color", pdbtest.TInt32, ty.FieldList(new(pdbtest.FieldList).
		Enumerate("Red", 1).
		Enumerate("Green", 2)))

	p.Sections = []pdbtest.Section{
		{Name: ".text", VA: 0x1000, Size: 0x1000},
		{Name: ".data", VA: 0x3000, Size: 0x100},
	}
	p.Globals = pdbtest.GlobalSyms().Data("g_point", point, 2, 0x20)

	path := filepath.Join(t.TempDir(), "app.pdb")
	require.NoError(t, os.WriteFile(path, p.Bytes(), 0o644))
	return path
}

// run executes dbgview with args and returns what it wrote.
func run(t *testing.T, args ...string) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "out.txt")
	rootCmd.SetArgs(append([]string{"-o", out}, args...))
	require.NoError(t, rootCmd.Execute())
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	return string(data)
}

func TestInfo(t *testing.T) {
	out := run(t, "info", writePDB(t))
	assert.Contains(t, out, "Machine: amd64")
	assert.Contains(t, out, "Block Size: 512")
}

func TestTypes(t *testing.T) {
	path := writePDB(t)
	out := run(t, "types", path)
	assert.Contains(t, out, "Point")
	assert.Contains(t, out, "Color")

	out = run(t, "types", "--kind", "enum", path)
	assert.Contains(t, out, "Color")
	assert.NotContains(t, out, "Point")
	assert.Contains(t, out, "Total: 1 types")

	rootCmd.SetArgs([]string{"types", "--kind", "blob", path})
	assert.Error(t, rootCmd.Execute())
	typesKind = ""
}

func TestFieldsAndBases(t *testing.T) {
	path := writePDB(t)
	out := run(t, "fields", path, "Point")
	assert.Contains(t, out, "Point (size 8)")
	assert.Contains(t, out, "+0x4")

	out = run(t, "fields", "--all", path, "C")
	assert.Contains(t, out, "Total: 3 fields")
	fieldsAll = false

	out = run(t, "bases", path, "C")
	assert.Contains(t, out, "+4")
	assert.Contains(t, out, "B")
}

func TestEnumAndGlobal(t *testing.T) {
	path := writePDB(t)
	assert.Equal(t, "Green\n", run(t, "enum", path, "Color", "0x2"))

	out := run(t, "global", path, "g_point")
	assert.Contains(t, out, "RVA: 0x00003020")
	assert.Contains(t, out, "Type: Point")
}

func TestParseTag(t *testing.T) {
	tag, err := parseTag("UDT")
	require.NoError(t, err)
	assert.Equal(t, "udt", tag.String())
	_, err = parseTag("unknown")
	assert.Error(t, err)
}
