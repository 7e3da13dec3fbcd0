package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestDefaults(t *testing.T) {
	c, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, c.LogLevel)
	assert.False(t, c.LogJSON)
	assert.Equal(t, 1024, c.MaxFrames)
	assert.Equal(t, 1024, c.PageCache)
	assert.Zero(t, c.Variables)
	assert.Empty(t, c.SymbolPath)
}

func TestEnvironment(t *testing.T) {
	t.Setenv("DBGSYM_LOG_LEVEL", "debug")
	t.Setenv("DBGSYM_UNWIND_MAX_FRAMES", "64")
	t.Setenv("DBGSYM_SYMBOLS_PATH", "/usr/lib/debug:/opt/syms")

	c, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, c.LogLevel)
	assert.Equal(t, 64, c.MaxFrames)
	assert.Equal(t, []string{"/usr/lib/debug", "/opt/syms"}, c.SymbolPath)
}

func TestFlagsOverride(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "", "")
	flags.Int("max-frames", 0, "")
	flags.StringSlice("symbol-path", nil, "")
	require.NoError(t, flags.Parse([]string{"--log-level=error", "--max-frames=8", "--symbol-path=/a,/b"}))

	v := New()
	require.NoError(t, BindFlags(v, flags))
	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, zapcore.ErrorLevel, c.LogLevel)
	assert.Equal(t, 8, c.MaxFrames)
	assert.Equal(t, []string{"/a", "/b"}, c.SymbolPath)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dbgsym.yaml")
	data := `log:
  level: info
  json: true
cache:
  types: 16
  variables: 32
symbols:
  path:
    - /srv/symbols
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	v := New()
	require.NoError(t, ReadFile(v, path))
	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, c.LogLevel)
	assert.True(t, c.LogJSON)
	assert.Equal(t, 16, c.TypeCache)
	assert.Equal(t, 32, c.Variables)
	assert.Equal(t, []string{"/srv/symbols"}, c.SymbolPath)

	assert.Error(t, ReadFile(New(), filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		key   string
		value any
	}{
		{KeyLogLevel, "loud"},
		{KeyMaxFrames, 0},
		{KeyPageCache, -1},
		{KeyTypeCache, -5},
		{KeyVariableCache, -1},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			v := New()
			v.Set(tt.key, tt.value)
			_, err := Load(v)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}
