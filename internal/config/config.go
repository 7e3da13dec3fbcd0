// Package config loads dbgview settings from flags, environment variables
// and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/skdltmxn/dbgsym/unwind"
)

// EnvPrefix is prepended to every key read from the environment, with dots
// turned into underscores: DBGSYM_LOG_LEVEL sets log.level.
const EnvPrefix = "DBGSYM"

const (
	KeyLogLevel      = "log.level"
	KeyLogJSON       = "log.json"
	KeyMaxFrames     = "unwind.max_frames"
	KeyTypeCache     = "cache.types"
	KeyPageCache     = "cache.pages"
	KeyVariableCache = "cache.variables"
	KeySymbolPath    = "symbols.path"
)

var ErrInvalid = errors.New("config: invalid value")

type Config struct {
	LogLevel   zapcore.Level
	LogJSON    bool
	MaxFrames  int
	TypeCache  int
	PageCache  int
	Variables  int
	SymbolPath []string
}

// New returns a viper instance carrying the defaults and reading
// DBGSYM_* environment variables.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogJSON, false)
	v.SetDefault(KeyMaxFrames, unwind.DefaultMaxFrames)
	v.SetDefault(KeyTypeCache, 4096)
	v.SetDefault(KeyPageCache, 1024)
	v.SetDefault(KeyVariableCache, 0)
	v.SetDefault(KeySymbolPath, []string{})

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds the flags that override configuration keys.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	bindings := map[string]string{
		KeyLogLevel:   "log-level",
		KeyLogJSON:    "log-json",
		KeyMaxFrames:  "max-frames",
		KeySymbolPath: "symbol-path",
	}
	for key, name := range bindings {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("config: failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

// ReadFile merges the YAML file at path into v.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	return nil
}

// Load reads the settings out of v and checks them.
func Load(v *viper.Viper) (Config, error) {
	level, err := zapcore.ParseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalid, KeyLogLevel, err)
	}
	c := Config{
		LogLevel:   level,
		LogJSON:    v.GetBool(KeyLogJSON),
		MaxFrames:  v.GetInt(KeyMaxFrames),
		TypeCache:  v.GetInt(KeyTypeCache),
		PageCache:  v.GetInt(KeyPageCache),
		Variables:  v.GetInt(KeyVariableCache),
		SymbolPath: splitPath(v.GetStringSlice(KeySymbolPath)),
	}

	positive := map[string]int{KeyMaxFrames: c.MaxFrames, KeyPageCache: c.PageCache}
	for key, n := range positive {
		if n <= 0 {
			return Config{}, fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, key, n)
		}
	}
	nonNegative := map[string]int{KeyTypeCache: c.TypeCache, KeyVariableCache: c.Variables}
	for key, n := range nonNegative {
		if n < 0 {
			return Config{}, fmt.Errorf("%w: %s must not be negative, got %d", ErrInvalid, key, n)
		}
	}
	return c, nil
}

// splitPath accepts both a list and colon separated entries, the form the
// environment variable takes.
func splitPath(entries []string) []string {
	var out []string
	for _, e := range entries {
		for _, dir := range strings.Split(e, ":") {
			if dir = strings.TrimSpace(dir); dir != "" {
				out = append(out, dir)
			}
		}
	}
	return out
}
