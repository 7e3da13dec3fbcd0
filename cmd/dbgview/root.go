package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skdltmxn/dbgsym/engine"
	"github.com/skdltmxn/dbgsym/internal/config"
	"github.com/skdltmxn/dbgsym/internal/logging"
)

var (
	outputFile string
	configFile string
	output     io.Writer

	cfg    config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "dbgview",
	Short: "Debug symbol and core dump viewer",
	Long: `dbgview inspects debugging symbols and the processes they describe.

It reads types, globals and enumerators from PDB files and ELF files with
DWARF, and walks the stacks and frame locals of ELF core dumps.

Settings come from flags, DBGSYM_* environment variables and an optional
YAML file given with --config.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := config.New()
		if err := config.BindFlags(v, cmd.Flags()); err != nil {
			return err
		}
		if configFile != "" {
			if err := config.ReadFile(v, configFile); err != nil {
				return err
			}
		}
		c, err := config.Load(v)
		if err != nil {
			return err
		}
		cfg = c
		l, err := logging.New(cfg.LogLevel, cfg.LogJSON)
		if err != nil {
			return err
		}
		logger = l

		if outputFile != "" {
			f, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			output = f
		} else {
			output = os.Stdout
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if f, ok := output.(*os.File); ok && f != os.Stdout {
			f.Close()
		}
		logger.Sync()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&outputFile, "output", "o", "", "write output to file instead of stdout")
	flags.StringVar(&configFile, "config", "", "read settings from a YAML file")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "log in JSON")
	flags.Int("max-frames", 1024, "stop unwinding after this many frames")
	flags.StringSlice("symbol-path", nil, "directories searched for symbol files")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(fieldsCmd)
	rootCmd.AddCommand(basesCmd)
	rootCmd.AddCommand(enumCmd)
	rootCmd.AddCommand(globalCmd)
	rootCmd.AddCommand(coreCmd)
	rootCmd.AddCommand(stackCmd)
	rootCmd.AddCommand(localsCmd)
}

// engineOptions maps the loaded settings onto the engine.
func engineOptions() engine.Options {
	return engine.Options{
		Logger:     logger,
		MaxFrames:  cfg.MaxFrames,
		TypeCache:  cfg.TypeCache,
		Variables:  cfg.Variables,
		SymbolPath: cfg.SymbolPath,
	}
}
