//go:build linux && amd64

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/skdltmxn/dbgsym/engine"
)

var attachLocals bool

var attachCmd = &cobra.Command{
	Use:   "attach <pid>",
	Short: "Print the stack of a running process",
	Long: `Stop a running process under ptrace, print the stack of its main thread
and detach. Use --locals to print the locals of the innermost frame too.`,
	Args: cobra.ExactArgs(1),
	RunE: runAttach,
}

func init() {
	attachCmd.Flags().BoolVarP(&attachLocals, "locals", "l", false, "print the locals of the innermost frame")
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid pid: %s", args[0])
	}
	p, err := engine.Attach(pid, cfg.PageCache, engineOptions())
	if err != nil {
		return fmt.Errorf("failed to attach: %w", err)
	}
	defer p.Close()

	if err := printStacks(p, 0); err != nil {
		return err
	}
	if attachLocals {
		fmt.Fprintln(output)
		return printLocals(p, pid, 0)
	}
	return nil
}
