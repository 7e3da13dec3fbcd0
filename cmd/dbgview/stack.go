package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skdltmxn/dbgsym/engine"
)

var (
	stackExe    string
	stackThread int
)

var stackCmd = &cobra.Command{
	Use:   "stack <core-file>",
	Short: "Print the stack traces of a core dump",
	Long: `Print the stack trace of every thread of an ELF core dump.

Symbols of the executable are read from --exe when given; the other images
are looked up along the symbol path and where they were mapped from.`,
	Args: cobra.ExactArgs(1),
	RunE: runStack,
}

func init() {
	stackCmd.Flags().StringVarP(&stackExe, "exe", "e", "", "symbol file of the dumped executable")
	stackCmd.Flags().IntVarP(&stackThread, "thread", "t", 0, "only show this thread (0 = all)")
}

func runStack(cmd *cobra.Command, args []string) error {
	p, err := engine.OpenCore(args[0], stackExe, engineOptions())
	if err != nil {
		return fmt.Errorf("failed to open core: %w", err)
	}
	defer p.Close()
	return printStacks(p, stackThread)
}

func printStacks(p *engine.Process, only int) error {
	threads := p.Threads()
	if only != 0 {
		t, err := p.Thread(only)
		if err != nil {
			return err
		}
		threads = []*engine.Thread{t}
	}

	for i, t := range threads {
		if i > 0 {
			fmt.Fprintln(output)
		}
		fmt.Fprintf(output, "Thread %d:\n", t.ID())
		frames, err := t.StackTrace()
		for _, f := range frames {
			fmt.Fprintf(output, "  %s\n", f)
		}
		if err != nil {
			fmt.Fprintf(output, "  Warning: %v\n", err)
		}
	}

	if err := p.Warnings(); err != nil {
		fmt.Fprintf(output, "\nWarning: %v\n", err)
	}
	return nil
}
