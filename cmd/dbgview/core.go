package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skdltmxn/dbgsym/elfcore"
)

var coreRegs bool

var coreCmd = &cobra.Command{
	Use:   "core <core-file>",
	Short: "Describe an ELF core dump",
	Long: `Describe an ELF core dump: the dumped process, its threads, the files
mapped into it and its auxiliary vector.

Use --regs to print the general purpose registers of every thread.`,
	Args: cobra.ExactArgs(1),
	RunE: runCore,
}

func init() {
	coreCmd.Flags().BoolVarP(&coreRegs, "regs", "r", false, "show thread registers")
}

func runCore(cmd *cobra.Command, args []string) error {
	c, err := elfcore.Open(args[0], elfcore.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open core: %w", err)
	}
	defer c.Close()

	fmt.Fprintf(output, "Core File: %s\n", args[0])
	fmt.Fprintf(output, "Architecture: %s\n", c.Arch)
	if p := c.Process; p != nil {
		fmt.Fprintf(output, "Process: %d (%s)\n", p.Pid, p.Name)
		fmt.Fprintf(output, "Parent: %d\n", p.Ppid)
		fmt.Fprintf(output, "Command Line: %s\n", p.Args)
	}
	if exe := c.ExecPath(); exe != "" {
		fmt.Fprintf(output, "Executable: %s\n", exe)
	}
	if s := c.Signal; s != nil {
		fmt.Fprintf(output, "Signal: %d (code %d, address 0x%X)\n", s.Signo, s.Code, s.Addr)
	}

	fmt.Fprintf(output, "\n%-8s %-6s %-18s %s\n", "TID", "SIGNAL", "PC", "SP")
	fmt.Fprintf(output, "%s\n", strings.Repeat("-", 60))
	for _, t := range c.Threads {
		fmt.Fprintf(output, "%-8d %-6d 0x%016X 0x%016X\n", t.Pid, t.Signal, t.Context.PC(), t.Context.SP())
		if coreRegs {
			for _, r := range t.Regs {
				fmt.Fprintf(output, "    %-8s 0x%016X\n", r.Name, r.Value)
			}
		}
	}

	fmt.Fprintf(output, "\n%-18s %-18s %-5s %-10s %s\n", "START", "END", "PERMS", "OFFSET", "PATH")
	fmt.Fprintf(output, "%s\n", strings.Repeat("-", 100))
	for _, m := range c.Files {
		fmt.Fprintf(output, "0x%016X 0x%016X %-5s 0x%08X %s\n", m.Start, m.End, m.Perms, m.Offset, m.Path)
	}

	if len(c.Auxv) > 0 {
		fmt.Fprintf(output, "\nAuxiliary Vector:\n")
		for _, a := range c.Auxv {
			fmt.Fprintf(output, "  %-16s 0x%X\n", a.Type, a.Value)
		}
	}

	if err := c.Warnings(); err != nil {
		fmt.Fprintf(output, "\nWarning: %v\n", err)
	}
	return nil
}
