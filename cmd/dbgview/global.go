package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var globalCmd = &cobra.Command{
	Use:   "global <symbol-file> <name>",
	Short: "Show the address and type of a global variable",
	Long: `Show the address and type of a global variable.

The address is relative to the image base.`,
	Args: cobra.ExactArgs(2),
	RunE: runGlobal,
}

func runGlobal(cmd *cobra.Command, args []string) error {
	f, err := openSymbolFile(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	addr, t, err := f.mod.GlobalVariable(args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "Name: %s\n", args[1])
	fmt.Fprintf(output, "RVA: 0x%08X\n", addr)
	fmt.Fprintf(output, "Type: %s\n", t.Name())
	fmt.Fprintf(output, "Size: %d\n", t.Size())
	return nil
}
