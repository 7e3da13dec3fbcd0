package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var enumCmd = &cobra.Command{
	Use:   "enum <symbol-file> <type> <value>",
	Short: "Name the enumerator of an enum type with a value",
	Long: `Name the enumerator of an enum type with a value.

The value may be decimal, or hexadecimal with a 0x prefix.`,
	Args: cobra.ExactArgs(3),
	RunE: runEnum,
}

func runEnum(cmd *cobra.Command, args []string) error {
	value, err := strconv.ParseUint(args[2], 0, 64)
	if err != nil {
		n, serr := strconv.ParseInt(args[2], 0, 64)
		if serr != nil {
			return fmt.Errorf("invalid value: %s", args[2])
		}
		value = uint64(n)
	}

	f, err := openSymbolFile(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	t, err := lookupType(f, args[1])
	if err != nil {
		return err
	}
	name, err := t.EnumName(value)
	if err != nil {
		return err
	}
	fmt.Fprintln(output, name)
	return nil
}
