package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skdltmxn/dbgsym/codetype"
)

var fieldsAll bool

var fieldsCmd = &cobra.Command{
	Use:   "fields <symbol-file> <type>",
	Short: "List the data members of a type",
	Long: `List the data members of a user-defined type with their offsets and types.

Use --all to include the members inherited from base classes.`,
	Args: cobra.ExactArgs(2),
	RunE: runFields,
}

var basesCmd = &cobra.Command{
	Use:   "bases <symbol-file> <type>",
	Short: "List the direct base classes of a type",
	Args:  cobra.ExactArgs(2),
	RunE:  runBases,
}

func init() {
	fieldsCmd.Flags().BoolVarP(&fieldsAll, "all", "a", false, "include inherited members")
}

func lookupType(f *symbolFile, name string) (*codetype.CodeType, error) {
	t, err := codetype.Create(name, f.mod)
	if err != nil {
		return nil, fmt.Errorf("type not found: %w", err)
	}
	return t, nil
}

func runFields(cmd *cobra.Command, args []string) error {
	f, err := openSymbolFile(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	t, err := lookupType(f, args[1])
	if err != nil {
		return err
	}

	if fieldsAll {
		names, err := t.AllFieldNames()
		if err != nil {
			return fmt.Errorf("failed to get fields: %w", err)
		}
		for _, name := range names {
			fmt.Fprintln(output, name)
		}
		fmt.Fprintf(output, "\nTotal: %d fields\n", len(names))
		return nil
	}

	names, err := t.FieldNames()
	if err != nil {
		return fmt.Errorf("failed to get fields: %w", err)
	}
	fmt.Fprintf(output, "%s (size %d)\n", t.Name(), t.Size())
	fmt.Fprintf(output, "%-8s %-30s %s\n", "OFFSET", "TYPE", "NAME")
	fmt.Fprintf(output, "%s\n", strings.Repeat("-", 80))
	for _, name := range names {
		field, err := t.Field(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(output, "+%#-7x %-30s %s\n", field.Offset, f.typeName(field.Type), name)
	}
	return nil
}

func runBases(cmd *cobra.Command, args []string) error {
	f, err := openSymbolFile(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	t, err := lookupType(f, args[1])
	if err != nil {
		return err
	}
	names, err := t.BaseClassNames()
	if err != nil {
		return fmt.Errorf("failed to get base classes: %w", err)
	}
	if len(names) == 0 {
		fmt.Fprintf(output, "%s has no base classes\n", t.Name())
		return nil
	}
	for _, name := range names {
		b, err := t.DirectBaseClass(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(output, "%-10s %s\n", b.Offset, name)
	}
	return nil
}
