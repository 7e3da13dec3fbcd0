package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skdltmxn/dbgsym/codetype"
	"github.com/skdltmxn/dbgsym/symbol"
)

var (
	typesKind  string
	typesLimit int
)

var typesCmd = &cobra.Command{
	Use:   "types <symbol-file>",
	Short: "List named types in a symbol file",
	Long: `List the named types of a PDB file or an ELF file with DWARF.

Use --kind to filter by type kind (builtin, udt, pointer, array, enum, function).`,
	Args: cobra.ExactArgs(1),
	RunE: runTypes,
}

func init() {
	typesCmd.Flags().StringVarP(&typesKind, "kind", "k", "", "filter by type kind (builtin, udt, pointer, array, enum, function)")
	typesCmd.Flags().IntVarP(&typesLimit, "limit", "n", 0, "limit number of types shown (0 = unlimited)")
}

type typeLister interface {
	TypeNames() ([]string, error)
}

func runTypes(cmd *cobra.Command, args []string) error {
	f, err := openSymbolFile(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	var kindFilter symbol.Tag
	if typesKind != "" {
		kindFilter, err = parseTag(typesKind)
		if err != nil {
			return err
		}
	}

	lister, ok := f.syms.(typeLister)
	if !ok {
		return fmt.Errorf("%s cannot list its types", args[0])
	}
	names, err := lister.TypeNames()
	if err != nil {
		return fmt.Errorf("failed to get types: %w", err)
	}

	fmt.Fprintf(output, "%-10s %-10s %-8s %s\n", "ID", "KIND", "SIZE", "NAME")
	fmt.Fprintf(output, "%s\n", strings.Repeat("-", 80))

	count := 0
	for _, name := range names {
		t, err := f.mod.TypeByName(name)
		if err != nil {
			logger.Debug("type skipped", zap.String("name", name), zap.Error(err))
			continue
		}
		if kindFilter != symbol.TagUnknown && t.Tag() != kindFilter {
			continue
		}

		printType(t)
		count++
		if typesLimit > 0 && count >= typesLimit {
			break
		}
	}

	fmt.Fprintf(output, "\nTotal: %d types\n", count)
	return nil
}

func parseTag(kind string) (symbol.Tag, error) {
	for tag := symbol.TagBuiltin; tag <= symbol.TagFunction; tag++ {
		if strings.EqualFold(tag.String(), kind) {
			return tag, nil
		}
	}
	return symbol.TagUnknown, fmt.Errorf("unknown type kind: %s", kind)
}

func printType(t *codetype.CodeType) {
	sizeStr := "-"
	if t.Size() > 0 {
		sizeStr = fmt.Sprintf("%d", t.Size())
	}
	fmt.Fprintf(output, "%#-10x %-10s %-8s %s\n", uint64(t.ID()), t.Tag(), sizeStr, t.Name())
}
