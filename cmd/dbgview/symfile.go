package main

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/skdltmxn/dbgsym/codetype"
	"github.com/skdltmxn/dbgsym/engine"
	"github.com/skdltmxn/dbgsym/symbol"
)

// symbolFile is a symbol file loaded on its own, at base 0, so addresses
// are relative to the image.
type symbolFile struct {
	syms engine.Symbols
	mod  *codetype.Module
}

func openSymbolFile(path string) (*symbolFile, error) {
	syms, err := engine.OpenSymbols(path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open symbols: %w", err)
	}
	name := filepath.Base(path)
	desc := &symbol.Module{
		Name:       name,
		Size:       ^uint64(0),
		PtrSize:    syms.Arch().PtrSize(),
		SymbolPath: path,
		Arch:       syms.Arch(),
	}
	mod := codetype.NewModule(desc, syms,
		codetype.WithCache(codetype.NewCache(cfg.TypeCache)),
		codetype.WithLogger(logger.With(zap.String("module", name))))
	return &symbolFile{syms: syms, mod: mod}, nil
}

func (f *symbolFile) Close() error {
	f.mod.Close()
	return f.syms.Close()
}

// typeName renders a type id for listings, falling back to the raw id.
func (f *symbolFile) typeName(id symbol.TypeID) string {
	t, err := f.mod.TypeByID(id)
	if err != nil {
		return fmt.Sprintf("<type %#x>", uint64(id))
	}
	return t.Name()
}
