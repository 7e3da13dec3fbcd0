package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/skdltmxn/dbgsym/arch"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/symbol"
	"github.com/skdltmxn/dbgsym/symbol/dwarfsym"
	"github.com/skdltmxn/dbgsym/symbol/pdbsym"
)

// Symbols is a provider backed by an open symbol file.
type Symbols interface {
	symbol.Provider
	io.Closer
	Arch() arch.Arch
}

// OpenSymbols opens the symbol file at path: a PDB when the name ends in
// .pdb, an ELF file with DWARF otherwise.
func OpenSymbols(path string, log *zap.Logger) (Symbols, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.EqualFold(filepath.Ext(path), ".pdb") {
		return pdbsym.Open(path, pdbsym.WithLogger(log))
	}
	return dwarfsym.Open(path, dwarfsym.WithLogger(log))
}

// findSymbols locates the symbol file of the image at path. Each directory
// of the search path is tried for "<name>.debug" then "<name>", then the
// image itself.
func findSymbols(path string, dirs []string) (string, error) {
	name := filepath.Base(path)
	var candidates []string
	for _, dir := range dirs {
		candidates = append(candidates, filepath.Join(dir, name+".debug"), filepath.Join(dir, name))
	}
	candidates = append(candidates, path)
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && st.Mode().IsRegular() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: no symbol file for %s", symbol.ErrNotFound, path)
}

// loadImages adds a module for every image whose symbols can be opened.
// The image at execPath reads its symbols from exe when exe is set. Images
// without symbols are recorded as warnings.
func (p *Process) loadImages(images []memory.Mapping, execPath, exe string) {
	for _, img := range images {
		path := ""
		var err error
		if exe != "" && (img.Path == execPath || filepath.Base(img.Path) == filepath.Base(execPath)) {
			path = exe
		} else {
			path, err = findSymbols(img.Path, p.opts.SymbolPath)
		}
		if err == nil {
			err = p.loadImage(img, path)
		}
		if err != nil {
			p.log.Debug("image skipped", zap.String("name", img.Path), zap.Uint64("addr", img.Start), zap.Error(err))
			p.warn(fmt.Errorf("engine: image %s: %w", img.Path, err))
		}
	}
}

func (p *Process) loadImage(img memory.Mapping, path string) error {
	sp, err := OpenSymbols(path, p.log.With(zap.String("module", filepath.Base(img.Path))))
	if err != nil {
		return err
	}
	if sp.Arch() != p.arch {
		sp.Close()
		return fmt.Errorf("%w: %s symbols for an %s process", symbol.ErrUnsupportedFormat, sp.Arch(), p.arch)
	}
	desc := &symbol.Module{
		Name:       filepath.Base(img.Path),
		Base:       img.Start,
		Size:       img.End - img.Start,
		PtrSize:    p.arch.PtrSize(),
		SymbolPath: path,
		Arch:       p.arch,
	}
	p.AddModule(desc, sp)
	return nil
}

func (p *Process) addCloser(c io.Closer) {
	p.mu.Lock()
	p.closers = append(p.closers, c)
	p.mu.Unlock()
}
