package engine

import (
	"go.uber.org/zap"

	"github.com/skdltmxn/dbgsym/elfcore"
)

// OpenCore opens a core dump as a process. exe, when set, is the symbol
// file of the dumped executable; other images are looked up along
// opts.SymbolPath and at the paths they were mapped from.
func OpenCore(path, exe string, opts Options) (*Process, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c, err := elfcore.Open(path, elfcore.WithLogger(opts.Logger))
	if err != nil {
		return nil, err
	}
	p, err := FromCore(c, exe, opts)
	if err != nil {
		c.Close()
		return nil, err
	}
	return p, nil
}

// FromCore builds a process over an opened core dump. The process closes c.
func FromCore(c *elfcore.Core, exe string, opts Options) (*Process, error) {
	p, err := NewProcess(c.Arch, c.Memory(), opts)
	if err != nil {
		return nil, err
	}
	p.addCloser(c)
	if err := c.Warnings(); err != nil {
		p.warn(err)
	}
	p.loadImages(c.Modules(), c.ExecPath(), exe)
	for _, t := range c.Threads {
		p.AddThread(t.Pid, t.Context)
	}
	p.log.Debug("core loaded",
		zap.Int("threads", len(c.Threads)),
		zap.Int("modules", len(p.Modules())))
	return p, nil
}
