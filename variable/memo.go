package variable

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/skdltmxn/dbgsym/codetype"
	"github.com/skdltmxn/dbgsym/memory"
	"github.com/skdltmxn/dbgsym/symbol"
)

type memoKey struct {
	module *codetype.Module
	typ    symbol.TypeID
	addr   uint64
}

// Memo remembers the variables recently created at an address with a
// type, evicting the least recently used.
type Memo struct {
	vars *lru.Cache[memoKey, *Variable]
}

func NewMemo(size int) (*Memo, error) {
	c, err := lru.New[memoKey, *Variable](size)
	if err != nil {
		return nil, err
	}
	return &Memo{vars: c}, nil
}

// Variable returns the variable of type t at addr, creating it on a miss.
// Memory readers are not part of the key.
func (m *Memo) Variable(t *codetype.CodeType, mem memory.Reader, addr uint64, name string) *Variable {
	k := memoKey{t.Module(), t.ID(), addr}
	if v, ok := m.vars.Get(k); ok {
		if v.name != name {
			return v.Rename(name)
		}
		return v
	}
	v := New(t, mem, addr, name)
	m.vars.Add(k, v)
	return v
}

func (m *Memo) Len() int { return m.vars.Len() }

func (m *Memo) Purge() { m.vars.Purge() }
