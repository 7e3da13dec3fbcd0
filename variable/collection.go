package variable

import (
	"fmt"
	"iter"

	"github.com/skdltmxn/dbgsym/symbol"
)

// Collection is an ordered list of variables, such as the locals of a
// frame. Names may repeat when inner scopes shadow outer ones; lookups by
// name find the innermost, which comes last.
type Collection struct {
	vars []*Variable
}

func NewCollection(vars ...*Variable) *Collection {
	return &Collection{vars: vars}
}

func (c *Collection) Add(v *Variable) { c.vars = append(c.vars, v) }

func (c *Collection) Len() int { return len(c.vars) }

func (c *Collection) At(i int) *Variable { return c.vars[i] }

// Get returns the last variable called name.
func (c *Collection) Get(name string) (*Variable, error) {
	for i := len(c.vars) - 1; i >= 0; i-- {
		if c.vars[i].name == name {
			return c.vars[i], nil
		}
	}
	return nil, fmt.Errorf("%w: variable %s", symbol.ErrNotFound, name)
}

func (c *Collection) Names() []string {
	names := make([]string, len(c.vars))
	for i, v := range c.vars {
		names[i] = v.name
	}
	return names
}

// All yields the variables in order.
func (c *Collection) All() iter.Seq2[int, *Variable] {
	return func(yield func(int, *Variable) bool) {
		for i, v := range c.vars {
			if !yield(i, v) {
				return
			}
		}
	}
}
