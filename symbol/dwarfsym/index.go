package dwarfsym

import (
	"debug/dwarf"
	"fmt"
	"sort"

	"github.com/skdltmxn/dbgsym/symbol"
)

// node is one DIE with its place in the tree.
type node struct {
	*dwarf.Entry
	parent   *node
	children []*node
	qname    string
}

func (n *node) name() string {
	s, _ := n.Val(dwarf.AttrName).(string)
	return s
}

func (n *node) isDecl() bool {
	b, _ := n.Val(dwarf.AttrDeclaration).(bool)
	return b
}

func (n *node) ref(attr dwarf.Attr) (dwarf.Offset, bool) {
	off, ok := n.Val(attr).(dwarf.Offset)
	return off, ok
}

func (n *node) num(attr dwarf.Attr) (int64, bool) {
	switch v := n.Val(attr).(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	}
	return 0, false
}

func (n *node) expr(attr dwarf.Attr) []byte {
	f := n.AttrField(attr)
	if f == nil || f.Class != dwarf.ClassExprLoc {
		return nil
	}
	b, _ := f.Val.([]byte)
	return b
}

type funcRange struct {
	low, high uint64
	node      *node
}

type index struct {
	nodes   map[dwarf.Offset]*node
	types   map[string]*node
	globals map[string]*node
	funcs   []funcRange
	// derived types have no name of their own and are found by their
	// rendered name
	derived []*node
}

func isScope(t dwarf.Tag) bool {
	switch t {
	case dwarf.TagNamespace, dwarf.TagStructType, dwarf.TagClassType, dwarf.TagUnionType:
		return true
	}
	return false
}

func qualify(n *node) string {
	name := n.name()
	if name == "" {
		if n.Tag != dwarf.TagNamespace {
			return ""
		}
		name = "(anonymous namespace)"
	}
	if n.parent != nil && isScope(n.parent.Tag) && n.parent.qname != "" {
		return n.parent.qname + "::" + name
	}
	return name
}

func buildIndex(d *dwarf.Data) (*index, error) {
	idx := &index{
		nodes:   make(map[dwarf.Offset]*node),
		types:   make(map[string]*node),
		globals: make(map[string]*node),
	}

	var (
		stack []*node
		specs []*node
	)
	r := d.Reader()
	for {
		e, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", symbol.ErrCorruptData, err)
		}
		if e == nil {
			break
		}
		if e.Tag == 0 {
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}

		n := &node{Entry: e}
		if len(stack) > 0 {
			n.parent = stack[len(stack)-1]
			n.parent.children = append(n.parent.children, n)
		}
		n.qname = qualify(n)
		idx.nodes[e.Offset] = n
		if _, ok := n.ref(dwarf.AttrSpecification); ok {
			specs = append(specs, n)
		} else if _, ok := n.ref(dwarf.AttrAbstractOrigin); ok && n.qname == "" {
			specs = append(specs, n)
		}
		idx.add(d, n)
		if e.Children {
			stack = append(stack, n)
		}
	}

	// out-of-line definitions take the name of their declaration
	for _, n := range specs {
		decl, ok := n.ref(dwarf.AttrSpecification)
		if !ok {
			decl, _ = n.ref(dwarf.AttrAbstractOrigin)
		}
		if dn, ok := idx.nodes[decl]; ok {
			n.qname = dn.qname
			if n.Tag != dwarf.TagSubprogram {
				idx.add(d, n)
			}
		}
	}

	sort.Slice(idx.funcs, func(i, j int) bool { return idx.funcs[i].low < idx.funcs[j].low })
	return idx, nil
}

func (idx *index) add(d *dwarf.Data, n *node) {
	switch n.Tag {
	case dwarf.TagBaseType, dwarf.TagStructType, dwarf.TagClassType, dwarf.TagUnionType,
		dwarf.TagEnumerationType, dwarf.TagTypedef, dwarf.TagUnspecifiedType:
		if n.qname == "" {
			return
		}
		if old, ok := idx.types[n.qname]; !ok || (old.isDecl() && !n.isDecl()) {
			idx.types[n.qname] = n
		}

	case dwarf.TagPointerType, dwarf.TagReferenceType, dwarf.TagRvalueReferenceType,
		dwarf.TagArrayType, dwarf.TagConstType, dwarf.TagVolatileType:
		idx.derived = append(idx.derived, n)

	case dwarf.TagVariable:
		if n.qname == "" || n.AttrField(dwarf.AttrLocation) == nil || !globalScope(n) {
			return
		}
		idx.globals[n.qname] = n

	case dwarf.TagSubprogram:
		ranges, err := d.Ranges(n.Entry)
		if err != nil {
			return
		}
		for _, rg := range ranges {
			if rg[0] < rg[1] {
				idx.funcs = append(idx.funcs, funcRange{low: rg[0], high: rg[1], node: n})
			}
		}
	}
}

func globalScope(n *node) bool {
	return n.parent == nil || n.parent.Tag == dwarf.TagCompileUnit || n.parent.Tag == dwarf.TagNamespace
}

// function returns the subprogram containing the link-time address pc.
func (idx *index) function(pc uint64) (funcRange, bool) {
	i := sort.Search(len(idx.funcs), func(i int) bool { return idx.funcs[i].low > pc }) - 1
	if i < 0 || pc >= idx.funcs[i].high {
		return funcRange{}, false
	}
	return idx.funcs[i], true
}
