package symbols

import (
	"sort"
)

// Public is one S_PUB32 entry of the address index.
type Public struct {
	Section uint16
	Offset  uint32
	Flags   PublicSymFlags
	Name    string
}

// Index is built by scanning the global symbol record stream once. It
// replaces the on-disk GSI/PSI hash tables, which only ever point back
// into the same records.
type Index struct {
	publics []Public // sorted by section, then offset
	byName  map[string][]int
	data    []byte
}

// NewIndex scans every record in the symbol record stream.
func NewIndex(data []byte) (*Index, error) {
	idx := &Index{byName: make(map[string][]int), data: data}
	it := NewSymbolIterator(data)
	for {
		off := it.Offset()
		rec, err := it.Next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		if rec.Kind == S_PUB32 {
			p, err := ParsePublicSym32(rec.Data)
			if err != nil {
				return nil, err
			}
			idx.publics = append(idx.publics, Public{Section: p.Segment, Offset: p.Offset, Flags: p.Flags, Name: p.Name})
		}
		if name := SymbolName(rec); name != "" {
			idx.byName[name] = append(idx.byName[name], off)
		}
	}

	sort.Slice(idx.publics, func(i, j int) bool {
		a, b := idx.publics[i], idx.publics[j]
		if a.Section != b.Section {
			return a.Section < b.Section
		}
		return a.Offset < b.Offset
	})
	return idx, nil
}

// FindByAddress returns the public at or before section:offset in the same
// section, and whether it is an exact hit.
func (idx *Index) FindByAddress(section uint16, offset uint32) (p Public, exact, found bool) {
	i := sort.Search(len(idx.publics), func(i int) bool {
		e := idx.publics[i]
		if e.Section != section {
			return e.Section > section
		}
		return e.Offset > offset
	})
	if i == 0 || idx.publics[i-1].Section != section {
		return Public{}, false, false
	}
	p = idx.publics[i-1]
	return p, p.Offset == offset, true
}

// FindByName returns every record carrying name.
func (idx *Index) FindByName(name string) []*SymbolRecord {
	var out []*SymbolRecord
	for _, off := range idx.byName[name] {
		if rec, _, err := ParseSymbolRecord(idx.data[off:]); err == nil {
			out = append(out, rec)
		}
	}
	return out
}

// Publics returns the address-sorted public symbols.
func (idx *Index) Publics() []Public { return idx.publics }
