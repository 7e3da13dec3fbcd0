package memory

import (
	"fmt"
	"slices"
	"sort"
)

// Segment is one contiguous mapped range [Start, End) whose bytes start at
// Offset in the backing file.
type Segment struct {
	Start  uint64
	End    uint64
	Offset uint64
}

func (s Segment) String() string {
	return fmt.Sprintf("Segment{start:%#x, end:%#x, offset:%#x}", s.Start, s.End, s.Offset)
}

func (s Segment) Len() uint64 { return s.End - s.Start }

func (s Segment) Contains(addr uint64) bool {
	return s.Start <= addr && addr < s.End
}

// ContainsRange reports whether [addr, addr+size) lies within s.
func (s Segment) ContainsRange(addr, size uint64) bool {
	return s.Contains(addr) && (size == 0 || (addr+size-1 >= addr && s.Contains(addr+size-1)))
}

// Segments is a list of non-overlapping segments sorted by start address.
type Segments []Segment

// NewSegments sorts segs and rejects overlapping or empty ranges.
func NewSegments(segs []Segment) (Segments, error) {
	ss := slices.Clone(segs)
	slices.SortFunc(ss, func(a, b Segment) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	for i, s := range ss {
		if s.End <= s.Start {
			return nil, fmt.Errorf("memory: empty segment %v", s)
		}
		if i > 0 && ss[i-1].End > s.Start {
			return nil, fmt.Errorf("memory: segment %v overlaps %v", s, ss[i-1])
		}
	}
	return ss, nil
}

// Find returns the segment containing addr.
func (ss Segments) Find(addr uint64) (Segment, bool) {
	// upper-bound search, then check the previous segment
	k := sort.Search(len(ss), func(k int) bool {
		return addr < ss[k].Start
	})
	k--
	if k >= 0 && ss[k].Contains(addr) {
		return ss[k], true
	}
	return Segment{}, false
}
