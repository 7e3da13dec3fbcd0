package memory

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Mapping is one line of /proc/<pid>/maps.
type Mapping struct {
	Segment
	Perms string
	Path  string
}

var mapsLine = regexp.MustCompile(`^([0-9a-f]+)-([0-9a-f]+)\s+([rwxps-]+)\s+([0-9a-f]+)\s+([0-9a-f]+:[0-9a-f]+)\s+(\d+)(?:\s+(.*))?$`)

// ParseMaps reads the mapping table of a process in /proc/<pid>/maps
// format. Lines that do not parse are skipped.
func ParseMaps(r io.Reader) ([]Mapping, error) {
	var out []Mapping
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m := mapsLine.FindStringSubmatch(sc.Text())
		if len(m) < 7 {
			continue
		}
		start, err1 := strconv.ParseUint(m[1], 16, 64)
		end, err2 := strconv.ParseUint(m[2], 16, 64)
		off, err3 := strconv.ParseUint(m[4], 16, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		out = append(out, Mapping{
			Segment: Segment{Start: start, End: end, Offset: off},
			Perms:   m[3],
			Path:    strings.TrimSpace(m[7]),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("memory: failed to read maps: %w", err)
	}
	return out, nil
}

// Readable reports whether the mapping has read permission.
func (m Mapping) Readable() bool { return strings.HasPrefix(m.Perms, "r") }

// Images returns one mapping per file mapped from file offset 0, which is
// where the loader places the image header. End is extended over the later
// mappings of the same file. Anonymous and pseudo mappings such as [stack]
// are dropped.
func Images(maps []Mapping) []Mapping {
	var out []Mapping
	seen := make(map[string]int)
	for _, m := range maps {
		if m.Path == "" || strings.HasPrefix(m.Path, "[") {
			continue
		}
		if i, ok := seen[m.Path]; ok {
			out[i].End = max(out[i].End, m.End)
			continue
		}
		if m.Offset != 0 {
			continue
		}
		seen[m.Path] = len(out)
		out = append(out, m)
	}
	return out
}
