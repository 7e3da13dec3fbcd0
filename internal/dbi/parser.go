// Package dbi parses the DBI (debug information) stream of a PDB.
package dbi

import (
	"errors"
	"fmt"
	"sort"

	"github.com/skdltmxn/dbgsym/internal/stream"
)

const (
	DBIVersionV70  uint32 = 19990903
	DBIVersionV110 uint32 = 20091201
)

const HeaderSize = 64

// Machine types.
const (
	MachineUnknown uint16 = 0x0000
	MachineI386    uint16 = 0x014c
	MachineAMD64   uint16 = 0x8664
)

const InvalidStreamIndex uint16 = 0xFFFF

const (
	sectionContribVer60 uint32 = 0xF13151F5
	sectionContribV2    uint32 = 0xF12EBA2D
)

var (
	ErrInvalidHeader   = errors.New("dbi: invalid DBI header")
	ErrTruncatedStream = errors.New("dbi: truncated stream")
)

// Header is the fixed DBI header. Substream sizes are kept to locate the
// parts this package parses.
type Header struct {
	VersionSignature     int32
	VersionHeader        uint32
	Age                  uint32
	GlobalStreamIndex    uint16
	PublicStreamIndex    uint16
	SymRecordStreamIndex uint16
	ModInfoSize          int32
	SectionContribSize   int32
	SectionMapSize       int32
	SourceInfoSize       int32
	TypeServerMapSize    int32
	MFCTypeServerIndex   uint32
	OptionalDbgSize      int32
	ECSize               int32
	Flags                uint16
	Machine              uint16
}

// ModuleInfo describes one compilation unit.
type ModuleInfo struct {
	Index                int
	Section              SectionContribution
	ModuleSymStreamIndex uint16
	SymByteSize          uint32
	ModuleName           string
	ObjFileName          string
}

// HasSymbols reports whether the module carries a symbol stream.
func (m *ModuleInfo) HasSymbols() bool {
	return m.ModuleSymStreamIndex != InvalidStreamIndex && m.SymByteSize > 0
}

// SectionContribution is a range of a PE section owned by one module.
type SectionContribution struct {
	Section         uint16
	Offset          int32
	Size            int32
	Characteristics uint32
	ModuleIndex     uint16
}

// OptionalDbgHeader holds the stream indices of optional debug streams.
type OptionalDbgHeader struct {
	FPOStreamIndex        uint16
	SectionHdrStreamIndex uint16
	NewFPOStreamIndex     uint16
}

// Stream is a parsed DBI stream.
type Stream struct {
	Header        Header
	Modules       []ModuleInfo
	Contributions []SectionContribution // sorted by section, then offset
	OptionalDbg   OptionalDbgHeader
}

// ParseStream parses a DBI stream.
func ParseStream(data []byte) (*Stream, error) {
	if len(data) < HeaderSize {
		return nil, ErrInvalidHeader
	}
	s := &Stream{}
	if err := s.parseHeader(data); err != nil {
		return nil, err
	}

	sizes := []int32{
		s.Header.ModInfoSize,
		s.Header.SectionContribSize,
		s.Header.SectionMapSize,
		s.Header.SourceInfoSize,
		s.Header.TypeServerMapSize,
		s.Header.ECSize,
		s.Header.OptionalDbgSize,
	}
	parts := make([][]byte, len(sizes))
	off := HeaderSize
	for i, n := range sizes {
		if n < 0 || off+int(n) > len(data) {
			return nil, fmt.Errorf("%w: substream %d", ErrTruncatedStream, i)
		}
		parts[i] = data[off : off+int(n)]
		off += int(n)
	}

	if err := s.parseModuleInfo(parts[0]); err != nil {
		return nil, fmt.Errorf("dbi: failed to parse module info: %w", err)
	}
	if err := s.parseSectionContributions(parts[1]); err != nil {
		return nil, fmt.Errorf("dbi: failed to parse section contributions: %w", err)
	}
	s.parseOptionalDbgHeader(parts[6])
	return s, nil
}

func (s *Stream) parseHeader(data []byte) error {
	d := stream.NewDecoder(data)
	h := &s.Header
	h.VersionSignature = d.I32()
	h.VersionHeader = d.U32()
	h.Age = d.U32()
	h.GlobalStreamIndex = d.U16()
	d.U16() // build number
	h.PublicStreamIndex = d.U16()
	d.U16() // pdb dll version
	h.SymRecordStreamIndex = d.U16()
	d.U16() // pdb dll rebuild
	h.ModInfoSize = d.I32()
	h.SectionContribSize = d.I32()
	h.SectionMapSize = d.I32()
	h.SourceInfoSize = d.I32()
	h.TypeServerMapSize = d.I32()
	h.MFCTypeServerIndex = d.U32()
	h.OptionalDbgSize = d.I32()
	h.ECSize = d.I32()
	h.Flags = d.U16()
	h.Machine = d.U16()
	if err := d.Err(); err != nil {
		return err
	}
	if h.VersionSignature != -1 {
		return fmt.Errorf("%w: signature %d", ErrInvalidHeader, h.VersionSignature)
	}
	return nil
}

func parseContribution(d *stream.Decoder) SectionContribution {
	c := SectionContribution{Section: d.U16()}
	d.U16()
	c.Offset = d.I32()
	c.Size = d.I32()
	c.Characteristics = d.U32()
	c.ModuleIndex = d.U16()
	d.U16()
	d.U32() // data crc
	d.U32() // reloc crc
	return c
}

func (s *Stream) parseModuleInfo(data []byte) error {
	r := stream.NewReader(data)
	for r.Remaining() > 0 {
		d := stream.DecoderFor(r)
		d.U32() // opened
		mod := ModuleInfo{Index: len(s.Modules), Section: parseContribution(d)}
		d.U16() // flags
		mod.ModuleSymStreamIndex = d.U16()
		mod.SymByteSize = d.U32()
		d.Skip(8 + 4 + 4 + 4 + 4) // line info sizes, file count, unused, name indices
		mod.ModuleName = d.CString()
		mod.ObjFileName = d.CString()
		if err := d.Err(); err != nil {
			return err
		}
		r.Align(4)
		s.Modules = append(s.Modules, mod)
	}
	return nil
}

func (s *Stream) parseSectionContributions(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	r := stream.NewReader(data)
	ver, err := r.U32()
	if err != nil {
		return err
	}
	extra := 0
	switch ver {
	case sectionContribVer60:
	case sectionContribV2:
		extra = 4
	default:
		return fmt.Errorf("unknown version %#x", ver)
	}
	for r.Remaining() >= 28+extra {
		d := stream.DecoderFor(r)
		c := parseContribution(d)
		d.Skip(extra)
		if err := d.Err(); err != nil {
			return err
		}
		s.Contributions = append(s.Contributions, c)
	}
	sort.Slice(s.Contributions, func(i, j int) bool {
		a, b := s.Contributions[i], s.Contributions[j]
		if a.Section != b.Section {
			return a.Section < b.Section
		}
		return a.Offset < b.Offset
	})
	return nil
}

func (s *Stream) parseOptionalDbgHeader(data []byte) {
	s.OptionalDbg = OptionalDbgHeader{
		FPOStreamIndex:        InvalidStreamIndex,
		SectionHdrStreamIndex: InvalidStreamIndex,
		NewFPOStreamIndex:     InvalidStreamIndex,
	}
	r := stream.NewReader(data)
	for i := 0; r.Remaining() >= 2; i++ {
		v, _ := r.U16()
		switch i {
		case 0:
			s.OptionalDbg.FPOStreamIndex = v
		case 5:
			s.OptionalDbg.SectionHdrStreamIndex = v
		case 9:
			s.OptionalDbg.NewFPOStreamIndex = v
		}
	}
}

// ModuleForAddress returns the module owning section:offset according to
// the section contributions.
func (s *Stream) ModuleForAddress(section uint16, offset uint32) (*ModuleInfo, bool) {
	i := sort.Search(len(s.Contributions), func(i int) bool {
		c := s.Contributions[i]
		if c.Section != section {
			return c.Section > section
		}
		return int64(c.Offset) > int64(offset)
	})
	if i == 0 {
		return nil, false
	}
	c := s.Contributions[i-1]
	if c.Section != section || int64(offset) >= int64(c.Offset)+int64(c.Size) {
		return nil, false
	}
	if int(c.ModuleIndex) >= len(s.Modules) {
		return nil, false
	}
	return &s.Modules[c.ModuleIndex], true
}
