package pdb

import (
	"encoding/binary"
	"fmt"
)

// SectionHeader is the part of IMAGE_SECTION_HEADER used to map
// section:offset pairs to RVAs.
type SectionHeader struct {
	Name           string
	VirtualSize    uint32
	VirtualAddress uint32
}

// SectionHeaders maps between section:offset and RVA.
type SectionHeaders struct {
	sections []SectionHeader
}

func (sh *SectionHeaders) All() []SectionHeader { return sh.sections }

// ToRVA converts a 1-based section:offset pair. ok is false for a bad
// section number.
func (sh *SectionHeaders) ToRVA(section uint16, offset uint32) (uint32, bool) {
	if section == 0 || int(section) > len(sh.sections) {
		return 0, false
	}
	return sh.sections[section-1].VirtualAddress + offset, true
}

// FindSection returns the 1-based section containing rva.
func (sh *SectionHeaders) FindSection(rva uint32) (section uint16, offset uint32, ok bool) {
	for i, sec := range sh.sections {
		size := max(sec.VirtualSize, 1)
		if rva >= sec.VirtualAddress && rva-sec.VirtualAddress < size {
			return uint16(i + 1), rva - sec.VirtualAddress, true
		}
	}
	return 0, 0, false
}

const sectionHeaderSize = 40

func parseSectionHeaders(data []byte) (*SectionHeaders, error) {
	if len(data)%sectionHeaderSize != 0 {
		return nil, &ParseError{Stream: "section headers", Offset: int64(len(data)), Message: "truncated header"}
	}
	sh := &SectionHeaders{sections: make([]SectionHeader, 0, len(data)/sectionHeaderSize)}
	for off := 0; off < len(data); off += sectionHeaderSize {
		raw := data[off : off+8]
		n := 0
		for n < 8 && raw[n] != 0 {
			n++
		}
		sh.sections = append(sh.sections, SectionHeader{
			Name:           string(raw[:n]),
			VirtualSize:    binary.LittleEndian.Uint32(data[off+8:]),
			VirtualAddress: binary.LittleEndian.Uint32(data[off+12:]),
		})
	}
	return sh, nil
}

// Sections returns the PE section headers stored in the PDB.
func (f *File) Sections() (*SectionHeaders, error) {
	f.sectionsOnce.Do(func() {
		d, err := f.dbi()
		if err != nil {
			f.sectionsErr = err
			return
		}
		idx := d.OptionalDbg.SectionHdrStreamIndex
		if idx == 0xFFFF {
			f.sectionsErr = ErrNoSectionHeaders
			return
		}
		data, err := f.msf.ReadStream(uint32(idx))
		if err != nil {
			f.sectionsErr = fmt.Errorf("pdb: failed to read section header stream: %w", err)
			return
		}
		f.sections, f.sectionsErr = parseSectionHeaders(data)
	})
	return f.sections, f.sectionsErr
}
