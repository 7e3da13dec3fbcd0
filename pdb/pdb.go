package pdb

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/skdltmxn/dbgsym/internal/dbi"
	"github.com/skdltmxn/dbgsym/internal/symbols"
	"github.com/skdltmxn/dbgsym/internal/tpi"
	"github.com/skdltmxn/dbgsym/msf"
)

// File is an opened PDB. It is safe for concurrent readers; every stream
// is parsed on first use.
type File struct {
	msf *msf.File

	info     *Info
	infoOnce sync.Once
	infoErr  error

	tpiStream *tpi.Stream
	tpiOnce   sync.Once
	tpiErr    error

	dbiStream *dbi.Stream
	dbiOnce   sync.Once
	dbiErr    error

	types     *TypeTable
	typesOnce sync.Once

	index     *symbols.Index
	indexOnce sync.Once
	indexErr  error

	sections     *SectionHeaders
	sectionsOnce sync.Once
	sectionsErr  error

	moduleStreams sync.Map // uint16 -> []byte
}

// Info is the PDB info stream header.
type Info struct {
	Version   uint32
	Signature uint32
	Age       uint32
	GUID      [16]byte
}

// Open opens a PDB file from disk.
func Open(path string) (*File, error) {
	m, err := msf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pdb: failed to open file: %w", err)
	}
	return &File{msf: m}, nil
}

// OpenReader opens a PDB held by r.
func OpenReader(r io.ReaderAt, size int64) (*File, error) {
	m, err := msf.NewFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotPDB, err)
	}
	return &File{msf: m}, nil
}

func (f *File) Close() error      { return f.msf.Close() }
func (f *File) BlockSize() uint32 { return f.msf.BlockSize() }

// NumStreams returns the number of streams in the MSF directory.
func (f *File) NumStreams() (uint32, error) { return f.msf.NumStreams() }

// Info returns the PDB info stream header.
func (f *File) Info() (*Info, error) {
	f.infoOnce.Do(func() {
		data, err := f.msf.ReadStream(msf.StreamPDBInfo)
		if err != nil {
			f.infoErr = fmt.Errorf("pdb: failed to read PDB info stream: %w", err)
			return
		}
		if len(data) < 28 {
			f.infoErr = &ParseError{Stream: "PDB info", Offset: 0, Message: "stream too short"}
			return
		}
		info := &Info{
			Version:   binary.LittleEndian.Uint32(data[0:]),
			Signature: binary.LittleEndian.Uint32(data[4:]),
			Age:       binary.LittleEndian.Uint32(data[8:]),
		}
		copy(info.GUID[:], data[12:28])
		f.info = info
	})
	return f.info, f.infoErr
}

func (f *File) tpi() (*tpi.Stream, error) {
	f.tpiOnce.Do(func() {
		data, err := f.msf.ReadStream(msf.StreamTPI)
		if err != nil {
			f.tpiErr = fmt.Errorf("pdb: failed to read TPI stream: %w", err)
			return
		}
		if f.tpiStream, err = tpi.ParseStream(data); err != nil {
			f.tpiErr = &ParseError{Stream: "TPI", Offset: -1, Message: "bad stream", Err: err}
		}
	})
	return f.tpiStream, f.tpiErr
}

func (f *File) dbi() (*dbi.Stream, error) {
	f.dbiOnce.Do(func() {
		data, err := f.msf.ReadStream(msf.StreamDBI)
		if err != nil {
			f.dbiErr = fmt.Errorf("pdb: failed to read DBI stream: %w", err)
			return
		}
		if f.dbiStream, err = dbi.ParseStream(data); err != nil {
			f.dbiErr = &ParseError{Stream: "DBI", Offset: -1, Message: "bad stream", Err: err}
		}
	})
	return f.dbiStream, f.dbiErr
}

// Types returns the type table.
func (f *File) Types() (*TypeTable, error) {
	s, err := f.tpi()
	if err != nil {
		return nil, err
	}
	f.typesOnce.Do(func() { f.types = newTypeTable(s) })
	return f.types, nil
}

// Machine returns the IMAGE_FILE_MACHINE value recorded in the DBI stream.
func (f *File) Machine() (uint16, error) {
	d, err := f.dbi()
	if err != nil {
		return 0, err
	}
	return d.Header.Machine, nil
}

func (f *File) symbolIndex() (*symbols.Index, error) {
	f.indexOnce.Do(func() {
		d, err := f.dbi()
		if err != nil {
			f.indexErr = err
			return
		}
		data, err := f.msf.ReadStream(uint32(d.Header.SymRecordStreamIndex))
		if err != nil {
			f.indexErr = fmt.Errorf("pdb: failed to read symbol record stream: %w", err)
			return
		}
		if f.index, err = symbols.NewIndex(data); err != nil {
			f.indexErr = &ParseError{Stream: "symbol records", Offset: -1, Message: "bad record", Err: err}
		}
	})
	return f.index, f.indexErr
}

func (f *File) moduleStream(m *dbi.ModuleInfo) ([]byte, error) {
	if v, ok := f.moduleStreams.Load(m.ModuleSymStreamIndex); ok {
		return v.([]byte), nil
	}
	data, err := f.msf.ReadStream(uint32(m.ModuleSymStreamIndex))
	if err != nil {
		return nil, fmt.Errorf("pdb: failed to read symbols of module %q: %w", m.ModuleName, err)
	}
	if n := int(m.SymByteSize); n < len(data) {
		data = data[:n]
	}
	v, _ := f.moduleStreams.LoadOrStore(m.ModuleSymStreamIndex, data)
	return v.([]byte), nil
}
