// Package pdb reads Microsoft PDB files: types, global and public
// symbols, modules and the locals of a procedure at an address.
package pdb

import (
	"errors"
	"fmt"
)

var (
	ErrNotPDB           = errors.New("pdb: not a valid PDB file")
	ErrInvalidStream    = errors.New("pdb: invalid stream")
	ErrTypeNotFound     = errors.New("pdb: type not found")
	ErrSymbolNotFound   = errors.New("pdb: symbol not found")
	ErrNoSectionHeaders = errors.New("pdb: no section header stream")
)

// ParseError provides detailed information about parsing failures.
type ParseError struct {
	Stream  string // stream name where the error occurred
	Offset  int64  // byte offset within the stream, -1 when unknown
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pdb: parse error in %s at offset 0x%x: %s: %v",
			e.Stream, e.Offset, e.Message, e.Err)
	}
	return fmt.Sprintf("pdb: parse error in %s at offset 0x%x: %s",
		e.Stream, e.Offset, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Err }
