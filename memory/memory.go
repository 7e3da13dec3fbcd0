// Package memory reads bytes from a debugged process or one of its dumps.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrUnmapped reports a read touching an address no segment covers.
	ErrUnmapped = errors.New("memory: address not mapped")
	ErrClosed   = errors.New("memory: reader closed")
)

// Reader fills buf with the bytes at addr. A short read is an error.
type Reader interface {
	ReadMemory(buf []byte, addr uint64) error
}

// Segmented is a Reader that knows its mapped ranges.
type Segmented interface {
	Reader
	Segment(addr uint64) (Segment, bool)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(buf []byte, addr uint64) error

func (f ReaderFunc) ReadMemory(buf []byte, addr uint64) error { return f(buf, addr) }

// ReadUint reads a little-endian unsigned integer of size 1, 2, 4 or 8.
func ReadUint(r Reader, addr uint64, size int) (uint64, error) {
	var buf [8]byte
	if size <= 0 || size > 8 {
		return 0, fmt.Errorf("memory: bad integer size %d", size)
	}
	if err := r.ReadMemory(buf[:size], addr); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// ReadPointer reads a pointer of ptrSize bytes.
func ReadPointer(r Reader, addr uint64, ptrSize int) (uint64, error) {
	return ReadUint(r, addr, ptrSize)
}

func ReadInt32(r Reader, addr uint64) (int32, error) {
	v, err := ReadUint(r, addr, 4)
	return int32(uint32(v)), err
}
