// Package msf reads the Multi-Stream File container that wraps PDB data.
package msf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic is the PDB 7.0 ("BigMsf") signature at file offset 0.
const Magic = "Microsoft C/C++ MSF 7.00\r\n\x1a\x44\x53\x00\x00\x00"

const (
	magicSize      = 32
	superBlockSize = 56

	minBlockSize = 512
	maxBlockSize = 65536
)

var (
	ErrInvalidMagic     = errors.New("msf: invalid magic signature, not a valid PDB file")
	ErrInvalidBlockSize = errors.New("msf: invalid block size")
	ErrInvalidFPMBlock  = errors.New("msf: invalid free block map block index")
	ErrTruncatedFile    = errors.New("msf: file is truncated")
)

// SuperBlock is the fixed header describing the block layout and the
// location of the stream directory.
type SuperBlock struct {
	FileMagic         [magicSize]byte
	BlockSize         uint32
	FreeBlockMapBlock uint32
	NumBlocks         uint32
	NumDirectoryBytes uint32
	Unknown           uint32
	// BlockMapAddr is the block holding the indices of the directory blocks.
	BlockMapAddr uint32
}

func parseSuperBlock(b []byte) (*SuperBlock, error) {
	if len(b) < superBlockSize {
		return nil, ErrTruncatedFile
	}
	var sb SuperBlock
	if err := binary.Read(bytes.NewReader(b[:superBlockSize]), binary.LittleEndian, &sb); err != nil {
		return nil, fmt.Errorf("msf: failed to read superblock: %w", err)
	}
	if err := sb.validate(); err != nil {
		return nil, err
	}
	return &sb, nil
}

func (sb *SuperBlock) validate() error {
	if string(sb.FileMagic[:]) != Magic {
		return ErrInvalidMagic
	}
	bs := sb.BlockSize
	if bs < minBlockSize || bs > maxBlockSize || bs&(bs-1) != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBlockSize, bs)
	}
	if sb.FreeBlockMapBlock != 1 && sb.FreeBlockMapBlock != 2 {
		return ErrInvalidFPMBlock
	}
	return nil
}

// blocksFor returns how many blocks are needed to hold n bytes.
func (sb *SuperBlock) blocksFor(n uint32) uint32 {
	return (n + sb.BlockSize - 1) / sb.BlockSize
}

func (sb *SuperBlock) offsetOf(block uint32) int64 {
	return int64(block) * int64(sb.BlockSize)
}
