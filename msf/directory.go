package msf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// NilStreamSize marks a deleted stream in the directory.
const NilStreamSize = 0xFFFFFFFF

// Fixed stream indices.
const (
	StreamPDBInfo = 1
	StreamTPI     = 2
	StreamDBI     = 3
	StreamIPI     = 4
)

var (
	ErrTruncatedDirectory = errors.New("msf: truncated stream directory")
	ErrInvalidStreamIndex = errors.New("msf: invalid stream index")
	ErrInvalidBlockIndex  = errors.New("msf: invalid block index")
	ErrNilStream          = errors.New("msf: stream is nil")
)

// directory is the jagged stream table: a size and a block list per stream.
type directory struct {
	sizes  []uint32
	blocks [][]uint32
}

func (d *directory) exists(i uint32) bool {
	return int(i) < len(d.sizes) && d.sizes[i] != NilStreamSize && d.sizes[i] > 0
}

func readDirectory(sb *SuperBlock, r io.ReaderAt) (*directory, error) {
	n := sb.blocksFor(sb.NumDirectoryBytes)

	// The block map may itself span several blocks.
	mapBytes := make([]byte, sb.blocksFor(n*4)*sb.BlockSize)
	if _, err := r.ReadAt(mapBytes, sb.offsetOf(sb.BlockMapAddr)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("msf: failed to read block map: %w", err)
	}

	raw := make([]byte, sb.NumDirectoryBytes)
	for i := uint32(0); i < n; i++ {
		blk := binary.LittleEndian.Uint32(mapBytes[i*4:])
		if blk >= sb.NumBlocks {
			return nil, fmt.Errorf("%w: %d >= %d", ErrInvalidBlockIndex, blk, sb.NumBlocks)
		}
		lo := i * sb.BlockSize
		hi := min(lo+sb.BlockSize, sb.NumDirectoryBytes)
		if _, err := r.ReadAt(raw[lo:hi], sb.offsetOf(blk)); err != nil && err != io.EOF {
			return nil, fmt.Errorf("msf: failed to read directory block %d: %w", blk, err)
		}
	}
	return parseDirectory(raw, sb.BlockSize)
}

func parseDirectory(b []byte, blockSize uint32) (*directory, error) {
	next := func() (uint32, error) {
		if len(b) < 4 {
			return 0, ErrTruncatedDirectory
		}
		v := binary.LittleEndian.Uint32(b)
		b = b[4:]
		return v, nil
	}

	count, err := next()
	if err != nil {
		return nil, err
	}
	if uint64(count)*4 > uint64(len(b)) {
		return nil, ErrTruncatedDirectory
	}

	d := &directory{sizes: make([]uint32, count), blocks: make([][]uint32, count)}
	for i := range d.sizes {
		d.sizes[i], _ = next()
	}
	for i, size := range d.sizes {
		if size == NilStreamSize || size == 0 {
			continue
		}
		list := make([]uint32, (size+blockSize-1)/blockSize)
		for j := range list {
			if list[j], err = next(); err != nil {
				return nil, err
			}
		}
		d.blocks[i] = list
	}
	return d, nil
}
