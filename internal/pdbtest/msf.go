// Package pdbtest assembles small synthetic PDB images for tests.
package pdbtest

import (
	"encoding/binary"
)

// BlockSize is the block size used by MSF.
const BlockSize = 512

const msfMagic = "Microsoft C/C++ MSF 7.00\r\n\x1a\x44\x53\x00\x00\x00"

// MSF lays out streams in an MSF 7.0 image. A nil entry becomes a nil
// stream; an empty non-nil slice becomes a zero-length stream.
func MSF(streams [][]byte) []byte {
	// Blocks 0-2: superblock and the two free page maps.
	blocks := make([][]byte, 3)

	place := func(data []byte) []uint32 {
		var list []uint32
		for off := 0; off < len(data); off += BlockSize {
			end := min(off+BlockSize, len(data))
			list = append(list, uint32(len(blocks)))
			blocks = append(blocks, data[off:end])
		}
		return list
	}

	var dir []byte
	dir = binary.LittleEndian.AppendUint32(dir, uint32(len(streams)))
	lists := make([][]uint32, len(streams))
	for i, s := range streams {
		if s == nil {
			dir = binary.LittleEndian.AppendUint32(dir, 0xFFFFFFFF)
			continue
		}
		dir = binary.LittleEndian.AppendUint32(dir, uint32(len(s)))
		lists[i] = place(s)
	}
	for _, list := range lists {
		for _, b := range list {
			dir = binary.LittleEndian.AppendUint32(dir, b)
		}
	}

	var blockMap []byte
	for _, b := range place(dir) {
		blockMap = binary.LittleEndian.AppendUint32(blockMap, b)
	}
	mapAddr := place(blockMap)[0]

	sb := make([]byte, 0, 56)
	sb = append(sb, msfMagic...)
	sb = binary.LittleEndian.AppendUint32(sb, BlockSize)
	sb = binary.LittleEndian.AppendUint32(sb, 1)
	sb = binary.LittleEndian.AppendUint32(sb, uint32(len(blocks)))
	sb = binary.LittleEndian.AppendUint32(sb, uint32(len(dir)))
	sb = binary.LittleEndian.AppendUint32(sb, 0)
	sb = binary.LittleEndian.AppendUint32(sb, mapAddr)
	blocks[0] = sb

	out := make([]byte, len(blocks)*BlockSize)
	for i, b := range blocks {
		copy(out[i*BlockSize:], b)
	}
	return out
}
