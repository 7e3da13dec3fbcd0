package msf_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/dbgsym/internal/pdbtest"
	"github.com/skdltmxn/dbgsym/msf"
)

func TestReadStreams(t *testing.T) {
	big := bytes.Repeat([]byte{0xab, 0xcd, 0xef}, 700) // spans several blocks
	img := pdbtest.MSF([][]byte{nil, []byte("info"), big, {}})

	f, err := msf.NewFile(bytes.NewReader(img), int64(len(img)))
	require.NoError(t, err)
	assert.Equal(t, uint32(pdbtest.BlockSize), f.BlockSize())

	n, err := f.NumStreams()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), n)

	got, err := f.ReadStream(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("info"), got)

	got, err = f.ReadStream(2)
	require.NoError(t, err)
	assert.Equal(t, big, got)

	assert.False(t, f.StreamExists(0))
	assert.False(t, f.StreamExists(3))
	assert.True(t, f.StreamExists(2))

	_, err = f.OpenStream(0)
	assert.ErrorIs(t, err, msf.ErrNilStream)
	_, err = f.OpenStream(9)
	assert.ErrorIs(t, err, msf.ErrInvalidStreamIndex)
}

func TestStreamReadAtCrossesBlocks(t *testing.T) {
	data := make([]byte, 1500)
	for i := range data {
		data[i] = byte(i)
	}
	img := pdbtest.MSF([][]byte{nil, data})
	f, err := msf.NewFile(bytes.NewReader(img), int64(len(img)))
	require.NoError(t, err)

	s, err := f.OpenStream(1)
	require.NoError(t, err)
	buf := make([]byte, 100)
	n, err := s.ReadAt(buf, 480)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, data[480:580], buf)
}

func TestRejectsBadMagic(t *testing.T) {
	img := pdbtest.MSF([][]byte{nil})
	img[0] = 'X'
	_, err := msf.NewFile(bytes.NewReader(img), int64(len(img)))
	assert.ErrorIs(t, err, msf.ErrInvalidMagic)

	_, err = msf.NewFile(bytes.NewReader(img[:10]), 10)
	assert.ErrorIs(t, err, msf.ErrTruncatedFile)
}
