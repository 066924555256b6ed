package transfer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkCount(t *testing.T) {
	tests := []struct {
		name string
		size int64
		want int
	}{
		{name: "empty", size: 0, want: 0},
		{name: "one byte", size: 1, want: 1},
		{name: "exact chunk", size: ChunkSize, want: 1},
		{name: "one over", size: ChunkSize + 1, want: 2},
		{name: "three plus tail", size: ChunkSize*3 + 500, want: 4},
		{name: "exact multiple", size: ChunkSize * 8, want: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChunkCount(tt.size, ChunkSize))
		})
	}
}

func TestChunkLengthLastChunk(t *testing.T) {
	size := int64(ChunkSize*3 + 500)
	require.Equal(t, 4, ChunkCount(size, ChunkSize))

	assert.Equal(t, ChunkSize, ChunkLength(size, ChunkSize, 0))
	assert.Equal(t, ChunkSize, ChunkLength(size, ChunkSize, 2))
	assert.Equal(t, 500, ChunkLength(size, ChunkSize, 3))
	assert.Equal(t, 0, ChunkLength(size, ChunkSize, 4))

	exact := int64(ChunkSize * 2)
	assert.Equal(t, ChunkSize, ChunkLength(exact, ChunkSize, 1))
}

func TestSplitAssembleRoundTrip(t *testing.T) {
	sizes := []int{0, 1, ChunkSize - 1, ChunkSize, ChunkSize * 2, ChunkSize*3 + 500}

	for _, size := range sizes {
		data := randomBytes(t, size)
		chunks := Split(data, ChunkSize)
		require.Len(t, chunks, ChunkCount(int64(size), ChunkSize))
		for i, chunk := range chunks {
			assert.Equal(t, ChunkLength(int64(size), ChunkSize, i), len(chunk))
		}

		assert.True(t, bytes.Equal(data, bytes.Join(chunks, nil)), "size %d", size)
	}
}

func TestSourceReadChunk(t *testing.T) {
	data := randomBytes(t, ChunkSize+10)
	src := NewBytesSource("a.bin", data)

	first, err := src.ReadChunk(0, ChunkSize)
	require.NoError(t, err)
	assert.Equal(t, data[:ChunkSize], first)

	last, err := src.ReadChunk(1, ChunkSize)
	require.NoError(t, err)
	assert.Equal(t, data[ChunkSize:], last)

	_, err = src.ReadChunk(2, ChunkSize)
	assert.Error(t, err)

	require.NoError(t, src.Close())
	assert.False(t, src.Available())
	_, err = src.ReadChunk(0, ChunkSize)
	assert.ErrorIs(t, err, ErrSourceClosed)
}
