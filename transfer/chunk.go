package transfer

// ChunkSize is the fixed payload size of every chunk except possibly the last.
const ChunkSize = 16384

// ChunkCount returns ceil(size / chunkSize). An empty file has zero chunks.
func ChunkCount(size int64, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + int64(chunkSize) - 1) / int64(chunkSize))
}

// ChunkLength returns the expected byte length of chunk index for a file of size bytes.
func ChunkLength(size int64, chunkSize, index int) int {
	total := ChunkCount(size, chunkSize)
	if index < 0 || index >= total {
		return 0
	}
	if index < total-1 {
		return chunkSize
	}
	last := int(size - int64(index)*int64(chunkSize))
	return last
}

// Split slices data into chunkSize pieces. The returned slices alias data.
func Split(data []byte, chunkSize int) [][]byte {
	total := ChunkCount(int64(len(data)), chunkSize)
	chunks := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

func normalizeChunkSize(chunkSize int) int {
	switch {
	case chunkSize <= 0:
		return ChunkSize
	case chunkSize > MaxChunkSize:
		return MaxChunkSize
	default:
		return chunkSize
	}
}
