package models

// FileOffer describes one file proposed for transfer between two peers.
type FileOffer struct {
	FileID    string `json:"file_id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Checksum  string `json:"checksum,omitempty"`
	ChunkSize int    `json:"chunk_size,omitempty"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// Chunk is one slice of a file's bytes tagged with its position.
type Chunk struct {
	FileID string `json:"file_id"`
	Index  int    `json:"index"`
	Total  int    `json:"total"`
	Bytes  []byte `json:"bytes"`
}
