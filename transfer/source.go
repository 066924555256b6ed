package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"blinksend/crypto"
)

var (
	// ErrSourceClosed indicates the file handle was released before streaming.
	ErrSourceClosed = errors.New("transfer: source closed")
)

// Source is the sender's handle on the file being offered. It must stay
// open from offer time until the offer is rejected, cancelled or streamed.
type Source struct {
	Name     string
	Size     int64
	Checksum string

	mu     sync.RWMutex
	data   io.ReaderAt
	closer io.Closer
}

// OpenSource opens path, records its size and computes its content checksum.
func OpenSource(path string) (*Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat source file: %w", err)
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, fmt.Errorf("open source file: %s is a directory", path)
	}

	checksum, err := crypto.ChecksumReader(io.NewSectionReader(file, 0, info.Size()))
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	return &Source{
		Name:     filepath.Base(path),
		Size:     info.Size(),
		Checksum: checksum,
		data:     file,
		closer:   file,
	}, nil
}

// NewBytesSource wraps in-memory content as a Source.
func NewBytesSource(name string, content []byte) *Source {
	return &Source{
		Name:     name,
		Size:     int64(len(content)),
		Checksum: crypto.Checksum(content),
		data:     bytes.NewReader(content),
	}
}

// Available reports whether the underlying handle is still open.
func (s *Source) Available() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data != nil
}

// ReadChunk reads chunk index into a freshly allocated buffer.
func (s *Source) ReadChunk(index, chunkSize int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, ErrSourceClosed
	}

	length := ChunkLength(s.Size, chunkSize, index)
	if length == 0 {
		return nil, fmt.Errorf("read chunk %d: index out of range", index)
	}

	buf := make([]byte, length)
	n, err := s.data.ReadAt(buf, int64(index)*int64(chunkSize))
	if err != nil && !(errors.Is(err, io.EOF) && n == length) {
		return nil, fmt.Errorf("read chunk %d: %w", index, err)
	}
	if n != length {
		return nil, fmt.Errorf("read chunk %d: short read %d/%d", index, n, length)
	}
	return buf, nil
}

// Close releases the handle. It is safe to call more than once.
func (s *Source) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	if s.closer == nil {
		return nil
	}
	closer := s.closer
	s.closer = nil
	return closer.Close()
}
