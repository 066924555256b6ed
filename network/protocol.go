package network

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"blinksend/models"
)

const (
	// MaxFrameSize is the maximum accepted frame payload size (10 MB).
	MaxFrameSize = 10 * 1024 * 1024
	// DefaultConnectionTimeout bounds TCP dial and registration.
	DefaultConnectionTimeout = 30 * time.Second
	// DefaultKeepAliveInterval sends ping on idle connections.
	DefaultKeepAliveInterval = 60 * time.Second
	// DefaultKeepAliveTimeout waits this long for pong after ping.
	DefaultKeepAliveTimeout = 15 * time.Second
	// DefaultFrameReadTimeout bounds each frame read.
	DefaultFrameReadTimeout = 30 * time.Second
)

const (
	TypeSetName        = "set_name"
	TypeWelcome        = "welcome"
	TypeUsers          = "users"
	TypeSendFileOffer  = "send_file_offer"
	TypeFileOffer      = "file_offer"
	TypeAcceptFile     = "accept_file"
	TypeFileAccepted   = "file_accepted"
	TypeRejectFile     = "reject_file"
	TypeFileRejected   = "file_rejected"
	TypeFileChunk      = "file_chunk"
	TypeCancelTransfer = "cancel_transfer"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeError          = "error"
)

const (
	// ErrorCodePeerNotFound is sent by the relay when the addressed peer is gone.
	ErrorCodePeerNotFound = "peer_not_found"
	// ErrorCodeInvalidMessage is sent by the relay for undecodable or unknown messages.
	ErrorCodeInvalidMessage = "invalid_message"
)

var (
	// ErrFrameTooLarge indicates payload exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("network: frame exceeds max size")
	// ErrInvalidMessageType indicates the message type is missing or unknown.
	ErrInvalidMessageType = errors.New("network: invalid message type")
	// ErrTruncatedFrame indicates a read deadline hit after part of a frame arrived.
	ErrTruncatedFrame = errors.New("network: frame truncated by read timeout")
)

// Envelope identifies the protocol message type.
type Envelope struct {
	Type string `json:"type"`
}

// SetName registers a display name with the relay.
type SetName struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// Welcome tells a freshly connected peer its relay-assigned identity.
type Welcome struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Users is the roster broadcast; it never contains the recipient.
type Users struct {
	Type  string        `json:"type"`
	Users []models.Peer `json:"users"`
}

// SendFileOffer is sent by the offering peer; the relay forwards it as FileOffer.
type SendFileOffer struct {
	Type      string `json:"type"`
	To        string `json:"to"`
	FileID    string `json:"file_id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Checksum  string `json:"checksum,omitempty"`
	ChunkSize int    `json:"chunk_size,omitempty"`
}

// FileOffer notifies a peer of an inbound offer. From is stamped by the relay.
// A zero ChunkSize means the default 16384.
type FileOffer struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	FileID    string `json:"file_id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Checksum  string `json:"checksum,omitempty"`
	ChunkSize int    `json:"chunk_size,omitempty"`
}

// AcceptFile is sent by the receiver. From names the offering peer.
type AcceptFile struct {
	Type   string `json:"type"`
	From   string `json:"from"`
	FileID string `json:"file_id"`
}

// FileAccepted tells the offering peer to start streaming to To.
type FileAccepted struct {
	Type   string `json:"type"`
	To     string `json:"to"`
	FileID string `json:"file_id"`
}

// RejectFile is sent by the receiver. From names the offering peer.
type RejectFile struct {
	Type   string `json:"type"`
	From   string `json:"from"`
	FileID string `json:"file_id"`
	Reason string `json:"reason,omitempty"`
}

// FileRejected tells the offering peer that From declined.
type FileRejected struct {
	Type   string `json:"type"`
	From   string `json:"from"`
	FileID string `json:"file_id"`
	Reason string `json:"reason,omitempty"`
}

// FileChunk carries one chunk. Clients set To; the relay stamps From.
type FileChunk struct {
	Type   string `json:"type"`
	To     string `json:"to,omitempty"`
	From   string `json:"from,omitempty"`
	FileID string `json:"file_id"`
	Chunk  []byte `json:"chunk"`
	Index  int    `json:"index"`
	Total  int    `json:"total"`
}

// CancelTransfer aborts an in-flight transfer from either side.
type CancelTransfer struct {
	Type   string `json:"type"`
	To     string `json:"to,omitempty"`
	From   string `json:"from,omitempty"`
	FileID string `json:"file_id"`
	Reason string `json:"reason,omitempty"`
}

// PingMessage is a keep-alive ping.
type PingMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// PongMessage is a keep-alive pong response.
type PongMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorMessage reports protocol errors.
type ErrorMessage struct {
	Type          string `json:"type"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	RelatedFileID string `json:"related_file_id,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// EncodeJSON marshals a protocol message to JSON.
func EncodeJSON(message any) ([]byte, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("marshal protocol message: %w", err)
	}
	return payload, nil
}

// DecodeMessageType extracts the "type" field from a payload.
func DecodeMessageType(payload []byte) (string, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Type == "" {
		return "", ErrInvalidMessageType
	}
	return envelope.Type, nil
}

// Decode unmarshals a payload into a typed message.
func Decode[T any](payload []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("decode %T: %w", msg, err)
	}
	return msg, nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}

	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, int(length))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return payload, nil
}

// ReadFrameWithTimeout reads a frame with an optional read deadline. A
// timeout before any byte arrives is returned as-is so callers can retry.
// A timeout mid-frame returns ErrTruncatedFrame: the stream position is
// lost and the connection must be dropped.
func ReadFrameWithTimeout(conn net.Conn, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
		defer func() {
			_ = conn.SetReadDeadline(time.Time{})
		}()
	}

	counter := &countingReader{r: conn}
	payload, err := ReadFrame(counter)
	if err != nil && counter.n > 0 && isTimeout(err) {
		return nil, fmt.Errorf("%w after %d bytes: %v", ErrTruncatedFrame, counter.n, err)
	}
	return payload, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
