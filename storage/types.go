package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	TransferStatusOffered   = "offered"
	TransferStatusAccepted  = "accepted"
	TransferStatusRejected  = "rejected"
	TransferStatusComplete  = "complete"
	TransferStatusFailed    = "failed"
	TransferStatusCancelled = "cancelled"
)

const (
	DirectionSend    = "send"
	DirectionReceive = "receive"
)

// PeerRecord is a peer observed on a relay roster.
type PeerRecord struct {
	PeerID    string
	Name      string
	FirstSeen int64
	LastSeen  int64
}

// TransferRecord is the history row for one offered file.
type TransferRecord struct {
	FileID     string
	Direction  string
	PeerID     string
	PeerName   string
	Filename   string
	Filesize   int64
	Checksum   string
	StoredPath *string
	Status     string
	Reason     *string
	CreatedAt  int64
	UpdatedAt  int64
}

// TransferFilter narrows ListTransfers results.
type TransferFilter struct {
	Direction string
	PeerID    string
	Status    string
	Limit     int
	Offset    int
}

// Terminal reports whether status ends a transfer.
func Terminal(status string) bool {
	switch status {
	case TransferStatusRejected, TransferStatusComplete, TransferStatusFailed, TransferStatusCancelled:
		return true
	default:
		return false
	}
}

func validateTransferStatus(status string) error {
	switch status {
	case TransferStatusOffered, TransferStatusAccepted, TransferStatusRejected,
		TransferStatusComplete, TransferStatusFailed, TransferStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid transfer status %q", status)
	}
}

func validateTransferDirection(direction string) error {
	switch direction {
	case DirectionSend, DirectionReceive:
		return nil
	default:
		return fmt.Errorf("invalid transfer direction %q", direction)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func stringPointer(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
