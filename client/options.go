package client

import (
	"time"

	"go.uber.org/zap"

	"blinksend/discovery"
	"blinksend/models"
	"blinksend/storage"
	"blinksend/transfer"
)

// Options configures Connect.
type Options struct {
	// RelayAddress is host:port. When empty the relay is located over mDNS.
	RelayAddress string
	Name         string
	DownloadsDir string
	ChunkSize    int
	// MaxFileSize caps incoming offers; zero means transfer.DefaultMaxFileSize.
	MaxFileSize int64

	ConnectionTimeout time.Duration
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration

	Discovery discovery.Config
	// Store records history when set.
	Store  *storage.Store
	Logger *zap.Logger

	OnPeersChanged func(peers []models.Peer)
	OnOffer        func(offer models.FileOffer)
	OnAccepted     func(offer models.FileOffer)
	OnRejected     func(offer models.FileOffer, reason string)
	OnProgress     func(progress transfer.Progress)
	OnReceived     func(file ReceivedFile)
	OnSent         func(offer models.FileOffer)
	OnCancelled    func(cancellation transfer.Cancellation)
	OnError        func(err error)
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = transfer.ChunkSize
	}
	if o.DownloadsDir == "" {
		o.DownloadsDir = "."
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// ReceivedFile is a completed download persisted to disk.
type ReceivedFile struct {
	Offer models.FileOffer
	Path  string
}
