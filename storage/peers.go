package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// UpsertPeer records that a peer was seen on the roster at seenAt (unix ms).
func (s *Store) UpsertPeer(peerID, name string, seenAt int64) error {
	if peerID == "" {
		return errors.New("peer_id is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name is required")
	}
	if seenAt == 0 {
		seenAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO peers (
			peer_id,
			name,
			first_seen,
			last_seen
		) VALUES (?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			name = excluded.name,
			last_seen = MAX(peers.last_seen, excluded.last_seen)`,
		peerID,
		name,
		seenAt,
		seenAt,
	)
	if err != nil {
		return fmt.Errorf("upsert peer %q: %w", peerID, err)
	}
	return nil
}

// GetPeer fetches a peer by id.
func (s *Store) GetPeer(peerID string) (*PeerRecord, error) {
	row := s.db.QueryRow(
		`SELECT
			peer_id,
			name,
			first_seen,
			last_seen
		FROM peers
		WHERE peer_id = ?`,
		peerID,
	)

	peer, err := scanPeer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get peer %q: %w", peerID, err)
	}

	return peer, nil
}

// ListPeers returns all peers, most recently seen first.
func (s *Store) ListPeers() ([]PeerRecord, error) {
	rows, err := s.db.Query(
		`SELECT
			peer_id,
			name,
			first_seen,
			last_seen
		FROM peers
		ORDER BY last_seen DESC, peer_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	defer rows.Close()

	peers := make([]PeerRecord, 0)
	for rows.Next() {
		peer, err := scanPeer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan peer row: %w", err)
		}
		peers = append(peers, *peer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peer rows: %w", err)
	}

	return peers, nil
}

func scanPeer(row scanner) (*PeerRecord, error) {
	var peer PeerRecord
	if err := row.Scan(
		&peer.PeerID,
		&peer.Name,
		&peer.FirstSeen,
		&peer.LastSeen,
	); err != nil {
		return nil, err
	}
	return &peer, nil
}
