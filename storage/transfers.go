package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SaveTransfer inserts a new transfer history row.
func (s *Store) SaveTransfer(transfer TransferRecord) error {
	if transfer.FileID == "" {
		return errors.New("file_id is required")
	}
	if err := validateTransferDirection(transfer.Direction); err != nil {
		return err
	}
	if transfer.PeerID == "" {
		return errors.New("peer_id is required")
	}
	if transfer.Filename == "" {
		return errors.New("filename is required")
	}
	if transfer.Filesize < 0 {
		return errors.New("filesize must be >= 0")
	}
	if transfer.Status == "" {
		transfer.Status = TransferStatusOffered
	}
	if err := validateTransferStatus(transfer.Status); err != nil {
		return err
	}
	now := nowUnixMilli()
	if transfer.CreatedAt == 0 {
		transfer.CreatedAt = now
	}
	if transfer.UpdatedAt == 0 {
		transfer.UpdatedAt = transfer.CreatedAt
	}

	_, err := s.db.Exec(
		`INSERT INTO transfers (
			file_id,
			direction,
			peer_id,
			peer_name,
			filename,
			filesize,
			checksum,
			stored_path,
			status,
			reason,
			created_at,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		transfer.FileID,
		transfer.Direction,
		transfer.PeerID,
		transfer.PeerName,
		transfer.Filename,
		transfer.Filesize,
		transfer.Checksum,
		nullString(transfer.StoredPath),
		transfer.Status,
		nullString(transfer.Reason),
		transfer.CreatedAt,
		transfer.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transfer %q/%q: %w", transfer.FileID, transfer.Direction, err)
	}

	return nil
}

// UpdateTransferStatus sets status and an optional reason for one transfer.
func (s *Store) UpdateTransferStatus(fileID, direction, status, reason string) error {
	if fileID == "" {
		return errors.New("file_id is required")
	}
	if err := validateTransferDirection(direction); err != nil {
		return err
	}
	if err := validateTransferStatus(status); err != nil {
		return err
	}

	res, err := s.db.Exec(
		`UPDATE transfers
		SET status = ?, reason = ?, updated_at = ?
		WHERE file_id = ? AND direction = ?`,
		status,
		nullString(stringPointer(reason)),
		nowUnixMilli(),
		fileID,
		direction,
	)
	if err != nil {
		return fmt.Errorf("update transfer status %q: %w", fileID, err)
	}

	return requireAffected(res, fileID)
}

// SetStoredPath records where a received file was written.
func (s *Store) SetStoredPath(fileID, direction, storedPath string) error {
	if fileID == "" {
		return errors.New("file_id is required")
	}
	if err := validateTransferDirection(direction); err != nil {
		return err
	}
	if strings.TrimSpace(storedPath) == "" {
		return errors.New("stored_path is required")
	}

	res, err := s.db.Exec(
		`UPDATE transfers
		SET stored_path = ?, updated_at = ?
		WHERE file_id = ? AND direction = ?`,
		storedPath,
		nowUnixMilli(),
		fileID,
		direction,
	)
	if err != nil {
		return fmt.Errorf("update transfer stored path %q: %w", fileID, err)
	}

	return requireAffected(res, fileID)
}

// GetTransfer fetches one transfer row.
func (s *Store) GetTransfer(fileID, direction string) (*TransferRecord, error) {
	if err := validateTransferDirection(direction); err != nil {
		return nil, err
	}

	row := s.db.QueryRow(
		`SELECT `+transferColumns+`
		FROM transfers
		WHERE file_id = ? AND direction = ?`,
		fileID,
		direction,
	)

	transfer, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transfer %q: %w", fileID, err)
	}
	return transfer, nil
}

// ListTransfers returns transfers, newest first, narrowed by filter.
func (s *Store) ListTransfers(filter TransferFilter) ([]TransferRecord, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers`
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 5)

	if filter.Direction != "" {
		if err := validateTransferDirection(filter.Direction); err != nil {
			return nil, err
		}
		clauses = append(clauses, "direction = ?")
		args = append(args, filter.Direction)
	}
	if filter.PeerID != "" {
		clauses = append(clauses, "peer_id = ?")
		args = append(args, filter.PeerID)
	}
	if filter.Status != "" {
		if err := validateTransferStatus(filter.Status); err != nil {
			return nil, err
		}
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY updated_at DESC, created_at DESC, file_id"

	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	transfers := make([]TransferRecord, 0)
	for rows.Next() {
		transfer, scanErr := scanTransfer(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan transfer row: %w", scanErr)
		}
		transfers = append(transfers, *transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer rows: %w", err)
	}
	return transfers, nil
}

const transferColumns = `
			file_id,
			direction,
			peer_id,
			peer_name,
			filename,
			filesize,
			checksum,
			stored_path,
			status,
			reason,
			created_at,
			updated_at`

func scanTransfer(row scanner) (*TransferRecord, error) {
	var (
		transfer   TransferRecord
		storedPath sql.NullString
		reason     sql.NullString
	)

	if err := row.Scan(
		&transfer.FileID,
		&transfer.Direction,
		&transfer.PeerID,
		&transfer.PeerName,
		&transfer.Filename,
		&transfer.Filesize,
		&transfer.Checksum,
		&storedPath,
		&transfer.Status,
		&reason,
		&transfer.CreatedAt,
		&transfer.UpdatedAt,
	); err != nil {
		return nil, err
	}

	transfer.StoredPath = stringPtr(storedPath)
	transfer.Reason = stringPtr(reason)
	return &transfer, nil
}

func requireAffected(res sql.Result, fileID string) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for transfer %q: %w", fileID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
