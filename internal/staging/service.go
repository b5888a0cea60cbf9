// Package staging holds images uploaded ahead of a message until they are
// attached to a sent turn or expire.
package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"nevexpert/internal/models"
)

const DefaultUploadTTL = 30 * time.Minute

// Service records staged uploads in the database and their bytes on disk.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Record stages an upload for a session. Exactly one staged upload may exist
// per session: any previous one is removed first, mirroring the
// pending-attachment replacement rule one layer up.
func (s *Service) Record(ctx context.Context, sessionID int64, fileName, storedPath, mediaType string, size int64, ttl time.Duration) (*models.StagedUpload, error) {
	if sessionID <= 0 {
		return nil, errors.New("session id is required")
	}
	if ttl <= 0 {
		ttl = DefaultUploadTTL
	}
	if err := s.DeleteForSession(ctx, sessionID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO staged_uploads (session_id, file_name, stored_path, media_type, size, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, fileName, storedPath, mediaType, size, now, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("record staged upload: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("staged upload id: %w", err)
	}
	return &models.StagedUpload{
		ID:         id,
		SessionID:  sessionID,
		FileName:   fileName,
		StoredPath: storedPath,
		MediaType:  mediaType,
		Size:       size,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
	}, nil
}

// Get returns the live staged upload for a session. Expired rows count as
// missing (sql.ErrNoRows).
func (s *Service) Get(ctx context.Context, sessionID int64) (*models.StagedUpload, error) {
	var u models.StagedUpload
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, file_name, stored_path, media_type, size, created_at, expires_at
		 FROM staged_uploads WHERE session_id = ? AND expires_at > ?`,
		sessionID, time.Now().UTC(),
	).Scan(&u.ID, &u.SessionID, &u.FileName, &u.StoredPath, &u.MediaType, &u.Size, &u.CreatedAt, &u.ExpiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get staged upload: %w", err)
	}
	return &u, nil
}

// DeleteForSession removes the session's staged upload, database row and
// stored file both. Missing rows are not an error.
func (s *Service) DeleteForSession(ctx context.Context, sessionID int64) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stored_path FROM staged_uploads WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("list staged uploads: %w", err)
	}
	defer rows.Close()

	type uploadRow struct {
		id   int64
		path string
	}
	var uploads []uploadRow
	for rows.Next() {
		var u uploadRow
		if err := rows.Scan(&u.id, &u.path); err != nil {
			return fmt.Errorf("scan staged upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, u := range uploads {
		if err := os.Remove(u.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove staged file %s: %w", u.path, err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM staged_uploads WHERE id = ?`, u.id); err != nil {
			return fmt.Errorf("delete staged upload %d: %w", u.id, err)
		}
	}
	return nil
}
