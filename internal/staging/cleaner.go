package staging

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"
)

const DefaultCleanupInterval = 10 * time.Minute

// StartCleaner removes expired staged uploads on a fixed interval until the
// context is cancelled.
func (s *Service) StartCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *Service) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cleanupExpired(); err != nil {
				log.Printf("cleanup staged uploads error: %v", err)
			}
		}
	}
}

func (s *Service) cleanupExpired() error {
	rows, err := s.db.Query(
		`SELECT id, stored_path FROM staged_uploads WHERE expires_at <= ?`,
		time.Now().UTC(),
	)
	if err != nil {
		return err
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
			return err
		}
		uploads = append(uploads, u)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, u := range uploads {
		if err := os.Remove(u.path); err != nil && !os.IsNotExist(err) {
			log.Printf("remove staged file %s failed: %v", u.path, err)
			continue
		}
		if _, err := s.db.Exec(`DELETE FROM staged_uploads WHERE id = ?`, u.id); err != nil {
			log.Printf("delete staged upload record %d failed: %v", u.id, err)
		}

		// prune empty directories
		_ = os.Remove(filepath.Dir(u.path))
	}
	return nil
}
