package staging

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nevexpert/internal/config"
	"nevexpert/internal/storage"
)

func newTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return NewService(db), db
}

func stageFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("fake image bytes"), 0o644); err != nil {
		t.Fatalf("write staged file: %v", err)
	}
	return path
}

func TestRecordAndGet(t *testing.T) {
	svc, _ := newTestService(t)
	dir := t.TempDir()
	path := stageFile(t, dir, "dtc.png")

	rec, err := svc.Record(context.Background(), 7, "dtc.png", path, "image/png", 16, time.Minute)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.ID <= 0 || rec.ExpiresAt.Before(rec.CreatedAt) {
		t.Fatalf("unexpected record %+v", rec)
	}

	got, err := svc.Get(context.Background(), 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StoredPath != path || got.MediaType != "image/png" {
		t.Fatalf("unexpected staged upload %+v", got)
	}
}

func TestRecordReplacesPreviousUpload(t *testing.T) {
	svc, _ := newTestService(t)
	dir := t.TempDir()
	first := stageFile(t, dir, "first.png")
	second := stageFile(t, dir, "second.jpg")

	if _, err := svc.Record(context.Background(), 3, "first.png", first, "image/png", 16, time.Minute); err != nil {
		t.Fatalf("record first: %v", err)
	}
	if _, err := svc.Record(context.Background(), 3, "second.jpg", second, "image/jpeg", 16, time.Minute); err != nil {
		t.Fatalf("record second: %v", err)
	}

	got, err := svc.Get(context.Background(), 3)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FileName != "second.jpg" {
		t.Fatalf("expected replacement upload, got %s", got.FileName)
	}
	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Fatalf("replaced file should be removed from disk")
	}
}

func TestGetMissesExpiredUpload(t *testing.T) {
	svc, _ := newTestService(t)
	dir := t.TempDir()
	path := stageFile(t, dir, "old.png")

	if _, err := svc.Record(context.Background(), 5, "old.png", path, "image/png", 16, time.Nanosecond); err != nil {
		t.Fatalf("record: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := svc.Get(context.Background(), 5); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows for expired upload, got %v", err)
	}
}

func TestCleanupExpiredRemovesRowAndFile(t *testing.T) {
	svc, db := newTestService(t)
	dir := t.TempDir()
	path := stageFile(t, dir, "stale.png")

	if _, err := svc.Record(context.Background(), 9, "stale.png", path, "image/png", 16, time.Nanosecond); err != nil {
		t.Fatalf("record: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := svc.cleanupExpired(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expired file should be deleted")
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM staged_uploads`).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no rows after cleanup, got %d", count)
	}
}

func TestDeleteForSessionIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.DeleteForSession(context.Background(), 42); err != nil {
		t.Fatalf("delete with nothing staged should succeed: %v", err)
	}
}
