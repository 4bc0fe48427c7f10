// Package results is the sqlite-backed archive of job result artifacts.
// Artifacts outlive the in-memory registries, so result downloads keep
// working for as long as the archive file does.
package results

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/slideflow/pkg/model"

	_ "modernc.org/sqlite"
)

// schema contains the DDL for the archive.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS job_results (
		job_id       TEXT PRIMARY KEY,
		content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
		payload      BLOB NOT NULL,
		created_at   TEXT NOT NULL
	)`,
}

// Store persists job result artifacts in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) the archive at dbPath.
// Use ":memory:" for an in-memory database (useful in tests).
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "results"),
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the archive table.
func (s *Store) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Put stores (or replaces) the artifact of one job.
func (s *Store) Put(jobID, contentType string, data []byte) error {
	s.logger.Debug("sql", "op", "upsert", "table", "job_results", "job_id", jobID, "bytes", len(data))

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.db.Exec(
		`INSERT INTO job_results (job_id, content_type, payload, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET
		   content_type = excluded.content_type,
		   payload      = excluded.payload,
		   created_at   = excluded.created_at`,
		jobID, contentType, data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Get returns the artifact of one job or a NOT_FOUND error.
func (s *Store) Get(jobID string) (contentType string, data []byte, err error) {
	row := s.db.QueryRow(
		`SELECT content_type, payload FROM job_results WHERE job_id = ?`, jobID)
	if err := row.Scan(&contentType, &data); err != nil {
		if err == sql.ErrNoRows {
			return "", nil, model.NewNotFoundError("result", jobID)
		}
		return "", nil, fmt.Errorf("query result %s: %w", jobID, err)
	}
	return contentType, data, nil
}
