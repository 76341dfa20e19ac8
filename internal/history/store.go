// Package history persists completed build records to SQLite so operators
// can inspect recent executor activity after the builds are gone.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is one completed build.
type Record struct {
	UUID        string
	JobName     string
	Result      string
	ErrorDetail string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Store writes and reads build history rows.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Add inserts a completed build record.
func (s *Store) Add(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO build_history (id, uuid, job_name, result, error_detail, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?);`,
		uuid.NewString(),
		rec.UUID,
		rec.JobName,
		rec.Result,
		rec.ErrorDetail,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert build history: %w", err)
	}
	return nil
}

// Recent returns the most recently completed builds, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT uuid, job_name, result, COALESCE(error_detail, ''), started_at, completed_at
		 FROM build_history ORDER BY completed_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query build history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var started, completed string
		if err := rows.Scan(&rec.UUID, &rec.JobName, &rec.Result, &rec.ErrorDetail, &started, &completed); err != nil {
			return nil, fmt.Errorf("scan build history: %w", err)
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		rec.CompletedAt, _ = time.Parse(time.RFC3339Nano, completed)
		out = append(out, rec)
	}
	return out, rows.Err()
}
