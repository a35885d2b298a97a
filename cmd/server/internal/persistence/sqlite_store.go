// Package persistence stores job history in SQLite so that finished jobs and
// their result files survive a server restart.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	version    INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_updated ON jobs(status, updated_at);
`

// SQLiteStore implements orchestrator.Persister on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ orchestrator.Persister = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	// one writer; runners persist concurrently
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		return fmt.Errorf("failed to configure db: %w", err)
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save upserts a job snapshot. Snapshots older than the stored version are
// ignored, so concurrent writers can never roll a job back.
func (s *SQLiteStore) Save(ctx context.Context, j orchestrator.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", j.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO jobs (id, status, version, created_at, updated_at, data)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status     = excluded.status,
	version    = excluded.version,
	updated_at = excluded.updated_at,
	data       = excluded.data
WHERE excluded.version > jobs.version`,
		j.ID, string(j.Status), j.Version, j.CreatedAt.UnixNano(), j.UpdatedAt.UnixNano(), string(data))
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", j.ID, err)
	}
	return nil
}

// Delete removes a job. Deleting an unknown id is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

// LoadAll returns every stored job, oldest first.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]orchestrator.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM jobs ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var out []orchestrator.Job
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		var j orchestrator.Job
		if err := json.Unmarshal([]byte(data), &j); err != nil {
			return nil, fmt.Errorf("corrupt job record %s: %w", id, err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
