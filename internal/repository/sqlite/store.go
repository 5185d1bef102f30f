// Package sqlite implements the run ledger on a local SQLite database.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jharju/weft/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	workflow TEXT NOT NULL,
	agents TEXT NOT NULL DEFAULT '[]',
	started_at TEXT NOT NULL,
	ended_at TEXT NOT NULL DEFAULT '',
	messages INTEGER NOT NULL DEFAULT 0,
	exit_reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Store implements repository.Ledger using SQLite.
type Store struct {
	db *sql.DB
}

// New opens the database at path, creating parent directories and the schema.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Begin inserts the run row.
func (s *Store) Begin(run repository.Run) error {
	agents, err := json.Marshal(run.Agents)
	if err != nil {
		return fmt.Errorf("marshal agents: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO runs (id, workflow, agents, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Workflow, string(agents), run.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Finish records the outcome of a run started with Begin.
func (s *Store) Finish(id string, endedAt time.Time, messages int, exitReason string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET ended_at = ?, messages = ?, exit_reason = ? WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano), messages, exitReason, id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: unknown run %q", id)
	}
	return nil
}

// Recent returns the most recent runs, newest first.
func (s *Store) Recent(limit int) ([]repository.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, workflow, agents, started_at, ended_at, messages, exit_reason
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []repository.Run
	for rows.Next() {
		var r repository.Run
		var agents, started, ended string
		if err := rows.Scan(&r.ID, &r.Workflow, &agents, &started, &ended, &r.Messages, &r.ExitReason); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(agents), &r.Agents); err != nil {
			return nil, fmt.Errorf("parse agents for %s: %w", r.ID, err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at for %s: %w", r.ID, err)
		}
		if ended != "" {
			if r.EndedAt, err = time.Parse(time.RFC3339Nano, ended); err != nil {
				return nil, fmt.Errorf("parse ended_at for %s: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
