package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // pure Go driver registered as "sqlite"

	"github.com/polisai/polis-docintel/pkg/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	created_at    INTEGER NOT NULL,
	document_type TEXT NOT NULL,
	synthesized   INTEGER NOT NULL,
	payload       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_created_at ON runs(created_at DESC);
`

// SQLiteRunStore keeps runs in a local SQLite database. The full run is
// stored as JSON; the other columns exist for ordering and filtering.
type SQLiteRunStore struct {
	db *sql.DB
}

// OpenSQLiteRunStore opens (creating if needed) the database at path.
// Use ":memory:" for a throwaway store.
func OpenSQLiteRunStore(ctx context.Context, path string) (*SQLiteRunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteRunStore{db: db}, nil
}

// Save inserts or replaces a run.
func (s *SQLiteRunStore) Save(ctx context.Context, run domain.PipelineRun) error {
	if run.ID == "" {
		return fmt.Errorf("save run: empty id")
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, created_at, document_type, synthesized, payload) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UnixNano(), string(run.DocumentType), run.Synthesized(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// Get loads one run.
func (s *SQLiteRunStore) Get(ctx context.Context, id string) (domain.PipelineRun, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PipelineRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return domain.PipelineRun{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return decodeRun(payload)
}

// List returns up to limit runs, newest first.
func (s *SQLiteRunStore) List(ctx context.Context, limit int) ([]domain.PipelineRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM runs ORDER BY created_at DESC, id ASC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.PipelineRun
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run, err := decodeRun(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}

func decodeRun(payload string) (domain.PipelineRun, error) {
	var run domain.PipelineRun
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return domain.PipelineRun{}, fmt.Errorf("decode run: %w", err)
	}
	return run, nil
}
