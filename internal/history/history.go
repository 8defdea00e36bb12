// Package history keeps a SQLite record of analyzed runs so that model
// rankings can be compared across benchmark runs.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/codalotl/intentbench/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT DEFAULT '',
	source_log   TEXT DEFAULT '',
	winner       TEXT NOT NULL,
	diagnostics  INTEGER NOT NULL DEFAULT 0,
	generated_at TEXT NOT NULL,
	saved_at     DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_generated_at ON runs(generated_at);

CREATE TABLE IF NOT EXISTS run_models (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	run_pk           INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	rank             INTEGER NOT NULL,
	model            TEXT NOT NULL,
	correct          INTEGER NOT NULL,
	incorrect        INTEGER NOT NULL,
	skipped          INTEGER NOT NULL DEFAULT 0,
	accuracy         REAL NOT NULL,
	brier_score      REAL NOT NULL,
	avg_duration_sec REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_models_run ON run_models(run_pk);
CREATE INDEX IF NOT EXISTS idx_run_models_model ON run_models(model);
`

type Store struct {
	db *sql.DB
}

// Run is one saved summary.
type Run struct {
	ID          int64
	RunID       string
	SourceLog   string
	Winner      string
	Diagnostics int
	GeneratedAt time.Time
	Models      []types.ModelMetrics
}

// ModelPoint is one model's result within a saved run.
type ModelPoint struct {
	RunPK       int64
	GeneratedAt time.Time
	Rank        int
	Metrics     types.ModelMetrics
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a summary and its ranked models in one transaction and returns
// the new run's primary key.
func (s *Store) Save(ctx context.Context, summary types.Summary) (int64, error) {
	if summary.Winner == "" {
		return 0, errors.New("summary has no winner")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, source_log, winner, diagnostics, generated_at) VALUES (?, ?, ?, ?, ?)`,
		summary.RunID, summary.SourceLog, summary.Winner, summary.DiagnosticsCount,
		summary.GeneratedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	pk, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_models (run_pk, rank, model, correct, incorrect, skipped, accuracy, brier_score, avg_duration_sec)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for i, m := range summary.Models {
		if _, err := stmt.ExecContext(ctx, pk, i+1, m.Model, m.Correct, m.Incorrect, m.Skipped,
			m.Accuracy, m.BrierScore, m.AvgDurationSec); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return pk, nil
}

// Recent returns up to n runs, newest first, each with its models in rank order.
func (s *Store) Recent(ctx context.Context, n int) ([]Run, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, source_log, winner, diagnostics, generated_at
		 FROM runs ORDER BY generated_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	var runs []Run
	for rows.Next() {
		var r Run
		var generated string
		if err := rows.Scan(&r.ID, &r.RunID, &r.SourceLog, &r.Winner, &r.Diagnostics, &generated); err != nil {
			rows.Close()
			return nil, err
		}
		r.GeneratedAt, err = time.Parse(time.RFC3339Nano, generated)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("run %d: bad generated_at %q: %w", r.ID, generated, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		models, err := s.runModels(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Models = models
	}
	return runs, nil
}

func (s *Store) runModels(ctx context.Context, pk int64) ([]types.ModelMetrics, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, correct, incorrect, skipped, accuracy, brier_score, avg_duration_sec
		 FROM run_models WHERE run_pk = ? ORDER BY rank`, pk)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ModelMetrics
	for rows.Next() {
		var m types.ModelMetrics
		if err := rows.Scan(&m.Model, &m.Correct, &m.Incorrect, &m.Skipped, &m.Accuracy, &m.BrierScore, &m.AvgDurationSec); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ModelHistory returns up to n results for model, newest first.
func (s *Store) ModelHistory(ctx context.Context, model string, n int) ([]ModelPoint, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.generated_at, m.rank, m.model, m.correct, m.incorrect, m.skipped, m.accuracy, m.brier_score, m.avg_duration_sec
		 FROM run_models m JOIN runs r ON r.id = m.run_pk
		 WHERE m.model = ?
		 ORDER BY r.generated_at DESC, r.id DESC LIMIT ?`, model, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModelPoint
	for rows.Next() {
		var p ModelPoint
		var generated string
		m := &p.Metrics
		if err := rows.Scan(&p.RunPK, &generated, &p.Rank, &m.Model, &m.Correct, &m.Incorrect, &m.Skipped,
			&m.Accuracy, &m.BrierScore, &m.AvgDurationSec); err != nil {
			return nil, err
		}
		if p.GeneratedAt, err = time.Parse(time.RFC3339Nano, generated); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
