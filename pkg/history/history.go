package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gatelift/gatelift/pkg/models"
)

// Recorder records and queries solve history.
type Recorder interface {
	// Record stores one solve outcome.
	Record(ctx context.Context, rec models.SolveRecord) error
	// Summary returns aggregated solve summaries, optionally
	// filtered by host.
	Summary(ctx context.Context, host string) ([]models.SolveSummary, error)
	// Recent returns the newest solve records, optionally filtered
	// by host.
	Recent(ctx context.Context, host string, limit int) ([]models.SolveRecord, error)
	// Close releases resources.
	Close() error
}

// SQLiteRecorder implements Recorder with a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
}

const createSolvesTable = `
CREATE TABLE IF NOT EXISTS solve_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	host TEXT NOT NULL,
	algorithm TEXT NOT NULL,
	difficulty INTEGER NOT NULL,
	nonce INTEGER NOT NULL,
	attempts INTEGER NOT NULL,
	elapsed_ms INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	version TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_solves_host_time ON solve_records(host, created_at);
`

// New creates a SQLiteRecorder and runs auto-migration.
func New(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(createSolvesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &SQLiteRecorder{db: db}, nil
}

// Record stores one solve outcome.
func (r *SQLiteRecorder) Record(ctx context.Context, rec models.SolveRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO solve_records (host, algorithm, difficulty, nonce, attempts, elapsed_ms, outcome, version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Host, rec.Algorithm, rec.Difficulty, rec.Nonce, rec.Attempts,
		rec.ElapsedMS, rec.Outcome, rec.Version, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record solve: %w", err)
	}
	return nil
}

// Summary returns per-host, per-algorithm aggregates.
func (r *SQLiteRecorder) Summary(ctx context.Context, host string) ([]models.SolveSummary, error) {
	query := `
		SELECT host, algorithm, COUNT(*),
		       SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END),
		       AVG(elapsed_ms)
		FROM solve_records`
	args := []any{models.OutcomeRedeemed}
	if host != "" {
		query += ` WHERE host = ?`
		args = append(args, host)
	}
	query += ` GROUP BY host, algorithm ORDER BY host, algorithm`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("solve summary: %w", err)
	}
	defer rows.Close()

	var out []models.SolveSummary
	for rows.Next() {
		var s models.SolveSummary
		if err := rows.Scan(&s.Host, &s.Algorithm, &s.Solves, &s.Redeemed, &s.AvgElapsedMS); err != nil {
			return nil, fmt.Errorf("summary scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Recent returns the newest solve records.
func (r *SQLiteRecorder) Recent(ctx context.Context, host string, limit int) ([]models.SolveRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT host, algorithm, difficulty, nonce, attempts, elapsed_ms, outcome, version, created_at
		FROM solve_records`
	args := []any{}
	if host != "" {
		query += ` WHERE host = ?`
		args = append(args, host)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent solves: %w", err)
	}
	defer rows.Close()

	var out []models.SolveRecord
	for rows.Next() {
		var rec models.SolveRecord
		if err := rows.Scan(&rec.Host, &rec.Algorithm, &rec.Difficulty, &rec.Nonce,
			&rec.Attempts, &rec.ElapsedMS, &rec.Outcome, &rec.Version, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("solve scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the database connection.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
