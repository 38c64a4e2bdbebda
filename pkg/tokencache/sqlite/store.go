// Package sqlite persists redeemed tokens so they survive proxy
// restarts.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gatelift/gatelift/pkg/models"
)

// Store is a token store backed by SQLite.
type Store struct {
	db *sql.DB
}

const createTokensTable = `
CREATE TABLE IF NOT EXISTS tokens (
	host TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	version TEXT NOT NULL DEFAULT '',
	issued_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);
`

// New opens the database and creates the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open token db: %w", err)
	}
	if _, err := db.Exec(createTokensTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate token db: %w", err)
	}
	return &Store{db: db}, nil
}

// Save upserts a token record.
func (s *Store) Save(ctx context.Context, rec models.TokenRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tokens (host, token, version, issued_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Host, rec.Token, rec.Version, rec.IssuedAt.UTC(), rec.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("token save: %w", err)
	}
	return nil
}

// Delete removes a host's token.
func (s *Store) Delete(ctx context.Context, host string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE host = ?`, host)
	if err != nil {
		return fmt.Errorf("token delete: %w", err)
	}
	return nil
}

// LoadAll returns every persisted token record.
func (s *Store) LoadAll(ctx context.Context) ([]models.TokenRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT host, token, version, issued_at, expires_at FROM tokens`)
	if err != nil {
		return nil, fmt.Errorf("token load: %w", err)
	}
	defer rows.Close()

	var recs []models.TokenRecord
	for rows.Next() {
		var rec models.TokenRecord
		if err := rows.Scan(&rec.Host, &rec.Token, &rec.Version, &rec.IssuedAt, &rec.ExpiresAt); err != nil {
			return nil, fmt.Errorf("token scan: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Count returns the number of persisted tokens.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tokens`).Scan(&n); err != nil {
		return 0, fmt.Errorf("token count: %w", err)
	}
	return n, nil
}

// Clear removes token rows. If expiredOnly is true, only rows past
// their expiry are removed.
func (s *Store) Clear(ctx context.Context, expiredOnly bool) error {
	query := `DELETE FROM tokens`
	args := []any{}
	if expiredOnly {
		query = `DELETE FROM tokens WHERE expires_at < ?`
		args = append(args, time.Now().UTC())
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("token clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
