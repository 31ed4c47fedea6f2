package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/galleria/internal/apperr"
	"github.com/starford/galleria/internal/sqlitedb"
)

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS session_entries (
	session_id TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	expires_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, key)
);

CREATE INDEX IF NOT EXISTS idx_session_entries_expires ON session_entries(expires_at);
`

// SQLite is a Store persisted in a SQLite table, surviving restarts.
type SQLite struct {
	conn *sql.DB
	ttl  time.Duration
	now  func() time.Time
}

// OpenSQLite opens (or creates) the session database at path.
func OpenSQLite(path string, ttl time.Duration) (*SQLite, error) {
	conn, err := sqlitedb.Open(path, sqliteSchemaSQL)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SQLite{conn: conn, ttl: ttl, now: time.Now}, nil
}

func (s *SQLite) Get(ctx context.Context, sessionID, key string) (string, error) {
	var value string
	var expiresAt time.Time
	err := s.conn.QueryRowContext(ctx,
		`SELECT value, expires_at FROM session_entries WHERE session_id = ? AND key = ?`,
		sessionID, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("session: get %s: %w", key, err)
	}
	if !s.now().Before(expiresAt) {
		_ = s.Delete(ctx, sessionID, key)
		return "", apperr.ErrNotFound
	}
	return value, nil
}

func (s *SQLite) Set(ctx context.Context, sessionID, key, value string) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO session_entries (session_id, key, value, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, key) DO UPDATE SET
			value      = excluded.value,
			expires_at = excluded.expires_at
	`, sessionID, key, value, s.now().Add(s.ttl).UTC())
	if err != nil {
		return fmt.Errorf("session: set %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, sessionID, key string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM session_entries WHERE session_id = ? AND key = ?`, sessionID, key)
	if err != nil {
		return fmt.Errorf("session: delete %s: %w", key, err)
	}
	return nil
}

// Purge removes every expired entry and returns how many were dropped.
func (s *SQLite) Purge(ctx context.Context) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM session_entries WHERE expires_at <= ?`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("session: purge: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

var _ Store = (*SQLite)(nil)
