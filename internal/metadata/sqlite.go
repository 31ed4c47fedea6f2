package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/starford/galleria/internal/apperr"
	"github.com/starford/galleria/internal/models"
	"github.com/starford/galleria/internal/sqlitedb"
)

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS photos (
	path        TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	favorite    INTEGER NOT NULL DEFAULT 0,
	description TEXT NOT NULL DEFAULT '',
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS authorized_users (
	email TEXT PRIMARY KEY
);
`

// SQLite is a local Store. Rows keep the order in which they were first inserted.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the metadata database at path.
func OpenSQLite(path string) (*SQLite, error) {
	conn, err := sqlitedb.Open(path, sqliteSchemaSQL)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) FetchAll(ctx context.Context) ([]models.PhotoMetadataRow, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT path, name, favorite, description FROM photos ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("metadata: fetch rows: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []models.PhotoMetadataRow
	for rows.Next() {
		var r models.PhotoMetadataRow
		if err := rows.Scan(&r.Path, &r.Name, &r.Favorite, &r.Description); err != nil {
			return nil, fmt.Errorf("metadata: scan row: %w: %w", apperr.ErrStoreUnavailable, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metadata: fetch rows: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *SQLite) Upsert(ctx context.Context, row models.PhotoMetadataRow) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO photos (path, name, favorite, description, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name        = excluded.name,
			favorite    = excluded.favorite,
			description = excluded.description,
			updated_at  = excluded.updated_at
	`, row.Path, row.Name, row.Favorite, row.Description, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("metadata: upsert %s: %w: %w", row.Path, apperr.ErrStoreUnavailable, err)
	}
	return nil
}

// AuthorizedEmails lists the authorized_users table.
func (s *SQLite) AuthorizedEmails(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT email FROM authorized_users ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("metadata: fetch users: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("metadata: scan user: %w: %w", apperr.ErrStoreUnavailable, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metadata: fetch users: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	return out, nil
}

// AddAuthorizedEmail inserts email into authorized_users.
func (s *SQLite) AddAuthorizedEmail(ctx context.Context, email string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO authorized_users (email) VALUES (?)`, email)
	if err != nil {
		return fmt.Errorf("metadata: add user: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	return nil
}

var _ Store = (*SQLite)(nil)
