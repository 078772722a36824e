package apikey

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lowc1012/crm-gate/internal/database"
)

// Store persists API key records.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	FindByHash(ctx context.Context, hash string) (*Record, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	Touch(ctx context.Context, id string, at time.Time) error
}

var _ Store = &SQLStore{}

const createAPIKeysSchemaSQL = `
CREATE TABLE IF NOT EXISTS api_keys (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    key_hash VARCHAR(64) NOT NULL,
    name VARCHAR(255) NOT NULL DEFAULT '',
    permissions TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NULL,
    revoked_at TIMESTAMP NULL,
    last_used_at TIMESTAMP NULL
)`

const createAPIKeysHashIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash)`

const createAPIKeysUserIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id)`

// SQLStore keeps API keys in a sqlite3 or postgres database.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore creates the store and its schema.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case database.DialectSQLite, database.DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	for _, stmt := range []string{createAPIKeysSchemaSQL, createAPIKeysHashIndexSQL, createAPIKeysUserIndexSQL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize api key schema: %w", err)
		}
	}
	return s, nil
}

func (s *SQLStore) query(q string) string {
	return database.Rebind(s.dialect, q)
}

func (s *SQLStore) Create(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" || rec.Hash == "" || rec.UserID == "" {
		return fmt.Errorf("api key record requires id, user id and hash")
	}

	_, err := s.db.ExecContext(ctx, s.query(`
INSERT INTO api_keys (id, user_id, key_hash, name, permissions, created_at, expires_at, revoked_at, last_used_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.UserID, rec.Hash, rec.Name, joinPermissions(rec.Permissions),
		rec.CreatedAt.UTC(), nullTime(rec.ExpiresAt), nullTime(rec.RevokedAt), nullTime(rec.LastUsedAt))
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// FindByHash returns the record for hash or ErrNotFound.
func (s *SQLStore) FindByHash(ctx context.Context, hash string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, s.query(`
SELECT id, user_id, key_hash, name, permissions, created_at, expires_at, revoked_at, last_used_at
FROM api_keys WHERE key_hash = ?`), hash)

	var (
		rec         Record
		permissions string
		expiresAt   sql.NullTime
		revokedAt   sql.NullTime
		lastUsedAt  sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Hash, &rec.Name, &permissions,
		&rec.CreatedAt, &expiresAt, &revokedAt, &lastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query api key: %w", err)
	}

	rec.Permissions = splitPermissions(permissions)
	rec.ExpiresAt = timePtr(expiresAt)
	rec.RevokedAt = timePtr(revokedAt)
	rec.LastUsedAt = timePtr(lastUsedAt)
	return &rec, nil
}

// Revoke marks the key revoked. Revoking an already revoked key keeps the first timestamp.
func (s *SQLStore) Revoke(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.query(`
UPDATE api_keys SET revoked_at = COALESCE(revoked_at, ?) WHERE id = ?`), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	return requireRow(res)
}

// Touch records the last time the key was used.
func (s *SQLStore) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.query(`
UPDATE api_keys SET last_used_at = ? WHERE id = ?`), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update api key last use: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
