package totp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lowc1012/crm-gate/internal/database"
)

// SecretStore holds each user's TOTP secret.
type SecretStore interface {
	Get(ctx context.Context, userID string) (string, error)
	Put(ctx context.Context, userID, secret string) error
}

var _ SecretStore = &SQLSecretStore{}

const createTOTPSchemaSQL = `
CREATE TABLE IF NOT EXISTS user_totp_secrets (
    user_id VARCHAR(255) PRIMARY KEY,
    secret VARCHAR(128) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

type SQLSecretStore struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// NewSQLSecretStore creates the store and its table.
func NewSQLSecretStore(ctx context.Context, db *sql.DB, dialect string) (*SQLSecretStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case database.DialectSQLite, database.DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	if _, err := db.ExecContext(ctx, createTOTPSchemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize totp schema: %w", err)
	}
	return &SQLSecretStore{db: db, dialect: dialect, now: time.Now}, nil
}

// Get returns the secret for userID or ErrSecretNotFound.
func (s *SQLSecretStore) Get(ctx context.Context, userID string) (string, error) {
	var secret string
	err := s.db.QueryRowContext(ctx,
		database.Rebind(s.dialect, `SELECT secret FROM user_totp_secrets WHERE user_id = ?`), userID).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query totp secret: %w", err)
	}
	return secret, nil
}

// Put stores secret for userID, replacing any earlier one.
func (s *SQLSecretStore) Put(ctx context.Context, userID, secret string) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, database.Rebind(s.dialect, `
INSERT INTO user_totp_secrets (user_id, secret, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET secret = excluded.secret, updated_at = excluded.updated_at`),
		userID, secret, now, now)
	if err != nil {
		return fmt.Errorf("failed to store totp secret: %w", err)
	}
	return nil
}
