package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prefix marks raw keys issued by this service.
const Prefix = "crm_"

const rawKeyBytes = 32

// Record is a stored API key. Only the hash of the raw key is kept.
type Record struct {
	ID          string
	UserID      string
	Hash        string
	Name        string
	Permissions []string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	RevokedAt   *time.Time
	LastUsedAt  *time.Time
}

// Active reports whether the key is neither revoked nor expired at now.
func (r *Record) Active(now time.Time) bool {
	if r == nil || r.RevokedAt != nil {
		return false
	}
	return r.ExpiresAt == nil || now.Before(*r.ExpiresAt)
}

// CheckActive returns ErrInactive when the key cannot be used at now.
func (r *Record) CheckActive(now time.Time) error {
	if !r.Active(now) {
		return ErrInactive
	}
	return nil
}

// Hash returns the lowercase hex SHA-256 of a raw key.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Generate returns a new random raw key.
func Generate() (string, error) {
	buf := make([]byte, rawKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return Prefix + hex.EncodeToString(buf), nil
}

// NewRecord generates a raw key and the record to store for it. The raw key is returned once
// and cannot be recovered from the record.
func NewRecord(userID, name string, permissions []string, ttl time.Duration, now time.Time) (string, *Record, error) {
	if strings.TrimSpace(userID) == "" {
		return "", nil, fmt.Errorf("user id is required")
	}

	raw, err := Generate()
	if err != nil {
		return "", nil, err
	}

	rec := &Record{
		ID:          uuid.NewString(),
		UserID:      userID,
		Hash:        Hash(raw),
		Name:        name,
		Permissions: normalizePermissions(permissions),
		CreatedAt:   now.UTC(),
	}
	if ttl > 0 {
		expires := now.Add(ttl).UTC()
		rec.ExpiresAt = &expires
	}
	return raw, rec, nil
}

func normalizePermissions(permissions []string) []string {
	out := make([]string, 0, len(permissions))
	seen := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func joinPermissions(permissions []string) string {
	return strings.Join(normalizePermissions(permissions), ",")
}

func splitPermissions(s string) []string {
	if s == "" {
		return []string{}
	}
	return normalizePermissions(strings.Split(s, ","))
}
