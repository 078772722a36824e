package apikey

import (
	"context"
	"testing"
	"time"

	"github.com/lowc1012/crm-gate/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	db, err := database.Open(context.Background(), "sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLStore(context.Background(), db, database.DialectSQLite)
	require.NoError(t, err)
	return store
}

func TestSQLStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	raw, rec, err := NewRecord("u1", "zapier", []string{"read", "write"}, time.Hour, now)
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, rec))

	found, err := store.FindByHash(ctx, Hash(raw))
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)
	assert.Equal(t, "u1", found.UserID)
	assert.Equal(t, "zapier", found.Name)
	assert.Equal(t, []string{"read", "write"}, found.Permissions)
	assert.True(t, found.CreatedAt.Equal(now))
	require.NotNil(t, found.ExpiresAt)
	assert.True(t, found.ExpiresAt.Equal(now.Add(time.Hour)))
	assert.Nil(t, found.RevokedAt)
	assert.Nil(t, found.LastUsedAt)
	assert.True(t, found.Active(now))
}

func TestSQLStore_FindByHashNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.FindByHash(context.Background(), Hash("crm_missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_DuplicateHashRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()

	_, rec, err := NewRecord("u1", "", nil, 0, now)
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, rec))

	dup := *rec
	dup.ID = "other"
	assert.Error(t, store.Create(ctx, &dup))
}

func TestSQLStore_RevokeAndTouch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	raw, rec, err := NewRecord("u1", "", []string{"admin"}, 0, now)
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, rec))

	require.NoError(t, store.Touch(ctx, rec.ID, now.Add(time.Minute)))
	require.NoError(t, store.Revoke(ctx, rec.ID, now.Add(2*time.Minute)))
	require.NoError(t, store.Revoke(ctx, rec.ID, now.Add(3*time.Minute)))

	found, err := store.FindByHash(ctx, Hash(raw))
	require.NoError(t, err)
	require.NotNil(t, found.LastUsedAt)
	assert.True(t, found.LastUsedAt.Equal(now.Add(time.Minute)))
	require.NotNil(t, found.RevokedAt)
	assert.True(t, found.RevokedAt.Equal(now.Add(2*time.Minute)))
	assert.False(t, found.Active(now.Add(5*time.Minute)))

	assert.ErrorIs(t, store.Revoke(ctx, "missing", now), ErrNotFound)
	assert.ErrorIs(t, store.Touch(ctx, "missing", now), ErrNotFound)
}

func TestNewSQLStore_Validation(t *testing.T) {
	_, err := NewSQLStore(context.Background(), nil, database.DialectSQLite)
	assert.Error(t, err)

	db, err := database.Open(context.Background(), "sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSQLStore(context.Background(), db, "mysql")
	assert.Error(t, err)
}
