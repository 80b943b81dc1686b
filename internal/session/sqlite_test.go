package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bjpass-go/internal/token"
)

func newSQLiteStore(t *testing.T, lifetime time.Duration) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), lifetime, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_PutAndGet(t *testing.T) {
	store := newSQLiteStore(t, 2*time.Hour)
	ctx := context.Background()

	rec := &Record{
		User:            token.Claims{"sub": "user-42", "name": "Bob"},
		AccessToken:     "at-1",
		RefreshToken:    "rt-1",
		ExpiresAt:       time.Now().Add(time.Hour).Truncate(time.Second),
		AuthenticatedAt: time.Now().Truncate(time.Second),
	}
	require.NoError(t, store.Put(ctx, "sess-1", rec))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "at-1", got.AccessToken)
	assert.Equal(t, "rt-1", got.RefreshToken)
	assert.Equal(t, "user-42", got.User.Subject())
	assert.Equal(t, "Bob", got.User["name"])
	assert.Equal(t, rec.ExpiresAt.Unix(), got.ExpiresAt.Unix())
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := newSQLiteStore(t, 2*time.Hour)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_PutValidation(t *testing.T) {
	store := newSQLiteStore(t, 2*time.Hour)
	ctx := context.Background()

	assert.Error(t, store.Put(ctx, "", &Record{}))
	assert.Error(t, store.Put(ctx, "sess-1", nil))
}

func TestSQLiteStore_PutOverwrites(t *testing.T) {
	store := newSQLiteStore(t, 2*time.Hour)
	ctx := context.Background()

	first := &Record{User: token.Claims{"sub": "user-42"}, AccessToken: "at-1"}
	require.NoError(t, store.Put(ctx, "sess-1", first))

	second := &Record{User: token.Claims{"sub": "user-42"}, AccessToken: "at-2", RefreshToken: "rt-2"}
	require.NoError(t, store.Put(ctx, "sess-1", second))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", got.AccessToken)
	assert.Equal(t, "rt-2", got.RefreshToken)
}

func TestSQLiteStore_LifetimeExpiry(t *testing.T) {
	store := newSQLiteStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "sess-1", &Record{User: token.Claims{}, AccessToken: "at-1"}))

	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err := store.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// The expired row is gone even through a fresh clock.
	store.now = time.Now
	_, err = store.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := newSQLiteStore(t, 2*time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "sess-1", &Record{User: token.Claims{}, AccessToken: "at-1"}))
	require.NoError(t, store.Delete(ctx, "sess-1"))

	_, err := store.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path, 2*time.Hour, nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "sess-1", &Record{
		User:        token.Claims{"sub": "user-42"},
		AccessToken: "at-1",
	}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path, 2*time.Hour, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "user-42", got.User.Subject())
}

func TestSQLiteStore_EncryptedTokensAtRest(t *testing.T) {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	cipher, err := NewTokenCipher(key)
	require.NoError(t, err)

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), 2*time.Hour, cipher)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "sess-1", &Record{
		User:         token.Claims{"sub": "user-42"},
		AccessToken:  "at-secret",
		RefreshToken: "rt-secret",
	}))

	// The round trip is transparent.
	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "at-secret", got.AccessToken)
	assert.Equal(t, "rt-secret", got.RefreshToken)

	// The raw columns never contain plaintext tokens.
	var rawAccess, rawRefresh string
	require.NoError(t, store.db.QueryRow(
		`SELECT access_token, refresh_token FROM sessions WHERE session_id = ?`, "sess-1").
		Scan(&rawAccess, &rawRefresh))
	assert.NotEqual(t, "at-secret", rawAccess)
	assert.NotEqual(t, "rt-secret", rawRefresh)
	assert.NotContains(t, rawAccess, "secret")
}

func TestSQLiteStore_DeleteExpired(t *testing.T) {
	store := newSQLiteStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "old", &Record{User: token.Claims{}, AccessToken: "at-1"}))
	require.NoError(t, store.Put(ctx, "fresh", &Record{User: token.Claims{}, AccessToken: "at-2"}))

	// Backdate one row past the lifetime.
	_, err := store.db.Exec(`UPDATE sessions SET updated_at = ? WHERE session_id = ?`,
		time.Now().Add(-2*time.Hour).Unix(), "old")
	require.NoError(t, err)

	removed, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "fresh")
	assert.NoError(t, err)
}
