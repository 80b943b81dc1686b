package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bjpass-go/internal/token"
)

func testRecord() *Record {
	return &Record{
		User:            token.Claims{"sub": "user-42", "name": "Bob"},
		AccessToken:     "at-1",
		RefreshToken:    "rt-1",
		ExpiresAt:       time.Now().Add(time.Hour),
		AuthenticatedAt: time.Now(),
	}
}

func TestInMemoryStore_PutAndGet(t *testing.T) {
	store := NewInMemoryStore(2 * time.Hour)
	ctx := context.Background()

	rec := testRecord()
	require.NoError(t, store.Put(ctx, "sess-1", rec))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "at-1", got.AccessToken)
	assert.Equal(t, "user-42", got.User.Subject())
}

func TestInMemoryStore_GetMissing(t *testing.T) {
	store := NewInMemoryStore(2 * time.Hour)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_PutOverwrites(t *testing.T) {
	store := NewInMemoryStore(2 * time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "sess-1", testRecord()))

	updated := testRecord()
	updated.AccessToken = "at-2"
	require.NoError(t, store.Put(ctx, "sess-1", updated))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", got.AccessToken)
}

func TestInMemoryStore_LifetimeExpiry(t *testing.T) {
	store := NewInMemoryStore(time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "sess-1", testRecord()))

	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err := store.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_Delete(t *testing.T) {
	store := NewInMemoryStore(2 * time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "sess-1", testRecord()))
	require.NoError(t, store.Delete(ctx, "sess-1"))

	_, err := store.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting twice is fine.
	assert.NoError(t, store.Delete(ctx, "sess-1"))
}

func TestRecord_Expired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		rec  Record
		want bool
	}{
		{"future expiry", Record{ExpiresAt: now.Add(time.Minute)}, false},
		{"past expiry", Record{ExpiresAt: now.Add(-time.Minute)}, true},
		{"no expiry known", Record{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.Expired(now))
		})
	}
}
