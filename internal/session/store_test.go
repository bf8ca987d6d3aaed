package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrkhub/authgate/internal/cache"
)

type fakeKV struct {
	data map[string][]byte
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string][]byte)}
}

func (f *fakeKV) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := f.data[key]
	if !ok {
		return cache.ErrMiss
	}
	return json.Unmarshal(raw, dest)
}

func (f *fakeKV) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = raw
	return nil
}

func (f *fakeKV) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func TestIssueAndResolve(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	store := NewStore(kv, time.Hour)
	userID := uuid.New()

	token, err := store.Issue(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, token, 64)

	resolved, err := store.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, userID, resolved)
}

func TestResolveUnknownToken(t *testing.T) {
	store := NewStore(newFakeKV(), time.Hour)
	_, err := store.Resolve(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveExpiredEntry(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	store := NewStore(kv, -time.Minute)
	token, err := store.Issue(ctx, uuid.New())
	require.NoError(t, err)

	_, err = store.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)
	// Expired entries are cleaned up on read.
	assert.Empty(t, kv.data)
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeKV(), time.Hour)
	token, err := store.Issue(ctx, uuid.New())
	require.NoError(t, err)

	require.NoError(t, store.Revoke(ctx, token))
	_, err = store.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEverySignInMintsDistinctTokens(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeKV(), time.Hour)
	userID := uuid.New()

	first, err := store.Issue(ctx, userID)
	require.NoError(t, err)
	second, err := store.Issue(ctx, userID)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	for _, token := range []string{first, second} {
		resolved, err := store.Resolve(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, userID, resolved)
	}
}

func TestCookies(t *testing.T) {
	c := Cookie("app-session", "tok", time.Hour)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, 3600, c.MaxAge)

	cleared := ClearCookie("app-session")
	assert.Equal(t, -1, cleared.MaxAge)
	assert.Empty(t, cleared.Value)
}
