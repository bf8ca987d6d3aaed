package adapters

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrkhub/authgate/internal/autherr"
	"github.com/wrkhub/authgate/internal/cache"
)

type fakeCodeStore struct {
	data map[string][]byte
}

func newFakeCodeStore() *fakeCodeStore {
	return &fakeCodeStore{data: make(map[string][]byte)}
}

func (f *fakeCodeStore) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := f.data[key]
	if !ok {
		return cache.ErrMiss
	}
	return json.Unmarshal(raw, dest)
}

func (f *fakeCodeStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = raw
	return nil
}

func (f *fakeCodeStore) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

type fakeMagicNotifier struct {
	email string
	code  string
}

func (f *fakeMagicNotifier) SendMagicCode(ctx context.Context, email, code string) error {
	f.email = email
	f.code = code
	return nil
}

func TestMagicInitiate(t *testing.T) {
	ctx := context.Background()
	codes := newFakeCodeStore()
	notifier := &fakeMagicNotifier{}
	adapter := NewMagicAdapter(codes, notifier)

	key, err := adapter.Initiate(ctx, RequestContext{}, Credentials{Email: "Kim@Example.com"})
	require.NoError(t, err)

	assert.Equal(t, "magic_kim@example.com", key)
	assert.Equal(t, "kim@example.com", notifier.email)
	assert.Len(t, notifier.code, 6)
	assert.Contains(t, codes.data, key)
	// The stored entry holds a hash, never the code.
	assert.NotContains(t, string(codes.data[key]), notifier.code)
}

func TestMagicAuthenticate(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*MagicAdapter, *fakeCodeStore, string) {
		codes := newFakeCodeStore()
		notifier := &fakeMagicNotifier{}
		adapter := NewMagicAdapter(codes, notifier)
		_, err := adapter.Initiate(ctx, RequestContext{}, Credentials{Email: "kim@example.com"})
		require.NoError(t, err)
		return adapter, codes, notifier.code
	}

	t.Run("correct code consumes the entry", func(t *testing.T) {
		adapter, codes, code := setup(t)

		id, err := adapter.Authenticate(ctx, RequestContext{}, Credentials{
			Email: "kim@example.com", Code: code,
		})
		require.NoError(t, err)
		assert.Equal(t, "magic-code", id.Provider)
		assert.True(t, id.IsPasswordAutoset)
		assert.Empty(t, codes.data)

		// Re-use after success reads as expired.
		_, err = adapter.Authenticate(ctx, RequestContext{}, Credentials{
			Email: "kim@example.com", Code: code,
		})
		assert.True(t, autherr.Is(err, autherr.MagicExpired))
	})

	t.Run("wrong code counts attempts", func(t *testing.T) {
		adapter, _, code := setup(t)

		_, err := adapter.Authenticate(ctx, RequestContext{}, Credentials{
			Email: "kim@example.com", Code: "000000",
		})
		assert.True(t, autherr.Is(err, autherr.InvalidMagicCode))

		// The real code still works after a few misses.
		id, err := adapter.Authenticate(ctx, RequestContext{}, Credentials{
			Email: "kim@example.com", Code: code,
		})
		require.NoError(t, err)
		assert.Equal(t, "kim@example.com", id.Email)
	})

	t.Run("exhaustion after too many attempts", func(t *testing.T) {
		adapter, codes, code := setup(t)

		wrong := "000000"
		if code == wrong {
			wrong = "000001"
		}
		for i := 0; i < magicMaxAttempts; i++ {
			_, err := adapter.Authenticate(ctx, RequestContext{}, Credentials{
				Email: "kim@example.com", Code: wrong,
			})
			assert.True(t, autherr.Is(err, autherr.InvalidMagicCode))
		}

		// The sixth attempt trips the limit.
		_, err := adapter.Authenticate(ctx, RequestContext{}, Credentials{
			Email: "kim@example.com", Code: wrong,
		})
		assert.True(t, autherr.Is(err, autherr.MagicExhausted))

		// Even the correct code is refused now, and the hash is gone.
		_, err = adapter.Authenticate(ctx, RequestContext{}, Credentials{
			Email: "kim@example.com", Code: code,
		})
		assert.True(t, autherr.Is(err, autherr.MagicExhausted))
		assert.False(t, strings.Contains(string(codes.data["magic_kim@example.com"]), hashMagicCode(code)))
	})

	t.Run("no entry reads as expired", func(t *testing.T) {
		adapter := NewMagicAdapter(newFakeCodeStore(), &fakeMagicNotifier{})
		_, err := adapter.Authenticate(ctx, RequestContext{}, Credentials{
			Email: "kim@example.com", Code: "123456",
		})
		assert.True(t, autherr.Is(err, autherr.MagicExpired))
	})
}
