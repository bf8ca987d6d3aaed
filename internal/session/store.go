package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wrkhub/authgate/internal/cache"
)

// ErrNotFound is returned when a token resolves to no live session.
var ErrNotFound = errors.New("session: not found")

const keyPrefix = "session_"

// KV is the slice of the cache the session store uses; *cache.Cache
// satisfies it.
type KV interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Store keeps server-side sessions keyed by a 256-bit opaque token. A new
// token is minted on every sign-in; older sessions for the user stay valid
// until they expire or are revoked explicitly.
type Store struct {
	kv  KV
	ttl time.Duration
}

func NewStore(kv KV, ttl time.Duration) *Store {
	return &Store{kv: kv, ttl: ttl}
}

type entry struct {
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Store) Issue(ctx context.Context, userID uuid.UUID) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	token := hex.EncodeToString(buf)

	e := entry{UserID: userID, ExpiresAt: time.Now().UTC().Add(s.ttl)}
	if err := s.kv.Set(ctx, keyPrefix+token, e, s.ttl); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

func (s *Store) Resolve(ctx context.Context, token string) (uuid.UUID, error) {
	var e entry
	err := s.kv.Get(ctx, keyPrefix+token, &e)
	if errors.Is(err, cache.ErrMiss) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("load session: %w", err)
	}
	if time.Now().UTC().After(e.ExpiresAt) {
		_ = s.kv.Delete(ctx, keyPrefix+token)
		return uuid.Nil, ErrNotFound
	}
	return e.UserID, nil
}

func (s *Store) Revoke(ctx context.Context, token string) error {
	return s.kv.Delete(ctx, keyPrefix+token)
}

// Cookie builds the session cookie; the value is the opaque token only.
func Cookie(name, token string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func ClearCookie(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}
