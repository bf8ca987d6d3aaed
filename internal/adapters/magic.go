package adapters

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/wrkhub/authgate/internal/autherr"
	"github.com/wrkhub/authgate/internal/cache"
)

const (
	magicKeyPrefix   = "magic_"
	magicCodeTTL     = 10 * time.Minute
	magicMaxAttempts = 5
)

// CodeStore is the slice of the cache the magic adapter uses; *cache.Cache
// satisfies it.
type CodeStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// MagicNotifier dispatches the one-time code out of band. Fire-and-forget;
// the adapter logs failures and carries on.
type MagicNotifier interface {
	SendMagicCode(ctx context.Context, email, code string) error
}

type MagicAdapter struct {
	codes    CodeStore
	notifier MagicNotifier
}

func NewMagicAdapter(codes CodeStore, notifier MagicNotifier) *MagicAdapter {
	return &MagicAdapter{codes: codes, notifier: notifier}
}

func (a *MagicAdapter) Provider() string { return "magic-code" }

type magicEntry struct {
	CodeHash  string    `json:"code_hash"`
	Attempts  int       `json:"attempts"`
	Exhausted bool      `json:"exhausted"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Initiate generates a fresh 6-digit code, stores it under magic_{email}
// for ten minutes, dispatches it via the notifier, and returns the entry
// key as the caller-visible request key.
func (a *MagicAdapter) Initiate(ctx context.Context, rctx RequestContext, creds Credentials) (string, error) {
	email, err := ValidateEmail(creds.Email)
	if err != nil {
		return "", err
	}

	code, err := generateMagicCode()
	if err != nil {
		return "", fmt.Errorf("generate magic code: %w", err)
	}

	key := magicKeyPrefix + email
	entry := magicEntry{
		CodeHash:  hashMagicCode(code),
		Attempts:  0,
		ExpiresAt: time.Now().UTC().Add(magicCodeTTL),
	}
	if err := a.codes.Set(ctx, key, entry, magicCodeTTL); err != nil {
		return "", fmt.Errorf("store magic code: %w", err)
	}

	if err := a.notifier.SendMagicCode(ctx, email, code); err != nil {
		slog.Error("magic code dispatch failed", "error", err)
	}

	return key, nil
}

func (a *MagicAdapter) Authenticate(ctx context.Context, rctx RequestContext, creds Credentials) (*ExternalIdentity, error) {
	email, err := ValidateEmail(creds.Email)
	if err != nil {
		return nil, err
	}

	key := magicKeyPrefix + email
	var entry magicEntry
	err = a.codes.Get(ctx, key, &entry)
	if errors.Is(err, cache.ErrMiss) {
		return nil, autherr.New(autherr.MagicExpired, "the code has expired, request a new one").
			WithPayload("email", email)
	}
	if err != nil {
		return nil, fmt.Errorf("load magic code: %w", err)
	}

	now := time.Now().UTC()
	if now.After(entry.ExpiresAt) {
		_ = a.codes.Delete(ctx, key)
		return nil, autherr.New(autherr.MagicExpired, "the code has expired, request a new one").
			WithPayload("email", email)
	}
	if entry.Exhausted {
		return nil, autherr.New(autherr.MagicExhausted, "too many attempts, request a new code").
			WithPayload("email", email)
	}

	entry.Attempts++
	if entry.Attempts > magicMaxAttempts {
		// The code itself is discarded; the exhausted marker keeps further
		// attempts answering MAGIC_EXHAUSTED until the entry expires.
		entry.CodeHash = ""
		entry.Exhausted = true
		_ = a.codes.Set(ctx, key, entry, time.Until(entry.ExpiresAt))
		return nil, autherr.New(autherr.MagicExhausted, "too many attempts, request a new code").
			WithPayload("email", email)
	}

	if !constantTimeEqualHex(entry.CodeHash, hashMagicCode(creds.Code)) {
		if err := a.codes.Set(ctx, key, entry, time.Until(entry.ExpiresAt)); err != nil {
			return nil, fmt.Errorf("persist attempts: %w", err)
		}
		return nil, autherr.New(autherr.InvalidMagicCode, "the code is incorrect").
			WithPayload("email", email)
	}

	if err := a.codes.Delete(ctx, key); err != nil {
		return nil, fmt.Errorf("consume magic code: %w", err)
	}

	return &ExternalIdentity{
		Provider:          a.Provider(),
		Email:             email,
		IsPasswordAutoset: true,
	}, nil
}

func generateMagicCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashMagicCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

func constantTimeEqualHex(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
