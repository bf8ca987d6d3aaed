package adapters

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/wrkhub/authgate/internal/autherr"
	"github.com/wrkhub/authgate/internal/cache"
)

const (
	oauthStateTTL    = 10 * time.Minute
	idpTimeout       = 10 * time.Second
	maxUserInfoBytes = 1 << 20
)

// StateStore mints and consumes the CSRF state tokens for the OAuth
// redirect dance. A state verifies exactly once.
type StateStore interface {
	Issue(ctx context.Context, provider string) (string, error)
	Verify(ctx context.Context, provider, state string) error
}

type RedisStateStore struct {
	cache *cache.Cache
}

func NewRedisStateStore(c *cache.Cache) *RedisStateStore {
	return &RedisStateStore{cache: c}
}

func (s *RedisStateStore) Issue(ctx context.Context, provider string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	state := hex.EncodeToString(buf)
	if err := s.cache.Set(ctx, "oauthstate_"+state, provider, oauthStateTTL); err != nil {
		return "", fmt.Errorf("store state: %w", err)
	}
	return state, nil
}

func (s *RedisStateStore) Verify(ctx context.Context, provider, state string) error {
	var stored string
	err := s.cache.GetDel(ctx, "oauthstate_"+state, &stored)
	if errors.Is(err, cache.ErrMiss) {
		return autherr.New(autherr.OAuthTokenExchangeFailed, "state token is unknown or already used")
	}
	if err != nil {
		return fmt.Errorf("verify state: %w", err)
	}
	if stored != provider {
		return autherr.New(autherr.OAuthTokenExchangeFailed, "state token does not match provider")
	}
	return nil
}

// userInfoMapper turns one provider's userinfo payload into the normalized
// identity. TokenData is filled in by the shared flow afterwards.
type userInfoMapper func(data []byte) (*ExternalIdentity, error)

// OAuthAdapter is the shared authorization-code flow; each provider supplies
// its endpoints, scopes and payload mapping.
type OAuthAdapter struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
	mapUser     userInfoMapper

	// primaryEmail, when set, runs an extra authenticated call to pick the
	// address the provider treats as primary (GitHub).
	primaryEmail func(ctx context.Context, client *http.Client) (string, error)

	states StateStore
}

func (a *OAuthAdapter) Provider() string { return a.name }

// Initiate returns the provider's authorization URL with a fresh state
// token bound to this provider.
func (a *OAuthAdapter) Initiate(ctx context.Context, rctx RequestContext, creds Credentials) (string, error) {
	state, err := a.states.Issue(ctx, a.name)
	if err != nil {
		return "", err
	}
	return a.config.AuthCodeURL(state), nil
}

func (a *OAuthAdapter) Authenticate(ctx context.Context, rctx RequestContext, creds Credentials) (*ExternalIdentity, error) {
	if err := a.states.Verify(ctx, a.name, creds.State); err != nil {
		return nil, err
	}
	if creds.Code == "" {
		return nil, autherr.New(autherr.OAuthTokenExchangeFailed, "authorization code is missing")
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, idpTimeout)
	defer cancel()

	tok, err := a.config.Exchange(exchangeCtx, creds.Code)
	if err != nil {
		return nil, autherr.New(autherr.OAuthTokenExchangeFailed, "the identity provider rejected the code")
	}

	infoCtx, cancel := context.WithTimeout(ctx, idpTimeout)
	defer cancel()

	client := a.config.Client(infoCtx, tok)
	id, err := a.fetchIdentity(infoCtx, client)
	if err != nil {
		return nil, err
	}

	if a.primaryEmail != nil {
		if email, err := a.primaryEmail(infoCtx, client); err == nil && email != "" {
			id.Email = email
		}
	}

	email, err := ValidateEmail(id.Email)
	if err != nil {
		return nil, err
	}
	id.Email = email
	id.Provider = a.name
	id.IsPasswordAutoset = true
	id.TokenData = tokenData(tok)
	return id, nil
}

func (a *OAuthAdapter) fetchIdentity(ctx context.Context, client *http.Client) (*ExternalIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, autherr.New(autherr.OAuthTokenExchangeFailed, "could not reach the identity provider")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, autherr.New(autherr.OAuthTokenExchangeFailed,
			fmt.Sprintf("userinfo request failed (%d)", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return nil, fmt.Errorf("read userinfo: %w", err)
	}
	return a.mapUser(data)
}

// tokenData normalizes the exchange result. oauth2 already resolves
// expires_in into an absolute Expiry, so no epoch arithmetic happens here.
func tokenData(tok *oauth2.Token) *TokenData {
	td := &TokenData{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry.UTC()
		td.AccessTokenExpiresAt = &expiry
	}
	return td
}
