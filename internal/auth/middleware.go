package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wrkhub/authgate/internal/autherr"
	"github.com/wrkhub/authgate/internal/identity"
	"github.com/wrkhub/authgate/internal/models"
	"github.com/wrkhub/authgate/internal/session"
)

// UserDirectory is the identity-store surface the resolver needs.
type UserDirectory interface {
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	APITokenByHash(ctx context.Context, hash string) (*models.APIToken, error)
	TouchAPIToken(ctx context.Context, id uuid.UUID, at time.Time) error
}

// OAuthTokenSource resolves opaque bearer tokens minted by the OAuth engine.
type OAuthTokenSource interface {
	AccessTokenByToken(ctx context.Context, token string) (*models.AccessToken, error)
}

// SessionResolver maps a session cookie to a user.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (uuid.UUID, error)
}

// Resolver turns an incoming request into a Principal. It tries, in order:
// bearer JWT, API key header, opaque OAuth bearer token, session cookie.
// When nothing matches, the request proceeds as anonymous; a credential
// that is present but invalid ends the request with 401.
type Resolver struct {
	jwtSecret    string
	apiKeyHeader string
	cookieName   string
	users        UserDirectory
	oauthTokens  OAuthTokenSource
	sessions     SessionResolver
}

func NewResolver(jwtSecret, apiKeyHeader, cookieName string,
	users UserDirectory, oauthTokens OAuthTokenSource, sessions SessionResolver) *Resolver {
	return &Resolver{
		jwtSecret:    jwtSecret,
		apiKeyHeader: apiKeyHeader,
		cookieName:   cookieName,
		users:        users,
		oauthTokens:  oauthTokens,
		sessions:     sessions,
	}
}

func (m *Resolver) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.resolve(r)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func (m *Resolver) resolve(r *http.Request) (*Principal, error) {
	ctx := r.Context()

	if bearer := extractBearerToken(r); bearer != "" {
		// Three dots means a JWT; anything else is an opaque OAuth token.
		if strings.Count(bearer, ".") == 2 {
			return m.resolveJWT(ctx, bearer)
		}
		return m.resolveOAuthToken(ctx, bearer)
	}

	if key := r.Header.Get(m.apiKeyHeader); key != "" {
		return m.resolveAPIKey(ctx, key)
	}

	if c, err := r.Cookie(m.cookieName); err == nil && c.Value != "" {
		return m.resolveSession(ctx, c.Value)
	}

	return anonymous, nil
}

func (m *Resolver) resolveJWT(ctx context.Context, token string) (*Principal, error) {
	userID, _, err := ParseToken(m.jwtSecret, token, PurposeAccess)
	if err != nil {
		return nil, autherr.New(autherr.TokenExpired, "bearer token is invalid or expired")
	}
	user, err := m.users.UserByID(ctx, userID)
	if err != nil {
		return nil, autherr.New(autherr.TokenExpired, "bearer token does not identify a user")
	}
	return &Principal{User: user, Method: MethodJWT}, nil
}

func (m *Resolver) resolveAPIKey(ctx context.Context, key string) (*Principal, error) {
	hash := identity.HashAPIToken(key)
	token, err := m.users.APITokenByHash(ctx, hash)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, autherr.New(autherr.TokenNotSet, "API key is not recognized")
	}
	if err != nil {
		return nil, autherr.New(autherr.TokenNotSet, "API key lookup failed")
	}
	if subtle.ConstantTimeCompare([]byte(token.TokenHash), []byte(hash)) != 1 {
		return nil, autherr.New(autherr.TokenNotSet, "API key is not recognized")
	}
	if token.ExpiresAt != nil && token.ExpiresAt.Before(time.Now()) {
		return nil, autherr.New(autherr.TokenExpired, "API key has expired")
	}

	user, err := m.users.UserByID(ctx, token.UserID)
	if err != nil {
		return nil, autherr.New(autherr.TokenNotSet, "API key does not identify a user")
	}

	_ = m.users.TouchAPIToken(ctx, token.ID, time.Now().UTC())

	return &Principal{User: user, Method: MethodAPIKey, IsService: token.IsService}, nil
}

func (m *Resolver) resolveOAuthToken(ctx context.Context, token string) (*Principal, error) {
	at, err := m.oauthTokens.AccessTokenByToken(ctx, token)
	if err != nil {
		return nil, autherr.New(autherr.TokenNotSet, "access token is not recognized")
	}
	if at.Expired(time.Now().UTC()) {
		return nil, autherr.New(autherr.TokenExpired, "access token has expired")
	}
	if at.UserID == nil {
		return nil, autherr.New(autherr.TokenNotSet, "access token has no subject")
	}
	user, err := m.users.UserByID(ctx, *at.UserID)
	if err != nil {
		return nil, autherr.New(autherr.TokenNotSet, "access token does not identify a user")
	}
	return &Principal{
		User:        user,
		Method:      MethodOAuth,
		WorkspaceID: at.WorkspaceID,
		Scopes:      at.Scopes,
	}, nil
}

func (m *Resolver) resolveSession(ctx context.Context, token string) (*Principal, error) {
	userID, err := m.sessions.Resolve(ctx, token)
	if errors.Is(err, session.ErrNotFound) {
		// A stale cookie degrades to anonymous rather than blocking the
		// request; browser flows redirect to login from there.
		return anonymous, nil
	}
	if err != nil {
		return nil, autherr.New(autherr.TokenNotSet, "session lookup failed")
	}
	user, err := m.users.UserByID(ctx, userID)
	if err != nil {
		return anonymous, nil
	}
	return &Principal{User: user, Method: MethodSession}, nil
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, err error) {
	ae := autherr.From(err)
	if ae == nil {
		ae = autherr.New(autherr.TokenNotSet, "authentication failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.HTTPStatus())
	json.NewEncoder(w).Encode(map[string]string{
		"error_code":    string(ae.Code),
		"error_message": ae.Message,
	})
}
