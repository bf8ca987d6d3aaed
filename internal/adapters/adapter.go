package adapters

import (
	"context"
	"time"
)

// Mode says whether the caller is explicitly signing up, signing in, or
// letting the gateway decide (OAuth callbacks).
type Mode string

const (
	ModeSignup Mode = "signup"
	ModeSignin Mode = "signin"
	ModeAuto   Mode = "auto"
)

// RequestContext is the per-request state an adapter may record; it is
// passed explicitly rather than threaded through shared state.
type RequestContext struct {
	IP        string
	UserAgent string
	Host      string
}

// Credentials is the union of inputs the adapters understand. Each adapter
// reads only the fields its flow uses.
type Credentials struct {
	Email        string
	Password     string
	Code         string
	State        string
	Mode         Mode
	InvitationID string
}

// TokenData carries the IdP tokens captured during an OAuth exchange.
// Expiries are absolute UTC instants; absent fields stay nil.
type TokenData struct {
	AccessToken           string         `json:"access_token"`
	RefreshToken          string         `json:"refresh_token,omitempty"`
	AccessTokenExpiresAt  *time.Time     `json:"access_token_expires_at,omitempty"`
	RefreshTokenExpiresAt *time.Time     `json:"refresh_token_expires_at,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
}

// ExternalIdentity is the normalized output of every adapter, regardless of
// how the credentials were presented.
type ExternalIdentity struct {
	Provider          string
	ProviderAccountID string
	Email             string
	DisplayName       string
	AvatarURL         string
	IsPasswordAutoset bool
	TokenData         *TokenData
}

// Adapter is one credential flow. Initiate returns a redirect URL (OAuth),
// an opaque challenge key (magic link), or "" when there is nothing to
// start (password). Authenticate resolves the presented credentials into an
// ExternalIdentity or a typed gateway error.
type Adapter interface {
	Provider() string
	Initiate(ctx context.Context, rctx RequestContext, creds Credentials) (string, error)
	Authenticate(ctx context.Context, rctx RequestContext, creds Credentials) (*ExternalIdentity, error)
}
