package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/wrkhub/authgate/internal/models"
)

// Method records how a principal was authenticated.
type Method string

const (
	MethodJWT       Method = "jwt"
	MethodAPIKey    Method = "api-key"
	MethodOAuth     Method = "oauth"
	MethodSession   Method = "session"
	MethodAnonymous Method = "anonymous"
)

// Principal is the authenticated actor bound to a request. WorkspaceID is
// set only for OAuth tokens bound to a workspace app installation, and
// confines the token to that workspace.
type Principal struct {
	User        *models.User
	Method      Method
	WorkspaceID *uuid.UUID
	Scopes      []string
	IsService   bool
}

var anonymous = &Principal{Method: MethodAnonymous}

func (p *Principal) Anonymous() bool {
	return p == nil || p.User == nil
}

func (p *Principal) UserID() uuid.UUID {
	if p.Anonymous() {
		return uuid.Nil
	}
	return p.User.ID
}

type contextKey string

const principalKey contextKey = "principal"

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext never returns nil; an unauthenticated request yields
// the anonymous principal.
func PrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey).(*Principal); ok && p != nil {
		return p
	}
	return anonymous
}
