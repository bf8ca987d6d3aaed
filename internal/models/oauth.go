package models

import (
	"time"

	"github.com/google/uuid"
)

type ClientType string

const (
	ClientConfidential ClientType = "confidential"
	ClientPublic       ClientType = "public"
)

const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
)

type OAuthApplication struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	ClientID          string     `json:"client_id" db:"client_id"`
	ClientSecretHash  string     `json:"-" db:"client_secret_hash"`
	Name              string     `json:"name" db:"name"`
	RedirectURIs      []string   `json:"redirect_uris" db:"redirect_uris"`
	ClientType        ClientType `json:"client_type" db:"client_type"`
	GrantTypesAllowed []string   `json:"grant_types_allowed" db:"grant_types_allowed"`
	SkipAuthorization bool       `json:"skip_authorization" db:"skip_authorization"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

func (a *OAuthApplication) AllowsGrant(grantType string) bool {
	for _, g := range a.GrantTypesAllowed {
		if g == grantType {
			return true
		}
	}
	return false
}

func (a *OAuthApplication) AllowsRedirect(uri string) bool {
	for _, u := range a.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// AuthorizationGrant is a single-use code awaiting exchange. Consumption is
// atomic: either a fresh token pair comes back or the grant stays intact.
type AuthorizationGrant struct {
	Code                       string     `json:"-" db:"code"`
	ApplicationID              uuid.UUID  `json:"application_id" db:"application_id"`
	UserID                     uuid.UUID  `json:"user_id" db:"user_id"`
	Scopes                     []string   `json:"scopes" db:"scopes"`
	RedirectURI                string     `json:"redirect_uri" db:"redirect_uri"`
	WorkspaceAppInstallationID *uuid.UUID `json:"workspace_app_installation_id,omitempty" db:"workspace_app_installation_id"`
	WorkspaceID                *uuid.UUID `json:"workspace_id,omitempty" db:"workspace_id"`
	ExpiresAt                  time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt                  time.Time  `json:"created_at" db:"created_at"`
}

type AccessToken struct {
	ID                         uuid.UUID  `json:"id" db:"id"`
	Token                      string     `json:"-" db:"token"`
	ApplicationID              uuid.UUID  `json:"application_id" db:"application_id"`
	UserID                     *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	WorkspaceID                *uuid.UUID `json:"workspace_id,omitempty" db:"workspace_id"`
	WorkspaceAppInstallationID *uuid.UUID `json:"workspace_app_installation_id,omitempty" db:"workspace_app_installation_id"`
	GrantType                  string     `json:"grant_type" db:"grant_type"`
	Scopes                     []string   `json:"scopes" db:"scopes"`
	ExpiresAt                  time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt                  time.Time  `json:"created_at" db:"created_at"`
}

func (t *AccessToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

type RefreshToken struct {
	ID                         uuid.UUID  `json:"id" db:"id"`
	Token                      string     `json:"-" db:"token"`
	ApplicationID              uuid.UUID  `json:"application_id" db:"application_id"`
	UserID                     *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	WorkspaceID                *uuid.UUID `json:"workspace_id,omitempty" db:"workspace_id"`
	WorkspaceAppInstallationID *uuid.UUID `json:"workspace_app_installation_id,omitempty" db:"workspace_app_installation_id"`
	Scopes                     []string   `json:"scopes" db:"scopes"`
	ExpiresAt                  time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt                  time.Time  `json:"created_at" db:"created_at"`
}

type InstallationStatus string

const (
	InstallationInstalled   InstallationStatus = "installed"
	InstallationUninstalled InstallationStatus = "uninstalled"
)

// WorkspaceAppInstallation binds an OAuth application to a workspace and the
// bot user that its client-credentials tokens act as.
type WorkspaceAppInstallation struct {
	ID            uuid.UUID          `json:"id" db:"id"`
	ApplicationID uuid.UUID          `json:"application_id" db:"application_id"`
	WorkspaceID   uuid.UUID          `json:"workspace_id" db:"workspace_id"`
	AppBotID      uuid.UUID          `json:"app_bot_id" db:"app_bot_id"`
	Status        InstallationStatus `json:"status" db:"status"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
}
