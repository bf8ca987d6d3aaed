package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is the shared sentinel for lookups that match no row. Stores
// return it (or an alias of it) so callers can branch without knowing which
// store answered.
var ErrNotFound = errors.New("not found")

// NormalizeEmail trims and lowercases; all email comparison in the gateway
// goes through this.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type User struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	Email             string     `json:"email" db:"email"`
	DisplayName       string     `json:"display_name" db:"display_name"`
	FirstName         string     `json:"first_name,omitempty" db:"first_name"`
	LastName          string     `json:"last_name,omitempty" db:"last_name"`
	AvatarAssetID     *uuid.UUID `json:"avatar_asset_id,omitempty" db:"avatar_asset_id"`
	AvatarURL         string     `json:"avatar_url,omitempty" db:"avatar_url"`
	PasswordHash      string     `json:"-" db:"password_hash"`
	IsPasswordAutoset bool       `json:"is_password_autoset" db:"is_password_autoset"`
	IsActive          bool       `json:"is_active" db:"is_active"`
	IsBot             bool       `json:"is_bot" db:"is_bot"`
	IsEmailVerified   bool       `json:"is_email_verified" db:"is_email_verified"`
	LastLoginMedium   string     `json:"last_login_medium,omitempty" db:"last_login_medium"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	LastLoginIP       string     `json:"-" db:"last_login_ip"`
	LastLoginUA       string     `json:"-" db:"last_login_ua"`
	TokenUpdatedAt    *time.Time `json:"token_updated_at,omitempty" db:"token_updated_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// Profile is created atomically with its User and is never observed alone.
type Profile struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	UserID          uuid.UUID  `json:"user_id" db:"user_id"`
	Theme           string     `json:"theme" db:"theme"`
	IsOnboarded     bool       `json:"is_onboarded" db:"is_onboarded"`
	OnboardingStep  string     `json:"onboarding_step,omitempty" db:"onboarding_step"`
	LastWorkspaceID *uuid.UUID `json:"last_workspace_id,omitempty" db:"last_workspace_id"`
	BillingPlan     string     `json:"billing_plan,omitempty" db:"billing_plan"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// LinkedAccount is a third-party identity bound to a user. At most one row
// exists per (user, provider); repeat logins update tokens in place.
type LinkedAccount struct {
	ID                    uuid.UUID      `json:"id" db:"id"`
	UserID                uuid.UUID      `json:"user_id" db:"user_id"`
	Provider              string         `json:"provider" db:"provider"`
	ProviderAccountID     string         `json:"provider_account_id" db:"provider_account_id"`
	AccessToken           string         `json:"-" db:"access_token"`
	RefreshToken          string         `json:"-" db:"refresh_token"`
	AccessTokenExpiresAt  *time.Time     `json:"access_token_expires_at,omitempty" db:"access_token_expires_at"`
	RefreshTokenExpiresAt *time.Time     `json:"refresh_token_expires_at,omitempty" db:"refresh_token_expires_at"`
	Metadata              map[string]any `json:"metadata,omitempty" db:"metadata"`
	LastConnectedAt       time.Time      `json:"last_connected_at" db:"last_connected_at"`
	CreatedAt             time.Time      `json:"created_at" db:"created_at"`
}

type UserType string

const (
	UserTypeHuman UserType = "human"
	UserTypeBot   UserType = "bot"
)

type APIToken struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	TokenHash   string     `json:"-" db:"token_hash"`
	UserID      uuid.UUID  `json:"user_id" db:"user_id"`
	UserType    UserType   `json:"user_type" db:"user_type"`
	Label       string     `json:"label" db:"label"`
	Description string     `json:"description,omitempty" db:"description"`
	IsService   bool       `json:"is_service" db:"is_service"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// WorkspaceInvite lets a first-time sign-up through even when sign-ups are
// globally disabled.
type WorkspaceInvite struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Email       string     `json:"email" db:"email"`
	WorkspaceID uuid.UUID  `json:"workspace_id" db:"workspace_id"`
	Role        Role       `json:"role" db:"role"`
	Token       string     `json:"-" db:"token"`
	Accepted    bool       `json:"accepted" db:"accepted"`
	RespondedAt *time.Time `json:"responded_at,omitempty" db:"responded_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
