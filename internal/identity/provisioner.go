package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/wrkhub/authgate/internal/adapters"
	"github.com/wrkhub/authgate/internal/autherr"
	"github.com/wrkhub/authgate/internal/models"
)

// Backend is the slice of the credential store the provisioner writes
// through; *Store satisfies it, tests use a fake.
type Backend interface {
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUserWithProfile(ctx context.Context, p CreateUserParams) (*models.User, error)
	UpsertLinkedAccount(ctx context.Context, la *models.LinkedAccount) error
	RecordLogin(ctx context.Context, userID uuid.UUID, medium, ip, userAgent string) error
	Reactivate(ctx context.Context, userID uuid.UUID) (bool, error)
	SyncProfileFields(ctx context.Context, userID uuid.UUID, displayName, firstName, lastName string) error
	SetAvatar(ctx context.Context, userID uuid.UUID, assetID *uuid.UUID, externalURL string) error
	PendingInvite(ctx context.Context, email string) (*models.WorkspaceInvite, error)
}

// ActivationNotifier announces a reactivated account. Fire-and-forget.
type ActivationNotifier interface {
	SendActivation(ctx context.Context, email string) error
}

// AvatarStore is the storage collaborator used for IdP avatar sync.
type AvatarStore interface {
	Put(ctx context.Context, data []byte, contentType string) (uuid.UUID, error)
}

type Provisioner struct {
	backend  Backend
	avatars  AvatarStore
	notifier ActivationNotifier

	enableSignup  bool
	syncEnabled   func(provider string) bool
	maxAvatarSize int64
	httpClient    *http.Client
}

func NewProvisioner(backend Backend, avatars AvatarStore, notifier ActivationNotifier,
	enableSignup bool, syncEnabled func(provider string) bool, maxAvatarSize int64) *Provisioner {
	return &Provisioner{
		backend:       backend,
		avatars:       avatars,
		notifier:      notifier,
		enableSignup:  enableSignup,
		syncEnabled:   syncEnabled,
		maxAvatarSize: maxAvatarSize,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ProvisionParams carries one adapter result into find-or-create.
// PasswordHash is set only on password signups; everyone else gets an
// auto-generated secret that can never be used for password login.
type ProvisionParams struct {
	Identity     *adapters.ExternalIdentity
	Mode         adapters.Mode
	PasswordHash string
}

// Provision resolves the external identity to a user, creating one when the
// sign-up policy allows it, then performs IdP sync, login bookkeeping and
// the linked-account upsert.
func (p *Provisioner) Provision(ctx context.Context, rctx adapters.RequestContext, params ProvisionParams) (*models.User, error) {
	id := params.Identity
	email := models.NormalizeEmail(id.Email)

	user, err := p.backend.UserByEmail(ctx, email)
	isNew := false
	switch {
	case errors.Is(err, ErrNotFound):
		if params.Mode == adapters.ModeSignin {
			return nil, autherr.New(autherr.UserDoesNotExist, "no account exists for this email").
				WithPayload("email", email)
		}
		user, err = p.createUser(ctx, email, params)
		if err != nil {
			return nil, err
		}
		isNew = true
	case err != nil:
		return nil, fmt.Errorf("resolve user: %w", err)
	case params.Mode == adapters.ModeSignup:
		return nil, autherr.New(autherr.UserAlreadyExists, "an account already exists for this email").
			WithPayload("email", email)
	}

	if !isNew && id.TokenData != nil && p.syncEnabled != nil && p.syncEnabled(id.Provider) {
		p.syncFromIdP(ctx, user, id)
	}

	if err := p.backend.RecordLogin(ctx, user.ID, id.Provider, rctx.IP, rctx.UserAgent); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}

	reactivated, err := p.backend.Reactivate(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("reactivate: %w", err)
	}
	if reactivated {
		if err := p.notifier.SendActivation(ctx, user.Email); err != nil {
			slog.Error("activation notice dispatch failed", "error", err)
		}
	}

	if id.TokenData != nil {
		la := &models.LinkedAccount{
			UserID:                user.ID,
			Provider:              id.Provider,
			ProviderAccountID:     id.ProviderAccountID,
			AccessToken:           id.TokenData.AccessToken,
			RefreshToken:          id.TokenData.RefreshToken,
			AccessTokenExpiresAt:  id.TokenData.AccessTokenExpiresAt,
			RefreshTokenExpiresAt: id.TokenData.RefreshTokenExpiresAt,
			Metadata:              id.TokenData.Metadata,
		}
		if err := p.backend.UpsertLinkedAccount(ctx, la); err != nil {
			return nil, fmt.Errorf("upsert linked account: %w", err)
		}
	}

	return user, nil
}

func (p *Provisioner) createUser(ctx context.Context, email string, params ProvisionParams) (*models.User, error) {
	if !p.enableSignup {
		_, err := p.backend.PendingInvite(ctx, email)
		if errors.Is(err, ErrNotFound) {
			return nil, autherr.New(autherr.SignupDisabled, "new sign-ups are disabled on this instance").
				WithPayload("email", email)
		}
		if err != nil {
			return nil, fmt.Errorf("check pending invite: %w", err)
		}
	}

	id := params.Identity
	passwordHash := params.PasswordHash
	autoset := false
	if passwordHash == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash autoset secret: %w", err)
		}
		passwordHash = string(hash)
		autoset = true
	}

	displayName := id.DisplayName
	if displayName == "" {
		displayName, _, _ = strings.Cut(email, "@")
	}

	user, err := p.backend.CreateUserWithProfile(ctx, CreateUserParams{
		Email:             email,
		DisplayName:       displayName,
		PasswordHash:      passwordHash,
		IsPasswordAutoset: autoset,
		// Magic-link and OAuth identities arrive with the address already
		// proven; password signups verify later.
		IsEmailVerified: autoset,
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// syncFromIdP overwrites profile fields from the provider payload. Failures
// degrade to recording the external avatar URL; they never fail the login.
func (p *Provisioner) syncFromIdP(ctx context.Context, user *models.User, id *adapters.ExternalIdentity) {
	if id.DisplayName != "" {
		first, last, _ := strings.Cut(id.DisplayName, " ")
		if err := p.backend.SyncProfileFields(ctx, user.ID, id.DisplayName, first, last); err != nil {
			slog.Error("profile sync failed", "error", err, "provider", id.Provider)
		}
	}

	if id.AvatarURL == "" || id.AvatarURL == user.AvatarURL {
		return
	}

	assetID, err := p.downloadAvatar(ctx, id.AvatarURL)
	if err != nil {
		slog.Warn("avatar download failed, recording external URL", "error", err)
		if err := p.backend.SetAvatar(ctx, user.ID, nil, id.AvatarURL); err != nil {
			slog.Error("avatar record failed", "error", err)
		}
		return
	}
	if err := p.backend.SetAvatar(ctx, user.ID, &assetID, id.AvatarURL); err != nil {
		slog.Error("avatar record failed", "error", err)
	}
}

func (p *Provisioner) downloadAvatar(ctx context.Context, url string) (uuid.UUID, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create avatar request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("fetch avatar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return uuid.Nil, fmt.Errorf("avatar fetch failed (%d)", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxAvatarSize+1))
	if err != nil {
		return uuid.Nil, fmt.Errorf("read avatar: %w", err)
	}
	if int64(len(data)) > p.maxAvatarSize {
		return uuid.Nil, fmt.Errorf("avatar exceeds size ceiling")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return p.avatars.Put(ctx, data, contentType)
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
