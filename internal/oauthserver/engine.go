package oauthserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/wrkhub/authgate/internal/autherr"
	"github.com/wrkhub/authgate/internal/cache"
	"github.com/wrkhub/authgate/internal/models"
)

const installationHintTTL = 5 * time.Minute

// Store is the persistence surface the engine drives; *PgStore satisfies
// it, tests use an in-memory fake.
type Store interface {
	ApplicationByClientID(ctx context.Context, clientID string) (*models.OAuthApplication, error)
	CreateGrant(ctx context.Context, g *models.AuthorizationGrant) error
	ConsumeGrant(ctx context.Context, code string) (*models.AuthorizationGrant, error)
	CreateAccessToken(ctx context.Context, t *models.AccessToken) error
	UpdateAccessTokenBinding(ctx context.Context, t *models.AccessToken) error
	DeleteAccessToken(ctx context.Context, id uuid.UUID) error
	CreateRefreshToken(ctx context.Context, t *models.RefreshToken) error
	ConsumeRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	InstallationByID(ctx context.Context, id uuid.UUID) (*models.WorkspaceAppInstallation, error)
}

// KV is the short-lived cache holding app-installation hints between the
// authorize and token legs.
type KV interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetDel(ctx context.Context, key string, dest interface{}) error
}

// Hooks are the engine's extension points. OnGrantPersist runs before a
// grant is stored; OnAccessTokenCreate runs before an access token is
// stored, with source being the *AuthorizationGrant or *RefreshToken that
// produced it (nil for client_credentials).
type Hooks struct {
	OnGrantPersist      func(ctx context.Context, grant *models.AuthorizationGrant, clientID string) error
	OnAccessTokenCreate func(ctx context.Context, token *models.AccessToken, source any) error
}

type Engine struct {
	store Store
	cache KV
	hooks Hooks

	grantTTL   time.Duration
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewEngine(store Store, kv KV, grantTTL, accessTTL, refreshTTL time.Duration) *Engine {
	e := &Engine{
		store:      store,
		cache:      kv,
		grantTTL:   grantTTL,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
	e.hooks = Hooks{
		OnGrantPersist:      e.attachInstallationToGrant,
		OnAccessTokenCreate: copyBindingFromSource,
	}
	return e
}

// SetHooks replaces the default extension points.
func (e *Engine) SetHooks(h Hooks) {
	if h.OnGrantPersist != nil {
		e.hooks.OnGrantPersist = h.OnGrantPersist
	}
	if h.OnAccessTokenCreate != nil {
		e.hooks.OnAccessTokenCreate = h.OnAccessTokenCreate
	}
}

func installationHintKey(clientID string, userID uuid.UUID) string {
	return fmt.Sprintf("app_installation_id_%s_%s", clientID, userID)
}

type AuthorizeRequest struct {
	ClientID          string
	RedirectURI       string
	Scopes            []string
	State             string
	AppInstallationID string
}

// Authorize validates the request for an authenticated user, persists a
// single-use grant and returns the redirect URL carrying the code.
func (e *Engine) Authorize(ctx context.Context, userID uuid.UUID, req AuthorizeRequest) (string, error) {
	app, err := e.store.ApplicationByClientID(ctx, req.ClientID)
	if errors.Is(err, ErrNotFound) {
		return "", autherr.New(autherr.InvalidGrant, "unknown client")
	}
	if err != nil {
		return "", fmt.Errorf("lookup application: %w", err)
	}
	if !app.AllowsGrant(models.GrantAuthorizationCode) {
		return "", autherr.New(autherr.InvalidGrant, "client may not use the authorization_code grant")
	}
	if !app.AllowsRedirect(req.RedirectURI) {
		return "", autherr.New(autherr.InvalidGrant, "redirect_uri is not registered for this client")
	}

	if req.AppInstallationID != "" {
		if err := e.cache.Set(ctx, installationHintKey(req.ClientID, userID), req.AppInstallationID, installationHintTTL); err != nil {
			return "", fmt.Errorf("store installation hint: %w", err)
		}
	}

	code, err := opaqueToken()
	if err != nil {
		return "", err
	}

	grant := &models.AuthorizationGrant{
		Code:          code,
		ApplicationID: app.ID,
		UserID:        userID,
		Scopes:        req.Scopes,
		RedirectURI:   req.RedirectURI,
		ExpiresAt:     time.Now().UTC().Add(e.grantTTL),
	}
	if err := e.hooks.OnGrantPersist(ctx, grant, req.ClientID); err != nil {
		return "", fmt.Errorf("grant persist hook: %w", err)
	}
	if err := e.store.CreateGrant(ctx, grant); err != nil {
		return "", err
	}

	redirect, err := url.Parse(req.RedirectURI)
	if err != nil {
		return "", fmt.Errorf("parse redirect_uri: %w", err)
	}
	q := redirect.Query()
	q.Set("code", code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	redirect.RawQuery = q.Encode()
	return redirect.String(), nil
}

// attachInstallationToGrant is the default OnGrantPersist hook: it consumes
// the installation hint cached during authorization and binds the grant to
// the installation and its workspace.
func (e *Engine) attachInstallationToGrant(ctx context.Context, grant *models.AuthorizationGrant, clientID string) error {
	var hint string
	err := e.cache.GetDel(ctx, installationHintKey(clientID, grant.UserID), &hint)
	if errors.Is(err, cache.ErrMiss) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read installation hint: %w", err)
	}

	instID, err := uuid.Parse(hint)
	if err != nil {
		return nil
	}
	inst, err := e.store.InstallationByID(ctx, instID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup installation: %w", err)
	}

	grant.WorkspaceAppInstallationID = &inst.ID
	grant.WorkspaceID = &inst.WorkspaceID
	return nil
}

// copyBindingFromSource is the default OnAccessTokenCreate hook: tokens
// minted from a grant or refresh token inherit its workspace and
// installation binding.
func copyBindingFromSource(ctx context.Context, token *models.AccessToken, source any) error {
	switch src := source.(type) {
	case *models.AuthorizationGrant:
		token.WorkspaceID = src.WorkspaceID
		token.WorkspaceAppInstallationID = src.WorkspaceAppInstallationID
	case *models.RefreshToken:
		token.WorkspaceID = src.WorkspaceID
		token.WorkspaceAppInstallationID = src.WorkspaceAppInstallationID
	}
	return nil
}

type TokenRequest struct {
	GrantType         string
	ClientID          string
	ClientSecret      string
	Code              string
	RedirectURI       string
	RefreshToken      string
	AppInstallationID string
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Token runs the token endpoint for the three supported grant types.
func (e *Engine) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	app, err := e.store.ApplicationByClientID(ctx, req.ClientID)
	if errors.Is(err, ErrNotFound) {
		return nil, autherr.New(autherr.InvalidGrant, "unknown client")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup application: %w", err)
	}

	if app.ClientType == models.ClientConfidential {
		if bcrypt.CompareHashAndPassword([]byte(app.ClientSecretHash), []byte(req.ClientSecret)) != nil {
			return nil, autherr.New(autherr.InvalidGrant, "client authentication failed")
		}
	}
	if !app.AllowsGrant(req.GrantType) {
		return nil, autherr.New(autherr.InvalidGrant, "grant type is not allowed for this client")
	}

	switch req.GrantType {
	case models.GrantAuthorizationCode:
		return e.exchangeCode(ctx, app, req)
	case models.GrantClientCredentials:
		return e.clientCredentials(ctx, app, req)
	case models.GrantRefreshToken:
		return e.refresh(ctx, app, req)
	default:
		return nil, autherr.New(autherr.InvalidGrant, "unsupported grant type")
	}
}

func (e *Engine) exchangeCode(ctx context.Context, app *models.OAuthApplication, req TokenRequest) (*TokenResponse, error) {
	grant, err := e.store.ConsumeGrant(ctx, req.Code)
	if errors.Is(err, ErrNotFound) {
		return nil, autherr.New(autherr.InvalidGrant, "authorization code is unknown, expired or already used")
	}
	if err != nil {
		return nil, err
	}
	if grant.ApplicationID != app.ID || grant.RedirectURI != req.RedirectURI {
		return nil, autherr.New(autherr.InvalidGrant, "authorization code does not match this request")
	}

	access, err := e.mintAccessToken(ctx, app.ID, &grant.UserID, grant.Scopes, models.GrantAuthorizationCode, grant)
	if err != nil {
		return nil, err
	}
	refresh, err := e.mintRefreshToken(ctx, access)
	if err != nil {
		// Roll back so a half-issued pair is never observable.
		_ = e.store.DeleteAccessToken(ctx, access.ID)
		return nil, err
	}
	return e.response(access, refresh), nil
}

func (e *Engine) clientCredentials(ctx context.Context, app *models.OAuthApplication, req TokenRequest) (*TokenResponse, error) {
	if req.AppInstallationID == "" {
		return nil, autherr.New(autherr.InvalidAppInstallation, "app_installation_id is required")
	}

	// Mint first, then validate the installation; a bad installation
	// deletes the provisional token.
	access, err := e.mintAccessToken(ctx, app.ID, nil, nil, models.GrantClientCredentials, nil)
	if err != nil {
		return nil, err
	}

	fail := func() (*TokenResponse, error) {
		_ = e.store.DeleteAccessToken(ctx, access.ID)
		return nil, autherr.New(autherr.InvalidAppInstallation, "app installation is missing or not installed")
	}

	instID, err := uuid.Parse(req.AppInstallationID)
	if err != nil {
		return fail()
	}
	inst, err := e.store.InstallationByID(ctx, instID)
	if errors.Is(err, ErrNotFound) {
		return fail()
	}
	if err != nil {
		_ = e.store.DeleteAccessToken(ctx, access.ID)
		return nil, err
	}
	if inst.Status != models.InstallationInstalled || inst.ApplicationID != app.ID {
		return fail()
	}

	access.UserID = &inst.AppBotID
	access.WorkspaceID = &inst.WorkspaceID
	access.WorkspaceAppInstallationID = &inst.ID
	access.GrantType = models.GrantClientCredentials
	if err := e.store.UpdateAccessTokenBinding(ctx, access); err != nil {
		_ = e.store.DeleteAccessToken(ctx, access.ID)
		return nil, err
	}

	return e.response(access, nil), nil
}

func (e *Engine) refresh(ctx context.Context, app *models.OAuthApplication, req TokenRequest) (*TokenResponse, error) {
	src, err := e.store.ConsumeRefreshToken(ctx, req.RefreshToken)
	if errors.Is(err, ErrNotFound) {
		return nil, autherr.New(autherr.InvalidGrant, "refresh token is unknown or expired")
	}
	if err != nil {
		return nil, err
	}
	if src.ApplicationID != app.ID {
		return nil, autherr.New(autherr.InvalidGrant, "refresh token does not belong to this client")
	}

	access, err := e.mintAccessToken(ctx, app.ID, src.UserID, src.Scopes, models.GrantRefreshToken, src)
	if err != nil {
		return nil, err
	}
	refresh, err := e.mintRefreshToken(ctx, access)
	if err != nil {
		_ = e.store.DeleteAccessToken(ctx, access.ID)
		return nil, err
	}
	return e.response(access, refresh), nil
}

func (e *Engine) mintAccessToken(ctx context.Context, appID uuid.UUID, userID *uuid.UUID,
	scopes []string, grantType string, source any) (*models.AccessToken, error) {
	token, err := opaqueToken()
	if err != nil {
		return nil, err
	}
	access := &models.AccessToken{
		Token:         token,
		ApplicationID: appID,
		UserID:        userID,
		GrantType:     grantType,
		Scopes:        scopes,
		ExpiresAt:     time.Now().UTC().Add(e.accessTTL),
	}
	if err := e.hooks.OnAccessTokenCreate(ctx, access, source); err != nil {
		return nil, fmt.Errorf("access token hook: %w", err)
	}
	if err := e.store.CreateAccessToken(ctx, access); err != nil {
		return nil, err
	}
	return access, nil
}

func (e *Engine) mintRefreshToken(ctx context.Context, access *models.AccessToken) (*models.RefreshToken, error) {
	token, err := opaqueToken()
	if err != nil {
		return nil, err
	}
	refresh := &models.RefreshToken{
		Token:                      token,
		ApplicationID:              access.ApplicationID,
		UserID:                     access.UserID,
		WorkspaceID:                access.WorkspaceID,
		WorkspaceAppInstallationID: access.WorkspaceAppInstallationID,
		Scopes:                     access.Scopes,
		ExpiresAt:                  time.Now().UTC().Add(e.refreshTTL),
	}
	if err := e.store.CreateRefreshToken(ctx, refresh); err != nil {
		return nil, err
	}
	return refresh, nil
}

func (e *Engine) response(access *models.AccessToken, refresh *models.RefreshToken) *TokenResponse {
	resp := &TokenResponse{
		AccessToken: access.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(access.ExpiresAt).Seconds()),
	}
	if refresh != nil {
		resp.RefreshToken = refresh.Token
	}
	if len(access.Scopes) > 0 {
		resp.Scope = strings.Join(access.Scopes, " ")
	}
	return resp
}

func opaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
