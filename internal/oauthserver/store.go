package oauthserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrkhub/authgate/internal/models"
)

// ErrNotFound is returned for lookups and consumptions that match no row.
var ErrNotFound = errors.New("oauthserver: not found")

// PgStore persists OAuth applications, grants, tokens and installations.
type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) ApplicationByClientID(ctx context.Context, clientID string) (*models.OAuthApplication, error) {
	var app models.OAuthApplication
	err := s.db.QueryRow(ctx,
		`SELECT id, client_id, client_secret_hash, name, redirect_uris, client_type,
		        grant_types_allowed, skip_authorization, created_at
		 FROM oauth_applications WHERE client_id = $1`, clientID,
	).Scan(&app.ID, &app.ClientID, &app.ClientSecretHash, &app.Name, &app.RedirectURIs,
		&app.ClientType, &app.GrantTypesAllowed, &app.SkipAuthorization, &app.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	return &app, nil
}

func (s *PgStore) CreateGrant(ctx context.Context, g *models.AuthorizationGrant) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO authorization_grants
		   (code, application_id, user_id, scopes, redirect_uri,
		    workspace_app_installation_id, workspace_id, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		g.Code, g.ApplicationID, g.UserID, g.Scopes, g.RedirectURI,
		g.WorkspaceAppInstallationID, g.WorkspaceID, g.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create grant: %w", err)
	}
	return nil
}

// ConsumeGrant deletes and returns the grant in one statement, so a code
// redeems exactly once even under concurrent exchanges.
func (s *PgStore) ConsumeGrant(ctx context.Context, code string) (*models.AuthorizationGrant, error) {
	var g models.AuthorizationGrant
	err := s.db.QueryRow(ctx,
		`DELETE FROM authorization_grants
		 WHERE code = $1 AND expires_at > now()
		 RETURNING code, application_id, user_id, scopes, redirect_uri,
		           workspace_app_installation_id, workspace_id, expires_at, created_at`,
		code,
	).Scan(&g.Code, &g.ApplicationID, &g.UserID, &g.Scopes, &g.RedirectURI,
		&g.WorkspaceAppInstallationID, &g.WorkspaceID, &g.ExpiresAt, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume grant: %w", err)
	}
	return &g, nil
}

func (s *PgStore) CreateAccessToken(ctx context.Context, t *models.AccessToken) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO oauth_access_tokens
		   (token, application_id, user_id, workspace_id, workspace_app_installation_id,
		    grant_type, scopes, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		t.Token, t.ApplicationID, t.UserID, t.WorkspaceID, t.WorkspaceAppInstallationID,
		t.GrantType, t.Scopes, t.ExpiresAt,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create access token: %w", err)
	}
	return nil
}

func (s *PgStore) UpdateAccessTokenBinding(ctx context.Context, t *models.AccessToken) error {
	_, err := s.db.Exec(ctx,
		`UPDATE oauth_access_tokens
		 SET user_id = $2, workspace_id = $3, workspace_app_installation_id = $4, grant_type = $5
		 WHERE id = $1`,
		t.ID, t.UserID, t.WorkspaceID, t.WorkspaceAppInstallationID, t.GrantType)
	if err != nil {
		return fmt.Errorf("update access token binding: %w", err)
	}
	return nil
}

func (s *PgStore) DeleteAccessToken(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM oauth_access_tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete access token: %w", err)
	}
	return nil
}

func (s *PgStore) AccessTokenByToken(ctx context.Context, token string) (*models.AccessToken, error) {
	var t models.AccessToken
	err := s.db.QueryRow(ctx,
		`SELECT id, token, application_id, user_id, workspace_id, workspace_app_installation_id,
		        grant_type, scopes, expires_at, created_at
		 FROM oauth_access_tokens WHERE token = $1`, token,
	).Scan(&t.ID, &t.Token, &t.ApplicationID, &t.UserID, &t.WorkspaceID, &t.WorkspaceAppInstallationID,
		&t.GrantType, &t.Scopes, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get access token: %w", err)
	}
	return &t, nil
}

func (s *PgStore) CreateRefreshToken(ctx context.Context, t *models.RefreshToken) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO oauth_refresh_tokens
		   (token, application_id, user_id, workspace_id, workspace_app_installation_id, scopes, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		t.Token, t.ApplicationID, t.UserID, t.WorkspaceID, t.WorkspaceAppInstallationID,
		t.Scopes, t.ExpiresAt,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// ConsumeRefreshToken rotates: the presented token is deleted as it is
// read, so it cannot mint a second pair.
func (s *PgStore) ConsumeRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var t models.RefreshToken
	err := s.db.QueryRow(ctx,
		`DELETE FROM oauth_refresh_tokens
		 WHERE token = $1 AND expires_at > now()
		 RETURNING id, token, application_id, user_id, workspace_id, workspace_app_installation_id,
		           scopes, expires_at, created_at`,
		token,
	).Scan(&t.ID, &t.Token, &t.ApplicationID, &t.UserID, &t.WorkspaceID, &t.WorkspaceAppInstallationID,
		&t.Scopes, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}
	return &t, nil
}

func (s *PgStore) InstallationByID(ctx context.Context, id uuid.UUID) (*models.WorkspaceAppInstallation, error) {
	var inst models.WorkspaceAppInstallation
	err := s.db.QueryRow(ctx,
		`SELECT id, application_id, workspace_id, app_bot_id, status, created_at
		 FROM workspace_app_installations WHERE id = $1`, id,
	).Scan(&inst.ID, &inst.ApplicationID, &inst.WorkspaceID, &inst.AppBotID, &inst.Status, &inst.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get installation: %w", err)
	}
	return &inst, nil
}
