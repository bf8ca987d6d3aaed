package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrkhub/authgate/internal/models"
)

// ErrNotFound is returned for lookups that match no row.
var ErrNotFound = models.ErrNotFound

// Store persists users, profiles, linked accounts, invites and API tokens.
// Writes spanning more than one table run in a single transaction.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const userColumns = `id, email, display_name, first_name, last_name, avatar_asset_id, avatar_url,
	password_hash, is_password_autoset, is_active, is_bot, is_email_verified,
	last_login_medium, last_login_at, last_login_ip, last_login_ua, token_updated_at, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.FirstName, &u.LastName, &u.AvatarAssetID, &u.AvatarURL,
		&u.PasswordHash, &u.IsPasswordAutoset, &u.IsActive, &u.IsBot, &u.IsEmailVerified,
		&u.LastLoginMedium, &u.LastLoginAt, &u.LastLoginIP, &u.LastLoginUA, &u.TokenUpdatedAt, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, models.NormalizeEmail(email)))
}

func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

type CreateUserParams struct {
	Email             string
	DisplayName       string
	PasswordHash      string
	IsPasswordAutoset bool
	IsEmailVerified   bool
	IsBot             bool
}

// CreateUserWithProfile creates the user and its empty profile atomically.
// A concurrent signup for the same email loses the race on the unique index
// and observes the winner's row instead of an error.
func (s *Store) CreateUserWithProfile(ctx context.Context, p CreateUserParams) (*models.User, error) {
	email := models.NormalizeEmail(p.Email)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	u, err := scanUser(tx.QueryRow(ctx,
		`INSERT INTO users (email, display_name, password_hash, is_password_autoset, is_email_verified, is_bot, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, true)
		 ON CONFLICT (email) DO NOTHING
		 RETURNING `+userColumns,
		email, p.DisplayName, p.PasswordHash, p.IsPasswordAutoset, p.IsEmailVerified, p.IsBot))
	if errors.Is(err, ErrNotFound) {
		// Lost the race: the email already exists, hand back the winner.
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit tx: %w", err)
		}
		return s.UserByEmail(ctx, email)
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO profiles (user_id, theme) VALUES ($1, 'system')`, u.ID); err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return u, nil
}

func (s *Store) ProfileByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	var pr models.Profile
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, theme, is_onboarded, onboarding_step, last_workspace_id, billing_plan, created_at, updated_at
		 FROM profiles WHERE user_id = $1`, userID,
	).Scan(&pr.ID, &pr.UserID, &pr.Theme, &pr.IsOnboarded, &pr.OnboardingStep, &pr.LastWorkspaceID,
		&pr.BillingPlan, &pr.CreatedAt, &pr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &pr, nil
}

// UpsertLinkedAccount inserts or refreshes the (user, provider) link. The
// unique index keeps repeat OAuth logins from creating duplicates.
func (s *Store) UpsertLinkedAccount(ctx context.Context, la *models.LinkedAccount) error {
	metadata, err := json.Marshal(la.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO linked_accounts
		   (user_id, provider, provider_account_id, access_token, refresh_token,
		    access_token_expires_at, refresh_token_expires_at, metadata, last_connected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		 ON CONFLICT (user_id, provider) DO UPDATE SET
		   provider_account_id = EXCLUDED.provider_account_id,
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   access_token_expires_at = EXCLUDED.access_token_expires_at,
		   refresh_token_expires_at = EXCLUDED.refresh_token_expires_at,
		   metadata = EXCLUDED.metadata,
		   last_connected_at = now()`,
		la.UserID, la.Provider, la.ProviderAccountID, la.AccessToken, la.RefreshToken,
		la.AccessTokenExpiresAt, la.RefreshTokenExpiresAt, metadata)
	if err != nil {
		return fmt.Errorf("upsert linked account: %w", err)
	}
	return nil
}

func (s *Store) LinkedAccount(ctx context.Context, userID uuid.UUID, provider string) (*models.LinkedAccount, error) {
	var la models.LinkedAccount
	var metadata []byte
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, provider, provider_account_id, access_token, refresh_token,
		        access_token_expires_at, refresh_token_expires_at, metadata, last_connected_at, created_at
		 FROM linked_accounts WHERE user_id = $1 AND provider = $2`, userID, provider,
	).Scan(&la.ID, &la.UserID, &la.Provider, &la.ProviderAccountID, &la.AccessToken, &la.RefreshToken,
		&la.AccessTokenExpiresAt, &la.RefreshTokenExpiresAt, &metadata, &la.LastConnectedAt, &la.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get linked account: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &la.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &la, nil
}

// RecordLogin stamps the last_login_* fields. Called only after a
// successful authentication.
func (s *Store) RecordLogin(ctx context.Context, userID uuid.UUID, medium, ip, userAgent string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE users SET last_login_medium = $2, last_login_at = now(),
		        last_login_ip = $3, last_login_ua = $4, token_updated_at = now()
		 WHERE id = $1`,
		userID, medium, ip, userAgent)
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	return nil
}

// Reactivate flips an inactive user back to active and reports whether the
// flip happened, so the caller knows to send the activation notice.
func (s *Store) Reactivate(ctx context.Context, userID uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET is_active = true WHERE id = $1 AND is_active = false`, userID)
	if err != nil {
		return false, fmt.Errorf("reactivate user: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) SyncProfileFields(ctx context.Context, userID uuid.UUID, displayName, firstName, lastName string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE users SET display_name = $2, first_name = $3, last_name = $4 WHERE id = $1`,
		userID, displayName, firstName, lastName)
	if err != nil {
		return fmt.Errorf("sync profile fields: %w", err)
	}
	return nil
}

// SetAvatar records either a stored asset or, when the download failed, the
// external URL the IdP reported.
func (s *Store) SetAvatar(ctx context.Context, userID uuid.UUID, assetID *uuid.UUID, externalURL string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE users SET avatar_asset_id = $2, avatar_url = $3 WHERE id = $1`,
		userID, assetID, externalURL)
	if err != nil {
		return fmt.Errorf("set avatar: %w", err)
	}
	return nil
}

func (s *Store) PendingInvite(ctx context.Context, email string) (*models.WorkspaceInvite, error) {
	return s.scanInvite(s.db.QueryRow(ctx,
		`SELECT id, email, workspace_id, role, token, accepted, responded_at, created_at
		 FROM workspace_invites WHERE email = $1 AND accepted = false AND responded_at IS NULL
		 ORDER BY created_at DESC LIMIT 1`, models.NormalizeEmail(email)))
}

func (s *Store) InviteByID(ctx context.Context, id uuid.UUID) (*models.WorkspaceInvite, error) {
	return s.scanInvite(s.db.QueryRow(ctx,
		`SELECT id, email, workspace_id, role, token, accepted, responded_at, created_at
		 FROM workspace_invites WHERE id = $1`, id))
}

func (s *Store) scanInvite(row pgx.Row) (*models.WorkspaceInvite, error) {
	var inv models.WorkspaceInvite
	err := row.Scan(&inv.ID, &inv.Email, &inv.WorkspaceID, &inv.Role, &inv.Token,
		&inv.Accepted, &inv.RespondedAt, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan invite: %w", err)
	}
	return &inv, nil
}

func (s *Store) CreateInvite(ctx context.Context, inv *models.WorkspaceInvite) (*models.WorkspaceInvite, error) {
	return s.scanInvite(s.db.QueryRow(ctx,
		`INSERT INTO workspace_invites (email, workspace_id, role, token)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, email, workspace_id, role, token, accepted, responded_at, created_at`,
		models.NormalizeEmail(inv.Email), inv.WorkspaceID, inv.Role, inv.Token))
}

// RespondInvite records an accept or reject; on accept the workspace member
// row is created (or reactivated) in the same transaction.
func (s *Store) RespondInvite(ctx context.Context, id, userID uuid.UUID, accept bool) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var workspaceID uuid.UUID
	var role models.Role
	err = tx.QueryRow(ctx,
		`UPDATE workspace_invites SET accepted = $2, responded_at = now()
		 WHERE id = $1 AND responded_at IS NULL
		 RETURNING workspace_id, role`, id, accept,
	).Scan(&workspaceID, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("respond invite: %w", err)
	}

	if accept {
		if _, err := tx.Exec(ctx,
			`INSERT INTO workspace_members (workspace_id, user_id, role, is_active)
			 VALUES ($1, $2, $3, true)
			 ON CONFLICT (workspace_id, user_id) DO UPDATE SET is_active = true, role = EXCLUDED.role`,
			workspaceID, userID, role); err != nil {
			return fmt.Errorf("add workspace member: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// HashAPIToken is the lookup key for API tokens; the raw token is never
// stored.
func HashAPIToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func (s *Store) APITokenByHash(ctx context.Context, hash string) (*models.APIToken, error) {
	var t models.APIToken
	err := s.db.QueryRow(ctx,
		`SELECT id, token_hash, user_id, user_type, label, description, is_service, last_used_at, expires_at, created_at
		 FROM api_tokens WHERE token_hash = $1`, hash,
	).Scan(&t.ID, &t.TokenHash, &t.UserID, &t.UserType, &t.Label, &t.Description,
		&t.IsService, &t.LastUsedAt, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api token: %w", err)
	}
	return &t, nil
}

func (s *Store) TouchAPIToken(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE api_tokens SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch api token: %w", err)
	}
	return nil
}
