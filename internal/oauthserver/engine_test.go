package oauthserver

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/wrkhub/authgate/internal/autherr"
	"github.com/wrkhub/authgate/internal/cache"
	"github.com/wrkhub/authgate/internal/models"
)

type memStore struct {
	apps          map[string]*models.OAuthApplication
	grants        map[string]*models.AuthorizationGrant
	access        map[uuid.UUID]*models.AccessToken
	refresh       map[string]*models.RefreshToken
	installations map[uuid.UUID]*models.WorkspaceAppInstallation
}

func newMemStore() *memStore {
	return &memStore{
		apps:          make(map[string]*models.OAuthApplication),
		grants:        make(map[string]*models.AuthorizationGrant),
		access:        make(map[uuid.UUID]*models.AccessToken),
		refresh:       make(map[string]*models.RefreshToken),
		installations: make(map[uuid.UUID]*models.WorkspaceAppInstallation),
	}
}

func (m *memStore) ApplicationByClientID(ctx context.Context, clientID string) (*models.OAuthApplication, error) {
	if app, ok := m.apps[clientID]; ok {
		return app, nil
	}
	return nil, ErrNotFound
}

func (m *memStore) CreateGrant(ctx context.Context, g *models.AuthorizationGrant) error {
	m.grants[g.Code] = g
	return nil
}

func (m *memStore) ConsumeGrant(ctx context.Context, code string) (*models.AuthorizationGrant, error) {
	g, ok := m.grants[code]
	if !ok || time.Now().After(g.ExpiresAt) {
		return nil, ErrNotFound
	}
	delete(m.grants, code)
	return g, nil
}

func (m *memStore) CreateAccessToken(ctx context.Context, t *models.AccessToken) error {
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	m.access[t.ID] = t
	return nil
}

func (m *memStore) UpdateAccessTokenBinding(ctx context.Context, t *models.AccessToken) error {
	m.access[t.ID] = t
	return nil
}

func (m *memStore) DeleteAccessToken(ctx context.Context, id uuid.UUID) error {
	delete(m.access, id)
	return nil
}

func (m *memStore) AccessTokenByToken(ctx context.Context, token string) (*models.AccessToken, error) {
	for _, t := range m.access {
		if t.Token == token {
			return t, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) CreateRefreshToken(ctx context.Context, t *models.RefreshToken) error {
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	m.refresh[t.Token] = t
	return nil
}

func (m *memStore) ConsumeRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	t, ok := m.refresh[token]
	if !ok || time.Now().After(t.ExpiresAt) {
		return nil, ErrNotFound
	}
	delete(m.refresh, token)
	return t, nil
}

func (m *memStore) InstallationByID(ctx context.Context, id uuid.UUID) (*models.WorkspaceAppInstallation, error) {
	if inst, ok := m.installations[id]; ok {
		return inst, nil
	}
	return nil, ErrNotFound
}

type memKV struct {
	data map[string][]byte
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

func (m *memKV) GetDel(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.data[key]
	if !ok {
		return cache.ErrMiss
	}
	delete(m.data, key)
	return json.Unmarshal(raw, dest)
}

const (
	testRedirect = "https://app.example.com/callback"
	testSecret   = "client-secret"
)

func testApp(t *testing.T, grants ...string) *models.OAuthApplication {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testSecret), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.OAuthApplication{
		ID:                uuid.New(),
		ClientID:          "client-1",
		ClientSecretHash:  string(hash),
		Name:              "Test App",
		RedirectURIs:      []string{testRedirect},
		ClientType:        models.ClientConfidential,
		GrantTypesAllowed: grants,
	}
}

func newTestEngine(t *testing.T, app *models.OAuthApplication) (*Engine, *memStore, *memKV) {
	t.Helper()
	store := newMemStore()
	store.apps[app.ClientID] = app
	kv := newMemKV()
	engine := NewEngine(store, kv, time.Minute, time.Hour, 24*time.Hour)
	return engine, store, kv
}

func authorize(t *testing.T, engine *Engine, userID uuid.UUID, req AuthorizeRequest) string {
	t.Helper()
	redirect, err := engine.Authorize(context.Background(), userID, req)
	require.NoError(t, err)
	u, err := url.Parse(redirect)
	require.NoError(t, err)
	code := u.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	app := testApp(t, models.GrantAuthorizationCode)
	engine, store, _ := newTestEngine(t, app)
	userID := uuid.New()

	t.Run("valid request returns code and state", func(t *testing.T) {
		redirect, err := engine.Authorize(ctx, userID, AuthorizeRequest{
			ClientID: app.ClientID, RedirectURI: testRedirect, State: "xyz",
		})
		require.NoError(t, err)

		u, err := url.Parse(redirect)
		require.NoError(t, err)
		assert.Equal(t, "xyz", u.Query().Get("state"))
		assert.Contains(t, store.grants, u.Query().Get("code"))
	})

	t.Run("unknown client", func(t *testing.T) {
		_, err := engine.Authorize(ctx, userID, AuthorizeRequest{
			ClientID: "nope", RedirectURI: testRedirect,
		})
		assert.True(t, autherr.Is(err, autherr.InvalidGrant))
	})

	t.Run("unregistered redirect", func(t *testing.T) {
		_, err := engine.Authorize(ctx, userID, AuthorizeRequest{
			ClientID: app.ClientID, RedirectURI: "https://evil.example.com/",
		})
		assert.True(t, autherr.Is(err, autherr.InvalidGrant))
	})

	t.Run("installation hint binds the grant", func(t *testing.T) {
		inst := &models.WorkspaceAppInstallation{
			ID:            uuid.New(),
			ApplicationID: app.ID,
			WorkspaceID:   uuid.New(),
			AppBotID:      uuid.New(),
			Status:        models.InstallationInstalled,
		}
		store.installations[inst.ID] = inst

		code := authorize(t, engine, userID, AuthorizeRequest{
			ClientID:          app.ClientID,
			RedirectURI:       testRedirect,
			AppInstallationID: inst.ID.String(),
		})
		grant := store.grants[code]
		require.NotNil(t, grant.WorkspaceAppInstallationID)
		assert.Equal(t, inst.ID, *grant.WorkspaceAppInstallationID)
		assert.Equal(t, inst.WorkspaceID, *grant.WorkspaceID)
	})
}

func TestTokenAuthorizationCode(t *testing.T) {
	ctx := context.Background()
	app := testApp(t, models.GrantAuthorizationCode)
	engine, store, _ := newTestEngine(t, app)
	userID := uuid.New()

	t.Run("code exchanges once", func(t *testing.T) {
		code := authorize(t, engine, userID, AuthorizeRequest{
			ClientID: app.ClientID, RedirectURI: testRedirect, Scopes: []string{"read", "write"},
		})

		resp, err := engine.Token(ctx, TokenRequest{
			GrantType: models.GrantAuthorizationCode, ClientID: app.ClientID,
			ClientSecret: testSecret, Code: code, RedirectURI: testRedirect,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.AccessToken)
		assert.NotEmpty(t, resp.RefreshToken)
		assert.Equal(t, "Bearer", resp.TokenType)
		assert.Equal(t, "read write", resp.Scope)

		// Second exchange of the same code fails.
		_, err = engine.Token(ctx, TokenRequest{
			GrantType: models.GrantAuthorizationCode, ClientID: app.ClientID,
			ClientSecret: testSecret, Code: code, RedirectURI: testRedirect,
		})
		assert.True(t, autherr.Is(err, autherr.InvalidGrant))
	})

	t.Run("wrong client secret", func(t *testing.T) {
		code := authorize(t, engine, userID, AuthorizeRequest{
			ClientID: app.ClientID, RedirectURI: testRedirect,
		})
		_, err := engine.Token(ctx, TokenRequest{
			GrantType: models.GrantAuthorizationCode, ClientID: app.ClientID,
			ClientSecret: "wrong", Code: code, RedirectURI: testRedirect,
		})
		assert.True(t, autherr.Is(err, autherr.InvalidGrant))
		// The grant is untouched by a failed client authentication.
		assert.Contains(t, store.grants, code)
	})

	t.Run("mismatched redirect", func(t *testing.T) {
		code := authorize(t, engine, userID, AuthorizeRequest{
			ClientID: app.ClientID, RedirectURI: testRedirect,
		})
		_, err := engine.Token(ctx, TokenRequest{
			GrantType: models.GrantAuthorizationCode, ClientID: app.ClientID,
			ClientSecret: testSecret, Code: code, RedirectURI: "https://other.example.com/",
		})
		assert.True(t, autherr.Is(err, autherr.InvalidGrant))
	})

	t.Run("disallowed grant type", func(t *testing.T) {
		_, err := engine.Token(ctx, TokenRequest{
			GrantType: models.GrantClientCredentials, ClientID: app.ClientID,
			ClientSecret: testSecret,
		})
		assert.True(t, autherr.Is(err, autherr.InvalidGrant))
	})
}

func TestTokenClientCredentials(t *testing.T) {
	ctx := context.Background()
	app := testApp(t, models.GrantClientCredentials)
	engine, store, _ := newTestEngine(t, app)

	inst := &models.WorkspaceAppInstallation{
		ID:            uuid.New(),
		ApplicationID: app.ID,
		WorkspaceID:   uuid.New(),
		AppBotID:      uuid.New(),
		Status:        models.InstallationInstalled,
	}
	store.installations[inst.ID] = inst

	t.Run("binds the token to the app bot", func(t *testing.T) {
		resp, err := engine.Token(ctx, TokenRequest{
			GrantType: models.GrantClientCredentials, ClientID: app.ClientID,
			ClientSecret: testSecret, AppInstallationID: inst.ID.String(),
		})
		require.NoError(t, err)
		assert.Empty(t, resp.RefreshToken)

		token, err := store.AccessTokenByToken(ctx, resp.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, inst.AppBotID, *token.UserID)
		assert.Equal(t, inst.WorkspaceID, *token.WorkspaceID)
	})

	t.Run("missing installation id", func(t *testing.T) {
		_, err := engine.Token(ctx, TokenRequest{
			GrantType: models.GrantClientCredentials, ClientID: app.ClientID,
			ClientSecret: testSecret,
		})
		assert.True(t, autherr.Is(err, autherr.InvalidAppInstallation))
	})

	t.Run("uninstalled app leaves no token behind", func(t *testing.T) {
		gone := &models.WorkspaceAppInstallation{
			ID:            uuid.New(),
			ApplicationID: app.ID,
			WorkspaceID:   uuid.New(),
			AppBotID:      uuid.New(),
			Status:        models.InstallationUninstalled,
		}
		store.installations[gone.ID] = gone

		before := len(store.access)
		_, err := engine.Token(ctx, TokenRequest{
			GrantType: models.GrantClientCredentials, ClientID: app.ClientID,
			ClientSecret: testSecret, AppInstallationID: gone.ID.String(),
		})
		assert.True(t, autherr.Is(err, autherr.InvalidAppInstallation))
		assert.Len(t, store.access, before)
	})

	t.Run("installation for another app", func(t *testing.T) {
		foreign := &models.WorkspaceAppInstallation{
			ID:            uuid.New(),
			ApplicationID: uuid.New(),
			WorkspaceID:   uuid.New(),
			AppBotID:      uuid.New(),
			Status:        models.InstallationInstalled,
		}
		store.installations[foreign.ID] = foreign

		_, err := engine.Token(ctx, TokenRequest{
			GrantType: models.GrantClientCredentials, ClientID: app.ClientID,
			ClientSecret: testSecret, AppInstallationID: foreign.ID.String(),
		})
		assert.True(t, autherr.Is(err, autherr.InvalidAppInstallation))
	})
}

func TestTokenRefresh(t *testing.T) {
	ctx := context.Background()
	app := testApp(t, models.GrantAuthorizationCode, models.GrantRefreshToken)
	engine, store, _ := newTestEngine(t, app)
	userID := uuid.New()

	code := authorize(t, engine, userID, AuthorizeRequest{
		ClientID: app.ClientID, RedirectURI: testRedirect, Scopes: []string{"read"},
	})
	first, err := engine.Token(ctx, TokenRequest{
		GrantType: models.GrantAuthorizationCode, ClientID: app.ClientID,
		ClientSecret: testSecret, Code: code, RedirectURI: testRedirect,
	})
	require.NoError(t, err)

	t.Run("rotation mints a fresh pair", func(t *testing.T) {
		second, err := engine.Token(ctx, TokenRequest{
			GrantType: models.GrantRefreshToken, ClientID: app.ClientID,
			ClientSecret: testSecret, RefreshToken: first.RefreshToken,
		})
		require.NoError(t, err)
		assert.NotEqual(t, first.AccessToken, second.AccessToken)
		assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
		assert.Equal(t, "read", second.Scope)

		token, err := store.AccessTokenByToken(ctx, second.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, userID, *token.UserID)

		// The consumed refresh token cannot mint a second pair.
		_, err = engine.Token(ctx, TokenRequest{
			GrantType: models.GrantRefreshToken, ClientID: app.ClientID,
			ClientSecret: testSecret, RefreshToken: first.RefreshToken,
		})
		assert.True(t, autherr.Is(err, autherr.InvalidGrant))
	})

	t.Run("unknown refresh token", func(t *testing.T) {
		_, err := engine.Token(ctx, TokenRequest{
			GrantType: models.GrantRefreshToken, ClientID: app.ClientID,
			ClientSecret: testSecret, RefreshToken: "bogus",
		})
		assert.True(t, autherr.Is(err, autherr.InvalidGrant))
	})
}
