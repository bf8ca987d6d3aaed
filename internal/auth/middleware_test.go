package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrkhub/authgate/internal/identity"
	"github.com/wrkhub/authgate/internal/models"
	"github.com/wrkhub/authgate/internal/session"
)

const (
	testSecret     = "resolver-secret"
	testAPIHeader  = "X-API-Key"
	testCookieName = "gw-session"
)

type fakeDirectory struct {
	users     map[uuid.UUID]*models.User
	apiTokens map[string]*models.APIToken
	touched   int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:     make(map[uuid.UUID]*models.User),
		apiTokens: make(map[string]*models.APIToken),
	}
}

func (f *fakeDirectory) addUser() *models.User {
	u := &models.User{ID: uuid.New(), Email: "kim@example.com", IsActive: true}
	f.users[u.ID] = u
	return u
}

func (f *fakeDirectory) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, identity.ErrNotFound
}

func (f *fakeDirectory) APITokenByHash(ctx context.Context, hash string) (*models.APIToken, error) {
	if t, ok := f.apiTokens[hash]; ok {
		return t, nil
	}
	return nil, identity.ErrNotFound
}

func (f *fakeDirectory) TouchAPIToken(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.touched++
	return nil
}

type fakeOAuthTokens struct {
	tokens map[string]*models.AccessToken
}

func (f *fakeOAuthTokens) AccessTokenByToken(ctx context.Context, token string) (*models.AccessToken, error) {
	if t, ok := f.tokens[token]; ok {
		return t, nil
	}
	return nil, identity.ErrNotFound
}

type fakeSessions struct {
	sessions map[string]uuid.UUID
}

func (f *fakeSessions) Resolve(ctx context.Context, token string) (uuid.UUID, error) {
	if id, ok := f.sessions[token]; ok {
		return id, nil
	}
	return uuid.Nil, session.ErrNotFound
}

func newTestResolver(dir *fakeDirectory, oauth *fakeOAuthTokens, sess *fakeSessions) *Resolver {
	if oauth == nil {
		oauth = &fakeOAuthTokens{tokens: map[string]*models.AccessToken{}}
	}
	if sess == nil {
		sess = &fakeSessions{sessions: map[string]uuid.UUID{}}
	}
	return NewResolver(testSecret, testAPIHeader, testCookieName, dir, oauth, sess)
}

// resolveRequest runs the middleware and captures the principal it binds.
func resolveRequest(t *testing.T, m *Resolver, r *http.Request) (*Principal, *httptest.ResponseRecorder) {
	t.Helper()
	var got *Principal
	rec := httptest.NewRecorder()
	m.Resolve(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = PrincipalFromContext(r.Context())
	})).ServeHTTP(rec, r)
	return got, rec
}

func TestResolveJWT(t *testing.T) {
	dir := newFakeDirectory()
	user := dir.addUser()
	m := newTestResolver(dir, nil, nil)

	t.Run("valid token", func(t *testing.T) {
		token, err := MintToken(testSecret, user.ID, user.Email, PurposeAccess, time.Hour)
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		p, rec := resolveRequest(t, m, r)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, MethodJWT, p.Method)
		assert.Equal(t, user.ID, p.UserID())
	})

	t.Run("expired token is a 401", func(t *testing.T) {
		token, err := MintToken(testSecret, user.ID, user.Email, PurposeAccess, -time.Minute)
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		p, rec := resolveRequest(t, m, r)

		assert.Nil(t, p)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestResolveAPIKey(t *testing.T) {
	dir := newFakeDirectory()
	user := dir.addUser()
	key := "gw_live_abc123"
	dir.apiTokens[identity.HashAPIToken(key)] = &models.APIToken{
		ID: uuid.New(), TokenHash: identity.HashAPIToken(key), UserID: user.ID, IsService: true,
	}
	m := newTestResolver(dir, nil, nil)

	t.Run("known key", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(testAPIHeader, key)
		p, rec := resolveRequest(t, m, r)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, MethodAPIKey, p.Method)
		assert.True(t, p.IsService)
		assert.Equal(t, 1, dir.touched)
	})

	t.Run("unknown key", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(testAPIHeader, "gw_live_nope")
		p, rec := resolveRequest(t, m, r)

		assert.Nil(t, p)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired key", func(t *testing.T) {
		stale := "gw_live_stale"
		past := time.Now().Add(-time.Hour)
		dir.apiTokens[identity.HashAPIToken(stale)] = &models.APIToken{
			ID: uuid.New(), TokenHash: identity.HashAPIToken(stale), UserID: user.ID, ExpiresAt: &past,
		}

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(testAPIHeader, stale)
		_, rec := resolveRequest(t, m, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestResolveOAuthToken(t *testing.T) {
	dir := newFakeDirectory()
	user := dir.addUser()
	wsID := uuid.New()
	oauth := &fakeOAuthTokens{tokens: map[string]*models.AccessToken{
		"opaque-token": {
			Token: "opaque-token", UserID: &user.ID, WorkspaceID: &wsID,
			Scopes: []string{"read"}, ExpiresAt: time.Now().Add(time.Hour),
		},
		"dead-token": {
			Token: "dead-token", UserID: &user.ID, ExpiresAt: time.Now().Add(-time.Hour),
		},
	}}
	m := newTestResolver(dir, oauth, nil)

	t.Run("live token carries the workspace binding", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer opaque-token")
		p, rec := resolveRequest(t, m, r)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, MethodOAuth, p.Method)
		require.NotNil(t, p.WorkspaceID)
		assert.Equal(t, wsID, *p.WorkspaceID)
		assert.Equal(t, []string{"read"}, p.Scopes)
	})

	t.Run("expired token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer dead-token")
		_, rec := resolveRequest(t, m, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestResolveSession(t *testing.T) {
	dir := newFakeDirectory()
	user := dir.addUser()
	sess := &fakeSessions{sessions: map[string]uuid.UUID{"tok": user.ID}}
	m := newTestResolver(dir, nil, sess)

	t.Run("valid cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: testCookieName, Value: "tok"})
		p, rec := resolveRequest(t, m, r)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, MethodSession, p.Method)
		assert.Equal(t, user.ID, p.UserID())
	})

	t.Run("stale cookie degrades to anonymous", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: testCookieName, Value: "stale"})
		p, rec := resolveRequest(t, m, r)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, p.Anonymous())
	})
}

func TestResolveAnonymous(t *testing.T) {
	m := newTestResolver(newFakeDirectory(), nil, nil)
	p, rec := resolveRequest(t, m, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, p.Anonymous())
	assert.Equal(t, MethodAnonymous, p.Method)
}
