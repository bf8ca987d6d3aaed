package identity

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/wrkhub/authgate/internal/adapters"
	"github.com/wrkhub/authgate/internal/autherr"
	"github.com/wrkhub/authgate/internal/models"
)

type fakeBackend struct {
	users   map[string]*models.User
	invites map[string]*models.WorkspaceInvite
	linked  []*models.LinkedAccount
	logins  int
	synced  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		users:   make(map[string]*models.User),
		invites: make(map[string]*models.WorkspaceInvite),
	}
}

func (f *fakeBackend) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	if u, ok := f.users[email]; ok {
		return u, nil
	}
	return nil, ErrNotFound
}

func (f *fakeBackend) CreateUserWithProfile(ctx context.Context, p CreateUserParams) (*models.User, error) {
	u := &models.User{
		ID:                uuid.New(),
		Email:             p.Email,
		DisplayName:       p.DisplayName,
		PasswordHash:      p.PasswordHash,
		IsPasswordAutoset: p.IsPasswordAutoset,
		IsEmailVerified:   p.IsEmailVerified,
		IsActive:          true,
	}
	f.users[p.Email] = u
	return u, nil
}

func (f *fakeBackend) UpsertLinkedAccount(ctx context.Context, la *models.LinkedAccount) error {
	f.linked = append(f.linked, la)
	return nil
}

func (f *fakeBackend) RecordLogin(ctx context.Context, userID uuid.UUID, medium, ip, userAgent string) error {
	f.logins++
	return nil
}

func (f *fakeBackend) Reactivate(ctx context.Context, userID uuid.UUID) (bool, error) {
	for _, u := range f.users {
		if u.ID == userID && !u.IsActive {
			u.IsActive = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeBackend) SyncProfileFields(ctx context.Context, userID uuid.UUID, displayName, firstName, lastName string) error {
	f.synced = true
	return nil
}

func (f *fakeBackend) SetAvatar(ctx context.Context, userID uuid.UUID, assetID *uuid.UUID, externalURL string) error {
	return nil
}

func (f *fakeBackend) PendingInvite(ctx context.Context, email string) (*models.WorkspaceInvite, error) {
	if inv, ok := f.invites[email]; ok {
		return inv, nil
	}
	return nil, ErrNotFound
}

type fakeAvatarStore struct{}

func (fakeAvatarStore) Put(ctx context.Context, data []byte, contentType string) (uuid.UUID, error) {
	return uuid.New(), nil
}

type fakeActivationNotifier struct {
	sent []string
}

func (f *fakeActivationNotifier) SendActivation(ctx context.Context, email string) error {
	f.sent = append(f.sent, email)
	return nil
}

func newTestProvisioner(backend *fakeBackend, enableSignup bool) (*Provisioner, *fakeActivationNotifier) {
	notifier := &fakeActivationNotifier{}
	p := NewProvisioner(backend, fakeAvatarStore{}, notifier, enableSignup,
		func(provider string) bool { return false }, 1<<20)
	return p, notifier
}

func passwordIdentity(email string) *adapters.ExternalIdentity {
	return &adapters.ExternalIdentity{Provider: "email", Email: email}
}

func TestProvisionSignInMissingUser(t *testing.T) {
	p, _ := newTestProvisioner(newFakeBackend(), true)

	_, err := p.Provision(context.Background(), adapters.RequestContext{}, ProvisionParams{
		Identity: passwordIdentity("ghost@example.com"),
		Mode:     adapters.ModeSignin,
	})
	assert.True(t, autherr.Is(err, autherr.UserDoesNotExist))
}

func TestProvisionSignUpCreatesUser(t *testing.T) {
	backend := newFakeBackend()
	p, _ := newTestProvisioner(backend, true)

	hash, err := adapters.HashPassword("correct-horse-battery-staple")
	require.NoError(t, err)

	user, err := p.Provision(context.Background(), adapters.RequestContext{IP: "10.0.0.1"}, ProvisionParams{
		Identity:     passwordIdentity("new@example.com"),
		Mode:         adapters.ModeSignup,
		PasswordHash: hash,
	})
	require.NoError(t, err)

	assert.Equal(t, "new@example.com", user.Email)
	assert.False(t, user.IsPasswordAutoset)
	assert.False(t, user.IsEmailVerified)
	assert.Equal(t, "new", user.DisplayName)
	assert.Equal(t, 1, backend.logins)
}

func TestProvisionAutoModeCreatesWithAutosetSecret(t *testing.T) {
	backend := newFakeBackend()
	p, _ := newTestProvisioner(backend, true)

	user, err := p.Provision(context.Background(), adapters.RequestContext{}, ProvisionParams{
		Identity: &adapters.ExternalIdentity{
			Provider: "magic-code", Email: "magic@example.com", IsPasswordAutoset: true,
		},
		Mode: adapters.ModeAuto,
	})
	require.NoError(t, err)

	assert.True(t, user.IsPasswordAutoset)
	// Proven-channel identities arrive verified.
	assert.True(t, user.IsEmailVerified)
	// The autoset secret is a real bcrypt hash but never a usable password.
	assert.NoError(t, bcryptCost(t, user.PasswordHash))
}

func bcryptCost(t *testing.T, hash string) error {
	t.Helper()
	_, err := bcrypt.Cost([]byte(hash))
	return err
}

func TestProvisionSignUpExistingUser(t *testing.T) {
	backend := newFakeBackend()
	backend.users["taken@example.com"] = &models.User{ID: uuid.New(), Email: "taken@example.com", IsActive: true}
	p, _ := newTestProvisioner(backend, true)

	_, err := p.Provision(context.Background(), adapters.RequestContext{}, ProvisionParams{
		Identity: passwordIdentity("taken@example.com"),
		Mode:     adapters.ModeSignup,
	})
	assert.True(t, autherr.Is(err, autherr.UserAlreadyExists))
}

func TestProvisionSignupDisabled(t *testing.T) {
	t.Run("no invite refuses", func(t *testing.T) {
		p, _ := newTestProvisioner(newFakeBackend(), false)
		_, err := p.Provision(context.Background(), adapters.RequestContext{}, ProvisionParams{
			Identity: passwordIdentity("new@example.com"),
			Mode:     adapters.ModeSignup,
		})
		assert.True(t, autherr.Is(err, autherr.SignupDisabled))
	})

	t.Run("pending invite lets the signup through", func(t *testing.T) {
		backend := newFakeBackend()
		backend.invites["invited@example.com"] = &models.WorkspaceInvite{ID: uuid.New(), Email: "invited@example.com"}
		p, _ := newTestProvisioner(backend, false)

		user, err := p.Provision(context.Background(), adapters.RequestContext{}, ProvisionParams{
			Identity: passwordIdentity("invited@example.com"),
			Mode:     adapters.ModeSignup,
		})
		require.NoError(t, err)
		assert.Equal(t, "invited@example.com", user.Email)
	})
}

func TestProvisionReactivation(t *testing.T) {
	backend := newFakeBackend()
	backend.users["back@example.com"] = &models.User{ID: uuid.New(), Email: "back@example.com", IsActive: false}
	p, notifier := newTestProvisioner(backend, true)

	_, err := p.Provision(context.Background(), adapters.RequestContext{}, ProvisionParams{
		Identity: passwordIdentity("back@example.com"),
		Mode:     adapters.ModeSignin,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"back@example.com"}, notifier.sent)
}

func TestProvisionLinksOAuthAccount(t *testing.T) {
	backend := newFakeBackend()
	p, _ := newTestProvisioner(backend, true)

	_, err := p.Provision(context.Background(), adapters.RequestContext{}, ProvisionParams{
		Identity: &adapters.ExternalIdentity{
			Provider:          "github",
			ProviderAccountID: "12345",
			Email:             "dev@example.com",
			IsPasswordAutoset: true,
			TokenData:         &adapters.TokenData{AccessToken: "gho_abc"},
		},
		Mode: adapters.ModeAuto,
	})
	require.NoError(t, err)

	require.Len(t, backend.linked, 1)
	assert.Equal(t, "github", backend.linked[0].Provider)
	assert.Equal(t, "12345", backend.linked[0].ProviderAccountID)
	assert.Equal(t, "gho_abc", backend.linked[0].AccessToken)
}
