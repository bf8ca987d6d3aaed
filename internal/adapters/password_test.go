package adapters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrkhub/authgate/internal/autherr"
	"github.com/wrkhub/authgate/internal/models"
)

type fakeUserSource struct {
	users map[string]*models.User
}

func (f *fakeUserSource) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	if u, ok := f.users[email]; ok {
		return u, nil
	}
	return nil, models.ErrNotFound
}

func userWithPassword(t *testing.T, email, password string) *models.User {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	return &models.User{Email: email, PasswordHash: hash}
}

func TestPasswordSignIn(t *testing.T) {
	ctx := context.Background()
	user := userWithPassword(t, "kim@example.com", "horse-battery-staple-99")
	adapter := NewPasswordAdapter(&fakeUserSource{users: map[string]*models.User{user.Email: user}})

	t.Run("correct password", func(t *testing.T) {
		id, err := adapter.Authenticate(ctx, RequestContext{}, Credentials{
			Email: "Kim@Example.com ", Password: "horse-battery-staple-99", Mode: ModeSignin,
		})
		require.NoError(t, err)
		assert.Equal(t, "kim@example.com", id.Email)
		assert.Equal(t, "email", id.Provider)
		assert.False(t, id.IsPasswordAutoset)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := adapter.Authenticate(ctx, RequestContext{}, Credentials{
			Email: user.Email, Password: "nope", Mode: ModeSignin,
		})
		assert.True(t, autherr.Is(err, autherr.InvalidPassword))
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := adapter.Authenticate(ctx, RequestContext{}, Credentials{
			Email: "ghost@example.com", Password: "whatever", Mode: ModeSignin,
		})
		assert.True(t, autherr.Is(err, autherr.UserDoesNotExist))
	})

	t.Run("autoset password never verifies", func(t *testing.T) {
		autoset := userWithPassword(t, "oauth@example.com", "some-random-secret")
		autoset.IsPasswordAutoset = true
		a := NewPasswordAdapter(&fakeUserSource{users: map[string]*models.User{autoset.Email: autoset}})

		_, err := a.Authenticate(ctx, RequestContext{}, Credentials{
			Email: autoset.Email, Password: "some-random-secret", Mode: ModeSignin,
		})
		assert.True(t, autherr.Is(err, autherr.InvalidPassword))
	})
}

func TestPasswordSignUp(t *testing.T) {
	ctx := context.Background()
	existing := userWithPassword(t, "taken@example.com", "horse-battery-staple-99")
	adapter := NewPasswordAdapter(&fakeUserSource{users: map[string]*models.User{existing.Email: existing}})

	t.Run("fresh email with strong password", func(t *testing.T) {
		id, err := adapter.Authenticate(ctx, RequestContext{}, Credentials{
			Email: "new@example.com", Password: "correct-horse-battery-staple", Mode: ModeSignup,
		})
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", id.Email)
	})

	t.Run("existing email", func(t *testing.T) {
		_, err := adapter.Authenticate(ctx, RequestContext{}, Credentials{
			Email: existing.Email, Password: "correct-horse-battery-staple", Mode: ModeSignup,
		})
		assert.True(t, autherr.Is(err, autherr.UserAlreadyExists))
	})

	t.Run("weak password", func(t *testing.T) {
		_, err := adapter.Authenticate(ctx, RequestContext{}, Credentials{
			Email: "new@example.com", Password: "password1", Mode: ModeSignup,
		})
		assert.True(t, autherr.Is(err, autherr.WeakPassword))
	})
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		valid bool
	}{
		{"plain", "kim@example.com", "kim@example.com", true},
		{"uppercase and spaces", "  Kim@Example.COM ", "kim@example.com", true},
		{"empty", "", "", false},
		{"no domain", "kim@", "", false},
		{"display name form", "Kim <kim@example.com>", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateEmail(tt.in)
			if !tt.valid {
				assert.True(t, autherr.Is(err, autherr.InvalidEmail))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
