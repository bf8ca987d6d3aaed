package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
	"golang.org/x/crypto/bcrypt"

	"github.com/wrkhub/authgate/internal/autherr"
	"github.com/wrkhub/authgate/internal/models"
)

const minPasswordScore = 3

// UserSource is the read side of the credential store the password adapter
// needs.
type UserSource interface {
	UserByEmail(ctx context.Context, email string) (*models.User, error)
}

type PasswordAdapter struct {
	users UserSource
}

func NewPasswordAdapter(users UserSource) *PasswordAdapter {
	return &PasswordAdapter{users: users}
}

func (a *PasswordAdapter) Provider() string { return "email" }

// Initiate is a no-op: password flows have no challenge step.
func (a *PasswordAdapter) Initiate(ctx context.Context, rctx RequestContext, creds Credentials) (string, error) {
	return "", nil
}

func (a *PasswordAdapter) Authenticate(ctx context.Context, rctx RequestContext, creds Credentials) (*ExternalIdentity, error) {
	email, err := ValidateEmail(creds.Email)
	if err != nil {
		return nil, err
	}

	switch creds.Mode {
	case ModeSignin:
		user, err := a.users.UserByEmail(ctx, email)
		if errors.Is(err, models.ErrNotFound) {
			return nil, autherr.New(autherr.UserDoesNotExist, "no account exists for this email").
				WithPayload("email", email)
		}
		if err != nil {
			return nil, fmt.Errorf("lookup user: %w", err)
		}
		if user.IsPasswordAutoset || !VerifyPassword(user.PasswordHash, creds.Password) {
			return nil, autherr.New(autherr.InvalidPassword, "email or password is incorrect").
				WithPayload("email", email)
		}

	case ModeSignup:
		_, err := a.users.UserByEmail(ctx, email)
		if err == nil {
			return nil, autherr.New(autherr.UserAlreadyExists, "an account already exists for this email").
				WithPayload("email", email)
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("lookup user: %w", err)
		}
		if score := zxcvbn.PasswordStrength(creds.Password, []string{email}).Score; score < minPasswordScore {
			return nil, autherr.New(autherr.WeakPassword, "password is too easy to guess").
				WithPayload("email", email)
		}

	default:
		return nil, fmt.Errorf("password adapter: unsupported mode %q", creds.Mode)
	}

	return &ExternalIdentity{
		Provider:          a.Provider(),
		Email:             email,
		IsPasswordAutoset: false,
	}, nil
}

// ValidateEmail normalizes and RFC-5322 checks an address. The normalized
// form is returned so callers never compare unnormalized emails.
func ValidateEmail(email string) (string, error) {
	normalized := models.NormalizeEmail(email)
	if normalized == "" {
		return "", autherr.New(autherr.InvalidEmail, "email is required")
	}
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return "", autherr.New(autherr.InvalidEmail, "email is not valid").
			WithPayload("email", email)
	}
	return normalized, nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
