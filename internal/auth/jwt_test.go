package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndParseToken(t *testing.T) {
	secret := "test-secret"
	userID := uuid.New()

	token, err := MintToken(secret, userID, "a@b.co", PurposeAccess, time.Minute)
	require.NoError(t, err)

	parsed, claims, err := ParseToken(secret, token, PurposeAccess)
	require.NoError(t, err)
	assert.Equal(t, userID, parsed)
	assert.Equal(t, "a@b.co", claims.Email)
}

func TestParseTokenRejections(t *testing.T) {
	secret := "test-secret"
	userID := uuid.New()

	t.Run("wrong purpose", func(t *testing.T) {
		token, err := MintToken(secret, userID, "", PurposeMobileValidation, time.Minute)
		require.NoError(t, err)
		_, _, err = ParseToken(secret, token, PurposeAccess)
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := MintToken(secret, userID, "", PurposeAccess, time.Minute)
		require.NoError(t, err)
		_, _, err = ParseToken("other-secret", token, PurposeAccess)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := MintToken(secret, userID, "", PurposeAccess, -time.Minute)
		require.NoError(t, err)
		_, _, err = ParseToken(secret, token, PurposeAccess)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := ParseToken(secret, "not.a.jwt", PurposeAccess)
		assert.Error(t, err)
	})
}
