package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServiceHMACKeys(t *testing.T) {
	environ := []string{
		"PATH=/usr/bin",
		"SEGWAY_HMAC_SECRET_KEY=segway-secret",
		"LIVE_HMAC_SECRET_KEY=live-secret",
		"HMAC_SECRET_KEY=default-secret",
		"EMPTY_HMAC_SECRET_KEY=",
	}
	keys := loadServiceHMACKeys(environ)

	assert.Equal(t, "segway-secret", keys["SEGWAY"])
	assert.Equal(t, "live-secret", keys["LIVE"])
	assert.NotContains(t, keys, "EMPTY")
	// The bare default key has no service prefix.
	assert.NotContains(t, keys, "")
}

func TestHMACKeyResolution(t *testing.T) {
	h := HMACConfig{
		DefaultKey:  "default",
		ServiceKeys: map[string]string{"SEGWAY": "segway-secret"},
	}

	assert.Equal(t, "segway-secret", h.Key("segway"))
	assert.Equal(t, "segway-secret", h.Key("SEGWAY"))
	assert.Equal(t, "default", h.Key(""))
	assert.Equal(t, "", h.Key("unknown"))
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "JWT_SECRET")

	cfg.Database.URL = "postgres://localhost/db"
	cfg.Auth.JWTSecret = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.OAuth.GrantTTL)
	assert.Equal(t, time.Hour, cfg.OAuth.AccessTokenTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.OAuth.RefreshTokenTTL)
	assert.Equal(t, "X-API-Key", cfg.Auth.APIKeyHeader)
}
