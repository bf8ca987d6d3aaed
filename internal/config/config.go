package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	OAuth    OAuthConfig
	Session  SessionConfig
	HMAC     HMACConfig
	Storage  StorageConfig
	Notifier NotifierConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret    string
	APIKeyHeader string
	EnableSignup bool
	WebURL       string
	APIBaseURL   string
	MobileScheme string
}

// ProviderConfig carries the client credentials for one OAuth identity
// provider. Sync controls whether profile fields are overwritten from the
// IdP on repeat logins.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	Sync         bool
}

func (p ProviderConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type OAuthConfig struct {
	Google ProviderConfig
	GitHub ProviderConfig
	GitLab ProviderConfig
	Gitea  ProviderConfig

	GitLabBaseURL string
	GiteaBaseURL  string

	GrantTTL        time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

func (o OAuthConfig) Provider(name string) (ProviderConfig, bool) {
	switch name {
	case "google":
		return o.Google, o.Google.Enabled()
	case "github":
		return o.GitHub, o.GitHub.Enabled()
	case "gitlab":
		return o.GitLab, o.GitLab.Enabled()
	case "gitea":
		return o.Gitea, o.Gitea.Enabled()
	}
	return ProviderConfig{}, false
}

type SessionConfig struct {
	CookieName string
	TTL        time.Duration
}

// HMACConfig backs signed service-to-service calls. DefaultKey is
// HMAC_SECRET_KEY; ServiceKeys holds the <SERVICE>_HMAC_SECRET_KEY
// overrides keyed by the upper-cased service name.
type HMACConfig struct {
	DefaultKey  string
	ServiceKeys map[string]string
}

// Key resolves the signing secret for a service; an empty service selects
// the default key. Returns "" when nothing is configured.
func (h HMACConfig) Key(service string) string {
	if service == "" {
		return h.DefaultKey
	}
	return h.ServiceKeys[strings.ToUpper(service)]
}

type StorageConfig struct {
	URL           string
	Key           string
	Bucket        string
	MaxUploadSize int64
}

type NotifierConfig struct {
	URL    string
	Secret string
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxUpload, err := getEnvInt64("DATA_UPLOAD_MAX_MEMORY_SIZE", 5<<20)
	if err != nil {
		return nil, fmt.Errorf("invalid DATA_UPLOAD_MAX_MEMORY_SIZE: %w", err)
	}

	sessionTTL, err := getEnvDuration("SESSION_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			APIKeyHeader: getEnv("API_KEY_HEADER", "X-API-Key"),
			EnableSignup: getEnvBool("ENABLE_SIGNUP", true),
			WebURL:       strings.TrimRight(getEnv("WEB_URL", "http://localhost:3000"), "/"),
			APIBaseURL:   strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8080"), "/"),
			MobileScheme: getEnv("MOBILE_APP_SCHEME", "wrkhub"),
		},
		OAuth: OAuthConfig{
			Google: ProviderConfig{
				ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
				ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
				Sync:         getEnvBool("ENABLE_GOOGLE_SYNC", false),
			},
			GitHub: ProviderConfig{
				ClientID:     getEnv("GITHUB_CLIENT_ID", ""),
				ClientSecret: getEnv("GITHUB_CLIENT_SECRET", ""),
				Sync:         getEnvBool("ENABLE_GITHUB_SYNC", false),
			},
			GitLab: ProviderConfig{
				ClientID:     getEnv("GITLAB_CLIENT_ID", ""),
				ClientSecret: getEnv("GITLAB_CLIENT_SECRET", ""),
				Sync:         getEnvBool("ENABLE_GITLAB_SYNC", false),
			},
			Gitea: ProviderConfig{
				ClientID:     getEnv("GITEA_CLIENT_ID", ""),
				ClientSecret: getEnv("GITEA_CLIENT_SECRET", ""),
				Sync:         getEnvBool("ENABLE_GITEA_SYNC", false),
			},
			GitLabBaseURL:   getEnv("GITLAB_BASE_URL", "https://gitlab.com"),
			GiteaBaseURL:    getEnv("GITEA_BASE_URL", "https://gitea.com"),
			GrantTTL:        60 * time.Second,
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 30 * 24 * time.Hour,
		},
		Session: SessionConfig{
			CookieName: getEnv("SESSION_COOKIE_NAME", "wrkhub-session"),
			TTL:        sessionTTL,
		},
		HMAC: HMACConfig{
			DefaultKey:  getEnv("HMAC_SECRET_KEY", ""),
			ServiceKeys: loadServiceHMACKeys(os.Environ()),
		},
		Storage: StorageConfig{
			URL:           getEnv("STORAGE_URL", ""),
			Key:           getEnv("STORAGE_SERVICE_KEY", ""),
			Bucket:        getEnv("STORAGE_BUCKET", "avatars"),
			MaxUploadSize: maxUpload,
		},
		Notifier: NotifierConfig{
			URL:    getEnv("NOTIFIER_URL", ""),
			Secret: getEnv("NOTIFIER_SECRET", ""),
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

const hmacKeySuffix = "_HMAC_SECRET_KEY"

func loadServiceHMACKeys(environ []string) map[string]string {
	keys := make(map[string]string)
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		service, found := strings.CutSuffix(name, hmacKeySuffix)
		if !found || service == "" {
			continue
		}
		keys[service] = value
	}
	return keys
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func getEnvBool(key string, fallback bool) bool {
	switch os.Getenv(key) {
	case "1", "true", "TRUE":
		return true
	case "0", "false", "FALSE":
		return false
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}
