package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wrkhub/authgate/internal/adapters"
	"github.com/wrkhub/authgate/internal/api/handlers"
	"github.com/wrkhub/authgate/internal/api/middleware"
	"github.com/wrkhub/authgate/internal/audit"
	"github.com/wrkhub/authgate/internal/auth"
	"github.com/wrkhub/authgate/internal/cache"
	"github.com/wrkhub/authgate/internal/config"
	"github.com/wrkhub/authgate/internal/flags"
	"github.com/wrkhub/authgate/internal/identity"
	"github.com/wrkhub/authgate/internal/membership"
	"github.com/wrkhub/authgate/internal/notify"
	"github.com/wrkhub/authgate/internal/oauthserver"
	"github.com/wrkhub/authgate/internal/policy"
	"github.com/wrkhub/authgate/internal/session"
	"github.com/wrkhub/authgate/internal/storage"
)

type Router struct {
	mux   *chi.Mux
	db    *pgxpool.Pool
	redis *redis.Client
	cfg   *config.Config
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config) *Router {
	return &Router{
		mux:   chi.NewRouter(),
		db:    db,
		redis: rdb,
		cfg:   cfg,
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux
	cfg := rt.cfg

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{cfg.Auth.WebURL}))

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// Shared infrastructure
	c := cache.NewCache(rt.redis)
	store := identity.NewStore(rt.db)
	sessions := session.NewStore(c, cfg.Session.TTL)
	members := membership.NewStore(rt.db)
	oracle := flags.NewOracle(rt.db, c)
	auditSvc := audit.NewService(rt.db)
	notifier := notify.NewClient(cfg.Redis)
	avatars := storage.NewHTTPStore(cfg.Storage.URL, cfg.Storage.Key, cfg.Storage.Bucket, cfg.Storage.MaxUploadSize)

	syncEnabled := func(provider string) bool {
		p, ok := cfg.OAuth.Provider(provider)
		return ok && p.Sync
	}
	provisioner := identity.NewProvisioner(store, avatars, notifier,
		cfg.Auth.EnableSignup, syncEnabled, cfg.Storage.MaxUploadSize)

	// Credential adapters
	states := adapters.NewRedisStateStore(c)
	password := adapters.NewPasswordAdapter(store)
	magic := adapters.NewMagicAdapter(c, notifier)
	webOAuth := rt.oauthAdapters(states, "/auth/callback/")
	mobileOAuth := rt.oauthAdapters(states, "/m/auth/callback/")

	// OAuth server
	oauthStore := oauthserver.NewPgStore(rt.db)
	engine := oauthserver.NewEngine(oauthStore, c,
		cfg.OAuth.GrantTTL, cfg.OAuth.AccessTokenTTL, cfg.OAuth.RefreshTokenTTL)

	// Policy
	policyEngine := policy.NewEngine(members, oracle)
	verifier := policy.NewHMACVerifier(cfg.HMAC.Key)

	// Identity resolution applies everywhere below; unauthenticated
	// requests proceed as anonymous.
	resolver := auth.NewResolver(cfg.Auth.JWTSecret, cfg.Auth.APIKeyHeader, cfg.Session.CookieName,
		store, oauthStore, sessions)
	r.Use(resolver.Resolve)

	// Rate limiting
	rl := middleware.NewRateLimiter(c)
	passwordLimit := rl.Limit(middleware.Bucket{
		Name: "auth.password", Limit: 10, Window: time.Minute, Key: middleware.KeyByEmailAndIP,
	})
	magicGenerateLimit := rl.Limit(middleware.Bucket{
		Name: "auth.magic.generate", Limit: 10, Window: time.Minute, Key: middleware.KeyByEmailAndIP,
	})
	magicVerifyLimit := rl.Limit(middleware.Bucket{
		Name: "auth.magic.verify", Limit: 10, Window: time.Minute, Key: middleware.KeyByEmailAndIP,
	})
	authorizeLimit := rl.Limit(middleware.Bucket{
		Name: "oauth.authorize", Limit: 10, Window: time.Minute, Key: middleware.KeyByClientID,
	})
	tokenLimit := rl.Limit(middleware.Bucket{
		Name: "oauth.token", Limit: 5, Window: time.Minute, Key: middleware.KeyByClientID,
	})

	// Handlers
	authH := handlers.NewAuthHandler(password, provisioner, sessions, auditSvc, cfg)
	magicH := handlers.NewMagicHandler(magic, provisioner, auditSvc, authH)
	oauthH := handlers.NewOAuthHandler(webOAuth, provisioner, auditSvc, authH)
	oauth2H := handlers.NewOAuth2Handler(engine, oauthStore, cfg)
	mobileH := handlers.NewMobileHandler(password, magic, mobileOAuth, provisioner,
		sessions, store, auditSvc, cfg)
	inviteH := handlers.NewInvitationHandler(store, members, notifier)
	policyH := handlers.NewPolicyHandler(policyEngine, verifier, store, auditSvc)
	auditH := handlers.NewAuditHandler(auditSvc, verifier)

	// Browser auth
	r.Route("/auth", func(r chi.Router) {
		r.With(passwordLimit).Post("/signup/", authH.SignUp)
		r.With(passwordLimit).Post("/signin/", authH.SignIn)
		r.Post("/signout/", authH.SignOut)
		r.Get("/me/", authH.Me)

		r.With(magicGenerateLimit).Post("/magic/generate/", magicH.Generate)
		r.With(magicVerifyLimit).Post("/magic/signup/", magicH.SignUp)
		r.With(magicVerifyLimit).Post("/magic/signin/", magicH.SignIn)

		r.Get("/{provider}/", oauthH.Initiate)
		r.Get("/callback/{provider}/", oauthH.Callback)
	})

	// Mobile auth
	r.Route("/m/auth", func(r chi.Router) {
		r.With(passwordLimit).Post("/signup/", mobileH.SignUp)
		r.With(passwordLimit).Post("/signin/", mobileH.SignIn)
		r.With(magicVerifyLimit).Post("/magic/signup/", mobileH.MagicSignUp)
		r.With(magicVerifyLimit).Post("/magic/signin/", mobileH.MagicSignIn)
		r.Get("/{provider}/", mobileH.OAuthInitiate)
		r.Get("/callback/{provider}/", mobileH.OAuthCallback)
		r.Post("/sessions/", mobileH.ExchangeSession)
	})

	// OAuth authorization server
	r.Route("/oauth", func(r chi.Router) {
		r.With(authorizeLimit).Get("/authorize", oauth2H.Authorize)
		r.With(tokenLimit).Post("/token", oauth2H.Token)
		r.Post("/revoke", oauth2H.Revoke)
	})

	// Workspace invitations
	r.Route("/workspaces/{slug}/invitations", func(r chi.Router) {
		r.Post("/", inviteH.Create)
		r.Get("/{id}/", inviteH.Get)
		r.Post("/{id}/", inviteH.Respond)
	})

	// Internal service surface (HMAC-signed)
	r.Post("/internal/policy/check", policyH.Check)
	r.Get("/internal/audit/events", auditH.Events)

	return r
}

// oauthAdapters builds one adapter per configured provider with callbacks
// under the given path prefix.
func (rt *Router) oauthAdapters(states adapters.StateStore, callbackPrefix string) map[string]adapters.Adapter {
	cfg := rt.cfg
	redirect := func(provider string) string {
		return cfg.Auth.APIBaseURL + callbackPrefix + provider + "/"
	}

	set := make(map[string]adapters.Adapter)
	if cfg.OAuth.Google.Enabled() {
		set["google"] = adapters.NewGoogleAdapter(cfg.OAuth.Google, redirect("google"), states)
	}
	if cfg.OAuth.GitHub.Enabled() {
		set["github"] = adapters.NewGitHubAdapter(cfg.OAuth.GitHub, redirect("github"), states)
	}
	if cfg.OAuth.GitLab.Enabled() {
		set["gitlab"] = adapters.NewGitLabAdapter(cfg.OAuth.GitLab, cfg.OAuth.GitLabBaseURL, redirect("gitlab"), states)
	}
	if cfg.OAuth.Gitea.Enabled() {
		set["gitea"] = adapters.NewGiteaAdapter(cfg.OAuth.Gitea, cfg.OAuth.GiteaBaseURL, redirect("gitea"), states)
	}
	return set
}
