package handlers

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wrkhub/authgate/internal/adapters"
	"github.com/wrkhub/authgate/internal/audit"
	"github.com/wrkhub/authgate/internal/auth"
	"github.com/wrkhub/authgate/internal/autherr"
	"github.com/wrkhub/authgate/internal/config"
	"github.com/wrkhub/authgate/internal/identity"
	"github.com/wrkhub/authgate/internal/models"
	"github.com/wrkhub/authgate/internal/session"
)

// validationTokenTTL bounds the window between the app-scheme redirect
// and the session exchange.
const validationTokenTTL = 5 * time.Minute

// MobileHandler mirrors the browser flows for native apps. Instead of a
// cookie, success hands the app a short-lived validation token via its
// URL scheme; the app trades it for a session over HTTPS.
type MobileHandler struct {
	password    *adapters.PasswordAdapter
	magic       *adapters.MagicAdapter
	oauth       map[string]adapters.Adapter
	provisioner *identity.Provisioner
	sessions    *session.Store
	users       *identity.Store
	audit       *audit.Service
	cfg         *config.Config
}

func NewMobileHandler(password *adapters.PasswordAdapter, magic *adapters.MagicAdapter,
	oauth map[string]adapters.Adapter, provisioner *identity.Provisioner,
	sessions *session.Store, users *identity.Store, auditSvc *audit.Service, cfg *config.Config) *MobileHandler {
	return &MobileHandler{
		password:    password,
		magic:       magic,
		oauth:       oauth,
		provisioner: provisioner,
		sessions:    sessions,
		users:       users,
		audit:       auditSvc,
		cfg:         cfg,
	}
}

func (h *MobileHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	h.runPassword(w, r, adapters.ModeSignin)
}

func (h *MobileHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	h.runPassword(w, r, adapters.ModeSignup)
}

func (h *MobileHandler) runPassword(w http.ResponseWriter, r *http.Request, mode adapters.Mode) {
	creds := adapters.Credentials{
		Email:    r.FormValue("email"),
		Password: r.FormValue("password"),
		Mode:     mode,
	}
	rctx := requestContext(r)

	id, err := h.password.Authenticate(r.Context(), rctx, creds)
	if err != nil {
		h.appRedirectError(w, r, h.password.Provider(), err, creds)
		return
	}

	params := identity.ProvisionParams{Identity: id, Mode: mode}
	if mode == adapters.ModeSignup {
		hash, err := adapters.HashPassword(creds.Password)
		if err != nil {
			h.appRedirectError(w, r, h.password.Provider(), err, creds)
			return
		}
		params.PasswordHash = hash
	}

	user, err := h.provisioner.Provision(r.Context(), rctx, params)
	if err != nil {
		h.appRedirectError(w, r, h.password.Provider(), err, creds)
		return
	}
	h.appRedirectSuccess(w, r, h.password.Provider(), user)
}

func (h *MobileHandler) MagicSignIn(w http.ResponseWriter, r *http.Request) {
	h.runMagic(w, r, adapters.ModeSignin)
}

func (h *MobileHandler) MagicSignUp(w http.ResponseWriter, r *http.Request) {
	h.runMagic(w, r, adapters.ModeSignup)
}

func (h *MobileHandler) runMagic(w http.ResponseWriter, r *http.Request, mode adapters.Mode) {
	creds := adapters.Credentials{
		Email: r.FormValue("email"),
		Code:  r.FormValue("code"),
		Mode:  mode,
	}
	rctx := requestContext(r)

	id, err := h.magic.Authenticate(r.Context(), rctx, creds)
	if err != nil {
		h.appRedirectError(w, r, h.magic.Provider(), err, creds)
		return
	}
	user, err := h.provisioner.Provision(r.Context(), rctx, identity.ProvisionParams{Identity: id, Mode: mode})
	if err != nil {
		h.appRedirectError(w, r, h.magic.Provider(), err, creds)
		return
	}
	h.appRedirectSuccess(w, r, h.magic.Provider(), user)
}

func (h *MobileHandler) OAuthInitiate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	a, ok := h.oauth[name]
	if !ok {
		h.appRedirectError(w, r, name,
			autherr.New(autherr.InstanceNotConfigured, "this identity provider is not configured"),
			adapters.Credentials{})
		return
	}
	authURL, err := a.Initiate(r.Context(), requestContext(r), adapters.Credentials{})
	if err != nil {
		h.appRedirectError(w, r, name, err, adapters.Credentials{})
		return
	}
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

func (h *MobileHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	a, ok := h.oauth[name]
	if !ok {
		h.appRedirectError(w, r, name,
			autherr.New(autherr.InstanceNotConfigured, "this identity provider is not configured"),
			adapters.Credentials{})
		return
	}

	creds := adapters.Credentials{
		Code:  r.URL.Query().Get("code"),
		State: r.URL.Query().Get("state"),
		Mode:  adapters.ModeAuto,
	}
	rctx := requestContext(r)

	id, err := a.Authenticate(r.Context(), rctx, creds)
	if err != nil {
		h.appRedirectError(w, r, name, err, creds)
		return
	}
	user, err := h.provisioner.Provision(r.Context(), rctx, identity.ProvisionParams{Identity: id, Mode: adapters.ModeAuto})
	if err != nil {
		h.appRedirectError(w, r, name, err, creds)
		return
	}
	h.appRedirectSuccess(w, r, name, user)
}

// ExchangeSession trades a validation token for a session. The session
// token is returned in the body; native apps have no cookie jar.
func (h *MobileHandler) ExchangeSession(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.FormValue("token")
	if tokenStr == "" {
		writeError(w, autherr.New(autherr.TokenNotSet, "validation token is required"))
		return
	}

	userID, _, err := auth.ParseToken(h.cfg.Auth.JWTSecret, tokenStr, auth.PurposeMobileValidation)
	if err != nil {
		writeError(w, autherr.New(autherr.TokenExpired, "validation token is invalid or expired"))
		return
	}

	user, err := h.users.UserByID(r.Context(), userID)
	if err != nil {
		writeError(w, autherr.New(autherr.TokenExpired, "validation token does not identify a user"))
		return
	}

	sessionToken, err := h.sessions.Issue(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_token": sessionToken,
		"user":          user,
	})
}

func (h *MobileHandler) appRedirectSuccess(w http.ResponseWriter, r *http.Request, provider string, user *models.User) {
	h.audit.LogAuthAttempt(r.Context(), audit.AuthAttempt{
		Provider: provider, Email: user.Email, Success: true, ClientIP: requestContext(r).IP,
	})

	token, err := auth.MintToken(h.cfg.Auth.JWTSecret, user.ID, user.Email,
		auth.PurposeMobileValidation, validationTokenTTL)
	if err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, h.cfg.Auth.MobileScheme+"://auth?token="+url.QueryEscape(token), http.StatusSeeOther)
}

func (h *MobileHandler) appRedirectError(w http.ResponseWriter, r *http.Request, provider string, err error, creds adapters.Credentials) {
	h.audit.LogAuthAttempt(r.Context(), audit.AuthAttempt{
		Provider:  provider,
		Email:     creds.Email,
		Success:   false,
		ErrorCode: errorCode(err),
		ClientIP:  requestContext(r).IP,
	})

	ae := autherr.From(err)
	if ae == nil {
		ae = autherr.New(autherr.InstanceNotConfigured, "something went wrong")
	}
	q := url.Values{}
	q.Set("error_code", string(ae.Code))
	q.Set("error_message", ae.Message)
	http.Redirect(w, r, h.cfg.Auth.MobileScheme+"://auth?"+q.Encode(), http.StatusSeeOther)
}
