package handlers

import (
	"net/http"

	"github.com/wrkhub/authgate/internal/adapters"
	"github.com/wrkhub/authgate/internal/audit"
	"github.com/wrkhub/authgate/internal/auth"
	"github.com/wrkhub/authgate/internal/config"
	"github.com/wrkhub/authgate/internal/identity"
	"github.com/wrkhub/authgate/internal/models"
	"github.com/wrkhub/authgate/internal/session"
)

// AuthHandler runs the browser password flows. Success plants a fresh
// session cookie and bounces back to the web app; failure bounces back
// with error query parameters so the form can explain itself.
type AuthHandler struct {
	password    *adapters.PasswordAdapter
	provisioner *identity.Provisioner
	sessions    *session.Store
	audit       *audit.Service
	cfg         *config.Config
}

func NewAuthHandler(password *adapters.PasswordAdapter, provisioner *identity.Provisioner,
	sessions *session.Store, auditSvc *audit.Service, cfg *config.Config) *AuthHandler {
	return &AuthHandler{
		password:    password,
		provisioner: provisioner,
		sessions:    sessions,
		audit:       auditSvc,
		cfg:         cfg,
	}
}

func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, adapters.ModeSignup, "/sign-up")
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, adapters.ModeSignin, "/sign-in")
}

func (h *AuthHandler) run(w http.ResponseWriter, r *http.Request, mode adapters.Mode, errPath string) {
	creds := adapters.Credentials{
		Email:        r.FormValue("email"),
		Password:     r.FormValue("password"),
		Mode:         mode,
		InvitationID: r.FormValue("invitation_id"),
	}
	rctx := requestContext(r)

	id, err := h.password.Authenticate(r.Context(), rctx, creds)
	if err != nil {
		h.fail(w, r, errPath, err, creds)
		return
	}

	params := identity.ProvisionParams{Identity: id, Mode: mode}
	if mode == adapters.ModeSignup {
		hash, err := adapters.HashPassword(creds.Password)
		if err != nil {
			h.fail(w, r, errPath, err, creds)
			return
		}
		params.PasswordHash = hash
	}

	user, err := h.provisioner.Provision(r.Context(), rctx, params)
	if err != nil {
		h.fail(w, r, errPath, err, creds)
		return
	}

	h.audit.LogAuthAttempt(r.Context(), audit.AuthAttempt{
		Provider: h.password.Provider(), Email: creds.Email, Success: true, ClientIP: rctx.IP,
	})
	h.CompleteSignIn(w, r, user, nextPath(r))
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, errPath string, err error, creds adapters.Credentials) {
	h.audit.LogAuthAttempt(r.Context(), audit.AuthAttempt{
		Provider:  h.password.Provider(),
		Email:     creds.Email,
		Success:   false,
		ErrorCode: errorCode(err),
		ClientIP:  requestContext(r).IP,
	})
	redirectWithError(w, r, h.cfg.Auth.WebURL, errPath, err, creds)
}

// SignOut revokes the presented session and clears the cookie. It is a
// no-op without a cookie; signing out twice is not an error.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(h.cfg.Session.CookieName); err == nil && c.Value != "" {
		_ = h.sessions.Revoke(r.Context(), c.Value)
	}
	http.SetCookie(w, session.ClearCookie(h.cfg.Session.CookieName))
	http.Redirect(w, r, h.cfg.Auth.WebURL+"/", http.StatusSeeOther)
}

// Me returns the authenticated user for the web app shell.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if p.Anonymous() {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error_code":    "TOKEN_NOT_SET",
			"error_message": "not signed in",
		})
		return
	}
	writeJSON(w, http.StatusOK, p.User)
}

// CompleteSignIn issues a fresh session and redirects into the web app.
// Earlier sessions stay valid until they expire or are revoked explicitly;
// only the browser's cookie is replaced.
func (h *AuthHandler) CompleteSignIn(w http.ResponseWriter, r *http.Request, user *models.User, next string) {
	token, err := h.sessions.Issue(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, session.Cookie(h.cfg.Session.CookieName, token, h.cfg.Session.TTL))
	http.Redirect(w, r, h.cfg.Auth.WebURL+next, http.StatusSeeOther)
}
