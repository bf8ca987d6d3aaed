package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wrkhub/authgate/internal/adapters"
	"github.com/wrkhub/authgate/internal/audit"
	"github.com/wrkhub/authgate/internal/autherr"
	"github.com/wrkhub/authgate/internal/identity"
)

// OAuthHandler runs the browser legs of the IdP flows: Initiate bounces
// the user to the provider, Callback redeems the returned code.
type OAuthHandler struct {
	adapters    map[string]adapters.Adapter
	provisioner *identity.Provisioner
	audit       *audit.Service
	auth        *AuthHandler
}

func NewOAuthHandler(adapterSet map[string]adapters.Adapter, provisioner *identity.Provisioner,
	auditSvc *audit.Service, authH *AuthHandler) *OAuthHandler {
	return &OAuthHandler{adapters: adapterSet, provisioner: provisioner, audit: auditSvc, auth: authH}
}

func (h *OAuthHandler) adapter(r *http.Request) (adapters.Adapter, error) {
	name := chi.URLParam(r, "provider")
	a, ok := h.adapters[name]
	if !ok {
		return nil, autherr.New(autherr.InstanceNotConfigured,
			"this identity provider is not configured").WithPayload("provider", name)
	}
	return a, nil
}

func (h *OAuthHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	a, err := h.adapter(r)
	if err != nil {
		redirectWithError(w, r, h.auth.cfg.Auth.WebURL, "/sign-in", err, adapters.Credentials{})
		return
	}

	authURL, err := a.Initiate(r.Context(), requestContext(r), adapters.Credentials{})
	if err != nil {
		redirectWithError(w, r, h.auth.cfg.Auth.WebURL, "/sign-in", err, adapters.Credentials{})
		return
	}
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	a, err := h.adapter(r)
	if err != nil {
		redirectWithError(w, r, h.auth.cfg.Auth.WebURL, "/sign-in", err, adapters.Credentials{})
		return
	}

	creds := adapters.Credentials{
		Code:  r.URL.Query().Get("code"),
		State: r.URL.Query().Get("state"),
		// The callback cannot know whether the account exists yet.
		Mode: adapters.ModeAuto,
	}
	rctx := requestContext(r)

	id, err := a.Authenticate(r.Context(), rctx, creds)
	if err != nil {
		h.fail(w, r, a.Provider(), err, creds)
		return
	}

	user, err := h.provisioner.Provision(r.Context(), rctx, identity.ProvisionParams{
		Identity: id, Mode: adapters.ModeAuto,
	})
	if err != nil {
		creds.Email = id.Email
		h.fail(w, r, a.Provider(), err, creds)
		return
	}

	h.audit.LogAuthAttempt(r.Context(), audit.AuthAttempt{
		Provider: a.Provider(), Email: user.Email, Success: true, ClientIP: rctx.IP,
	})
	h.auth.CompleteSignIn(w, r, user, "/")
}

func (h *OAuthHandler) fail(w http.ResponseWriter, r *http.Request, provider string, err error, creds adapters.Credentials) {
	h.audit.LogAuthAttempt(r.Context(), audit.AuthAttempt{
		Provider:  provider,
		Email:     creds.Email,
		Success:   false,
		ErrorCode: errorCode(err),
		ClientIP:  requestContext(r).IP,
	})
	redirectWithError(w, r, h.auth.cfg.Auth.WebURL, "/sign-in", err, creds)
}
