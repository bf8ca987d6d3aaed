package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/wrkhub/authgate/internal/auth"
	"github.com/wrkhub/authgate/internal/autherr"
	"github.com/wrkhub/authgate/internal/config"
	"github.com/wrkhub/authgate/internal/oauthserver"
)

// OAuth2Handler exposes the gateway's own authorization server: the
// authorize and token endpoints third-party apps integrate against.
type OAuth2Handler struct {
	engine *oauthserver.Engine
	apps   *oauthserver.PgStore
	cfg    *config.Config
}

func NewOAuth2Handler(engine *oauthserver.Engine, apps *oauthserver.PgStore, cfg *config.Config) *OAuth2Handler {
	return &OAuth2Handler{engine: engine, apps: apps, cfg: cfg}
}

// Authorize handles GET /oauth/authorize. Anonymous callers are sent to
// the login page with the full authorize URL as the return destination;
// clients without skip_authorization pass through a consent screen.
func (h *OAuth2Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if p.Anonymous() {
		login := h.cfg.Auth.WebURL + "/sign-in?next_path=" + url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, login, http.StatusSeeOther)
		return
	}

	q := r.URL.Query()
	req := oauthserver.AuthorizeRequest{
		ClientID:          q.Get("client_id"),
		RedirectURI:       q.Get("redirect_uri"),
		State:             q.Get("state"),
		AppInstallationID: q.Get("app_installation_id"),
	}
	if scope := q.Get("scope"); scope != "" {
		req.Scopes = strings.Fields(scope)
	}

	app, err := h.apps.ApplicationByClientID(r.Context(), req.ClientID)
	if err != nil {
		h.renderAuthorizeError(w, r, req, autherr.New(autherr.InvalidGrant, "unknown client"))
		return
	}

	if !app.SkipAuthorization && q.Get("approved") != "true" {
		consent, parseErr := url.Parse(h.cfg.Auth.WebURL + "/oauth/consent")
		if parseErr != nil {
			writeError(w, parseErr)
			return
		}
		cq := consent.Query()
		cq.Set("client_name", app.Name)
		cq.Set("authorize_url", r.URL.RequestURI()+"&approved=true")
		if len(req.Scopes) > 0 {
			cq.Set("scope", strings.Join(req.Scopes, " "))
		}
		consent.RawQuery = cq.Encode()
		http.Redirect(w, r, consent.String(), http.StatusSeeOther)
		return
	}

	redirect, err := h.engine.Authorize(r.Context(), p.UserID(), req)
	if err != nil {
		h.renderAuthorizeError(w, r, req, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusSeeOther)
}

// renderAuthorizeError reports to the client's redirect URI when it is
// safe to, and falls back to a JSON body when it is not.
func (h *OAuth2Handler) renderAuthorizeError(w http.ResponseWriter, r *http.Request, req oauthserver.AuthorizeRequest, err error) {
	ae := autherr.From(err)
	if ae == nil || req.RedirectURI == "" {
		writeError(w, err)
		return
	}
	u, parseErr := url.Parse(req.RedirectURI)
	if parseErr != nil {
		writeError(w, err)
		return
	}
	q := u.Query()
	q.Set("error_code", string(ae.Code))
	q.Set("error_message", ae.Message)
	if req.State != "" {
		q.Set("state", req.State)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusSeeOther)
}

// Token handles POST /oauth/token with form-encoded bodies. Confidential
// clients may authenticate with HTTP Basic instead of body parameters.
func (h *OAuth2Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, autherr.New(autherr.InvalidGrant, "request body is not form encoded"))
		return
	}

	req := oauthserver.TokenRequest{
		GrantType:         r.PostFormValue("grant_type"),
		ClientID:          r.PostFormValue("client_id"),
		ClientSecret:      r.PostFormValue("client_secret"),
		Code:              r.PostFormValue("code"),
		RedirectURI:       r.PostFormValue("redirect_uri"),
		RefreshToken:      r.PostFormValue("refresh_token"),
		AppInstallationID: r.PostFormValue("app_installation_id"),
	}
	if id, secret, ok := r.BasicAuth(); ok {
		req.ClientID = id
		req.ClientSecret = secret
	}

	resp, err := h.engine.Token(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

// Revoke handles POST /oauth/revoke for access tokens issued by the
// engine. Unknown tokens return 200 so callers cannot probe.
func (h *OAuth2Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	token := r.PostFormValue("token")
	if token == "" {
		writeError(w, autherr.New(autherr.InvalidGrant, "token is required"))
		return
	}
	if at, err := h.apps.AccessTokenByToken(r.Context(), token); err == nil {
		_ = h.apps.DeleteAccessToken(r.Context(), at.ID)
	}
	w.WriteHeader(http.StatusOK)
}
