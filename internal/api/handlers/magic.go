package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/wrkhub/authgate/internal/adapters"
	"github.com/wrkhub/authgate/internal/audit"
	"github.com/wrkhub/authgate/internal/identity"
)

// MagicHandler drives the emailed-code flow: generate issues a code, the
// signup/signin endpoints redeem it.
type MagicHandler struct {
	magic       *adapters.MagicAdapter
	provisioner *identity.Provisioner
	audit       *audit.Service
	auth        *AuthHandler
}

func NewMagicHandler(magic *adapters.MagicAdapter, provisioner *identity.Provisioner,
	auditSvc *audit.Service, authH *AuthHandler) *MagicHandler {
	return &MagicHandler{magic: magic, provisioner: provisioner, audit: auditSvc, auth: authH}
}

// Generate creates and emails a login code, returning the challenge key.
// It does not reveal whether the address has an account.
func (h *MagicHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	creds := adapters.Credentials{Email: req.Email}
	key, err := h.magic.Initiate(r.Context(), requestContext(r), creds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

func (h *MagicHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	h.redeem(w, r, adapters.ModeSignup, "/sign-up")
}

func (h *MagicHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	h.redeem(w, r, adapters.ModeSignin, "/sign-in")
}

func (h *MagicHandler) redeem(w http.ResponseWriter, r *http.Request, mode adapters.Mode, errPath string) {
	creds := adapters.Credentials{
		Email:        r.FormValue("email"),
		Code:         r.FormValue("code"),
		Mode:         mode,
		InvitationID: r.FormValue("invitation_id"),
	}
	rctx := requestContext(r)

	id, err := h.magic.Authenticate(r.Context(), rctx, creds)
	if err != nil {
		h.fail(w, r, errPath, err, creds)
		return
	}

	user, err := h.provisioner.Provision(r.Context(), rctx, identity.ProvisionParams{Identity: id, Mode: mode})
	if err != nil {
		h.fail(w, r, errPath, err, creds)
		return
	}

	h.audit.LogAuthAttempt(r.Context(), audit.AuthAttempt{
		Provider: h.magic.Provider(), Email: creds.Email, Success: true, ClientIP: rctx.IP,
	})
	h.auth.CompleteSignIn(w, r, user, nextPath(r))
}

func (h *MagicHandler) fail(w http.ResponseWriter, r *http.Request, errPath string, err error, creds adapters.Credentials) {
	h.audit.LogAuthAttempt(r.Context(), audit.AuthAttempt{
		Provider:  h.magic.Provider(),
		Email:     creds.Email,
		Success:   false,
		ErrorCode: errorCode(err),
		ClientIP:  requestContext(r).IP,
	})
	redirectWithError(w, r, h.auth.cfg.Auth.WebURL, errPath, err, creds)
}
