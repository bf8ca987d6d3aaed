package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wrkhub/authgate/internal/auth"
	"github.com/wrkhub/authgate/internal/autherr"
	"github.com/wrkhub/authgate/internal/identity"
	"github.com/wrkhub/authgate/internal/membership"
	"github.com/wrkhub/authgate/internal/models"
)

// InviteNotifier dispatches the invitation email; *notify.Client
// satisfies it.
type InviteNotifier interface {
	SendInvitation(ctx context.Context, invite *models.WorkspaceInvite) error
}

// InvitationHandler manages workspace invites: admins create them, the
// invited user views and answers them. Workspaces are addressed by slug.
type InvitationHandler struct {
	store    *identity.Store
	members  *membership.Store
	notifier InviteNotifier
}

func NewInvitationHandler(store *identity.Store, members *membership.Store, notifier InviteNotifier) *InvitationHandler {
	return &InvitationHandler{store: store, members: members, notifier: notifier}
}

func (h *InvitationHandler) workspace(w http.ResponseWriter, r *http.Request) (*models.Workspace, bool) {
	ws, err := h.members.WorkspaceBySlug(r.Context(), chi.URLParam(r, "slug"))
	if errors.Is(err, membership.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "workspace not found"})
		return nil, false
	}
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return ws, true
}

type createInviteRequest struct {
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
}

func (h *InvitationHandler) Create(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	member, err := h.members.WorkspaceMember(r.Context(), ws.ID, p.UserID())
	if err != nil || !member.IsActive || member.Role != models.RoleAdmin {
		writeError(w, autherr.New(autherr.Forbidden, "only workspace admins can invite"))
		return
	}

	var req createInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email required"})
		return
	}
	if req.Role == 0 {
		req.Role = models.RoleMember
	}

	invite, err := h.store.CreateInvite(r.Context(), &models.WorkspaceInvite{
		Email:       email,
		WorkspaceID: ws.ID,
		Role:        req.Role,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.notifier.SendInvitation(r.Context(), invite); err != nil {
		slog.Error("invitation dispatch failed", "error", err, "invite_id", invite.ID)
	}

	writeJSON(w, http.StatusCreated, invite)
}

// invite loads the addressed invite and checks it belongs to both the
// workspace in the path and the caller's email.
func (h *InvitationHandler) invite(w http.ResponseWriter, r *http.Request) (*models.WorkspaceInvite, bool) {
	p := auth.PrincipalFromContext(r.Context())

	ws, ok := h.workspace(w, r)
	if !ok {
		return nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid invitation id"})
		return nil, false
	}

	invite, err := h.store.InviteByID(r.Context(), id)
	if errors.Is(err, identity.ErrNotFound) || (err == nil && invite.WorkspaceID != ws.ID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "invitation not found"})
		return nil, false
	}
	if err != nil {
		writeError(w, err)
		return nil, false
	}

	// Only the invited address may read or answer the invite.
	if p.Anonymous() || !strings.EqualFold(invite.Email, p.User.Email) {
		writeError(w, autherr.New(autherr.Forbidden, "this invitation belongs to someone else"))
		return nil, false
	}
	return invite, true
}

func (h *InvitationHandler) Get(w http.ResponseWriter, r *http.Request) {
	invite, ok := h.invite(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, invite)
}

type respondInviteRequest struct {
	Accept bool `json:"accept"`
}

func (h *InvitationHandler) Respond(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	invite, ok := h.invite(w, r)
	if !ok {
		return
	}
	if invite.RespondedAt != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invitation already answered"})
		return
	}

	var req respondInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := h.store.RespondInvite(r.Context(), invite.ID, p.UserID(), req.Accept); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": req.Accept})
}
