package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/wrkhub/authgate/internal/audit"
	"github.com/wrkhub/authgate/internal/auth"
	"github.com/wrkhub/authgate/internal/identity"
	"github.com/wrkhub/authgate/internal/policy"
)

// PolicyHandler answers authorization questions for sibling services.
// Callers sign requests with the shared HMAC key; browsers never reach
// these routes.
type PolicyHandler struct {
	engine   *policy.Engine
	verifier *policy.HMACVerifier
	users    *identity.Store
	audit    *audit.Service
}

func NewPolicyHandler(engine *policy.Engine, verifier *policy.HMACVerifier,
	users *identity.Store, auditSvc *audit.Service) *PolicyHandler {
	return &PolicyHandler{engine: engine, verifier: verifier, users: users, audit: auditSvc}
}

type policyCheckRequest struct {
	UserID      string `json:"user_id"`
	Method      string `json:"method"`
	Scope       string `json:"scope"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	PageID      string `json:"page_id,omitempty"`
	Route       string `json:"route,omitempty"`
}

func (h *PolicyHandler) Check(w http.ResponseWriter, r *http.Request) {
	service, err := h.verifier.Verify(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error_code":    "TOKEN_NOT_SET",
			"error_message": "request signature is missing or invalid",
		})
		return
	}

	var req policyCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user_id"})
		return
	}

	target, err := parseTarget(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	user, err := h.users.UserByID(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusOK, policy.Decision{
			Allowed: false, Rule: "principal", Reason: "user does not exist",
		})
		return
	}

	principal := &auth.Principal{User: user, Method: auth.MethodJWT}
	decision := h.engine.Check(r.Context(), principal, req.Method, policy.Scope(req.Scope), target)
	if !decision.Allowed {
		h.audit.LogPolicyDeny(r.Context(), audit.PolicyDeny{
			PrincipalID: userID,
			Route:       req.Route,
			Scope:       req.Scope,
			Rule:        decision.Rule,
			Reason:      decision.Reason,
		})
	}

	w.Header().Set("X-Verified-Service", service)
	writeJSON(w, http.StatusOK, decision)
}

func parseTarget(req policyCheckRequest) (policy.Target, error) {
	var target policy.Target
	var err error
	if req.WorkspaceID != "" {
		if target.WorkspaceID, err = uuid.Parse(req.WorkspaceID); err != nil {
			return target, errors.New("invalid workspace_id")
		}
	}
	if req.ProjectID != "" {
		if target.ProjectID, err = uuid.Parse(req.ProjectID); err != nil {
			return target, errors.New("invalid project_id")
		}
	}
	if req.PageID != "" {
		if target.PageID, err = uuid.Parse(req.PageID); err != nil {
			return target, errors.New("invalid page_id")
		}
	}
	return target, nil
}
