package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/wrkhub/authgate/internal/audit"
	"github.com/wrkhub/authgate/internal/policy"
)

// AuditHandler serves the auth-event trail to sibling services. Like the
// policy check, requests must carry a valid HMAC signature.
type AuditHandler struct {
	audit    *audit.Service
	verifier *policy.HMACVerifier
}

func NewAuditHandler(auditSvc *audit.Service, verifier *policy.HMACVerifier) *AuditHandler {
	return &AuditHandler{audit: auditSvc, verifier: verifier}
}

func (h *AuditHandler) Events(w http.ResponseWriter, r *http.Request) {
	service, err := h.verifier.Verify(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error_code":    "TOKEN_NOT_SET",
			"error_message": "request signature is missing or invalid",
		})
		return
	}

	q := r.URL.Query()
	query := audit.EventQuery{Provider: q.Get("provider")}
	if v := q.Get("limit"); v != "" {
		query.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		query.Offset, _ = strconv.Atoi(v)
	}
	if v := q.Get("start_date"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid start_date"})
			return
		}
		query.StartDate = &ts
	}
	if v := q.Get("end_date"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid end_date"})
			return
		}
		query.EndDate = &ts
	}

	events, err := h.audit.GetAuthEvents(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("X-Verified-Service", service)
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
