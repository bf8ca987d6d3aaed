package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/wrkhub/authgate/internal/adapters"
	"github.com/wrkhub/authgate/internal/api/middleware"
	"github.com/wrkhub/authgate/internal/autherr"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError renders a typed gateway error as JSON; anything untyped
// becomes a generic 500 without leaking internals.
func writeError(w http.ResponseWriter, err error) {
	if ae := autherr.From(err); ae != nil {
		writeJSON(w, ae.HTTPStatus(), map[string]interface{}{
			"error_code":    string(ae.Code),
			"error_message": ae.Message,
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error_code":    "INTERNAL_ERROR",
		"error_message": "something went wrong",
	})
}

// redirectWithError sends browser flows back to the web app with the
// failure spelled out in query parameters. The submitted email and
// invitation id ride along so the form can be re-filled.
func redirectWithError(w http.ResponseWriter, r *http.Request, base, path string, err error, creds adapters.Credentials) {
	ae := autherr.From(err)
	if ae == nil {
		ae = autherr.New(autherr.InstanceNotConfigured, "something went wrong")
	}

	u, parseErr := url.Parse(base + path)
	if parseErr != nil {
		writeError(w, err)
		return
	}
	q := u.Query()
	q.Set("error_code", string(ae.Code))
	q.Set("error_message", ae.Message)
	if creds.Email != "" {
		q.Set("email", creds.Email)
	}
	if creds.InvitationID != "" {
		q.Set("invitation_id", creds.InvitationID)
	}
	u.RawQuery = q.Encode()

	http.Redirect(w, r, u.String(), http.StatusSeeOther)
}

func requestContext(r *http.Request) adapters.RequestContext {
	return adapters.RequestContext{
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
		Host:      r.Host,
	}
}

// errorCode flattens an error to the code the audit trail records.
func errorCode(err error) string {
	if ae := autherr.From(err); ae != nil {
		return string(ae.Code)
	}
	return "INTERNAL_ERROR"
}

// nextPath sanitizes the post-login destination: only same-site paths
// are honored, everything else falls back to the root.
func nextPath(r *http.Request) string {
	next := r.FormValue("next_path")
	if next == "" || next[0] != '/' || (len(next) > 1 && next[1] == '/') {
		return "/"
	}
	return next
}
