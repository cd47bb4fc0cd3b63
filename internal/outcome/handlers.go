// Package outcome holds the three terminal actions of the pipeline:
// success, authentication failure, and access denied. Browser flows get
// redirects with generic reason codes; API flows get structured JSON with
// stable machine-readable codes. Submitted credentials are never echoed.
package outcome

import (
	"net/http"
	"net/url"
	"strings"

	"paragate/gateway-service/internal/httputil"
	"paragate/gateway-service/internal/principal"
)

// Handlers is configured once at startup from the security section of the
// config and shared across requests.
type Handlers struct {
	SigninURL     string // entry point for unauthenticated callers
	SuccessURL    string // default post-login target
	FailureURL    string
	DeniedURL     string
	ReturnParam   string // caller-supplied return-to parameter name
	APIPathPrefix string // paths under this prefix always get JSON
}

type errorBody struct {
	Code   string `json:"code"`
	Status int    `json:"status"`
}

// IsAPIRequest distinguishes API callers (JSON) from browser flows
// (redirects) by path prefix and Accept header.
func (h *Handlers) IsAPIRequest(r *http.Request) bool {
	if h.APIPathPrefix != "" && strings.HasPrefix(r.URL.Path, h.APIPathPrefix) {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

// Success terminates a completed login. The redirect target is the
// sanitized return-to parameter if present, else the referer, else the
// configured default. Only same-origin paths survive sanitization.
func (h *Handlers) Success(w http.ResponseWriter, r *http.Request, p principal.Principal) {
	if h.IsAPIRequest(r) {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"id":     p.ID,
			"roles":  p.Roles,
			"scheme": p.Scheme,
		})
		return
	}
	target := h.SuccessURL
	if ret := r.FormValue(h.ReturnParam); ret != "" {
		target = httputil.SanitizeReturnURL(ret)
	} else if ref := r.Referer(); ref != "" {
		// Referers arrive as absolute URLs; only their path survives.
		if u, err := url.Parse(ref); err == nil && u.Path != "" {
			if clean := httputil.SanitizeReturnURL(u.Path); clean != "/" {
				target = clean
			}
		}
	}
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// AuthFailure terminates a failed authentication with a generic reason
// code. status is the HTTP status for API flows.
func (h *Handlers) AuthFailure(w http.ResponseWriter, r *http.Request, code string, status int) {
	if h.IsAPIRequest(r) {
		httputil.WriteJSON(w, status, errorBody{Code: code, Status: status})
		return
	}
	target := h.FailureURL
	if strings.Contains(target, "?") {
		target += "&code=" + code
	} else {
		target += "?code=" + code
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Unauthenticated sends a caller with no resolved identity to the signin
// entry point. Distinct from AccessDenied: the caller is unknown, not
// under-privileged.
func (h *Handlers) Unauthenticated(w http.ResponseWriter, r *http.Request) {
	if h.IsAPIRequest(r) {
		httputil.WriteJSON(w, http.StatusUnauthorized, errorBody{Code: "authentication_required", Status: http.StatusUnauthorized})
		return
	}
	http.Redirect(w, r, h.SigninURL, http.StatusFound)
}

// AccessDenied terminates a request whose Principal is known but lacks the
// required roles.
func (h *Handlers) AccessDenied(w http.ResponseWriter, r *http.Request, p principal.Principal) {
	if h.IsAPIRequest(r) {
		httputil.WriteJSON(w, http.StatusForbidden, errorBody{Code: "access_denied", Status: http.StatusForbidden})
		return
	}
	http.Redirect(w, r, h.DeniedURL, http.StatusFound)
}

// CsrfRejected terminates a mutating request with a missing or mismatched
// forgery token. The underlying handler is never invoked.
func (h *Handlers) CsrfRejected(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusForbidden, errorBody{Code: "csrf_rejected", Status: http.StatusForbidden})
}

// Unavailable terminates a request that could not be decided because an
// external collaborator failed. Fail closed, never grant.
func (h *Handlers) Unavailable(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusServiceUnavailable, errorBody{Code: "unavailable", Status: http.StatusServiceUnavailable})
}
