package httpapi

import (
	"net/http"
	"strings"

	"lmsportal.org/internal/auth"
)

// handleAdminUsers dispatches /admin/users/{id}/impersonate. The exact
// pattern /admin/users/preview-permissions is registered separately and wins
// over this subtree.
func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/users/")
	parts := strings.Split(rest, "/")
	if len(parts) == 2 && parts[0] != "" && parts[1] == "impersonate" {
		a.guard(guardConfig{
			roles:      []auth.RoleKey{auth.RoleAdmin},
			permission: auth.PermUserImpersonate,
		}, func(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
			a.handleImpersonateStart(w, r, p, parts[0])
		})(w, r)
		return
	}
	http.NotFound(w, r)
}

type impersonateRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (a *API) handleImpersonateStart(w http.ResponseWriter, r *http.Request, p *auth.Principal, targetID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req impersonateRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
	}

	sess, pair, err := a.impersonation.Start(r.Context(), p, targetID, req.Reason, clientMeta(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	// The admin's browser session becomes the target's until the short
	// access token expires or the session is ended.
	a.setSessionCookies(w, pair)
	writeJSON(w, http.StatusOK, map[string]any{
		"session":    sess,
		"expires_at": pair.AccessExpiresAt,
	})
}

// handleImpersonationEnd serves /admin/impersonation/{id}/end.
func (a *API) handleImpersonationEnd(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/impersonation/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "end" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	if err := a.impersonation.End(r.Context(), p, parts[0], clientMeta(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "impersonation_ended"})
}

type previewPermissionsRequest struct {
	Roles  []auth.RoleKey `json:"roles"`
	Grants []string       `json:"grants,omitempty"`
	Denies []string       `json:"denies,omitempty"`
}

// handlePreviewPermissions resolves what a hypothetical role/override
// combination would be able to do, for the admin UI's permission editor.
func (a *API) handlePreviewPermissions(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req previewPermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	perms, err := a.svc.Resolver().Preview(r.Context(), req.Roles, req.Grants, req.Denies)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}
