package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lmsportal.org/internal/audit"
	"lmsportal.org/internal/auth"
	"lmsportal.org/internal/csrf"
	"lmsportal.org/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User      *auth.User `json:"user"`
	ExpiresAt time.Time  `json:"expires_at"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.cfg.SkipCSRF {
		if err := csrf.Validate(r); err != nil {
			obs.CSRFRejections.Inc()
			meta := clientMeta(r)
			a.recorder.Record(audit.Entry{
				Event:     audit.CSRFViolation,
				IP:        meta.IP,
				UserAgent: meta.UserAgent,
				Metadata:  map[string]any{"path": r.URL.Path, "reason": err.Error()},
			})
			writeError(w, r, http.StatusForbidden, "csrf_violation", "csrf token missing or invalid")
			return
		}
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "email and password are required")
		return
	}

	meta := clientMeta(r)
	// Keyed by IP and email together so an attacker rotating targets from
	// one address still burns the same budget.
	if !a.cfg.SkipRateLimit {
		if d := a.loginLimiter.Allow("login:" + meta.IP + ":" + email); !d.Allowed {
			a.rejectRateLimited(w, r, "login", d)
			return
		}
	}

	user, pair, err := a.svc.Login(r.Context(), email, req.Password, meta)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	a.setSessionCookies(w, pair)
	if token, err := csrf.Token(); err == nil {
		csrf.SetCookie(w, token, a.cfg.SecureCookies)
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: user, ExpiresAt: pair.AccessExpiresAt})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	meta := clientMeta(r)
	if !a.cfg.SkipRateLimit {
		if d := a.refreshLimiter.Allow("refresh:" + meta.IP); !d.Allowed {
			a.rejectRateLimited(w, r, "refresh", d)
			return
		}
	}

	token := refreshTokenFromRequest(r)
	if token == "" {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "refresh token missing")
		return
	}

	user, pair, err := a.svc.Refresh(r.Context(), token, meta)
	if err != nil {
		a.clearSessionCookies(w)
		handleAuthError(w, r, err)
		return
	}

	a.setSessionCookies(w, pair)
	writeJSON(w, http.StatusOK, sessionResponse{User: user, ExpiresAt: pair.AccessExpiresAt})
}

// handleRefreshAndRedirect is the browser recovery path: an expired page
// load lands here, gets fresh cookies, and bounces back to where it was.
// Failures bounce to the login page with a reason the UI can display.
func (a *API) handleRefreshAndRedirect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	target := sanitizeRedirect(r.URL.Query().Get("redirect"))

	token := refreshTokenFromRequest(r)
	if token == "" {
		http.Redirect(w, r, loginRedirect("expired"), http.StatusSeeOther)
		return
	}

	meta := clientMeta(r)
	_, pair, err := a.svc.Refresh(r.Context(), token, meta)
	if err != nil {
		a.clearSessionCookies(w)
		reason := "error"
		switch {
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenReuseDetected):
			reason = "expired"
		case errors.Is(err, auth.ErrInvalidCredentials):
			reason = "inactive"
		}
		http.Redirect(w, r, loginRedirect(reason), http.StatusSeeOther)
		return
	}

	a.setSessionCookies(w, pair)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// handleLogout succeeds no matter what state the session is in: a caller
// with an expired or missing token still gets their cookies cleared. The
// token is verified only to attribute the audit record.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, _ := a.svc.Authenticate(r.Context(), bearerOrCookie(r))
	if err := a.svc.Logout(r.Context(), p, refreshTokenFromRequest(r), clientMeta(r)); err != nil {
		obs.Error("logout", map[string]any{"error": err.Error()})
	}
	a.clearSessionCookies(w)
	csrf.ClearCookie(w, a.cfg.SecureCookies)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.svc.LogoutAll(r.Context(), p, clientMeta(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.clearSessionCookies(w)
	csrf.ClearCookie(w, a.cfg.SecureCookies)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out_everywhere"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	// The set is tenant-wide; a nodeId query only labels the response with
	// the node the caller is asking about.
	nodeID := r.URL.Query().Get("nodeId")
	if nodeID == "" {
		nodeID = p.NodeID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":     nodeID,
		"permissions": p.Permissions,
	})
}

type switchNodeRequest struct {
	NodeID string       `json:"node_id"`
	Role   auth.RoleKey `json:"role,omitempty"`
}

func (a *API) handleSwitchNode(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req switchNodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	pair, err := a.svc.SwitchNode(r.Context(), p, req.NodeID, req.Role, clientMeta(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.setSessionCookies(w, pair)
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":    req.NodeID,
		"expires_at": pair.AccessExpiresAt,
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if err := a.svc.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword, clientMeta(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	// The version bump killed this session too; the client logs in again.
	a.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	token, err := csrf.Token()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	csrf.SetCookie(w, token, a.cfg.SecureCookies)
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

// sanitizeRedirect confines redirect targets to same-origin paths.
func sanitizeRedirect(raw string) string {
	if raw == "" {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") {
		return "/"
	}
	return u.String()
}

func loginRedirect(reason string) string {
	return "/login?reason=" + url.QueryEscape(reason)
}
