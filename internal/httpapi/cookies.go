package httpapi

import (
	"net/http"
	"time"

	"lmsportal.org/internal/auth"
)

const (
	sessionCookie = "session"
	refreshCookie = "refreshToken"

	// The refresh cookie only travels to the auth endpoints.
	refreshPath = "/auth"
)

func (a *API) setSessionCookies(w http.ResponseWriter, pair *auth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		Expires:  pair.AccessExpiresAt,
		HttpOnly: true,
		Secure:   a.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    pair.RefreshToken,
		Path:     refreshPath,
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   a.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookies(w http.ResponseWriter) {
	expire := func(name, path string) {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     path,
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			Secure:   a.cfg.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
	expire(sessionCookie, "/")
	expire(refreshCookie, refreshPath)
}

// bearerOrCookie extracts the access token: session cookie first, then the
// Authorization header for non-browser clients.
func bearerOrCookie(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	const prefix = "Bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func refreshTokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(refreshCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}
