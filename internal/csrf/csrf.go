// Package csrf implements double-submit cookie protection: a random token is
// set in a script-readable cookie and must be echoed back in a request header
// on every mutating call. Matching proves the caller can read our cookies,
// which a cross-site attacker cannot.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

const (
	// CookieName is intentionally not HttpOnly: the browser client reads it
	// to populate the header half of the pair.
	CookieName = "csrf-token"
	HeaderName = "X-Csrf-Token"

	cookieTTL = 24 * time.Hour
	tokenLen  = 32
)

var (
	ErrMissing  = errors.New("csrf: token missing")
	ErrMismatch = errors.New("csrf: token mismatch")
)

// Token returns a fresh 64-hex-character token.
func Token() (string, error) {
	buf := make([]byte, tokenLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// SetCookie issues the cookie half of the pair.
func SetCookie(w http.ResponseWriter, token string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cookieTTL.Seconds()),
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCookie expires the cookie.
func ClearCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Validate checks the double-submit pair on r. Safe methods pass untouched.
// Both halves must be present, well-formed, and equal; comparison is
// constant-time.
func Validate(r *http.Request) error {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return nil
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return ErrMissing
	}
	header := r.Header.Get(HeaderName)
	if header == "" {
		return ErrMissing
	}
	if !wellFormed(cookie.Value) || !wellFormed(header) {
		return ErrMismatch
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return ErrMismatch
	}
	return nil
}

func wellFormed(token string) bool {
	if len(token) != tokenLen*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
