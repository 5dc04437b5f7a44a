package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"lmsportal.org/internal/auth"
	"lmsportal.org/internal/obs"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the stable error envelope. The "error" field is a machine
// code clients can branch on; "message" is for humans.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error":   code,
		"message": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

// handleAuthError maps core sentinels to responses. Anything unmapped is an
// internal error: details go to the log, not the client.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrStaleToken),
		errors.Is(err, auth.ErrTokenReuseDetected):
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
	case errors.Is(err, auth.ErrTargetIsAdmin):
		writeError(w, r, http.StatusForbidden, "target_is_admin", "administrators cannot be impersonated")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", "insufficient permissions")
	case errors.Is(err, auth.ErrTargetNotFound):
		writeError(w, r, http.StatusNotFound, "target_not_found", "target user not found")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		obs.Error("request_failed", map[string]any{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}
