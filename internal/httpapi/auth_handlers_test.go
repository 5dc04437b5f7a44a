package httpapi

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"lmsportal.org/internal/auth"
)

func TestLoginSetsSessionCookies(t *testing.T) {
	c := newTestAPI(t, nil)
	c.createUser("learner@example.com")

	resp := c.login("learner@example.com")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d", resp.StatusCode)
	}

	var names []string
	for _, ck := range resp.Cookies() {
		names = append(names, ck.Name)
		switch ck.Name {
		case "session":
			if !ck.HttpOnly {
				t.Fatal("session cookie must be HttpOnly")
			}
		case "refreshToken":
			if !ck.HttpOnly {
				t.Fatal("refresh cookie must be HttpOnly")
			}
			if ck.Path != "/auth" {
				t.Fatalf("refresh cookie path = %q", ck.Path)
			}
		}
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{"session", "refreshToken", "csrf-token"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %s cookie, got %v", want, names)
		}
	}

	var body struct {
		User *auth.User `json:"user"`
	}
	decodeBody(t, resp, &body)
	if body.User == nil || body.User.Email != "learner@example.com" {
		t.Fatalf("unexpected login body: %+v", body.User)
	}
}

func TestLoginWrongPasswordIsGeneric401(t *testing.T) {
	c := newTestAPI(t, nil)
	c.createUser("learner@example.com")

	resp := c.do(http.MethodPost, "/auth/login", map[string]string{
		"email":    "learner@example.com",
		"password": "wrong",
	}, c.csrfHeaders())
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", resp.StatusCode)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Error != "invalid_credentials" {
		t.Fatalf("unexpected error code: %s", body.Error)
	}
}

func TestLoginWithoutCSRFRejected(t *testing.T) {
	c := newTestAPI(t, nil)
	c.createUser("learner@example.com")

	resp := c.do(http.MethodPost, "/auth/login", map[string]string{
		"email":    "learner@example.com",
		"password": testPassword,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("want 403 without csrf pair, got %d", resp.StatusCode)
	}
}

func TestMeRequiresSession(t *testing.T) {
	c := newTestAPI(t, nil)
	c.createUser("learner@example.com")

	resp := c.get("/auth/me")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous /auth/me: want 401, got %d", resp.StatusCode)
	}

	c.mustLogin("learner@example.com")
	resp = c.get("/auth/me")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/auth/me after login: status %d", resp.StatusCode)
	}
	var p auth.Principal
	decodeBody(t, resp, &p)
	if p.Email != "learner@example.com" || p.TenantID != "tenant-1" {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestPermissionsEndpointReflectsOverrides(t *testing.T) {
	c := newTestAPI(t, nil)
	u := c.createUser("learner@example.com")
	u.Grants = []string{auth.PermReportsRead}
	u.Denies = []string{auth.PermCourseRead}
	if err := c.store.Users().UpdateOverrides(context.Background(), u.ID, u.Grants, u.Denies); err != nil {
		t.Fatalf("UpdateOverrides: %v", err)
	}

	c.mustLogin("learner@example.com")
	resp := c.get("/auth/permissions")
	var body struct {
		Permissions []string `json:"permissions"`
	}
	decodeBody(t, resp, &body)

	joined := strings.Join(body.Permissions, ",")
	if !strings.Contains(joined, auth.PermReportsRead) {
		t.Fatal("grant missing from effective set")
	}
	if strings.Contains(joined, auth.PermCourseRead) {
		t.Fatal("denied permission leaked into effective set")
	}
}

func TestRefreshRotatesCookie(t *testing.T) {
	c := newTestAPI(t, nil)
	c.createUser("learner@example.com")
	c.mustLogin("learner@example.com")

	resp := c.do(http.MethodPost, "/auth/refresh", nil, c.csrfHeaders())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: status %d", resp.StatusCode)
	}
	var sawRefresh bool
	for _, ck := range resp.Cookies() {
		if ck.Name == "refreshToken" && ck.Value != "" {
			sawRefresh = true
		}
	}
	if !sawRefresh {
		t.Fatal("refresh must set a new refresh cookie")
	}
}

func TestLogoutAllKillsSession(t *testing.T) {
	c := newTestAPI(t, nil)
	c.createUser("learner@example.com")
	c.mustLogin("learner@example.com")

	resp := c.do(http.MethodPost, "/auth/logout-all", nil, c.csrfHeaders())
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout-all: status %d", resp.StatusCode)
	}

	// The old access token (cleared from the jar, but also stale) no longer
	// authenticates.
	resp = c.get("/auth/me")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("session should be dead after logout-all, got %d", resp.StatusCode)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	c := newTestAPI(t, nil)
	c.createUser("learner@example.com")
	c.mustLogin("learner@example.com")

	resp := c.do(http.MethodPost, "/auth/logout", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: status %d", resp.StatusCode)
	}

	resp = c.get("/auth/me")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("cookies should be gone after logout, got %d", resp.StatusCode)
	}
}

func TestLogoutSucceedsWithoutSession(t *testing.T) {
	c := newTestAPI(t, nil)

	// No login, no cookies, no CSRF header. Logout still returns 200 and
	// clears whatever might be there.
	resp := c.do(http.MethodPost, "/auth/logout", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout without session: want 200, got %d", resp.StatusCode)
	}
	var cleared bool
	for _, ck := range resp.Cookies() {
		if ck.Name == "session" && ck.Value == "" && ck.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("logout must clear the session cookie")
	}
}

func TestLoginRateLimited(t *testing.T) {
	c := newTestAPI(t, func(cfg *Config) {
		cfg.SkipCSRF = true
		cfg.SkipRateLimit = false
	})
	c.createUser("learner@example.com")

	var last *http.Response
	for i := 0; i < 6; i++ {
		last = c.do(http.MethodPost, "/auth/login", map[string]string{
			"email":    "learner@example.com",
			"password": "wrong",
		}, nil)
		if i < 5 {
			if last.StatusCode != http.StatusUnauthorized {
				t.Fatalf("attempt %d: want 401, got %d", i+1, last.StatusCode)
			}
			last.Body.Close()
		}
	}
	defer last.Body.Close()
	if last.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("sixth attempt: want 429, got %d", last.StatusCode)
	}
	if last.Header.Get("Retry-After") == "" {
		t.Fatal("429 must carry Retry-After")
	}
}

func TestRefreshAndRedirect(t *testing.T) {
	c := newTestAPI(t, nil)
	c.createUser("learner@example.com")

	// Without a refresh cookie the browser lands on the login page.
	resp := c.get("/auth/refresh-and-redirect?redirect=/dashboard")
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("want 303, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/login?reason=expired" {
		t.Fatalf("unexpected redirect: %s", loc)
	}

	c.mustLogin("learner@example.com")
	resp = c.get("/auth/refresh-and-redirect?redirect=/dashboard")
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("want 303, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/dashboard" {
		t.Fatalf("unexpected redirect: %s", loc)
	}

	// Off-origin targets are discarded.
	resp = c.get("/auth/refresh-and-redirect?redirect=https://evil.example.com/")
	resp.Body.Close()
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Fatalf("external redirect not sanitized: %s", loc)
	}
}

func TestChangePasswordFlow(t *testing.T) {
	c := newTestAPI(t, nil)
	c.createUser("learner@example.com")
	c.mustLogin("learner@example.com")

	resp := c.do(http.MethodPost, "/auth/change-password", map[string]string{
		"current_password": testPassword,
		"new_password":     "weak",
	}, c.csrfHeaders())
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("weak password: want 400, got %d", resp.StatusCode)
	}

	resp = c.do(http.MethodPost, "/auth/change-password", map[string]string{
		"current_password": testPassword,
		"new_password":     "NewSecret1",
	}, c.csrfHeaders())
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("change password: status %d", resp.StatusCode)
	}

	// The version bump invalidated the session.
	resp = c.get("/auth/me")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("old session should be dead, got %d", resp.StatusCode)
	}
}

func TestSwitchNodeReissuesSession(t *testing.T) {
	c := newTestAPI(t, nil)
	c.createUser("instructor@example.com", auth.RoleInstructor)
	c.mustLogin("instructor@example.com")

	resp := c.do(http.MethodPost, "/auth/switch-node", map[string]string{
		"node_id": "node-7",
	}, c.csrfHeaders())
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("switch-node: status %d", resp.StatusCode)
	}

	resp = c.get("/auth/me")
	var p auth.Principal
	decodeBody(t, resp, &p)
	if p.NodeID != "node-7" {
		t.Fatalf("node switch not reflected: %+v", p)
	}
}
