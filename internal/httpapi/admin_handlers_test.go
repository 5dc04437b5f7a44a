package httpapi

import (
	"net/http"
	"testing"

	"lmsportal.org/internal/audit"
	"lmsportal.org/internal/auth"
)

func TestImpersonateRequiresAdmin(t *testing.T) {
	c := newTestAPI(t, nil)
	c.createUser("learner@example.com")
	target := c.createUser("target@example.com")

	c.mustLogin("learner@example.com")
	resp := c.do(http.MethodPost, "/admin/users/"+target.ID+"/impersonate", nil, c.csrfHeaders())
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin impersonation: want 403, got %d", resp.StatusCode)
	}

	// The attempt is audited.
	entries := c.store.AuditEntries()
	last := entries[len(entries)-1]
	if last.Event != audit.UnauthorizedAccess {
		t.Fatalf("want UNAUTHORIZED_ACCESS audit, got %s", last.Event)
	}
}

func TestImpersonationLifecycle(t *testing.T) {
	c := newTestAPI(t, nil)
	c.createUser("admin@example.com", auth.RoleAdmin)
	target := c.createUser("target@example.com")

	c.mustLogin("admin@example.com")
	resp := c.do(http.MethodPost, "/admin/users/"+target.ID+"/impersonate",
		map[string]string{"reason": "support case"}, c.csrfHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("impersonate: status %d", resp.StatusCode)
	}
	var started struct {
		Session *auth.ImpersonationSession `json:"session"`
	}
	decodeBody(t, resp, &started)
	if started.Session == nil || started.Session.TargetID != target.ID {
		t.Fatalf("unexpected session: %+v", started.Session)
	}

	// The browser session is now the target's, with both identities.
	resp = c.get("/auth/me")
	var p auth.Principal
	decodeBody(t, resp, &p)
	if p.UserID != target.ID || !p.IsImpersonated || p.AdminID == "" {
		t.Fatalf("impersonated principal malformed: %+v", p)
	}

	// And it can end its own impersonation.
	resp = c.do(http.MethodPost, "/admin/impersonation/"+started.Session.ID+"/end", nil, c.csrfHeaders())
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end impersonation: status %d", resp.StatusCode)
	}
}

func TestImpersonateAdminTargetForbidden(t *testing.T) {
	c := newTestAPI(t, nil)
	c.createUser("admin@example.com", auth.RoleAdmin)
	other := c.createUser("other-admin@example.com", auth.RoleAdmin)

	c.mustLogin("admin@example.com")
	resp := c.do(http.MethodPost, "/admin/users/"+other.ID+"/impersonate", nil, c.csrfHeaders())
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("admin target: want 403, got %d", resp.StatusCode)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Error != "target_is_admin" {
		t.Fatalf("unexpected error code: %s", body.Error)
	}
}

func TestImpersonateUnknownTarget404(t *testing.T) {
	c := newTestAPI(t, nil)
	c.createUser("admin@example.com", auth.RoleAdmin)

	c.mustLogin("admin@example.com")
	resp := c.do(http.MethodPost, "/admin/users/no-such-user/impersonate", nil, c.csrfHeaders())
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown target: want 404, got %d", resp.StatusCode)
	}
}

func TestPreviewPermissions(t *testing.T) {
	c := newTestAPI(t, nil)
	c.createUser("admin@example.com", auth.RoleAdmin)
	c.mustLogin("admin@example.com")

	resp := c.do(http.MethodPost, "/admin/users/preview-permissions", map[string]any{
		"roles":  []string{"LEARNER"},
		"grants": []string{auth.PermReportsRead},
		"denies": []string{auth.PermCourseRead},
	}, c.csrfHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preview: status %d", resp.StatusCode)
	}
	var body struct {
		Permissions []string `json:"permissions"`
	}
	decodeBody(t, resp, &body)

	has := func(key string) bool {
		for _, p := range body.Permissions {
			if p == key {
				return true
			}
		}
		return false
	}
	if !has(auth.PermReportsRead) || has(auth.PermCourseRead) || !has(auth.PermUnitRead) {
		t.Fatalf("unexpected preview set: %v", body.Permissions)
	}

	// Sensitive admin reads are attributed in the audit trail.
	entries := c.store.AuditEntries()
	if last := entries[len(entries)-1]; last.Event != audit.PermissionPreview {
		t.Fatalf("want PERMISSION_PREVIEW audit, got %s", last.Event)
	}
}

func TestPreviewPermissionsAdminOnly(t *testing.T) {
	c := newTestAPI(t, nil)
	c.createUser("learner@example.com")
	c.mustLogin("learner@example.com")

	resp := c.do(http.MethodPost, "/admin/users/preview-permissions", map[string]any{
		"roles": []string{"ADMIN"},
	}, c.csrfHeaders())
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("want 403, got %d", resp.StatusCode)
	}
}
