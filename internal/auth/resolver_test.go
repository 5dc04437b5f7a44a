package auth

import (
	"context"
	"slices"
	"testing"
)

func TestAdminResolvesToFullCatalog(t *testing.T) {
	store := newTestStore(t)
	admin := newTestUser(t, store, "admin@example.com", RoleAdmin)
	// An admin deny must be ignored.
	admin.Denies = []string{PermUserImpersonate}

	perms, err := NewResolver(store).Effective(context.Background(), admin)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if len(perms) != len(Catalog()) {
		t.Fatalf("admin should hold the full catalog: got %d, want %d", len(perms), len(Catalog()))
	}
	if !slices.Contains(perms, PermUserImpersonate) {
		t.Fatal("admin deny must not remove catalog permissions")
	}
}

func TestDenyWinsOverRoleAndGrant(t *testing.T) {
	store := newTestStore(t)
	user := newTestUser(t, store, "instructor@example.com", RoleInstructor)
	user.Grants = []string{PermReportsExport, PermCourseRead}
	user.Denies = []string{PermCourseRead, PermReportsExport}

	perms, err := NewResolver(store).Effective(context.Background(), user)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if slices.Contains(perms, PermCourseRead) {
		t.Fatal("deny must override the role-derived permission")
	}
	if slices.Contains(perms, PermReportsExport) {
		t.Fatal("deny must override an explicit grant of the same key")
	}
	if !slices.Contains(perms, PermCourseCreate) {
		t.Fatal("unrelated role permissions must survive")
	}
}

func TestGrantAddsBeyondRole(t *testing.T) {
	store := newTestStore(t)
	user := newTestUser(t, store, "learner@example.com", RoleLearner)
	user.Grants = []string{PermReportsRead, "bogus:permission"}

	resolver := NewResolver(store)
	perms, err := resolver.Effective(context.Background(), user)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if !slices.Contains(perms, PermReportsRead) {
		t.Fatal("grant outside the role set must be honored")
	}
	if slices.Contains(perms, "bogus:permission") {
		t.Fatal("grants outside the catalog must be dropped")
	}

	ok, err := resolver.Can(context.Background(), user, PermReportsRead)
	if err != nil || !ok {
		t.Fatalf("Can(%s) = %v, %v", PermReportsRead, ok, err)
	}
	ok, err = resolver.Can(context.Background(), user, PermUserDelete)
	if err != nil || ok {
		t.Fatalf("Can(%s) = %v, %v; want false", PermUserDelete, ok, err)
	}
}

func TestMultipleRolesUnion(t *testing.T) {
	store := newTestStore(t)
	user := newTestUser(t, store, "both@example.com", RoleInstructor, RoleLearner)

	perms, err := NewResolver(store).Effective(context.Background(), user)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if !slices.Contains(perms, PermSubmissionCreate) {
		t.Fatal("learner permission missing from the union")
	}
	if !slices.Contains(perms, PermCourseCreate) {
		t.Fatal("instructor permission missing from the union")
	}
	if !slices.IsSorted(perms) {
		t.Fatal("effective set must be sorted")
	}
}

func TestPreviewMatchesEffective(t *testing.T) {
	store := newTestStore(t)
	user := newTestUser(t, store, "preview@example.com", RoleSuperInstructor)
	user.Grants = []string{PermSecurityAuditRead}
	user.Denies = []string{PermCourseDelete}

	resolver := NewResolver(store)
	effective, err := resolver.Effective(context.Background(), user)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	preview, err := resolver.Preview(context.Background(), user.Roles, user.Grants, user.Denies)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if !slices.Equal(effective, preview) {
		t.Fatalf("preview diverged from effective:\n%v\n%v", preview, effective)
	}
}

func TestUnknownRoleContributesNothing(t *testing.T) {
	store := newTestStore(t)
	user := newTestUser(t, store, "ghost@example.com", RoleKey("GHOST"))

	perms, err := NewResolver(store).Effective(context.Background(), user)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if len(perms) != 0 {
		t.Fatalf("unknown role produced permissions: %v", perms)
	}
}
