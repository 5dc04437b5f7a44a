package auth

import (
	"context"
	"errors"
	"testing"

	"lmsportal.org/internal/audit"
)

func newTestImpersonation(t *testing.T, store *MemoryStore) (*Service, *ImpersonationManager) {
	t.Helper()
	svc := newTestService(t, store)
	return svc, NewImpersonationManager(store, svc, audit.NewSyncRecorder(store.Audit()))
}

func loginPrincipal(t *testing.T, svc *Service, email string) *Principal {
	t.Helper()
	ctx := context.Background()
	_, pair, err := svc.Login(ctx, email, "Sup3rSecret", ClientMeta{})
	if err != nil {
		t.Fatalf("Login %s: %v", email, err)
	}
	p, err := svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate %s: %v", email, err)
	}
	return p
}

func TestImpersonationCarriesBothIdentities(t *testing.T) {
	store := newTestStore(t)
	newTestUser(t, store, "admin@example.com", RoleAdmin)
	target := newTestUser(t, store, "learner@example.com")
	svc, mgr := newTestImpersonation(t, store)
	ctx := context.Background()

	admin := loginPrincipal(t, svc, "admin@example.com")
	sess, pair, err := mgr.Start(ctx, admin, target.ID, "support case 118", ClientMeta{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !sess.Active || sess.AdminID != admin.UserID || sess.TargetID != target.ID {
		t.Fatalf("unexpected session: %+v", sess)
	}

	p, err := svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate impersonated: %v", err)
	}
	if p.UserID != target.ID {
		t.Fatalf("impersonated subject should be the target, got %s", p.UserID)
	}
	if !p.IsImpersonated || p.AdminID != admin.UserID {
		t.Fatalf("impersonation claims missing: %+v", p)
	}
	// The session has the target's powers, not the admin's.
	if p.Can(PermUserImpersonate) {
		t.Fatal("impersonated session must not inherit admin permissions")
	}
}

func TestImpersonationRejectsAdminTarget(t *testing.T) {
	store := newTestStore(t)
	newTestUser(t, store, "admin@example.com", RoleAdmin)
	other := newTestUser(t, store, "other-admin@example.com", RoleAdmin)
	svc, mgr := newTestImpersonation(t, store)

	admin := loginPrincipal(t, svc, "admin@example.com")
	_, _, err := mgr.Start(context.Background(), admin, other.ID, "", ClientMeta{})
	if !errors.Is(err, ErrTargetIsAdmin) {
		t.Fatalf("want ErrTargetIsAdmin, got %v", err)
	}

	// The rejection itself leaves an audit trace.
	e := lastAuditEvent(t, store)
	if e.Event != audit.ImpersonationStart {
		t.Fatalf("want IMPERSONATION_START audit, got %s", e.Event)
	}
	if denied, _ := e.Metadata["denied"].(bool); !denied {
		t.Fatalf("denial not marked in audit metadata: %v", e.Metadata)
	}
}

func TestImpersonationRejectsUnknownTarget(t *testing.T) {
	store := newTestStore(t)
	newTestUser(t, store, "admin@example.com", RoleAdmin)
	svc, mgr := newTestImpersonation(t, store)

	admin := loginPrincipal(t, svc, "admin@example.com")
	if _, _, err := mgr.Start(context.Background(), admin, "no-such-user", "", ClientMeta{}); !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("want ErrTargetNotFound, got %v", err)
	}
}

func TestImpersonationEndAuthorization(t *testing.T) {
	store := newTestStore(t)
	newTestUser(t, store, "admin@example.com", RoleAdmin)
	target := newTestUser(t, store, "learner@example.com")
	newTestUser(t, store, "bystander@example.com")
	svc, mgr := newTestImpersonation(t, store)
	ctx := context.Background()

	admin := loginPrincipal(t, svc, "admin@example.com")
	sess, pair, err := mgr.Start(ctx, admin, target.ID, "", ClientMeta{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// An unrelated user cannot end it.
	bystander := loginPrincipal(t, svc, "bystander@example.com")
	if err := mgr.End(ctx, bystander, sess.ID, ClientMeta{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("want ErrForbidden for bystander, got %v", err)
	}

	// The impersonated session itself can.
	impersonated, err := svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := mgr.End(ctx, impersonated, sess.ID, ClientMeta{}); err != nil {
		t.Fatalf("End from impersonated session: %v", err)
	}

	got, err := store.Impersonations().Find(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Active {
		t.Fatal("session should be inactive after End")
	}
}
