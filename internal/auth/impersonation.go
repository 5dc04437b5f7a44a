package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"lmsportal.org/internal/audit"
	"lmsportal.org/internal/ids"
)

// ImpersonationManager lets administrators operate as another user. Minted
// sessions carry both identities: the target in the subject and the acting
// admin in a dedicated claim, so audit records stay attributable.
type ImpersonationManager struct {
	store    Store
	service  *Service
	recorder *audit.Recorder
	now      func() time.Time
}

// NewImpersonationManager wires the manager over the shared service.
func NewImpersonationManager(store Store, service *Service, recorder *audit.Recorder) *ImpersonationManager {
	return &ImpersonationManager{
		store:    store,
		service:  service,
		recorder: recorder,
		now:      time.Now,
	}
}

// Start opens an impersonation session for admin against targetID and mints
// a token pair for the target. Admin accounts cannot be impersonated, not
// even by other admins. Rejections are audited before the error is returned,
// with the denial reason in the record.
func (m *ImpersonationManager) Start(ctx context.Context, admin *Principal, targetID, reason string, meta ClientMeta) (*ImpersonationSession, *TokenPair, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return nil, nil, ErrTargetNotFound
	}

	target, err := m.store.Users().Find(ctx, targetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.auditDenied(admin, targetID, meta, "target_not_found")
			return nil, nil, ErrTargetNotFound
		}
		return nil, nil, err
	}
	if target.HasRole(RoleAdmin) {
		m.auditDenied(admin, targetID, meta, "target_is_admin")
		return nil, nil, ErrTargetIsAdmin
	}

	sess := &ImpersonationSession{
		ID:        ids.New(),
		TenantID:  target.TenantID,
		AdminID:   admin.UserID,
		TargetID:  target.ID,
		Reason:    reason,
		Active:    true,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.Impersonations().Create(ctx, sess); err != nil {
		return nil, nil, err
	}

	pair, err := m.service.issuePair(ctx, target, sessionOverrides{
		isImpersonated: true,
		adminID:        admin.UserID,
	}, meta)
	if err != nil {
		return nil, nil, err
	}

	m.recorder.Record(audit.Entry{
		Event:        audit.ImpersonationStart,
		TenantID:     target.TenantID,
		UserID:       admin.UserID,
		TargetUserID: target.ID,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
		Metadata:     map[string]any{"session_id": sess.ID, "reason": reason},
	})
	return sess, pair, nil
}

// End closes an impersonation session. Tokens already minted for it are not
// revoked; they expire on the short access lifetime. The caller may be the
// admin who started the session, any admin, or the impersonated session
// itself.
func (m *ImpersonationManager) End(ctx context.Context, caller *Principal, sessionID string, meta ClientMeta) error {
	sess, err := m.store.Impersonations().Find(ctx, sessionID)
	if err != nil {
		return err
	}
	allowed := sess.AdminID == caller.UserID ||
		caller.HasRole(RoleAdmin) ||
		(caller.IsImpersonated && caller.AdminID == sess.AdminID && caller.UserID == sess.TargetID)
	if !allowed {
		return ErrForbidden
	}
	if err := m.store.Impersonations().End(ctx, sessionID); err != nil {
		return err
	}
	m.recorder.Record(audit.Entry{
		Event:        audit.ImpersonationEnd,
		TenantID:     sess.TenantID,
		UserID:       sess.AdminID,
		TargetUserID: sess.TargetID,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
		Metadata:     map[string]any{"session_id": sess.ID},
	})
	return nil
}

func (m *ImpersonationManager) auditDenied(admin *Principal, targetID string, meta ClientMeta, reason string) {
	m.recorder.Record(audit.Entry{
		Event:        audit.ImpersonationStart,
		TenantID:     admin.TenantID,
		UserID:       admin.UserID,
		TargetUserID: targetID,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
		Metadata:     map[string]any{"denied": true, "reason": reason},
	})
}
