package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lmsportal.org/internal/audit"
	"lmsportal.org/internal/obs"
)

// Service is the authentication front door: login, session verification,
// refresh rotation, logout, and the account-level operations that touch
// credentials.
type Service struct {
	store    Store
	tokens   *TokenService
	resolver *Resolver
	recorder *audit.Recorder
	now      func() time.Time
}

// ServiceOption configures Service.
type ServiceOption func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the auth core together.
func NewService(store Store, tokens *TokenService, recorder *audit.Recorder, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		tokens:   tokens,
		resolver: NewResolver(store),
		recorder: recorder,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tokens exposes the underlying token service.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Resolver exposes the permission resolver.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Store exposes the backing store.
func (s *Service) Store() Store { return s.store }

// Login authenticates an email/password pair and issues a token pair. Every
// failure mode collapses to ErrInvalidCredentials so responses cannot be used
// to probe which accounts exist; the audit trail keeps the real reason.
func (s *Service) Login(ctx context.Context, email, password string, meta ClientMeta) (*User, *TokenPair, error) {
	email = normalizeEmail(email)
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.auditLoginFail(email, "", meta, "unknown_email")
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		s.auditLoginFail(email, user.ID, meta, "bad_password")
		return nil, nil, ErrInvalidCredentials
	}
	if user.Status != StatusActive {
		s.auditLoginFail(email, user.ID, meta, "account_"+strings.ToLower(user.Status))
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issuePair(ctx, user, sessionOverrides{}, meta)
	if err != nil {
		return nil, nil, err
	}

	obs.LoginAttempts.WithLabelValues("success").Inc()
	s.recorder.Record(audit.Entry{
		Event:     audit.LoginSuccess,
		TenantID:  user.TenantID,
		UserID:    user.ID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	return user, pair, nil
}

// Authenticate verifies an access token and returns the request principal.
// Signature problems yield ErrInvalidToken; a token whose version snapshot
// lags the stored counter yields ErrStaleToken.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, err
	}
	user, err := s.store.Users().Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if claims.TokenVersion != user.TokenVersion {
		return nil, ErrStaleToken
	}
	if user.Status != StatusActive {
		return nil, ErrInvalidToken
	}

	perms, err := s.resolver.Effective(ctx, user)
	if err != nil {
		return nil, err
	}
	return &Principal{
		UserID:         user.ID,
		Email:          user.Email,
		TenantID:       claims.TenantID,
		NodeID:         claims.NodeID,
		Roles:          user.Roles,
		ActiveRole:     claims.ActiveRole,
		TokenVersion:   claims.TokenVersion,
		IsImpersonated: claims.IsImpersonated,
		AdminID:        claims.AdminID,
		Permissions:    perms,
	}, nil
}

// Refresh rotates a refresh token and mints a fresh pair. A detected replay
// revokes every outstanding token for the user and surfaces
// ErrTokenReuseDetected; the caller must treat it as a hard logout.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (*User, *TokenPair, error) {
	newRefresh, rec, err := s.tokens.Rotate(ctx, refreshToken, meta)
	if err != nil {
		if errors.Is(err, ErrTokenReuseDetected) {
			obs.TokenRotations.WithLabelValues("reuse_detected").Inc()
			if rec != nil {
				if revokeErr := s.store.RefreshTokens().RevokeByUser(ctx, rec.UserID); revokeErr != nil {
					obs.Error("refresh_revoke_all", map[string]any{"error": revokeErr.Error()})
				}
				s.recorder.Record(audit.Entry{
					Event:     audit.TokenReuse,
					UserID:    rec.UserID,
					IP:        meta.IP,
					UserAgent: meta.UserAgent,
					Metadata:  map[string]any{"token_id": rec.ID},
				})
			}
			return nil, nil, ErrTokenReuseDetected
		}
		if errors.Is(err, ErrInvalidToken) {
			obs.TokenRotations.WithLabelValues("invalid").Inc()
		}
		return nil, nil, err
	}

	user, err := s.store.Users().Find(ctx, rec.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user.Status != StatusActive {
		obs.TokenRotations.WithLabelValues("invalid").Inc()
		s.recorder.Record(audit.Entry{
			Event:     audit.LoginFail,
			TenantID:  user.TenantID,
			UserID:    user.ID,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
			Metadata:  map[string]any{"reason": "refresh_" + strings.ToLower(user.Status)},
		})
		return nil, nil, ErrInvalidCredentials
	}

	access, accessExp, err := s.tokens.IssueAccess(user.ID, s.sessionClaims(user, sessionOverrides{}))
	if err != nil {
		return nil, nil, err
	}

	obs.TokenRotations.WithLabelValues("rotated").Inc()
	s.recorder.Record(audit.Entry{
		Event:     audit.TokenRefresh,
		TenantID:  user.TenantID,
		UserID:    user.ID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	return user, &TokenPair{
		AccessToken:      access,
		RefreshToken:     newRefresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: s.now().UTC().Add(s.tokens.RefreshTTL()),
	}, nil
}

// Logout retires the presented refresh token. The access token stays valid
// until its short expiry; only a global logout moves the version counter.
// A nil principal is accepted: logging out an already-dead session is not
// an error, the audit record just goes unattributed.
func (s *Service) Logout(ctx context.Context, p *Principal, refreshToken string, meta ClientMeta) error {
	if id, _, err := splitRefreshToken(refreshToken); err == nil {
		if _, err := s.store.RefreshTokens().Consume(ctx, id); err != nil &&
			!errors.Is(err, ErrNotFound) && !errors.Is(err, ErrTokenReuseDetected) {
			return err
		}
	}
	entry := audit.Entry{
		Event:     audit.Logout,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	}
	if p != nil {
		entry.TenantID = p.TenantID
		entry.UserID = p.UserID
	}
	s.recorder.Record(entry)
	return nil
}

// LogoutAll bumps the user's token version, invalidating every outstanding
// access token at its next verification, and revokes all refresh tokens.
func (s *Service) LogoutAll(ctx context.Context, p *Principal, meta ClientMeta) error {
	version, err := s.store.Users().BumpTokenVersion(ctx, p.UserID)
	if err != nil {
		return err
	}
	if err := s.store.RefreshTokens().RevokeByUser(ctx, p.UserID); err != nil {
		return err
	}
	s.recorder.Record(audit.Entry{
		Event:     audit.LogoutAll,
		TenantID:  p.TenantID,
		UserID:    p.UserID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Metadata:  map[string]any{"token_version": version},
	})
	return nil
}

// SwitchNode reissues the session scoped to a different organization node
// and, optionally, a different one of the user's assigned roles. It does not
// revoke the previous tokens.
func (s *Service) SwitchNode(ctx context.Context, p *Principal, nodeID string, role RoleKey, meta ClientMeta) (*TokenPair, error) {
	nodeID = strings.TrimSpace(nodeID)
	if nodeID == "" {
		return nil, fmt.Errorf("%w: node id is required", ErrInvalidInput)
	}
	user, err := s.store.Users().Find(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = user.ActiveRole
	}
	if !user.HasRole(role) {
		return nil, ErrForbidden
	}

	pair, err := s.issuePair(ctx, user, sessionOverrides{
		nodeID:     nodeID,
		activeRole: role,
	}, meta)
	if err != nil {
		return nil, err
	}
	s.recorder.Record(audit.Entry{
		Event:     audit.NodeSwitch,
		TenantID:  user.TenantID,
		UserID:    user.ID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Metadata:  map[string]any{"node_id": nodeID, "role": string(role)},
	})
	return pair, nil
}

// ChangePassword verifies the current password, applies the policy to the
// new one, and performs a global logout so stolen sessions die with the old
// credential.
func (s *Service) ChangePassword(ctx context.Context, p *Principal, current, next string, meta ClientMeta) error {
	user, err := s.store.Users().Find(ctx, p.UserID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	if err := ValidatePasswordPolicy(next); err != nil {
		return err
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.store.Users().UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	if _, err := s.store.Users().BumpTokenVersion(ctx, user.ID); err != nil {
		return err
	}
	if err := s.store.RefreshTokens().RevokeByUser(ctx, user.ID); err != nil {
		return err
	}
	s.recorder.Record(audit.Entry{
		Event:     audit.PasswordChange,
		TenantID:  user.TenantID,
		UserID:    user.ID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	return nil
}

// sessionOverrides adjusts the claims minted for a user without mutating the
// stored record: node switching and impersonation both go through it.
type sessionOverrides struct {
	nodeID         string
	activeRole     RoleKey
	isImpersonated bool
	adminID        string
}

func (s *Service) sessionClaims(u *User, o sessionOverrides) SessionClaims {
	claims := SessionClaims{
		Email:        u.Email,
		Roles:        u.Roles,
		ActiveRole:   u.ActiveRole,
		TenantID:     u.TenantID,
		NodeID:       u.NodeID,
		TokenVersion: u.TokenVersion,
	}
	if o.nodeID != "" {
		claims.NodeID = o.nodeID
	}
	if o.activeRole != "" {
		claims.ActiveRole = o.activeRole
	}
	if o.isImpersonated {
		claims.IsImpersonated = true
		claims.AdminID = o.adminID
	}
	return claims
}

func (s *Service) issuePair(ctx context.Context, u *User, o sessionOverrides, meta ClientMeta) (*TokenPair, error) {
	access, accessExp, err := s.tokens.IssueAccess(u.ID, s.sessionClaims(u, o))
	if err != nil {
		return nil, err
	}
	refresh, rec, err := s.tokens.IssueRefresh(ctx, u.ID, u.TokenVersion, meta)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *Service) auditLoginFail(email, userID string, meta ClientMeta, reason string) {
	obs.LoginAttempts.WithLabelValues("fail").Inc()
	s.recorder.Record(audit.Entry{
		Event:     audit.LoginFail,
		UserID:    userID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Metadata:  map[string]any{"email": email, "reason": reason},
	})
}
