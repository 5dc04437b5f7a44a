package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"lmsportal.org/internal/audit"
	"lmsportal.org/internal/ids"
)

// MemoryStore is an in-memory Store for tests and single-instance dev runs.
type MemoryStore struct {
	mu sync.Mutex

	users          map[string]*User
	usersByEmail   map[string]string
	roles          map[RoleKey]*Role
	rolePerms      map[RoleKey][]string
	refreshTokens  map[string]*RefreshToken
	impersonations map[string]*ImpersonationSession
	auditEntries   []*audit.Entry

	now func() time.Time
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:          make(map[string]*User),
		usersByEmail:   make(map[string]string),
		roles:          make(map[RoleKey]*Role),
		rolePerms:      make(map[RoleKey][]string),
		refreshTokens:  make(map[string]*RefreshToken),
		impersonations: make(map[string]*ImpersonationSession),
		now:            time.Now,
	}
}

func (s *MemoryStore) Users() UserStore                   { return (*memoryUsers)(s) }
func (s *MemoryStore) Roles() RoleStore                   { return (*memoryRoles)(s) }
func (s *MemoryStore) RefreshTokens() RefreshTokenStore   { return (*memoryTokens)(s) }
func (s *MemoryStore) Impersonations() ImpersonationStore { return (*memoryImpersonations)(s) }
func (s *MemoryStore) Audit() audit.Sink                  { return (*memoryAudit)(s) }

// SeedRoles installs the built-in role/permission matrix.
func (s *MemoryStore) SeedRoles(ctx context.Context) error {
	for key, perms := range DefaultRolePermissions {
		if err := s.Roles().Ensure(ctx, Role{Key: key}, perms); err != nil {
			return err
		}
	}
	return s.Roles().Ensure(ctx, Role{Key: RoleAdmin}, nil)
}

// AuditEntries returns a snapshot of recorded audit entries, oldest first.
func (s *MemoryStore) AuditEntries() []*audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*audit.Entry, len(s.auditEntries))
	copy(out, s.auditEntries)
	return out
}

type memoryUsers MemoryStore

func (s *memoryUsers) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := normalizeEmail(u.Email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if _, exists := s.usersByEmail[email]; exists {
		return fmt.Errorf("%w: email already registered", ErrConflict)
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if _, exists := s.users[u.ID]; exists {
		return fmt.Errorf("%w: user id already exists", ErrConflict)
	}
	now := s.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	u.Email = email
	if u.Status == "" {
		u.Status = StatusActive
	}
	cp := cloneUser(u)
	s.users[u.ID] = cp
	s.usersByEmail[email] = u.ID
	return nil
}

func (s *memoryUsers) Find(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *memoryUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usersByEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *memoryUsers) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *memoryUsers) UpdateOverrides(_ context.Context, userID string, grants, denies []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Grants = append([]string(nil), grants...)
	u.Denies = append([]string(nil), denies...)
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *memoryUsers) BumpTokenVersion(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	u.TokenVersion++
	u.UpdatedAt = s.now().UTC()
	return u.TokenVersion, nil
}

type memoryRoles MemoryStore

func (s *memoryRoles) Ensure(_ context.Context, role Role, permissions []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.Key == "" {
		return fmt.Errorf("%w: role key is required", ErrInvalidInput)
	}
	if _, ok := s.roles[role.Key]; !ok {
		if role.CreatedAt.IsZero() {
			role.CreatedAt = s.now().UTC()
		}
		s.roles[role.Key] = &role
	}
	s.rolePerms[role.Key] = append([]string(nil), permissions...)
	return nil
}

func (s *memoryRoles) Permissions(_ context.Context, key RoleKey) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	perms, ok := s.rolePerms[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), perms...), nil
}

type memoryTokens MemoryStore

func (s *memoryTokens) Create(_ context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.ID == "" {
		return fmt.Errorf("%w: token id is required", ErrInvalidInput)
	}
	if _, exists := s.refreshTokens[tok.ID]; exists {
		return fmt.Errorf("%w: token id already exists", ErrConflict)
	}
	s.refreshTokens[tok.ID] = cloneRefreshToken(tok)
	return nil
}

func (s *memoryTokens) Consume(_ context.Context, id string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.refreshTokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	if tok.RotatedAt != nil {
		return cloneRefreshToken(tok), ErrTokenReuseDetected
	}
	now := s.now().UTC()
	tok.RotatedAt = &now
	return cloneRefreshToken(tok), nil
}

func (s *memoryTokens) RevokeByUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	for _, tok := range s.refreshTokens {
		if tok.UserID == userID && tok.RotatedAt == nil {
			t := now
			tok.RotatedAt = &t
		}
	}
	return nil
}

type memoryImpersonations MemoryStore

func (s *memoryImpersonations) Create(_ context.Context, sess *ImpersonationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	if _, exists := s.impersonations[sess.ID]; exists {
		return fmt.Errorf("%w: impersonation id already exists", ErrConflict)
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now().UTC()
	}
	cp := *sess
	s.impersonations[sess.ID] = &cp
	return nil
}

func (s *memoryImpersonations) Find(_ context.Context, id string) (*ImpersonationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.impersonations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memoryImpersonations) End(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.impersonations[id]
	if !ok {
		return ErrNotFound
	}
	sess.Active = false
	return nil
}

type memoryAudit MemoryStore

func (s *memoryAudit) Append(_ context.Context, e *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	if cp.ID == "" {
		cp.ID = ids.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now().UTC()
	}
	s.auditEntries = append(s.auditEntries, &cp)
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneUser(u *User) *User {
	cp := *u
	cp.Roles = append([]RoleKey(nil), u.Roles...)
	cp.Grants = append([]string(nil), u.Grants...)
	cp.Denies = append([]string(nil), u.Denies...)
	return &cp
}

func cloneRefreshToken(t *RefreshToken) *RefreshToken {
	cp := *t
	if t.RotatedAt != nil {
		rt := *t.RotatedAt
		cp.RotatedAt = &rt
	}
	return &cp
}
