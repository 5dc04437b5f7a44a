package auth

import (
	"context"

	"lmsportal.org/internal/audit"
)

// Store describes persistence required by the auth core. Implementations:
// MemoryStore (tests, single-instance dev) and PGStore (PostgreSQL).
type Store interface {
	Users() UserStore
	Roles() RoleStore
	RefreshTokens() RefreshTokenStore
	Impersonations() ImpersonationStore
	Audit() audit.Sink
}

// UserStore manages principals.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateOverrides(ctx context.Context, userID string, grants, denies []string) error

	// BumpTokenVersion atomically increments the revocation counter and
	// returns the new value. Must be read-after-write consistent: the next
	// verification has to observe the increment.
	BumpTokenVersion(ctx context.Context, userID string) (int, error)
}

// RoleStore manages the role catalog and role-permission rows.
type RoleStore interface {
	Ensure(ctx context.Context, role Role, permissions []string) error
	Permissions(ctx context.Context, key RoleKey) ([]string, error)
}

// RefreshTokenStore manages the stateful half of refresh credentials.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error

	// Consume atomically marks the token rotated. Exactly one of two
	// concurrent calls for the same id succeeds; the loser, like any later
	// presentation, gets the stored record together with
	// ErrTokenReuseDetected. A missing id yields ErrNotFound.
	Consume(ctx context.Context, id string) (*RefreshToken, error)

	// RevokeByUser marks every outstanding token for the user rotated,
	// used as the defensive response to a reuse signal.
	RevokeByUser(ctx context.Context, userID string) error
}

// ImpersonationStore manages impersonation session records.
type ImpersonationStore interface {
	Create(ctx context.Context, s *ImpersonationSession) error
	Find(ctx context.Context, id string) (*ImpersonationSession, error)
	End(ctx context.Context, id string) error
}
