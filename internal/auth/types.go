package auth

import "time"

// RoleKey names one of the built-in roles.
type RoleKey string

const (
	RoleAdmin           RoleKey = "ADMIN"
	RoleSuperInstructor RoleKey = "SUPER_INSTRUCTOR"
	RoleInstructor      RoleKey = "INSTRUCTOR"
	RoleLearner         RoleKey = "LEARNER"
)

// Account status values.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
	StatusLocked   = "LOCKED"
)

// User is a principal: a human account scoped to a tenant and, for non-admin
// roles, to an organization node beneath it.
type User struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	NodeID       string    `json:"node_id,omitempty"`
	Email        string    `json:"email"`
	Username     string    `json:"username,omitempty"`
	PasswordHash string    `json:"-"`
	Roles        []RoleKey `json:"roles"`
	ActiveRole   RoleKey   `json:"active_role"`

	// TokenVersion is the sole global-revocation mechanism: access tokens
	// embed a snapshot and are rejected once the counter moves.
	TokenVersion int `json:"-"`

	// Per-user overrides layered on top of role-derived permissions.
	// Denies win over both roles and grants.
	Grants []string `json:"grants,omitempty"`
	Denies []string `json:"denies,omitempty"`

	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasRole reports whether the user holds the given role assignment.
func (u *User) HasRole(role RoleKey) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Role groups permissions under a stable key.
type Role struct {
	Key         RoleKey   `json:"key"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RefreshToken is the persisted half of an opaque refresh credential. Only
// the SHA-256 of the secret is stored; RotatedAt set means the token was
// consumed and any further presentation is a replay.
type RefreshToken struct {
	ID           string
	UserID       string
	SecretHash   string
	TokenVersion int
	IP           string
	UserAgent    string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	RotatedAt    *time.Time
}

// ImpersonationSession records an administrative act of operating as another
// user. Ending the session does not revoke issued tokens; they expire on
// their own short lifetime.
type ImpersonationSession struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	AdminID   string    `json:"admin_id"`
	TargetID  string    `json:"target_id"`
	Reason    string    `json:"reason"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// ClientMeta carries request attribution for audit records.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// TokenPair bundles freshly issued credentials.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
