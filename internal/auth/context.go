package auth

import "context"

type principalKey struct{}

// Principal is the authenticated identity attached to a request after the
// guard accepts it.
type Principal struct {
	UserID         string
	Email          string
	TenantID       string
	NodeID         string
	Roles          []RoleKey
	ActiveRole     RoleKey
	TokenVersion   int
	IsImpersonated bool
	AdminID        string
	Permissions    []string
}

// HasRole reports whether the principal holds the given role.
func (p *Principal) HasRole(role RoleKey) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Can reports whether the principal's resolved permission set contains key.
func (p *Principal) Can(key string) bool {
	for _, perm := range p.Permissions {
		if perm == key {
			return true
		}
	}
	return false
}

// ContextWithPrincipal attaches the principal to ctx.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext extracts the principal, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
