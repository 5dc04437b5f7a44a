package auth

import (
	"context"
	"errors"
	"sort"
)

// Resolver computes effective permission sets. The precedence is fixed:
// role-derived permissions and per-user grants are unioned, then denies are
// subtracted. A deny always wins, including over an explicit grant of the
// same key. Admins short-circuit to the full catalog before overrides are
// even consulted, so an admin cannot be denied anything.
type Resolver struct {
	store Store
}

// NewResolver builds a Resolver over the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Effective returns the user's resolved permission set, sorted and
// de-duplicated.
func (r *Resolver) Effective(ctx context.Context, u *User) ([]string, error) {
	if u.HasRole(RoleAdmin) {
		return Catalog(), nil
	}
	return r.combine(ctx, u.Roles, u.Grants, u.Denies)
}

// Can reports whether the user's effective set contains key.
func (r *Resolver) Can(ctx context.Context, u *User, key string) (bool, error) {
	perms, err := r.Effective(ctx, u)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == key {
			return true, nil
		}
	}
	return false, nil
}

// Preview resolves the set a hypothetical user with the given roles and
// overrides would have, without requiring the user to exist. It shares the
// combine path with Effective so the two can never disagree.
func (r *Resolver) Preview(ctx context.Context, roles []RoleKey, grants, denies []string) ([]string, error) {
	for _, role := range roles {
		if role == RoleAdmin {
			return Catalog(), nil
		}
	}
	return r.combine(ctx, roles, grants, denies)
}

func (r *Resolver) combine(ctx context.Context, roles []RoleKey, grants, denies []string) ([]string, error) {
	set := make(map[string]struct{})
	for _, role := range roles {
		perms, err := r.store.Roles().Permissions(ctx, role)
		if err != nil {
			// A role with no stored rows contributes nothing.
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		for _, p := range perms {
			set[p] = struct{}{}
		}
	}
	for _, p := range grants {
		if InCatalog(p) {
			set[p] = struct{}{}
		}
	}
	for _, p := range denies {
		delete(set, p)
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}
