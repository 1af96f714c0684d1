package auth

import (
	"context"
	"strings"
)

// Role levels. Higher values may do everything lower values may.
const (
	RoleReader      = "reader"
	RoleContributor = "contributor"
	RoleAdmin       = "admin"
)

var roleRank = map[string]int{
	RoleReader:      1,
	RoleContributor: 2,
	RoleAdmin:       3,
}

// KnownRole reports whether the role name is part of the hierarchy.
func KnownRole(role string) bool {
	_, ok := roleRank[strings.ToLower(strings.TrimSpace(role))]
	return ok
}

// Actor is the request-scoped identity consumed by the naming service.
// It is never persisted.
type Actor struct {
	ID    string
	Roles []string
}

// ActorFromContext assembles the Actor from context values.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	id, ok := ActorIDFromContext(ctx)
	if !ok {
		return Actor{}, false
	}
	roles, _ := RolesFromContext(ctx)
	return Actor{ID: id, Roles: roles}, true
}

// HasRole reports whether the actor holds a role at or above min.
func (a Actor) HasRole(min string) bool {
	want, ok := roleRank[strings.ToLower(strings.TrimSpace(min))]
	if !ok {
		return false
	}
	for _, role := range a.Roles {
		if roleRank[strings.ToLower(role)] >= want {
			return true
		}
	}
	return false
}

// IsElevated reports whether the actor bypasses ownership checks.
func (a Actor) IsElevated() bool {
	return a.HasRole(RoleAdmin)
}

// CanTouch reports whether the actor may act on a record claimed or
// released by the given identities. Elevated roles always may; others
// must match one of the identities. A prior releaser qualifies so
// duplicate release requests stay authorized.
func (a Actor) CanTouch(claimedBy, releasedBy string) bool {
	if a.IsElevated() {
		return true
	}
	id := strings.ToLower(strings.TrimSpace(a.ID))
	if id == "" {
		return false
	}
	return id == strings.ToLower(strings.TrimSpace(claimedBy)) ||
		id == strings.ToLower(strings.TrimSpace(releasedBy))
}
