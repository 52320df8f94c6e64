// Package auth authenticates API callers and resolves their recovery role.
// The recovery core never infers roles from ambient identity; this package
// turns a bearer token into an explicit Principal that the API layer maps to
// a recovery.Party.
package auth

import "github.com/Mindburn-Labs/aegis/pkg/recovery"

// Principal is an authenticated caller of the recovery API.
type Principal struct {
	// ID is the stable principal identifier (token subject). It is what
	// gets stored as an escape request's initiator.
	ID string
	// Account scopes the principal to one recovered account.
	Account string
	// Role is the recovery role the token grants: owner or guardian.
	Role recovery.Role
}

// Party converts the principal into the explicit caller descriptor the
// recovery core consumes.
func (p Principal) Party() recovery.Party {
	return recovery.Party{ID: p.ID, Role: p.Role}
}
