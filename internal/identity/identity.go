// Package identity turns bearer tokens into the caller identity consumed by
// the governor.
//
// It provides:
//   - LoadOrCreateKey: loads or generates the RSA signing key on disk
//   - TokenIssuer: issues and verifies RS256 user tokens carrying a role
//   - RequireUser: Gin middleware enforcing a valid user token
//   - RequireAdmin: Gin middleware enforcing an ADMIN token
//   - HashSecret: bcrypt hashing of the operator secret used to mint admin tokens
package identity

import "strings"

// EntityName is the audit entity name of LOGIN and LOGOUT entries.
const EntityName = "User"

// Role is the caller's role. Only ADMIN is privileged.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleManager   Role = "MANAGER"
	RoleConcierge Role = "CONCIERGE"
	RoleOwner     Role = "OWNER"
)

// ParseRole converts a case-insensitive role name.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleAdmin, RoleManager, RoleConcierge, RoleOwner:
		return r, true
	}
	return "", false
}

// Privileged reports whether r may modify locked records with an approved petition.
func (r Role) Privileged() bool { return r == RoleAdmin }
