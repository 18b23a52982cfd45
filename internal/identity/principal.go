package identity

import (
	"strings"
	"time"
)

// Principal is the authenticated caller extracted from a verified bearer
// token. Role names come from the token's flat "roles" claim merged with the
// Keycloak-style "realm_access.roles" claim.
type Principal struct {
	Subject   string
	Name      string
	Email     string
	Roles     []string
	ExpiresAt time.Time
}

// HasRole reports whether the principal carries the given role. Matching is
// case-insensitive.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, candidate := range p.Roles {
		if strings.EqualFold(candidate, role) {
			return true
		}
	}
	return false
}
