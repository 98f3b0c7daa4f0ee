// Package esi is the client side of the EVE Swagger Interface integration:
// credential lifecycle, classified upstream calls, character snapshots and
// the lazily populated reference cache.
package esi

// SSO scopes the application asks for at login time.
const (
	ScopeReadSkills   = "esi-skills.read_skills.v1"
	ScopeReadImplants = "esi-clones.read_implants.v1"
	ScopeReadFleet    = "esi-fleets.read_fleet.v1"
)

// Scopes returns every scope the application requests.
func Scopes() []string {
	return []string{ScopeReadSkills, ScopeReadImplants, ScopeReadFleet}
}
