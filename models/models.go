// Package models contains the persisted data model: local users, EVE
// characters and their SSO credentials, pilot snapshots, the lazily
// populated type/group/category reference cache, and the waitlist itself.
package models

// AllTables returns a slice of all tables in the database.
func AllTables() []interface{} {
	return []interface{}{
		&User{},
		&Character{},
		&Credential{},
		&Snapshot{},
		&Category{}, &Group{}, &Type{},
		&Fleet{}, &FleetWing{}, &FleetSquad{},
		&Waitlist{}, &Fit{},
	}
}
