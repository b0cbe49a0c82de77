package model

// Role is the access level carried by an API token. Roles are ordered:
// ingest < reader < admin.
type Role string

const (
	// RoleIngest may submit runs.
	RoleIngest Role = "ingest"
	// RoleReader may submit runs and read everything.
	RoleReader Role = "reader"
	// RoleAdmin may additionally manage baselines and trigger detection.
	RoleAdmin Role = "admin"
)

var roleRank = map[Role]int{
	RoleIngest: 1,
	RoleReader: 2,
	RoleAdmin:  3,
}

// Valid reports whether r is a recognized role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// RoleAtLeast reports whether r meets or exceeds min.
func RoleAtLeast(r, min Role) bool {
	return roleRank[r] >= roleRank[min]
}
