package rbac

// Role names. Keep these stable; gateways send them in X-Role.
const (
	RoleRep        = "rep"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func Known(role string) bool {
	switch role {
	case RoleRep, RoleSupervisor, RoleAdmin:
		return true
	}
	return false
}

// CanActFor reports whether a caller may operate on repID's sessions and calls.
// Reps act only for themselves; supervisors and admins act for anyone.
func CanActFor(callerRepID, role, repID string) bool {
	if role == RoleSupervisor || role == RoleAdmin {
		return true
	}
	return callerRepID != "" && callerRepID == repID
}
