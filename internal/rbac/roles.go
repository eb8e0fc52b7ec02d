package rbac

// Role names. Keep these stable; they are part of auth contracts and the
// agent-directory role filters (transfer targets, supervisor assignment).
const (
	RoleAgent   = "agent"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// TransferRoles may receive warm transfers.
func TransferRoles() []string { return []string{RoleAgent, RoleManager, RoleAdmin} }

// SupervisorRoles may be assigned emotional-alert tasks.
func SupervisorRoles() []string { return []string{RoleManager, RoleAdmin} }
