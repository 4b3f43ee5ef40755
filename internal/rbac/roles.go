package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
//
// waiter: receives and works calls for the tables assigned to them.
// manager: everything a waiter can do, plus reporting and token cleanup.
// super_admin: cross-business operations staff.
const (
	RoleWaiter     = "waiter"
	RoleManager    = "manager"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
