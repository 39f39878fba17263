package rbac

// Role names. Keep these stable; they are embedded in issued tokens.
const (
	RoleOwner      = "owner"
	RoleFinance    = "finance"
	RoleSuperAdmin = "super_admin"
	RoleWorker     = "worker" // service-only role held by the media worker
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// IsServiceRole reports roles that are never granted implicitly.
func IsServiceRole(role string) bool { return role == RoleWorker }
