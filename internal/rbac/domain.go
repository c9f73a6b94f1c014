package rbac

import "github.com/teamaccess/team-access-manager/internal/shared"

// RoleGrant describes a platform role and the permissions it carries.
type RoleGrant struct {
	Role        shared.PlatformRole `json:"role"`
	Permissions []string            `json:"permissions"`
	TeamScoped  bool                `json:"teamScoped"`
}

// Grants lists every platform role with its permissions.
func Grants() []RoleGrant {
	roles := shared.PlatformRoles()
	out := make([]RoleGrant, 0, len(roles))
	for _, role := range roles {
		out = append(out, RoleGrant{
			Role:        role,
			Permissions: shared.RolePermissions(role),
			TeamScoped:  role.TeamScoped(),
		})
	}
	return out
}
