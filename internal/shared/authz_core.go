package shared

import (
	"fmt"
	"sort"
	"strings"
)

// Platform permissions.
const (
	PermFeaturesView   = "features.view"
	PermFeaturesManage = "features.manage"

	PermTeamsView   = "teams.view"
	PermTeamsManage = "teams.manage"
	PermTeamsAccess = "teams.access"

	PermUsersView   = "users.view"
	PermUsersEdit   = "users.edit"
	PermUsersAccess = "users.access"

	PermRequestsCreate = "requests.create"
	PermRequestsDecide = "requests.decide"

	PermLoginRequestsDecide = "login_requests.decide"

	PermAuditView = "audit.view"

	PermRolesView   = "roles.view"
	PermRolesAssign = "roles.assign"

	PermJobsView = "jobs.view"

	PermSelfView = "self.view"
)

// PlatformRole is the coarse role carried by every account.
type PlatformRole string

const (
	RolePlatformAdmin PlatformRole = "PLATFORM_ADMIN"
	RoleTeamAdmin     PlatformRole = "TEAM_ADMIN"
	RoleUser          PlatformRole = "USER"
)

// ParsePlatformRole validates a role name.
func ParsePlatformRole(raw string) (PlatformRole, error) {
	role := PlatformRole(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := rolePermissions[role]; !ok {
		return "", fmt.Errorf("unknown platform role %q", raw)
	}
	return role, nil
}

// TeamScoped reports whether the role only acts within its own team.
func (r PlatformRole) TeamScoped() bool {
	return r == RoleTeamAdmin
}

var selfScopes = []string{PermFeaturesView, PermRequestsCreate, PermSelfView}

var rolePermissions = map[PlatformRole][]string{
	RolePlatformAdmin: CoreScopes(),
	RoleTeamAdmin: append([]string{
		PermTeamsView,
		PermTeamsAccess,
		PermUsersView,
		PermUsersEdit,
		PermUsersAccess,
		PermRequestsDecide,
		PermAuditView,
	}, selfScopes...),
	RoleUser: selfScopes,
}

// RolePermissions returns the permissions granted to role, sorted.
func RolePermissions(role PlatformRole) []string {
	perms := append([]string(nil), rolePermissions[role]...)
	sort.Strings(perms)
	return perms
}

// PlatformRoles lists every role in privilege order.
func PlatformRoles() []PlatformRole {
	return []PlatformRole{RolePlatformAdmin, RoleTeamAdmin, RoleUser}
}

// CoreScopes lists all permissions known to the platform.
func CoreScopes() []string {
	return []string{
		PermFeaturesView,
		PermFeaturesManage,
		PermTeamsView,
		PermTeamsManage,
		PermTeamsAccess,
		PermUsersView,
		PermUsersEdit,
		PermUsersAccess,
		PermRequestsCreate,
		PermRequestsDecide,
		PermLoginRequestsDecide,
		PermAuditView,
		PermRolesView,
		PermRolesAssign,
		PermJobsView,
		PermSelfView,
	}
}
