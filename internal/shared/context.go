package shared

import (
	"context"
	"fmt"
)

type sessionContextKey struct{}

type principalContextKey struct{}

// Principal is the authenticated actor of a request.
type Principal struct {
	UserID int64        `json:"id"`
	Name   string       `json:"name"`
	Email  string       `json:"username"`
	Role   PlatformRole `json:"platformRole"`
	TeamID int64        `json:"teamId"`
}

// Label renders the actor the way audit rows record it.
func (p Principal) Label() string {
	if p.Name == "" {
		return fmt.Sprintf("user#%d", p.UserID)
	}
	return p.Name
}

// Can reports whether the principal's role grants perm.
func (p Principal) Can(perm string) bool {
	for _, granted := range rolePermissions[p.Role] {
		if granted == perm {
			return true
		}
	}
	return false
}

// CanManageTeam reports whether the principal may administer teamID. Team
// admins are confined to their own team.
func (p Principal) CanManageTeam(teamID int64) bool {
	switch p.Role {
	case RolePlatformAdmin:
		return true
	case RoleTeamAdmin:
		return teamID != 0 && p.TeamID == teamID
	}
	return false
}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithPrincipal stores the authenticated principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
