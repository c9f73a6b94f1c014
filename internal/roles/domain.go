// Package roles manages platform role assignments.
package roles

import (
	"fmt"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

var (
	// ErrTeamRequired indicates a team admin must belong to a team.
	ErrTeamRequired = fmt.Errorf("%w: team admins must belong to a team", access.ErrInvalidState)
	// ErrSelfDemotion indicates an admin tried to drop their own platform role.
	ErrSelfDemotion = fmt.Errorf("%w: cannot change your own platform role", access.ErrForbidden)
)

// AssignRequest is the payload of POST /roles/assign.
type AssignRequest struct {
	UserID       int64  `json:"userId" validate:"required,gt=0"`
	PlatformRole string `json:"platformRole" validate:"required,oneof=PLATFORM_ADMIN TEAM_ADMIN USER"`
}

// Assignment is the outcome of a role change.
type Assignment struct {
	UserID   int64               `json:"userId"`
	Name     string              `json:"name"`
	TeamID   int64               `json:"teamId"`
	Previous shared.PlatformRole `json:"previousRole"`
	Role     shared.PlatformRole `json:"platformRole"`
}
