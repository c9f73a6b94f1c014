// Package teams manages teams and their feature defaults.
package teams

import (
	"fmt"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/shared"
	"github.com/teamaccess/team-access-manager/internal/users"
)

var (
	// ErrDuplicateName indicates a team with the same name exists.
	ErrDuplicateName = fmt.Errorf("teams: name %w", shared.ErrDuplicate)
	// ErrTeamNotFound indicates the team does not exist.
	ErrTeamNotFound = fmt.Errorf("%w: team", access.ErrNotFound)
	// ErrTeamInactive indicates the team was deleted.
	ErrTeamInactive = fmt.Errorf("%w: team is inactive", access.ErrInvalidState)
)

// Team is a team with its members.
type Team struct {
	ID       int64        `json:"id"`
	Name     string       `json:"name"`
	Active   bool         `json:"active"`
	UserList []users.User `json:"userList"`
}

// CancelledRequest is a pending access request closed by a team deletion.
type CancelledRequest struct {
	ID          int64
	UserID      int64
	FeatureName string
}

// FeatureAccess is one initial default of a new team.
type FeatureAccess struct {
	FeatureID int64 `json:"featureId" validate:"required,gt=0"`
	HasAccess bool  `json:"hasAccess"`
}

// CreateTeamRequest is the payload of POST /team/addNew.
type CreateTeamRequest struct {
	Name       string          `json:"name" validate:"required,max=120"`
	AccessList []FeatureAccess `json:"accessList" validate:"dive"`
}

// AccessUpdate is one row of POST /team/updateAccess.
type AccessUpdate struct {
	ID        int64 `json:"id"`
	TeamID    int64 `json:"teamId" validate:"required,gt=0"`
	FeatureID int64 `json:"featureId" validate:"required,gt=0"`
	HasAccess bool  `json:"hasAccess"`
}
