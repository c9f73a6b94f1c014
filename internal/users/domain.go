// Package users manages directory accounts and their access mode.
package users

import (
	"fmt"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// ErrDuplicateUser indicates the email or employee id is taken.
var ErrDuplicateUser = fmt.Errorf("users: email or employee id %w", shared.ErrDuplicate)

// ErrTeamUnavailable indicates the target team is missing or deleted.
var ErrTeamUnavailable = fmt.Errorf("%w: team is missing or inactive", access.ErrInvalidState)

// User is the directory view of an account.
type User struct {
	ID           int64               `json:"id"`
	Name         string              `json:"name"`
	EmpID        string              `json:"empId"`
	Email        string              `json:"email"`
	Role         string              `json:"role"`
	PlatformRole shared.PlatformRole `json:"platformRole"`
	TeamID       int64               `json:"teamId"`
	TeamName     string              `json:"teamName"`
	AccessMode   access.AccessMode   `json:"accessMode"`
	Active       bool                `json:"active"`
}

// CreateUserRequest is the payload of POST /user/addNew.
type CreateUserRequest struct {
	Name              string `json:"name" validate:"required,max=120"`
	EmpID             string `json:"empId" validate:"required,max=40"`
	Email             string `json:"email" validate:"required,email"`
	Role              string `json:"role" validate:"max=80"`
	TeamID            int64  `json:"teamId" validate:"required,gt=0"`
	InheritTeamAccess *bool  `json:"inheritTeamAccess"`
}

// UpdateUserRequest is the payload of POST /user/updateUser.
type UpdateUserRequest struct {
	ID     int64  `json:"id" validate:"required,gt=0"`
	Name   string `json:"name" validate:"required,max=120"`
	Email  string `json:"email" validate:"required,email"`
	Role   string `json:"role" validate:"max=80"`
	TeamID int64  `json:"teamId" validate:"required,gt=0"`
}

// FeatureChoice is one explicit override value.
type FeatureChoice struct {
	FeatureID int64 `json:"featureId" validate:"required,gt=0"`
	Access    bool  `json:"access"`
}

// FeatureAccessDetails wraps override choices the way the client sends them.
type FeatureAccessDetails struct {
	FeatureAccessWrapperList []FeatureChoice `json:"featureAccessWrapperList" validate:"dive"`
}

// UpdateAccessModeRequest is the payload of POST /user/updateAccessMode.
type UpdateAccessModeRequest struct {
	UserID                      int64                 `json:"userId" validate:"required,gt=0"`
	AccessMode                  string                `json:"accessMode" validate:"required"`
	FeatureAccessDetailsWrapper *FeatureAccessDetails `json:"featureAccessDetailsWrapper"`
}

// Choices flattens the wrapper into resolver choices. Later duplicates win.
func (r UpdateAccessModeRequest) Choices() map[int64]bool {
	if r.FeatureAccessDetailsWrapper == nil {
		return nil
	}
	choices := make(map[int64]bool, len(r.FeatureAccessDetailsWrapper.FeatureAccessWrapperList))
	for _, c := range r.FeatureAccessDetailsWrapper.FeatureAccessWrapperList {
		choices[c.FeatureID] = c.Access
	}
	return choices
}
