// Package loginrequests handles self-registration: a prospective user asks
// for an account and a platform admin approves it into a team or rejects it.
package loginrequests

import (
	"fmt"
	"time"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// Status of a login request.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

var (
	// ErrRequestNotFound indicates the login request does not exist.
	ErrRequestNotFound = fmt.Errorf("%w: login request", access.ErrNotFound)
	// ErrAlreadyDecided indicates the request left PENDING earlier.
	ErrAlreadyDecided = fmt.Errorf("%w: login request already decided", access.ErrInvalidState)
	// ErrDuplicateRequest indicates a pending request or account already uses the email.
	ErrDuplicateRequest = fmt.Errorf("loginrequests: email %w", shared.ErrDuplicate)
)

// LoginRequest is an account application.
type LoginRequest struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	EmpID       string    `json:"empId"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	Team        string    `json:"team"`
	Status      Status    `json:"status"`
	UserID      int64     `json:"userId,omitempty"`
	DecidedBy   string    `json:"decidedBy,omitempty"`
	CreatedDate time.Time `json:"createdDate"`
}

// CreateRequest is the payload of POST /auth/login-request.
type CreateRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	EmpID string `json:"empId" validate:"required,max=40"`
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"max=80"`
	Team  string `json:"team" validate:"max=120"`
}
