package auth

import (
	"time"

	"github.com/teamaccess/team-access-manager/internal/shared"
)

// Account represents an authenticated user account.
type Account struct {
	ID           int64
	Name         string
	Email        string
	JobRole      string
	PlatformRole shared.PlatformRole
	TeamID       int64
	PasswordHash string
	Active       bool
}

// Me is the profile returned to a signed-in client.
type Me struct {
	ID           int64               `json:"id"`
	Username     string              `json:"username"`
	Name         string              `json:"name"`
	Email        string              `json:"email"`
	Role         string              `json:"role"`
	PlatformRole shared.PlatformRole `json:"platformRole"`
	TeamID       int64               `json:"teamId"`
}

// LoginResult carries a freshly issued bearer token.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      Me        `json:"user"`
}

func (a Account) me() Me {
	return Me{
		ID:           a.ID,
		Username:     a.Email,
		Name:         a.Name,
		Email:        a.Email,
		Role:         a.JobRole,
		PlatformRole: a.PlatformRole,
		TeamID:       a.TeamID,
	}
}
