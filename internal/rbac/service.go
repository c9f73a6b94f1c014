package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamaccess/team-access-manager/internal/shared"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// ErrInactive indicates the account has been deactivated.
var ErrInactive = errors.New("rbac: account inactive")

// PrincipalLoader resolves the actor behind a session.
type PrincipalLoader interface {
	Principal(ctx context.Context, userID int64) (shared.Principal, error)
}

// Service orchestrates RBAC lookups.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// Principal loads the active account behind userID.
func (s *Service) Principal(ctx context.Context, userID int64) (shared.Principal, error) {
	var (
		p      shared.Principal
		role   string
		active bool
	)
	err := s.pool.QueryRow(ctx, `SELECT id, name, email, platform_role, COALESCE(team_id, 0), active
FROM users WHERE id = $1`, userID).Scan(&p.UserID, &p.Name, &p.Email, &role, &p.TeamID, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.Principal{}, ErrNotFound
		}
		return shared.Principal{}, err
	}
	if !active {
		return shared.Principal{}, ErrInactive
	}
	parsed, err := shared.ParsePlatformRole(role)
	if err != nil {
		return shared.Principal{}, fmt.Errorf("rbac: user %d: %w", userID, err)
	}
	p.Role = parsed
	return p, nil
}

var _ PrincipalLoader = (*Service)(nil)
