package roles

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/rbac"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// Service handles role business logic.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// ListRoles returns every platform role with its grants.
func (s *Service) ListRoles() []rbac.RoleGrant {
	return rbac.Grants()
}

// Assign changes a user's platform role.
func (s *Service) Assign(ctx context.Context, actor shared.Principal, req AssignRequest) (Assignment, error) {
	role, err := shared.ParsePlatformRole(req.PlatformRole)
	if err != nil {
		return Assignment{}, fmt.Errorf("%w: %v", access.ErrInvalidState, err)
	}
	if req.UserID == actor.UserID {
		return Assignment{}, ErrSelfDemotion
	}
	now := s.now().UTC()
	var out Assignment
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.LockAccount(ctx, req.UserID)
		if err != nil {
			return err
		}
		if role.TeamScoped() && a.TeamID == 0 {
			return ErrTeamRequired
		}
		a.Role = role
		out = a
		if a.Previous == role {
			return nil
		}
		if err := tx.SetRole(ctx, a.UserID, role); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, shared.AuditEntry{
			TeamID:      a.TeamID,
			UserID:      a.UserID,
			Description: fmt.Sprintf("Platform role of %s changed from %s to %s", a.Name, a.Previous, role),
			Actor:       actor.Label(),
			At:          now,
		})
	})
	if err != nil {
		return Assignment{}, err
	}
	s.logger.Info("platform role assigned", slog.Int64("user_id", out.UserID), slog.String("role", string(out.Role)))
	return out, nil
}
