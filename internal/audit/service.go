package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// ErrInvalidFilter is returned for filters that select nothing sensible.
var ErrInvalidFilter = errors.New("audit: invalid filter")

// Repository reads audit rows newest first.
type Repository interface {
	Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error)
	All(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error)
	UserTeam(ctx context.Context, userID int64) (int64, error)
}

// Service coordinates audit reads.
type Service struct {
	repo Repository
}

// NewService creates an audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of audit rows.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if err := checkScope(filters); err != nil {
		return Result{}, err
	}
	page, pageSize := shared.ClampPage(filters.Page, filters.PageSize)
	offset := (page - 1) * pageSize
	rows, err := s.repo.Window(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every matching row without paging.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if err := checkScope(filters); err != nil {
		return nil, err
	}
	rows, err := s.repo.All(ctx, filters)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	return rows, nil
}

// TeamLog returns the full trail of teamID.
func (s *Service) TeamLog(ctx context.Context, teamID int64) ([]TimelineRow, error) {
	return s.Export(ctx, TimelineFilters{TeamID: teamID})
}

// UserLog returns the full trail of userID.
func (s *Service) UserLog(ctx context.Context, userID int64) ([]TimelineRow, error) {
	return s.Export(ctx, TimelineFilters{UserID: userID})
}

// Authorize checks that actor may read the trail filters select. Users read
// their own trail; team admins read their team and its members.
func (s *Service) Authorize(ctx context.Context, actor shared.Principal, filters TimelineFilters) error {
	if err := checkScope(filters); err != nil {
		return err
	}
	if actor.Role == shared.RolePlatformAdmin {
		return nil
	}
	if filters.UserID != 0 {
		if filters.UserID == actor.UserID {
			return nil
		}
		teamID, err := s.repo.UserTeam(ctx, filters.UserID)
		if err != nil {
			return err
		}
		if actor.Can(shared.PermAuditView) && actor.CanManageTeam(teamID) {
			return nil
		}
		return fmt.Errorf("%w: audit trail of user %d", access.ErrForbidden, filters.UserID)
	}
	if actor.Can(shared.PermAuditView) && actor.CanManageTeam(filters.TeamID) {
		return nil
	}
	return fmt.Errorf("%w: audit trail of team %d", access.ErrForbidden, filters.TeamID)
}

func checkScope(filters TimelineFilters) error {
	if filters.TeamID <= 0 && filters.UserID <= 0 {
		return fmt.Errorf("%w: teamId or userId is required", ErrInvalidFilter)
	}
	if !filters.From.IsZero() && !filters.To.IsZero() && filters.From.After(filters.To) {
		return fmt.Errorf("%w: from %s is after to %s", ErrInvalidFilter, filters.From.Format(time.DateOnly), filters.To.Format(time.DateOnly))
	}
	return nil
}
