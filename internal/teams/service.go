package teams

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/entitlements"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// AuditReader reads a team's audit trail.
type AuditReader interface {
	TeamLog(ctx context.Context, teamID int64) ([]shared.AuditEntry, error)
}

// Service implements team administration.
type Service struct {
	repo   Repository
	audit  AuditReader
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, audit AuditReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// List returns the teams actor may see. Team admins only see their own.
func (s *Service) List(ctx context.Context, actor shared.Principal) ([]Team, error) {
	if actor.Role.TeamScoped() {
		if actor.TeamID == 0 {
			return []Team{}, nil
		}
		return s.repo.List(ctx, actor.TeamID)
	}
	return s.repo.List(ctx, 0)
}

// Create adds a team and seeds one default per catalog feature. Features not
// listed in the request start denied.
func (s *Service) Create(ctx context.Context, actor shared.Principal, req CreateTeamRequest) (Team, error) {
	name := strings.TrimSpace(req.Name)
	granted := make([]int64, 0, len(req.AccessList))
	for _, a := range req.AccessList {
		if a.HasAccess {
			granted = append(granted, a.FeatureID)
		}
	}
	now := s.now().UTC()
	var created Team
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		team, err := tx.CreateTeam(ctx, name)
		if err != nil {
			return err
		}
		if err := tx.SeedTeam(ctx, team.ID, granted); err != nil {
			return fmt.Errorf("seed defaults: %w", err)
		}
		entries, err := tx.TeamEntries(ctx, team.ID)
		if err != nil {
			return err
		}
		known := make(map[int64]string, len(entries))
		for _, e := range entries {
			known[e.FeatureID] = e.FeatureName
		}
		names := make([]string, 0, len(granted))
		for _, id := range granted {
			featureName, ok := known[id]
			if !ok {
				return fmt.Errorf("%w: %d", access.ErrUnknownFeature, id)
			}
			names = append(names, featureName)
		}
		description := fmt.Sprintf("Team %s created", team.Name)
		if len(names) > 0 {
			description += " with access to " + strings.Join(names, ", ")
		}
		if err := tx.RecordAudit(ctx, shared.AuditEntry{TeamID: team.ID, Description: description, Actor: actor.Label(), At: now}); err != nil {
			return err
		}
		created = team
		return nil
	})
	if err != nil {
		return Team{}, err
	}
	return created, nil
}

// Delete inactivates a team. Every active member moves to override mode with
// every feature denied and their pending requests are cancelled, so nobody
// keeps or gains access through a deleted team.
func (s *Service) Delete(ctx context.Context, actor shared.Principal, teamID int64) error {
	now := s.now().UTC()
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		team, err := tx.LockTeam(ctx, teamID)
		if err != nil {
			return err
		}
		if !team.Active {
			return fmt.Errorf("%w: %s", ErrTeamInactive, team.Name)
		}
		if err := tx.Deactivate(ctx, teamID); err != nil {
			return err
		}
		members, err := tx.MemberIDs(ctx, teamID)
		if err != nil {
			return err
		}
		facts := []access.Fact{{TeamID: teamID, Description: fmt.Sprintf("Team %s deleted", team.Name)}}
		for _, userID := range members {
			snap, err := entitlements.LoadSnapshot(ctx, tx, userID, true)
			if err != nil {
				return err
			}
			tr, err := access.TransitionAccessMode(snap.User, access.OverrideTeamAccess, snap.TeamEntries, snap.UserEntries, access.DenyAll(snap.TeamEntries))
			if err != nil {
				return err
			}
			if err := entitlements.Apply(ctx, tx, userID, tr.Mode, tr.ModeChanged, tr.UserEntries, now); err != nil {
				return err
			}
			facts = append(facts, tr.Facts...)
		}
		cancelled, err := tx.CancelPending(ctx, teamID, actor.Label(), now)
		if err != nil {
			return fmt.Errorf("cancel pending requests: %w", err)
		}
		for _, c := range cancelled {
			facts = append(facts, access.Fact{
				TeamID:      teamID,
				UserID:      c.UserID,
				Description: fmt.Sprintf("Pending request for %s cancelled because team %s was deleted", c.FeatureName, team.Name),
			})
		}
		if err := tx.RecordAudit(ctx, shared.EntriesFromFacts(facts, actor.Label(), now)...); err != nil {
			return err
		}
		s.logger.Info("team deleted", slog.Int64("team_id", teamID), slog.Int("members", len(members)), slog.Int("cancelled", len(cancelled)))
		return nil
	})
}

// Permissions returns the defaults of teamID.
func (s *Service) Permissions(ctx context.Context, actor shared.Principal, teamID int64) ([]entitlements.TeamAccessControl, error) {
	if err := authorizeTeam(actor, teamID); err != nil {
		return nil, err
	}
	if _, err := s.repo.Get(ctx, teamID); err != nil {
		return nil, err
	}
	entries, err := s.repo.TeamEntries(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return entitlements.TeamViews(entries), nil
}

// UpdateAccess writes changed team defaults and returns the rows that
// changed. Every row must belong to the same team.
func (s *Service) UpdateAccess(ctx context.Context, actor shared.Principal, updates []AccessUpdate) ([]entitlements.TeamAccessControl, error) {
	if len(updates) == 0 {
		return []entitlements.TeamAccessControl{}, nil
	}
	teamID := updates[0].TeamID
	changes := make([]access.TeamAccessEntry, 0, len(updates))
	for _, u := range updates {
		if u.TeamID != teamID {
			return nil, fmt.Errorf("%w: updates span teams %d and %d", access.ErrInvalidState, teamID, u.TeamID)
		}
		changes = append(changes, access.TeamAccessEntry{TeamID: u.TeamID, FeatureID: u.FeatureID, HasAccess: u.HasAccess})
	}
	if err := authorizeTeam(actor, teamID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	var changed []access.TeamAccessEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		team, err := tx.LockTeam(ctx, teamID)
		if err != nil {
			return err
		}
		if !team.Active {
			return fmt.Errorf("%w: %s", ErrTeamInactive, team.Name)
		}
		current, err := tx.TeamEntries(ctx, teamID)
		if err != nil {
			return err
		}
		diff, err := access.DiffTeamAccess(teamID, current, changes)
		if err != nil {
			return err
		}
		if len(diff.Entries) == 0 {
			return nil
		}
		if err := tx.UpdateTeamEntries(ctx, diff.Entries, now); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, shared.EntriesFromFacts(diff.Facts, actor.Label(), now)...); err != nil {
			return err
		}
		for i := range diff.Entries {
			diff.Entries[i].UpdatedAt = now
		}
		changed = diff.Entries
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entitlements.TeamViews(changed), nil
}

// AuditLog returns the audit trail of teamID, newest first.
func (s *Service) AuditLog(ctx context.Context, actor shared.Principal, teamID int64) ([]shared.AuditEntry, error) {
	if err := authorizeTeam(actor, teamID); err != nil {
		return nil, err
	}
	return s.audit.TeamLog(ctx, teamID)
}

func authorizeTeam(actor shared.Principal, teamID int64) error {
	if actor.CanManageTeam(teamID) {
		return nil
	}
	return fmt.Errorf("%w: team %d", access.ErrForbidden, teamID)
}
