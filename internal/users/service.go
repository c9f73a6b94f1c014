package users

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

// Mailer delivers a notification out of band.
type Mailer interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

// SessionRevoker ends every session a user holds.
type SessionRevoker interface {
	DestroyUser(ctx context.Context, userID int64) error
}

// AuditReader reads a user's audit trail.
type AuditReader interface {
	UserLog(ctx context.Context, userID int64) ([]shared.AuditEntry, error)
}

// PasswordFunc returns a temporary password and its hash.
type PasswordFunc func() (plain, hash string, err error)

// Service implements user administration.
type Service struct {
	repo     Repository
	audit    AuditReader
	sessions SessionRevoker
	mailer   Mailer
	password PasswordFunc
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, audit AuditReader, sessions SessionRevoker, mailer Mailer, password PasswordFunc, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, sessions: sessions, mailer: mailer, password: password, logger: logger, now: time.Now}
}

// List returns active users. Team admins only see their own team.
func (s *Service) List(ctx context.Context, actor shared.Principal) ([]User, error) {
	if actor.Role.TeamScoped() {
		return s.ListByTeam(ctx, actor, actor.TeamID)
	}
	return s.repo.List(ctx, 0)
}

// ListByTeam returns the active members of teamID.
func (s *Service) ListByTeam(ctx context.Context, actor shared.Principal, teamID int64) ([]User, error) {
	if !actor.CanManageTeam(teamID) {
		return nil, fmt.Errorf("%w: team %d", access.ErrForbidden, teamID)
	}
	return s.repo.List(ctx, teamID)
}

// Get returns one user the actor may see.
func (s *Service) Get(ctx context.Context, actor shared.Principal, userID int64) (User, error) {
	u, err := s.repo.Get(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if err := authorizeUser(actor, u, true); err != nil {
		return User{}, err
	}
	return u, nil
}

// Create registers an account with a generated temporary password and mails
// it to the user. Accounts inherit their team defaults unless the request asks
// otherwise, in which case the overrides start as a copy of those defaults.
func (s *Service) Create(ctx context.Context, actor shared.Principal, req CreateUserRequest) (User, error) {
	if !actor.CanManageTeam(req.TeamID) {
		return User{}, fmt.Errorf("%w: team %d", access.ErrForbidden, req.TeamID)
	}
	plain, hash, err := s.password()
	if err != nil {
		return User{}, fmt.Errorf("generate password: %w", err)
	}
	inherit := req.InheritTeamAccess == nil || *req.InheritTeamAccess
	now := s.now().UTC()
	var created User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		teamName, err := tx.ActiveTeam(ctx, req.TeamID)
		if err != nil {
			return err
		}
		u, err := tx.Create(ctx, NewUser{
			Name:         strings.TrimSpace(req.Name),
			EmpID:        strings.TrimSpace(req.EmpID),
			Email:        strings.TrimSpace(req.Email),
			Role:         strings.TrimSpace(req.Role),
			TeamID:       req.TeamID,
			PasswordHash: hash,
		})
		if err != nil {
			return err
		}
		facts := []access.Fact{{TeamID: req.TeamID, UserID: u.ID, Description: fmt.Sprintf("User %s added to team %s", u.Name, teamName)}}
		if !inherit {
			snap, err := entitlements.LoadSnapshot(ctx, tx, u.ID, true)
			if err != nil {
				return err
			}
			seed := make(map[int64]bool, len(snap.TeamEntries))
			for _, e := range snap.TeamEntries {
				seed[e.FeatureID] = e.HasAccess
			}
			tr, err := access.TransitionAccessMode(snap.User, access.OverrideTeamAccess, snap.TeamEntries, snap.UserEntries, seed)
			if err != nil {
				return err
			}
			if err := entitlements.Apply(ctx, tx, u.ID, tr.Mode, tr.ModeChanged, tr.UserEntries, now); err != nil {
				return err
			}
			facts = append(facts, tr.Facts...)
			u.AccessMode = tr.Mode
		}
		if err := tx.RecordAudit(ctx, shared.EntriesFromFacts(facts, actor.Label(), now)...); err != nil {
			return err
		}
		created = u
		return nil
	})
	if err != nil {
		return User{}, err
	}
	s.notify(ctx, created.Email, "Your Team Access Manager account",
		fmt.Sprintf("Hello %s,\n\nAn account was created for you. Sign in with %s and the temporary password %s, then change it.\n", created.Name, created.Email, plain))
	return created, nil
}

// Update edits profile fields. Moving a user to another team requires the
// actor to manage both teams and is audited on each side.
func (s *Service) Update(ctx context.Context, actor shared.Principal, req UpdateUserRequest) (User, error) {
	now := s.now().UTC()
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Role = strings.TrimSpace(req.Role)
	var updated User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockProfile(ctx, req.ID)
		if err != nil {
			return err
		}
		if err := authorizeUser(actor, current, false); err != nil {
			return err
		}
		if !current.Active {
			return fmt.Errorf("%w: user %d", access.ErrInactiveUser, current.ID)
		}
		var facts []access.Fact
		if req.TeamID != current.TeamID {
			if !actor.CanManageTeam(req.TeamID) {
				return fmt.Errorf("%w: team %d", access.ErrForbidden, req.TeamID)
			}
			teamName, err := tx.ActiveTeam(ctx, req.TeamID)
			if err != nil {
				return err
			}
			moved := fmt.Sprintf("User %s moved from team %s to team %s", current.Name, current.TeamName, teamName)
			facts = append(facts,
				access.Fact{TeamID: current.TeamID, UserID: current.ID, Description: moved},
				access.Fact{TeamID: req.TeamID, Description: moved})
			current.TeamName = teamName
		}
		if req.Name != current.Name || !strings.EqualFold(req.Email, current.Email) || req.Role != current.Role {
			facts = append(facts, access.Fact{TeamID: req.TeamID, UserID: current.ID, Description: fmt.Sprintf("User %s profile updated", req.Name)})
		}
		if err := tx.Update(ctx, req); err != nil {
			return err
		}
		if len(facts) > 0 {
			if err := tx.RecordAudit(ctx, shared.EntriesFromFacts(facts, actor.Label(), now)...); err != nil {
				return err
			}
		}
		current.Name, current.Email, current.Role, current.TeamID = req.Name, strings.ToLower(req.Email), req.Role, req.TeamID
		updated = current
		return nil
	})
	if err != nil {
		return User{}, err
	}
	return updated, nil
}

// Delete deactivates a user, cancels their pending requests and ends their
// sessions. Nobody may delete themselves.
func (s *Service) Delete(ctx context.Context, actor shared.Principal, userID int64) error {
	if actor.UserID == userID {
		return fmt.Errorf("%w: cannot delete your own account", access.ErrInvalidState)
	}
	now := s.now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockProfile(ctx, userID)
		if err != nil {
			return err
		}
		if err := authorizeUser(actor, current, false); err != nil {
			return err
		}
		if !current.Active {
			return fmt.Errorf("%w: user %d", access.ErrInactiveUser, userID)
		}
		if err := tx.Deactivate(ctx, userID); err != nil {
			return err
		}
		cancelled, err := tx.CancelPending(ctx, userID, actor.Label(), now)
		if err != nil {
			return err
		}
		description := fmt.Sprintf("User %s deleted", current.Name)
		if cancelled > 0 {
			description += fmt.Sprintf(", %d pending request(s) cancelled", cancelled)
		}
		return tx.RecordAudit(ctx, shared.AuditEntry{TeamID: current.TeamID, UserID: userID, Description: description, Actor: actor.Label(), At: now})
	})
	if err != nil {
		return err
	}
	if s.sessions != nil {
		if err := s.sessions.DestroyUser(ctx, userID); err != nil {
			s.logger.Warn("revoke sessions failed", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	return nil
}

// Permissions returns the user's team defaults and stored overrides.
func (s *Service) Permissions(ctx context.Context, actor shared.Principal, userID int64) (entitlements.AccessControl, error) {
	snap, err := s.repo.Snapshot(ctx, userID)
	if err != nil {
		return entitlements.AccessControl{}, err
	}
	if !actor.CanManageTeam(snap.User.TeamID) && actor.UserID != userID {
		return entitlements.AccessControl{}, fmt.Errorf("%w: user %d", access.ErrForbidden, userID)
	}
	return entitlements.AccessControlOf(snap), nil
}

// UpdateAccessMode switches a user between inheriting and overriding, or
// toggles overrides when the mode is unchanged.
func (s *Service) UpdateAccessMode(ctx context.Context, actor shared.Principal, req UpdateAccessModeRequest) (entitlements.AccessControl, error) {
	mode, err := access.ParseAccessMode(req.AccessMode)
	if err != nil {
		return entitlements.AccessControl{}, err
	}
	now := s.now().UTC()
	var result access.Snapshot
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		snap, err := entitlements.LoadSnapshot(ctx, tx, req.UserID, true)
		if err != nil {
			return err
		}
		if !actor.CanManageTeam(snap.User.TeamID) {
			return fmt.Errorf("%w: user %d", access.ErrForbidden, req.UserID)
		}
		if !snap.User.Active {
			return fmt.Errorf("%w: user %d", access.ErrInactiveUser, req.UserID)
		}
		tr, err := access.TransitionAccessMode(snap.User, mode, snap.TeamEntries, snap.UserEntries, req.Choices())
		if err != nil {
			return err
		}
		if err := entitlements.Apply(ctx, tx, req.UserID, tr.Mode, tr.ModeChanged, tr.UserEntries, now); err != nil {
			return err
		}
		if len(tr.Facts) > 0 {
			if err := tx.RecordAudit(ctx, shared.EntriesFromFacts(tr.Facts, actor.Label(), now)...); err != nil {
				return err
			}
		}
		result, err = entitlements.LoadSnapshot(ctx, tx, req.UserID, false)
		return err
	})
	if err != nil {
		return entitlements.AccessControl{}, err
	}
	return entitlements.AccessControlOf(result), nil
}

// AuditLog returns the audit trail of userID for an administrator.
func (s *Service) AuditLog(ctx context.Context, actor shared.Principal, userID int64) ([]shared.AuditEntry, error) {
	u, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManageTeam(u.TeamID) {
		return nil, fmt.Errorf("%w: user %d", access.ErrForbidden, userID)
	}
	return s.audit.UserLog(ctx, userID)
}

// DashboardAuditLog returns the caller's own audit trail.
func (s *Service) DashboardAuditLog(ctx context.Context, actor shared.Principal, userID int64) ([]shared.AuditEntry, error) {
	if actor.UserID != userID {
		return s.AuditLog(ctx, actor, userID)
	}
	return s.audit.UserLog(ctx, userID)
}

func (s *Service) notify(ctx context.Context, to, subject, body string) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.SendMail(ctx, to, subject, body); err != nil {
		s.logger.Warn("queue mail failed", slog.String("to", to), slog.Any("error", err))
	}
}

// authorizeUser checks that actor may act on u. Viewing oneself is allowed
// when self is set.
func authorizeUser(actor shared.Principal, u User, self bool) error {
	if self && actor.UserID == u.ID {
		return nil
	}
	if actor.CanManageTeam(u.TeamID) {
		return nil
	}
	return fmt.Errorf("%w: user %d", access.ErrForbidden, u.ID)
}
