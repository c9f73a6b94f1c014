package loginrequests

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teamaccess/team-access-manager/internal/shared"
	"github.com/teamaccess/team-access-manager/internal/users"
)

// Mailer delivers a notification out of band.
type Mailer interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

// Locker serialises decisions on one request across instances.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Service implements the login request workflow.
type Service struct {
	repo     Repository
	locker   Locker
	mailer   Mailer
	password users.PasswordFunc
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service. locker and mailer may be nil.
func NewService(repo Repository, locker Locker, mailer Mailer, password users.PasswordFunc, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, locker: locker, mailer: mailer, password: password, logger: logger, now: time.Now}
}

// Submit records an application from an anonymous caller.
func (s *Service) Submit(ctx context.Context, req CreateRequest) (LoginRequest, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.EmpID = strings.TrimSpace(req.EmpID)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Role = strings.TrimSpace(req.Role)
	req.Team = strings.TrimSpace(req.Team)
	created, err := s.repo.Create(ctx, req)
	if err != nil {
		return LoginRequest{}, err
	}
	s.logger.Info("login request received", slog.Int64("request_id", created.ID))
	return created, nil
}

// ListPending returns applications awaiting a decision.
func (s *Service) ListPending(ctx context.Context) ([]LoginRequest, error) {
	return s.repo.ListPending(ctx)
}

// Approve creates the account in teamID, inheriting the team defaults, and
// mails the applicant a temporary password.
func (s *Service) Approve(ctx context.Context, actor shared.Principal, requestID, teamID int64) (LoginRequest, error) {
	release, err := s.lock(ctx, requestID)
	if err != nil {
		return LoginRequest{}, err
	}
	defer release()

	plain, hash, err := s.password()
	if err != nil {
		return LoginRequest{}, fmt.Errorf("generate password: %w", err)
	}
	now := s.now().UTC()
	var approved LoginRequest
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.Lock(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return fmt.Errorf("%w: %d is %s", ErrAlreadyDecided, requestID, req.Status)
		}
		teamName, err := tx.ActiveTeam(ctx, teamID)
		if err != nil {
			return err
		}
		userID, err := tx.CreateUser(ctx, users.NewUser{
			Name:         req.Name,
			EmpID:        req.EmpID,
			Email:        req.Email,
			Role:         req.Role,
			TeamID:       teamID,
			PasswordHash: hash,
		})
		if err != nil {
			return err
		}
		if err := tx.MarkDecided(ctx, requestID, StatusApproved, userID, actor.Label(), now); err != nil {
			return err
		}
		if err := tx.RecordApproval(ctx, shared.ApprovalLog{Module: shared.ModuleLoginRequest, RefID: requestID, ActorID: actor.UserID, Action: shared.ApprovalApprove, At: now}); err != nil {
			return err
		}
		entry := shared.AuditEntry{
			TeamID:      teamID,
			UserID:      userID,
			Description: fmt.Sprintf("User %s added to team %s from login request", req.Name, teamName),
			Actor:       actor.Label(),
			At:          now,
		}
		if err := tx.RecordAudit(ctx, entry); err != nil {
			return err
		}
		req.Status, req.UserID, req.DecidedBy = StatusApproved, userID, actor.Label()
		approved = req
		return nil
	})
	if err != nil {
		return LoginRequest{}, err
	}
	s.notify(ctx, approved.Email, "Your Team Access Manager account is ready",
		fmt.Sprintf("Hello %s,\n\nYour access request was approved. Sign in with %s and the temporary password %s, then change it.\n", approved.Name, approved.Email, plain))
	return approved, nil
}

// Reject closes an application without creating an account.
func (s *Service) Reject(ctx context.Context, actor shared.Principal, requestID int64) (LoginRequest, error) {
	release, err := s.lock(ctx, requestID)
	if err != nil {
		return LoginRequest{}, err
	}
	defer release()

	now := s.now().UTC()
	var rejected LoginRequest
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.Lock(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return fmt.Errorf("%w: %d is %s", ErrAlreadyDecided, requestID, req.Status)
		}
		if err := tx.MarkDecided(ctx, requestID, StatusRejected, 0, actor.Label(), now); err != nil {
			return err
		}
		if err := tx.RecordApproval(ctx, shared.ApprovalLog{Module: shared.ModuleLoginRequest, RefID: requestID, ActorID: actor.UserID, Action: shared.ApprovalReject, At: now}); err != nil {
			return err
		}
		req.Status, req.DecidedBy = StatusRejected, actor.Label()
		rejected = req
		return nil
	})
	if err != nil {
		return LoginRequest{}, err
	}
	s.notify(ctx, rejected.Email, "Your Team Access Manager request",
		fmt.Sprintf("Hello %s,\n\nYour access request was not approved. Contact your administrator for details.\n", rejected.Name))
	return rejected, nil
}

func (s *Service) lock(ctx context.Context, requestID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Acquire(ctx, shared.LoginDecisionLockKey(requestID))
}

func (s *Service) notify(ctx context.Context, to, subject, body string) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.SendMail(ctx, to, subject, body); err != nil {
		s.logger.Warn("queue mail failed", slog.String("to", to), slog.Any("error", err))
	}
}
