package requests

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/entitlements"
	"github.com/teamaccess/team-access-manager/internal/platform/db"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// Mailer delivers a notification out of band.
type Mailer interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

// Locker serialises decisions on one request across instances.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Service implements the access request workflow.
type Service struct {
	repo   Repository
	locker Locker
	mailer Mailer
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service. locker and mailer may be nil.
func NewService(repo Repository, locker Locker, mailer Mailer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, locker: locker, mailer: mailer, logger: logger, now: time.Now}
}

// Submit opens or withdraws a request on behalf of the caller.
func (s *Service) Submit(ctx context.Context, actor shared.Principal, form SubmitRequest) (PendingRequest, error) {
	if form.UserID != actor.UserID {
		return PendingRequest{}, fmt.Errorf("%w: requests are raised by the user themselves", access.ErrForbidden)
	}
	status, err := access.ParseRequestStatus(form.RequestStatus)
	if err != nil {
		return PendingRequest{}, err
	}
	switch status {
	case access.StatusPending:
		typ, err := access.ParseRequestType(form.RequestType)
		if err != nil {
			return PendingRequest{}, err
		}
		return s.open(ctx, actor, form.FeatureID, typ)
	case access.StatusCancelled:
		return s.cancel(ctx, actor, form.ID)
	}
	return PendingRequest{}, fmt.Errorf("%w: cannot submit a request as %s", access.ErrInvalidState, status)
}

func (s *Service) open(ctx context.Context, actor shared.Principal, featureID int64, typ access.RequestType) (PendingRequest, error) {
	now := s.now().UTC()
	var view PendingRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		snap, err := entitlements.LoadSnapshot(ctx, tx, actor.UserID, true)
		if err != nil {
			return err
		}
		if err := requireActiveTeam(ctx, tx, snap.User.TeamID); err != nil {
			return err
		}
		pending, err := tx.LockPendingForUser(ctx, actor.UserID)
		if err != nil {
			return err
		}
		approvers, err := tx.Approvers(ctx, snap.User.TeamID)
		if err != nil {
			return err
		}
		req, fact, err := access.OpenRequest(snap, featureID, typ, pending, joinApprovers(approvers), now)
		if err != nil {
			return err
		}
		req, err = tx.Insert(ctx, req)
		if err != nil {
			return err
		}
		if err := tx.RecordApproval(ctx, shared.ApprovalLog{Module: shared.ModuleAccessRequest, RefID: req.ID, ActorID: actor.UserID, Action: shared.ApprovalSubmit, At: now}); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, shared.EntriesFromFacts([]access.Fact{fact}, actor.Label(), now)...); err != nil {
			return err
		}
		who, err := tx.Requester(ctx, actor.UserID)
		if err != nil {
			return err
		}
		view = pendingView(req, who)
		return nil
	})
	if err != nil {
		return PendingRequest{}, err
	}
	s.logger.Info("access request opened", slog.Int64("request_id", view.ID), slog.Int64("user_id", view.UserID), slog.Int64("feature_id", view.FeatureID))
	return view, nil
}

func (s *Service) cancel(ctx context.Context, actor shared.Principal, requestID int64) (PendingRequest, error) {
	if requestID <= 0 {
		return PendingRequest{}, fmt.Errorf("%w: request id required to cancel", access.ErrInvalidState)
	}
	now := s.now().UTC()
	var view PendingRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		user, err := tx.GetUser(ctx, actor.UserID)
		if err != nil {
			return err
		}
		c, err := access.CancelRequest(req, user)
		if err != nil {
			return err
		}
		who, err := tx.Requester(ctx, actor.UserID)
		if err != nil {
			return err
		}
		if !c.Changed {
			view = pendingView(c.Request, who)
			return nil
		}
		c.Request.DecidedBy = actor.Label()
		c.Request.DecidedOn = &now
		if err := tx.SaveStatus(ctx, c.Request, req.Version); err != nil {
			return err
		}
		c.Request.Version = req.Version + 1
		if err := tx.RecordApproval(ctx, shared.ApprovalLog{Module: shared.ModuleAccessRequest, RefID: req.ID, ActorID: actor.UserID, Action: shared.ApprovalCancel, At: now}); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, shared.EntriesFromFacts([]access.Fact{c.Fact}, actor.Label(), now)...); err != nil {
			return err
		}
		view = pendingView(c.Request, who)
		return nil
	})
	if err != nil {
		return PendingRequest{}, err
	}
	return view, nil
}

// ListPending returns the requests actor may decide, each with the
// requester's current access.
func (s *Service) ListPending(ctx context.Context, actor shared.Principal) ([]PendingRequest, error) {
	teamID := int64(0)
	if actor.Role.TeamScoped() {
		if actor.TeamID == 0 {
			return []PendingRequest{}, nil
		}
		teamID = actor.TeamID
	}
	pending, err := s.repo.ListPending(ctx, teamID)
	if err != nil {
		return nil, err
	}
	type requesterState struct {
		who  Requester
		view entitlements.AccessControl
	}
	byUser := make(map[int64]requesterState)
	out := make([]PendingRequest, 0, len(pending))
	for _, req := range pending {
		c, ok := byUser[req.UserID]
		if !ok {
			who, err := s.repo.Requester(ctx, req.UserID)
			if err != nil {
				return nil, err
			}
			snap, err := s.repo.Snapshot(ctx, req.UserID)
			if err != nil {
				return nil, err
			}
			c = requesterState{who: who, view: entitlements.AccessControlOf(snap)}
			byUser[req.UserID] = c
		}
		view := pendingView(req, c.who)
		other := c.view
		view.OtherFeatures = &other
		out = append(out, view)
	}
	return out, nil
}

// Decide approves or rejects a pending request. A non-empty key makes the
// call idempotent: replaying it fails with shared.ErrIdempotencyConflict.
func (s *Service) Decide(ctx context.Context, actor shared.Principal, in DecisionRequest, key string) (PendingRequest, error) {
	decision, err := access.ParseDecision(in.RequestDecision)
	if err != nil {
		return PendingRequest{}, err
	}
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.DecisionLockKey(in.ID))
		if err != nil {
			return PendingRequest{}, err
		}
		defer release()
	}
	now := s.now().UTC()
	var (
		view    PendingRequest
		outcome access.DecisionOutcome
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if key != "" {
			if err := tx.ClaimKey(ctx, key); err != nil {
				return err
			}
		}
		req, err := tx.LockRequest(ctx, in.ID)
		if err != nil {
			return err
		}
		if in.Version != 0 && in.Version != req.Version {
			return fmt.Errorf("%w: access request %d is at version %d", db.ErrConflict, req.ID, req.Version)
		}
		snap, err := entitlements.LoadSnapshot(ctx, tx, req.UserID, true)
		if err != nil {
			return err
		}
		if !actor.CanManageTeam(snap.User.TeamID) {
			return fmt.Errorf("%w: request %d", access.ErrForbidden, req.ID)
		}
		if actor.UserID == req.UserID && actor.Role != shared.RolePlatformAdmin {
			return fmt.Errorf("%w: cannot decide your own request", access.ErrForbidden)
		}
		if err := requireActiveTeam(ctx, tx, snap.User.TeamID); err != nil {
			return err
		}
		outcome, err = access.DecideRequest(req, decision, snap, actor.Label(), now)
		if err != nil {
			return err
		}
		if err := entitlements.Apply(ctx, tx, req.UserID, outcome.Mode, outcome.ModeChanged, outcome.UserEntries, now); err != nil {
			return err
		}
		if err := tx.SaveStatus(ctx, outcome.Request, req.Version); err != nil {
			return err
		}
		outcome.Request.Version = req.Version + 1
		action := shared.ApprovalApprove
		if decision == access.DecisionRejected {
			action = shared.ApprovalReject
		}
		if err := tx.RecordApproval(ctx, shared.ApprovalLog{Module: shared.ModuleAccessRequest, RefID: req.ID, ActorID: actor.UserID, Action: action, At: now}); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, shared.EntriesFromFacts([]access.Fact{outcome.Fact}, actor.Label(), now)...); err != nil {
			return err
		}
		who, err := tx.Requester(ctx, req.UserID)
		if err != nil {
			return err
		}
		view = pendingView(outcome.Request, who)
		return nil
	})
	if err != nil {
		return PendingRequest{}, err
	}
	s.logger.Info("access request decided",
		slog.Int64("request_id", view.ID),
		slog.String("decision", decision.String()),
		slog.String("actor", actor.Label()))
	s.notify(ctx, view.Email, fmt.Sprintf("Your %s request for %s was %s", view.RequestType, view.FeatureName, decision),
		fmt.Sprintf("Hello %s,\n\n%s.\n", view.Name, outcome.Fact.Description))
	return view, nil
}

// Dashboard returns userID's effective access per feature with any pending
// request attached.
func (s *Service) Dashboard(ctx context.Context, actor shared.Principal, userID int64) ([]DashboardAccess, error) {
	snap, err := s.repo.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != userID && !actor.CanManageTeam(snap.User.TeamID) {
		return nil, fmt.Errorf("%w: user %d", access.ErrForbidden, userID)
	}
	pending, err := s.repo.PendingForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	byFeature := make(map[int64]access.AccessRequest, len(pending))
	for _, req := range pending {
		byFeature[req.FeatureID] = req
	}
	var who Requester
	if len(pending) > 0 {
		if who, err = s.repo.Requester(ctx, userID); err != nil {
			return nil, err
		}
	}
	lines := entitlements.Resolve(snap)
	out := make([]DashboardAccess, 0, len(lines))
	for _, line := range lines {
		item := DashboardAccess{
			UserID:          userID,
			FeatureID:       line.FeatureID,
			FeatureName:     line.FeatureName,
			HasAccess:       line.HasAccess,
			LastUpdatedDate: line.UpdatedAt,
		}
		if req, ok := byFeature[line.FeatureID]; ok {
			view := pendingView(req, who)
			item.PendingRequestDTO = &view
		}
		out = append(out, item)
	}
	return out, nil
}

// History returns a request together with its approval trail. Only the
// requester and admins of the requester's team may read it.
func (s *Service) History(ctx context.Context, actor shared.Principal, requestID int64) (RequestHistory, error) {
	req, err := s.repo.Request(ctx, requestID)
	if err != nil {
		return RequestHistory{}, err
	}
	who, err := s.repo.Requester(ctx, req.UserID)
	if err != nil {
		return RequestHistory{}, err
	}
	if actor.UserID != req.UserID && !actor.CanManageTeam(who.TeamID) {
		return RequestHistory{}, fmt.Errorf("%w: request %d", access.ErrForbidden, requestID)
	}
	trail, err := s.repo.History(ctx, requestID)
	if err != nil {
		return RequestHistory{}, err
	}
	if trail == nil {
		trail = []shared.ApprovalLog{}
	}
	return RequestHistory{Request: pendingView(req, who), Approvals: trail}, nil
}

func requireActiveTeam(ctx context.Context, tx TxRepository, teamID int64) error {
	active, err := tx.TeamActive(ctx, teamID)
	if err != nil {
		return err
	}
	if !active {
		return fmt.Errorf("%w: team %d", ErrTeamInactive, teamID)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, to, subject, body string) {
	if s.mailer == nil || to == "" {
		return
	}
	if err := s.mailer.SendMail(ctx, to, subject, body); err != nil {
		s.logger.Warn("queue mail failed", slog.String("to", to), slog.Any("error", err))
	}
}
