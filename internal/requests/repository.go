package requests

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/entitlements"
	"github.com/teamaccess/team-access-manager/internal/platform/db"
	"github.com/teamaccess/team-access-manager/internal/shared"
	"github.com/teamaccess/team-access-manager/internal/users"
)

// Repository describes access request persistence.
type Repository interface {
	// ListPending returns pending requests oldest first; teamID zero lists
	// every team.
	ListPending(ctx context.Context, teamID int64) ([]access.AccessRequest, error)
	PendingForUser(ctx context.Context, userID int64) ([]access.AccessRequest, error)
	Requester(ctx context.Context, userID int64) (Requester, error)
	Snapshot(ctx context.Context, userID int64) (access.Snapshot, error)
	Request(ctx context.Context, requestID int64) (access.AccessRequest, error)
	// History returns the approval trail of requestID oldest first.
	History(ctx context.Context, requestID int64) ([]shared.ApprovalLog, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional request writes alongside the access tables.
type TxRepository interface {
	entitlements.Store
	LockRequest(ctx context.Context, requestID int64) (access.AccessRequest, error)
	LockPendingForUser(ctx context.Context, userID int64) ([]access.AccessRequest, error)
	Requester(ctx context.Context, userID int64) (Requester, error)
	Approvers(ctx context.Context, teamID int64) ([]string, error)
	// TeamActive share-locks the team row and reports whether it is active.
	// Users without a team report true.
	TeamActive(ctx context.Context, teamID int64) (bool, error)
	Insert(ctx context.Context, req access.AccessRequest) (access.AccessRequest, error)
	// SaveStatus persists a status change if the stored version still equals
	// version and bumps it.
	SaveStatus(ctx context.Context, req access.AccessRequest, version int64) error
	ClaimKey(ctx context.Context, key string) error
	RecordApproval(ctx context.Context, log shared.ApprovalLog) error
	RecordAudit(ctx context.Context, entries ...shared.AuditEntry) error
}

// PGRepository implements Repository with PostgreSQL.
type PGRepository struct {
	pool        *pgxpool.Pool
	queries     *entitlements.Queries
	audit       *shared.AuditLogger
	approvals   *shared.ApprovalRecorder
	idempotency *shared.IdempotencyStore
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool, audit *shared.AuditLogger, approvals *shared.ApprovalRecorder, idempotency *shared.IdempotencyStore) *PGRepository {
	return &PGRepository{pool: pool, queries: entitlements.New(pool), audit: audit, approvals: approvals, idempotency: idempotency}
}

const selectRequests = `SELECT r.id, r.user_id, COALESCE(r.feature_id, 0), r.feature_name, r.request_type,
r.request_status, r.requested_on, r.pending_with, r.decided_by, r.decided_on, r.version
FROM access_requests r`

// ListPending returns pending requests of active users.
func (r *PGRepository) ListPending(ctx context.Context, teamID int64) ([]access.AccessRequest, error) {
	return queryRequests(ctx, r.pool, selectRequests+` JOIN users u ON u.id = r.user_id
WHERE r.request_status = 'PENDING' AND u.active AND ($1 = 0 OR u.team_id = $1)
ORDER BY r.requested_on, r.id`, teamID)
}

// PendingForUser returns the pending requests of userID.
func (r *PGRepository) PendingForUser(ctx context.Context, userID int64) ([]access.AccessRequest, error) {
	return queryRequests(ctx, r.pool, selectRequests+` WHERE r.user_id = $1 AND r.request_status = 'PENDING' ORDER BY r.id`, userID)
}

// Requester returns the directory data of userID.
func (r *PGRepository) Requester(ctx context.Context, userID int64) (Requester, error) {
	return loadRequester(ctx, r.pool, userID)
}

// Snapshot reads the access state of userID.
func (r *PGRepository) Snapshot(ctx context.Context, userID int64) (access.Snapshot, error) {
	return entitlements.LoadSnapshot(ctx, r.queries, userID, false)
}

// Request loads a single request.
func (r *PGRepository) Request(ctx context.Context, requestID int64) (access.AccessRequest, error) {
	rows, err := queryRequests(ctx, r.pool, selectRequests+` WHERE r.id = $1`, requestID)
	if err != nil {
		return access.AccessRequest{}, err
	}
	if len(rows) == 0 {
		return access.AccessRequest{}, fmt.Errorf("%w %d", ErrRequestNotFound, requestID)
	}
	return rows[0], nil
}

// History returns the approval trail of requestID.
func (r *PGRepository) History(ctx context.Context, requestID int64) ([]shared.ApprovalLog, error) {
	return r.approvals.List(ctx, shared.ModuleAccessRequest, requestID)
}

// WithTx wraps fn in a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{Queries: r.queries.WithTx(tx), tx: tx, repo: r})
	})
}

type txRepo struct {
	*entitlements.Queries
	tx   pgx.Tx
	repo *PGRepository
}

func (t *txRepo) LockRequest(ctx context.Context, requestID int64) (access.AccessRequest, error) {
	rows, err := queryRequests(ctx, t.tx, selectRequests+` WHERE r.id = $1 FOR UPDATE`, requestID)
	if err != nil {
		return access.AccessRequest{}, err
	}
	if len(rows) == 0 {
		return access.AccessRequest{}, fmt.Errorf("%w %d", ErrRequestNotFound, requestID)
	}
	return rows[0], nil
}

func (t *txRepo) LockPendingForUser(ctx context.Context, userID int64) ([]access.AccessRequest, error) {
	return queryRequests(ctx, t.tx, selectRequests+` WHERE r.user_id = $1 AND r.request_status = 'PENDING' ORDER BY r.id FOR UPDATE`, userID)
}

func (t *txRepo) Requester(ctx context.Context, userID int64) (Requester, error) {
	return loadRequester(ctx, t.tx, userID)
}

func (t *txRepo) Approvers(ctx context.Context, teamID int64) ([]string, error) {
	rows, err := t.tx.Query(ctx, `SELECT name FROM users
WHERE active AND platform_role = 'TEAM_ADMIN' AND team_id = $1 ORDER BY name`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (t *txRepo) TeamActive(ctx context.Context, teamID int64) (bool, error) {
	if teamID == 0 {
		return true, nil
	}
	var active bool
	err := t.tx.QueryRow(ctx, `SELECT active FROM teams WHERE id = $1 FOR SHARE`, teamID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return active, err
}

func (t *txRepo) Insert(ctx context.Context, req access.AccessRequest) (access.AccessRequest, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO access_requests
(user_id, feature_id, feature_name, request_type, request_status, requested_on, pending_with)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, version`,
		req.UserID, req.FeatureID, req.FeatureName, req.Type.String(), req.Status.String(), req.RequestedOn, req.PendingWith,
	).Scan(&req.ID, &req.Version)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return access.AccessRequest{}, fmt.Errorf("%w: feature %d", access.ErrDuplicatePending, req.FeatureID)
		}
		return access.AccessRequest{}, err
	}
	return req, nil
}

func (t *txRepo) SaveStatus(ctx context.Context, req access.AccessRequest, version int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE access_requests
SET request_status = $2, decided_by = $3, decided_on = $4, version = version + 1
WHERE id = $1 AND version = $5`, req.ID, req.Status.String(), req.DecidedBy, req.DecidedOn, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: access request %d changed", db.ErrConflict, req.ID)
	}
	return nil
}

func (t *txRepo) ClaimKey(ctx context.Context, key string) error {
	return t.repo.idempotency.CheckAndInsertTx(ctx, t.tx, key, shared.ModuleAccessRequest)
}

func (t *txRepo) RecordApproval(ctx context.Context, log shared.ApprovalLog) error {
	return t.repo.approvals.RecordTx(ctx, t.tx, log)
}

func (t *txRepo) RecordAudit(ctx context.Context, entries ...shared.AuditEntry) error {
	return t.repo.audit.RecordTx(ctx, t.tx, entries...)
}

func queryRequests(ctx context.Context, q db.DBTX, query string, args ...any) ([]access.AccessRequest, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []access.AccessRequest{}
	for rows.Next() {
		var (
			req         access.AccessRequest
			typ, status string
		)
		if err := rows.Scan(&req.ID, &req.UserID, &req.FeatureID, &req.FeatureName, &typ, &status,
			&req.RequestedOn, &req.PendingWith, &req.DecidedBy, &req.DecidedOn, &req.Version); err != nil {
			return nil, err
		}
		if req.Type, err = access.ParseRequestType(typ); err != nil {
			return nil, err
		}
		if req.Status, err = access.ParseRequestStatus(status); err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func loadRequester(ctx context.Context, q db.DBTX, userID int64) (Requester, error) {
	u, err := users.ScanUser(q.QueryRow(ctx, users.SelectUsers+` WHERE u.id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Requester{}, fmt.Errorf("%w %d", users.ErrUserNotFound, userID)
	}
	if err != nil {
		return Requester{}, err
	}
	return Requester{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		TeamID:     u.TeamID,
		TeamName:   u.TeamName,
		AccessMode: u.AccessMode,
	}, nil
}

func joinApprovers(names []string) string {
	if len(names) == 0 {
		return "Platform Admin"
	}
	return strings.Join(names, ", ")
}

var _ Repository = (*PGRepository)(nil)
