package loginrequests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamaccess/team-access-manager/internal/platform/db"
	"github.com/teamaccess/team-access-manager/internal/shared"
	"github.com/teamaccess/team-access-manager/internal/users"
)

// Repository describes login request persistence.
type Repository interface {
	Create(ctx context.Context, req CreateRequest) (LoginRequest, error)
	ListPending(ctx context.Context) ([]LoginRequest, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the writes of a decision.
type TxRepository interface {
	Lock(ctx context.Context, requestID int64) (LoginRequest, error)
	ActiveTeam(ctx context.Context, teamID int64) (string, error)
	CreateUser(ctx context.Context, u users.NewUser) (int64, error)
	MarkDecided(ctx context.Context, requestID int64, status Status, userID int64, actor string, at time.Time) error
	RecordApproval(ctx context.Context, log shared.ApprovalLog) error
	RecordAudit(ctx context.Context, entries ...shared.AuditEntry) error
}

// PGRepository implements Repository with PostgreSQL.
type PGRepository struct {
	pool      *pgxpool.Pool
	audit     *shared.AuditLogger
	approvals *shared.ApprovalRecorder
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool, audit *shared.AuditLogger, approvals *shared.ApprovalRecorder) *PGRepository {
	return &PGRepository{pool: pool, audit: audit, approvals: approvals}
}

const selectRequests = `SELECT id, name, emp_id, email, role, team_name, status,
COALESCE(user_id, 0), decided_by, created_at FROM login_requests`

// Create stores a new pending application. An email that already belongs to
// an account or a pending application is rejected.
func (r *PGRepository) Create(ctx context.Context, req CreateRequest) (LoginRequest, error) {
	var taken bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = lower($1))`, req.Email).Scan(&taken); err != nil {
		return LoginRequest{}, err
	}
	if taken {
		return LoginRequest{}, fmt.Errorf("%w: %s", ErrDuplicateRequest, req.Email)
	}
	row := r.pool.QueryRow(ctx, `INSERT INTO login_requests (name, emp_id, email, role, team_name)
VALUES ($1, $2, lower($3), $4, $5)
RETURNING id, name, emp_id, email, role, team_name, status, 0::bigint, decided_by, created_at`,
		req.Name, req.EmpID, req.Email, req.Role, req.Team)
	out, err := scanRequest(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return LoginRequest{}, fmt.Errorf("%w: %s", ErrDuplicateRequest, req.Email)
		}
		return LoginRequest{}, err
	}
	return out, nil
}

// ListPending returns pending applications oldest first.
func (r *PGRepository) ListPending(ctx context.Context) ([]LoginRequest, error) {
	rows, err := r.pool.Query(ctx, selectRequests+` WHERE status = 'PENDING' ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []LoginRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// WithTx wraps fn in a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, repo: r})
	})
}

type txRepo struct {
	tx   pgx.Tx
	repo *PGRepository
}

func (t *txRepo) Lock(ctx context.Context, requestID int64) (LoginRequest, error) {
	req, err := scanRequest(t.tx.QueryRow(ctx, selectRequests+` WHERE id = $1 FOR UPDATE`, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return LoginRequest{}, fmt.Errorf("%w %d", ErrRequestNotFound, requestID)
	}
	return req, err
}

func (t *txRepo) ActiveTeam(ctx context.Context, teamID int64) (string, error) {
	var name string
	err := t.tx.QueryRow(ctx, `SELECT name FROM teams WHERE id = $1 AND active FOR SHARE`, teamID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %d", users.ErrTeamUnavailable, teamID)
	}
	return name, err
}

func (t *txRepo) CreateUser(ctx context.Context, u users.NewUser) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO users (name, emp_id, email, role, team_id, password_hash)
VALUES ($1, $2, lower($3), $4, $5, $6) RETURNING id`,
		u.Name, u.EmpID, u.Email, u.Role, u.TeamID, u.PasswordHash).Scan(&id)
	if db.IsUniqueViolation(err) {
		return 0, fmt.Errorf("%w: %s", users.ErrDuplicateUser, u.Email)
	}
	return id, err
}

func (t *txRepo) MarkDecided(ctx context.Context, requestID int64, status Status, userID int64, actor string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE login_requests
SET status = $2, user_id = NULLIF($3, 0), decided_by = $4, decided_at = $5
WHERE id = $1`, requestID, string(status), userID, actor, at)
	return err
}

func (t *txRepo) RecordApproval(ctx context.Context, log shared.ApprovalLog) error {
	return t.repo.approvals.RecordTx(ctx, t.tx, log)
}

func (t *txRepo) RecordAudit(ctx context.Context, entries ...shared.AuditEntry) error {
	return t.repo.audit.RecordTx(ctx, t.tx, entries...)
}

func scanRequest(row pgx.Row) (LoginRequest, error) {
	var (
		req    LoginRequest
		status string
	)
	if err := row.Scan(&req.ID, &req.Name, &req.EmpID, &req.Email, &req.Role, &req.Team, &status,
		&req.UserID, &req.DecidedBy, &req.CreatedDate); err != nil {
		return LoginRequest{}, err
	}
	req.Status = Status(status)
	return req, nil
}

var _ Repository = (*PGRepository)(nil)
