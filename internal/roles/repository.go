package roles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/platform/db"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// Repository persists role assignments.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the writes of one assignment.
type TxRepository interface {
	LockAccount(ctx context.Context, userID int64) (Assignment, error)
	SetRole(ctx context.Context, userID int64, role shared.PlatformRole) error
	RecordAudit(ctx context.Context, entries ...shared.AuditEntry) error
}

// PGRepository implements Repository with PostgreSQL.
type PGRepository struct {
	pool  *pgxpool.Pool
	audit *shared.AuditLogger
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, audit *shared.AuditLogger) *PGRepository {
	return &PGRepository{pool: pool, audit: audit}
}

// WithTx wraps fn in a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, audit: r.audit})
	})
}

type txRepo struct {
	tx    pgx.Tx
	audit *shared.AuditLogger
}

func (t *txRepo) LockAccount(ctx context.Context, userID int64) (Assignment, error) {
	var (
		a    Assignment
		role string
	)
	err := t.tx.QueryRow(ctx, `SELECT id, name, COALESCE(team_id, 0), platform_role FROM users
WHERE id = $1 AND active FOR UPDATE`, userID).Scan(&a.UserID, &a.Name, &a.TeamID, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, fmt.Errorf("%w: user %d", access.ErrNotFound, userID)
	}
	if err != nil {
		return Assignment{}, err
	}
	a.Previous = shared.PlatformRole(role)
	a.Role = a.Previous
	return a, nil
}

func (t *txRepo) SetRole(ctx context.Context, userID int64, role shared.PlatformRole) error {
	_, err := t.tx.Exec(ctx, `UPDATE users SET platform_role = $2, updated_at = $3 WHERE id = $1`, userID, string(role), time.Now())
	return err
}

func (t *txRepo) RecordAudit(ctx context.Context, entries ...shared.AuditEntry) error {
	return t.audit.RecordTx(ctx, t.tx, entries...)
}

var _ Repository = (*PGRepository)(nil)
