package features

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/entitlements"
	"github.com/teamaccess/team-access-manager/internal/platform/db"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// Repository describes catalog persistence.
type Repository interface {
	List(ctx context.Context) ([]Feature, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the writes a catalog change performs atomically.
type TxRepository interface {
	Create(ctx context.Context, name string) (Feature, error)
	Get(ctx context.Context, id int64) (Feature, error)
	Delete(ctx context.Context, id int64) error
	// SeedTeams adds a denied default for the feature to every team and
	// returns the team ids.
	SeedTeams(ctx context.Context, featureID int64) ([]int64, error)
	// CancelPending cancels open requests on the feature and returns the
	// affected requesters.
	CancelPending(ctx context.Context, featureID int64, actor string, at time.Time) ([]int64, error)
	TeamsWithFeature(ctx context.Context, featureID int64) ([]int64, error)
	RecordAudit(ctx context.Context, entries ...shared.AuditEntry) error
}

// PGRepository implements Repository with PostgreSQL.
type PGRepository struct {
	pool  *pgxpool.Pool
	audit *shared.AuditLogger
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool, audit *shared.AuditLogger) *PGRepository {
	return &PGRepository{pool: pool, audit: audit}
}

// List returns the catalog ordered by name.
func (r *PGRepository) List(ctx context.Context) ([]Feature, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM features ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	features := []Feature{}
	for rows.Next() {
		var f Feature
		if err := rows.Scan(&f.ID, &f.Name); err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

// WithTx wraps fn in a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, seeds: entitlements.New(tx), audit: r.audit})
	})
}

type txRepo struct {
	tx    pgx.Tx
	seeds *entitlements.Queries
	audit *shared.AuditLogger
}

func (t *txRepo) Create(ctx context.Context, name string) (Feature, error) {
	f := Feature{Name: name}
	err := t.tx.QueryRow(ctx, `INSERT INTO features (name) VALUES ($1) RETURNING id`, name).Scan(&f.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Feature{}, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		return Feature{}, err
	}
	return f, nil
}

func (t *txRepo) Get(ctx context.Context, id int64) (Feature, error) {
	var f Feature
	err := t.tx.QueryRow(ctx, `SELECT id, name FROM features WHERE id = $1 FOR UPDATE`, id).Scan(&f.ID, &f.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Feature{}, fmt.Errorf("feature %d: %w", id, access.ErrUnknownFeature)
		}
		return Feature{}, err
	}
	return f, nil
}

func (t *txRepo) Delete(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM features WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feature %d: %w", id, access.ErrUnknownFeature)
	}
	return nil
}

func (t *txRepo) SeedTeams(ctx context.Context, featureID int64) ([]int64, error) {
	return t.seeds.SeedFeature(ctx, featureID)
}

func (t *txRepo) CancelPending(ctx context.Context, featureID int64, actor string, at time.Time) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `UPDATE access_requests
SET request_status = 'CANCELLED', decided_by = $2, decided_on = $3, version = version + 1
WHERE feature_id = $1 AND request_status = 'PENDING'
RETURNING user_id`, featureID, actor, at)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

func (t *txRepo) TeamsWithFeature(ctx context.Context, featureID int64) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `SELECT team_id FROM team_access WHERE feature_id = $1 ORDER BY team_id`, featureID)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

func (t *txRepo) RecordAudit(ctx context.Context, entries ...shared.AuditEntry) error {
	return t.audit.RecordTx(ctx, t.tx, entries...)
}

func collectIDs(rows pgx.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
