package teams

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
	"github.com/teamaccess/team-access-manager/internal/users"
)

// Repository describes team persistence.
type Repository interface {
	// List returns active teams with members; teamID zero lists every team.
	List(ctx context.Context, teamID int64) ([]Team, error)
	Get(ctx context.Context, teamID int64) (Team, error)
	TeamEntries(ctx context.Context, teamID int64) ([]access.TeamAccessEntry, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional team writes alongside the access tables.
type TxRepository interface {
	entitlements.Store
	CreateTeam(ctx context.Context, name string) (Team, error)
	SeedTeam(ctx context.Context, teamID int64, granted []int64) error
	LockTeam(ctx context.Context, teamID int64) (Team, error)
	Deactivate(ctx context.Context, teamID int64) error
	MemberIDs(ctx context.Context, teamID int64) ([]int64, error)
	// CancelPending closes every pending request raised by a member of teamID.
	CancelPending(ctx context.Context, teamID int64, actor string, at time.Time) ([]CancelledRequest, error)
	RecordAudit(ctx context.Context, entries ...shared.AuditEntry) error
}

// PGRepository implements Repository with PostgreSQL.
type PGRepository struct {
	pool    *pgxpool.Pool
	queries *entitlements.Queries
	audit   *shared.AuditLogger
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool, audit *shared.AuditLogger) *PGRepository {
	return &PGRepository{pool: pool, queries: entitlements.New(pool), audit: audit}
}

// List returns active teams ordered by name, each with its members.
func (r *PGRepository) List(ctx context.Context, teamID int64) ([]Team, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, active FROM teams
WHERE active AND ($1 = 0 OR id = $1)
ORDER BY name`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	teams := []Team{}
	index := map[int64]int{}
	ids := []int64{}
	for rows.Next() {
		var t Team
		if err := rows.Scan(&t.ID, &t.Name, &t.Active); err != nil {
			return nil, err
		}
		t.UserList = []users.User{}
		index[t.ID] = len(teams)
		ids = append(ids, t.ID)
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return teams, nil
	}
	members, err := r.pool.Query(ctx, users.SelectUsers+` WHERE u.active AND u.team_id = ANY($1::bigint[]) ORDER BY u.name`, ids)
	if err != nil {
		return nil, err
	}
	defer members.Close()
	for members.Next() {
		u, err := users.ScanUser(members)
		if err != nil {
			return nil, err
		}
		if i, ok := index[u.TeamID]; ok {
			teams[i].UserList = append(teams[i].UserList, u)
		}
	}
	return teams, members.Err()
}

// Get returns one team without members.
func (r *PGRepository) Get(ctx context.Context, teamID int64) (Team, error) {
	return scanTeam(r.pool.QueryRow(ctx, `SELECT id, name, active FROM teams WHERE id = $1`, teamID), teamID)
}

// TeamEntries returns the defaults of teamID.
func (r *PGRepository) TeamEntries(ctx context.Context, teamID int64) ([]access.TeamAccessEntry, error) {
	return r.queries.TeamEntries(ctx, teamID)
}

// WithTx wraps fn in a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{Queries: r.queries.WithTx(tx), tx: tx, audit: r.audit})
	})
}

type txRepo struct {
	*entitlements.Queries
	tx    pgx.Tx
	audit *shared.AuditLogger
}

func (t *txRepo) CreateTeam(ctx context.Context, name string) (Team, error) {
	team := Team{Name: name, Active: true, UserList: []users.User{}}
	err := t.tx.QueryRow(ctx, `INSERT INTO teams (name) VALUES ($1) RETURNING id`, name).Scan(&team.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Team{}, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		return Team{}, err
	}
	return team, nil
}

func (t *txRepo) LockTeam(ctx context.Context, teamID int64) (Team, error) {
	return scanTeam(t.tx.QueryRow(ctx, `SELECT id, name, active FROM teams WHERE id = $1 FOR UPDATE`, teamID), teamID)
}

func (t *txRepo) Deactivate(ctx context.Context, teamID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE teams SET active = FALSE, updated_at = NOW() WHERE id = $1`, teamID)
	return err
}

func (t *txRepo) MemberIDs(ctx context.Context, teamID int64) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `SELECT id FROM users WHERE team_id = $1 AND active ORDER BY id`, teamID)
	if err != nil {
		return nil, err
	}
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

func (t *txRepo) CancelPending(ctx context.Context, teamID int64, actor string, at time.Time) ([]CancelledRequest, error) {
	rows, err := t.tx.Query(ctx, `UPDATE access_requests r
SET request_status = 'CANCELLED', decided_by = $2, decided_on = $3, version = r.version + 1
FROM users u
WHERE u.id = r.user_id AND u.team_id = $1 AND r.request_status = 'PENDING'
RETURNING r.id, r.user_id, r.feature_name`, teamID, actor, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CancelledRequest
	for rows.Next() {
		var c CancelledRequest
		if err := rows.Scan(&c.ID, &c.UserID, &c.FeatureName); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *txRepo) RecordAudit(ctx context.Context, entries ...shared.AuditEntry) error {
	return t.audit.RecordTx(ctx, t.tx, entries...)
}

func scanTeam(row pgx.Row, teamID int64) (Team, error) {
	var t Team
	if err := row.Scan(&t.ID, &t.Name, &t.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Team{}, fmt.Errorf("%w %d", ErrTeamNotFound, teamID)
		}
		return Team{}, err
	}
	return t, nil
}

var _ Repository = (*PGRepository)(nil)
