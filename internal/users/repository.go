package users

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

// ErrUserNotFound indicates the user does not exist.
var ErrUserNotFound = fmt.Errorf("%w: user", access.ErrNotFound)

// SelectUsers is the column list ScanUser expects. Callers append their own
// WHERE and ORDER BY clauses against the aliases u and t.
const SelectUsers = `SELECT u.id, u.name, u.emp_id, u.email, u.role, u.platform_role,
COALESCE(u.team_id, 0), COALESCE(t.name, ''), u.access_mode, u.active
FROM users u LEFT JOIN teams t ON t.id = u.team_id`

// ScanUser reads one row selected with SelectUsers.
func ScanUser(row pgx.Row) (User, error) {
	var (
		u    User
		role string
		mode string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.EmpID, &u.Email, &u.Role, &role, &u.TeamID, &u.TeamName, &mode, &u.Active); err != nil {
		return User{}, err
	}
	u.PlatformRole = shared.PlatformRole(role)
	parsed, err := access.ParseAccessMode(mode)
	if err != nil {
		return User{}, err
	}
	u.AccessMode = parsed
	return u, nil
}

// NewUser carries the columns of an account being created.
type NewUser struct {
	Name         string
	EmpID        string
	Email        string
	Role         string
	TeamID       int64
	PasswordHash string
}

// Repository describes user persistence.
type Repository interface {
	// List returns active users; teamID zero lists every team.
	List(ctx context.Context, teamID int64) ([]User, error)
	Get(ctx context.Context, userID int64) (User, error)
	Snapshot(ctx context.Context, userID int64) (access.Snapshot, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional user writes alongside the access tables.
type TxRepository interface {
	entitlements.Store
	Create(ctx context.Context, u NewUser) (User, error)
	LockProfile(ctx context.Context, userID int64) (User, error)
	Update(ctx context.Context, req UpdateUserRequest) error
	ActiveTeam(ctx context.Context, teamID int64) (string, error)
	Deactivate(ctx context.Context, userID int64) error
	CancelPending(ctx context.Context, userID int64, actor string, at time.Time) (int64, error)
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

// List returns active users ordered by name.
func (r *PGRepository) List(ctx context.Context, teamID int64) ([]User, error) {
	rows, err := r.pool.Query(ctx, SelectUsers+` WHERE u.active AND ($1 = 0 OR u.team_id = $1) ORDER BY u.name`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []User{}
	for rows.Next() {
		u, err := ScanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Get returns one user, active or not.
func (r *PGRepository) Get(ctx context.Context, userID int64) (User, error) {
	return getUser(ctx, r.pool, SelectUsers+` WHERE u.id = $1`, userID)
}

// Snapshot reads the access state of userID.
func (r *PGRepository) Snapshot(ctx context.Context, userID int64) (access.Snapshot, error) {
	return entitlements.LoadSnapshot(ctx, r.queries, userID, false)
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

func (t *txRepo) Create(ctx context.Context, u NewUser) (User, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO users (name, emp_id, email, role, team_id, password_hash)
VALUES ($1, $2, lower($3), $4, $5, $6) RETURNING id`,
		u.Name, u.EmpID, u.Email, u.Role, u.TeamID, u.PasswordHash).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return User{}, fmt.Errorf("%w: %s", ErrDuplicateUser, u.Email)
		}
		return User{}, err
	}
	return getUser(ctx, t.tx, SelectUsers+` WHERE u.id = $1`, id)
}

func (t *txRepo) LockProfile(ctx context.Context, userID int64) (User, error) {
	return getUser(ctx, t.tx, SelectUsers+` WHERE u.id = $1 FOR UPDATE OF u`, userID)
}

func (t *txRepo) Update(ctx context.Context, req UpdateUserRequest) error {
	_, err := t.tx.Exec(ctx, `UPDATE users SET name = $2, email = lower($3), role = $4, team_id = $5, updated_at = NOW()
WHERE id = $1`, req.ID, req.Name, req.Email, req.Role, req.TeamID)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateUser, req.Email)
	}
	return err
}

func (t *txRepo) ActiveTeam(ctx context.Context, teamID int64) (string, error) {
	var name string
	err := t.tx.QueryRow(ctx, `SELECT name FROM teams WHERE id = $1 AND active FOR SHARE`, teamID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %d", ErrTeamUnavailable, teamID)
	}
	return name, err
}

func (t *txRepo) Deactivate(ctx context.Context, userID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE users SET active = FALSE, updated_at = NOW() WHERE id = $1`, userID)
	return err
}

func (t *txRepo) CancelPending(ctx context.Context, userID int64, actor string, at time.Time) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE access_requests
SET request_status = 'CANCELLED', decided_by = $2, decided_on = $3, version = version + 1
WHERE user_id = $1 AND request_status = 'PENDING'`, userID, actor, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) RecordAudit(ctx context.Context, entries ...shared.AuditEntry) error {
	return t.audit.RecordTx(ctx, t.tx, entries...)
}

func getUser(ctx context.Context, q db.DBTX, query string, userID int64) (User, error) {
	u, err := ScanUser(q.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("%w %d", ErrUserNotFound, userID)
	}
	return u, err
}

var _ Repository = (*PGRepository)(nil)
