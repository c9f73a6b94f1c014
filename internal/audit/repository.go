package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamaccess/team-access-manager/internal/access"
)

// PGRepository reads audit_logs from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectTimeline = `SELECT id, COALESCE(team_id, 0), COALESCE(user_id, 0), description, actor, occurred_at
FROM audit_logs
WHERE ($1::bigint IS NULL OR team_id = $1)
  AND ($2::bigint IS NULL OR user_id = $2)
  AND ($3::timestamptz IS NULL OR occurred_at >= $3)
  AND ($4::timestamptz IS NULL OR occurred_at < $4)
ORDER BY occurred_at DESC, id DESC`

// Window returns limit rows starting at offset.
func (r *PGRepository) Window(ctx context.Context, f TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, selectTimeline+` OFFSET $5 LIMIT $6`,
		optionalID(f.TeamID), optionalID(f.UserID), toPgTime(f.From), toPgTime(endOfDay(f.To)), offset, limit)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

// All returns every matching row.
func (r *PGRepository) All(ctx context.Context, f TimelineFilters) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, selectTimeline,
		optionalID(f.TeamID), optionalID(f.UserID), toPgTime(f.From), toPgTime(endOfDay(f.To)))
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

// UserTeam returns the team userID belongs to, or zero.
func (r *PGRepository) UserTeam(ctx context.Context, userID int64) (int64, error) {
	var teamID int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(team_id, 0) FROM users WHERE id = $1`, userID).Scan(&teamID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("user %d: %w", userID, access.ErrNotFound)
		}
		return 0, err
	}
	return teamID, nil
}

func scanRows(rows pgx.Rows) ([]TimelineRow, error) {
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		if err := rows.Scan(&row.ID, &row.TeamID, &row.UserID, &row.Description, &row.Actor, &row.At); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func optionalID(id int64) pgtype.Int8 {
	if id <= 0 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: id, Valid: true}
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

// endOfDay makes a date-only upper bound inclusive.
func endOfDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.AddDate(0, 0, 1)
}

var _ Repository = (*PGRepository)(nil)
