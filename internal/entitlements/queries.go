package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/platform/db"
)

// Queries implements Store over any pgx connection or transaction.
type Queries struct {
	db db.DBTX
}

// New constructs Queries bound to conn.
func New(conn db.DBTX) *Queries {
	return &Queries{db: conn}
}

// WithTx rebinds the queries to tx.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const selectUser = `SELECT id, name, COALESCE(team_id, 0), access_mode, active FROM users WHERE id = $1`

// GetUser loads the resolver view of a user.
func (q *Queries) GetUser(ctx context.Context, userID int64) (access.User, error) {
	return q.scanUser(q.db.QueryRow(ctx, selectUser, userID), userID)
}

// LockUser loads a user and holds its row lock until the transaction ends.
func (q *Queries) LockUser(ctx context.Context, userID int64) (access.User, error) {
	return q.scanUser(q.db.QueryRow(ctx, selectUser+` FOR UPDATE`, userID), userID)
}

func (q *Queries) scanUser(row pgx.Row, userID int64) (access.User, error) {
	var (
		u    access.User
		mode string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.TeamID, &mode, &u.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return access.User{}, fmt.Errorf("user %d: %w", userID, access.ErrNotFound)
		}
		return access.User{}, err
	}
	parsed, err := access.ParseAccessMode(mode)
	if err != nil {
		return access.User{}, err
	}
	u.AccessMode = parsed
	return u, nil
}

// TeamEntries returns one row per feature for teamID ordered by feature id.
func (q *Queries) TeamEntries(ctx context.Context, teamID int64) ([]access.TeamAccessEntry, error) {
	rows, err := q.db.Query(ctx, `SELECT ta.id, ta.team_id, t.name, ta.feature_id, f.name, ta.has_access, ta.updated_at
FROM team_access ta
JOIN teams t ON t.id = ta.team_id
JOIN features f ON f.id = ta.feature_id
WHERE ta.team_id = $1
ORDER BY ta.feature_id`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []access.TeamAccessEntry
	for rows.Next() {
		var e access.TeamAccessEntry
		if err := rows.Scan(&e.ID, &e.TeamID, &e.TeamName, &e.FeatureID, &e.FeatureName, &e.HasAccess, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UserEntries returns the stored override rows for userID.
func (q *Queries) UserEntries(ctx context.Context, userID int64) ([]access.UserAccessEntry, error) {
	rows, err := q.db.Query(ctx, `SELECT ua.id, ua.user_id, u.name, ua.feature_id, f.name, ua.has_access, ua.updated_at
FROM user_access ua
JOIN users u ON u.id = ua.user_id
JOIN features f ON f.id = ua.feature_id
WHERE ua.user_id = $1
ORDER BY ua.feature_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []access.UserAccessEntry
	for rows.Next() {
		var e access.UserAccessEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.UserName, &e.FeatureID, &e.FeatureName, &e.HasAccess, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SetAccessMode switches the authoritative table for userID.
func (q *Queries) SetAccessMode(ctx context.Context, userID int64, mode access.AccessMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %s", access.ErrInvalidMode, mode)
	}
	tag, err := q.db.Exec(ctx, `UPDATE users SET access_mode = $2, updated_at = NOW() WHERE id = $1`, userID, mode.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", userID, access.ErrNotFound)
	}
	return nil
}

// UpsertUserEntries writes override rows keyed by (user, feature).
func (q *Queries) UpsertUserEntries(ctx context.Context, entries []access.UserAccessEntry, at time.Time) error {
	for _, e := range entries {
		_, err := q.db.Exec(ctx, `INSERT INTO user_access (user_id, feature_id, has_access, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, feature_id) DO UPDATE SET has_access = EXCLUDED.has_access, updated_at = EXCLUDED.updated_at`,
			e.UserID, e.FeatureID, e.HasAccess, at)
		if err != nil {
			return fmt.Errorf("upsert user %d feature %d: %w", e.UserID, e.FeatureID, err)
		}
	}
	return nil
}

// UpdateTeamEntries writes new team defaults.
func (q *Queries) UpdateTeamEntries(ctx context.Context, entries []access.TeamAccessEntry, at time.Time) error {
	for _, e := range entries {
		tag, err := q.db.Exec(ctx, `UPDATE team_access SET has_access = $3, updated_at = $4
WHERE team_id = $1 AND feature_id = $2`, e.TeamID, e.FeatureID, e.HasAccess, at)
		if err != nil {
			return fmt.Errorf("update team %d feature %d: %w", e.TeamID, e.FeatureID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("team %d feature %d: %w", e.TeamID, e.FeatureID, access.ErrNotFound)
		}
	}
	return nil
}

// SeedTeam creates one default row per catalog feature for a new team.
// Features listed in granted start with access.
func (q *Queries) SeedTeam(ctx context.Context, teamID int64, granted []int64) error {
	if granted == nil {
		granted = []int64{}
	}
	_, err := q.db.Exec(ctx, `INSERT INTO team_access (team_id, feature_id, has_access)
SELECT $1, f.id, f.id = ANY($2::bigint[]) FROM features f
ON CONFLICT (team_id, feature_id) DO NOTHING`, teamID, granted)
	return err
}

// SeedFeature creates a denied default row for a new feature on every team and
// returns the ids of the teams it was added to.
func (q *Queries) SeedFeature(ctx context.Context, featureID int64) ([]int64, error) {
	rows, err := q.db.Query(ctx, `INSERT INTO team_access (team_id, feature_id, has_access)
SELECT t.id, $1, FALSE FROM teams t
ON CONFLICT (team_id, feature_id) DO NOTHING
RETURNING team_id`, featureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var teams []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		teams = append(teams, id)
	}
	return teams, rows.Err()
}

var _ Store = (*Queries)(nil)
