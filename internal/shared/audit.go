package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/platform/db"
)

// AuditEntry represents a record stored in audit_logs. TeamID or UserID may be
// zero when the change only concerns the other.
type AuditEntry struct {
	ID          int64     `json:"id"`
	TeamID      int64     `json:"teamId,omitempty"`
	UserID      int64     `json:"userId,omitempty"`
	Description string    `json:"auditDescription"`
	Actor       string    `json:"actor"`
	At          time.Time `json:"date"`
}

// EntriesFromFacts stamps resolver facts with the acting admin and time.
func EntriesFromFacts(facts []access.Fact, actor string, at time.Time) []AuditEntry {
	entries := make([]AuditEntry, 0, len(facts))
	for _, f := range facts {
		entries = append(entries, AuditEntry{
			TeamID:      f.TeamID,
			UserID:      f.UserID,
			Description: f.Description,
			Actor:       actor,
			At:          at,
		})
	}
	return entries
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists entries outside any caller transaction.
func (l *AuditLogger) Record(ctx context.Context, entries ...AuditEntry) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	return l.RecordTx(ctx, l.pool, entries...)
}

// RecordTx persists entries on q so they commit or roll back with the change
// they describe.
func (l *AuditLogger) RecordTx(ctx context.Context, q db.DBTX, entries ...AuditEntry) error {
	for _, e := range entries {
		if e.Description == "" || e.Actor == "" {
			return errors.New("audit entry requires description and actor")
		}
		if e.TeamID == 0 && e.UserID == 0 {
			return errors.New("audit entry requires team or user")
		}
		_, err := q.Exec(ctx, `INSERT INTO audit_logs (team_id, user_id, description, actor, occurred_at)
VALUES (NULLIF($1, 0), NULLIF($2, 0), $3, $4, COALESCE($5, NOW()))`,
			e.TeamID, e.UserID, e.Description, e.Actor, nullTime(e.At))
		if err != nil {
			return err
		}
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
