// Package entitlements persists team defaults, per-user overrides and access
// modes, and loads the consistent snapshots the access resolver works on.
package entitlements

import (
	"context"
	"fmt"
	"time"

	"github.com/teamaccess/team-access-manager/internal/access"
)

// Store is the transactional view of the access tables shared by every
// service that changes a user's effective access.
type Store interface {
	GetUser(ctx context.Context, userID int64) (access.User, error)
	LockUser(ctx context.Context, userID int64) (access.User, error)
	TeamEntries(ctx context.Context, teamID int64) ([]access.TeamAccessEntry, error)
	UserEntries(ctx context.Context, userID int64) ([]access.UserAccessEntry, error)
	SetAccessMode(ctx context.Context, userID int64, mode access.AccessMode) error
	UpsertUserEntries(ctx context.Context, entries []access.UserAccessEntry, at time.Time) error
	UpdateTeamEntries(ctx context.Context, entries []access.TeamAccessEntry, at time.Time) error
}

// LoadSnapshot reads a user with their team defaults and overrides. With lock
// set the user row is locked for the rest of the transaction so concurrent
// mode changes on the same user serialise.
func LoadSnapshot(ctx context.Context, s Store, userID int64, lock bool) (access.Snapshot, error) {
	var (
		user access.User
		err  error
	)
	if lock {
		user, err = s.LockUser(ctx, userID)
	} else {
		user, err = s.GetUser(ctx, userID)
	}
	if err != nil {
		return access.Snapshot{}, err
	}
	team, err := s.TeamEntries(ctx, user.TeamID)
	if err != nil {
		return access.Snapshot{}, fmt.Errorf("team entries: %w", err)
	}
	overrides, err := s.UserEntries(ctx, userID)
	if err != nil {
		return access.Snapshot{}, fmt.Errorf("user entries: %w", err)
	}
	return access.Snapshot{User: user, TeamEntries: team, UserEntries: overrides}, nil
}

// Apply persists a mode and the override rows a resolver call produced.
func Apply(ctx context.Context, s Store, userID int64, mode access.AccessMode, modeChanged bool, entries []access.UserAccessEntry, at time.Time) error {
	if modeChanged {
		if err := s.SetAccessMode(ctx, userID, mode); err != nil {
			return fmt.Errorf("set access mode: %w", err)
		}
	}
	if len(entries) == 0 {
		return nil
	}
	if err := s.UpsertUserEntries(ctx, entries, at); err != nil {
		return fmt.Errorf("upsert overrides: %w", err)
	}
	return nil
}
