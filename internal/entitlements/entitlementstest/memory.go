// Package entitlementstest provides an in-memory entitlements.Store for
// service tests.
package entitlementstest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/entitlements"
)

// Memory is a map-backed Store. It is safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	users     map[int64]access.User
	team      map[int64]map[int64]access.TeamAccessEntry
	overrides map[int64]map[int64]access.UserAccessEntry
	nextID    int64

	// FailUpsert makes UpsertUserEntries return the error.
	FailUpsert error
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		users:     make(map[int64]access.User),
		team:      make(map[int64]map[int64]access.TeamAccessEntry),
		overrides: make(map[int64]map[int64]access.UserAccessEntry),
		nextID:    100,
	}
}

// PutUser stores or replaces a user.
func (m *Memory) PutUser(u access.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// PutTeamEntry stores or replaces a team default.
func (m *Memory) PutTeamEntry(e access.TeamAccessEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.team[e.TeamID] == nil {
		m.team[e.TeamID] = make(map[int64]access.TeamAccessEntry)
	}
	if e.ID == 0 {
		m.nextID++
		e.ID = m.nextID
	}
	m.team[e.TeamID][e.FeatureID] = e
}

// PutUserEntry stores or replaces an override row.
func (m *Memory) PutUserEntry(e access.UserAccessEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putUserEntryLocked(e, e.UpdatedAt)
}

// User returns the stored user.
func (m *Memory) User(id int64) access.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

// Effective resolves the stored state of userID.
func (m *Memory) Effective(userID int64) map[int64]bool {
	snap, err := entitlements.LoadSnapshot(context.Background(), m, userID, false)
	if err != nil {
		return nil
	}
	return snap.Effective()
}

// Snapshot returns a copy of everything stored, for before/after comparisons.
func (m *Memory) Snapshot() (map[int64]access.User, map[int64]map[int64]access.UserAccessEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make(map[int64]access.User, len(m.users))
	for k, v := range m.users {
		users[k] = v
	}
	overrides := make(map[int64]map[int64]access.UserAccessEntry, len(m.overrides))
	for uid, rows := range m.overrides {
		copied := make(map[int64]access.UserAccessEntry, len(rows))
		for fid, row := range rows {
			copied[fid] = row
		}
		overrides[uid] = copied
	}
	return users, overrides
}

func (m *Memory) GetUser(_ context.Context, userID int64) (access.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return access.User{}, fmt.Errorf("user %d: %w", userID, access.ErrNotFound)
	}
	return u, nil
}

func (m *Memory) LockUser(ctx context.Context, userID int64) (access.User, error) {
	return m.GetUser(ctx, userID)
}

func (m *Memory) TeamEntries(_ context.Context, teamID int64) ([]access.TeamAccessEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]access.TeamAccessEntry, 0, len(m.team[teamID]))
	for _, e := range m.team[teamID] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].FeatureID < entries[j].FeatureID })
	return entries, nil
}

func (m *Memory) UserEntries(_ context.Context, userID int64) ([]access.UserAccessEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]access.UserAccessEntry, 0, len(m.overrides[userID]))
	for _, e := range m.overrides[userID] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].FeatureID < entries[j].FeatureID })
	return entries, nil
}

func (m *Memory) SetAccessMode(_ context.Context, userID int64, mode access.AccessMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %d: %w", userID, access.ErrNotFound)
	}
	u.AccessMode = mode
	m.users[userID] = u
	return nil
}

func (m *Memory) UpsertUserEntries(_ context.Context, entries []access.UserAccessEntry, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpsert != nil {
		return m.FailUpsert
	}
	for _, e := range entries {
		m.putUserEntryLocked(e, at)
	}
	return nil
}

func (m *Memory) UpdateTeamEntries(_ context.Context, entries []access.TeamAccessEntry, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		stored, ok := m.team[e.TeamID][e.FeatureID]
		if !ok {
			return fmt.Errorf("team %d feature %d: %w", e.TeamID, e.FeatureID, access.ErrNotFound)
		}
		stored.HasAccess = e.HasAccess
		stored.UpdatedAt = at
		m.team[e.TeamID][e.FeatureID] = stored
	}
	return nil
}

func (m *Memory) putUserEntryLocked(e access.UserAccessEntry, at time.Time) {
	if m.overrides[e.UserID] == nil {
		m.overrides[e.UserID] = make(map[int64]access.UserAccessEntry)
	}
	if existing, ok := m.overrides[e.UserID][e.FeatureID]; ok {
		e.ID = existing.ID
	} else if e.ID == 0 {
		m.nextID++
		e.ID = m.nextID
	}
	e.UpdatedAt = at
	m.overrides[e.UserID][e.FeatureID] = e
}

var _ entitlements.Store = (*Memory)(nil)
