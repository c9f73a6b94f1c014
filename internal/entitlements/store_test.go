package entitlements_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/entitlements"
	"github.com/teamaccess/team-access-manager/internal/entitlements/entitlementstest"
)

func seeded() *entitlementstest.Memory {
	mem := entitlementstest.NewMemory()
	mem.PutUser(access.User{ID: 1, Name: "Ari", TeamID: 3, AccessMode: access.InheritTeamAccess, Active: true})
	mem.PutTeamEntry(access.TeamAccessEntry{TeamID: 3, FeatureID: 10, FeatureName: "Reports", HasAccess: true})
	mem.PutTeamEntry(access.TeamAccessEntry{TeamID: 3, FeatureID: 11, FeatureName: "Exports"})
	return mem
}

func TestLoadSnapshot(t *testing.T) {
	mem := seeded()
	mem.PutUserEntry(access.UserAccessEntry{UserID: 1, FeatureID: 11, HasAccess: true})

	snap, err := entitlements.LoadSnapshot(context.Background(), mem, 1, true)
	require.NoError(t, err)
	assert.Len(t, snap.TeamEntries, 2)
	assert.Len(t, snap.UserEntries, 1)
	assert.Equal(t, map[int64]bool{10: true, 11: false}, snap.Effective())

	_, err = entitlements.LoadSnapshot(context.Background(), mem, 99, false)
	assert.True(t, errors.Is(err, access.ErrNotFound))
}

func TestApplyWritesModeAndRows(t *testing.T) {
	mem := seeded()
	ctx := context.Background()
	snap, err := entitlements.LoadSnapshot(ctx, mem, 1, true)
	require.NoError(t, err)

	out, err := access.TransitionAccessMode(snap.User, access.OverrideTeamAccess, snap.TeamEntries, snap.UserEntries, map[int64]bool{11: true})
	require.NoError(t, err)
	require.NoError(t, entitlements.Apply(ctx, mem, 1, out.Mode, out.ModeChanged, out.UserEntries, time.Now()))

	assert.Equal(t, access.OverrideTeamAccess, mem.User(1).AccessMode)
	assert.Equal(t, map[int64]bool{10: false, 11: true}, mem.Effective(1))
}

func TestResolveUsesAuthoritativeTimestamps(t *testing.T) {
	teamAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	userAt := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	snap := access.Snapshot{
		User: access.User{ID: 1, TeamID: 3, AccessMode: access.OverrideTeamAccess},
		TeamEntries: []access.TeamAccessEntry{
			{TeamID: 3, FeatureID: 10, FeatureName: "Reports", HasAccess: true, UpdatedAt: teamAt},
			{TeamID: 3, FeatureID: 11, FeatureName: "Exports", UpdatedAt: teamAt},
		},
		UserEntries: []access.UserAccessEntry{
			{UserID: 1, FeatureID: 11, HasAccess: true, UpdatedAt: userAt},
		},
	}

	lines := entitlements.Resolve(snap)
	require.Len(t, lines, 2)
	assert.Equal(t, "Exports", lines[0].FeatureName)
	assert.True(t, lines[0].HasAccess)
	assert.Equal(t, userAt, lines[0].UpdatedAt)
	assert.False(t, lines[1].HasAccess, "override mode never falls back to the team default")
	assert.Equal(t, teamAt, lines[1].UpdatedAt)

	views := entitlements.AccessControlOf(snap)
	assert.Len(t, views.TeamAccessControlDTOS, 2)
	assert.Len(t, views.UserAccessControlDTOS, 1)
}
