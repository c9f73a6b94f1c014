package entitlements

import (
	"sort"
	"time"

	"github.com/teamaccess/team-access-manager/internal/access"
)

// TeamAccessControl is the wire shape of a team default.
type TeamAccessControl struct {
	ID          int64  `json:"id"`
	TeamID      int64  `json:"teamId"`
	TeamName    string `json:"teamName"`
	FeatureID   int64  `json:"featureId"`
	FeatureName string `json:"featureName"`
	HasAccess   bool   `json:"hasAccess"`
}

// UserAccessControl is the wire shape of an override row.
type UserAccessControl struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"userId"`
	UserName    string `json:"userName"`
	FeatureID   int64  `json:"featureId"`
	FeatureName string `json:"featureName"`
	HasAccess   bool   `json:"hasAccess"`
}

// AccessControl pairs a user's team defaults with their overrides.
type AccessControl struct {
	TeamAccessControlDTOS []TeamAccessControl `json:"teamAccessControlDTOS"`
	UserAccessControlDTOS []UserAccessControl `json:"userAccessControlDTOS"`
}

// TeamViews converts team rows for transport.
func TeamViews(entries []access.TeamAccessEntry) []TeamAccessControl {
	out := make([]TeamAccessControl, 0, len(entries))
	for _, e := range entries {
		out = append(out, TeamAccessControl{
			ID:          e.ID,
			TeamID:      e.TeamID,
			TeamName:    e.TeamName,
			FeatureID:   e.FeatureID,
			FeatureName: e.FeatureName,
			HasAccess:   e.HasAccess,
		})
	}
	return out
}

// UserViews converts override rows for transport.
func UserViews(entries []access.UserAccessEntry) []UserAccessControl {
	out := make([]UserAccessControl, 0, len(entries))
	for _, e := range entries {
		out = append(out, UserAccessControl{
			ID:          e.ID,
			UserID:      e.UserID,
			UserName:    e.UserName,
			FeatureID:   e.FeatureID,
			FeatureName: e.FeatureName,
			HasAccess:   e.HasAccess,
		})
	}
	return out
}

// AccessControlOf renders a snapshot as both tables.
func AccessControlOf(snap access.Snapshot) AccessControl {
	return AccessControl{
		TeamAccessControlDTOS: TeamViews(snap.TeamEntries),
		UserAccessControlDTOS: UserViews(snap.UserEntries),
	}
}

// FeatureAccess is one line of a user's resolved access.
type FeatureAccess struct {
	FeatureID   int64
	FeatureName string
	HasAccess   bool
	UpdatedAt   time.Time
}

// Resolve lists the snapshot's effective access per feature, ordered by
// feature name. UpdatedAt comes from whichever table is authoritative.
func Resolve(snap access.Snapshot) []FeatureAccess {
	effective := snap.Effective()
	overrides := make(map[int64]access.UserAccessEntry, len(snap.UserEntries))
	for _, e := range snap.UserEntries {
		overrides[e.FeatureID] = e
	}
	out := make([]FeatureAccess, 0, len(snap.TeamEntries))
	for _, team := range snap.TeamEntries {
		line := FeatureAccess{
			FeatureID:   team.FeatureID,
			FeatureName: team.FeatureName,
			HasAccess:   effective[team.FeatureID],
			UpdatedAt:   team.UpdatedAt,
		}
		if snap.User.AccessMode == access.OverrideTeamAccess {
			if row, ok := overrides[team.FeatureID]; ok {
				line.UpdatedAt = row.UpdatedAt
			}
		}
		out = append(out, line)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FeatureName < out[j].FeatureName })
	return out
}
