package access

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// EffectiveAccess resolves the access actually enforced for user on every
// feature present in teamEntries.
//
// Inheriting users mirror the team defaults and their override rows are
// ignored even when present. Overriding users read their own rows and any
// feature without a row is denied; the team default is never consulted.
func EffectiveAccess(user User, teamEntries []TeamAccessEntry, userEntries []UserAccessEntry) map[int64]bool {
	result := make(map[int64]bool, len(teamEntries))
	if user.AccessMode != OverrideTeamAccess {
		for _, entry := range teamEntries {
			result[entry.FeatureID] = entry.HasAccess
		}
		return result
	}

	overrides := overrideIndex(userEntries)
	for _, entry := range teamEntries {
		result[entry.FeatureID] = overrides[entry.FeatureID]
	}
	return result
}

// ModeTransition describes the writes a mode change produces. UserEntries holds
// only the rows whose stored value differs from the desired one.
type ModeTransition struct {
	Mode        AccessMode
	ModeChanged bool
	UserEntries []UserAccessEntry
	Facts       []Fact
}

// TransitionAccessMode validates a mode change for user and derives the rows
// and audit facts it produces.
//
// choices carries optional per-feature values collected with the change. They
// seed the override set on INHERIT to OVERRIDE, are applied as toggles when the
// user already overrides, and are ignored when the target mode is INHERIT.
func TransitionAccessMode(user User, newMode AccessMode, teamEntries []TeamAccessEntry, userEntries []UserAccessEntry, choices map[int64]bool) (ModeTransition, error) {
	if !newMode.Valid() {
		return ModeTransition{}, fmt.Errorf("%w: %s", ErrInvalidMode, newMode)
	}
	names := featureNames(teamEntries)
	if err := checkChoices(names, choices); err != nil {
		return ModeTransition{}, err
	}

	current := user.AccessMode
	out := ModeTransition{Mode: newMode, ModeChanged: current != newMode}

	switch {
	case newMode == InheritTeamAccess:
		if out.ModeChanged {
			out.Facts = append(out.Facts, modeFact(user, current, newMode))
		}
	case out.ModeChanged:
		desired := make(map[int64]bool, len(teamEntries))
		for _, entry := range teamEntries {
			desired[entry.FeatureID] = choices[entry.FeatureID]
		}
		out.UserEntries = pendingWrites(user, teamEntries, userEntries, desired)
		out.Facts = append(out.Facts, modeFact(user, current, newMode))
	default:
		effective := EffectiveAccess(user, teamEntries, userEntries)
		desired := make(map[int64]bool, len(effective))
		for id, granted := range effective {
			desired[id] = granted
		}
		for _, id := range sortedKeys(choices) {
			if effective[id] == choices[id] {
				continue
			}
			desired[id] = choices[id]
			out.Facts = append(out.Facts, Fact{
				TeamID: user.TeamID,
				UserID: user.ID,
				Description: fmt.Sprintf("Access to %s changed from %s to %s",
					names[id], accessLabel(effective[id]), accessLabel(choices[id])),
			})
		}
		out.UserEntries = pendingWrites(user, teamEntries, userEntries, desired)
	}
	return out, nil
}

// DecisionOutcome is the result of deciding a pending request.
type DecisionOutcome struct {
	Request     AccessRequest
	Mode        AccessMode
	ModeChanged bool
	UserEntries []UserAccessEntry
	Effective   map[int64]bool
	Fact        Fact
}

// DecideRequest applies an admin decision to a pending request.
//
// An approval moves an inheriting user into override mode. Every feature keeps
// its prior effective value except the requested one, so approving a grant
// never silently revokes access the user already had. A rejection changes
// nothing but the request.
func DecideRequest(req AccessRequest, decision Decision, snap Snapshot, decidedBy string, at time.Time) (DecisionOutcome, error) {
	if !decision.Valid() {
		return DecisionOutcome{}, fmt.Errorf("%w: %s", ErrInvalidDecision, decision)
	}
	if !req.Pending() {
		return DecisionOutcome{}, fmt.Errorf("%w: request %d is %s", ErrRequestNotPending, req.ID, req.Status)
	}
	if req.UserID != snap.User.ID {
		return DecisionOutcome{}, fmt.Errorf("%w: request %d does not belong to user %d", ErrInvalidState, req.ID, snap.User.ID)
	}
	names := featureNames(snap.TeamEntries)
	featureName, ok := names[req.FeatureID]
	if !ok {
		return DecisionOutcome{}, fmt.Errorf("%w: %d", ErrUnknownFeature, req.FeatureID)
	}
	if req.FeatureName == "" {
		req.FeatureName = featureName
	}

	prior := snap.Effective()
	decided := at.UTC()
	req.Status = decision.Status()
	req.DecidedBy = decidedBy
	req.DecidedOn = &decided

	out := DecisionOutcome{
		Request:   req,
		Mode:      snap.User.AccessMode,
		Effective: prior,
	}
	subject := fmt.Sprintf("%s request for %s", humanize(req.Type.String()), featureName)

	if decision == DecisionRejected {
		out.Fact = Fact{
			TeamID:      snap.User.TeamID,
			UserID:      snap.User.ID,
			Description: fmt.Sprintf("%s rejected by %s; no change", subject, decidedBy),
		}
		return out, nil
	}

	desired := make(map[int64]bool, len(prior))
	for id, granted := range prior {
		desired[id] = granted
	}
	desired[req.FeatureID] = req.Type.Grants()

	out.Mode = OverrideTeamAccess
	out.ModeChanged = snap.User.AccessMode != OverrideTeamAccess
	out.UserEntries = pendingWrites(snap.User, snap.TeamEntries, snap.UserEntries, desired)
	out.Effective = desired

	parts := []string{fmt.Sprintf("%s approved by %s", subject, decidedBy)}
	if out.ModeChanged {
		parts = append(parts, fmt.Sprintf("access mode changed from %s to %s",
			snap.User.AccessMode.Label(), OverrideTeamAccess.Label()))
	}
	if prior[req.FeatureID] == desired[req.FeatureID] {
		parts = append(parts, fmt.Sprintf("%s already %s", featureName, accessLabel(desired[req.FeatureID])))
	} else {
		parts = append(parts, fmt.Sprintf("%s changed from %s to %s", featureName,
			accessLabel(prior[req.FeatureID]), accessLabel(desired[req.FeatureID])))
	}
	out.Fact = Fact{
		TeamID:      snap.User.TeamID,
		UserID:      snap.User.ID,
		Description: strings.Join(parts, "; "),
	}
	return out, nil
}

// Cancellation is the result of a cancel attempt. Changed is false when the
// request was already cancelled and nothing needs to be written.
type Cancellation struct {
	Request AccessRequest
	Changed bool
	Fact    Fact
}

// CancelRequest withdraws a pending request on behalf of its owner.
// Cancelling an already cancelled request is a no-op.
func CancelRequest(req AccessRequest, requester User) (Cancellation, error) {
	if requester.ID != req.UserID {
		return Cancellation{}, fmt.Errorf("%w: user %d on request %d", ErrNotRequester, requester.ID, req.ID)
	}
	if req.Status == StatusCancelled {
		return Cancellation{Request: req}, nil
	}
	if !req.Pending() {
		return Cancellation{}, fmt.Errorf("%w: request %d is %s", ErrRequestNotPending, req.ID, req.Status)
	}
	req.Status = StatusCancelled
	return Cancellation{
		Request: req,
		Changed: true,
		Fact: Fact{
			TeamID: requester.TeamID,
			UserID: requester.ID,
			Description: fmt.Sprintf("%s request for %s cancelled by requester",
				humanize(req.Type.String()), req.FeatureName),
		},
	}, nil
}

// OpenRequest validates a new access request for the snapshot's user.
//
// At most one request per user and feature may be pending, and a request must
// be able to change the user's effective access.
func OpenRequest(snap Snapshot, featureID int64, typ RequestType, pending []AccessRequest, pendingWith string, at time.Time) (AccessRequest, Fact, error) {
	if !typ.Valid() {
		return AccessRequest{}, Fact{}, fmt.Errorf("%w: request type %s", ErrInvalidState, typ)
	}
	if !snap.User.Active {
		return AccessRequest{}, Fact{}, fmt.Errorf("%w: %d", ErrInactiveUser, snap.User.ID)
	}
	name, ok := featureNames(snap.TeamEntries)[featureID]
	if !ok {
		return AccessRequest{}, Fact{}, fmt.Errorf("%w: %d", ErrUnknownFeature, featureID)
	}
	for _, existing := range pending {
		if existing.UserID == snap.User.ID && existing.FeatureID == featureID && existing.Pending() {
			return AccessRequest{}, Fact{}, fmt.Errorf("%w: request %d", ErrDuplicatePending, existing.ID)
		}
	}
	if snap.Effective()[featureID] == typ.Grants() {
		return AccessRequest{}, Fact{}, fmt.Errorf("%w: %s is already %s", ErrRedundantRequest, name, accessLabel(typ.Grants()))
	}

	req := AccessRequest{
		UserID:      snap.User.ID,
		FeatureID:   featureID,
		FeatureName: name,
		Type:        typ,
		Status:      StatusPending,
		RequestedOn: at.UTC(),
		PendingWith: pendingWith,
	}
	fact := Fact{
		TeamID:      snap.User.TeamID,
		UserID:      snap.User.ID,
		Description: fmt.Sprintf("%s request raised for %s", humanize(typ.String()), name),
	}
	return req, fact, nil
}

// TeamUpdate holds the team rows that actually change and one fact per row.
type TeamUpdate struct {
	Entries []TeamAccessEntry
	Facts   []Fact
}

// DiffTeamAccess compares requested team defaults with the stored ones.
// Rows whose value is unchanged are dropped.
func DiffTeamAccess(teamID int64, current []TeamAccessEntry, changes []TeamAccessEntry) (TeamUpdate, error) {
	stored := make(map[int64]TeamAccessEntry, len(current))
	for _, entry := range current {
		stored[entry.FeatureID] = entry
	}

	var out TeamUpdate
	seen := make(map[int64]struct{}, len(changes))
	for _, change := range changes {
		if change.TeamID != 0 && change.TeamID != teamID {
			return TeamUpdate{}, fmt.Errorf("%w: entry for team %d sent to team %d", ErrInvalidState, change.TeamID, teamID)
		}
		entry, ok := stored[change.FeatureID]
		if !ok {
			return TeamUpdate{}, fmt.Errorf("%w: %d", ErrUnknownFeature, change.FeatureID)
		}
		if _, dup := seen[change.FeatureID]; dup {
			return TeamUpdate{}, fmt.Errorf("%w: feature %d listed twice", ErrInvalidState, change.FeatureID)
		}
		seen[change.FeatureID] = struct{}{}
		if entry.HasAccess == change.HasAccess {
			continue
		}
		out.Facts = append(out.Facts, Fact{
			TeamID: teamID,
			Description: fmt.Sprintf("Team access to %s changed from %s to %s",
				entry.FeatureName, accessLabel(entry.HasAccess), accessLabel(change.HasAccess)),
		})
		entry.HasAccess = change.HasAccess
		out.Entries = append(out.Entries, entry)
	}
	return out, nil
}

// DenyAll returns choices that revoke every feature in teamEntries.
func DenyAll(teamEntries []TeamAccessEntry) map[int64]bool {
	choices := make(map[int64]bool, len(teamEntries))
	for _, entry := range teamEntries {
		choices[entry.FeatureID] = false
	}
	return choices
}

func modeFact(user User, from, to AccessMode) Fact {
	return Fact{
		TeamID:      user.TeamID,
		UserID:      user.ID,
		Description: fmt.Sprintf("Access mode changed from %s to %s", from.Label(), to.Label()),
	}
}

// pendingWrites returns one row per team feature whose stored override is
// missing or differs from desired.
func pendingWrites(user User, teamEntries []TeamAccessEntry, userEntries []UserAccessEntry, desired map[int64]bool) []UserAccessEntry {
	stored := make(map[int64]UserAccessEntry, len(userEntries))
	for _, entry := range userEntries {
		stored[entry.FeatureID] = entry
	}
	var writes []UserAccessEntry
	for _, team := range teamEntries {
		want := desired[team.FeatureID]
		if row, ok := stored[team.FeatureID]; ok && row.HasAccess == want {
			continue
		}
		row := stored[team.FeatureID]
		row.UserID = user.ID
		row.UserName = user.Name
		row.FeatureID = team.FeatureID
		row.FeatureName = team.FeatureName
		row.HasAccess = want
		writes = append(writes, row)
	}
	return writes
}

func overrideIndex(userEntries []UserAccessEntry) map[int64]bool {
	index := make(map[int64]bool, len(userEntries))
	for _, entry := range userEntries {
		index[entry.FeatureID] = entry.HasAccess
	}
	return index
}

func featureNames(teamEntries []TeamAccessEntry) map[int64]string {
	names := make(map[int64]string, len(teamEntries))
	for _, entry := range teamEntries {
		names[entry.FeatureID] = entry.FeatureName
	}
	return names
}

func checkChoices(names map[int64]string, choices map[int64]bool) error {
	for id := range choices {
		if _, ok := names[id]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownFeature, id)
		}
	}
	return nil
}

func sortedKeys(m map[int64]bool) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
