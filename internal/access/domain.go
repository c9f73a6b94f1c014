// Package access holds the effective-access resolution model: how a user's
// per-feature access is derived from team defaults and per-user overrides, and
// which data changes mode transitions and request decisions produce.
//
// Everything here is pure. Callers load a consistent snapshot, call the
// resolver, then persist the returned rows and audit facts in one transaction.
package access

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// AccessMode selects which table is authoritative for a user's access.
type AccessMode uint8

const (
	// InheritTeamAccess mirrors the team defaults exactly.
	InheritTeamAccess AccessMode = iota + 1
	// OverrideTeamAccess uses the user's own access rows.
	OverrideTeamAccess
)

var accessModeNames = map[AccessMode]string{
	InheritTeamAccess:  "INHERIT_TEAM_ACCESS",
	OverrideTeamAccess: "OVERRIDE_TEAM_ACCESS",
}

// ParseAccessMode converts the wire representation into an AccessMode.
func ParseAccessMode(raw string) (AccessMode, error) {
	for mode, name := range accessModeNames {
		if strings.EqualFold(strings.TrimSpace(raw), name) {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, raw)
}

// Valid reports whether m is one of the declared modes.
func (m AccessMode) Valid() bool {
	_, ok := accessModeNames[m]
	return ok
}

func (m AccessMode) String() string {
	if name, ok := accessModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("AccessMode(%d)", uint8(m))
}

// Label returns the short human name used in audit descriptions.
func (m AccessMode) Label() string {
	switch m {
	case InheritTeamAccess:
		return "Inherit"
	case OverrideTeamAccess:
		return "Override"
	}
	return m.String()
}

// MarshalText implements encoding.TextMarshaler.
func (m AccessMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, uint8(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *AccessMode) UnmarshalText(text []byte) error {
	parsed, err := ParseAccessMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// RequestType is the direction of an access request.
type RequestType uint8

const (
	// RequestGrant asks for a feature to be granted.
	RequestGrant RequestType = iota + 1
	// RequestRevoke asks for a feature to be revoked.
	RequestRevoke
)

var requestTypeNames = map[RequestType]string{
	RequestGrant:  "GRANT",
	RequestRevoke: "REVOKE",
}

// ParseRequestType converts the wire representation into a RequestType.
func ParseRequestType(raw string) (RequestType, error) {
	for t, name := range requestTypeNames {
		if strings.EqualFold(strings.TrimSpace(raw), name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: request type %q", ErrInvalidState, raw)
}

// Valid reports whether t is one of the declared request types.
func (t RequestType) Valid() bool {
	_, ok := requestTypeNames[t]
	return ok
}

func (t RequestType) String() string {
	if name, ok := requestTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("RequestType(%d)", uint8(t))
}

// Grants reports the access value an approved request of this type produces.
func (t RequestType) Grants() bool {
	return t == RequestGrant
}

// MarshalText implements encoding.TextMarshaler.
func (t RequestType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: request type %d", ErrInvalidState, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *RequestType) UnmarshalText(text []byte) error {
	parsed, err := ParseRequestType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// RequestStatus tracks the lifecycle of an access request.
//
// PENDING moves to exactly one of APPROVED, REJECTED or CANCELLED; all three
// are terminal.
type RequestStatus uint8

const (
	StatusPending RequestStatus = iota + 1
	StatusApproved
	StatusRejected
	StatusCancelled
)

var requestStatusNames = map[RequestStatus]string{
	StatusPending:   "PENDING",
	StatusApproved:  "APPROVED",
	StatusRejected:  "REJECTED",
	StatusCancelled: "CANCELLED",
}

// ParseRequestStatus converts the wire representation into a RequestStatus.
func ParseRequestStatus(raw string) (RequestStatus, error) {
	for s, name := range requestStatusNames {
		if strings.EqualFold(strings.TrimSpace(raw), name) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: request status %q", ErrInvalidState, raw)
}

// Valid reports whether s is one of the declared statuses.
func (s RequestStatus) Valid() bool {
	_, ok := requestStatusNames[s]
	return ok
}

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

func (s RequestStatus) String() string {
	if name, ok := requestStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RequestStatus(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s RequestStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: request status %d", ErrInvalidState, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *RequestStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseRequestStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Decision is an admin verdict on a pending request.
type Decision uint8

const (
	DecisionApproved Decision = iota + 1
	DecisionRejected
)

// ParseDecision converts the wire representation into a Decision.
func ParseDecision(raw string) (Decision, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "APPROVED":
		return DecisionApproved, nil
	case "REJECTED":
		return DecisionRejected, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDecision, raw)
}

// Valid reports whether d is one of the declared decisions.
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// Status returns the request status a decision moves a request into.
func (d Decision) Status() RequestStatus {
	switch d {
	case DecisionApproved:
		return StatusApproved
	case DecisionRejected:
		return StatusRejected
	}
	return 0
}

func (d Decision) String() string {
	if s := d.Status(); s.Valid() {
		return s.String()
	}
	return fmt.Sprintf("Decision(%d)", uint8(d))
}

// MarshalText implements encoding.TextMarshaler.
func (d Decision) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDecision, uint8(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Decision) UnmarshalText(text []byte) error {
	parsed, err := ParseDecision(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Feature is an immutable catalog entry.
type Feature struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TeamAccessEntry is the default grant of a feature for every member of a team
// who has not overridden it.
type TeamAccessEntry struct {
	ID          int64
	TeamID      int64
	TeamName    string
	FeatureID   int64
	FeatureName string
	HasAccess   bool
	UpdatedAt   time.Time
}

// UserAccessEntry is a per-user override row. It is only consulted while the
// user is in OverrideTeamAccess mode.
type UserAccessEntry struct {
	ID          int64
	UserID      int64
	UserName    string
	FeatureID   int64
	FeatureName string
	HasAccess   bool
	UpdatedAt   time.Time
}

// User is the slice of a directory user the resolver needs.
type User struct {
	ID         int64
	Name       string
	TeamID     int64
	AccessMode AccessMode
	Active     bool
}

// AccessRequest is a user's ask to change access on one feature.
type AccessRequest struct {
	ID          int64
	UserID      int64
	FeatureID   int64
	FeatureName string
	Type        RequestType
	Status      RequestStatus
	RequestedOn time.Time
	PendingWith string
	DecidedBy   string
	DecidedOn   *time.Time
	Version     int64
}

// Pending reports whether the request still awaits a decision.
func (r AccessRequest) Pending() bool {
	return r.Status == StatusPending
}

// Snapshot is a consistent read of everything that determines a user's access.
type Snapshot struct {
	User        User
	TeamEntries []TeamAccessEntry
	UserEntries []UserAccessEntry
}

// Effective resolves the snapshot's effective access.
func (s Snapshot) Effective() map[int64]bool {
	return EffectiveAccess(s.User, s.TeamEntries, s.UserEntries)
}

// Fact is a human-readable audit line produced by a state change. The caller
// adds actor and timestamp when persisting it.
type Fact struct {
	TeamID      int64
	UserID      int64
	Description string
}

var titleCaser = cases.Title(language.English)

// accessLabel renders an access boolean the way admins see it.
func accessLabel(granted bool) string {
	if granted {
		return "Granted"
	}
	return "Not Granted"
}

// humanize turns an enum name such as GRANT into "Grant".
func humanize(name string) string {
	return titleCaser.String(strings.ToLower(strings.ReplaceAll(name, "_", " ")))
}
