// Package audit reads the human-readable audit trail written by every
// access-changing operation.
package audit

import (
	"time"

	"github.com/teamaccess/team-access-manager/internal/shared"
)

// TimelineFilters selects audit rows for one team or one user.
type TimelineFilters struct {
	TeamID   int64
	UserID   int64
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// TimelineRow is one audit line.
type TimelineRow = shared.AuditEntry

// PagingInfo holds simple pagination metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	HasNext  bool `json:"hasNext"`
	PrevPage int  `json:"prevPage,omitempty"`
	NextPage int  `json:"nextPage,omitempty"`
}

// Result wraps timeline rows with paging information.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}
