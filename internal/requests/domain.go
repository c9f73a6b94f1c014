// Package requests handles self-service access requests: users raise or
// withdraw them, team admins decide them.
package requests

import (
	"fmt"
	"time"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/entitlements"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// ErrRequestNotFound indicates the request does not exist.
var ErrRequestNotFound = fmt.Errorf("%w: access request", access.ErrNotFound)

// ErrTeamInactive rejects requests for members of a deleted team.
var ErrTeamInactive = fmt.Errorf("%w: team is inactive", access.ErrInvalidState)

// PendingRequest is the admin view of an access request. OtherFeatures holds
// the requester's access at read time so the decision can be made in context.
type PendingRequest struct {
	ID            int64                       `json:"id"`
	Version       int64                       `json:"version"`
	UserID        int64                       `json:"userId"`
	Name          string                      `json:"name"`
	Email         string                      `json:"email"`
	TeamID        int64                       `json:"teamId"`
	TeamName      string                      `json:"teamName"`
	AccessMode    access.AccessMode           `json:"accessMode"`
	FeatureID     int64                       `json:"featureId"`
	FeatureName   string                      `json:"featureName"`
	RequestType   access.RequestType          `json:"requestType"`
	RequestStatus access.RequestStatus        `json:"requestStatus"`
	RequestedOn   time.Time                   `json:"requestedOn"`
	PendingWith   string                      `json:"pendingWith"`
	DecidedBy     string                      `json:"decidedBy,omitempty"`
	DecidedOn     *time.Time                  `json:"decidedOn,omitempty"`
	OtherFeatures *entitlements.AccessControl `json:"otherFeatures,omitempty"`
}

// SubmitRequest is the payload of POST /user/access-request. A PENDING status
// opens a request; CANCELLED withdraws the request named by ID.
type SubmitRequest struct {
	ID            int64  `json:"id"`
	UserID        int64  `json:"userId" validate:"required,gt=0"`
	FeatureID     int64  `json:"featureId" validate:"required,gt=0"`
	FeatureName   string `json:"featureName"`
	RequestType   string `json:"requestType" validate:"required,oneof=GRANT REVOKE"`
	RequestStatus string `json:"requestStatus" validate:"required,oneof=PENDING CANCELLED"`
}

// DecisionRequest is the payload of POST /team/request-decision. The client
// echoes the pending record it was shown; only the fields below are read.
type DecisionRequest struct {
	ID              int64  `json:"id" validate:"required,gt=0"`
	Version         int64  `json:"version"`
	RequestDecision string `json:"requestDecision" validate:"required,oneof=APPROVED REJECTED"`
}

// DashboardAccess is one line of a user's dashboard.
type DashboardAccess struct {
	UserID            int64           `json:"userId"`
	FeatureID         int64           `json:"featureId"`
	FeatureName       string          `json:"featureName"`
	HasAccess         bool            `json:"hasAccess"`
	LastUpdatedDate   time.Time       `json:"lastUpdatedDate"`
	PendingRequestDTO *PendingRequest `json:"pendingRequestDTO,omitempty"`
}

// RequestHistory is a request with every approval step recorded against it.
type RequestHistory struct {
	Request   PendingRequest       `json:"request"`
	Approvals []shared.ApprovalLog `json:"approvals"`
}

// Requester is the directory data shown next to a request.
type Requester struct {
	ID         int64
	Name       string
	Email      string
	TeamID     int64
	TeamName   string
	AccessMode access.AccessMode
}

func pendingView(req access.AccessRequest, who Requester) PendingRequest {
	return PendingRequest{
		ID:            req.ID,
		Version:       req.Version,
		UserID:        req.UserID,
		Name:          who.Name,
		Email:         who.Email,
		TeamID:        who.TeamID,
		TeamName:      who.TeamName,
		AccessMode:    who.AccessMode,
		FeatureID:     req.FeatureID,
		FeatureName:   req.FeatureName,
		RequestType:   req.Type,
		RequestStatus: req.Status,
		RequestedOn:   req.RequestedOn,
		PendingWith:   req.PendingWith,
		DecidedBy:     req.DecidedBy,
		DecidedOn:     req.DecidedOn,
	}
}
