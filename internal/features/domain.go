// Package features manages the feature catalog every access grant refers to.
package features

import (
	"fmt"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// ErrDuplicateName indicates a feature with the same name exists.
var ErrDuplicateName = fmt.Errorf("features: name %w", shared.ErrDuplicate)

// Feature aliases the catalog entry shared with the resolver.
type Feature = access.Feature

// CreateFeatureRequest is the payload of POST /features.
type CreateFeatureRequest struct {
	Name string `json:"name" validate:"required,min=2,max=120"`
}
