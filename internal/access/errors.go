package access

import (
	"errors"
	"fmt"
)

// Base error classes. Every error returned by this package wraps exactly one
// of them so transports can map by class with errors.Is.
var (
	ErrNotFound     = errors.New("access: not found")
	ErrInvalidState = errors.New("access: invalid state")
	ErrForbidden    = errors.New("access: forbidden")
)

var (
	ErrUnknownFeature    = fmt.Errorf("%w: unknown feature", ErrNotFound)
	ErrInvalidMode       = fmt.Errorf("%w: unrecognised access mode", ErrInvalidState)
	ErrInvalidDecision   = fmt.Errorf("%w: unrecognised decision", ErrInvalidState)
	ErrRequestNotPending = fmt.Errorf("%w: request is not pending", ErrInvalidState)
	ErrDuplicatePending  = fmt.Errorf("%w: a pending request already exists for this feature", ErrInvalidState)
	ErrRedundantRequest  = fmt.Errorf("%w: request would not change access", ErrInvalidState)
	ErrInactiveUser      = fmt.Errorf("%w: user is inactive", ErrInvalidState)
	ErrNotRequester      = fmt.Errorf("%w: only the requester may cancel a request", ErrForbidden)
)
