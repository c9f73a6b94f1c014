package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a unique attribute is already taken.
	ErrDuplicate = errors.New("already exists")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionExpired occurs when a bearer token references a destroyed session.
	ErrSessionExpired = errors.New("session expired")
	// ErrLockHeld occurs when another instance holds a decision lock.
	ErrLockHeld = errors.New("lock held by another request")
)
