package claims

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Every error the engine returns on purpose wraps one of these.
var (
	ErrValidation      = errors.New("validation failed")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
)

// errDuplicateID marks a Create that lost a race for a claim id.
var errDuplicateID = errors.New("duplicate claim id")

// Error carries a client-safe message and its kind.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }
func (e *Error) Unwrap() error { return e.Kind }

func validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

func forbiddenf(format string, args ...any) error {
	return &Error{Kind: ErrForbidden, Msg: fmt.Sprintf(format, args...)}
}

func notFoundf(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Msg: fmt.Sprintf(format, args...)}
}

// LockConflictError reports the processor currently holding a claim.
type LockConflictError struct {
	ClaimID     string
	HolderID    string
	HolderEmail string
	HolderName  string
	LockedAt    time.Time
	ExpiresAt   time.Time
}

func (e *LockConflictError) Error() string {
	holder := e.HolderName
	if holder == "" {
		holder = e.HolderEmail
	}
	return fmt.Sprintf("claim %s is being processed by %s until %s",
		e.ClaimID, holder, e.ExpiresAt.UTC().Format(time.RFC3339))
}

func (e *LockConflictError) Unwrap() error { return ErrConflict }
