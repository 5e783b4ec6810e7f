package team

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the engine that callers are expected to
// act on matches exactly one of these via errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrConflict    = errors.New("conflict")
	ErrForbidden   = errors.New("forbidden")
	ErrNotFound    = errors.New("not found")
	ErrInvariant   = errors.New("invariant violation")
	ErrUnavailable = errors.New("unavailable")
)

// Error is a classified engine error with a client-safe message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the kind so errors.Is(err, ErrConflict) works.
func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func validationf(format string, args ...any) error {
	return newError(ErrValidation, format, args...)
}

// Store-level errors shared by every Store implementation.
var (
	ErrTeamNotFound     = &Error{Kind: ErrNotFound, Message: "team not found"}
	ErrMemberNotFound   = &Error{Kind: ErrNotFound, Message: "membership not found"}
	ErrRequestNotFound  = &Error{Kind: ErrNotFound, Message: "no pending join request for this user"}
	ErrKeyTaken         = &Error{Kind: ErrConflict, Message: "team key already in use"}
	ErrNameTaken        = &Error{Kind: ErrConflict, Message: "you already own a team with this name"}
	ErrAlreadyMember    = &Error{Kind: ErrConflict, Message: "user is already a member of this team"}
	ErrDuplicatePending = &Error{Kind: ErrConflict, Message: "a join request is already pending for this team"}
	ErrLastAdmin        = &Error{Kind: ErrInvariant, Message: "cannot remove the last team admin"}
	ErrNotAdmin         = &Error{Kind: ErrForbidden, Message: "team admin role required"}
	ErrNotMember        = &Error{Kind: ErrForbidden, Message: "team membership required"}
)

var errStoreUnavailable = &Error{Kind: ErrUnavailable, Message: "team store unavailable, retry later"}

// Unavailable wraps a store failure that is safe to retry. The cause stays in
// the chain for logging but is not part of the client message.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, errStoreUnavailable, err)
}

// Kind returns the error kind of err, or nil when err is not classified. The
// outermost *Error decides, so an Unavailable wrapping another engine error
// still reports ErrUnavailable.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	for _, k := range []error{ErrValidation, ErrConflict, ErrForbidden, ErrNotFound, ErrInvariant, ErrUnavailable} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
