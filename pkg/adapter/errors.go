package adapter

import (
	"errors"
	"fmt"

	"github.com/spoolworks/spool/pkg/state"
)

// Sentinel errors for adapter operations.
var (
	// ErrDuplicateIdentifier indicates an identifier was observed at a state
	// different from the one it was first registered at.
	ErrDuplicateIdentifier = errors.New("duplicate identifier")

	// ErrUnknownIdentifier indicates the identifier has never been observed
	// by a poll.
	ErrUnknownIdentifier = errors.New("unknown identifier")

	// ErrInvalidTransition indicates a state change outside the forward-only
	// lifecycle was requested with validation enabled.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotPlanned indicates GetConfig was called for an identifier that is
	// not in the Planned state.
	ErrNotPlanned = errors.New("identifier is not in planned state")

	// ErrSourceMissing indicates the backing artifact vanished from its
	// expected location mid-transition.
	ErrSourceMissing = errors.New("job artifact missing from source location")

	// ErrAccessDenied indicates the storage backend rejected the credentials
	// or the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrThrottled indicates the storage backend rate-limited the request.
	ErrThrottled = errors.New("request throttled")

	// ErrStoreUnavailable indicates a transient storage backend failure.
	ErrStoreUnavailable = errors.New("storage backend unavailable")
)

// Type identifies an adapter implementation.
type Type string

const (
	// TypeDir is the local filesystem adapter.
	TypeDir Type = "dir"

	// TypeS3 is the S3-backed adapter.
	TypeS3 Type = "s3"
)

// String returns the string representation of the adapter type.
func (t Type) String() string {
	return string(t)
}

// Error wraps adapter failures with operation context.
type Error struct {
	// Op is the operation that failed (e.g., "PollState", "ChangeState").
	Op string

	// Adapter is the adapter type.
	Adapter Type

	// ID is the job identifier, if applicable.
	ID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Adapter, e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Adapter, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// TransitionError reports an illegal state change request.
type TransitionError struct {
	ID   string
	From state.State
	To   state.State
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %v: %s -> %s", e.ID, ErrInvalidTransition, e.From, e.To)
}

// Unwrap makes errors.Is(err, ErrInvalidTransition) hold.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// IsDuplicateIdentifier reports whether err indicates an identifier collision.
func IsDuplicateIdentifier(err error) bool {
	return errors.Is(err, ErrDuplicateIdentifier)
}

// IsInvalidTransition reports whether err indicates an illegal state change.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
