// Package adapter defines the storage abstraction behind the scheduler.
//
// An Adapter is the durable store of job identifiers and their lifecycle
// state. It discovers job documents, decodes them, performs atomic state
// transitions by relocating the backing artifact, and persists job output.
// The local filesystem implementation lives in package dir; an S3-backed
// variant lives in package s3.
//
// Adapters own an in-memory identifier/state table mutated only by the
// scheduler's single thread of control. Two schedulers pointed at the same
// storage location are unsupported: there is no cross-process locking.
package adapter

import (
	"context"

	"github.com/spoolworks/spool/pkg/codec"
	"github.com/spoolworks/spool/pkg/state"
)

// Adapter abstracts the directory-like store backing the scheduler.
type Adapter interface {
	// PollState scans the storage location backing st for valid job
	// documents, registers any newly seen identifier at that state, and
	// returns all identifiers currently tracked at st. An identifier already
	// claimed at a different state yields ErrDuplicateIdentifier; re-seeing
	// it at the same state is not an error (first-seen wins).
	PollState(ctx context.Context, st state.State) ([]string, error)

	// Poll is shorthand for PollState(ctx, state.Planned).
	Poll(ctx context.Context) ([]string, error)

	// GetConfig reads the job body at the identifier's Planned location and
	// decodes it. A decode failure is reported (logged) and returns
	// (nil, nil) so the job stays Planned for the next poll. Calling this
	// for an identifier not in Planned state is a contract violation and
	// returns an error.
	GetConfig(ctx context.Context, id string) (*codec.Config, error)

	// ChangeState transitions the identifier to next. The transition is
	// validated against the forward-only lifecycle: an illegal pair yields
	// ErrInvalidTransition with no side effect. Otherwise the physical move
	// happens first and the state table is updated only on success, so the
	// table and the storage never diverge on a failed move.
	ChangeState(ctx context.Context, id string, next state.State) error

	// ForceState is ChangeState without transition validation. It exists
	// solely for crash recovery (moving Active jobs back to Planned on
	// startup) and keeps the same move-then-record discipline.
	ForceState(ctx context.Context, id string, next state.State) error

	// WriteOutput appends data to the identifier's output sidecar in the
	// Completed location. It may be called while the job is still Active;
	// the sidecar is created in the completed location ahead of the job
	// artifact itself.
	WriteOutput(ctx context.Context, id string, data []byte) error

	// Close releases any resources held by the adapter.
	Close() error
}
