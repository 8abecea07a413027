// Package dir implements the scheduler adapter for a local directory tree.
//
// Layout under the base directory:
//
//	<base>/planned/    job documents awaiting dispatch
//	<base>/active/     the job currently being consumed
//	<base>/completed/  finished jobs and their output sidecars
//
// State transitions are file renames between these directories; the rename
// is the atomicity boundary. Output sidecars are named after the job file
// with the output suffix and live in the completed directory from the moment
// output is first written, even while the job file is still active.
package dir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/spoolworks/spool/pkg/adapter"
	"github.com/spoolworks/spool/pkg/codec"
	"github.com/spoolworks/spool/pkg/state"
)

const (
	// DefaultPattern matches the job documents recognized by a poll.
	DefaultPattern = "*.yaml"

	// DefaultOutputSuffix is appended to the job name for output sidecars.
	DefaultOutputSuffix = ".out"
)

// Config configures the directory adapter.
type Config struct {
	// BaseDir is the directory containing the per-state subdirectories.
	// Required.
	BaseDir string

	// Pattern is the doublestar pattern a file name must match to be
	// discovered. Default: "*.yaml".
	Pattern string

	// OutputSuffix replaces the job document's extension to form the output
	// sidecar name. Default: ".out".
	OutputSuffix string
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	if c.Pattern != "" && !doublestar.ValidatePattern(c.Pattern) {
		return fmt.Errorf("invalid discovery pattern: %s", c.Pattern)
	}
	return nil
}

// Adapter implements adapter.Adapter for a local directory tree.
//
// The identifier for a job is its file name. The in-memory state table is
// mutated only by the scheduler's single thread of control.
type Adapter struct {
	baseDir string
	pattern string
	outSfx  string
	codec   *codec.Codec
	logger  *zap.Logger

	// identifier -> current state; populated lazily by polls and advanced
	// only through ChangeState/ForceState.
	states map[string]state.State
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a directory adapter, creating the per-state subdirectories
// idempotently.
func New(cfg Config, cdc *codec.Codec, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cdc == nil {
		return nil, fmt.Errorf("codec is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := filepath.Clean(cfg.BaseDir)
	for _, st := range state.All {
		if err := os.MkdirAll(filepath.Join(base, st.String()), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", st, err)
		}
	}

	pattern := cfg.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	outSfx := cfg.OutputSuffix
	if outSfx == "" {
		outSfx = DefaultOutputSuffix
	}

	return &Adapter{
		baseDir: base,
		pattern: pattern,
		outSfx:  outSfx,
		codec:   cdc,
		logger:  logger.With(zap.String("component", "dir-adapter")),
		states:  make(map[string]state.State),
	}, nil
}

// BaseDir returns the adapter's base directory.
func (a *Adapter) BaseDir() string {
	return a.baseDir
}

// StateDir returns the directory backing st.
func (a *Adapter) StateDir(st state.State) string {
	return filepath.Join(a.baseDir, st.String())
}

// OutputName returns the sidecar file name for a job identifier.
func (a *Adapter) OutputName(id string) string {
	return strings.TrimSuffix(id, filepath.Ext(id)) + a.outSfx
}

// Poll is shorthand for PollState at Planned.
func (a *Adapter) Poll(ctx context.Context) ([]string, error) {
	return a.PollState(ctx, state.Planned)
}

// PollState scans the directory backing st, registers newly seen
// identifiers, and returns all identifiers tracked at st in sorted order.
func (a *Adapter) PollState(ctx context.Context, st state.State) ([]string, error) {
	_ = ctx
	if !st.Valid() {
		return nil, a.wrapErr("PollState", "", fmt.Errorf("unknown state %q", st))
	}

	entries, err := os.ReadDir(a.StateDir(st))
	if err != nil {
		return nil, a.wrapErr("PollState", "", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		matched, err := doublestar.Match(a.pattern, name)
		if err != nil || !matched {
			continue
		}

		claimed, known := a.states[name]
		if !known {
			a.states[name] = st
			a.logger.Debug("identifier registered",
				zap.String("id", name),
				zap.String("state", st.String()))
			continue
		}
		if claimed != st {
			return nil, &adapter.Error{
				Op:      "PollState",
				Adapter: adapter.TypeDir,
				ID:      name,
				Err: fmt.Errorf("%w: claimed %s, found in %s",
					adapter.ErrDuplicateIdentifier, claimed, st),
			}
		}
	}

	var ids []string
	for id, cur := range a.states {
		if cur == st {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetConfig reads and decodes the job document for a Planned identifier.
//
// A body that fails to decode is reported at warn level and yields
// (nil, nil): the job file stays in place for the next poll.
func (a *Adapter) GetConfig(ctx context.Context, id string) (*codec.Config, error) {
	_ = ctx
	cur, known := a.states[id]
	if !known {
		return nil, a.wrapErr("GetConfig", id, adapter.ErrUnknownIdentifier)
	}
	if cur != state.Planned {
		return nil, a.wrapErr("GetConfig", id, adapter.ErrNotPlanned)
	}

	data, err := os.ReadFile(filepath.Join(a.StateDir(state.Planned), id))
	if err != nil {
		return nil, a.wrapErr("GetConfig", id, err)
	}

	cfg, err := a.codec.Decode(data)
	if err != nil {
		a.logger.Warn("failed to decode job document",
			zap.String("id", id),
			zap.Error(err))
		return nil, nil
	}
	return cfg, nil
}

// ChangeState performs a validated transition for id.
func (a *Adapter) ChangeState(ctx context.Context, id string, next state.State) error {
	return a.changeState(ctx, id, next, true, "ChangeState")
}

// ForceState performs a transition for id without validating it against the
// forward-only lifecycle. Crash recovery uses this to return Active jobs to
// Planned.
func (a *Adapter) ForceState(ctx context.Context, id string, next state.State) error {
	return a.changeState(ctx, id, next, false, "ForceState")
}

func (a *Adapter) changeState(ctx context.Context, id string, next state.State, validate bool, op string) error {
	_ = ctx
	cur, known := a.states[id]
	if !known {
		return a.wrapErr(op, id, adapter.ErrUnknownIdentifier)
	}
	if !next.Valid() {
		return a.wrapErr(op, id, fmt.Errorf("unknown state %q", next))
	}
	if validate && !cur.CanTransitionTo(next) {
		return &adapter.TransitionError{ID: id, From: cur, To: next}
	}

	// Physical move first; the table is updated only if the move succeeds,
	// so the table and the storage never diverge on failure.
	if err := a.moveToState(op, id, cur, next); err != nil {
		return err
	}
	a.states[id] = next

	a.logger.Debug("state changed",
		zap.String("id", id),
		zap.String("from", cur.String()),
		zap.String("to", next.String()))
	return nil
}

// moveToState relocates the job file from its current state directory to the
// next one. For Active -> Completed it also merges any output sidecar that
// was written next to the active file into the completed location.
func (a *Adapter) moveToState(op, id string, cur, next state.State) error {
	src := filepath.Join(a.StateDir(cur), id)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return a.wrapErr(op, id, adapter.ErrSourceMissing)
		}
		return a.wrapErr(op, id, err)
	}

	if cur == state.Active && next == state.Completed {
		if err := a.relocateSidecar(op, id); err != nil {
			return err
		}
	}

	if err := os.Rename(src, filepath.Join(a.StateDir(next), id)); err != nil {
		return a.wrapErr(op, id, err)
	}
	return nil
}

// relocateSidecar moves a sidecar that ended up beside the active job file
// into the completed directory, appending if one already exists there.
func (a *Adapter) relocateSidecar(op, id string) error {
	name := a.OutputName(id)
	src := filepath.Join(a.StateDir(state.Active), name)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return a.wrapErr(op, id, err)
	}

	dst := filepath.Join(a.StateDir(state.Completed), name)
	if _, err := os.Stat(dst); os.IsNotExist(err) {
		if err := os.Rename(src, dst); err != nil {
			return a.wrapErr(op, id, err)
		}
		return nil
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return a.wrapErr(op, id, err)
	}
	if err := appendFile(dst, data); err != nil {
		return a.wrapErr(op, id, err)
	}
	if err := os.Remove(src); err != nil {
		return a.wrapErr(op, id, err)
	}
	return nil
}

// WriteOutput appends data to the job's output sidecar in the completed
// directory. The job file itself may still be active; the sidecar is created
// ahead of it.
func (a *Adapter) WriteOutput(ctx context.Context, id string, data []byte) error {
	_ = ctx
	if _, known := a.states[id]; !known {
		return a.wrapErr("WriteOutput", id, adapter.ErrUnknownIdentifier)
	}
	path := filepath.Join(a.StateDir(state.Completed), a.OutputName(id))
	if err := appendFile(path, data); err != nil {
		return a.wrapErr("WriteOutput", id, err)
	}
	return nil
}

// Close releases adapter resources. The directory adapter holds none, but
// this satisfies the interface.
func (a *Adapter) Close() error {
	return nil
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (a *Adapter) wrapErr(op, id string, err error) error {
	return &adapter.Error{Op: op, Adapter: adapter.TypeDir, ID: id, Err: err}
}
