// Package scheduler implements the polling run loop that turns a directory
// of job documents into consumer invocations.
//
// The loop is single-threaded and cooperative: one job is taken through
// decode -> activate -> run -> write output -> complete before the next
// identifier is considered. The only suspension points are the pacing sleep
// and blocking I/O inside the adapter.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spoolworks/spool/pkg/adapter"
	"github.com/spoolworks/spool/pkg/codec"
	"github.com/spoolworks/spool/pkg/consumer"
	"github.com/spoolworks/spool/pkg/state"
)

// DefaultPollingInterval is the minimum delay between polls when none is
// configured.
const DefaultPollingInterval = 10 * time.Second

// Client runs the scheduling loop against an adapter.
type Client struct {
	adapter     adapter.Adapter
	consumers   *consumer.Registry
	minInterval time.Duration
	timeout     time.Duration // zero means no idle timeout
	callback    Callback
	logger      *zap.Logger
}

// Option configures optional Client behavior.
type Option func(*Client)

// WithPollingInterval sets the minimum delay between polls.
func WithPollingInterval(d time.Duration) Option {
	return func(c *Client) { c.minInterval = d }
}

// WithTimeout makes the run loop stop after d of idle time (time since the
// last poll that returned identifiers). Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithCallback sets the lifecycle observer.
func WithCallback(cb Callback) Option {
	return func(c *Client) { c.callback = cb }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a scheduler Client over the given adapter and consumer
// registry. Unless overridden, the polling interval is
// DefaultPollingInterval, no timeout is set, and events are rendered through
// a LogCallback.
func New(a adapter.Adapter, reg *consumer.Registry, opts ...Option) (*Client, error) {
	if a == nil {
		return nil, fmt.Errorf("adapter is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("consumer registry is required")
	}

	c := &Client{
		adapter:     a,
		consumers:   reg,
		minInterval: DefaultPollingInterval,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.minInterval < 0 {
		return nil, fmt.Errorf("polling interval must be >= 0")
	}
	if c.timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0")
	}
	if c.callback == nil {
		c.callback = NewLogCallback(c.logger)
	}
	return c, nil
}

// RunOptions controls a single Run invocation.
type RunOptions struct {
	// Debug escalates per-job recoverable failures (consumer errors, result
	// write failures) into errors that abort the run. The failing job is
	// left Active. Decode failures and unregistered tags are unaffected.
	Debug bool

	// ResumeActive moves every identifier found in the Active location back
	// to Planned before the first poll, recovering jobs interrupted by an
	// ungraceful shutdown.
	ResumeActive bool
}

// Run executes the scheduling loop. It blocks until the idle timeout fires,
// ctx is cancelled, or (in debug mode) a job failure escalates. State
// consistency errors from the adapter always abort the run.
func (c *Client) Run(ctx context.Context, opts RunOptions) error {
	runID := uuid.New().String()
	log := c.logger.With(zap.String("run_id", runID))

	log.Info("scheduler starting",
		zap.Duration("polling_interval", c.minInterval),
		zap.Duration("timeout", c.timeout),
		zap.Bool("debug", opts.Debug),
		zap.Strings("consumers", c.consumers.Tags()))

	if opts.ResumeActive {
		if err := c.resumeActive(ctx, log); err != nil {
			return err
		}
	}

	// Idle time is measured from loop entry until the first non-empty poll,
	// so an empty directory times out after the configured idle period
	// rather than immediately.
	lastNonEmptyPoll := time.Now()

	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler interrupted")
			return ctx.Err()
		default:
		}

		iterStart := time.Now()

		ids, err := c.adapter.Poll(ctx)
		switch {
		case err != nil:
			log.Error("poll failed", zap.Error(err))
		case len(ids) > 0:
			lastNonEmptyPoll = iterStart
			for _, id := range ids {
				if err := c.processJob(ctx, id, opts.Debug, log); err != nil {
					return err
				}
			}
		default:
			c.callback.OnNoConfigsFound()
		}

		if c.timeout > 0 && time.Since(lastNonEmptyPoll) > c.timeout {
			c.callback.OnTimeout()
			return nil
		}

		if wait := c.minInterval - time.Since(iterStart); wait > 0 {
			c.callback.OnWaitingForNextPoll(wait)
			select {
			case <-ctx.Done():
				log.Info("scheduler interrupted")
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
}

// processJob takes one planned identifier through the full lifecycle. The
// returned error is non-nil only when the run must abort: a debug-mode
// escalation or an adapter consistency failure.
func (c *Client) processJob(ctx context.Context, id string, debug bool, log *zap.Logger) error {
	cfg, err := c.adapter.GetConfig(ctx, id)
	if err != nil {
		// Contract violation (unknown identifier, wrong state); the state
		// table can no longer be trusted.
		return fmt.Errorf("get config %s: %w", id, err)
	}

	c.callback.OnConfigLoaded(id, cfg)

	var handler consumer.Handler
	registered := false
	if cfg != nil {
		handler, registered = c.consumers.Get(cfg.Tag)
	}
	if !registered {
		// Undecodable or unhandled: leave the job planned so an operator can
		// fix the document or register the missing consumer.
		c.callback.OnUnregisteredConfig(id, cfg)
		return nil
	}

	if err := c.adapter.ChangeState(ctx, id, state.Active); err != nil {
		return fmt.Errorf("activate %s: %w", id, err)
	}

	runStart := time.Now()
	result, runErr := invoke(ctx, handler, cfg, id)
	if runErr != nil {
		c.callback.OnFailedToRun(id, cfg, runErr)
		if debug {
			// The job stays Active; completion is skipped on purpose so the
			// failure site can be inspected in place.
			return fmt.Errorf("run %s: %w", id, runErr)
		}
	} else {
		c.callback.OnConfigConsumed(id, cfg, time.Since(runStart))
	}
	if runErr == nil && result != nil {
		if err := c.writeResult(ctx, id, cfg, result); err != nil {
			c.callback.OnFailedToWriteResult(id, cfg, result, err)
			if debug {
				return fmt.Errorf("write result %s: %w", id, err)
			}
		}
	}

	// Best-effort completion: a failed job is still moved to Completed so it
	// cannot block the queue. The failure was already reported above.
	if err := c.adapter.ChangeState(ctx, id, state.Completed); err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}

	log.Debug("job completed",
		zap.String("id", id),
		zap.String("tag", cfg.Tag),
		zap.Bool("failed", runErr != nil))
	return nil
}

// writeResult serializes a consumer result and appends it to the job's
// output sidecar.
func (c *Client) writeResult(ctx context.Context, id string, cfg *codec.Config, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("serialize result: %w", err)
	}
	return c.adapter.WriteOutput(ctx, id, data)
}

// resumeActive returns every identifier found in the Active location to
// Planned, bypassing the forward-only transition check.
func (c *Client) resumeActive(ctx context.Context, log *zap.Logger) error {
	ids, err := c.adapter.PollState(ctx, state.Active)
	if err != nil {
		return fmt.Errorf("poll active for resume: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	log.Info("resuming interrupted jobs", zap.Int("count", len(ids)))
	for _, id := range ids {
		if err := c.adapter.ForceState(ctx, id, state.Planned); err != nil {
			return fmt.Errorf("resume %s: %w", id, err)
		}
		log.Info("moved back to planned", zap.String("id", id))
	}
	return nil
}

// invoke runs a consumer, converting panics into errors so one bad job
// cannot take down the loop.
func invoke(ctx context.Context, h consumer.Handler, cfg *codec.Config, id string) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer panic: %v", r)
		}
	}()
	return h(ctx, cfg, id)
}
