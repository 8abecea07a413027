package scheduler

import (
	"time"

	"go.uber.org/zap"

	"github.com/spoolworks/spool/pkg/codec"
)

// Callback receives lifecycle notifications from the scheduler run loop.
//
// Every hook is invoked synchronously at the documented point; a hook must
// not block materially. Implementations should embed NopCallback so new
// hooks do not break them.
type Callback interface {
	// OnConfigLoaded fires after a job document has been read, even when
	// decoding produced no config (cfg is nil in that case).
	OnConfigLoaded(id string, cfg *codec.Config)

	// OnUnregisteredConfig fires for a job whose tag has no registered
	// consumer. The job stays planned and is retried on every poll.
	OnUnregisteredConfig(id string, cfg *codec.Config)

	// OnConfigConsumed fires after a consumer returned without error, with
	// the time the consumer took.
	OnConfigConsumed(id string, cfg *codec.Config, took time.Duration)

	// OnFailedToRun fires when a consumer returns an error or panics.
	OnFailedToRun(id string, cfg *codec.Config, err error)

	// OnFailedToWriteResult fires when serializing or persisting a
	// consumer's result fails.
	OnFailedToWriteResult(id string, cfg *codec.Config, result any, err error)

	// OnNoConfigsFound fires after a poll that returned no identifiers.
	OnNoConfigsFound()

	// OnWaitingForNextPoll fires before the loop sleeps until the next poll.
	OnWaitingForNextPoll(d time.Duration)

	// OnTimeout fires when the loop is about to exit due to the idle
	// timeout.
	OnTimeout()
}

// NopCallback is a Callback with no behavior, suitable for embedding.
type NopCallback struct{}

var _ Callback = NopCallback{}

func (NopCallback) OnConfigLoaded(string, *codec.Config)                      {}
func (NopCallback) OnUnregisteredConfig(string, *codec.Config)                {}
func (NopCallback) OnConfigConsumed(string, *codec.Config, time.Duration)     {}
func (NopCallback) OnFailedToRun(string, *codec.Config, error)                {}
func (NopCallback) OnFailedToWriteResult(string, *codec.Config, any, error)   {}
func (NopCallback) OnNoConfigsFound()                                         {}
func (NopCallback) OnWaitingForNextPoll(time.Duration)                        {}
func (NopCallback) OnTimeout()                                                {}

// LogCallback renders every lifecycle event as a log line. It is the default
// callback when none is configured.
type LogCallback struct {
	logger *zap.Logger
}

var _ Callback = (*LogCallback)(nil)

// NewLogCallback creates a LogCallback writing to logger.
func NewLogCallback(logger *zap.Logger) *LogCallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogCallback{logger: logger.With(zap.String("component", "scheduler"))}
}

func (c *LogCallback) OnConfigLoaded(id string, cfg *codec.Config) {
	c.logger.Info("config loaded", zap.String("id", id), zap.String("tag", tagOf(cfg)))
}

func (c *LogCallback) OnUnregisteredConfig(id string, cfg *codec.Config) {
	c.logger.Warn("no consumer for config", zap.String("id", id), zap.String("tag", tagOf(cfg)))
}

func (c *LogCallback) OnConfigConsumed(id string, cfg *codec.Config, took time.Duration) {
	c.logger.Info("config consumed",
		zap.String("id", id),
		zap.String("tag", tagOf(cfg)),
		zap.Duration("took", took))
}

func (c *LogCallback) OnFailedToRun(id string, cfg *codec.Config, err error) {
	c.logger.Error("consumer failed",
		zap.String("id", id),
		zap.String("tag", tagOf(cfg)),
		zap.Error(err))
}

func (c *LogCallback) OnFailedToWriteResult(id string, cfg *codec.Config, result any, err error) {
	c.logger.Error("failed to write result",
		zap.String("id", id),
		zap.String("tag", tagOf(cfg)),
		zap.Error(err))
}

func (c *LogCallback) OnNoConfigsFound() {
	c.logger.Debug("no consumable config found")
}

func (c *LogCallback) OnWaitingForNextPoll(d time.Duration) {
	c.logger.Debug("waiting for next poll", zap.Duration("wait", d))
}

func (c *LogCallback) OnTimeout() {
	c.logger.Info("idle timeout reached, stopping")
}

func tagOf(cfg *codec.Config) string {
	if cfg == nil {
		return ""
	}
	return cfg.Tag
}
