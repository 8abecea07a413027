// Package consumer maps job type tags to the handler functions that run them.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/spoolworks/spool/pkg/codec"
)

// ErrDuplicateConsumer indicates a second handler was registered for a tag.
// Registration is fail-fast: this surfaces at startup, not at dispatch time.
var ErrDuplicateConsumer = errors.New("consumer already registered")

// Handler consumes one decoded job. A non-nil result is serialized and
// written as the job's output sidecar; a nil result produces no output.
type Handler func(ctx context.Context, cfg *codec.Config, id string) (any, error)

// Registry maps type tags to their Handler.
//
// Registration happens at startup before the scheduler runs, so no mutex
// is needed.
type Registry struct {
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger.With(zap.String("component", "consumer-registry")),
	}
}

// Register binds a typed handler to tag. The handler receives the decoded
// *T produced by the codec for that tag. At most one handler may exist per
// tag; a second registration fails immediately.
func Register[T any](r *Registry, tag string, fn func(ctx context.Context, cfg *T, id string) (any, error)) error {
	return r.RegisterHandler(tag, func(ctx context.Context, cfg *codec.Config, id string) (any, error) {
		typed, ok := cfg.Value.(*T)
		if !ok {
			return nil, fmt.Errorf("consumer %q: config is %T, want %T", tag, cfg.Value, new(T))
		}
		return fn(ctx, typed, id)
	})
}

// RegisterHandler is the non-generic form of Register.
func (r *Registry) RegisterHandler(tag string, h Handler) error {
	if tag == "" {
		return fmt.Errorf("type tag is required")
	}
	if h == nil {
		return fmt.Errorf("handler for %q is nil", tag)
	}
	if _, exists := r.handlers[tag]; exists {
		return fmt.Errorf("register %q: %w", tag, ErrDuplicateConsumer)
	}
	r.handlers[tag] = h
	r.logger.Info("consumer registered", zap.String("tag", tag))
	return nil
}

// Get returns the handler for the given tag.
func (r *Registry) Get(tag string) (Handler, bool) {
	h, ok := r.handlers[tag]
	return h, ok
}

// Tags returns all registered tags, sorted.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.handlers))
	for tag := range r.handlers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
