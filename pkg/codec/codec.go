// Package codec decodes job documents into typed configuration values.
//
// A job document is a YAML envelope with a self-describing type tag:
//
//	type: git-pull
//	spec:
//	  repo_path: /srv/checkout
//
// The codec maps each tag to a registered Go type and decodes the spec
// block into a fresh instance of that type. Dispatch downstream is a table
// lookup keyed by the tag, never by structural type identity.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sentinel errors for decode operations.
var (
	// ErrUnknownTag indicates the document's type tag has no registered type.
	ErrUnknownTag = errors.New("unknown type tag")

	// ErrDuplicateTag indicates a tag was registered twice.
	ErrDuplicateTag = errors.New("duplicate type tag")

	// ErrMissingTag indicates the document has no type field.
	ErrMissingTag = errors.New("document has no type tag")
)

// Config is a decoded job document: the type tag that selected the concrete
// type, and a pointer to the populated value.
type Config struct {
	Tag   string
	Value any
}

// envelope is the raw document shape. Spec is kept as a node so it can be
// decoded into the tag's concrete type after the tag lookup.
type envelope struct {
	Type string    `yaml:"type"`
	Spec yaml.Node `yaml:"spec"`
}

// Codec is a registry of type tags and their concrete Go types.
//
// Registration happens at startup before the scheduler runs, so no mutex
// is needed.
type Codec struct {
	factories map[string]func() any
}

// New creates an empty Codec.
func New() *Codec {
	return &Codec{factories: make(map[string]func() any)}
}

// Register associates tag with the type T. Decoding a document carrying the
// tag yields a *T. Registering the same tag twice is an immediate error.
func Register[T any](c *Codec, tag string) error {
	return c.RegisterFactory(tag, func() any { return new(T) })
}

// RegisterFactory is the non-generic form of Register. The factory must
// return a pointer suitable for yaml decoding.
func (c *Codec) RegisterFactory(tag string, factory func() any) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return fmt.Errorf("type tag is required")
	}
	if _, exists := c.factories[tag]; exists {
		return fmt.Errorf("register %q: %w", tag, ErrDuplicateTag)
	}
	c.factories[tag] = factory
	return nil
}

// Known reports whether the tag has a registered type.
func (c *Codec) Known(tag string) bool {
	_, ok := c.factories[tag]
	return ok
}

// Tags returns all registered tags, sorted.
func (c *Codec) Tags() []string {
	tags := make([]string, 0, len(c.factories))
	for tag := range c.factories {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Decode parses a job document and materializes its spec into the type
// registered for the document's tag.
//
// Returns an error if the body is not valid YAML, the type field is missing,
// the tag is unregistered, or the spec does not fit the registered type.
func (c *Codec) Decode(data []byte) (*Config, error) {
	var env envelope
	if err := yaml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse job document: %w", err)
	}

	tag := strings.TrimSpace(env.Type)
	if tag == "" {
		return nil, ErrMissingTag
	}

	factory, ok := c.factories[tag]
	if !ok {
		return nil, fmt.Errorf("decode %q: %w", tag, ErrUnknownTag)
	}

	value := factory()
	// An absent spec block decodes to the type's zero value.
	if env.Spec.Kind != 0 {
		if err := env.Spec.Decode(value); err != nil {
			return nil, fmt.Errorf("decode %q spec: %w", tag, err)
		}
	}

	return &Config{Tag: tag, Value: value}, nil
}

// IsUnknownTag reports whether err indicates an unregistered type tag.
func IsUnknownTag(err error) bool {
	return errors.Is(err, ErrUnknownTag)
}
