package consumers

import (
	"context"
	"fmt"
	"strings"

	"github.com/spoolworks/spool/pkg/codec"
	"github.com/spoolworks/spool/pkg/consumer"
)

// ExecTag is the type tag for exec jobs.
const ExecTag = "exec"

// ExecSpec configures an exec job: run a command and capture its output.
type ExecSpec struct {
	// Command is the argv to run. Required, non-empty.
	Command []string `yaml:"command"`

	// WorkDir is the working directory. Empty inherits the scheduler's.
	WorkDir string `yaml:"work_dir"`

	// AllowFailure makes a non-zero exit a result instead of an error.
	AllowFailure bool `yaml:"allow_failure"`
}

// Exec runs arbitrary commands from job documents.
type Exec struct {
	runner CommandRunner
}

// NewExec creates an Exec consumer.
func NewExec() *Exec {
	return &Exec{runner: osCommandRunner{}}
}

// Consume runs the spec's command and returns its captured output.
func (e *Exec) Consume(ctx context.Context, spec *ExecSpec, id string) (any, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("exec %s: command is required", id)
	}

	result, err := e.runner.Run(ctx, spec.WorkDir, spec.Command[0], spec.Command[1:]...)
	if err != nil {
		return nil, fmt.Errorf("exec %s: %w", id, err)
	}
	if result.ExitCode != 0 && !spec.AllowFailure {
		return nil, fmt.Errorf("exec %s: command exited %d: %s",
			id, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return result, nil
}

// RegisterExec wires the exec consumer into a codec and registry pair
// under ExecTag.
func RegisterExec(c *codec.Codec, r *consumer.Registry) error {
	if err := codec.Register[ExecSpec](c, ExecTag); err != nil {
		return err
	}
	return consumer.Register(r, ExecTag, NewExec().Consume)
}

// RegisterAll wires every built-in consumer.
func RegisterAll(c *codec.Codec, r *consumer.Registry) error {
	if err := RegisterGitPull(c, r); err != nil {
		return err
	}
	return RegisterExec(c, r)
}
