package consumers

import (
	"context"
	"fmt"
	"strings"

	"github.com/spoolworks/spool/pkg/codec"
	"github.com/spoolworks/spool/pkg/consumer"
)

// GitPullTag is the type tag for git-pull jobs.
const GitPullTag = "git-pull"

// GitPullSpec configures a git-pull job: fetch and merge the given branch
// into an existing checkout.
type GitPullSpec struct {
	// RepoPath is the path of the checkout to update. Required.
	RepoPath string `yaml:"repo_path"`

	// Remote to pull from. Default: origin.
	Remote string `yaml:"remote"`

	// Branch to pull. Empty pulls the checkout's current branch.
	Branch string `yaml:"branch"`
}

// GitPull runs git pull in existing checkouts.
type GitPull struct {
	runner CommandRunner
}

// NewGitPull creates a GitPull consumer.
func NewGitPull() *GitPull {
	return &GitPull{runner: osCommandRunner{}}
}

// Consume updates the checkout named by the spec.
func (g *GitPull) Consume(ctx context.Context, spec *GitPullSpec, id string) (any, error) {
	if strings.TrimSpace(spec.RepoPath) == "" {
		return nil, fmt.Errorf("git-pull %s: repo_path is required", id)
	}

	remote := spec.Remote
	if remote == "" {
		remote = "origin"
	}

	args := []string{"pull", remote}
	if spec.Branch != "" {
		args = append(args, spec.Branch)
	}

	result, err := g.runner.Run(ctx, spec.RepoPath, "git", args...)
	if err != nil {
		return nil, fmt.Errorf("git-pull %s: %w", id, err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("git-pull %s: git exited %d: %s",
			id, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return result, nil
}

// RegisterGitPull wires the git-pull consumer into a codec and registry
// pair under GitPullTag.
func RegisterGitPull(c *codec.Codec, r *consumer.Registry) error {
	if err := codec.Register[GitPullSpec](c, GitPullTag); err != nil {
		return err
	}
	return consumer.Register(r, GitPullTag, NewGitPull().Consume)
}
