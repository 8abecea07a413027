package consumers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spoolworks/spool/pkg/codec"
	"github.com/spoolworks/spool/pkg/consumer"
)

// fakeRunner records invocations and returns a canned result.
type fakeRunner struct {
	dir    string
	name   string
	args   []string
	result RunResult
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) (RunResult, error) {
	f.dir = dir
	f.name = name
	f.args = args
	return f.result, f.err
}

func TestGitPull_BuildsCommand(t *testing.T) {
	fake := &fakeRunner{result: RunResult{Stdout: "Already up to date.\n"}}
	g := &GitPull{runner: fake}

	res, err := g.Consume(context.Background(), &GitPullSpec{RepoPath: "/srv/checkout"}, "job.yaml")
	require.NoError(t, err)

	assert.Equal(t, "/srv/checkout", fake.dir)
	assert.Equal(t, "git", fake.name)
	assert.Equal(t, []string{"pull", "origin"}, fake.args)
	assert.Equal(t, "Already up to date.\n", res.(RunResult).Stdout)
}

func TestGitPull_ExplicitRemoteAndBranch(t *testing.T) {
	fake := &fakeRunner{}
	g := &GitPull{runner: fake}

	_, err := g.Consume(context.Background(), &GitPullSpec{
		RepoPath: "/srv/checkout",
		Remote:   "upstream",
		Branch:   "main",
	}, "job.yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"pull", "upstream", "main"}, fake.args)
}

func TestGitPull_RequiresRepoPath(t *testing.T) {
	g := &GitPull{runner: &fakeRunner{}}

	_, err := g.Consume(context.Background(), &GitPullSpec{}, "job.yaml")
	assert.ErrorContains(t, err, "repo_path is required")
}

func TestGitPull_NonZeroExitIsError(t *testing.T) {
	fake := &fakeRunner{result: RunResult{ExitCode: 128, Stderr: "fatal: not a git repository\n"}}
	g := &GitPull{runner: fake}

	_, err := g.Consume(context.Background(), &GitPullSpec{RepoPath: "/tmp"}, "job.yaml")
	require.Error(t, err)
	assert.ErrorContains(t, err, "not a git repository")
}

func TestExec_RunsCommand(t *testing.T) {
	fake := &fakeRunner{result: RunResult{Stdout: "ok\n"}}
	e := &Exec{runner: fake}

	res, err := e.Consume(context.Background(), &ExecSpec{
		Command: []string{"echo", "ok"},
		WorkDir: "/tmp",
	}, "job.yaml")
	require.NoError(t, err)

	assert.Equal(t, "/tmp", fake.dir)
	assert.Equal(t, "echo", fake.name)
	assert.Equal(t, []string{"ok"}, fake.args)
	assert.Equal(t, "ok\n", res.(RunResult).Stdout)
}

func TestExec_EmptyCommand(t *testing.T) {
	e := &Exec{runner: &fakeRunner{}}

	_, err := e.Consume(context.Background(), &ExecSpec{}, "job.yaml")
	assert.ErrorContains(t, err, "command is required")
}

func TestExec_AllowFailure(t *testing.T) {
	fake := &fakeRunner{result: RunResult{ExitCode: 1, Stderr: "nope\n"}}
	e := &Exec{runner: fake}

	_, err := e.Consume(context.Background(), &ExecSpec{Command: []string{"false"}}, "job.yaml")
	assert.Error(t, err)

	res, err := e.Consume(context.Background(), &ExecSpec{
		Command:      []string{"false"},
		AllowFailure: true,
	}, "job.yaml")
	require.NoError(t, err)
	assert.Equal(t, 1, res.(RunResult).ExitCode)
}

func TestExec_RunnerError(t *testing.T) {
	fake := &fakeRunner{err: errors.New("executable not found")}
	e := &Exec{runner: fake}

	_, err := e.Consume(context.Background(), &ExecSpec{Command: []string{"nope"}}, "job.yaml")
	assert.ErrorContains(t, err, "executable not found")
}

func TestRegisterAll(t *testing.T) {
	c := codec.New()
	r := consumer.NewRegistry(zap.NewNop())

	require.NoError(t, RegisterAll(c, r))
	assert.Equal(t, []string{ExecTag, GitPullTag}, c.Tags())
	assert.ElementsMatch(t, []string{ExecTag, GitPullTag}, r.Tags())

	// Double registration is rejected.
	assert.Error(t, RegisterAll(c, r))
}
