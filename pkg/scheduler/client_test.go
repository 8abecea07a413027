package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spoolworks/spool/pkg/adapter/dir"
	"github.com/spoolworks/spool/pkg/codec"
	"github.com/spoolworks/spool/pkg/consumer"
	"github.com/spoolworks/spool/pkg/state"
)

type emptySpec struct{}

type outputSpec struct {
	Text string `yaml:"text"`
}

// recordingCallback captures every lifecycle event for assertions.
type recordingCallback struct {
	NopCallback

	mu           sync.Mutex
	loaded       []string
	consumed     []string
	unregistered []string
	runFailures  []error
	writeErrors  []error
	emptyPolls   int
	waits        int
	timedOut     bool
}

func (r *recordingCallback) OnConfigLoaded(id string, cfg *codec.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = append(r.loaded, id)
}

func (r *recordingCallback) OnConfigConsumed(id string, cfg *codec.Config, took time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumed = append(r.consumed, id)
}

func (r *recordingCallback) OnUnregisteredConfig(id string, cfg *codec.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregistered = append(r.unregistered, id)
}

func (r *recordingCallback) OnFailedToRun(id string, cfg *codec.Config, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runFailures = append(r.runFailures, err)
}

func (r *recordingCallback) OnFailedToWriteResult(id string, cfg *codec.Config, result any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeErrors = append(r.writeErrors, err)
}

func (r *recordingCallback) OnNoConfigsFound() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emptyPolls++
}

func (r *recordingCallback) OnWaitingForNextPoll(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits++
}

func (r *recordingCallback) OnTimeout() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timedOut = true
}

type testRig struct {
	adapter  *dir.Adapter
	registry *consumer.Registry
	callback *recordingCallback
}

func newRig(t *testing.T) *testRig {
	t.Helper()

	c := codec.New()
	require.NoError(t, codec.Register[emptySpec](c, "empty"))
	require.NoError(t, codec.Register[outputSpec](c, "output"))

	a, err := dir.New(dir.Config{BaseDir: t.TempDir()}, c, zap.NewNop())
	require.NoError(t, err)

	return &testRig{
		adapter:  a,
		registry: consumer.NewRegistry(zap.NewNop()),
		callback: &recordingCallback{},
	}
}

func (r *testRig) client(t *testing.T, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithPollingInterval(5 * time.Millisecond),
		WithTimeout(40 * time.Millisecond),
		WithCallback(r.callback),
	}
	c, err := New(r.adapter, r.registry, append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func (r *testRig) writeJob(t *testing.T, st state.State, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(r.adapter.StateDir(st), name), []byte(body), 0o644))
}

func (r *testRig) pathIn(st state.State, name string) string {
	return filepath.Join(r.adapter.StateDir(st), name)
}

func TestNew_Validation(t *testing.T) {
	rig := newRig(t)

	_, err := New(nil, rig.registry)
	assert.Error(t, err)

	_, err = New(rig.adapter, nil)
	assert.Error(t, err)

	_, err = New(rig.adapter, rig.registry, WithPollingInterval(-time.Second))
	assert.Error(t, err)

	_, err = New(rig.adapter, rig.registry, WithTimeout(-time.Second))
	assert.Error(t, err)
}

func TestRun_EmptyJobProducesNoSidecar(t *testing.T) {
	rig := newRig(t)

	var got *emptySpec
	require.NoError(t, consumer.Register(rig.registry, "empty", func(ctx context.Context, cfg *emptySpec, id string) (any, error) {
		got = cfg
		return nil, nil
	}))

	rig.writeJob(t, state.Planned, "job.yaml", "type: empty\n")

	require.NoError(t, rig.client(t).Run(context.Background(), RunOptions{}))

	assert.NotNil(t, got)
	assert.FileExists(t, rig.pathIn(state.Completed, "job.yaml"))
	assert.NoFileExists(t, rig.pathIn(state.Completed, "job.out"))
	assert.True(t, rig.callback.timedOut)
}

func TestRun_OutputJobWritesSerializedResult(t *testing.T) {
	rig := newRig(t)

	require.NoError(t, consumer.Register(rig.registry, "output", func(ctx context.Context, cfg *outputSpec, id string) (any, error) {
		return cfg.Text, nil
	}))

	rig.writeJob(t, state.Planned, "job.yaml", "type: output\nspec:\n  text: hello\n")

	require.NoError(t, rig.client(t).Run(context.Background(), RunOptions{}))

	assert.FileExists(t, rig.pathIn(state.Completed, "job.yaml"))
	data, err := os.ReadFile(rig.pathIn(state.Completed, "job.out"))
	require.NoError(t, err)
	assert.JSONEq(t, `"hello"`, string(data))
	assert.Equal(t, []string{"job.yaml"}, rig.callback.consumed)
}

func TestRun_ConsumerErrorStillCompletes(t *testing.T) {
	rig := newRig(t)

	boom := errors.New("boom")
	require.NoError(t, consumer.Register(rig.registry, "empty", func(ctx context.Context, cfg *emptySpec, id string) (any, error) {
		return nil, boom
	}))

	rig.writeJob(t, state.Planned, "job.yaml", "type: empty\n")

	require.NoError(t, rig.client(t).Run(context.Background(), RunOptions{}))

	// A failed job must not block the queue: it is completed anyway, with
	// no output sidecar, and the failure was reported.
	assert.FileExists(t, rig.pathIn(state.Completed, "job.yaml"))
	assert.NoFileExists(t, rig.pathIn(state.Completed, "job.out"))
	require.Len(t, rig.callback.runFailures, 1)
	assert.ErrorIs(t, rig.callback.runFailures[0], boom)
}

func TestRun_ConsumerPanicIsContained(t *testing.T) {
	rig := newRig(t)

	require.NoError(t, consumer.Register(rig.registry, "empty", func(ctx context.Context, cfg *emptySpec, id string) (any, error) {
		panic("unexpected")
	}))

	rig.writeJob(t, state.Planned, "job.yaml", "type: empty\n")

	require.NoError(t, rig.client(t).Run(context.Background(), RunOptions{}))

	assert.FileExists(t, rig.pathIn(state.Completed, "job.yaml"))
	require.Len(t, rig.callback.runFailures, 1)
	assert.Contains(t, rig.callback.runFailures[0].Error(), "panic")
}

func TestRun_DebugEscalatesConsumerError(t *testing.T) {
	rig := newRig(t)

	boom := errors.New("boom")
	require.NoError(t, consumer.Register(rig.registry, "empty", func(ctx context.Context, cfg *emptySpec, id string) (any, error) {
		return nil, boom
	}))

	rig.writeJob(t, state.Planned, "job.yaml", "type: empty\n")

	err := rig.client(t).Run(context.Background(), RunOptions{Debug: true})
	require.ErrorIs(t, err, boom)

	// Completion is skipped under debug: the job stays Active for
	// inspection.
	assert.FileExists(t, rig.pathIn(state.Active, "job.yaml"))
	assert.NoFileExists(t, rig.pathIn(state.Completed, "job.yaml"))
}

func TestRun_WriteFailureDoesNotBlockCompletion(t *testing.T) {
	rig := newRig(t)

	require.NoError(t, consumer.Register(rig.registry, "empty", func(ctx context.Context, cfg *emptySpec, id string) (any, error) {
		// Channels cannot be JSON-serialized.
		return make(chan int), nil
	}))

	rig.writeJob(t, state.Planned, "job.yaml", "type: empty\n")

	require.NoError(t, rig.client(t).Run(context.Background(), RunOptions{}))

	assert.FileExists(t, rig.pathIn(state.Completed, "job.yaml"))
	assert.NoFileExists(t, rig.pathIn(state.Completed, "job.out"))
	assert.Len(t, rig.callback.writeErrors, 1)
}

func TestRun_DebugEscalatesWriteFailure(t *testing.T) {
	rig := newRig(t)

	require.NoError(t, consumer.Register(rig.registry, "empty", func(ctx context.Context, cfg *emptySpec, id string) (any, error) {
		return make(chan int), nil
	}))

	rig.writeJob(t, state.Planned, "job.yaml", "type: empty\n")

	err := rig.client(t).Run(context.Background(), RunOptions{Debug: true})
	require.Error(t, err)
	assert.FileExists(t, rig.pathIn(state.Active, "job.yaml"))
}

func TestRun_UnregisteredJobStaysPlanned(t *testing.T) {
	rig := newRig(t)

	// "output" is decodable but has no registered consumer.
	rig.writeJob(t, state.Planned, "job.yaml", "type: output\nspec:\n  text: hi\n")

	// The job stays planned, so every poll is non-empty and the idle
	// timeout never fires; the run has to be ended from outside.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, rig.client(t).Run(ctx, RunOptions{}), context.DeadlineExceeded)

	assert.FileExists(t, rig.pathIn(state.Planned, "job.yaml"))
	// The job was seen and reported on every poll.
	assert.GreaterOrEqual(t, len(rig.callback.unregistered), 2)
	assert.Equal(t, len(rig.callback.loaded), len(rig.callback.unregistered))
	assert.False(t, rig.callback.timedOut)
}

func TestRun_UndecodableJobStaysPlanned(t *testing.T) {
	rig := newRig(t)

	rig.writeJob(t, state.Planned, "bad.yaml", "type: [broken\n")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, rig.client(t).Run(ctx, RunOptions{}), context.DeadlineExceeded)

	assert.FileExists(t, rig.pathIn(state.Planned, "bad.yaml"))
	assert.GreaterOrEqual(t, len(rig.callback.unregistered), 1)
	assert.False(t, rig.callback.timedOut)
}

func TestRun_ResumeActive(t *testing.T) {
	rig := newRig(t)

	require.NoError(t, consumer.Register(rig.registry, "empty", func(ctx context.Context, cfg *emptySpec, id string) (any, error) {
		return nil, nil
	}))

	// A job left in Active by an ungraceful shutdown.
	rig.writeJob(t, state.Active, "job.yaml", "type: empty\n")

	require.NoError(t, rig.client(t).Run(context.Background(), RunOptions{ResumeActive: true}))

	assert.FileExists(t, rig.pathIn(state.Completed, "job.yaml"))
	assert.NoFileExists(t, rig.pathIn(state.Completed, "job.out"))
}

func TestRun_WithoutResumeActiveLeavesActive(t *testing.T) {
	rig := newRig(t)

	rig.writeJob(t, state.Active, "job.yaml", "type: empty\n")

	require.NoError(t, rig.client(t).Run(context.Background(), RunOptions{}))

	assert.FileExists(t, rig.pathIn(state.Active, "job.yaml"))
}

func TestRun_TimeoutOnEmptyDirectory(t *testing.T) {
	rig := newRig(t)

	start := time.Now()
	err := rig.client(t, WithTimeout(30*time.Millisecond)).Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.True(t, rig.callback.timedOut)
	assert.GreaterOrEqual(t, rig.callback.emptyPolls, 1)
	// The idle clock starts at loop entry, so the run lasts at least the
	// timeout rather than exiting on the first poll.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRun_PacingFiresWaitHook(t *testing.T) {
	rig := newRig(t)

	require.NoError(t, rig.client(t).Run(context.Background(), RunOptions{}))
	assert.GreaterOrEqual(t, rig.callback.waits, 1)
}

func TestRun_ContextCancellation(t *testing.T) {
	rig := newRig(t)

	ctx, cancel := context.WithCancel(context.Background())

	// No timeout: cancellation is the only way out.
	client := rig.client(t, WithTimeout(0))

	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx, RunOptions{})
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not stop after cancellation")
	}
}

func TestRun_ProcessesJobsInPollOrder(t *testing.T) {
	rig := newRig(t)

	var order []string
	require.NoError(t, consumer.Register(rig.registry, "empty", func(ctx context.Context, cfg *emptySpec, id string) (any, error) {
		order = append(order, id)
		return nil, nil
	}))

	rig.writeJob(t, state.Planned, "b.yaml", "type: empty\n")
	rig.writeJob(t, state.Planned, "a.yaml", "type: empty\n")

	require.NoError(t, rig.client(t).Run(context.Background(), RunOptions{}))

	assert.Equal(t, []string{"a.yaml", "b.yaml"}, order)
}
