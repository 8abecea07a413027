package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/spoolworks/spool/pkg/codec"
	"github.com/spoolworks/spool/pkg/scheduler"
)

func TestCallback_CountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := InitCallback("spool", reg, nil)

	cfg := &codec.Config{Tag: "git-pull"}

	c.OnConfigLoaded("a.yaml", cfg)
	c.OnConfigLoaded("b.yaml", cfg)
	c.OnConfigConsumed("a.yaml", cfg, 250*time.Millisecond)
	c.OnFailedToRun("b.yaml", cfg, errors.New("boom"))
	c.OnFailedToWriteResult("a.yaml", cfg, "result", errors.New("disk full"))
	c.OnUnregisteredConfig("c.yaml", nil)
	c.OnNoConfigsFound()
	c.OnNoConfigsFound()
	c.OnTimeout()

	assert.Equal(t, float64(2), testutil.ToFloat64(c.jobsLoaded.WithLabelValues("git-pull")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.jobsConsumed.WithLabelValues("git-pull")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.jobsFailed.WithLabelValues("git-pull", "run")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.jobsFailed.WithLabelValues("git-pull", "write")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.unregistered.WithLabelValues("unknown")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.emptyPolls))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.idleTimeouts))
}

func TestCallback_ForwardsToNext(t *testing.T) {
	reg := prometheus.NewRegistry()

	var gotTimeout bool
	next := &timeoutRecorder{flag: &gotTimeout}
	c := InitCallback("spool", reg, next)

	c.OnTimeout()
	assert.True(t, gotTimeout)
}

type timeoutRecorder struct {
	scheduler.NopCallback
	flag *bool
}

func (r *timeoutRecorder) OnTimeout() { *r.flag = true }
