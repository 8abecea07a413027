// Package metrics exposes the scheduler lifecycle as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/spoolworks/spool/pkg/codec"
	"github.com/spoolworks/spool/pkg/scheduler"
)

// Callback implements scheduler.Callback by counting lifecycle events. It
// can be chained in front of another callback so logging keeps working.
type Callback struct {
	scheduler.NopCallback

	next scheduler.Callback

	jobsLoaded      *prometheus.CounterVec
	jobsConsumed    *prometheus.CounterVec
	jobsFailed      *prometheus.CounterVec
	unregistered    *prometheus.CounterVec
	emptyPolls      prometheus.Counter
	idleTimeouts    prometheus.Counter
	consumeDuration *prometheus.HistogramVec
}

var _ scheduler.Callback = (*Callback)(nil)

// InitCallback registers the scheduler metrics on reg and returns a
// Callback feeding them. Events are forwarded to next after being counted;
// a nil next disables forwarding.
func InitCallback(namespace string, reg prometheus.Registerer, next scheduler.Callback) *Callback {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if next == nil {
		next = scheduler.NopCallback{}
	}

	c := &Callback{
		next: next,
		jobsLoaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_loaded_total",
				Help:      "Job documents read from the planned location",
			},
			[]string{"tag"},
		),
		jobsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_consumed_total",
				Help:      "Jobs whose consumer returned without error",
			},
			[]string{"tag"},
		),
		jobsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_failed_total",
				Help:      "Job failures by stage (run or write)",
			},
			[]string{"tag", "stage"},
		),
		unregistered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_unregistered_total",
				Help:      "Jobs seen with no registered consumer",
			},
			[]string{"tag"},
		),
		emptyPolls: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "polls_empty_total",
				Help:      "Polls that found no job documents",
			},
		),
		idleTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "idle_timeouts_total",
				Help:      "Run loop exits caused by the idle timeout",
			},
		),
		consumeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "consume_duration_seconds",
				Help:      "Duration of successful consumer invocations",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"tag"},
		),
	}

	reg.MustRegister(
		c.jobsLoaded,
		c.jobsConsumed,
		c.jobsFailed,
		c.unregistered,
		c.emptyPolls,
		c.idleTimeouts,
		c.consumeDuration,
	)

	return c
}

func tagOf(cfg *codec.Config) string {
	if cfg == nil {
		return "unknown"
	}
	return cfg.Tag
}

func (c *Callback) OnConfigLoaded(id string, cfg *codec.Config) {
	c.jobsLoaded.WithLabelValues(tagOf(cfg)).Inc()
	c.next.OnConfigLoaded(id, cfg)
}

func (c *Callback) OnConfigConsumed(id string, cfg *codec.Config, took time.Duration) {
	c.jobsConsumed.WithLabelValues(tagOf(cfg)).Inc()
	c.consumeDuration.WithLabelValues(tagOf(cfg)).Observe(took.Seconds())
	c.next.OnConfigConsumed(id, cfg, took)
}

func (c *Callback) OnUnregisteredConfig(id string, cfg *codec.Config) {
	c.unregistered.WithLabelValues(tagOf(cfg)).Inc()
	c.next.OnUnregisteredConfig(id, cfg)
}

func (c *Callback) OnFailedToRun(id string, cfg *codec.Config, err error) {
	c.jobsFailed.WithLabelValues(tagOf(cfg), "run").Inc()
	c.next.OnFailedToRun(id, cfg, err)
}

func (c *Callback) OnFailedToWriteResult(id string, cfg *codec.Config, result any, err error) {
	c.jobsFailed.WithLabelValues(tagOf(cfg), "write").Inc()
	c.next.OnFailedToWriteResult(id, cfg, result, err)
}

func (c *Callback) OnNoConfigsFound() {
	c.emptyPolls.Inc()
	c.next.OnNoConfigsFound()
}

func (c *Callback) OnWaitingForNextPoll(d time.Duration) {
	c.next.OnWaitingForNextPoll(d)
}

func (c *Callback) OnTimeout() {
	c.idleTimeouts.Inc()
	c.next.OnTimeout()
}
