// Package metrics exposes Prometheus collectors for the intake pipeline.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loanwise/loan-portal/loan-portal-backend/pkg/workerpool"
)

// Collector holds the pipeline collectors on a private registry
type Collector struct {
	registry *prometheus.Registry

	submissions        *prometheus.CounterVec
	pipelineOutcomes   *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	invocations        *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	uploads            *prometheus.CounterVec
	notifications      *prometheus.CounterVec
	sweeps             prometheus.Counter
}

// NewCollector creates a collector registered under namespace
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "loan_portal"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "submissions_total",
			Help:      "Submissions by admission result (accepted, invalid, capacity)",
		},
		[]string{"result"},
	)

	c.pipelineOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "outcomes_total",
			Help:      "Verification cycles by final application status",
		},
		[]string{"status"},
	)

	c.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "transitions_total",
			Help:      "Application status transitions",
		},
		[]string{"from", "to"},
	)

	c.invocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verifier",
			Name:      "invocations_total",
			Help:      "Verifier invocations by result (VALID, INVALID, PARTIAL or an error kind)",
		},
		[]string{"result"},
	)

	c.invocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "verifier",
			Name:      "invocation_duration_seconds",
			Help:      "Wall-clock duration of verifier invocations",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"result"},
	)

	c.uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "uploads_total",
			Help:      "Document uploads by result",
		},
		[]string{"result"},
	)

	c.notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Status notifications by result",
		},
		[]string{"result"},
	)

	c.sweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "stalled_total",
			Help:      "Applications moved to review after stalling mid-pipeline",
		},
	)

	c.registry.MustRegister(
		c.submissions,
		c.pipelineOutcomes,
		c.transitions,
		c.invocations,
		c.invocationDuration,
		c.uploads,
		c.notifications,
		c.sweeps,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)

	return c
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler exposes the registry for scraping
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RegisterPool publishes worker pool gauges read at scrape time
func (c *Collector) RegisterPool(namespace string, stats func() workerpool.Stats) {
	if c == nil {
		return
	}
	if namespace == "" {
		namespace = "loan_portal"
	}
	gauge := func(name, help string, read func(workerpool.Stats) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(stats())) })
	}
	c.registry.MustRegister(
		gauge("workers", "Live pool workers", func(s workerpool.Stats) int { return s.Workers }),
		gauge("idle_workers", "Idle pool workers", func(s workerpool.Stats) int { return s.Idle }),
		gauge("waiting_tasks", "Admitted tasks not yet started", func(s workerpool.Stats) int { return s.Waiting }),
		gauge("active_keys", "Applications with queued or running work", func(s workerpool.Stats) int { return s.Keys }),
	)
}

func (c *Collector) RecordSubmission(result string) {
	if c == nil {
		return
	}
	c.submissions.WithLabelValues(result).Inc()
}

func (c *Collector) RecordOutcome(status string) {
	if c == nil {
		return
	}
	c.pipelineOutcomes.WithLabelValues(status).Inc()
}

func (c *Collector) RecordTransition(from, to string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(from, to).Inc()
}

func (c *Collector) RecordInvocation(result string, duration time.Duration) {
	if c == nil {
		return
	}
	c.invocations.WithLabelValues(result).Inc()
	c.invocationDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func (c *Collector) RecordUpload(err error) {
	if c == nil {
		return
	}
	c.uploads.WithLabelValues(resultLabel(err)).Inc()
}

func (c *Collector) RecordNotification(err error) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(resultLabel(err)).Inc()
}

func (c *Collector) RecordStalled() {
	if c == nil {
		return
	}
	c.sweeps.Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
