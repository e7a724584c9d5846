// Package prometheus exposes job and drain metrics as Prometheus collectors
package prometheus

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/BranchIntl/jobworker/core"
	"github.com/BranchIntl/jobworker/job"
)

// Options for Prometheus statistics
type Options struct {
	// Namespace prefixes every metric name
	Namespace string
	// Buckets for the job duration histogram
	Buckets []float64
}

// DefaultOptions returns default Prometheus options
func DefaultOptions() Options {
	return Options{
		Namespace: "jobworker",
		Buckets:   prometheus.DefBuckets,
	}
}

// Statistics records metrics on a Prometheus registry
type Statistics struct {
	workers        prometheus.Gauge
	jobsStarted    *prometheus.CounterVec
	jobsCompleted  *prometheus.CounterVec
	jobsFailed     *prometheus.CounterVec
	jobsActive     *prometheus.GaugeVec
	jobDuration    *prometheus.HistogramVec
	drains         *prometheus.CounterVec
	drainDuration  prometheus.Histogram
	drainRemaining prometheus.Gauge
}

// NewStatistics registers the collectors on reg
func NewStatistics(reg prometheus.Registerer, options Options) *Statistics {
	factory := promauto.With(reg)
	ns := options.Namespace

	return &Statistics{
		workers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "workers",
			Help:      "Number of registered workers.",
		}),
		jobsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "jobs_started_total",
			Help:      "Total number of jobs handed to a handler.",
		}, []string{"type"}),
		jobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "jobs_completed_total",
			Help:      "Total number of jobs reported as completed.",
		}, []string{"type"}),
		jobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "jobs_failed_total",
			Help:      "Total number of jobs reported as failed.",
		}, []string{"type"}),
		jobsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "jobs_active",
			Help:      "Number of jobs whose handler is running.",
		}, []string{"type"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "job_duration_seconds",
			Help:      "Duration of job handling in seconds.",
			Buckets:   options.Buckets,
		}, []string{"type", "outcome"}),
		drains: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "drains_total",
			Help:      "Total number of shutdown drain waits.",
		}, []string{"result"}),
		drainDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "drain_duration_seconds",
			Help:      "Duration of shutdown drain waits in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		drainRemaining: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "drain_remaining_handlers",
			Help:      "Handlers still running when the last drain wait ended.",
		}),
	}
}

// Connect is a no-op; collectors are registered at construction
func (s *Statistics) Connect(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *Statistics) Close() error {
	return nil
}

// Health always reports healthy
func (s *Statistics) Health() error {
	return nil
}

// Type returns the statistics backend type
func (s *Statistics) Type() string {
	return "prometheus"
}

func (s *Statistics) RegisterWorker(ctx context.Context, worker core.WorkerInfo) error {
	s.workers.Inc()
	return nil
}

func (s *Statistics) UnregisterWorker(ctx context.Context, workerID string) error {
	s.workers.Dec()
	return nil
}

func (s *Statistics) RecordJobStarted(ctx context.Context, j job.Job, worker core.WorkerInfo) error {
	s.jobsStarted.WithLabelValues(j.GetType()).Inc()
	s.jobsActive.WithLabelValues(j.GetType()).Inc()
	return nil
}

func (s *Statistics) RecordJobCompleted(ctx context.Context, j job.Job, worker core.WorkerInfo, duration time.Duration) error {
	s.jobsCompleted.WithLabelValues(j.GetType()).Inc()
	s.jobsActive.WithLabelValues(j.GetType()).Dec()
	s.jobDuration.WithLabelValues(j.GetType(), "completed").Observe(duration.Seconds())
	return nil
}

func (s *Statistics) RecordJobFailed(ctx context.Context, j job.Job, worker core.WorkerInfo, err error, duration time.Duration) error {
	s.jobsFailed.WithLabelValues(j.GetType()).Inc()
	s.jobsActive.WithLabelValues(j.GetType()).Dec()
	s.jobDuration.WithLabelValues(j.GetType(), "failed").Observe(duration.Seconds())
	return nil
}

func (s *Statistics) RecordDrain(duration time.Duration, drained bool, remaining int64) {
	result := "drained"
	if !drained {
		result = "timeout"
	}
	s.drains.WithLabelValues(result).Inc()
	s.drainDuration.Observe(duration.Seconds())
	s.drainRemaining.Set(float64(remaining))
}

var _ core.Statistics = (*Statistics)(nil)
