package behavior

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oriys/workq/internal/clock"
	"github.com/oriys/workq/internal/eventhub"
	"github.com/oriys/workq/internal/queue"
	"github.com/oriys/workq/internal/timer"
)

// defaultSampleInterval is how often the gauge metrics (count, working,
// deadletter) are refreshed from the engine's point-in-time stats.
const defaultSampleInterval = 10 * time.Second

// MetricsConfig configures the Prometheus metrics behavior. Name becomes
// the value of the "queue" const label on every collector.
type MetricsConfig struct {
	Namespace      string
	Name           string
	Registry       prometheus.Registerer
	SampleInterval time.Duration
}

// Metrics is a Behavior that records the default queue metrics
// (enqueued, dequeued, completed, abandoned, queuetime, processtime,
// count, working, deadletter) via Prometheus Counter/Histogram/Gauge
// collectors.
type Metrics[T any] struct {
	cfg MetricsConfig

	enqueued       prometheus.Counter
	dequeued       prometheus.Counter
	completed      prometheus.Counter
	abandoned      prometheus.Counter
	deadLetterRate prometheus.Counter

	queueTime   prometheus.Histogram
	processTime prometheus.Histogram

	count      prometheus.Gauge
	working    prometheus.Gauge
	deadLetter prometheus.Gauge

	lastDeadLetterCount atomic.Int64
}

// NewMetrics constructs the metrics behavior and registers its
// collectors. It does not attach to any engine until Attach is called.
func NewMetrics[T any](cfg MetricsConfig) *Metrics[T] {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = defaultSampleInterval
	}
	labels := prometheus.Labels{"queue": cfg.Name}
	m := &Metrics[T]{
		cfg: cfg,
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Name: "enqueued_total", Help: "Entries admitted to the queue.", ConstLabels: labels,
		}),
		dequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Name: "dequeued_total", Help: "Entries leased by a consumer.", ConstLabels: labels,
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Name: "completed_total", Help: "Entries completed successfully.", ConstLabels: labels,
		}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Name: "abandoned_total", Help: "Entries abandoned by a consumer.", ConstLabels: labels,
		}),
		deadLetterRate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Name: "deadletter_total", Help: "Entries moved to the dead letter queue.", ConstLabels: labels,
		}),
		queueTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Name: "queuetime_seconds", Help: "Time an entry spent pending before being dequeued.", ConstLabels: labels,
			Buckets: prometheus.DefBuckets,
		}),
		processTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Name: "processtime_seconds", Help: "Time a handler spent processing an entry.", ConstLabels: labels,
			Buckets: prometheus.DefBuckets,
		}),
		count: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Name: "pending_count", Help: "Entries currently pending.", ConstLabels: labels,
		}),
		working: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Name: "working_count", Help: "Entries currently leased.", ConstLabels: labels,
		}),
		deadLetter: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Name: "deadletter_count", Help: "Entries currently in the dead letter queue.", ConstLabels: labels,
		}),
	}

	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		m.enqueued, m.dequeued, m.completed, m.abandoned, m.deadLetterRate,
		m.queueTime, m.processTime, m.count, m.working, m.deadLetter,
	} {
		if err := reg.Register(c); err != nil {
			// A duplicate registration (e.g. two engines sharing a
			// namespace/name pair) is not fatal: metrics degrade to
			// no-ops for the collector instead of panicking the caller.
			_ = fmt.Errorf("behavior: register metric: %w", err)
		}
	}
	return m
}

// Attach wires the counters/histograms to engine's lifecycle events and
// starts a sampling timer for the three gauges. The dead-letter counter
// is derived from the gauge's monotonic growth between samples, since
// the Abandoned event fires before the engine decides whether an entry
// is retried or dead-lettered.
func (m *Metrics[T]) Attach(engine *queue.Engine[T]) eventhub.Disposer {
	d1 := engine.OnEnqueued(func(ctx context.Context, eng *queue.Engine[T], entry *queue.Entry[T]) {
		m.enqueued.Inc()
	})
	d2 := engine.OnDequeued(func(ctx context.Context, eng *queue.Engine[T], entry *queue.Entry[T]) {
		m.dequeued.Inc()
		m.queueTime.Observe(entry.DequeuedAtUTC.Sub(entry.EnqueuedAtUTC).Seconds())
	})
	d3 := engine.OnCompleted(func(ctx context.Context, eng *queue.Engine[T], entry *queue.Entry[T]) {
		m.completed.Inc()
		m.processTime.Observe(entry.ProcessingTime.Seconds())
	})
	d4 := engine.OnAbandoned(func(ctx context.Context, eng *queue.Engine[T], entry *queue.Entry[T]) {
		m.abandoned.Inc()
		m.processTime.Observe(entry.ProcessingTime.Seconds())
	})

	interval := m.cfg.SampleInterval
	var sample timer.Callback
	sample = func(ctx context.Context) time.Time {
		stats := engine.GetStats()
		m.count.Set(float64(stats.Pending))
		m.working.Set(float64(stats.Leased))
		m.deadLetter.Set(float64(stats.DeadLetter))

		prev := m.lastDeadLetterCount.Swap(int64(stats.DeadLetter))
		if delta := int64(stats.DeadLetter) - prev; delta > 0 {
			m.deadLetterRate.Add(float64(delta))
		}
		return time.Now().Add(interval)
	}

	sampler := timer.New(clock.New(), sample)
	sampler.ScheduleNext(time.Now().Add(interval))

	return func() {
		d1()
		d2()
		d3()
		d4()
		sampler.Dispose()
	}
}
