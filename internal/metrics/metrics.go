// =============================================================================
// OBSERVABILITY WITH PROMETHEUS - FILESTOR HANDLER METRICS
// =============================================================================
//
// WHAT WE MEASURE:
// The dispatch core is the contended heart of the storage node, so the
// metrics answer the questions an operator actually asks about it:
//
//   - How deep are the queues?              filestor_queue_size{disk}
//                                           filestor_stripe_queue_size{disk,stripe}
//   - How long does work wait?              filestor_queue_wait_seconds{disk}
//   - What happens to scheduled work?       filestor_dispatched_total{disk}
//                                           filestor_queue_timeouts_total{disk}
//                                           filestor_aborted_total
//                                           filestor_rejected_total{disk}
//   - How many bucket locks are held?       filestor_locks_held{disk,mode}
//   - Is maintenance in progress?           filestor_remapped_total{operation}
//                                           filestor_active_merges
//
// CARDINALITY:
// disk and stripe counts are small and fixed at startup (single digits times
// tens), so per-stripe labels are safe. Nothing here is labeled by bucket or
// message id.
//
// NAMING:
// {namespace}_{name}_{unit}, namespace "filestor", following Prometheus
// conventions: _total for counters, _seconds for durations.
//
// =============================================================================

package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds metrics configuration.
type Config struct {
	// Enabled turns collection on. When false every recording method is a
	// no-op and the /metrics handler serves an empty registry.
	Enabled bool

	// Namespace prefixes every metric name. Default "filestor".
	Namespace string

	// IncludeGoCollector adds Go runtime metrics (goroutines, GC, heap).
	IncludeGoCollector bool

	// IncludeProcessCollector adds process metrics (CPU, RSS, fds).
	IncludeProcessCollector bool

	// WaitBuckets are the histogram buckets, in seconds, for queue wait
	// time. The defaults span sub-millisecond dispatch up to the queue
	// timeout range.
	WaitBuckets []float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		Namespace:               "filestor",
		IncludeGoCollector:      true,
		IncludeProcessCollector: true,
		WaitBuckets: []float64{
			0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05,
			0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
		},
	}
}

// Registry owns the prometheus registry and the handler metric family.
type Registry struct {
	promRegistry *prometheus.Registry
	config       Config

	Handler *HandlerMetrics
}

// NewRegistry builds a registry, registers all metric families and optional
// runtime collectors, and returns it ready to serve.
func NewRegistry(config Config) *Registry {
	if config.Namespace == "" {
		config.Namespace = "filestor"
	}
	if len(config.WaitBuckets) == 0 {
		config.WaitBuckets = DefaultConfig().WaitBuckets
	}

	reg := prometheus.NewRegistry()
	r := &Registry{
		promRegistry: reg,
		config:       config,
		Handler:      newHandlerMetrics(config),
	}

	if !config.Enabled {
		return r
	}

	if config.IncludeGoCollector {
		reg.MustRegister(collectors.NewGoCollector())
	}
	if config.IncludeProcessCollector {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	r.Handler.register(reg)

	return r
}

// HTTPHandler returns the /metrics endpoint handler.
func (r *Registry) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(r.promRegistry, promhttp.HandlerOpts{})
}

// =============================================================================
// HANDLER METRICS
// =============================================================================

// HandlerMetrics is the dispatch core's metric family. All methods are safe
// for concurrent use and are no-ops when metrics are disabled.
type HandlerMetrics struct {
	enabled bool

	scheduled     *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	dispatched    *prometheus.CounterVec
	queueTimeouts *prometheus.CounterVec
	aborted       prometheus.Counter
	remapped      *prometheus.CounterVec
	failed        *prometheus.CounterVec

	queueSize       *prometheus.GaugeVec
	stripeQueueSize *prometheus.GaugeVec
	locksHeld       *prometheus.GaugeVec
	activeMerges    prometheus.Gauge

	queueWait *prometheus.HistogramVec
}

func newHandlerMetrics(config Config) *HandlerMetrics {
	ns := config.Namespace
	return &HandlerMetrics{
		enabled: config.Enabled,
		scheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "scheduled_total",
			Help: "Messages accepted into a disk queue.",
		}, []string{"disk"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "rejected_total",
			Help: "Messages rejected because the disk was not open.",
		}, []string{"disk"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "dispatched_total",
			Help: "Messages handed to a worker together with a bucket lock.",
		}, []string{"disk"}),
		queueTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "queue_timeouts_total",
			Help: "Messages reaped from the queue after exceeding their timeout.",
		}, []string{"disk"}),
		aborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "aborted_total",
			Help: "Queued messages flushed by abort commands.",
		}),
		remapped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "remapped_total",
			Help: "Queued messages moved to a new bucket by split, join or move.",
		}, []string{"operation"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "failed_operations_total",
			Help: "Queued messages flushed with an error by failOperations.",
		}, []string{"disk"}),
		queueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "queue_size",
			Help: "Messages currently queued per disk.",
		}, []string{"disk"}),
		stripeQueueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "stripe_queue_size",
			Help: "Messages currently queued per stripe.",
		}, []string{"disk", "stripe"}),
		locksHeld: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "locks_held",
			Help: "Bucket locks currently held by workers.",
		}, []string{"disk", "mode"}),
		activeMerges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "active_merges",
			Help: "Merge operations currently tracked by the handler.",
		}),
		queueWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "queue_wait_seconds",
			Help:    "Time from schedule to dispatch or reap.",
			Buckets: config.WaitBuckets,
		}, []string{"disk"}),
	}
}

func (m *HandlerMetrics) register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.scheduled, m.rejected, m.dispatched, m.queueTimeouts, m.aborted,
		m.remapped, m.failed, m.queueSize, m.stripeQueueSize, m.locksHeld,
		m.activeMerges, m.queueWait,
	)
}

func diskLabel(disk int) string { return strconv.Itoa(disk) }

// Scheduled records a message accepted into disk's queue.
func (m *HandlerMetrics) Scheduled(disk int) {
	if m.enabled {
		m.scheduled.WithLabelValues(diskLabel(disk)).Inc()
	}
}

// Rejected records a schedule refused because the disk was not open.
func (m *HandlerMetrics) Rejected(disk int) {
	if m.enabled {
		m.rejected.WithLabelValues(diskLabel(disk)).Inc()
	}
}

// Dispatched records a message handed to a worker, with its queue wait.
func (m *HandlerMetrics) Dispatched(disk int, waitSeconds float64) {
	if m.enabled {
		m.dispatched.WithLabelValues(diskLabel(disk)).Inc()
		m.queueWait.WithLabelValues(diskLabel(disk)).Observe(waitSeconds)
	}
}

// QueueTimeout records a message reaped after exceeding its timeout.
func (m *HandlerMetrics) QueueTimeout(disk int, waitSeconds float64) {
	if m.enabled {
		m.queueTimeouts.WithLabelValues(diskLabel(disk)).Inc()
		m.queueWait.WithLabelValues(diskLabel(disk)).Observe(waitSeconds)
	}
}

// Aborted records n messages flushed by an abort command.
func (m *HandlerMetrics) Aborted(n int) {
	if m.enabled && n > 0 {
		m.aborted.Add(float64(n))
	}
}

// Remapped records a queued message moved by the named operation.
func (m *HandlerMetrics) Remapped(operation string) {
	if m.enabled {
		m.remapped.WithLabelValues(operation).Inc()
	}
}

// FailedOperation records a message flushed with an error.
func (m *HandlerMetrics) FailedOperation(disk int) {
	if m.enabled {
		m.failed.WithLabelValues(diskLabel(disk)).Inc()
	}
}

// SetQueueSize publishes the per-disk queue depth.
func (m *HandlerMetrics) SetQueueSize(disk, size int) {
	if m.enabled {
		m.queueSize.WithLabelValues(diskLabel(disk)).Set(float64(size))
	}
}

// SetStripeQueueSize publishes one stripe's queue depth.
func (m *HandlerMetrics) SetStripeQueueSize(disk, stripe, size int) {
	if m.enabled {
		m.stripeQueueSize.WithLabelValues(diskLabel(disk), strconv.Itoa(stripe)).Set(float64(size))
	}
}

// LockAcquired / LockReleased track held bucket locks by mode.
func (m *HandlerMetrics) LockAcquired(disk int, mode string) {
	if m.enabled {
		m.locksHeld.WithLabelValues(diskLabel(disk), mode).Inc()
	}
}

func (m *HandlerMetrics) LockReleased(disk int, mode string) {
	if m.enabled {
		m.locksHeld.WithLabelValues(diskLabel(disk), mode).Dec()
	}
}

// SetActiveMerges publishes the tracked merge count.
func (m *HandlerMetrics) SetActiveMerges(n int) {
	if m.enabled {
		m.activeMerges.Set(float64(n))
	}
}

// NopHandlerMetrics returns a disabled metric family for tests that do not
// care about observability.
func NopHandlerMetrics() *HandlerMetrics {
	return newHandlerMetrics(Config{Enabled: false})
}
