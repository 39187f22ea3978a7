// Package telemetry exposes the ambient observability stack: Prometheus
// metrics and a batched Postgres session recorder, neither named in
// spec.md but carried forward as ambient infrastructure per the project's
// conventions (SPEC_FULL.md "Ambient Stack"). Grounded on the teacher's
// internal/engine/metrics_core.go (promauto metric construction) and
// async_writer_core.go/async_writer_flush.go (batched, ticker-flushed
// writer over sqlx).
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the engine exposes. Construct
// once via New (or Get) and share the pointer across components.
type Metrics struct {
	PadPressedTotal   prometheus.Counter
	BankSelectedTotal prometheus.Counter
	SnapSelectedTotal prometheus.Counter

	MorphsStarted   prometheus.Counter
	MorphsCompleted prometheus.Counter
	MorphsCancelled prometheus.Counter
	MorphTickLatency prometheus.Histogram

	CCValuesSent   *prometheus.CounterVec
	CCSendFailures prometheus.Counter

	BusSubscriberLag *prometheus.CounterVec
	BusSubscribers   prometheus.Gauge

	TempoClockTimeouts prometheus.Counter
	TempoClockBPM      prometheus.Gauge

	RecorderQueueDepth prometheus.Gauge
	RecorderFlushFail  prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Get returns the process-wide Metrics singleton, constructing it on first
// use (spec.md's ambient stack carries the teacher's GetMetrics() pattern
// from internal/engine/metrics_core.go).
func Get() *Metrics {
	once.Do(func() { metrics = New() })
	return metrics
}

// New constructs a fresh Metrics registered against the default Prometheus
// registry. Registration panics on a duplicate name, so New can be called
// only once per process; later callers use Get().
func New() *Metrics {
	return &Metrics{
		PadPressedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "snapblaster_pad_pressed_total",
			Help: "Total number of PadPressed events routed.",
		}),
		BankSelectedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "snapblaster_bank_selected_total",
			Help: "Total number of bank selections.",
		}),
		SnapSelectedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "snapblaster_snap_selected_total",
			Help: "Total number of plain snap selections.",
		}),
		MorphsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "snapblaster_morphs_started_total",
			Help: "Total number of morphs initiated.",
		}),
		MorphsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "snapblaster_morphs_completed_total",
			Help: "Total number of MorphCompleted events observed, finished or cancelled.",
		}),
		MorphsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "snapblaster_morphs_cancelled_total",
			Help: "Total number of morphs cancelled by preemption or plain select.",
		}),
		MorphTickLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "snapblaster_morph_tick_latency_seconds",
			Help:    "Wall-clock gap between consecutive morph ticks.",
			Buckets: prometheus.DefBuckets,
		}),
		CCValuesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "snapblaster_cc_values_sent_total",
			Help: "Total number of CC writes sent, by source.",
		}, []string{"source"}),
		CCSendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "snapblaster_cc_send_failures_total",
			Help: "Total number of outbound CC writes that failed.",
		}),
		BusSubscriberLag: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "snapblaster_bus_subscriber_lag_total",
			Help: "Total number of events dropped for a lagging subscriber.",
		}, []string{"subscriber"}),
		BusSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "snapblaster_bus_subscribers",
			Help: "Current number of live bus subscribers.",
		}),
		TempoClockTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "snapblaster_tempoclock_timeouts_total",
			Help: "Total number of tempo-clock requests that fell back on timeout.",
		}),
		TempoClockBPM: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "snapblaster_tempoclock_bpm",
			Help: "Last observed tempo in beats per minute.",
		}),
		RecorderQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "snapblaster_recorder_queue_depth",
			Help: "Current number of morph sessions queued for persistence.",
		}),
		RecorderFlushFail: promauto.NewCounter(prometheus.CounterOpts{
			Name: "snapblaster_recorder_flush_failures_total",
			Help: "Total number of recorder batch flushes that failed.",
		}),
	}
}
