package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "logrelay"

// TailerMetrics holds the Prometheus metrics of the file tailer.
type TailerMetrics struct {
	BytesRead      *prometheus.CounterVec
	EntriesParsed  *prometheus.CounterVec
	MessagesSent   *prometheus.CounterVec
	Fragmentations prometheus.Counter
	Rotations      *prometheus.CounterVec
}

// NewTailerMetrics creates the tailer metrics and registers them with reg.
func NewTailerMetrics(reg prometheus.Registerer) *TailerMetrics {
	f := promauto.With(reg)
	return &TailerMetrics{
		BytesRead: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "bytes_read_total",
			Help:      "Total number of bytes read from watched files.",
		}, []string{"source"}),
		EntriesParsed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "entries_parsed_total",
			Help:      "Total number of entries produced by parsers.",
		}, []string{"source"}),
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "messages_total",
			Help:      "Total number of syslog messages by send status.",
		}, []string{"status"}), // status: sent, error
		Fragmentations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "fragmentations_total",
			Help:      "Total number of times an oversized message was halved and resent.",
		}),
		Rotations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "rotations_total",
			Help:      "Total number of detected file rotations.",
		}, []string{"source"}),
	}
}

// CollectorMetrics holds the Prometheus metrics of the collector and writer.
type CollectorMetrics struct {
	DatagramsTotal  *prometheus.CounterVec
	EventsTotal     *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	SpillActive     prometheus.Gauge
	SpilledTotal    prometheus.Counter
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	StoreRetries    prometheus.Counter
	PersistDuration prometheus.Histogram
}

// NewCollectorMetrics creates the collector metrics and registers them with reg.
func NewCollectorMetrics(reg prometheus.Registerer) *CollectorMetrics {
	f := promauto.With(reg)
	return &CollectorMetrics{
		DatagramsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "datagrams_total",
			Help:      "Total number of received datagrams by status.",
		}, []string{"status"}), // status: accepted, malformed, dropped
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "events_total",
			Help:      "Total number of events handled by the writer by status.",
		}, []string{"status"}), // status: persisted, failed
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "queue_depth",
			Help:      "Number of events waiting in memory.",
		}),
		SpillActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "spill_active_gauge",
			Help:      "Indicates if events are currently held in the disk spill (1 for active, 0 for inactive).",
		}),
		SpilledTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "spilled_events_total",
			Help:      "Total number of events written to the disk spill.",
		}),
		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of identity cache hits.",
		}, []string{"cache"}),
		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of identity cache misses.",
		}, []string{"cache"}),
		StoreRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Total number of store operations retried after a connection error.",
		}),
		PersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "persist_duration_seconds",
			Help:      "Time taken to persist one event.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
