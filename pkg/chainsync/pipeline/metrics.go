package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments exported by a Pipeline,
// grounded on the teacher's pkg/events metrics.go namespace/subsystem
// construction idiom.
type Metrics struct {
	QueueDepth        prometheus.Gauge
	UnfinalizedBlocks prometheus.Gauge
	FinalizeLag       prometheus.Gauge
	ConsecutiveErrors prometheus.Gauge

	BlocksIngestedTotal  prometheus.Counter
	ReorgsTotal          prometheus.Counter
	ReorgDepth           prometheus.Histogram
	FinalizationsTotal   prometheus.Counter
	GapFillBlocksTotal   prometheus.Counter
	FatalErrorsTotal     prometheus.Counter
}

// NewMetrics creates and registers a Pipeline's Prometheus metrics under
// namespace/subsystem, defaulting to "chainsync"/"pipeline".
func NewMetrics(namespace, subsystem string) *Metrics {
	if namespace == "" {
		namespace = "chainsync"
	}
	if subsystem == "" {
		subsystem = "pipeline"
	}

	return &Metrics{
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_depth",
			Help:      "Current number of fetched blocks waiting in the pipeline queue",
		}),
		UnfinalizedBlocks: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "unfinalized_blocks",
			Help:      "Current length of the unfinalized block list",
		}),
		FinalizeLag: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "finalize_lag_blocks",
			Help:      "Blocks between the current head and the last finalized block",
		}),
		ConsecutiveErrors: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "consecutive_errors",
			Help:      "Current consecutive ingest-error count tracked by the supervisor",
		}),
		BlocksIngestedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "blocks_ingested_total",
			Help:      "Total number of blocks ingested on the happy path",
		}),
		ReorgsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reorgs_total",
			Help:      "Total number of reorgs detected",
		}),
		ReorgDepth: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reorg_depth_blocks",
			Help:      "Distribution of reorg depths (number of blocks rewound)",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}),
		FinalizationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "finalizations_total",
			Help:      "Total number of finalize events emitted",
		}),
		GapFillBlocksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "gap_fill_blocks_total",
			Help:      "Total number of blocks fetched to fill a detected gap",
		}),
		FatalErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fatal_errors_total",
			Help:      "Total number of fatal errors promoted to onFatalError",
		}),
	}
}
