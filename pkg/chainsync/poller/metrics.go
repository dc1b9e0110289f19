package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments exported by a Poller, grounded
// on pipeline.Metrics' namespace/subsystem construction idiom.
type Metrics struct {
	PollsTotal        prometheus.Counter
	PollErrorsTotal   prometheus.Counter
	ConsecutiveErrors prometheus.Gauge
	LatestPolledBlock prometheus.Gauge
}

// NewMetrics creates and registers a Poller's Prometheus metrics under
// namespace/subsystem, defaulting to "chainsync"/"poller".
func NewMetrics(namespace, subsystem string) *Metrics {
	if namespace == "" {
		namespace = "chainsync"
	}
	if subsystem == "" {
		subsystem = "poller"
	}

	return &Metrics{
		PollsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "polls_total",
			Help:      "Total number of latest-block polls attempted",
		}),
		PollErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "poll_errors_total",
			Help:      "Total number of latest-block polls that failed",
		}),
		ConsecutiveErrors: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "consecutive_errors",
			Help:      "Current consecutive poll-error count, independent of the pipeline supervisor's counter",
		}),
		LatestPolledBlock: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "latest_polled_block",
			Help:      "Number of the most recently polled chain tip",
		}),
	}
}
