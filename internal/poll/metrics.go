package poll

import "github.com/prometheus/client_golang/prometheus"

var (
	cycleSuccess = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_poll_cycle_success_total",
			Help: "Successful update cycles",
		},
		[]string{"updater"},
	)
	cycleFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_poll_cycle_failure_total",
			Help: "Failed update cycles",
		},
		[]string{"updater"},
	)
	lastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gohome_poll_last_success_timestamp_seconds",
			Help: "Last successful update cycle (epoch seconds)",
		},
		[]string{"updater"},
	)
	cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gohome_poll_cycle_duration_seconds",
			Help:    "Update cycle duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"updater"},
	)
)

// MetricsCollectors returns collectors for the shared poll module.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		cycleSuccess,
		cycleFailure,
		lastSuccess,
		cycleDuration,
	}
}
