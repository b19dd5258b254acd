package tokenstore

import "github.com/prometheus/client_golang/prometheus"

var (
	persistFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_tokenstore_persist_failure_total",
			Help: "Failed token state writes",
		},
		[]string{"provider"},
	)
	remotePersistOK = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gohome_tokenstore_remote_persist_ok",
			Help: "Remote blob persistence health (1=ok, 0=error)",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors returns collectors for the shared token store.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		persistFailure,
		remotePersistOK,
	}
}
