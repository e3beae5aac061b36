package blocklist

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainsBlocked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "blocklist",
		Subsystem: "pipeline",
		Name:      "domains_blocked_total",
		Help:      "Number of blocked domains after the last refresh",
	})

	refreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "blocklist",
		Subsystem: "pipeline",
		Name:      "refreshes_total",
		Help:      "Total number of blocklist refreshes performed",
	})

	sourceFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "blocklist",
		Subsystem: "pipeline",
		Name:      "source_failures_total",
		Help:      "Total number of blocklist sources that failed to fetch",
	})
)

func RegisterMetrics(r prometheus.Registerer) {
	r.MustRegister(domainsBlocked, refreshes, sourceFailures)
}
