package apply

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	applies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "config",
		Subsystem: "apply",
		Name:      "attempts_total",
		Help:      "Total number of configuration apply attempts by outcome",
	}, []string{"outcome"})
)

func RegisterMetrics(r prometheus.Registerer) {
	r.MustRegister(applies)
}
