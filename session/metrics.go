package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the runtime's Prometheus collectors. Binaries expose
// it over promhttp when a metrics address is configured.
var Registry = prometheus.NewRegistry()

var (
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qi",
			Subsystem: "socket",
			Name:      "messages_total",
			Help:      "Total number of frames by type and direction.",
		},
		[]string{"type", "dir"},
	)

	socketsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "qi",
			Subsystem: "socket",
			Name:      "active",
			Help:      "Currently open sockets with a running dispatcher.",
		},
	)

	dispatchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qi",
			Subsystem: "dispatch",
			Name:      "errors_total",
			Help:      "Dispatch failures by kind (not_found, conversion, protocol).",
		},
		[]string{"kind"},
	)

	connectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qi",
			Subsystem: "transport",
			Name:      "connects_total",
			Help:      "Connection attempts by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(messagesTotal, socketsActive, dispatchErrors, connectsTotal)
}
