// Package metrics holds the prometheus collectors of the rendezvous server.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rendezvous"

var (
	Rooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Number of live rooms.",
		},
	)
	Sessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Number of registered sessions.",
		},
	)
	AdmissionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_rejected_total",
			Help:      "Connection attempts rejected before the upgrade.",
		},
		[]string{"reason"},
	)
	Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Inbound commands by name. Plain text is counted as \"message\".",
		},
		[]string{"command"},
	)
	DeliveriesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dropped_total",
			Help:      "Outbound frames dropped because the recipient was slow or gone.",
		},
	)
	HeartbeatTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_timeouts_total",
			Help:      "Connections closed because the peer stopped answering pings.",
		},
	)
)

const (
	ReasonCapacity  = "capacity"
	ReasonRateLimit = "rate_limit"
)

var registerMetrics sync.Once

// Register all metrics with reg.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(Rooms)
		reg.MustRegister(Sessions)
		reg.MustRegister(AdmissionsRejected)
		reg.MustRegister(Commands)
		reg.MustRegister(DeliveriesDropped)
		reg.MustRegister(HeartbeatTimeouts)
	})
}
