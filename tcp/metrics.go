package tcp

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	connectionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sngo",
			Subsystem: "tcp",
			Name:      "connections_accepted_total",
			Help:      "Total number of inbound TCP connections accepted by listeners.",
		})
	acceptErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sngo",
			Subsystem: "tcp",
			Name:      "accept_errors_total",
			Help:      "Total number of failed accept calls, by error kind.",
		}, []string{"kind"})
	setupFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sngo",
			Subsystem: "tcp",
			Name:      "connection_setup_failures_total",
			Help:      "Total number of connections dropped while setting up their worker pair.",
		}, []string{"stage"})
	activePairs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sngo",
			Subsystem: "tcp",
			Name:      "active_pairs",
			Help:      "The number of connection worker pairs registered with a router.",
		})
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sngo",
			Subsystem: "tcp",
			Name:      "frames_total",
			Help:      "Total number of transport frames, by direction.",
		}, []string{"direction"})
	messagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sngo",
			Subsystem: "tcp",
			Name:      "messages_dropped_total",
			Help:      "Total number of outbound messages dropped before reaching a stream, by reason.",
		}, []string{"reason"})
)

// setup stages
const (
	stageClone    = "clone"
	stageRegister = "register"
	stageStart    = "start"
)

// drop reasons
const (
	dropBackpressure  = "backpressure"
	dropNoConnection  = "no_connection"
	dropConnectFailed = "connect_failed"
	dropQueueFull     = "queue_full"
	dropEncodeFailed  = "encode_failed"
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(connectionsAccepted)
	registry.MustRegister(acceptErrors)
	registry.MustRegister(setupFailures)
	registry.MustRegister(activePairs)
	registry.MustRegister(framesTotal)
	registry.MustRegister(messagesDropped)
}
