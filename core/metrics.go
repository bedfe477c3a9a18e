package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	actorRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sngo",
			Subsystem: "actor",
			Name:      "running",
			Help:      "The number of actors owning at least one address.",
		}, []string{"kind"})
	messagesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sngo",
			Subsystem: "actor",
			Name:      "messages_delivered_total",
			Help:      "Total number of messages queued to an actor inbox.",
		})
	messagesDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sngo",
			Subsystem: "actor",
			Name:      "messages_denied_total",
			Help:      "Total number of messages dropped by mailbox access control.",
		}, []string{"direction"})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(actorRunning)
	registry.MustRegister(messagesDelivered)
	registry.MustRegister(messagesDenied)
}
