// Package metrics exposes Prometheus instrumentation for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectedAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mailbox_connected_agents",
		Help: "Number of agents with a live push channel attached.",
	})
	ConnectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailbox_connections_total",
		Help: "Total connection lifecycle events by outcome.",
	}, []string{"outcome"})
	MessagesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailbox_messages_sent_total",
		Help: "Total messages persisted via /messages/send.",
	})
	PushDeliveryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailbox_push_delivery_total",
		Help: "Total push delivery attempts by outcome (delivered, no_handle, marshal_error, write_error).",
	}, []string{"outcome"})
	JanitorPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailbox_janitor_purged_total",
		Help: "Total pending connections purged by the janitor sweep.",
	})
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mailbox_http_request_duration_seconds",
		Help:    "Duration of HTTP requests by route and status class.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status_class"})
)
