// Package observability exposes the Prometheus metrics of the OCPP core.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "csms",
		Subsystem: "ocpp",
		Name:      "messages_total",
		Help:      "OCPP messages processed, by transport, action and outcome.",
	}, []string{"transport", "action", "outcome"})

	messageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "csms",
		Subsystem: "ocpp",
		Name:      "message_duration_seconds",
		Help:      "Handler latency per OCPP action.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"transport", "action"})

	connectedStations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "csms",
		Subsystem: "ocpp",
		Name:      "connected_stations",
		Help:      "Currently connected WebSocket stations.",
	})

	transactionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "csms",
		Subsystem: "ocpp",
		Name:      "transactions_started_total",
		Help:      "Transactions opened, by tenant.",
	}, []string{"tenant"})

	transactionsStopped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "csms",
		Subsystem: "ocpp",
		Name:      "transactions_stopped_total",
		Help:      "Transactions closed, by tenant.",
	}, []string{"tenant"})
)

// ObserveMessage records one processed OCPP message.
func ObserveMessage(transport, action, outcome string, duration time.Duration) {
	messagesTotal.WithLabelValues(transport, action, outcome).Inc()
	messageDuration.WithLabelValues(transport, action).Observe(duration.Seconds())
}

func StationConnected()    { connectedStations.Inc() }
func StationDisconnected() { connectedStations.Dec() }

func TransactionStarted(tenantID string) { transactionsStarted.WithLabelValues(tenantID).Inc() }
func TransactionStopped(tenantID string) { transactionsStopped.WithLabelValues(tenantID).Inc() }
