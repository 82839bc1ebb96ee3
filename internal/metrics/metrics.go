// Package metrics exposes Prometheus counters for the sync core and relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mailbox"

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Messages handed to the send coordinator.",
	})
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "send_failures_total",
		Help:      "Sends whose backend write failed.",
	})
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_events_total",
		Help:      "Realtime insert events by outcome.",
	}, []string{"outcome"})
	SubscriptionsLost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscriptions_lost_total",
		Help:      "Push subscriptions that ended with an error.",
	})
	RelayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "relay_connections",
		Help:      "Open relay websocket connections.",
	})
	RelayBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_broadcasts_total",
		Help:      "Insert events fanned out by the relay.",
	})
)

// Outcome labels for EventsIngested.
const (
	OutcomeMerged    = "merged"
	OutcomeDuplicate = "duplicate"
	OutcomeMalformed = "malformed"
)

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
