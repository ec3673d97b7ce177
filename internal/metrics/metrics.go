// Package metrics exposes prometheus collectors for the chat server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatsync"

var (
	eventsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_handled_total",
		Help:      "Client events handled, by event name and outcome.",
	}, []string{"event", "outcome"})

	backplanePublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backplane_published_total",
		Help:      "Events published through the backplane, by driver and event.",
	}, []string{"driver", "event"})

	backplaneReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backplane_received_total",
		Help:      "Remote backplane operations applied locally, by type.",
	}, []string{"type"})

	flushItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flush_items_total",
		Help:      "Batch flush items processed, by action and status.",
	}, []string{"action", "status"})

	deltaPulls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delta_pulls_total",
		Help:      "Delta sync pulls served.",
	})

	connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Live websocket connections on this instance.",
	})
)

func EventHandled(event string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	eventsHandled.WithLabelValues(event, outcome).Inc()
}

func BackplanePublished(driver, event string) {
	backplanePublished.WithLabelValues(driver, event).Inc()
}

func BackplaneReceived(kind string) {
	backplaneReceived.WithLabelValues(kind).Inc()
}

func FlushItem(action, status string) {
	flushItems.WithLabelValues(action, status).Inc()
}

func DeltaPull() {
	deltaPulls.Inc()
}

func ConnectionOpened() {
	connections.Inc()
}

func ConnectionClosed() {
	connections.Dec()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
