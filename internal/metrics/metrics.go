// Package metrics exposes Prometheus collectors for the sync engine. The
// relay serves them on /metricz; embedded clients register them on the
// default registry and ignore them unless scraped.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "huddle"

var (
	// SliceReloads counts reload attempts per base key. Status is one of
	// applied, stale, error.
	SliceReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "slice_reloads_total",
		Help:      "Slice reload attempts by base key and outcome.",
	}, []string{"key", "status"})

	// PersistFailures counts optimistic writes that never reached the
	// remote store.
	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persist_failures_total",
		Help:      "Background persists that failed, by base key.",
	}, []string{"key"})

	// ReconcileEvents counts change events dispatched off the changefeed.
	ReconcileEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_events_total",
		Help:      "Changefeed events dispatched to slices.",
	})

	// ChannelState reports the reconciliation channel lifecycle: 0 closed,
	// 1 connecting, 2 subscribed, 3 channel_error.
	ChannelState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "channel_state",
		Help:      "Reconciliation channel state (0 closed, 1 connecting, 2 subscribed, 3 error).",
	})

	// PushDispatches counts outbound push deliveries by outcome.
	PushDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_dispatches_total",
		Help:      "Push notification dispatch attempts by outcome.",
	}, []string{"status"})

	// RelayRequests counts relay HTTP requests by route and status class.
	RelayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_requests_total",
		Help:      "Relay API requests by route and status class.",
	}, []string{"route", "status"})
)
