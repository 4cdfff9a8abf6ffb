package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics, labelled so dashboards can tell "never existed" (404)
// apart from "deliberately disabled" (blocked).
var (
	RedirectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ua_redirects_total",
		Help: "Redirect decisions by outcome.",
	}, []string{"outcome"})

	PolicyLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ua_policy_lookups_total",
		Help: "Link policy lookups by source (cache, store, negative, bloom).",
	}, []string{"source"})

	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ua_events_ingested_total",
		Help: "Analytics events durably stored.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ua_events_dropped_total",
		Help: "Analytics events dropped after exhausting redelivery.",
	})

	ExhaustionTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ua_link_exhaustions_total",
		Help: "Links that crossed their click quota.",
	})

	FanoutDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ua_fanout_delivered_total",
		Help: "Realtime messages delivered to subscribers.",
	})

	FanoutDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ua_fanout_dropped_subscribers_total",
		Help: "Subscribers dropped for not draining their buffer.",
	})
)
