// Package metrics holds the Prometheus collectors shared by the server, the
// scrape runner and the auth gate.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest outcomes.
const (
	OutcomeCreated  = "created"
	OutcomeUpdated  = "updated"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

var (
	IngestEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campusevents",
		Name:      "ingest_events_total",
		Help:      "Scraped event records by source and outcome.",
	}, []string{"source", "outcome"})

	ScrapeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "campusevents",
		Name:      "scrape_duration_seconds",
		Help:      "Wall time of one source scrape.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"source"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campusevents",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})

	SignIns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campusevents",
		Name:      "signins_total",
		Help:      "Sign-in attempts by outcome.",
	}, []string{"outcome"})
)

// NewRegistry returns a registry with the app collectors plus the Go and
// process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		IngestEvents,
		ScrapeDuration,
		HTTPRequests,
		SignIns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
