// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route pattern and status code.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "incinerator_http_requests_total",
		Help: "HTTP requests by route pattern and status code",
	}, []string{"route", "code"})
	// HTTPRequestDuration observes HTTP latency by route pattern.
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "incinerator_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	// FacilityFetchTotal counts provider fetches by source and outcome.
	FacilityFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "incinerator_facility_fetch_total",
		Help: "Facility fetches by source and outcome",
	}, []string{"source", "outcome"})
	// StaleResponsesTotal counts facility responses dropped because a newer request was issued.
	StaleResponsesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "incinerator_stale_responses_total",
		Help: "Facility responses discarded because a newer request was issued",
	})
	// GeocodeRequestsTotal counts geocoding lookups by kind and outcome.
	GeocodeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "incinerator_geocode_requests_total",
		Help: "Geocoding lookups by kind (search, reverse) and outcome",
	}, []string{"kind", "outcome"})
	// GeocodeCacheTotal counts forward-lookup cache hits and misses.
	GeocodeCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "incinerator_geocode_cache_total",
		Help: "Geocode cache lookups by result (hit, miss)",
	}, []string{"result"})
	// MapSessions is the number of connected map sessions.
	MapSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "incinerator_map_sessions",
		Help: "Connected map sessions",
	})
)

// Outcome labels shared by the counters above.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		FacilityFetchTotal,
		StaleResponsesTotal,
		GeocodeRequestsTotal,
		GeocodeCacheTotal,
		MapSessions,
	)
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler { return promhttp.Handler() }
