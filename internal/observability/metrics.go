package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// OpenWeatherMap API call rate, labeled endpoint=current|forecast. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// External API latency per request. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Resolutions by trigger (initial|locate|search) and outcome.
	ResolutionsTotal *prometheus.CounterVec

	// In-flight responses discarded because a newer request token was issued.
	StaleResolutionsDiscardedTotal prometheus.Counter

	// Geolocation lookups that fell back to the default city.
	GeolocationFallbacksTotal prometheus.Counter

	// Fire-and-forget preference writes that failed. Never surfaced to users;
	// this counter is the only place they are visible besides logs.
	PreferenceWriteFailuresTotal prometheus.Counter

	// Authentication failures by kind (invalid_credentials, email_taken, ...).
	AuthFailuresTotal *prometheus.CounterVec
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of OpenWeatherMap API calls",
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "OpenWeatherMap API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationResolutionsTotal",
			Help: "Location resolutions by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)
	StaleResolutionsDiscardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "staleResolutionsDiscardedTotal",
			Help: "Resolution results discarded because a newer request superseded them",
		},
	)
	GeolocationFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "geolocationFallbacksTotal",
			Help: "Geolocation failures that fell back to the default city",
		},
	)
	PreferenceWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "preferenceWriteFailuresTotal",
			Help: "Failed fire-and-forget preference store writes",
		},
	)
	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authFailuresTotal",
			Help: "Authentication failures by kind",
		},
		[]string{"kind"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration,
		ResolutionsTotal, StaleResolutionsDiscardedTotal,
		GeolocationFallbacksTotal, PreferenceWriteFailuresTotal,
		AuthFailuresTotal,
	)
}

// MetricsHandler returns the HTTP handler serving the custom registry.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
