package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heritage_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "method", "code"})
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heritage_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	SourceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heritage_source_requests_total",
		Help: "External source calls by outcome (success, empty, failure, rejected)",
	}, []string{"source", "outcome"})
	SourceDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heritage_source_duration_ms",
		Help:    "External source call duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000},
	}, []string{"source"})

	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "heritage_circuit_breaker_state",
		Help: "Circuit breaker state per source (0 closed, 1 half-open, 2 open)",
	}, []string{"source"})
	CircuitBreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heritage_circuit_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"source", "from", "to"})

	ExplorationRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heritage_exploration_runs_total",
		Help: "Exploration runs by outcome (inserted, empty, timeout)",
	}, []string{"outcome"})
	ExplorationInserted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heritage_exploration_inserted_total",
		Help: "Locations inserted by exploration",
	})

	EnrichmentQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heritage_enrichment_queue_depth",
		Help: "Jobs waiting in the enrichment queue",
	})
	EnrichmentDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heritage_enrichment_dropped_total",
		Help: "Jobs dropped because the queue was full",
	})
	EnrichmentOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heritage_enrichment_outcomes_total",
		Help: "Enrichment results by winning step (by_name, by_position, gallery, street_imagery, exhausted, error)",
	}, []string{"step"})

	GeocodeCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heritage_geocode_cache_total",
		Help: "Geocoder cache lookups by result (hit, miss)",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SourceRequestsTotal,
		SourceDuration,
		CircuitBreakerState,
		CircuitBreakerTransitions,
		ExplorationRunsTotal,
		ExplorationInserted,
		EnrichmentQueueDepth,
		EnrichmentDropped,
		EnrichmentOutcomes,
		GeocodeCache,
	)
}

func Handler() http.Handler { return promhttp.Handler() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// NewMetricsMiddleware records request counts and latency keyed by the mux pattern.
func NewMetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
			HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}
