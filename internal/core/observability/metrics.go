// Package observability records Prometheus metrics for the synchronization engine.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Fetch outcomes.
const (
	FetchIssued  = "issued"
	FetchSkipped = "skipped"
	FetchApplied = "applied"
	FetchStale   = "stale"
	FetchFailed  = "failed"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	layerFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layersync_layer_fetch_total",
			Help: "Layer reconciliations by outcome (issued, skipped, applied, stale, failed).",
		},
		[]string{"layer", "outcome"},
	)

	layerFetchSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "layersync_layer_fetch_duration_seconds",
			Help:    "Time from issuing a layer query to its completion.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"layer"},
	)

	responseCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layersync_response_cache_total",
			Help: "Response cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	saves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layersync_edit_saves_total",
			Help: "Edit saves by outcome.",
		},
		[]string{"outcome"},
	)

	zoomTo = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layersync_zoom_to_feature_total",
			Help: "Zoom-to-feature requests published from the attribute table.",
		},
		[]string{"layer"},
	)

	redisOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layersync_redis_op_total",
			Help: "Redis operations against the shared response cache, by op and result.",
		},
		[]string{"op", "result"},
	)

	redisOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "layersync_redis_op_duration_seconds",
			Help:    "Latency of redis operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	changeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layersync_change_events_total",
			Help: "Backend change events consumed, by op and outcome.",
		},
		[]string{"op", "outcome"},
	)
)

// Collectors lists every metric this package records.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		layerFetches, layerFetchSeconds, responseCache, redisOps, redisOpSeconds,
		saves, zoomTo, changeEvents,
	}
}

// Init registers the collectors with reg. Registering twice is harmless.
func Init(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncLayerFetch(layer, outcome string) {
	layerFetches.WithLabelValues(layer, outcome).Inc()
}

func ObserveLayerFetch(layer string, durationSeconds float64) {
	layerFetchSeconds.WithLabelValues(layer).Observe(durationSeconds)
}

func IncResponseCache(tier string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	responseCache.WithLabelValues(tier, outcome).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	redisOps.WithLabelValues(op, result).Inc()
	redisOpSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncSave(outcome string) {
	saves.WithLabelValues(outcome).Inc()
}

func IncZoomTo(layer string) {
	zoomTo.WithLabelValues(layer).Inc()
}

func IncChangeEvent(op, outcome string) {
	if op == "" {
		op = "unknown"
	}
	changeEvents.WithLabelValues(op, outcome).Inc()
}
