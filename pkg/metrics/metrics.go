package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Cache metrics
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketlens_cache_hits_total",
			Help: "Cache hits by operation",
		}, []string{"operation"})
	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketlens_cache_misses_total",
			Help: "Cache misses by operation",
		}, []string{"operation"})
	CacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketlens_cache_entries",
			Help: "Live entries in the in-process cache",
		})
	MirrorErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketlens_cache_mirror_errors_total",
			Help: "Redis mirror failures by operation (degraded to miss)",
		}, []string{"operation"})

	// Provider metrics
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketlens_provider_calls_total",
			Help: "Upstream provider calls by provider, operation and status",
		}, []string{"provider", "operation", "status"})
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketlens_provider_latency_seconds",
			Help:    "Upstream provider call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation"})
	Retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketlens_retries_total",
			Help: "Retry attempts by provider",
		}, []string{"provider"})
	Fallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketlens_fallbacks_total",
			Help: "Requests that fell through to a secondary provider",
		})

	// Rate limiter metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketlens_queue_depth",
			Help: "Queued requests waiting for rate-limiter admission",
		}, []string{"provider"})
	RateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketlens_rate_limit_rejections_total",
			Help: "Requests rejected because the admission queue was full",
		}, []string{"provider"})

	// HTTP metrics
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketlens_http_request_duration_seconds",
			Help:    "API request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"})
)

func init() {
	// MustRegister panics if registration fails (e.g. duplicate)
	prometheus.MustRegister(
		CacheHits, CacheMisses, CacheSize, MirrorErrors,
		ProviderCalls, ProviderLatency, Retries, Fallbacks,
		QueueDepth, RateLimitRejections,
		HTTPRequestDuration,
	)
}
