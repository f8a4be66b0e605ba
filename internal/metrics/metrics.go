// Package metrics is the process-wide Prometheus registry for every
// metric the proxy exposes. Constructed once at bootstrap and passed by
// pointer through the call chain, never kept as a package-level global.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal        *prometheus.CounterVec
	UpstreamResponsesTotal   *prometheus.CounterVec
	CacheHitsTotal           *prometheus.CounterVec
	CacheMissesTotal         *prometheus.CounterVec
	RequestDurationMs        *prometheus.HistogramVec
	ResponseSizeBytes        *prometheus.HistogramVec
	FallbackRequestsTotal    *prometheus.CounterVec
	UpstreamResponseTimeMs   *prometheus.HistogramVec
	NetworkRequestsTotal     *prometheus.CounterVec
	RoutingDecisionsTotal    *prometheus.CounterVec
	ArchiveNodeRequestsTotal *prometheus.CounterVec
	CacheInvalidEntriesTotal *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_http_requests_total",
			Help: "Total HTTP JSON-RPC requests handled, by method, cache status, and outcome.",
		}, []string{"method", "cache_status", "outcome"}),
		UpstreamResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_http_upstream_responses_total",
			Help: "Total upstream HTTP responses by status code.",
		}, []string{"status_code"}),
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_cache_hits_total",
			Help: "Total cache hits.",
		}, []string{"method"}),
		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_cache_misses_total",
			Help: "Total cache misses.",
		}, []string{"method"}),
		RequestDurationMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rpc_request_duration_ms",
			Help:    "End-to-end request duration in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"method", "cache_status"}),
		ResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rpc_response_size_bytes",
			Help:    "Response payload size in bytes.",
			Buckets: prometheus.ExponentialBuckets(32, 2, 16),
		}, []string{"method"}),
		FallbackRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_fallback_requests_total",
			Help: "Total requests that fell back to the archive upstream.",
		}, []string{"network", "upstream_type", "reason"}),
		UpstreamResponseTimeMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rpc_upstream_response_time_ms",
			Help:    "Upstream round-trip time in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"network", "upstream_type"}),
		NetworkRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_network_requests_total",
			Help: "Total requests per network and method.",
		}, []string{"network", "method"}),
		RoutingDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_routing_decisions_total",
			Help: "Total routing decisions by upstream type and reason.",
		}, []string{"network", "upstream_type", "reason"}),
		ArchiveNodeRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_archive_node_requests_total",
			Help: "Total requests served by an archive-capable fallback.",
		}, []string{"network", "method"}),
		CacheInvalidEntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_cache_invalid_entries_total",
			Help: "Total responses refused caching by the problematic-response predicate.",
		}, []string{"network", "method", "reason"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.UpstreamResponsesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.RequestDurationMs,
		m.ResponseSizeBytes,
		m.FallbackRequestsTotal,
		m.UpstreamResponseTimeMs,
		m.NetworkRequestsTotal,
		m.RoutingDecisionsTotal,
		m.ArchiveNodeRequestsTotal,
		m.CacheInvalidEntriesTotal,
	)

	return m
}
