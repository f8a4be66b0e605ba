// Package stats holds the process-wide statistics counters, updated by the
// pipeline and by the HTTP layer. They are constructed once at startup and
// passed explicitly through the call chain rather than kept as globals.
package stats

import "sync/atomic"

type Counters struct {
	HTTPRequests      atomic.Int64
	CacheHits         atomic.Int64
	CacheMisses       atomic.Int64
	CoalescedWaits    atomic.Int64
	FallbackRequests  atomic.Int64
	UpstreamErrors    atomic.Int64
	InternalErrors    atomic.Int64
	BreakerRejections atomic.Int64
}

func New() *Counters {
	return &Counters{}
}

// Snapshot is the plain-value view returned by GET /stats.
type Snapshot struct {
	HTTPRequests      int64 `json:"http_requests_total"`
	CacheHits         int64 `json:"cache_hits_total"`
	CacheMisses       int64 `json:"cache_misses_total"`
	CoalescedWaits    int64 `json:"coalesced_waits_total"`
	FallbackRequests  int64 `json:"fallback_requests_total"`
	UpstreamErrors    int64 `json:"upstream_errors_total"`
	InternalErrors    int64 `json:"internal_errors_total"`
	BreakerRejections int64 `json:"breaker_rejections_total"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		HTTPRequests:      c.HTTPRequests.Load(),
		CacheHits:         c.CacheHits.Load(),
		CacheMisses:       c.CacheMisses.Load(),
		CoalescedWaits:    c.CoalescedWaits.Load(),
		FallbackRequests:  c.FallbackRequests.Load(),
		UpstreamErrors:    c.UpstreamErrors.Load(),
		InternalErrors:    c.InternalErrors.Load(),
		BreakerRejections: c.BreakerRejections.Load(),
	}
}
