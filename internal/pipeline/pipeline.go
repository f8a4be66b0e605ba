// Package pipeline implements the request pipeline: the orchestrator
// that ties every other component together for one request.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"rpcache-proxy/internal/blockcache"
	"rpcache-proxy/internal/breaker"
	"rpcache-proxy/internal/cache"
	"rpcache-proxy/internal/coalescer"
	"rpcache-proxy/internal/jsonrpc"
	"rpcache-proxy/internal/logger"
	"rpcache-proxy/internal/metrics"
	"rpcache-proxy/internal/network"
	"rpcache-proxy/internal/queue"
	"rpcache-proxy/internal/stats"
	"rpcache-proxy/internal/upstream"
)

// Caller is the subset of *upstream.Client the pipeline depends on. It
// lets tests substitute a fake upstream without a real HTTP round trip.
type Caller interface {
	Call(ctx context.Context, up network.Upstream, req jsonrpc.Request) (upstream.Result, error)
}

// Pipeline owns the in-flight coalescer and block-number cache
// exclusively; the statistics counters are shared with the HTTP layer,
// and the cache store and upstream client are shared,
// internally-synchronized collaborators.
type Pipeline struct {
	Registry    *network.Registry
	CacheStore  cache.Store
	CacheMaxAge time.Duration
	Breakers    *breaker.Registry
	Queues      *queue.Registry
	Client      Caller
	BlockCache  *blockcache.Cache
	Metrics     *metrics.Metrics
	Stats       *stats.Counters
	Logger      logger.Logger
	Inflight    *coalescer.Coalescer
}

func (p *Pipeline) coalescerFor() *coalescer.Coalescer {
	return p.Inflight
}

// Process runs one request through normalization, fingerprinting, cache
// lookup, coalescing, and the upstream call. It never returns an error to
// the caller; every failure mode is folded into a JSON-RPC error Response.
// The returned Outcome's CacheStatus lets the HTTP layer label its own
// metrics without re-deriving cache behavior from the response body.
func (p *Pipeline) Process(ctx context.Context, networkKey string, req jsonrpc.Request) jsonrpc.Outcome {
	start := time.Now()
	desc, ok := p.Registry.Get(networkKey)
	if !ok {
		p.Stats.InternalErrors.Add(1)
		return jsonrpc.Outcome{Response: jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrInternal()), CacheStatus: "error"}
	}

	log := p.Logger.WithFields(logger.Fields{"network": networkKey, "method": req.Method})

	// 1) Normalize block tags using the freshness window.
	params := p.normalize(networkKey, req.Method, req.Params)

	// 2) Fingerprint.
	fingerprint, err := jsonrpc.Fingerprint(networkKey, req.Method, params)
	if err != nil {
		log.Error("failed to compute fingerprint", logger.Fields{"error": err.Error()})
		p.Stats.InternalErrors.Add(1)
		return jsonrpc.Outcome{Response: jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrInternal()), CacheStatus: "error"}
	}
	log = log.WithFields(logger.Fields{"fingerprint": fingerprint})

	// 3) Cacheability + cache lookup.
	class := jsonrpc.Classify(req.Method, params)
	ttl, cacheable := jsonrpc.TTL(class, p.CacheMaxAge)

	if cacheable {
		if entry, hit, err := p.CacheStore.Get(ctx, fingerprint); err == nil && hit {
			p.Stats.CacheHits.Add(1)
			p.Metrics.CacheHitsTotal.WithLabelValues(req.Method).Inc()
			p.recordDuration(req.Method, "hit", start)
			return jsonrpc.Outcome{Response: jsonrpc.NewResultResponse(req.ID, entry.Result), CacheStatus: "hit"}
		}
		p.Stats.CacheMisses.Add(1)
		p.Metrics.CacheMissesTotal.WithLabelValues(req.Method).Inc()
	}

	p.Metrics.NetworkRequestsTotal.WithLabelValues(networkKey, req.Method).Inc()

	// 4) Coalesce: a cache-miss and the subsequent insert happen as one
	// atomic unit from the caller's perspective. The owner re-checks the
	// cache after Join, since a previous owner that settled between this
	// caller's miss and its Join has already written its entry.
	coalesced := p.coalescerFor()
	owner, wait := coalesced.Join(fingerprint)
	if !owner {
		p.Stats.CoalescedWaits.Add(1)
		resp, _ := wait()
		p.recordDuration(req.Method, "coalesced", start)
		return jsonrpc.Outcome{Response: resp.WithID(req.ID), CacheStatus: "coalesced"}
	}
	if cacheable {
		if entry, hit, err := p.CacheStore.Get(ctx, fingerprint); err == nil && hit {
			resp := jsonrpc.NewResultResponse(req.ID, entry.Result)
			coalesced.Settle(fingerprint, resp, nil)
			p.Stats.CacheHits.Add(1)
			p.recordDuration(req.Method, "hit", start)
			return jsonrpc.Outcome{Response: resp, CacheStatus: "hit"}
		}
	}

	resp := p.runAndCache(ctx, networkKey, desc, req, params, fingerprint, class, ttl, cacheable, log)
	coalesced.Settle(fingerprint, resp, nil)
	p.recordDuration(req.Method, "miss", start)
	return jsonrpc.Outcome{Response: resp.WithID(req.ID), CacheStatus: "miss"}
}

// runAndCache performs steps 5-8: queue admission, breaker-guarded
// primary call, archive-fallback decision, and the cache write.
func (p *Pipeline) runAndCache(
	ctx context.Context,
	networkKey string,
	desc *network.Descriptor,
	req jsonrpc.Request,
	params jsonrpc.Params,
	fingerprint string,
	class jsonrpc.TTLClass,
	ttl time.Duration,
	cacheable bool,
	log logger.Logger,
) jsonrpc.Response {
	// 5) Queue admission.
	release, err := p.Queues.For(networkKey).Admit(ctx)
	if err != nil {
		log.Warn("queue admission failed", logger.Fields{"error": err.Error()})
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrUpstream(err))
	}
	defer release()

	// 6) Breaker-guarded primary call.
	primaryResult, primaryErr := p.call(ctx, networkKey, desc.Primary, req)
	if errors.Is(primaryErr, breaker.ErrOpen) {
		p.Stats.BreakerRejections.Add(1)
		p.Metrics.RoutingDecisionsTotal.WithLabelValues(networkKey, string(network.Primary), "breaker_open").Inc()
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrUnavailable(networkKey))
	}

	nullResult := primaryErr == nil && primaryResult.Body.IsNull()
	errText := errorText(primaryErr, primaryResult.Body)

	finalResult, finalErr, usedFallback, fallbackReason := primaryResult, primaryErr, false, ""
	if desc.Fallback != nil && jsonrpc.NeedsArchiveFallback(req.Method, params, nullResult, errText) {
		fallbackReason = jsonrpc.ArchiveFallbackReason(req.Method, params, nullResult, errText)
		p.Metrics.FallbackRequestsTotal.WithLabelValues(networkKey, string(network.Fallback), fallbackReason).Inc()
		p.Stats.FallbackRequests.Add(1)

		fbResult, fbErr := p.call(ctx, networkKey, *desc.Fallback, req)
		finalResult, finalErr, usedFallback = fbResult, fbErr, true
		p.Metrics.ArchiveNodeRequestsTotal.WithLabelValues(networkKey, req.Method).Inc()
	}

	upstreamType := network.Primary
	if usedFallback {
		upstreamType = network.Fallback
	}
	p.Metrics.RoutingDecisionsTotal.WithLabelValues(networkKey, string(upstreamType), routingReason(usedFallback, fallbackReason)).Inc()

	if finalErr != nil {
		if errors.Is(finalErr, breaker.ErrOpen) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrUnavailable(networkKey))
		}
		p.Stats.UpstreamErrors.Add(1)
		log.Error("upstream call failed", logger.Fields{"error": finalErr.Error(), "fallback": usedFallback})
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrUpstream(finalErr))
	}

	resp := finalResult.Body
	p.Metrics.UpstreamResponsesTotal.WithLabelValues(strconv.Itoa(finalResult.StatusCode)).Inc()

	// 8) Cache write, guarded by the problematic-response predicate.
	if cacheable && resp.Error == nil {
		if reason, problematic := jsonrpc.IsProblematic(resp.Result); problematic {
			p.Metrics.CacheInvalidEntriesTotal.WithLabelValues(networkKey, req.Method, string(reason)).Inc()
		} else if err := p.CacheStore.Set(ctx, fingerprint, cache.Entry{Result: resp.Result, CreatedAt: time.Now()}, ttl); err != nil {
			log.Warn("failed to write cache entry", logger.Fields{"error": err.Error()})
		}
	}

	return resp
}

// call performs one breaker-guarded upstream HTTP call. It is used for
// both the primary call and, when a fallback is taken, the repeat call
// against the archive upstream.
func (p *Pipeline) call(ctx context.Context, networkKey string, up network.Upstream, req jsonrpc.Request) (upstream.Result, error) {
	b := p.Breakers.For(networkKey)
	start := time.Now()

	raw, err := b.Run(ctx, func(ctx context.Context) (any, error) {
		res, callErr := p.Client.Call(ctx, up, req)
		if callErr != nil {
			return res, callErr
		}
		if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
			return res, &upstream.TransportError{Upstream: up.URL, Cause: fmt.Errorf("http status %d", res.StatusCode)}
		}
		return res, nil
	})

	upstreamType := network.Primary
	if up.Priority > 0 {
		upstreamType = network.Fallback
	}
	p.Metrics.UpstreamResponseTimeMs.WithLabelValues(networkKey, string(upstreamType)).Observe(float64(time.Since(start).Milliseconds()))

	result, _ := raw.(upstream.Result)
	return result, err
}

// normalize rewrites eth_call's "latest"/"pending" block tag to the
// fresh cached block number, otherwise leaving params untouched.
func (p *Pipeline) normalize(networkKey, method string, params jsonrpc.Params) jsonrpc.Params {
	if method != "eth_call" || params.Kind() != jsonrpc.ParamsList || params.Len() < 2 {
		return params
	}
	tag, ok := params.AtString(1)
	if !ok || (tag != "latest" && tag != "pending") {
		return params
	}
	blockNumber, fresh := p.BlockCache.Get(networkKey)
	if !fresh {
		return params
	}
	hex, _ := json.Marshal(hexutil.EncodeUint64(blockNumber))
	return params.WithAt(1, hex)
}

func (p *Pipeline) recordDuration(method, cacheStatus string, start time.Time) {
	p.Metrics.RequestDurationMs.WithLabelValues(method, cacheStatus).Observe(float64(time.Since(start).Milliseconds()))
}

func errorText(err error, resp jsonrpc.Response) string {
	if err != nil {
		return err.Error()
	}
	if resp.Error == nil {
		return ""
	}
	text := resp.Error.Message
	if dataStr, ok := resp.Error.Data.(string); ok {
		text += " " + dataStr
	}
	return text
}

func routingReason(usedFallback bool, fallbackReason string) string {
	if !usedFallback {
		return "primary_ok"
	}
	return fallbackReason
}
