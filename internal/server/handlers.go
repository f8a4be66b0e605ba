package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"rpcache-proxy/internal/jsonrpc"
	"rpcache-proxy/internal/logger"
)

// handleNamedRPC resolves the :network path param and dispatches, 404-ing
// unknown networks.
func (s *Server) handleNamedRPC(c *gin.Context) {
	key := c.Param("network")
	if _, ok := s.Registry.Get(key); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown network: " + key})
		return
	}
	s.handleRPC(key)(c)
}

// handleRPC resolves the default network (when networkKey is "") and
// returns a gin handler that normalizes a single-or-batch JSON-RPC body
// into dispatcher calls.
func (s *Server) handleRPC(networkKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		resolvedKey := networkKey
		if resolvedKey == "" {
			resolvedKey = s.Registry.DefaultKey()
		}
		if resolvedKey == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "no networks configured"})
			return
		}

		requestID := uuid.NewString()
		log := s.Logger.WithFields(logger.Fields{"request_id": requestID, "network": resolvedKey})
		s.Stats.HTTPRequests.Add(1)

		body, err := c.GetRawData()
		if err != nil {
			log.Warn("failed to read request body", logger.Fields{"error": err.Error()})
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}

		trimmed := trimLeadingSpace(body)
		ctx := c.Request.Context()

		if len(trimmed) > 0 && trimmed[0] == '[' {
			s.handleBatch(ctx, c, resolvedKey, trimmed, log)
			return
		}
		s.handleSingle(ctx, c, resolvedKey, trimmed, log)
	}
}

func (s *Server) handleSingle(ctx context.Context, c *gin.Context, networkKey string, body []byte, log logger.Logger) {
	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil || req.Method == "" {
		s.Metrics.HTTPRequestsTotal.WithLabelValues("unknown", "none", "bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed JSON-RPC request"})
		return
	}
	outcome := s.Dispatcher.Dispatch(ctx, networkKey, req)
	s.recordHTTPOutcome(req.Method, outcome)
	c.JSON(http.StatusOK, outcome.Response)
}

// recordHTTPOutcome records the per-request outcome, cache status, and
// response-size metrics at the HTTP boundary, separately from the
// pipeline's own cache/upstream metrics.
func (s *Server) recordHTTPOutcome(method string, outcome jsonrpc.Outcome) {
	result := "ok"
	if outcome.Response.Error != nil {
		result = "error"
	}
	s.Metrics.HTTPRequestsTotal.WithLabelValues(method, outcome.CacheStatus, result).Inc()
	if body, err := json.Marshal(outcome.Response); err == nil {
		s.Metrics.ResponseSizeBytes.WithLabelValues(method).Observe(float64(len(body)))
	}
}

func (s *Server) handleBatch(ctx context.Context, c *gin.Context, networkKey string, body []byte, log logger.Logger) {
	var rawItems []json.RawMessage
	if err := json.Unmarshal(body, &rawItems); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed JSON-RPC batch"})
		return
	}
	if len(rawItems) == 0 {
		c.JSON(http.StatusOK, []jsonrpc.Response{})
		return
	}

	reqs := make([]jsonrpc.Request, len(rawItems))
	valid := make([]bool, len(rawItems))
	for i, raw := range rawItems {
		if err := json.Unmarshal(raw, &reqs[i]); err != nil || reqs[i].Method == "" {
			log.Warn("malformed batch item", logger.Fields{"index": i})
			continue
		}
		valid[i] = true
	}

	// Only syntactically valid items make the upstream round trip; an
	// invalid item's ID (if any was parsed) is preserved for its error
	// response without spending a pipeline call on it.
	var validIdx []int
	var validReqs []jsonrpc.Request
	for i, ok := range valid {
		if ok {
			validIdx = append(validIdx, i)
			validReqs = append(validReqs, reqs[i])
		}
	}

	dispatched := s.Dispatcher.DispatchBatch(ctx, networkKey, validReqs)

	outcomes := make([]jsonrpc.Outcome, len(rawItems))
	for i := range outcomes {
		outcomes[i] = jsonrpc.Outcome{
			Response:    jsonrpc.NewErrorResponse(reqs[i].ID, &jsonrpc.Error{Code: jsonrpc.CodeInvalidRequest, Message: "Invalid Request"}),
			CacheStatus: "none",
		}
	}
	for j, i := range validIdx {
		outcomes[i] = dispatched[j]
	}

	responses := make([]jsonrpc.Response, len(outcomes))
	for i, o := range outcomes {
		s.recordHTTPOutcome(reqs[i].Method, o)
		responses[i] = o.Response
	}
	c.JSON(http.StatusOK, responses)
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}

// handleHealth probes each network's primary with a cheap eth_chainId
// call, bypassing cache and breaker, and reports "degraded" if any
// upstream is unreachable.
func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	upstream := "connected"

	for _, d := range s.Registry.All() {
		probeCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		req := jsonrpc.Request{JSONRPC: "2.0", Method: "eth_chainId"}
		_, err := s.Client.Call(probeCtx, d.Primary, req)
		cancel()
		if err != nil {
			status = "degraded"
			upstream = "disconnected"
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"uptime":    s.uptime().Seconds(),
		"memory":    memoryUsageBytes(),
		"version":   Version,
		"upstream":  upstream,
		"timestamp": time.Now().Unix(),
	})
}

// handleStats reports process counters plus per-network queue, pool, and
// breaker snapshots.
func (s *Server) handleStats(c *gin.Context) {
	breakerSnapshots := s.Breakers.Snapshots()

	queueSnapshots := make([]gin.H, 0, len(s.Registry.All()))
	for _, d := range s.Registry.All() {
		inUse, waiting, capacity := s.Queues.For(d.Key).Depth()
		queueSnapshots = append(queueSnapshots, gin.H{
			"network": d.Key, "in_use": inUse, "waiting": waiting, "capacity": capacity,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"counters": s.Stats.Snapshot(),
		"breakers": breakerSnapshots,
		"queues":   queueSnapshots,
		"pool": gin.H{
			"max_sockets":          s.Config.Server.MaxSockets,
			"idle_conn_timeout_s":  s.Config.Server.IdleConnTimeoutSec,
		},
	})
}

func (s *Server) handleCacheClear(c *gin.Context) {
	if err := s.CacheStore.Clear(c.Request.Context()); err != nil {
		s.Logger.Error("failed to clear cache", logger.Fields{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"cleared": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}
