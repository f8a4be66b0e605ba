// Package upstream implements the pooled HTTP client used to reach
// primary and fallback JSON-RPC upstreams.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"rpcache-proxy/internal/jsonrpc"
	"rpcache-proxy/internal/network"
)

// Result is the outcome of one upstream HTTP round trip.
type Result struct {
	StatusCode int
	Body       jsonrpc.Response
}

// TransportError wraps a connection-level failure (refused, DNS, TLS,
// timeout) distinctly from a well-formed HTTP/JSON-RPC reply, so archive
// pattern matching and breaker failure counting can tell them apart from
// valid protocol errors.
type TransportError struct {
	Upstream string
	Cause    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error calling %s: %s", e.Upstream, e.Cause)
}
func (e *TransportError) Unwrap() error { return e.Cause }

// Client performs JSON-RPC POSTs against an upstream with retry/backoff
// and pool reuse. Connection reuse is a single process-wide
// *http.Transport keyed by origin via Go's own connection pooling
// (MaxIdleConnsPerHost), bounded by maxSockets.
type Client struct {
	httpClient *http.Client
}

// NewClient builds the shared client. maxSockets bounds
// MaxIdleConnsPerHost; idleTimeout is the keep-alive reap window
// (defaults: 50 sockets, 30s).
func NewClient(maxSockets int, idleTimeout time.Duration) *Client {
	if maxSockets <= 0 {
		maxSockets = 50
	}
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        maxSockets * 4,
		MaxIdleConnsPerHost: maxSockets,
		MaxConnsPerHost:     maxSockets,
		IdleConnTimeout:     idleTimeout,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &Client{httpClient: &http.Client{Transport: transport}}
}

// Call performs one JSON-RPC POST against up, retrying transport errors,
// HTTP 5xx, and HTTP 429 up to up.MaxRetries times with exponential
// backoff starting at up.RetryDelayMs. A JSON-RPC response carrying an
// "error" field is a valid protocol reply and is never retried. Once the
// retries are used up, the last attempt's result and error are returned
// unchanged: a final 5xx/429 comes back as its status code with a nil
// error.
func (c *Client) Call(ctx context.Context, up network.Upstream, req jsonrpc.Request) (Result, error) {
	retryDelay := time.Duration(up.RetryDelayMs) * time.Millisecond
	if retryDelay <= 0 {
		retryDelay = 200 * time.Millisecond
	}
	maxRetries := up.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	policy := retrypolicy.Builder[Result]().
		WithBackoff(retryDelay, 30*time.Second).
		WithMaxRetries(maxRetries).
		HandleIf(func(r Result, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests
		}).
		ReturnLastFailure().
		Build()

	executor := failsafe.NewExecutor[Result](policy)
	return executor.WithContext(ctx).Get(func() (Result, error) {
		return c.doOnce(ctx, up, req)
	})
}

func (c *Client) doOnce(ctx context.Context, up network.Upstream, req jsonrpc.Request) (Result, error) {
	timeout := time.Duration(up.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, up.URL, bytes.NewReader(payload))
	if err != nil {
		return Result{}, &TransportError{Upstream: up.URL, Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, &TransportError{Upstream: up.URL, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &TransportError{Upstream: up.URL, Cause: err}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Result{StatusCode: resp.StatusCode}, nil
	}

	var rpcResp jsonrpc.Response
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return Result{StatusCode: resp.StatusCode}, &TransportError{
			Upstream: up.URL,
			Cause:    fmt.Errorf("invalid JSON-RPC response body: %w", err),
		}
	}

	return Result{StatusCode: resp.StatusCode, Body: rpcResp}, nil
}
