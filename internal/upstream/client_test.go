package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpcache-proxy/internal/jsonrpc"
	"rpcache-proxy/internal/network"
)

func TestClient_429AfterExhaustedRetriesReturnsNoError(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := NewClient(0, 0)
	up := network.Upstream{URL: ts.URL, TimeoutMs: 1000, MaxRetries: 2, RetryDelayMs: 1}

	result, err := c.Call(context.Background(), up, jsonrpc.Request{JSONRPC: "2.0", Method: "eth_chainId"})

	require.NoError(t, err, "the client reports a 429 faithfully, it does not synthesize an error itself")
	assert.Equal(t, http.StatusTooManyRequests, result.StatusCode)
	assert.True(t, result.Body.IsNull(), "no JSON-RPC body was ever unmarshaled for a retried status code")
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits), "one initial attempt plus MaxRetries retries")
}

func TestClient_5xxAndTooManyRequestsAreBothRetried(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := NewClient(0, 0)
	up := network.Upstream{URL: ts.URL, TimeoutMs: 1000, MaxRetries: 3, RetryDelayMs: 1}

	result, err := c.Call(context.Background(), up, jsonrpc.Request{JSONRPC: "2.0", Method: "eth_chainId"})

	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, result.StatusCode)
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits), "both a 5xx and a 429 must count toward the retry budget")
}

func TestClient_SuccessfulResponseIsNotRetried(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`))
	}))
	defer ts.Close()

	c := NewClient(0, 0)
	up := network.Upstream{URL: ts.URL, TimeoutMs: 1000, MaxRetries: 5, RetryDelayMs: 1}

	result, err := c.Call(context.Background(), up, jsonrpc.Request{JSONRPC: "2.0", Method: "eth_chainId"})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
