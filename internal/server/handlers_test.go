package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpcache-proxy/internal/dispatcher"
	"rpcache-proxy/internal/jsonrpc"
	"rpcache-proxy/internal/logger"
	"rpcache-proxy/internal/metrics"
)

// discardLogger is a no-op Logger so handler tests don't need a real
// zerolog sink.
type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
func (discardLogger) Fatal(string, ...any) {}
func (discardLogger) Panic(string, ...any) {}

func (discardLogger) WithFields(fields logger.Fields) logger.Logger { return discardLogger{} }
func (discardLogger) WithError(err error) logger.Logger             { return discardLogger{} }
func (discardLogger) Cleanup()                                      {}

func newTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/", nil)
	return c, w
}

func TestHandleBatch_InvalidItemPreservesID(t *testing.T) {
	var dispatched []jsonrpc.Request
	process := func(ctx context.Context, networkKey string, req jsonrpc.Request) jsonrpc.Outcome {
		dispatched = append(dispatched, req)
		return jsonrpc.Outcome{Response: jsonrpc.NewResultResponse(req.ID, []byte(`"0x1"`)), CacheStatus: "miss"}
	}
	s := &Server{Dispatcher: dispatcher.New(process, 10), Metrics: metrics.New()}

	body := []byte(`[{"jsonrpc":"2.0","id":7},{"jsonrpc":"2.0","id":8,"method":"eth_chainId"}]`)

	c, w := newTestContext()
	s.handleBatch(context.Background(), c, "eth", body, discardLogger{})

	require.Equal(t, 200, w.Code)
	var responses []jsonrpc.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &responses))
	require.Len(t, responses, 2)

	invalid := responses[0]
	require.NotNil(t, invalid.Error)
	assert.Equal(t, jsonrpc.CodeInvalidRequest, invalid.Error.Code)
	assert.Equal(t, json.RawMessage("7"), invalid.ID.Raw(), "the invalid item's id must be echoed back, not zero-valued")

	valid := responses[1]
	assert.Nil(t, valid.Error)
	assert.Equal(t, json.RawMessage("8"), valid.ID.Raw())

	require.Len(t, dispatched, 1, "only the syntactically valid item should reach the dispatcher")
	assert.Equal(t, "eth_chainId", dispatched[0].Method)
}

func TestHandleBatch_AllInvalidNeverDispatches(t *testing.T) {
	called := false
	process := func(ctx context.Context, networkKey string, req jsonrpc.Request) jsonrpc.Outcome {
		called = true
		return jsonrpc.Outcome{Response: jsonrpc.NewResultResponse(req.ID, []byte(`"0x1"`)), CacheStatus: "miss"}
	}
	s := &Server{Dispatcher: dispatcher.New(process, 10), Metrics: metrics.New()}

	body := []byte(`[{"jsonrpc":"2.0","id":1},{"jsonrpc":"2.0","id":2,"method":""}]`)

	c, w := newTestContext()
	s.handleBatch(context.Background(), c, "eth", body, discardLogger{})

	require.Equal(t, 200, w.Code)
	var responses []jsonrpc.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &responses))
	require.Len(t, responses, 2)
	for i, resp := range responses {
		require.NotNil(t, resp.Error, "item %d", i)
		assert.Equal(t, jsonrpc.CodeInvalidRequest, resp.Error.Code)
	}
	assert.False(t, called, "a batch with no valid items must never reach the dispatcher")
}

func TestHandleBatch_EmptyBatchReturnsEmptyArray(t *testing.T) {
	s := &Server{Dispatcher: dispatcher.New(nil, 10), Metrics: metrics.New()}

	body := []byte(`[]`)
	c, w := newTestContext()
	s.handleBatch(context.Background(), c, "eth", body, discardLogger{})

	require.Equal(t, 200, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}
