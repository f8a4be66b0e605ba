package dispatcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"rpcache-proxy/internal/jsonrpc"
)

func idRequest(t *testing.T, n int) jsonrpc.Request {
	var id jsonrpc.ID
	raw := fmt.Sprintf("%d", n)
	if err := id.UnmarshalJSON([]byte(raw)); err != nil {
		t.Fatalf("unmarshal id: %v", err)
	}
	return jsonrpc.Request{JSONRPC: "2.0", Method: "eth_chainId", ID: id}
}

func TestDispatchBatch_PreservesOrder(t *testing.T) {
	process := func(ctx context.Context, networkKey string, req jsonrpc.Request) jsonrpc.Outcome {
		return jsonrpc.Outcome{Response: jsonrpc.NewResultResponse(req.ID, req.ID.Raw()), CacheStatus: "miss"}
	}
	d := New(process, 3)

	reqs := make([]jsonrpc.Request, 20)
	for i := range reqs {
		reqs[i] = idRequest(t, i)
	}

	outcomes := d.DispatchBatch(context.Background(), "eth", reqs)
	assert.Len(t, outcomes, 20)
	for i, o := range outcomes {
		assert.Equal(t, fmt.Sprintf("%d", i), string(o.Response.ID.Raw()))
	}
}

func TestDispatchBatch_IsolatesPanickingItem(t *testing.T) {
	process := func(ctx context.Context, networkKey string, req jsonrpc.Request) jsonrpc.Outcome {
		if req.Method == "boom" {
			panic("simulated pipeline panic")
		}
		return jsonrpc.Outcome{Response: jsonrpc.NewResultResponse(req.ID, []byte(`"ok"`)), CacheStatus: "miss"}
	}
	d := New(process, 2)

	reqs := []jsonrpc.Request{
		idRequest(t, 1),
		{JSONRPC: "2.0", Method: "boom", ID: idRequest(t, 2).ID},
		idRequest(t, 3),
	}

	outcomes := d.DispatchBatch(context.Background(), "eth", reqs)
	require := assert.New(t)
	require.Len(outcomes, 3)
	require.Nil(outcomes[0].Response.Error)
	require.NotNil(outcomes[1].Response.Error)
	require.Equal(jsonrpc.CodeInternalError, outcomes[1].Response.Error.Code)
	require.Equal("error", outcomes[1].CacheStatus)
	require.Nil(outcomes[2].Response.Error)
}

func TestDispatch_Single(t *testing.T) {
	called := false
	process := func(ctx context.Context, networkKey string, req jsonrpc.Request) jsonrpc.Outcome {
		called = true
		return jsonrpc.Outcome{Response: jsonrpc.NewResultResponse(req.ID, []byte(`"0x1"`)), CacheStatus: "miss"}
	}
	d := New(process, 10)

	outcome := d.Dispatch(context.Background(), "eth", idRequest(t, 1))
	assert.True(t, called)
	assert.Equal(t, []byte(`"0x1"`), []byte(outcome.Response.Result))
}
