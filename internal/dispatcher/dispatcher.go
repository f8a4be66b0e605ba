// Package dispatcher implements batch handling: splitting a JSON-RPC
// batch into individually-processed items with bounded parallelism,
// preserving per-request error isolation and response order.
package dispatcher

import (
	"context"
	"sync"

	"rpcache-proxy/internal/jsonrpc"
)

// Processor is the single-request entry point a Dispatcher fans out to,
// satisfied by *pipeline.Pipeline.Process.
type Processor func(ctx context.Context, networkKey string, req jsonrpc.Request) jsonrpc.Outcome

type Dispatcher struct {
	Process          Processor
	ConcurrencyLimit int
}

func New(process Processor, concurrencyLimit int) *Dispatcher {
	if concurrencyLimit <= 0 {
		concurrencyLimit = 10
	}
	return &Dispatcher{Process: process, ConcurrencyLimit: concurrencyLimit}
}

// Dispatch processes a single request, with the same panic isolation as
// each batch item.
func (d *Dispatcher) Dispatch(ctx context.Context, networkKey string, req jsonrpc.Request) jsonrpc.Outcome {
	return d.safeDispatch(ctx, networkKey, req)
}

// DispatchBatch processes an ordered batch, chunking to ConcurrencyLimit
// items in flight at once. Outcomes are returned in a slice of the same
// length and order as reqs. A response is always produced at a
// notification's index; the stricter JSON-RPC 2.0 behavior of omitting
// it is deliberately not implemented here.
func (d *Dispatcher) DispatchBatch(ctx context.Context, networkKey string, reqs []jsonrpc.Request) []jsonrpc.Outcome {
	outcomes := make([]jsonrpc.Outcome, len(reqs))

	for start := 0; start < len(reqs); start += d.ConcurrencyLimit {
		end := start + d.ConcurrencyLimit
		if end > len(reqs) {
			end = len(reqs)
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				outcomes[i] = d.safeDispatch(ctx, networkKey, reqs[i])
			}(i)
		}
		wg.Wait()
	}

	return outcomes
}

// safeDispatch isolates one item's failure, including a panic inside the
// pipeline, from the rest of the batch: a failed item produces a
// JSON-RPC error response at its position and does not abort the batch,
// and no panic crosses the pipeline boundary.
func (d *Dispatcher) safeDispatch(ctx context.Context, networkKey string, req jsonrpc.Request) (outcome jsonrpc.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = jsonrpc.Outcome{Response: jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrInternal()), CacheStatus: "error"}
		}
	}()
	return d.Process(ctx, networkKey, req)
}
