// Package coalescer implements request coalescing: concurrent duplicate
// requests share one in-flight upstream call instead of each triggering
// its own, avoiding a race between a cache miss and the insert that
// follows it.
package coalescer

import (
	"sync"

	"rpcache-proxy/internal/jsonrpc"
)

// result is what every waiter on a fingerprint eventually receives.
type result struct {
	response jsonrpc.Response
	err      error
}

type inflight struct {
	done chan struct{}
	res  result
}

// Coalescer maps a fingerprint to a pending future so concurrent duplicate
// requests share one upstream call.
type Coalescer struct {
	mu    sync.Mutex
	table map[string]*inflight
}

func New() *Coalescer {
	return &Coalescer{table: make(map[string]*inflight)}
}

// Join attempts to join an in-flight call for fingerprint. If one exists,
// wait() blocks until it settles. If none exists, this caller becomes the
// owner: it must eventually call Settle to publish the result and wake
// waiters, removing the entry.
//
// The critical section spans the table lookup and insert together, so two
// concurrent callers for one fingerprint can never both become owner. The
// cache is not consulted here; callers that check the cache before Join
// re-check it as owner.
func (c *Coalescer) Join(fingerprint string) (owner bool, wait func() (jsonrpc.Response, error)) {
	c.mu.Lock()
	if existing, ok := c.table[fingerprint]; ok {
		c.mu.Unlock()
		return false, func() (jsonrpc.Response, error) {
			<-existing.done
			return existing.res.response, existing.res.err
		}
	}
	entry := &inflight{done: make(chan struct{})}
	c.table[fingerprint] = entry
	c.mu.Unlock()
	return true, func() (jsonrpc.Response, error) {
		<-entry.done
		return entry.res.response, entry.res.err
	}
}

// Settle publishes the result for fingerprint and removes it from the
// table, waking every waiter. Only the Join owner should call this.
func (c *Coalescer) Settle(fingerprint string, response jsonrpc.Response, err error) {
	c.mu.Lock()
	entry, ok := c.table[fingerprint]
	if ok {
		delete(c.table, fingerprint)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	entry.res = result{response: response, err: err}
	close(entry.done)
}
