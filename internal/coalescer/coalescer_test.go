package coalescer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"rpcache-proxy/internal/jsonrpc"
)

func TestJoin_FirstCallerIsOwner(t *testing.T) {
	c := New()
	owner, _ := c.Join("fp1")
	assert.True(t, owner)
}

func TestJoin_SecondCallerWaits(t *testing.T) {
	c := New()
	owner, _ := c.Join("fp1")
	assert.True(t, owner)

	owner2, wait := c.Join("fp1")
	assert.False(t, owner2)

	want := jsonrpc.NewResultResponse(jsonrpc.ID{}, []byte(`"0x1"`))
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Settle("fp1", want, nil)
	}()

	got, err := wait()
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestJoin_ConcurrentWaitersAllSeeSameResult(t *testing.T) {
	c := New()
	const n = 50

	owner, ownerWait := c.Join("fp1")
	assert.True(t, owner)

	var wg sync.WaitGroup
	results := make([]jsonrpc.Response, n)
	for i := 0; i < n; i++ {
		_, wait := c.Join("fp1")
		wg.Add(1)
		go func(i int, wait func() (jsonrpc.Response, error)) {
			defer wg.Done()
			resp, err := wait()
			assert.NoError(t, err)
			results[i] = resp
		}(i, wait)
	}

	want := jsonrpc.NewResultResponse(jsonrpc.ID{}, []byte(`"0x42"`))
	c.Settle("fp1", want, nil)
	_, _ = ownerWait()
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, want, r)
	}
}

func TestJoin_AfterSettleStartsFreshEntry(t *testing.T) {
	c := New()
	owner, wait := c.Join("fp1")
	assert.True(t, owner)
	c.Settle("fp1", jsonrpc.NewResultResponse(jsonrpc.ID{}, []byte(`"0x1"`)), nil)
	_, _ = wait()

	owner2, _ := c.Join("fp1")
	assert.True(t, owner2, "fingerprint must be free to claim again once settled")
}
