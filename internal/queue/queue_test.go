package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmit_GrantsWithinLimit(t *testing.T) {
	q := New("eth", Config{ConcurrencyLimit: 2, QueueSize: 10})

	release1, err := q.Admit(context.Background())
	require.NoError(t, err)
	defer release1()

	release2, err := q.Admit(context.Background())
	require.NoError(t, err)
	defer release2()

	inUse, _, capacity := q.Depth()
	assert.Equal(t, 2, inUse)
	assert.Equal(t, 2, capacity)
}

func TestAdmit_BlocksPastLimitUntilRelease(t *testing.T) {
	q := New("eth", Config{ConcurrencyLimit: 1, QueueSize: 10})

	release1, err := q.Admit(context.Background())
	require.NoError(t, err)

	admitted := make(chan struct{})
	go func() {
		release2, err := q.Admit(context.Background())
		require.NoError(t, err)
		close(admitted)
		release2()
	}()

	select {
	case <-admitted:
		t.Fatal("second admission should not complete before the first is released")
	case <-time.After(20 * time.Millisecond):
	}

	release1()
	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("second admission should complete once the slot is released")
	}
}

func TestAdmit_CancelledContext(t *testing.T) {
	q := New("eth", Config{ConcurrencyLimit: 1, QueueSize: 10})
	release1, err := q.Admit(context.Background())
	require.NoError(t, err)
	defer release1()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = q.Admit(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdmit_FailsFastWhenQueueFull(t *testing.T) {
	q := New("eth", Config{ConcurrencyLimit: 1, QueueSize: 1})

	release1, err := q.Admit(context.Background())
	require.NoError(t, err)
	defer release1()

	// Occupy the single waiting slot with a goroutine blocked on the sem.
	blocked := make(chan struct{})
	go func() {
		close(blocked)
		_, _ = q.Admit(context.Background())
	}()
	<-blocked
	time.Sleep(10 * time.Millisecond)

	_, err = q.Admit(context.Background())
	assert.Error(t, err)
	var full *ErrFull
	assert.ErrorAs(t, err, &full)
}

func TestRegistry_PartitionsPerNetwork(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	assert.NotSame(t, r.For("eth"), r.For("polygon"))
	assert.Same(t, r.For("eth"), r.For("eth"))
}
