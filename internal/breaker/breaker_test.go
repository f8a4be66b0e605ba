package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := New("eth", Config{FailureThreshold: 3, RecoveryTimeoutMs: 10_000, MonitoringPeriodMs: 60_000})

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_, err := b.Run(context.Background(), func(ctx context.Context) (any, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
	}

	assert.Equal(t, Open, b.State())
}

func TestBreaker_RejectsWhileOpen(t *testing.T) {
	b := New("eth", Config{FailureThreshold: 1, RecoveryTimeoutMs: 10_000, MonitoringPeriodMs: 60_000})

	_, _ = b.Run(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.Equal(t, Open, b.State())

	called := false
	_, err := b.Run(context.Background(), func(ctx context.Context) (any, error) {
		called = true
		return nil, nil
	})

	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "fn must not run while the breaker is open")
}

func TestBreaker_RecoversAfterTimeout(t *testing.T) {
	b := New("eth", Config{FailureThreshold: 1, RecoveryTimeoutMs: 20, MonitoringPeriodMs: 60_000})

	_, _ = b.Run(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.Equal(t, Open, b.State())

	time.Sleep(40 * time.Millisecond)

	_, err := b.Run(context.Background(), func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	b := New("eth", Config{FailureThreshold: 3, RecoveryTimeoutMs: 10_000, MonitoringPeriodMs: 60_000})

	_, _ = b.Run(context.Background(), func(ctx context.Context) (any, error) { return nil, errors.New("boom") })
	_, _ = b.Run(context.Background(), func(ctx context.Context) (any, error) { return "ok", nil })

	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)
	assert.Equal(t, Closed, b.State())
}

func TestRegistry_PartitionsPerNetwork(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	ethBreaker := r.For("eth")
	polyBreaker := r.For("polygon")
	assert.NotSame(t, ethBreaker, polyBreaker)
	assert.Same(t, ethBreaker, r.For("eth"))
}
