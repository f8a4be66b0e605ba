// Package breaker implements the per-network circuit breaker. It wraps
// failsafe-go's circuit breaker policy
// (github.com/failsafe-go/failsafe-go/circuitbreaker): a count-based
// failure threshold plus timed recovery and a single half-open probe,
// rather than a rolling-error-rate breaker, since the required state
// machine tracks consecutive failures against a fixed threshold.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
)

type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config holds the breaker's tunable thresholds.
type Config struct {
	FailureThreshold   int
	RecoveryTimeoutMs  int
	MonitoringPeriodMs int
}

func DefaultConfig() Config {
	return Config{FailureThreshold: 5, RecoveryTimeoutMs: 60000, MonitoringPeriodMs: 300000}
}

// Breaker guards calls to one network's upstream. A "failure" is any
// transport error or upstream HTTP status >= 500; a JSON-RPC response
// carrying an "error" field is a successful transport and must be
// reported to Run as a nil error so it resets the consecutive-failure
// count like any other success.
type Breaker struct {
	network string
	cfg     Config
	cb      circuitbreaker.CircuitBreaker[any]
	executor failsafe.Executor[any]

	mu                  sync.Mutex
	consecutiveFailures int
	openedAt            time.Time
}

func New(network string, cfg Config) *Breaker {
	builder := circuitbreaker.Builder[any]().
		WithFailureThreshold(uint(cfg.FailureThreshold)).
		WithDelay(time.Duration(cfg.RecoveryTimeoutMs) * time.Millisecond).
		WithSuccessThreshold(1)

	b := &Breaker{network: network, cfg: cfg}

	builder.OnOpen(func(event circuitbreaker.StateChangedEvent) {
		b.mu.Lock()
		b.openedAt = time.Now()
		b.mu.Unlock()
	})
	builder.OnClose(func(event circuitbreaker.StateChangedEvent) {
		b.mu.Lock()
		b.consecutiveFailures = 0
		b.mu.Unlock()
	})
	builder.OnFailure(func(event failsafe.ExecutionEvent[any]) {
		b.mu.Lock()
		b.consecutiveFailures++
		b.mu.Unlock()
	})
	builder.OnSuccess(func(event failsafe.ExecutionEvent[any]) {
		b.mu.Lock()
		b.consecutiveFailures = 0
		b.mu.Unlock()
	})

	b.cb = builder.Build()
	b.executor = failsafe.NewExecutor[any](b.cb)
	return b
}

// ErrOpen is returned by Run when the breaker is open, surfaced to
// callers as an "upstream_unavailable" response.
var ErrOpen = circuitbreaker.ErrOpen

// Run executes fn through the breaker. If the breaker is open, fn is
// never invoked and ErrOpen is returned immediately.
func (b *Breaker) Run(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	return b.executor.WithContext(ctx).Get(func() (any, error) {
		return fn(ctx)
	})
}

// State reports the current breaker state for the /stats snapshot.
func (b *Breaker) State() State {
	switch {
	case b.cb.IsOpen():
		return Open
	case b.cb.IsHalfOpen():
		return HalfOpen
	default:
		return Closed
	}
}

// Snapshot reports a breaker's current state for the /stats endpoint.
type Snapshot struct {
	Network             string    `json:"network"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Network:             b.network,
		State:               b.State(),
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
	}
}

// Registry holds one Breaker per network key: breakers, like queues and
// the block-number cache, are partitioned by network.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

func (r *Registry) For(network string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[network]; ok {
		return b
	}
	b := New(network, r.cfg)
	r.breakers[network] = b
	return b
}

func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
