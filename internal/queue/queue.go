// Package queue implements the per-network request queue: bounds
// in-flight upstream requests and enforces concurrency.
package queue

import (
	"context"
	"sync"
)

// Config bounds one network's queue.
type Config struct {
	ConcurrencyLimit int // max simultaneous upstream calls
	QueueSize        int // max waiting admissions before Admit fails fast with ErrFull
}

func DefaultConfig() Config {
	return Config{ConcurrencyLimit: 20, QueueSize: 200}
}

// Queue is a per-network admission gate implemented as a buffered
// semaphore channel that bounds concurrent upstream calls.
type Queue struct {
	network string
	sem     chan struct{}
	waiting chan struct{}
}

func New(network string, cfg Config) *Queue {
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 20
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 200
	}
	return &Queue{
		network: network,
		sem:     make(chan struct{}, cfg.ConcurrencyLimit),
		waiting: make(chan struct{}, cfg.QueueSize),
	}
}

// Admit blocks until a concurrency slot is free, the queue capacity is
// exceeded (fails fast), or ctx is cancelled. release() must be called
// exactly once after the guarded work completes.
func (q *Queue) Admit(ctx context.Context) (release func(), err error) {
	select {
	case q.waiting <- struct{}{}:
	default:
		return nil, &ErrFull{Network: q.network}
	}
	defer func() { <-q.waiting }()

	select {
	case q.sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-q.sem }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Depth reports current occupancy for the /stats queue snapshot.
func (q *Queue) Depth() (inUse, waiting, capacity int) {
	return len(q.sem), len(q.waiting), cap(q.sem)
}

type ErrFull struct{ Network string }

func (e *ErrFull) Error() string { return "queue full for network " + e.Network }

// Registry holds one Queue per network key.
type Registry struct {
	mu     sync.Mutex
	cfg    Config
	queues map[string]*Queue
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, queues: make(map[string]*Queue)}
}

func (r *Registry) For(network string) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[network]; ok {
		return q
	}
	q := New(network, r.cfg)
	r.queues[network] = q
	return q
}
