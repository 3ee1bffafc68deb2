package creditledger

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	breakerFailureThreshold = 3
	breakerFailureWindow    = 5 * time.Minute
	breakerOpenPeriod       = 30 * time.Second
)

// ErrCircuitOpen is returned by BreakerStore while the wrapped store is
// considered unhealthy. The ledger reports it as ErrUnavailable.
var ErrCircuitOpen = errors.New("creditledger: store circuit open")

// HealthState is the circuit-breaker state of a store.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthUnhealthy
	HealthHalfOpen
)

func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerStore wraps a BalanceStore with a circuit breaker. After
// breakerFailureThreshold infrastructure failures inside breakerFailureWindow
// every call fails fast with ErrCircuitOpen for breakerOpenPeriod; the next
// call after that probes the store. Conflicts and missing accounts are normal
// answers and never count as failures.
type BreakerStore struct {
	next  BalanceStore
	clock Clock

	mu       sync.Mutex
	state    HealthState
	failures []time.Time // sliding window of failure timestamps
	openedAt time.Time
}

var _ BalanceStore = (*BreakerStore)(nil)

// NewBreakerStore wraps next. If clock is nil, SystemClock is used.
func NewBreakerStore(next BalanceStore, clock Clock) *BreakerStore {
	if clock == nil {
		clock = SystemClock{}
	}
	return &BreakerStore{next: next, clock: clock}
}

// Health returns the current state.
func (b *BreakerStore) Health() HealthState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

func (b *BreakerStore) Load(ctx context.Context, userID string) (Account, error) {
	if err := b.allow(); err != nil {
		return Account{}, err
	}
	a, err := b.next.Load(ctx, userID)
	b.record(ctx, err)
	return a, err
}

func (b *BreakerStore) CreateIfAbsent(ctx context.Context, initial Account) (Account, bool, error) {
	if err := b.allow(); err != nil {
		return Account{}, false, err
	}
	a, created, err := b.next.CreateIfAbsent(ctx, initial)
	b.record(ctx, err)
	return a, created, err
}

func (b *BreakerStore) ConditionedWrite(ctx context.Context, expectedVersion int64, next Account) (Account, error) {
	if err := b.allow(); err != nil {
		return Account{}, err
	}
	a, err := b.next.ConditionedWrite(ctx, expectedVersion, next)
	b.record(ctx, err)
	return a, err
}

// refresh moves an open breaker to half-open once the open period has elapsed.
// Callers hold b.mu.
func (b *BreakerStore) refresh() {
	if b.state == HealthUnhealthy && b.clock.Now().Sub(b.openedAt) >= breakerOpenPeriod {
		b.state = HealthHalfOpen
	}
}

func (b *BreakerStore) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	if b.state == HealthUnhealthy {
		return ErrCircuitOpen
	}
	return nil
}

func (b *BreakerStore) record(ctx context.Context, err error) {
	// A caller giving up says nothing about the store.
	if ctx.Err() != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || errors.Is(err, ErrConflict) || errors.Is(err, ErrAccountNotFound) {
		b.state = HealthHealthy
		b.failures = b.failures[:0]
		return
	}

	now := b.clock.Now()
	if b.state == HealthHalfOpen {
		b.state = HealthUnhealthy
		b.openedAt = now
		return
	}

	// Prune old failures outside the window.
	cutoff := now.Add(-breakerFailureWindow)
	valid := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	b.failures = append(valid, now)

	if len(b.failures) >= breakerFailureThreshold {
		b.state = HealthUnhealthy
		b.openedAt = now
		b.failures = b.failures[:0]
	}
}
