package creditledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	cl "github.com/ineyio/creditledger"
	"github.com/ineyio/creditledger/clock"
	"github.com/ineyio/creditledger/store"
)

// Test: HealthState String()
func TestHealthState_String(t *testing.T) {
	assert.Equal(t, "healthy", cl.HealthHealthy.String())
	assert.Equal(t, "unhealthy", cl.HealthUnhealthy.String())
	assert.Equal(t, "half-open", cl.HealthHalfOpen.String())
}

func TestBreakerStore_OpensAfterFailures(t *testing.T) {
	clk := clock.NewManual(t0)
	inner := &mockStore{}
	down := errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
	inner.On("Load", mock.Anything, "u1").Return(cl.Account{}, down).Times(3)

	b := cl.NewBreakerStore(inner, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Load(ctx, "u1")
		require.ErrorIs(t, err, down)
	}
	assert.Equal(t, cl.HealthUnhealthy, b.Health())

	// Fails fast without touching the store.
	_, err := b.Load(ctx, "u1")
	assert.ErrorIs(t, err, cl.ErrCircuitOpen)
	inner.AssertExpectations(t)
}

func TestBreakerStore_HalfOpenRecovery(t *testing.T) {
	clk := clock.NewManual(t0)
	inner := &mockStore{}
	down := errors.New("i/o timeout")
	acct := cl.Account{UserID: "u1", Balance: 10, Version: 1, LastDailyReset: t0, LastMonthlyReset: t0}
	inner.On("Load", mock.Anything, "u1").Return(cl.Account{}, down).Times(3)
	inner.On("Load", mock.Anything, "u1").Return(acct, nil).Once()

	b := cl.NewBreakerStore(inner, clk)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = b.Load(ctx, "u1")
	}
	require.Equal(t, cl.HealthUnhealthy, b.Health())

	clk.Advance(31 * time.Second)
	assert.Equal(t, cl.HealthHalfOpen, b.Health())

	got, err := b.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, acct, got)
	assert.Equal(t, cl.HealthHealthy, b.Health())
	inner.AssertExpectations(t)
}

func TestBreakerStore_HalfOpenFailureReopens(t *testing.T) {
	clk := clock.NewManual(t0)
	inner := &mockStore{}
	down := errors.New("i/o timeout")
	inner.On("Load", mock.Anything, "u1").Return(cl.Account{}, down).Times(4)

	b := cl.NewBreakerStore(inner, clk)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = b.Load(ctx, "u1")
	}
	clk.Advance(time.Minute)

	_, err := b.Load(ctx, "u1")
	require.ErrorIs(t, err, down)
	assert.Equal(t, cl.HealthUnhealthy, b.Health())
	inner.AssertExpectations(t)
}

func TestBreakerStore_ConflictsAreHealthy(t *testing.T) {
	mem := store.NewMemoryStore()
	b := cl.NewBreakerStore(mem, clock.NewManual(t0))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.Load(ctx, "ghost")
		require.ErrorIs(t, err, cl.ErrAccountNotFound)
	}
	seed(t, mem, cl.Account{UserID: "u1", Balance: 10, LastDailyReset: t0, LastMonthlyReset: t0})
	for i := 0; i < 5; i++ {
		_, err := b.ConditionedWrite(ctx, 99, cl.Account{UserID: "u1"})
		require.ErrorIs(t, err, cl.ErrConflict)
	}
	assert.Equal(t, cl.HealthHealthy, b.Health())
}

func TestBreakerStore_LedgerReportsUnavailable(t *testing.T) {
	clk := clock.NewManual(t0)
	inner := &mockStore{}
	inner.On("Load", mock.Anything, "u1").Return(cl.Account{}, errors.New("connection reset")).Times(3)

	l := newTestLedger(t, cl.NewBreakerStore(inner, clk), clk)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := l.CheckAndDeduct(ctx, "u1", "serviceX")
		require.ErrorIs(t, err, cl.ErrUnavailable)
	}
	_, err := l.Status(ctx, "u1")
	assert.ErrorIs(t, err, cl.ErrCircuitOpen)
	assert.ErrorIs(t, err, cl.ErrUnavailable)
	inner.AssertExpectations(t)
}
