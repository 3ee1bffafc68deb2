//go:build integration

package postgres_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/creditledger"
	"github.com/ineyio/creditledger/clock"
	storepg "github.com/ineyio/creditledger/store/postgres"
)

// timestamptz keeps microseconds.
var t0 = time.Date(2026, time.June, 1, 9, 0, 0, 123000, time.UTC)

func newTestStore(t *testing.T) *storepg.Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/creditledger_test?sslmode=disable"
	}
	s, err := storepg.Connect(context.Background(), dsn)
	if err != nil {
		t.Fatalf("postgres not available: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// userID scopes rows to the running test and removes them afterwards.
func userID(t *testing.T, s *storepg.Store, name string) string {
	t.Helper()
	id := t.Name() + ":" + name
	require.NoError(t, s.Delete(context.Background(), id))
	t.Cleanup(func() { _ = s.Delete(context.Background(), id) })
	return id
}

func account(userID string, balance int64) creditledger.Account {
	return creditledger.Account{
		UserID: userID, Balance: balance,
		LastDailyReset: t0, LastMonthlyReset: t0, CreatedAt: t0, UpdatedAt: t0,
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestCreateLoadWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := userID(t, s, "u1")

	_, err := s.Load(ctx, u)
	require.ErrorIs(t, err, creditledger.ErrAccountNotFound)

	stored, created, err := s.CreateIfAbsent(ctx, account(u, 100))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), stored.Version)
	assert.True(t, stored.LastDailyReset.Equal(t0))

	_, created, err = s.CreateIfAbsent(ctx, account(u, 7))
	require.NoError(t, err)
	assert.False(t, created)

	next := stored
	next.Balance, next.DailyUsed = 40, 60
	written, err := s.ConditionedWrite(ctx, 1, next)
	require.NoError(t, err)
	assert.Equal(t, int64(2), written.Version)

	_, err = s.ConditionedWrite(ctx, 1, next)
	assert.ErrorIs(t, err, creditledger.ErrConflict)
	_, err = s.ConditionedWrite(ctx, 1, account(userID(t, s, "ghost"), 1))
	assert.ErrorIs(t, err, creditledger.ErrAccountNotFound)

	next.Balance = -1
	_, err = s.ConditionedWrite(ctx, 2, next)
	assert.Error(t, err, "balance check constraint")
}

func TestUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := userID(t, s, "u1")

	require.NoError(t, s.RecordUsage(ctx, u, "image", t0.Add(time.Second)))
	require.NoError(t, s.RecordUsage(ctx, u, "image", t0))
	require.NoError(t, s.RecordUsage(ctx, u, "chat", t0))

	stats, err := s.UsageStats(ctx, u)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "chat", stats[0].ServiceType)
	assert.Equal(t, int64(2), stats[1].Count)
	assert.True(t, stats[1].LastUsed.Equal(t0.Add(time.Second)))
}

func TestConcurrentGrantsAndCharges(t *testing.T) {
	const n = 10

	s := newTestStore(t)
	cat, err := creditledger.NewCatalog(
		[]creditledger.ServiceCost{{Type: "image", Cost: 50}},
		creditledger.Limits{Daily: 10_000, Monthly: 100_000},
		creditledger.StartingGrants{},
	)
	require.NoError(t, err)
	l, err := creditledger.New(s, cat,
		creditledger.WithClock(clock.NewManual(t0)),
		creditledger.WithRetry(100, time.Millisecond),
	)
	require.NoError(t, err)
	ctx := context.Background()
	u := userID(t, s, "u1")

	_, err = l.Grant(ctx, u, 1000)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
	)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := l.Grant(ctx, u, 10)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			out, err := l.CheckAndDeduct(ctx, u, "image")
			if assert.NoError(t, err) && out.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(n), allowed.Load())
	snap, err := l.Status(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, int64(1000+n*10-n*50), snap.Balance)
}
