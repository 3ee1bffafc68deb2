package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/creditledger"
	"github.com/ineyio/creditledger/clock"
	"github.com/ineyio/creditledger/store/sqlite"
)

var t0 = time.Date(2026, time.June, 1, 9, 0, 0, 123456789, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "data", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func account(userID string, balance int64) creditledger.Account {
	return creditledger.Account{
		UserID:           userID,
		Balance:          balance,
		LastDailyReset:   t0,
		LastMonthlyReset: t0,
		CreatedAt:        t0,
		UpdatedAt:        t0,
	}
}

func TestOpen_CreatesDirectoryAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "ledger.db")
	s, err := sqlite.Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, path, s.Path())
	// Schema creation is idempotent.
	require.NoError(t, s.EnsureSchema(context.Background()))
}

func TestCreateAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Load(ctx, "u1")
	assert.ErrorIs(t, err, creditledger.ErrAccountNotFound)

	stored, created, err := s.CreateIfAbsent(ctx, account("u1", 100))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, int64(100), stored.Balance)
	assert.True(t, stored.LastDailyReset.Equal(t0))

	again, created, err := s.CreateIfAbsent(ctx, account("u1", 5))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(100), again.Balance)
}

func TestConditionedWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.CreateIfAbsent(ctx, account("u1", 100))
	require.NoError(t, err)

	next := account("u1", 50)
	next.DailyUsed, next.MonthlyUsed = 50, 50
	next.LastDailyReset = t0.Add(24 * time.Hour)
	next.UpdatedAt = t0.Add(24 * time.Hour)

	stored, err := s.ConditionedWrite(ctx, 1, next)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)

	loaded, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), loaded.Balance)
	assert.Equal(t, int64(50), loaded.DailyUsed)
	assert.Equal(t, int64(2), loaded.Version)
	assert.True(t, loaded.LastDailyReset.Equal(t0.Add(24*time.Hour)))

	_, err = s.ConditionedWrite(ctx, 1, next)
	assert.ErrorIs(t, err, creditledger.ErrConflict)

	_, err = s.ConditionedWrite(ctx, 1, account("ghost", 1))
	assert.ErrorIs(t, err, creditledger.ErrAccountNotFound)
}

func TestConditionedWrite_RejectsNegativeBalance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.CreateIfAbsent(ctx, account("u1", 10))
	require.NoError(t, err)

	_, err = s.ConditionedWrite(ctx, 1, account("u1", -1))
	assert.Error(t, err)

	loaded, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), loaded.Balance)
}

func TestUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordUsage(ctx, "u1", "image", t0))
	require.NoError(t, s.RecordUsage(ctx, "u1", "image", t0.Add(time.Minute)))
	require.NoError(t, s.RecordUsage(ctx, "u1", "chat", t0))
	require.NoError(t, s.RecordUsage(ctx, "u2", "chat", t0))

	stats, err := s.UsageStats(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "chat", stats[0].ServiceType)
	assert.Equal(t, "image", stats[1].ServiceType)
	assert.Equal(t, int64(2), stats[1].Count)
	assert.True(t, stats[1].LastUsed.Equal(t0.Add(time.Minute)))
}

func TestLedger_ConcurrentChargesNoDoubleSpend(t *testing.T) {
	const n = 10

	s := newTestStore(t)
	cat, err := creditledger.NewCatalog(
		[]creditledger.ServiceCost{{Type: "image", Cost: 50}},
		creditledger.Limits{Daily: 1000, Monthly: 10000},
		creditledger.StartingGrants{},
	)
	require.NoError(t, err)

	l, err := creditledger.New(s, cat,
		creditledger.WithClock(clock.NewManual(t0)),
		creditledger.WithRetry(50, time.Millisecond),
	)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = l.Grant(ctx, "u1", 200)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := l.CheckAndDeduct(ctx, "u1", "image")
			if assert.NoError(t, err) && out.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(4), allowed.Load())
	snap, err := l.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Balance)
	assert.Equal(t, int64(200), snap.DailyUsed)
}
