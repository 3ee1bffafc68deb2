// Package redis provides a Redis-backed BalanceStore for creditledger.
//
// Each account is a Redis hash. Creation and version-conditioned writes run as
// Lua scripts, so they are atomic across every process sharing the server.
package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/creditledger"
)

// Store is a Redis-backed BalanceStore and UsageRecorder.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var (
	_ creditledger.BalanceStore  = (*Store)(nil)
	_ creditledger.UsageRecorder = (*Store)(nil)
	_ creditledger.UsageReader   = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "creditledger:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed store.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "creditledger:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) accountKey(userID string) string {
	return s.keyPrefix + "account:" + userID
}

func (s *Store) usageKey(userID string) string {
	return s.keyPrefix + "usage:" + userID
}

// createScript stores a new account unless one exists.
// KEYS[1] = account hash key
// ARGV    = user_id, balance, daily_used, monthly_used,
//
//	last_daily_reset, last_monthly_reset, created_at, updated_at
//
// Returns 1 when created, 0 when the account already existed.
var createScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1],
    "user_id", ARGV[1],
    "balance", ARGV[2],
    "daily_used", ARGV[3],
    "monthly_used", ARGV[4],
    "last_daily_reset", ARGV[5],
    "last_monthly_reset", ARGV[6],
    "version", "1",
    "created_at", ARGV[7],
    "updated_at", ARGV[8])
return 1
`)

// writeScript replaces an account if its version matches.
// KEYS[1] = account hash key
// ARGV[1] = expected version
// ARGV    = balance, daily_used, monthly_used, last_daily_reset,
//
//	last_monthly_reset, updated_at
//
// Returns:
//
//	1  = written
//	0  = version mismatch
//	-1 = account not found
//	-2 = negative balance rejected
var writeScript = goredis.NewScript(`
local version = redis.call("HGET", KEYS[1], "version")
if not version then
    return -1
end
if tonumber(version) ~= tonumber(ARGV[1]) then
    return 0
end
if tonumber(ARGV[2]) < 0 then
    return -2
end
redis.call("HSET", KEYS[1],
    "balance", ARGV[2],
    "daily_used", ARGV[3],
    "monthly_used", ARGV[4],
    "last_daily_reset", ARGV[5],
    "last_monthly_reset", ARGV[6],
    "version", tostring(tonumber(ARGV[1]) + 1),
    "updated_at", ARGV[7])
return 1
`)

// Load returns the account of userID.
func (s *Store) Load(ctx context.Context, userID string) (creditledger.Account, error) {
	vals, err := s.client.HGetAll(ctx, s.accountKey(userID)).Result()
	if err != nil {
		return creditledger.Account{}, fmt.Errorf("creditledger/redis: load: %w", err)
	}
	if len(vals) == 0 {
		return creditledger.Account{}, creditledger.ErrAccountNotFound
	}
	a, err := decodeAccount(userID, vals)
	if err != nil {
		return creditledger.Account{}, fmt.Errorf("creditledger/redis: load: %w", err)
	}
	return a, nil
}

// CreateIfAbsent stores initial unless the user already has an account.
func (s *Store) CreateIfAbsent(ctx context.Context, initial creditledger.Account) (creditledger.Account, bool, error) {
	result, err := createScript.Run(ctx, s.client,
		[]string{s.accountKey(initial.UserID)},
		initial.UserID,
		initial.Balance,
		initial.DailyUsed,
		initial.MonthlyUsed,
		initial.LastDailyReset.UnixNano(),
		initial.LastMonthlyReset.UnixNano(),
		initial.CreatedAt.UnixNano(),
		initial.UpdatedAt.UnixNano(),
	).Int64()
	if err != nil {
		return creditledger.Account{}, false, fmt.Errorf("creditledger/redis: create: %w", err)
	}

	if result == 1 {
		initial.Version = 1
		return initial, true, nil
	}

	existing, err := s.Load(ctx, initial.UserID)
	if err != nil {
		return creditledger.Account{}, false, err
	}
	return existing, false, nil
}

// ConditionedWrite replaces the account if its version is expectedVersion.
func (s *Store) ConditionedWrite(ctx context.Context, expectedVersion int64, next creditledger.Account) (creditledger.Account, error) {
	result, err := writeScript.Run(ctx, s.client,
		[]string{s.accountKey(next.UserID)},
		expectedVersion,
		next.Balance,
		next.DailyUsed,
		next.MonthlyUsed,
		next.LastDailyReset.UnixNano(),
		next.LastMonthlyReset.UnixNano(),
		next.UpdatedAt.UnixNano(),
	).Int64()
	if err != nil {
		return creditledger.Account{}, fmt.Errorf("creditledger/redis: write: %w", err)
	}

	switch result {
	case 1:
		next.Version = expectedVersion + 1
		return next, nil
	case 0:
		return creditledger.Account{}, creditledger.ErrConflict
	case -1:
		return creditledger.Account{}, creditledger.ErrAccountNotFound
	case -2:
		return creditledger.Account{}, fmt.Errorf("creditledger/redis: write: negative balance for %q", next.UserID)
	default:
		return creditledger.Account{}, fmt.Errorf("creditledger/redis: unexpected write result: %d", result)
	}
}

// RecordUsage increments the invocation counter of (userID, serviceType).
func (s *Store) RecordUsage(ctx context.Context, userID, serviceType string, at time.Time) error {
	key := s.usageKey(userID)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, serviceType+":count", 1)
		pipe.HSet(ctx, key, serviceType+":last", at.UnixNano())
		return nil
	})
	if err != nil {
		return fmt.Errorf("creditledger/redis: record usage: %w", err)
	}
	return nil
}

// UsageStats lists the counters of userID.
func (s *Store) UsageStats(ctx context.Context, userID string) ([]creditledger.UsageStat, error) {
	vals, err := s.client.HGetAll(ctx, s.usageKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("creditledger/redis: usage stats: %w", err)
	}

	byService := make(map[string]*creditledger.UsageStat)
	for field, raw := range vals {
		i := strings.LastIndexByte(field, ':')
		if i < 0 {
			continue
		}
		svc, kind := field[:i], field[i+1:]
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("creditledger/redis: usage stats: field %q: %w", field, err)
		}
		st, ok := byService[svc]
		if !ok {
			st = &creditledger.UsageStat{UserID: userID, ServiceType: svc}
			byService[svc] = st
		}
		switch kind {
		case "count":
			st.Count = n
		case "last":
			st.LastUsed = time.Unix(0, n).UTC()
		}
	}

	out := make([]creditledger.UsageStat, 0, len(byService))
	for _, st := range byService {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceType < out[j].ServiceType })
	return out, nil
}

func decodeAccount(userID string, vals map[string]string) (creditledger.Account, error) {
	ints := make(map[string]int64, 8)
	for _, field := range []string{
		"balance", "daily_used", "monthly_used", "version",
		"last_daily_reset", "last_monthly_reset", "created_at", "updated_at",
	} {
		raw, ok := vals[field]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return creditledger.Account{}, fmt.Errorf("field %q: %w", field, err)
		}
		ints[field] = n
	}

	return creditledger.Account{
		UserID:           userID,
		Balance:          ints["balance"],
		DailyUsed:        ints["daily_used"],
		MonthlyUsed:      ints["monthly_used"],
		LastDailyReset:   time.Unix(0, ints["last_daily_reset"]).UTC(),
		LastMonthlyReset: time.Unix(0, ints["last_monthly_reset"]).UTC(),
		Version:          ints["version"],
		CreatedAt:        time.Unix(0, ints["created_at"]).UTC(),
		UpdatedAt:        time.Unix(0, ints["updated_at"]).UTC(),
	}, nil
}
