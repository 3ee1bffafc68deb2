package creditledger

import (
	"context"
	"time"
)

// BalanceStore persists credit accounts. Implementations must make
// ConditionedWrite atomic with respect to every other write of the same user.
type BalanceStore interface {
	// Load returns the stored account or ErrAccountNotFound.
	Load(ctx context.Context, userID string) (Account, error)

	// CreateIfAbsent stores initial unless an account already exists for
	// initial.UserID. It returns the stored account and whether this call
	// created it. The first writer wins.
	CreateIfAbsent(ctx context.Context, initial Account) (Account, bool, error)

	// ConditionedWrite replaces the account of next.UserID if its stored
	// version equals expectedVersion, returning the stored account with
	// Version set to expectedVersion+1. It returns ErrConflict on a version
	// mismatch and ErrAccountNotFound when no account exists.
	ConditionedWrite(ctx context.Context, expectedVersion int64, next Account) (Account, error)
}

// UsageRecorder keeps per-service invocation counters. It is observational:
// its failures never affect charging.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, userID, serviceType string, at time.Time) error
}

// UsageReader lists the counters written by a UsageRecorder.
type UsageReader interface {
	UsageStats(ctx context.Context, userID string) ([]UsageStat, error)
}
