// Package store provides an in-memory BalanceStore and UsageRecorder.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ineyio/creditledger"
)

// MemoryStore keeps accounts and usage counters in process memory.
// Writes are serialized by a single mutex, so ConditionedWrite is atomic.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]creditledger.Account
	usage    map[string]map[string]*creditledger.UsageStat
}

var (
	_ creditledger.BalanceStore  = (*MemoryStore)(nil)
	_ creditledger.UsageRecorder = (*MemoryStore)(nil)
	_ creditledger.UsageReader   = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]creditledger.Account),
		usage:    make(map[string]map[string]*creditledger.UsageStat),
	}
}

// Load returns the account of userID.
func (s *MemoryStore) Load(ctx context.Context, userID string) (creditledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return creditledger.Account{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return creditledger.Account{}, creditledger.ErrAccountNotFound
	}
	return a, nil
}

// CreateIfAbsent stores initial unless the user already has an account.
func (s *MemoryStore) CreateIfAbsent(ctx context.Context, initial creditledger.Account) (creditledger.Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return creditledger.Account{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.accounts[initial.UserID]; ok {
		return existing, false, nil
	}

	initial.Version = 1
	s.accounts[initial.UserID] = initial
	return initial, true, nil
}

// ConditionedWrite replaces the account if its version is expectedVersion.
func (s *MemoryStore) ConditionedWrite(ctx context.Context, expectedVersion int64, next creditledger.Account) (creditledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return creditledger.Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[next.UserID]
	if !ok {
		return creditledger.Account{}, creditledger.ErrAccountNotFound
	}
	if current.Version != expectedVersion {
		return creditledger.Account{}, creditledger.ErrConflict
	}

	next.Version = expectedVersion + 1
	next.CreatedAt = current.CreatedAt
	s.accounts[next.UserID] = next
	return next, nil
}

// Delete removes the account and usage of userID. The ledger never calls it;
// it exists for account deletion performed by the embedding application.
func (s *MemoryStore) Delete(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accounts, userID)
	delete(s.usage, userID)
}

// RecordUsage increments the invocation counter of (userID, serviceType).
func (s *MemoryStore) RecordUsage(_ context.Context, userID, serviceType string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byService, ok := s.usage[userID]
	if !ok {
		byService = make(map[string]*creditledger.UsageStat)
		s.usage[userID] = byService
	}
	st, ok := byService[serviceType]
	if !ok {
		st = &creditledger.UsageStat{UserID: userID, ServiceType: serviceType}
		byService[serviceType] = st
	}
	st.Count++
	if at.After(st.LastUsed) {
		st.LastUsed = at
	}
	return nil
}

// UsageStats lists the counters of userID ordered by service type.
func (s *MemoryStore) UsageStats(_ context.Context, userID string) ([]creditledger.UsageStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]creditledger.UsageStat, 0, len(s.usage[userID]))
	for _, st := range s.usage[userID] {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceType < out[j].ServiceType })
	return out, nil
}
