package creditledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = 5 * time.Millisecond
	maxRetryDelay     = 250 * time.Millisecond
	retryJitterPct    = 20
)

// Ledger checks and charges credit balances against the cost catalog and the
// daily/monthly limits. Every mutation is a single version-conditioned write,
// retried a bounded number of times on conflict.
type Ledger struct {
	store      BalanceStore
	catalog    CatalogSource
	clock      Clock
	policy     QuotaPolicy
	meter      Meter
	maxRetries uint64
	baseDelay  time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the time source for window boundaries.
func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithPolicy sets the quota policy (calendar).
func WithPolicy(p QuotaPolicy) Option {
	return func(l *Ledger) { l.policy = p }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(l *Ledger) { l.meter = m }
}

// WithRetry bounds conflict retries. A non-positive baseDelay keeps the default.
func WithRetry(maxRetries uint64, baseDelay time.Duration) Option {
	return func(l *Ledger) {
		l.maxRetries = maxRetries
		if baseDelay > 0 {
			l.baseDelay = baseDelay
		}
	}
}

// New creates a Ledger over the given store and catalog.
// Defaults (SystemClock, UTC policy, no-op meter) are used unless overridden.
func New(store BalanceStore, catalog CatalogSource, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("creditledger: a balance store is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("creditledger: a catalog is required")
	}

	l := &Ledger{
		store:      store,
		catalog:    catalog,
		policy:     NewQuotaPolicy(time.UTC),
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.clock == nil {
		l.clock = SystemClock{}
	}
	if l.meter == nil {
		l.meter = noopMeter{}
	}

	return l, nil
}

// CheckAndDeduct charges the cost of serviceType to userID if the balance and
// both window limits allow it. Rejections are reported through the Outcome with
// a nil error; request errors and operational faults are returned as
// *LedgerError.
func (l *Ledger) CheckAndDeduct(ctx context.Context, userID, serviceType string) (Outcome, error) {
	start := time.Now()
	if userID == "" {
		return Outcome{}, &LedgerError{Op: "check_and_deduct", ServiceType: serviceType, Err: ErrInvalidUser}
	}

	cat := l.catalog.Catalog()
	limits := cat.Limits()

	var (
		out      Outcome
		cost     int64
		reset    ResetEvent
		attempts int
	)
	err := retry.Do(ctx, l.backoff(), func(ctx context.Context) error {
		attempts++
		reset = ResetEvent{}

		acct, err := l.store.Load(ctx, userID)
		if err != nil {
			return err
		}

		now := l.clock.Now()
		next, daily, monthly := l.policy.Apply(now, acct)

		cost, err = cat.CostOf(serviceType)
		if err != nil {
			return err
		}

		failure := evaluate(next, cost, limits)
		if failure == FailureNone {
			next.Balance -= cost
			next.DailyUsed += cost
			next.MonthlyUsed += cost
		} else if !daily && !monthly {
			out = Outcome{Failure: failure, Snapshot: snapshotOf(next, limits)}
			return nil
		}

		// The reset, and the deduction when allowed, land in one write.
		next.UpdatedAt = now
		committed, err := l.store.ConditionedWrite(ctx, acct.Version, next)
		if err != nil {
			return retryable(err)
		}

		if daily || monthly {
			reset = ResetEvent{UserID: userID, Daily: daily, Monthly: monthly, At: now}
		}
		out = Outcome{
			Allowed:  failure == FailureNone,
			Failure:  failure,
			Snapshot: snapshotOf(committed, limits),
		}
		return nil
	})
	if err != nil {
		lerr := wrapError("check_and_deduct", userID, serviceType, attempts, err)
		l.meter.OnCharge(ChargeEvent{
			UserID:      userID,
			ServiceType: serviceType,
			Cost:        cost,
			Attempts:    attempts,
			Duration:    time.Since(start),
			Error:       lerr,
		})
		return Outcome{}, lerr
	}

	if reset.Daily || reset.Monthly {
		l.meter.OnReset(reset)
	}
	if out.Allowed {
		out.ChargeID = uuid.New().String()
	}
	l.meter.OnCharge(ChargeEvent{
		ChargeID:    out.ChargeID,
		UserID:      userID,
		ServiceType: serviceType,
		Cost:        cost,
		Allowed:     out.Allowed,
		Failure:     out.Failure,
		Snapshot:    out.Snapshot,
		Attempts:    attempts,
		Duration:    time.Since(start),
	})

	return out, nil
}

// Grant adds amount credits to userID, creating the account when absent.
// It returns the balance after the grant.
func (l *Ledger) Grant(ctx context.Context, userID string, amount int64) (int64, error) {
	if userID == "" {
		return 0, &LedgerError{Op: "grant", Err: ErrInvalidUser}
	}
	if amount <= 0 {
		return 0, &LedgerError{Op: "grant", UserID: userID, Err: ErrInvalidAmount}
	}

	var (
		newBalance int64
		created    bool
		attempts   int
	)
	err := retry.Do(ctx, l.backoff(), func(ctx context.Context) error {
		attempts++
		created = false

		acct, err := l.store.Load(ctx, userID)
		if errors.Is(err, ErrAccountNotFound) {
			stored, ok, err := l.store.CreateIfAbsent(ctx, newAccount(userID, amount, l.clock.Now()))
			if err != nil {
				return err
			}
			if ok {
				newBalance, created = stored.Balance, true
				return nil
			}
			// Lost the creation race; add to the winner's balance.
			acct = stored
		} else if err != nil {
			return err
		}

		if acct.Balance > math.MaxInt64-amount {
			return ErrInvalidAmount
		}

		next := acct
		next.Balance += amount
		next.UpdatedAt = l.clock.Now()
		committed, err := l.store.ConditionedWrite(ctx, acct.Version, next)
		if err != nil {
			return retryable(err)
		}
		newBalance = committed.Balance
		return nil
	})
	if err != nil {
		lerr := wrapError("grant", userID, "", attempts, err)
		l.meter.OnGrant(GrantEvent{UserID: userID, Amount: amount, Error: lerr})
		return 0, lerr
	}

	l.meter.OnGrant(GrantEvent{UserID: userID, Amount: amount, NewBalance: newBalance, Created: created})
	return newBalance, nil
}

// Status returns the current snapshot of userID. A pending window reset is
// committed first; otherwise nothing is written.
func (l *Ledger) Status(ctx context.Context, userID string) (Snapshot, error) {
	if userID == "" {
		return Snapshot{}, &LedgerError{Op: "status", Err: ErrInvalidUser}
	}

	limits := l.catalog.Catalog().Limits()

	var (
		snap     Snapshot
		reset    ResetEvent
		attempts int
	)
	err := retry.Do(ctx, l.backoff(), func(ctx context.Context) error {
		attempts++
		reset = ResetEvent{}

		acct, err := l.store.Load(ctx, userID)
		if err != nil {
			return err
		}

		now := l.clock.Now()
		next, daily, monthly := l.policy.Apply(now, acct)
		if !daily && !monthly {
			snap = snapshotOf(acct, limits)
			return nil
		}

		next.UpdatedAt = now
		committed, err := l.store.ConditionedWrite(ctx, acct.Version, next)
		if err != nil {
			return retryable(err)
		}
		reset = ResetEvent{UserID: userID, Daily: daily, Monthly: monthly, At: now}
		snap = snapshotOf(committed, limits)
		return nil
	})
	if err != nil {
		return Snapshot{}, wrapError("status", userID, "", attempts, err)
	}

	if reset.Daily || reset.Monthly {
		l.meter.OnReset(reset)
	}
	return snap, nil
}

// Provision creates the account of userID with the starting grant of tier.
// An existing account is returned unchanged with created=false.
func (l *Ledger) Provision(ctx context.Context, userID string, tier Tier) (Account, bool, error) {
	if userID == "" {
		return Account{}, false, &LedgerError{Op: "provision", Err: ErrInvalidUser}
	}

	grant, err := l.catalog.Catalog().GrantFor(tier)
	if err != nil {
		return Account{}, false, wrapError("provision", userID, "", 0, err)
	}

	stored, created, err := l.store.CreateIfAbsent(ctx, newAccount(userID, grant, l.clock.Now()))
	if err != nil {
		lerr := wrapError("provision", userID, "", 1, err)
		l.meter.OnGrant(GrantEvent{UserID: userID, Amount: grant, Tier: tier, Error: lerr})
		return Account{}, false, lerr
	}

	if created {
		l.meter.OnGrant(GrantEvent{
			UserID:     userID,
			Amount:     grant,
			NewBalance: stored.Balance,
			Created:    true,
			Tier:       tier,
		})
	}
	return stored, created, nil
}

func (l *Ledger) backoff() retry.Backoff {
	b := retry.NewExponential(l.baseDelay)
	b = retry.WithCappedDuration(maxRetryDelay, b)
	b = retry.WithJitterPercent(retryJitterPct, b)
	return retry.WithMaxRetries(l.maxRetries, b)
}

// evaluate applies the checks in fixed order: balance, daily, monthly.
func evaluate(a Account, cost int64, limits Limits) FailureKind {
	switch {
	case a.Balance < cost:
		return FailureInsufficientBalance
	case a.DailyUsed+cost > limits.Daily:
		return FailureDailyLimitExceeded
	case a.MonthlyUsed+cost > limits.Monthly:
		return FailureMonthlyLimitExceeded
	default:
		return FailureNone
	}
}

func newAccount(userID string, balance int64, now time.Time) Account {
	return Account{
		UserID:           userID,
		Balance:          balance,
		LastDailyReset:   now,
		LastMonthlyReset: now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func retryable(err error) error {
	if errors.Is(err, ErrConflict) {
		return retry.RetryableError(err)
	}
	return err
}

var requestErrors = []error{
	ErrAccountNotFound,
	ErrInvalidUser,
	ErrUnknownService,
	ErrInvalidAmount,
	ErrInvalidTier,
}

// wrapError maps a raw error to the ledger taxonomy. Store details of
// operational faults stay in Cause.
func wrapError(op, userID, serviceType string, attempts int, err error) error {
	le := &LedgerError{Op: op, UserID: userID, ServiceType: serviceType, Attempts: attempts}
	for _, sentinel := range requestErrors {
		if errors.Is(err, sentinel) {
			le.Err = sentinel
			return le
		}
	}
	if errors.Is(err, ErrConflict) {
		le.Err = ErrRetriesExhausted
	} else {
		le.Err = ErrUnavailable
	}
	le.Cause = err
	return le
}
