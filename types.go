package creditledger

import "time"

// Account is the per-user credit record.
type Account struct {
	UserID           string
	Balance          int64
	DailyUsed        int64
	MonthlyUsed      int64
	LastDailyReset   time.Time
	LastMonthlyReset time.Time

	// Version is bumped by every committed write. Stores use it to reject
	// writes based on a stale read.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot is the caller-visible view of an account.
type Snapshot struct {
	Balance          int64     `json:"balance"`
	DailyUsed        int64     `json:"daily_used"`
	MonthlyUsed      int64     `json:"monthly_used"`
	DailyRemaining   int64     `json:"daily_remaining"`
	MonthlyRemaining int64     `json:"monthly_remaining"`
	DailyLimit       int64     `json:"daily_limit"`
	MonthlyLimit     int64     `json:"monthly_limit"`
	LastDailyReset   time.Time `json:"last_daily_reset"`
	LastMonthlyReset time.Time `json:"last_monthly_reset"`
}

// FailureKind names the business outcome of a rejected charge.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureInsufficientBalance
	FailureDailyLimitExceeded
	FailureMonthlyLimitExceeded
)

func (f FailureKind) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureInsufficientBalance:
		return "insufficient_balance"
	case FailureDailyLimitExceeded:
		return "daily_limit_exceeded"
	case FailureMonthlyLimitExceeded:
		return "monthly_limit_exceeded"
	default:
		return "unknown"
	}
}

// Outcome is the result of CheckAndDeduct.
type Outcome struct {
	Allowed  bool
	Failure  FailureKind
	Snapshot Snapshot

	// ChargeID identifies a committed charge. Empty when not allowed.
	ChargeID string
}

// Err returns the sentinel error matching the outcome, or nil when allowed.
func (o Outcome) Err() error {
	switch o.Failure {
	case FailureInsufficientBalance:
		return ErrInsufficientBalance
	case FailureDailyLimitExceeded:
		return ErrDailyLimitExceeded
	case FailureMonthlyLimitExceeded:
		return ErrMonthlyLimitExceeded
	default:
		return nil
	}
}

// Tier selects the starting grant for a newly provisioned account.
type Tier string

const (
	TierStandard Tier = "standard"
	TierElevated Tier = "elevated"
)

// UsageStat is a per-(user, service) invocation counter.
type UsageStat struct {
	UserID      string    `json:"user_id"`
	ServiceType string    `json:"service_type"`
	Count       int64     `json:"count"`
	LastUsed    time.Time `json:"last_used"`
}

func snapshotOf(a Account, limits Limits) Snapshot {
	return Snapshot{
		Balance:          a.Balance,
		DailyUsed:        a.DailyUsed,
		MonthlyUsed:      a.MonthlyUsed,
		DailyRemaining:   RemainingAllowance(a.DailyUsed, limits.Daily),
		MonthlyRemaining: RemainingAllowance(a.MonthlyUsed, limits.Monthly),
		DailyLimit:       limits.Daily,
		MonthlyLimit:     limits.Monthly,
		LastDailyReset:   a.LastDailyReset,
		LastMonthlyReset: a.LastMonthlyReset,
	}
}
