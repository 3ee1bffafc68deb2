package creditledger

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	// Business outcomes.
	ErrInsufficientBalance  = errors.New("creditledger: insufficient balance")
	ErrDailyLimitExceeded   = errors.New("creditledger: daily limit exceeded")
	ErrMonthlyLimitExceeded = errors.New("creditledger: monthly limit exceeded")

	// Request errors.
	ErrAccountNotFound = errors.New("creditledger: account not found")
	ErrInvalidUser     = errors.New("creditledger: user id is required")
	ErrUnknownService  = errors.New("creditledger: unknown service type")
	ErrInvalidAmount   = errors.New("creditledger: invalid amount")
	ErrInvalidTier     = errors.New("creditledger: invalid tier")

	// Operational faults.
	ErrConflict         = errors.New("creditledger: concurrent modification")
	ErrRetriesExhausted = errors.New("creditledger: conflict retries exhausted")
	ErrUnavailable      = errors.New("creditledger: ledger unavailable")
)

// LedgerError wraps an error with the operation that produced it.
// Cause holds the underlying store error for operational faults; it is
// reachable through errors.Is/As but kept out of Error().
type LedgerError struct {
	Op          string
	UserID      string
	ServiceType string
	Attempts    int
	Err         error
	Cause       error
}

func (e *LedgerError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "creditledger: op=%s user=%s", e.Op, e.UserID)
	if e.ServiceType != "" {
		fmt.Fprintf(&b, " service=%s", e.ServiceType)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " attempts=%d", e.Attempts)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *LedgerError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// IsBusinessOutcome reports whether err is an expected rejection of a charge.
func IsBusinessOutcome(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDailyLimitExceeded) ||
		errors.Is(err, ErrMonthlyLimitExceeded)
}

// IsRequestError reports whether err was caused by caller misuse.
func IsRequestError(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrInvalidUser) ||
		errors.Is(err, ErrUnknownService) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidTier)
}

// IsOperational reports whether err is an infrastructure fault.
func IsOperational(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrRetriesExhausted)
}
