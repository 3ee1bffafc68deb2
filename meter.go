package creditledger

import "time"

// Meter observes ledger events for monitoring/logging.
type Meter interface {
	// OnCharge is called once per CheckAndDeduct that reached a decision or failed.
	OnCharge(event ChargeEvent)

	// OnGrant is called when credits are added or an account is provisioned.
	OnGrant(event GrantEvent)

	// OnReset is called when a window reset has been committed.
	OnReset(event ResetEvent)
}

// ChargeEvent describes the outcome of a CheckAndDeduct call.
type ChargeEvent struct {
	ChargeID    string
	UserID      string
	ServiceType string
	Cost        int64
	Allowed     bool
	Failure     FailureKind
	Snapshot    Snapshot
	Attempts    int
	Duration    time.Duration
	Error       error
}

// GrantEvent describes a balance increase.
type GrantEvent struct {
	UserID     string
	Amount     int64
	NewBalance int64
	Created    bool
	Tier       Tier
	Error      error
}

// ResetEvent describes a committed window reset.
type ResetEvent struct {
	UserID  string
	Daily   bool
	Monthly bool
	At      time.Time
}

type noopMeter struct{}

func (noopMeter) OnCharge(ChargeEvent) {}
func (noopMeter) OnGrant(GrantEvent)   {}
func (noopMeter) OnReset(ResetEvent)   {}
