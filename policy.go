package creditledger

import "time"

// QuotaPolicy decides when the daily and monthly windows of an account have
// elapsed. Windows are calendar days and months in Location.
type QuotaPolicy struct {
	Location *time.Location
}

// NewQuotaPolicy returns a policy for the given calendar. A nil location means UTC.
func NewQuotaPolicy(loc *time.Location) QuotaPolicy {
	if loc == nil {
		loc = time.UTC
	}
	return QuotaPolicy{Location: loc}
}

func (p QuotaPolicy) loc() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// DetermineResets reports whether now falls in a later calendar day and a
// later calendar month than the account's reset markers. A marker ahead of now,
// as written by a node with a faster clock, never triggers a reset.
func (p QuotaPolicy) DetermineResets(now time.Time, a Account) (daily, monthly bool) {
	loc := p.loc()
	ny, nm, nd := now.In(loc).Date()

	dy, dm, dd := a.LastDailyReset.In(loc).Date()
	daily = dayKey(ny, nm, nd) > dayKey(dy, dm, dd)

	my, mm, _ := a.LastMonthlyReset.In(loc).Date()
	monthly = monthKey(ny, nm) > monthKey(my, mm)

	return daily, monthly
}

func dayKey(y int, m time.Month, d int) int { return monthKey(y, m)*100 + d }

func monthKey(y int, m time.Month) int { return y*100 + int(m) }

// Apply zeroes the counters of every elapsed window and stamps their markers
// with now. It reports which windows were reset.
func (p QuotaPolicy) Apply(now time.Time, a Account) (Account, bool, bool) {
	daily, monthly := p.DetermineResets(now, a)
	if daily {
		a.DailyUsed = 0
		a.LastDailyReset = now
	}
	if monthly {
		a.MonthlyUsed = 0
		a.LastMonthlyReset = now
	}
	return a, daily, monthly
}

// RemainingAllowance returns max(0, limit-used).
func RemainingAllowance(used, limit int64) int64 {
	if used >= limit {
		return 0
	}
	return limit - used
}
