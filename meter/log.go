package meter

import (
	"log/slog"

	"github.com/ineyio/creditledger"
)

// LogMeter logs ledger events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ creditledger.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnCharge(e creditledger.ChargeEvent) {
	switch {
	case e.Error != nil:
		m.Logger.Error("charge_error",
			"user", e.UserID,
			"service", e.ServiceType,
			"attempts", e.Attempts,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	case e.Allowed:
		m.Logger.Info("charge",
			"charge_id", e.ChargeID,
			"user", e.UserID,
			"service", e.ServiceType,
			"cost", e.Cost,
			"balance", e.Snapshot.Balance,
			"daily_used", e.Snapshot.DailyUsed,
			"monthly_used", e.Snapshot.MonthlyUsed,
			"attempts", e.Attempts,
			"duration_ms", e.Duration.Milliseconds(),
		)
	default:
		m.Logger.Warn("charge_rejected",
			"user", e.UserID,
			"service", e.ServiceType,
			"cost", e.Cost,
			"reason", e.Failure.String(),
			"balance", e.Snapshot.Balance,
			"daily_remaining", e.Snapshot.DailyRemaining,
			"monthly_remaining", e.Snapshot.MonthlyRemaining,
		)
	}
}

func (m *LogMeter) OnGrant(e creditledger.GrantEvent) {
	if e.Error != nil {
		m.Logger.Error("grant_error",
			"user", e.UserID,
			"amount", e.Amount,
			"error", e.Error,
		)
		return
	}
	m.Logger.Info("grant",
		"user", e.UserID,
		"amount", e.Amount,
		"balance", e.NewBalance,
		"created", e.Created,
		"tier", string(e.Tier),
	)
}

func (m *LogMeter) OnReset(e creditledger.ResetEvent) {
	m.Logger.Info("window_reset",
		"user", e.UserID,
		"daily", e.Daily,
		"monthly", e.Monthly,
		"at", e.At,
	)
}
