package creditledger

import (
	"context"
	"log/slog"
)

// Gate runs costed operations behind a ledger charge.
type Gate struct {
	ledger   *Ledger
	recorder UsageRecorder
	logger   *slog.Logger
}

// NewGate creates a Gate. recorder may be nil to skip usage counters.
// If logger is nil, slog.Default() is used.
func NewGate(l *Ledger, recorder UsageRecorder, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{ledger: l, recorder: recorder, logger: logger}
}

// Run charges serviceType to userID and, only if the charge was committed,
// runs op outside the ledger. A rejected charge returns the outcome together
// with its sentinel error and op is not called. An op error is returned as is;
// the charge is not refunded. Usage recording is best-effort.
func (g *Gate) Run(ctx context.Context, userID, serviceType string, op func(context.Context) error) (Outcome, error) {
	out, err := g.ledger.CheckAndDeduct(ctx, userID, serviceType)
	if err != nil {
		return out, err
	}
	if !out.Allowed {
		return out, out.Err()
	}

	if err := op(ctx); err != nil {
		return out, err
	}

	if g.recorder != nil {
		at := g.ledger.clock.Now()
		if err := g.recorder.RecordUsage(context.WithoutCancel(ctx), userID, serviceType, at); err != nil {
			g.logger.Warn("usage_record_failed",
				"user", userID,
				"service", serviceType,
				"charge_id", out.ChargeID,
				"error", err,
			)
		}
	}

	return out, nil
}
