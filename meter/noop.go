package meter

import "github.com/ineyio/creditledger"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ creditledger.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnCharge(creditledger.ChargeEvent) {}
func (m *NoopMeter) OnGrant(creditledger.GrantEvent)   {}
func (m *NoopMeter) OnReset(creditledger.ResetEvent)   {}
