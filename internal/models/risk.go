package models

// RiskLevel buckets how close the account is to its daily risk limits.
// The risk gate assigns low while today's realized P&L is zero or
// positive, medium once it is negative, and critical while the stop-loss
// kill switch is active; it does not grade losses by size and never
// assigns high.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskDecision is the risk gate's verdict on a single Opportunity: whether
// it may be traded, at what size, and why if rejected.
type RiskDecision struct {
	Opportunity Opportunity
	Approved    bool

	// Reason names the first failed check when Approved is false, e.g.
	// "frequency_throttle" or "daily_trade_cap".
	Reason string

	// Stake is the sized trade amount in the path's start asset, set only
	// when Approved is true.
	Stake float64

	Level RiskLevel
}
