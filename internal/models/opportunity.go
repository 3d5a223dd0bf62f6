package models

import "time"

// LegQuote is the evaluator's simulated fill for one leg of a path, given
// a particular input amount walked through the order book depth.
type LegQuote struct {
	Step         PathStep
	InputAmount  float64
	OutputAmount float64
	AvgPrice     float64
	// Exhausted is true if the leg consumed every level offered in the
	// cached book without fully filling InputAmount.
	Exhausted bool
}

// Opportunity is a path found to be profitable at evaluation time, sized
// to the largest stake the cached book depth can support.
type Opportunity struct {
	Path Path

	// MaxStake is the largest start-asset stake the order book depth
	// supports, found by back-propagating from each leg's exhaustion
	// point; the profit rates below are computed at this stake.
	MaxStake float64

	// GrossProfitRate and NetProfitRate are expressed as a fraction,
	// e.g. 0.00565 for +0.565%. Net subtracts the path's taker fees.
	GrossProfitRate float64
	NetProfitRate   float64

	Legs []LegQuote

	// EvaluatedAt is the evaluator's wall-clock time, used to judge
	// staleness against the books it was computed from.
	EvaluatedAt time.Time

	// BookTimestamps holds the Timestamp of each leg's OrderBook at
	// evaluation time, used for the expiry and coherence checks.
	BookTimestamps []time.Time
}

// Age returns how long ago this opportunity was evaluated, relative to now.
func (o Opportunity) Age(now time.Time) time.Duration {
	return now.Sub(o.EvaluatedAt)
}

// OldestBookAge returns the staleness of the least-fresh book this
// opportunity was computed from.
func (o Opportunity) OldestBookAge(now time.Time) time.Duration {
	var oldest time.Duration
	for _, ts := range o.BookTimestamps {
		if age := now.Sub(ts); age > oldest {
			oldest = age
		}
	}
	return oldest
}
