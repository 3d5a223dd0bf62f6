// Package evaluator computes realizable net profit and a depth-safe
// stake for each configured path against the current order book cache.
// It is a pure function of its inputs: no goroutines, no channels, no
// package-level state. The controller's tick loop owns scheduling; this
// package only computes.
package evaluator

import (
	"math"
	"sort"
	"time"

	"github.com/svyatogor45/triarb/internal/marketdata"
	"github.com/svyatogor45/triarb/internal/models"
)

// Config holds the thresholds Evaluate filters and sizes opportunities
// against, sourced from the trading section of the loaded configuration.
type Config struct {
	FreshnessBudget        time.Duration
	MinProfitThreshold     float64
	MinTradeAmount         float64
	MaxProfitRateThreshold float64 // 0 disables the sanity filter
	DefaultFeeRate         float64
	FeeRates               map[string]float64 // keyed by Pair.Symbol, overrides DefaultFeeRate
}

// Evaluate computes an Opportunity for every path that clears its
// freshness, depth, and profitability bars, ordered by net profit rate
// descending.
func Evaluate(paths []models.Path, cache *marketdata.Cache, cfg Config, now time.Time) []models.Opportunity {
	opportunities := make([]models.Opportunity, 0, len(paths))
	for _, path := range paths {
		if opp, ok := evaluatePath(path, cache, cfg, now); ok {
			opportunities = append(opportunities, opp)
		}
	}

	sort.Slice(opportunities, func(i, j int) bool {
		return opportunities[i].NetProfitRate > opportunities[j].NetProfitRate
	})
	return opportunities
}

func evaluatePath(path models.Path, cache *marketdata.Cache, cfg Config, now time.Time) (models.Opportunity, bool) {
	books := make([]models.OrderBook, len(path.Steps))
	fees := make([]float64, len(path.Steps))

	var oldest, newest time.Time
	for i, step := range path.Steps {
		book, ok := cache.Get(step.Pair)
		if !ok || !book.IsValid() {
			return models.Opportunity{}, false
		}
		if book.Age(now) > cfg.FreshnessBudget {
			return models.Opportunity{}, false
		}

		books[i] = book
		fees[i] = feeRateFor(cfg, step.Pair.Symbol)

		if i == 0 || book.Timestamp.Before(oldest) {
			oldest = book.Timestamp
		}
		if i == 0 || book.Timestamp.After(newest) {
			newest = book.Timestamp
		}
	}

	if newest.Sub(oldest) > cfg.FreshnessBudget {
		return models.Opportunity{}, false
	}

	maxStake := maxStakeFor(path, books, fees)
	if maxStake <= 0 || math.IsNaN(maxStake) || math.IsInf(maxStake, 0) {
		return models.Opportunity{}, false
	}
	if maxStake < cfg.MinTradeAmount {
		return models.Opportunity{}, false
	}

	legs, finalAmount := simulate(path, books, fees, maxStake)
	netRate := finalAmount/maxStake - 1
	if netRate < cfg.MinProfitThreshold {
		return models.Opportunity{}, false
	}
	if cfg.MaxProfitRateThreshold > 0 && netRate > cfg.MaxProfitRateThreshold {
		return models.Opportunity{}, false
	}

	grossRate := grossProfitRate(path, books, maxStake)

	timestamps := make([]time.Time, len(books))
	for i, b := range books {
		timestamps[i] = b.Timestamp
	}

	return models.Opportunity{
		Path:            path,
		MaxStake:        maxStake,
		GrossProfitRate: grossRate,
		NetProfitRate:   netRate,
		Legs:            legs,
		EvaluatedAt:     now,
		BookTimestamps:  timestamps,
	}, true
}

// maxStakeFor back-propagates each leg's available depth, leg by leg
// from last to first, so the returned stake is the largest starting
// amount that exhausts no leg's cached book.
func maxStakeFor(path models.Path, books []models.OrderBook, fees []float64) float64 {
	bound := math.Inf(1)
	for i := len(path.Steps) - 1; i >= 0; i-- {
		bound = maxInputForOutput(books[i], path.Steps[i].Action, bound, fees[i])
	}
	return bound
}

// simulate forward-walks every leg with the given stake, producing the
// per-leg quotes and the final start-asset amount realized.
func simulate(path models.Path, books []models.OrderBook, fees []float64, stake float64) ([]models.LegQuote, float64) {
	legs := make([]models.LegQuote, len(path.Steps))
	amount := stake
	for i, step := range path.Steps {
		output, exhausted := walkLeg(books[i], step.Action, amount, fees[i])
		avgPrice := 0.0
		if amount > 0 {
			avgPrice = amount / output
			if step.Action == models.ActionSell {
				avgPrice = output / amount
			}
		}
		legs[i] = models.LegQuote{
			Step:         step,
			InputAmount:  amount,
			OutputAmount: output,
			AvgPrice:     avgPrice,
			Exhausted:    exhausted,
		}
		amount = output
	}
	return legs, amount
}

// grossProfitRate recomputes the same walk with zero fees, to report
// the pre-fee edge alongside the net figure.
func grossProfitRate(path models.Path, books []models.OrderBook, stake float64) float64 {
	amount := stake
	for i, step := range path.Steps {
		output, _ := walkLeg(books[i], step.Action, amount, 0)
		amount = output
	}
	return amount/stake - 1
}

func feeRateFor(cfg Config, symbol string) float64 {
	if rate, ok := cfg.FeeRates[symbol]; ok {
		return rate
	}
	return cfg.DefaultFeeRate
}
