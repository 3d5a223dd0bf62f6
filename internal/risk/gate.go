// Package risk implements the gate between the evaluator and the
// executor: it accepts, rejects, and sizes opportunities against daily
// counters and exposure limits, and records outcomes to keep those
// counters current.
package risk

import (
	"sync"
	"time"

	"github.com/svyatogor45/triarb/internal/metrics"
	"github.com/svyatogor45/triarb/internal/models"
)

// Config holds the operator-tunable limits the gate checks against,
// sourced from the risk section of the loaded configuration.
type Config struct {
	PublicOnly           bool
	MaxOpportunityAge    time.Duration
	MinArbitrageInterval time.Duration
	MaxDailyTrades       int
	MaxDailyLossRatio    float64
	StopLossRatio        float64
	MaxSingleTradeRatio  float64
	MaxPositionRatio     float64
	MinTradeAmount       float64
}

// DefaultConfig mirrors the defaults named in the configuration surface.
func DefaultConfig() Config {
	return Config{
		MaxOpportunityAge:    5 * time.Second,
		MinArbitrageInterval: 10 * time.Second,
		MaxDailyTrades:       100,
		MaxDailyLossRatio:    0.05,
		StopLossRatio:        0.1,
		MaxSingleTradeRatio:  0.1,
		MaxPositionRatio:     0.2,
		MinTradeAmount:       10,
	}
}

// Gate is the stateful risk gate: one instance per running engine,
// mutated only from the controller's tick loop (Validate/Size/Record
// are safe to call from other goroutines too, guarded by mu, but the
// spec's single-in-flight-execution discipline means that's belt and
// braces rather than a real contention point).
type Gate struct {
	cfg Config

	mu               sync.Mutex
	dayStart         time.Time
	tradesToday      int
	realizedPnLToday float64
	lastAttempt      time.Time
	disabledUntil    time.Time
	level            models.RiskLevel
}

// New builds a Gate with today's counters zeroed against now's local day.
func New(cfg Config, now time.Time) *Gate {
	return &Gate{
		cfg:      cfg,
		dayStart: startOfDay(now),
		level:    models.RiskLow,
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// resetIfNewDay rolls the daily counters over at local-day boundaries.
// Callers must hold mu.
func (g *Gate) resetIfNewDay(now time.Time) {
	if startOfDay(now).After(g.dayStart) {
		g.dayStart = startOfDay(now)
		g.tradesToday = 0
		g.realizedPnLToday = 0
		g.disabledUntil = time.Time{}
		g.level = models.RiskLow
	}
}

// Validate runs the ordered check pipeline against opportunity and
// returns the first failure, or an approved decision sized to
// requestedStake (or auto-sized via Size if requestedStake <= 0).
// midPrices maps asset -> value in the account's settlement currency;
// it must include an entry for that settlement currency itself
// (typically 1.0) for the position-ratio check to price it correctly.
func (g *Gate) Validate(opp models.Opportunity, portfolio *models.Portfolio, requestedStake float64, midPrices map[string]float64, now time.Time) models.RiskDecision {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNewDay(now)

	reject := func(reason string) models.RiskDecision {
		metrics.RecordRiskDecision(opp.Path.ID, reason)
		return models.RiskDecision{Opportunity: opp, Approved: false, Reason: reason, Level: g.level}
	}

	if g.cfg.PublicOnly || portfolio == nil {
		return reject("public_only_or_no_portfolio")
	}
	if !g.disabledUntil.IsZero() && now.Before(g.disabledUntil) {
		return reject("kill_switch_active")
	}
	if opp.Age(now) >= g.cfg.MaxOpportunityAge {
		return reject("opportunity_expired")
	}
	if !g.lastAttempt.IsZero() && now.Sub(g.lastAttempt) < g.cfg.MinArbitrageInterval {
		return reject("frequency_throttle")
	}
	if g.tradesToday >= g.cfg.MaxDailyTrades {
		return reject("daily_trade_cap")
	}

	totalBalance := totalBalanceInQuote(*portfolio, midPrices)
	if totalBalance > 0 {
		lossRatio := -g.realizedPnLToday / totalBalance
		if lossRatio >= g.cfg.StopLossRatio {
			g.disabledUntil = startOfDay(now).Add(24 * time.Hour)
			g.level = models.RiskCritical
			return reject("stop_loss_kill_switch")
		}
		if lossRatio >= g.cfg.MaxDailyLossRatio {
			return reject("daily_loss_ratio")
		}
	}

	stake := requestedStake
	if stake <= 0 {
		sized, ok := g.sizeLocked(opp, *portfolio, midPrices)
		if !ok {
			return reject("below_min_trade_amount")
		}
		stake = sized
	}

	if totalBalance > 0 && stake > g.cfg.MaxSingleTradeRatio*totalBalance {
		return reject("single_trade_ratio_exceeded")
	}
	if totalBalance > 0 {
		for asset, delta := range positionDeltas(opp, stake) {
			resulting := portfolio.Free(asset) + delta
			priced := resulting * midPrices[asset]
			if priced > g.cfg.MaxPositionRatio*totalBalance {
				return reject("position_ratio_exceeded")
			}
		}
	}
	if stake > opp.MaxStake {
		return reject("depth_limit_exceeded")
	}
	if portfolio.Free(opp.Path.StartAsset) < stake {
		return reject("insufficient_free_balance")
	}

	metrics.RecordRiskDecision(opp.Path.ID, "approved")
	return models.RiskDecision{Opportunity: opp, Approved: true, Stake: stake, Level: g.level}
}

// Size computes the sizing policy directly: the largest stake bounded
// by depth, exposure, and free balance, floored at MinTradeAmount.
func (g *Gate) Size(opp models.Opportunity, portfolio models.Portfolio, midPrices map[string]float64) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sizeLocked(opp, portfolio, midPrices)
}

func (g *Gate) sizeLocked(opp models.Opportunity, portfolio models.Portfolio, midPrices map[string]float64) (float64, bool) {
	totalBalance := totalBalanceInQuote(portfolio, midPrices)
	stake := opp.MaxStake
	if totalBalance > 0 {
		stake = minFloat(stake, g.cfg.MaxSingleTradeRatio*totalBalance)
	}
	stake = minFloat(stake, portfolio.Free(opp.Path.StartAsset))
	if stake < g.cfg.MinTradeAmount {
		return 0, false
	}
	return stake, true
}

// Record applies one execution attempt's outcome to the daily counters
// and re-derives the current risk level.
func (g *Gate) Record(result models.ExecutionResult, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNewDay(now)

	g.tradesToday++
	g.realizedPnLToday += result.ActualProfit
	g.lastAttempt = now
	g.updateLevelLocked(now)

	outcome := "failed"
	if result.Success {
		outcome = "success"
	} else if result.FailedLeg > 0 {
		outcome = "partial"
	}
	metrics.RecordTrade(result.Opportunity.Path.ID, outcome, result.ActualProfit)
	metrics.SetRiskLevel(string(g.level))
}

func (g *Gate) updateLevelLocked(now time.Time) {
	if !g.disabledUntil.IsZero() && now.Before(g.disabledUntil) {
		g.level = models.RiskCritical
		return
	}
	// realizedPnLToday has no balance context here, so the level only
	// separates a non-negative day (low) from a losing one (medium);
	// Validate raises it to critical when the stop-loss ratio trips.
	switch {
	case g.realizedPnLToday >= 0:
		g.level = models.RiskLow
	default:
		g.level = models.RiskMedium
	}
}

// Level returns the gate's last-derived risk level.
func (g *Gate) Level() models.RiskLevel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level
}

// TradesToday and RealizedPnLToday expose the current day's counters
// for the controller's status/stats surface.
func (g *Gate) TradesToday() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tradesToday
}

func (g *Gate) RealizedPnLToday() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.realizedPnLToday
}

func totalBalanceInQuote(p models.Portfolio, midPrices map[string]float64) float64 {
	var total float64
	for asset, amount := range p.Balances {
		if price, ok := midPrices[asset]; ok {
			total += amount * price
		}
		// Missing prices contribute zero, per spec's conservative rule.
	}
	return total
}

// positionDeltas estimates the resulting balance change per asset if
// opp were executed at stake, scaling the leg quotes computed at
// opp.MaxStake down to the actually requested stake: each leg debits
// its FromAsset and credits its ToAsset, so intermediate assets net to
// zero and only the start asset carries a nonzero delta (-stake plus
// the final leg's scaled output).
func positionDeltas(opp models.Opportunity, stake float64) map[string]float64 {
	scale := 1.0
	if opp.MaxStake > 0 {
		scale = stake / opp.MaxStake
	}

	deltas := make(map[string]float64, len(opp.Path.Steps))
	for _, leg := range opp.Legs {
		deltas[leg.Step.FromAsset] -= leg.InputAmount * scale
		deltas[leg.Step.ToAsset] += leg.OutputAmount * scale
	}
	return deltas
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
