// Package metrics exposes the engine's Prometheus instrumentation:
// one set of package-level collectors, registered at import time via
// promauto, and small recording helpers so callers never touch the
// prometheus API directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Tick latency ============

var TickDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "triarb",
		Subsystem: "controller",
		Name:      "tick_duration_ms",
		Help:      "Wall-clock time for one controller tick (evaluate + risk + execute) in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	},
)

var EvaluateDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "triarb",
		Subsystem: "evaluator",
		Name:      "evaluate_duration_ms",
		Help:      "Time to evaluate all configured paths in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50},
	},
)

var OrderLegLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "triarb",
		Subsystem: "executor",
		Name:      "leg_latency_ms",
		Help:      "Time from placing a leg's order to its terminal status in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000},
	},
	[]string{"pair", "action"},
)

// ============ Opportunity and trade counters ============

var OpportunitiesFound = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "triarb",
		Subsystem: "evaluator",
		Name:      "opportunities_found_total",
		Help:      "Opportunities emitted by the evaluator, by path",
	},
	[]string{"path"},
)

var RiskDecisions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "triarb",
		Subsystem: "risk",
		Name:      "decisions_total",
		Help:      "Risk gate decisions by path and outcome (approved, or the rejection reason)",
	},
	[]string{"path", "outcome"},
)

var TradesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "triarb",
		Subsystem: "executor",
		Name:      "trades_total",
		Help:      "Completed executions by path and result (success, partial, failed)",
	},
	[]string{"path", "result"},
)

var PnLTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "triarb",
		Subsystem: "executor",
		Name:      "pnl_total_usdt",
		Help:      "Cumulative realized P&L across successful executions, in the account's settlement currency",
	},
)

// ============ Gauges ============

var RiskLevel = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "triarb",
		Subsystem: "risk",
		Name:      "level",
		Help:      "Current risk level: 0=low, 1=medium, 2=high, 3=critical",
	},
)

var ControllerState = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "triarb",
		Subsystem: "controller",
		Name:      "state",
		Help:      "Current controller state: 0=stopped, 1=starting, 2=running, 3=stopping, 4=error",
	},
)

var ExchangeConnected = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "triarb",
		Subsystem: "exchange",
		Name:      "connected",
		Help:      "Exchange WebSocket connection status (1=connected, 0=disconnected)",
	},
	[]string{"exchange"},
)

var BalanceUSDT = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "triarb",
		Subsystem: "portfolio",
		Name:      "balance_usdt",
		Help:      "Free balance per asset, converted to the settlement currency",
	},
	[]string{"asset"},
)

// RecordTrade increments the trade counter for path/result and, on a
// successful execution, adds pnl to the running total.
func RecordTrade(path, result string, pnl float64) {
	TradesTotal.WithLabelValues(path, result).Inc()
	if result == "success" && pnl != 0 {
		PnLTotal.Add(pnl)
	}
}

// RecordRiskDecision increments the decision counter for path/outcome,
// where outcome is "approved" or the rejection reason string.
func RecordRiskDecision(path, outcome string) {
	RiskDecisions.WithLabelValues(path, outcome).Inc()
}

// RecordOpportunity increments the found-opportunities counter for path.
func RecordOpportunity(path string) {
	OpportunitiesFound.WithLabelValues(path).Inc()
}

// riskLevelValue maps a risk level name to the gauge scale documented
// on RiskLevel's Help text.
var riskLevelValue = map[string]float64{
	"low":      0,
	"medium":   1,
	"high":     2,
	"critical": 3,
}

// SetRiskLevel updates the risk level gauge from a models.RiskLevel's
// string value.
func SetRiskLevel(level string) {
	if v, ok := riskLevelValue[level]; ok {
		RiskLevel.Set(v)
	}
}

var controllerStateValue = map[string]float64{
	"stopped":  0,
	"starting": 1,
	"running":  2,
	"stopping": 3,
	"error":    4,
}

// SetControllerState updates the controller state gauge from a state name.
func SetControllerState(state string) {
	if v, ok := controllerStateValue[state]; ok {
		ControllerState.Set(v)
	}
}
