// Package controller owns the engine's scan/act loop: it ticks on a
// fixed interval, calls the evaluator, runs opportunities through the
// risk gate, hands approved ones to the executor, and journals the
// outcome. It is the sole orchestrator — no other package drives the
// engine's clock.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/svyatogor45/triarb/internal/evaluator"
	"github.com/svyatogor45/triarb/internal/executor"
	"github.com/svyatogor45/triarb/internal/journal"
	"github.com/svyatogor45/triarb/internal/marketdata"
	"github.com/svyatogor45/triarb/internal/metrics"
	"github.com/svyatogor45/triarb/internal/models"
	"github.com/svyatogor45/triarb/internal/portfolio"
	"github.com/svyatogor45/triarb/internal/risk"
	"github.com/svyatogor45/triarb/pkg/utils"
)

// State is the controller's own run state, independent of anything
// exchange-side. Triangular arbitrage has no held position to track
// between ticks, so there is only ever one state machine, not one per
// path or pair.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// ValidTransitions defines which states Transition will move into from
// each state. error is terminal for the current run; it leaves only by
// moving to stopped, from which a fresh Run call can start again.
var ValidTransitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateError},
	StateRunning:  {StateStopping, StateError},
	StateStopping: {StateStopped, StateError},
	StateError:    {StateStopped},
}

// CanTransition reports whether moving from to to is allowed.
func CanTransition(from, to State) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Stats accumulates the operator-visible counters across the run.
type Stats struct {
	StartedAt           time.Time
	TotalOpportunities  int
	ExecutedTrades      int
	SuccessfulTrades    int
	FailedTrades        int
	RejectedByReason    map[string]int
	TotalProfit         float64
	TotalLoss           float64
	LastOpportunityTime time.Time
	LastTradeTime       time.Time
}

// Config holds the controller's own tunables; subsystem configs are
// passed to New pre-built (evaluator.Config, risk.Config, executor.Config).
type Config struct {
	MonitorInterval         time.Duration
	PortfolioStaleThreshold time.Duration
}

// DefaultConfig mirrors the default named in the configuration surface.
func DefaultConfig() Config {
	return Config{
		MonitorInterval:         time.Second,
		PortfolioStaleThreshold: 5 * time.Second,
	}
}

// MidPriceSource supplies the asset->settlement-currency price map the
// risk gate needs to value free balances; typically derived from the
// cached order books' best bids/asks.
type MidPriceSource func() map[string]float64

// Controller is the engine's single orchestrator instance.
type Controller struct {
	cfg       Config
	paths     []models.Path
	cache     *marketdata.Cache
	book      evaluator.Config
	portfolio *portfolio.Cache
	gate      *risk.Gate
	exec      *executor.Executor
	jrnl      *journal.Journal
	midPrices MidPriceSource
	log       *utils.Logger

	mu      sync.Mutex
	state   State
	stats   Stats
	statsMu sync.Mutex
}

// New builds a Controller wiring together every subsystem. jrnl may be
// nil to disable journaling.
func New(
	paths []models.Path,
	cache *marketdata.Cache,
	evalCfg evaluator.Config,
	pf *portfolio.Cache,
	gate *risk.Gate,
	exec *executor.Executor,
	jrnl *journal.Journal,
	midPrices MidPriceSource,
	cfg Config,
) *Controller {
	return &Controller{
		cfg:       cfg,
		paths:     paths,
		cache:     cache,
		book:      evalCfg,
		portfolio: pf,
		gate:      gate,
		exec:      exec,
		jrnl:      jrnl,
		midPrices: midPrices,
		log:       utils.L().WithComponent("controller"),
		state:     StateStopped,
		stats:     Stats{RejectedByReason: make(map[string]int)},
	}
}

// State returns the controller's current run state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) transition(to State) bool {
	if !CanTransition(c.state, to) {
		c.log.Warn("rejected invalid state transition", utils.String("from", string(c.state)), utils.String("to", string(to)))
		return false
	}
	c.state = to
	metrics.SetControllerState(string(to))
	return true
}

// Run starts the controller's tick loop and blocks until ctx is
// cancelled. Calling Run while already running is a no-op; calling it
// once the controller is back in stopped restarts a fresh run.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateStopped {
		c.mu.Unlock()
		return nil
	}
	c.transition(StateStarting)
	c.stats = Stats{StartedAt: time.Now(), RejectedByReason: make(map[string]int)}
	c.transition(StateRunning)
	c.mu.Unlock()

	c.log.Info("controller running", utils.Int("paths", len(c.paths)))

	ticker := time.NewTicker(c.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.stop()
			return nil
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// stop moves the controller from running to stopped, idempotently: a
// second call while already stopped (or mid-error) is a harmless no-op.
func (c *Controller) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateStopped {
		return
	}
	if c.transition(StateStopping) {
		c.transition(StateStopped)
	}
	c.log.Info("controller stopped", utils.Any("stats", c.Stats()))
}

// tick runs one pass of the main loop: refresh portfolio if stale,
// evaluate, then validate/execute at most one opportunity.
func (c *Controller) tick(ctx context.Context) {
	started := time.Now()
	defer func() {
		metrics.TickDuration.Observe(float64(time.Since(started).Milliseconds()))
	}()

	pf, err := c.portfolio.Get(ctx, false)
	if err != nil {
		c.log.Warn("portfolio refresh failed, using last known snapshot", utils.Err(err))
	}
	if time.Since(pf.Timestamp) > c.cfg.PortfolioStaleThreshold {
		go func() {
			if _, err := c.portfolio.Get(ctx, true); err != nil {
				c.log.Warn("async portfolio refresh failed", utils.Err(err))
			}
		}()
	}

	evalStarted := time.Now()
	opportunities := evaluator.Evaluate(c.paths, c.cache, c.book, time.Now())
	metrics.EvaluateDuration.Observe(float64(time.Since(evalStarted).Milliseconds()))

	if len(opportunities) == 0 {
		return
	}

	c.recordOpportunities(opportunities)

	midPrices := c.midPrices()
	now := time.Now()
	for _, opp := range opportunities {
		decision := c.gate.Validate(opp, &pf, 0, midPrices, now)
		if !decision.Approved {
			if c.jrnl != nil {
				c.jrnl.WriteRejection(decision, now)
			}
			c.recordRejection(decision.Reason)
			continue
		}

		result := c.exec.Execute(ctx, opp, decision.Stake, pf)
		c.gate.Record(result, time.Now())
		if c.jrnl != nil {
			c.jrnl.WriteExecution(result)
		}
		c.recordExecution(result)

		// At most one execution per tick, to preserve min_arbitrage_interval.
		break
	}
}

func (c *Controller) recordOpportunities(opps []models.Opportunity) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.TotalOpportunities += len(opps)
	c.stats.LastOpportunityTime = time.Now()
	for _, opp := range opps {
		metrics.RecordOpportunity(opp.Path.ID)
	}
}

func (c *Controller) recordRejection(reason string) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.RejectedByReason[reason]++
}

func (c *Controller) recordExecution(result models.ExecutionResult) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.ExecutedTrades++
	c.stats.LastTradeTime = time.Now()
	if result.Success {
		c.stats.SuccessfulTrades++
	} else {
		c.stats.FailedTrades++
	}
	if result.ActualProfit >= 0 {
		c.stats.TotalProfit += result.ActualProfit
	} else {
		c.stats.TotalLoss += -result.ActualProfit
	}
}

// Stats returns a snapshot of the operator-visible counters.
func (c *Controller) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	out := c.stats
	out.RejectedByReason = make(map[string]int, len(c.stats.RejectedByReason))
	for k, v := range c.stats.RejectedByReason {
		out.RejectedByReason[k] = v
	}
	return out
}

// Status is the operator-facing summary returned by the status surface.
type Status struct {
	State     State
	RiskLevel models.RiskLevel
	Paths     []string
}

// StatusSnapshot returns the controller's current operator-facing status.
func (c *Controller) StatusSnapshot() Status {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	names := make([]string, len(c.paths))
	for i, p := range c.paths {
		names[i] = p.ID
	}
	return Status{State: state, RiskLevel: c.gate.Level(), Paths: names}
}
