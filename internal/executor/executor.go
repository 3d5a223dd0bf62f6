// Package executor carries out a sized Opportunity as a sequence of
// marketable limit orders, one leg at a time, stopping at the first
// leg that aborts rather than attempting any rollback.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/svyatogor45/triarb/internal/apperrors"
	"github.com/svyatogor45/triarb/internal/exchange"
	"github.com/svyatogor45/triarb/internal/metrics"
	"github.com/svyatogor45/triarb/internal/models"
	"github.com/svyatogor45/triarb/internal/portfolio"
	"github.com/svyatogor45/triarb/pkg/retry"
	"github.com/svyatogor45/triarb/pkg/utils"
)

// Config holds the per-run tunables the executor needs outside of the
// per-leg order parameters already carried on the Opportunity.
type Config struct {
	SlippageTolerance float64
	OrderTimeout      time.Duration
	PollInterval      time.Duration
	DustThresholdUSDT float64
}

// DefaultConfig mirrors the defaults named in the configuration surface.
func DefaultConfig() Config {
	return Config{
		SlippageTolerance: 0.002,
		OrderTimeout:      3 * time.Second,
		PollInterval:      150 * time.Millisecond,
		DustThresholdUSDT: 1.0,
	}
}

// The exchange interface does not expose per-instrument quantity/price
// step metadata, so roundQuantity/roundPrice round down to a fixed lot
// size via utils.RoundToLotSize rather than a true per-pair step.
const fixedLotSize = 1e-8

func roundQuantity(v float64) float64 {
	return utils.RoundToLotSize(v, fixedLotSize)
}

func roundPrice(v float64) float64 {
	return utils.RoundToLotSize(v, fixedLotSize)
}

// Executor runs one Opportunity at a time; callers must serialize calls
// to Execute (the controller's single-in-flight-execution discipline).
type Executor struct {
	ex      exchange.Exchange
	balance *portfolio.Cache
	cfg     Config
	log     *utils.Logger
}

// New builds an Executor against ex, adjusting balance's local delta
// cache as legs are placed and filled.
func New(ex exchange.Exchange, balance *portfolio.Cache, cfg Config) *Executor {
	return &Executor{ex: ex, balance: balance, cfg: cfg, log: utils.L().WithComponent("executor")}
}

// Execute runs opp's legs in order at the given stake, returning a
// bounded result: every leg attempted up to the first failure, with no
// reversal of legs that already filled.
func (e *Executor) Execute(ctx context.Context, opp models.Opportunity, stake float64, portfolioNow models.Portfolio) models.ExecutionResult {
	started := time.Now()
	result := models.ExecutionResult{
		Opportunity: opp,
		Stake:       stake,
		FailedLeg:   -1,
		StartedAt:   started,
	}

	if free := portfolioNow.Free(opp.Path.StartAsset); free < stake {
		result.Err = &apperrors.OrderError{Op: "pre_trade_check", Err: errPreTradeInsufficientBalance}
		result.FailedLeg = 0
		result.FinishedAt = time.Now()
		return result
	}

	legInput := stake
	for i, step := range opp.Path.Steps {
		legResult := e.executeLeg(ctx, i, step, legInput)
		result.Legs = append(result.Legs, legResult)

		if legResult.Err != nil {
			result.FailedLeg = i
			result.Err = legResult.Err
			break
		}

		e.balance.Adjust(step.FromAsset, -legInputSpent(step, legResult))
		e.balance.Adjust(step.ToAsset, legOutput(step, legResult))

		legInput = legOutput(step, legResult)
	}

	result.FinishedAt = time.Now()
	result.Success = result.FailedLeg == -1
	if result.Success {
		result.ActualProfit = legInput - stake
	} else if n := len(result.Legs); n > 0 {
		// Best-effort realized P&L from whatever filled before the abort,
		// expressed in the start asset via the last successfully-reached
		// leg's output amount.
		result.ActualProfit = partialRealizedProfit(opp, result.Legs, stake)
	}
	if stake > 0 {
		result.ActualProfitRate = result.ActualProfit / stake
	}

	if _, err := e.balance.Get(ctx, true); err != nil {
		e.log.Warn("post-execution balance refresh failed", utils.Err(err))
	}

	return result
}

var errPreTradeInsufficientBalance = errors.New("insufficient start-asset balance for requested stake")

// executeLeg runs the place/poll/timeout state machine for one leg,
// given the amount of FromAsset available to spend on it.
func (e *Executor) executeLeg(ctx context.Context, index int, step models.PathStep, input float64) models.LegResult {
	leg := models.LegResult{Step: step, StartedAt: time.Now()}

	bookRetry := retry.ConservativeConfig()
	bookRetry.RetryIf = retry.IsRetryable
	book, err := retry.DoWithResult(ctx, func() (models.OrderBook, error) {
		return e.ex.GetOrderBook(ctx, step.Pair, 1)
	}, bookRetry)
	if err != nil {
		leg.Status = models.OrderFailed
		leg.Err = &apperrors.TransportError{Op: "get_order_book", Err: err}
		leg.FinishedAt = time.Now()
		return leg
	}

	price, size, ok := e.priceAndSize(step, book, input)
	if !ok {
		leg.Status = models.OrderFailed
		leg.Err = &apperrors.DataError{Pair: step.Pair.Symbol, Msg: "empty book, cannot price leg"}
		leg.FinishedAt = time.Now()
		return leg
	}
	leg.RequestedPrice = price
	leg.RequestedSize = size

	placeRetry := retry.AggressiveConfig()
	placeRetry.RetryIf = retry.IsRetryable
	orderID, err := retry.DoWithResult(ctx, func() (string, error) {
		return e.ex.PlaceOrder(ctx, step.Pair, step.Action, price, size)
	}, placeRetry)
	if err != nil {
		leg.Status = models.OrderFailed
		leg.Err = &apperrors.OrderError{Op: "place", Err: err}
		leg.FinishedAt = time.Now()
		return leg
	}
	leg.OrderID = orderID

	status := e.pollUntilTerminal(ctx, step, orderID, leg.StartedAt)
	leg.FilledSize = status.FilledSize
	leg.AvgFillPrice = status.AvgFillPrice
	leg.Fee = status.Fee
	leg.Status = status.Status
	leg.FinishedAt = time.Now()

	metrics.OrderLegLatency.WithLabelValues(step.Pair.Symbol, string(step.Action)).Observe(float64(leg.FinishedAt.Sub(leg.StartedAt).Milliseconds()))

	switch status.Status {
	case models.OrderFilled:
		return leg
	case models.OrderPartiallyFilled, models.OrderCancelled:
		if !leg.IsDust(e.cfg.DustThresholdUSDT) {
			leg.Status = models.OrderTimeout
			leg.Err = &apperrors.PartialFillError{LegIndex: index, Requested: size, Filled: leg.FilledSize, DustAsset: step.ToAsset}
		}
		return leg
	default:
		leg.Err = &apperrors.OrderError{Op: "poll", Err: errLegNeverFilled}
		return leg
	}
}

var errLegNeverFilled = errors.New("order never reached a terminal fill state")

// priceAndSize picks the marketable limit price for step's action and
// converts input (FromAsset units) into an order size in the pair's
// base asset, rounded to the executor's quantity precision.
func (e *Executor) priceAndSize(step models.PathStep, book models.OrderBook, input float64) (price, size float64, ok bool) {
	switch step.Action {
	case models.ActionBuy:
		if len(book.Asks) == 0 {
			return 0, 0, false
		}
		price = roundPrice(book.Asks[0].Price * (1 + e.cfg.SlippageTolerance))
		size = roundQuantity(input / price)
	case models.ActionSell:
		if len(book.Bids) == 0 {
			return 0, 0, false
		}
		price = roundPrice(book.Bids[0].Price * (1 - e.cfg.SlippageTolerance))
		size = roundQuantity(input)
	default:
		return 0, 0, false
	}
	if size <= 0 || price <= 0 {
		return 0, 0, false
	}
	return price, size, true
}

// pollUntilTerminal polls orderID's status at cfg.PollInterval until it
// reaches a terminal state or cfg.OrderTimeout elapses (relative to
// startedAt), cancelling the order if it times out while still live or
// partially filled.
func (e *Executor) pollUntilTerminal(ctx context.Context, step models.PathStep, orderID string, startedAt time.Time) exchange.OrderStatus {
	deadline := startedAt.Add(e.cfg.OrderTimeout)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	var last exchange.OrderStatus
	for {
		status, err := e.ex.GetOrderStatus(ctx, step.Pair, orderID)
		if err == nil {
			last = status
			if status.Status == models.OrderFilled || status.Status == models.OrderCancelled || status.Status == models.OrderFailed {
				return status
			}
		}

		if time.Now().After(deadline) {
			_ = e.ex.CancelOrder(ctx, step.Pair, orderID)
			final, err := e.ex.GetOrderStatus(ctx, step.Pair, orderID)
			if err == nil {
				return final
			}
			last.Status = models.OrderCancelled
			return last
		}

		select {
		case <-ctx.Done():
			_ = e.ex.CancelOrder(ctx, step.Pair, orderID)
			last.Status = models.OrderCancelled
			return last
		case <-ticker.C:
		}
	}
}

// legOutput is the realized amount of ToAsset a filled leg produced,
// net of the exchange-reported fee.
func legOutput(step models.PathStep, leg models.LegResult) float64 {
	switch step.Action {
	case models.ActionBuy:
		return leg.FilledSize - leg.Fee
	default:
		return leg.FilledSize*leg.AvgFillPrice - leg.Fee
	}
}

// legInputSpent is the realized amount of FromAsset a filled leg
// consumed: size*price in quote units for a buy, size itself for a sell.
func legInputSpent(step models.PathStep, leg models.LegResult) float64 {
	switch step.Action {
	case models.ActionBuy:
		return leg.FilledSize * leg.AvgFillPrice
	default:
		return leg.FilledSize
	}
}

// partialRealizedProfit estimates realized P&L, in the start asset, from
// whatever legs filled before the chain aborted. The amount actually
// reached is carried through the remaining, never-attempted legs using
// the evaluator's simulated average prices from opp.Legs, since no real
// fill exists for them; this is an estimate, refined once the executor's
// forced post-execution balance refresh reports the true position.
func partialRealizedProfit(opp models.Opportunity, legs []models.LegResult, stake float64) float64 {
	var amount float64
	reached := 0
	for _, leg := range legs {
		if leg.FilledSize <= 0 {
			break
		}
		amount = legOutput(opp.Path.Steps[reached], leg)
		reached++
	}
	if reached == 0 {
		return 0
	}
	for i := reached; i < len(opp.Legs); i++ {
		quote := opp.Legs[i]
		if quote.InputAmount <= 0 {
			break
		}
		amount = amount / quote.InputAmount * quote.OutputAmount
	}
	return amount - stake
}
