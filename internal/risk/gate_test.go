package risk

import (
	"testing"
	"time"

	"github.com/svyatogor45/triarb/internal/models"
)

func testOpportunity(t *testing.T, maxStake float64, now time.Time) models.Opportunity {
	t.Helper()
	path, err := models.NewPath("USDT-BTC-ETH-USDT", "USDT", "BTC", "ETH", "USDT")
	if err != nil {
		t.Fatalf("NewPath: %v", err)
	}
	return models.Opportunity{
		Path:            path,
		MaxStake:        maxStake,
		NetProfitRate:   0.01,
		GrossProfitRate: 0.012,
		EvaluatedAt:     now,
		Legs: []models.LegQuote{
			{Step: path.Steps[0], InputAmount: maxStake, OutputAmount: maxStake / 100},
			{Step: path.Steps[1], InputAmount: maxStake / 100, OutputAmount: maxStake / 100 * 21},
			{Step: path.Steps[2], InputAmount: maxStake / 100 * 21, OutputAmount: maxStake * 1.01},
		},
	}
}

func testPortfolio() *models.Portfolio {
	return &models.Portfolio{Balances: map[string]float64{"USDT": 10000, "BTC": 0, "ETH": 0}}
}

func testPrices() map[string]float64 {
	return map[string]float64{"USDT": 1, "BTC": 60000, "ETH": 3000}
}

func TestGateRejectsPublicOnly(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()
	cfg.PublicOnly = true
	g := New(cfg, now)

	opp := testOpportunity(t, 100, now)
	decision := g.Validate(opp, testPortfolio(), 0, testPrices(), now)
	if decision.Approved {
		t.Fatal("expected rejection in public-only mode")
	}
	if decision.Reason != "public_only_or_no_portfolio" {
		t.Fatalf("unexpected reason: %s", decision.Reason)
	}
}

func TestGateRejectsNilPortfolio(t *testing.T) {
	now := time.Now()
	g := New(DefaultConfig(), now)
	opp := testOpportunity(t, 100, now)
	decision := g.Validate(opp, nil, 0, testPrices(), now)
	if decision.Approved {
		t.Fatal("expected rejection with nil portfolio")
	}
}

func TestGateRejectsExpiredOpportunity(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()
	cfg.MaxOpportunityAge = time.Second
	g := New(cfg, now)

	opp := testOpportunity(t, 100, now.Add(-2*time.Second))
	decision := g.Validate(opp, testPortfolio(), 0, testPrices(), now)
	if decision.Approved {
		t.Fatal("expected rejection for an expired opportunity")
	}
	if decision.Reason != "opportunity_expired" {
		t.Fatalf("unexpected reason: %s", decision.Reason)
	}
}

func TestGateRejectsFrequencyThrottle(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()
	cfg.MinArbitrageInterval = time.Minute
	g := New(cfg, now)

	opp := testOpportunity(t, 100, now)
	first := g.Validate(opp, testPortfolio(), 50, testPrices(), now)
	if !first.Approved {
		t.Fatalf("expected first attempt to be approved, got reason %q", first.Reason)
	}
	g.Record(models.ExecutionResult{ActualProfit: 1}, now)

	second := g.Validate(opp, testPortfolio(), 50, testPrices(), now.Add(time.Second))
	if second.Approved {
		t.Fatal("expected second attempt within the throttle window to be rejected")
	}
	if second.Reason != "frequency_throttle" {
		t.Fatalf("unexpected reason: %s", second.Reason)
	}
}

func TestGateRejectsDailyTradeCap(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()
	cfg.MaxDailyTrades = 1
	cfg.MinArbitrageInterval = 0
	g := New(cfg, now)

	opp := testOpportunity(t, 100, now)
	first := g.Validate(opp, testPortfolio(), 50, testPrices(), now)
	if !first.Approved {
		t.Fatalf("expected first trade approved, got %q", first.Reason)
	}
	g.Record(models.ExecutionResult{ActualProfit: 1}, now)

	second := g.Validate(opp, testPortfolio(), 50, testPrices(), now)
	if second.Approved {
		t.Fatal("expected rejection after hitting the daily trade cap")
	}
	if second.Reason != "daily_trade_cap" {
		t.Fatalf("unexpected reason: %s", second.Reason)
	}
}

func TestGateStopLossKillSwitch(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()
	cfg.MinArbitrageInterval = 0
	cfg.StopLossRatio = 0.05
	g := New(cfg, now)

	opp := testOpportunity(t, 100, now)
	g.Record(models.ExecutionResult{ActualProfit: -600}, now) // 6% of 10000 balance
	decision := g.Validate(opp, testPortfolio(), 50, testPrices(), now)
	if decision.Approved {
		t.Fatal("expected kill switch to reject after exceeding stop-loss ratio")
	}
	if decision.Reason != "stop_loss_kill_switch" {
		t.Fatalf("unexpected reason: %s", decision.Reason)
	}

	tomorrow := now.Add(25 * time.Hour)
	opp = testOpportunity(t, 100, tomorrow)
	decision = g.Validate(opp, testPortfolio(), 50, testPrices(), tomorrow)
	if !decision.Approved {
		t.Fatalf("expected kill switch to clear after day rollover, got reason %q", decision.Reason)
	}
}

func TestGateRejectsDailyLossRatio(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()
	cfg.MinArbitrageInterval = 0
	cfg.MaxDailyLossRatio = 0.02
	cfg.StopLossRatio = 0.5
	g := New(cfg, now)

	opp := testOpportunity(t, 100, now)
	g.Record(models.ExecutionResult{ActualProfit: -300}, now) // 3% of 10000
	decision := g.Validate(opp, testPortfolio(), 50, testPrices(), now)
	if decision.Approved {
		t.Fatal("expected rejection once daily loss ratio exceeds the configured bound")
	}
	if decision.Reason != "daily_loss_ratio" {
		t.Fatalf("unexpected reason: %s", decision.Reason)
	}
}

func TestGateRejectsDepthLimit(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()
	cfg.MinArbitrageInterval = 0
	g := New(cfg, now)

	opp := testOpportunity(t, 100, now)
	decision := g.Validate(opp, testPortfolio(), 1000, testPrices(), now)
	if decision.Approved {
		t.Fatal("expected rejection when requested stake exceeds opportunity.max_stake")
	}
	if decision.Reason != "depth_limit_exceeded" {
		t.Fatalf("unexpected reason: %s", decision.Reason)
	}
}

func TestGateRejectsInsufficientBalance(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()
	cfg.MinArbitrageInterval = 0
	g := New(cfg, now)

	opp := testOpportunity(t, 100, now)
	portfolio := &models.Portfolio{Balances: map[string]float64{"USDT": 10, "USDC": 45000}}
	decision := g.Validate(opp, portfolio, 50, testPrices(), now)
	if decision.Approved {
		t.Fatal("expected rejection when free balance is below the requested stake")
	}
	if decision.Reason != "insufficient_free_balance" {
		t.Fatalf("unexpected reason: %s", decision.Reason)
	}
}

func TestGateApprovesWithinLimits(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()
	cfg.MinArbitrageInterval = 0
	g := New(cfg, now)

	opp := testOpportunity(t, 1000, now)
	decision := g.Validate(opp, testPortfolio(), 50, testPrices(), now)
	if !decision.Approved {
		t.Fatalf("expected approval, got rejection: %s", decision.Reason)
	}
	if decision.Stake != 50 {
		t.Fatalf("expected stake 50, got %v", decision.Stake)
	}
}

func TestGateAutoSizesWhenNoStakeRequested(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()
	cfg.MinArbitrageInterval = 0
	cfg.MinTradeAmount = 1
	g := New(cfg, now)

	opp := testOpportunity(t, 1000, now)
	decision := g.Validate(opp, testPortfolio(), 0, testPrices(), now)
	if !decision.Approved {
		t.Fatalf("expected auto-sized approval, got rejection: %s", decision.Reason)
	}
	if decision.Stake <= 0 {
		t.Fatalf("expected a positive auto-sized stake, got %v", decision.Stake)
	}
}

func TestGateSizeFloorsAtMinTradeAmount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinTradeAmount = 500
	g := New(cfg, time.Now())

	opp := testOpportunity(t, 10, time.Now())
	portfolio := models.Portfolio{Balances: map[string]float64{"USDT": 10000}}
	_, ok := g.Size(opp, portfolio, testPrices())
	if ok {
		t.Fatal("expected sizing to fail when depth-limited stake is below min_trade_amount")
	}
}

func TestGateRecordTracksCountersAndResetsDaily(t *testing.T) {
	now := time.Now()
	g := New(DefaultConfig(), now)

	g.Record(models.ExecutionResult{ActualProfit: 5}, now)
	g.Record(models.ExecutionResult{ActualProfit: -2}, now)
	if g.TradesToday() != 2 {
		t.Fatalf("expected 2 trades today, got %d", g.TradesToday())
	}
	if g.RealizedPnLToday() != 3 {
		t.Fatalf("expected realized PnL 3, got %v", g.RealizedPnLToday())
	}

	nextDay := now.Add(24 * time.Hour)
	g.Record(models.ExecutionResult{ActualProfit: 1}, nextDay)
	if g.TradesToday() != 1 {
		t.Fatalf("expected daily counters to reset across the day boundary, got %d trades", g.TradesToday())
	}
}
