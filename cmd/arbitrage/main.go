package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/svyatogor45/triarb/internal/config"
	"github.com/svyatogor45/triarb/internal/controller"
	"github.com/svyatogor45/triarb/internal/evaluator"
	"github.com/svyatogor45/triarb/internal/exchange"
	"github.com/svyatogor45/triarb/internal/executor"
	"github.com/svyatogor45/triarb/internal/journal"
	"github.com/svyatogor45/triarb/internal/marketdata"
	"github.com/svyatogor45/triarb/internal/models"
	"github.com/svyatogor45/triarb/internal/portfolio"
	"github.com/svyatogor45/triarb/internal/risk"
	"github.com/svyatogor45/triarb/pkg/utils"
)

func main() {
	configPath := flag.String("config", "config.env", "path to the flat key=value config file")
	mode := flag.String("mode", "", "override public_only: \"auto\" trades live, \"monitor\" only evaluates and logs")
	flag.Parse()

	encryptionKey := []byte(os.Getenv("TRIARB_ENCRYPTION_KEY"))

	cfg, err := config.Load(*configPath, encryptionKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	switch *mode {
	case "auto":
		cfg.Trading.PublicOnly = false
	case "monitor":
		cfg.Trading.PublicOnly = true
	case "":
	default:
		fmt.Fprintf(os.Stderr, "unknown -mode %q, want \"auto\" or \"monitor\"\n", *mode)
		os.Exit(1)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format}).WithComponent("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ex := exchange.NewOKXClient(
		cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.Passphrase,
		cfg.Exchange.RESTBaseURL, cfg.Exchange.RateLimitRPS, cfg.Exchange.RateLimitBurst,
	)

	pairs := uniquePairs(cfg.Paths)
	cache := marketdata.NewCache(0)
	feed := marketdata.NewFeed(ex, cache)

	feedDone := make(chan error, 1)
	go func() {
		feedDone <- feed.Run(ctx, pairs)
	}()

	pf := portfolio.New(ex, cfg.Trading.PublicOnly)
	if _, err := pf.Get(ctx, true); err != nil {
		log.Warn("initial balance fetch failed, starting from an empty portfolio", utils.Err(err))
	}

	evalCfg := evaluator.Config{
		FreshnessBudget:        cfg.Trading.BookFreshnessBudget,
		MinProfitThreshold:     cfg.Trading.MinProfitThreshold,
		MinTradeAmount:         cfg.Risk.MinTradeAmount,
		MaxProfitRateThreshold: cfg.Trading.MaxProfitRateThreshold,
		DefaultFeeRate:         ex.TakerFee(models.Pair{}),
		FeeRates:               cfg.Fees,
	}

	riskCfg := risk.Config{
		PublicOnly:           cfg.Trading.PublicOnly,
		MaxOpportunityAge:    cfg.Trading.OpportunityTTL,
		MinArbitrageInterval: cfg.Risk.MinArbitrageInterval,
		MaxDailyTrades:       cfg.Risk.MaxDailyTrades,
		MaxDailyLossRatio:    cfg.Risk.MaxDailyLossRatio,
		StopLossRatio:        cfg.Risk.StopLossRatio,
		MaxSingleTradeRatio:  cfg.Risk.MaxSingleTradeRatio,
		MaxPositionRatio:     cfg.Risk.MaxPositionRatio,
		MinTradeAmount:       cfg.Risk.MinTradeAmount,
	}
	gate := risk.New(riskCfg, time.Now())

	execCfg := executor.DefaultConfig()
	execCfg.SlippageTolerance = cfg.Trading.SlippageTolerance
	execCfg.OrderTimeout = cfg.Trading.OrderTimeout
	execCfg.DustThresholdUSDT = cfg.Trading.DustThresholdUSDT
	exec := executor.New(ex, pf, execCfg)

	var jrnl *journal.Journal
	if cfg.Journal.Path != "" {
		jrnl, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			log.Warn("failed to open trade journal, continuing unjournaled", utils.Err(err))
		} else {
			defer jrnl.Close()
		}
	}

	midPrices := func() map[string]float64 {
		out := map[string]float64{cfg.Paths[0].StartAsset: 1}
		for _, pair := range pairs {
			book, ok := cache.Get(pair)
			if !ok {
				continue
			}
			if bid, ok := book.BestBid(); ok {
				out[pair.Base] = bid.Price
			}
		}
		return out
	}

	ctrlCfg := controller.DefaultConfig()
	ctrlCfg.MonitorInterval = cfg.Trading.MonitorInterval
	ctrl := controller.New(cfg.Paths, cache, evalCfg, pf, gate, exec, jrnl, midPrices, ctrlCfg)

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, ctrl, log)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() {
		runErr <- ctrl.Run(ctx)
	}()

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", utils.String("signal", sig.String()))
		cancel()
		<-runErr
	case err := <-runErr:
		if err != nil {
			log.Error("controller exited with error", utils.Err(err))
			cancel()
			printSummary(ctrl, log)
			os.Exit(1)
		}
	case err := <-feedDone:
		log.Error("market data feed stopped", utils.Err(err))
		cancel()
		<-runErr
		printSummary(ctrl, log)
		os.Exit(1)
	}

	printSummary(ctrl, log)
}

// serveMetrics exposes Prometheus metrics and a JSON status/stats
// surface for the operator, grounded on the same get_status/get_stats
// shape the controller reports internally.
func serveMetrics(addr string, ctrl *controller.Controller, log *utils.Logger) {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ctrl.StatusSnapshot())
	})
	router.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ctrl.Stats())
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	log.Info("metrics server listening", utils.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server failed", utils.Err(err))
	}
}

func printSummary(ctrl *controller.Controller, log *utils.Logger) {
	stats := ctrl.Stats()
	log.Info("run summary",
		utils.Int("opportunities", stats.TotalOpportunities),
		utils.Int("executed", stats.ExecutedTrades),
		utils.Int("successful", stats.SuccessfulTrades),
		utils.Int("failed", stats.FailedTrades),
		utils.Float64("total_profit", stats.TotalProfit),
		utils.Float64("total_loss", stats.TotalLoss),
		utils.Any("rejected_by_reason", stats.RejectedByReason),
	)
}

// uniquePairs collects every distinct pair walked by any configured
// path, since two paths may share a leg (e.g. both trade BTC-USDT).
func uniquePairs(paths []models.Path) []models.Pair {
	seen := make(map[string]bool)
	var out []models.Pair
	for _, path := range paths {
		for _, step := range path.Steps {
			if seen[step.Pair.Symbol] {
				continue
			}
			seen[step.Pair.Symbol] = true
			out = append(out, step.Pair)
		}
	}
	return out
}
