package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"ml-crypto-trader/internal/broker"
	"ml-crypto-trader/internal/ensemble"
	"ml-crypto-trader/internal/executor"
	"ml-crypto-trader/internal/interfaces"
	"ml-crypto-trader/internal/logger"
	"ml-crypto-trader/internal/marketdata"
	"ml-crypto-trader/internal/news"
	"ml-crypto-trader/internal/predictor"
	"ml-crypto-trader/internal/risk"
	"ml-crypto-trader/internal/store"
	"ml-crypto-trader/internal/trace"
	"ml-crypto-trader/internal/tradestore"
	"ml-crypto-trader/internal/types"
)

// initializeSystem loads the environment and brings up logging and
// tracing.
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

// buildBroker picks the execution sink for the configured mode.
func buildBroker(cfg *store.Config) interfaces.Broker {
	live := broker.NewBinance(
		os.Getenv(cfg.Binance.APIKeyEnv),
		os.Getenv(cfg.Binance.APISecretEnv),
		cfg.Binance.Testnet,
	)
	if cfg.Mode == "DRY_RUN" {
		return broker.NewDryRun(live)
	}
	return live
}

// buildModels assembles the prediction sources for the ensemble.
func buildModels(ctx context.Context, cfg *store.Config) map[string]interfaces.Predictor {
	models := map[string]interfaces.Predictor{
		"forest": predictor.NewForest(cfg.Model.NumStumps, cfg.Model.Seed),
	}

	switch cfg.Model.Kind {
	case "ONNX":
		seq, err := predictor.NewSequence(cfg.Model.ONNXPath)
		if err != nil {
			logger.ErrorWithErr(ctx, "Sequence model unavailable, continuing without it", err,
				"path", cfg.Model.ONNXPath)
		} else {
			models["sequence"] = seq
		}
	case "NEUTRAL":
		models["sequence"] = predictor.Neutral{}
	}
	return models
}

// buildExecutor wires the full trading engine from configuration.
func buildExecutor(ctx context.Context, cfg *store.Config) (*executor.Executor, *risk.Manager, *news.Scheduler, error) {
	combiner, err := ensemble.NewCombiner(cfg.Ensemble.Weights, cfg.Ensemble.MinConfidence)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build combiner: %w", err)
	}

	riskMgr := risk.NewManager(risk.Params{
		InitialCapital:    cfg.Risk.InitialCapital,
		RiskPerTrade:      cfg.Risk.RiskPerTrade,
		MaxPositionSize:   cfg.Risk.MaxPositionSize,
		MaxOpenPositions:  cfg.Risk.MaxOpenPositions,
		MaxDrawdownPct:    cfg.Risk.MaxDrawdownPct,
		MaxDailyTrades:    cfg.Risk.MaxDailyTrades,
		StopLossATRMult:   cfg.Risk.StopLossATRMult,
		TakeProfitATRMult: cfg.Risk.TakeProfitATRMult,
		Location:          cfg.Location(),
	})

	enricher := marketdata.NewEnricher(marketdata.EnrichParams{
		FastSMA:        cfg.Indicators.FastSMA,
		SlowSMA:        cfg.Indicators.SlowSMA,
		RSIPeriod:      cfg.Indicators.RSIPeriod,
		ATRPeriod:      cfg.Indicators.ATRPeriod,
		BBWindow:       cfg.Indicators.BBWindow,
		LabelHorizon:   cfg.Indicators.LabelHorizon,
		LabelThreshold: 0.001,
	})
	market := marketdata.NewClient(
		os.Getenv(cfg.Binance.APIKeyEnv),
		os.Getenv(cfg.Binance.APISecretEnv),
		cfg.Binance.RatePerSec,
		enricher,
	)

	newsService := news.NewService(news.ServiceConfig{
		Enabled:        cfg.News.Enabled,
		MaxArticles:    cfg.News.MaxArticles,
		CacheTTL:       time.Duration(cfg.News.CacheTTLMinutes) * time.Minute,
		ScraperTimeout: 30 * time.Second,
	})
	var scheduler *news.Scheduler
	if cfg.News.Enabled {
		scheduler = news.NewScheduler(newsService, cfg.Symbols,
			time.Duration(cfg.News.RefreshMinutes)*time.Minute)
	}

	var journal interfaces.TradeStore = tradestore.Nop{}
	var db *tradestore.Store
	if cfg.Database.DSN != "" {
		opened, derr := tradestore.Open(cfg.Database.DSN)
		if derr != nil {
			logger.ErrorWithErr(ctx, "Trade store unavailable, journaling disabled", derr)
		} else {
			journal = opened
			db = opened
		}
	}

	exec := executor.New(
		executor.Config{
			Symbols:               cfg.Symbols,
			Interval:              cfg.Interval,
			KlineLimit:            cfg.Binance.KlineLimit,
			PollInterval:          time.Duration(cfg.PollSeconds) * time.Second,
			MLConfidenceThreshold: cfg.Trading.MLConfidenceThreshold,
			SentimentThreshold:    cfg.Trading.SentimentThreshold,
		},
		market,
		buildModels(ctx, cfg),
		predictor.NewSentimentAdapter(newsService),
		combiner,
		riskMgr,
		buildBroker(cfg),
		journal,
	)
	if db != nil {
		reconcileOpenTrades(ctx, db, exec)
	}
	return exec, riskMgr, scheduler, nil
}

// reconcileOpenTrades re-registers positions the journal still marks
// open, so a restart keeps enforcing their exits.
func reconcileOpenTrades(ctx context.Context, db *tradestore.Store, exec *executor.Executor) {
	rows, err := db.OpenTrades(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Open-trade reconciliation failed", err)
		return
	}
	for _, row := range rows {
		pos := types.Position{
			Symbol:     row.Symbol,
			Direction:  types.Direction(row.Direction),
			EntryPrice: row.EntryPrice,
			Quantity:   row.Quantity,
			Size:       row.Size,
			StopLoss:   row.StopLoss,
			TakeProfit: row.TakeProfit,
			EntryTime:  row.EntryTime,
		}
		if rerr := exec.Restore(pos, row.ID); rerr != nil {
			logger.ErrorWithErr(ctx, "Cannot restore journaled position", rerr, "symbol", row.Symbol)
			continue
		}
		logger.Info(ctx, "Restored open position from journal",
			"symbol", row.Symbol, "direction", row.Direction, "entry", row.EntryPrice)
	}
}
