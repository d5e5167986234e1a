package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"ml-crypto-trader/internal/backtest"
	"ml-crypto-trader/internal/interfaces"
	"ml-crypto-trader/internal/logger"
	"ml-crypto-trader/internal/marketdata"
	"ml-crypto-trader/internal/predictor"
	"ml-crypto-trader/internal/risk"
	"ml-crypto-trader/internal/store"
	"ml-crypto-trader/internal/types"
)

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	symbol := flag.String("symbol", "", "symbol to backtest (defaults to the first configured symbol)")
	flag.Parse()

	_ = godotenv.Load()
	must(logger.Init())

	cfg, err := store.LoadConfig(*configPath)
	must(err)

	target := *symbol
	if target == "" {
		target = cfg.Symbols[0]
	}

	ctx := context.Background()
	bars, err := fetchHistory(ctx, cfg, target)
	must(err)
	logger.Info(ctx, "History loaded", "symbol", target, "bars", len(bars))

	engine, err := backtest.NewEngine(backtest.Config{
		Symbol:                target,
		TrainSize:             cfg.Backtest.TrainSize,
		TestSize:              cfg.Backtest.TestSize,
		TotalPeriods:          cfg.Backtest.TotalPeriods,
		InitialCapital:        cfg.Backtest.InitialCapital,
		Commission:            cfg.Backtest.Commission,
		LabelHorizon:          cfg.Indicators.LabelHorizon,
		MLConfidenceThreshold: cfg.Trading.MLConfidenceThreshold,
		Risk: risk.Params{
			RiskPerTrade:      cfg.Risk.RiskPerTrade,
			MaxPositionSize:   cfg.Risk.MaxPositionSize,
			MaxOpenPositions:  cfg.Risk.MaxOpenPositions,
			MaxDrawdownPct:    cfg.Risk.MaxDrawdownPct,
			MaxDailyTrades:    cfg.Risk.MaxDailyTrades,
			StopLossATRMult:   cfg.Risk.StopLossATRMult,
			TakeProfitATRMult: cfg.Risk.TakeProfitATRMult,
			Location:          cfg.Location(),
		},
		NewPredictor: func(periodID int) interfaces.Predictor {
			return predictor.NewForest(cfg.Model.NumStumps, cfg.Model.Seed+int64(periodID))
		},
	})
	must(err)

	summary, err := engine.Run(ctx, bars)
	must(err)

	if cfg.Backtest.ExportDir != "" {
		must(backtest.Export(summary, cfg.Backtest.ExportDir))
		logger.Info(ctx, "Results exported", "dir", cfg.Backtest.ExportDir)
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	must(err)
	fmt.Println(string(out))
}

// fetchHistory pulls enough klines to cover every rolling window plus
// the indicator warm-up; the client pages through the exchange's
// per-request cap as needed.
func fetchHistory(ctx context.Context, cfg *store.Config, symbol string) ([]types.Bar, error) {
	limit := cfg.Backtest.TrainSize + cfg.Backtest.TestSize*cfg.Backtest.TotalPeriods + cfg.Indicators.SlowSMA

	client := marketdata.NewClient(
		os.Getenv(cfg.Binance.APIKeyEnv),
		os.Getenv(cfg.Binance.APISecretEnv),
		cfg.Binance.RatePerSec,
		marketdata.NewEnricher(marketdata.EnrichParams{
			FastSMA:        cfg.Indicators.FastSMA,
			SlowSMA:        cfg.Indicators.SlowSMA,
			RSIPeriod:      cfg.Indicators.RSIPeriod,
			ATRPeriod:      cfg.Indicators.ATRPeriod,
			BBWindow:       cfg.Indicators.BBWindow,
			LabelHorizon:   cfg.Indicators.LabelHorizon,
			LabelThreshold: 0.001,
		}),
	)
	bars, err := client.FetchBars(ctx, symbol, cfg.Interval, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return client.Enrich(bars)
}
