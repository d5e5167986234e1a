package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ml-crypto-trader/internal/logger"
	"ml-crypto-trader/internal/metrics"
	"ml-crypto-trader/internal/store"
	"ml-crypto-trader/internal/trace"
)

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	must(initializeSystem())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer trace.Shutdown(ctx)

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := store.LoadConfig(configPath)
	must(err)

	logger.Info(ctx, "Starting trader",
		"mode", cfg.Mode, "symbols", cfg.Symbols, "interval", cfg.Interval)

	exec, riskMgr, scheduler, err := buildExecutor(ctx, cfg)
	must(err)

	if scheduler != nil {
		go scheduler.Run(ctx)
		go func() {
			for reading := range scheduler.Updates() {
				metrics.UpdateSentiment(reading)
				logger.Debug(ctx, "Sentiment refreshed",
					"symbol", reading.Symbol, "score", reading.Score, "label", reading.Label)
			}
		}()
	}
	if cfg.Metrics.Enabled {
		go metrics.Serve(ctx, cfg.Metrics.Addr)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		logger.Info(ctx, "Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	if err := exec.Run(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Trading loop exited", err)
	}

	m := riskMgr.Metrics()
	logger.Info(context.Background(), "Final account state",
		"capital", m.CurrentCapital,
		"peak", m.PeakCapital,
		"return_pct", m.ReturnPct,
		"open_positions", m.OpenPositions)
}
