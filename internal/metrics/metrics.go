package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ml-crypto-trader/internal/logger"
	"ml-crypto-trader/internal/types"
)

var (
	capitalGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_capital",
		Help: "Current trading capital.",
	})
	peakCapitalGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_peak_capital",
		Help: "Capital high-water mark.",
	})
	drawdownGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_drawdown",
		Help: "Current drawdown fraction from the peak.",
	})
	openPositionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_open_positions",
		Help: "Number of open positions.",
	})
	exposureGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_exposure",
		Help: "Total notional exposure of open positions.",
	})
	tradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_trades_total",
		Help: "Closed trades by exit reason and result.",
	}, []string{"exit_reason", "result"})
	signalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_signals_total",
		Help: "Fused signals by direction.",
	}, []string{"direction"})
	stepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trader_step_duration_seconds",
		Help:    "Duration of one executor step.",
		Buckets: prometheus.DefBuckets,
	})
	sentimentGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trader_sentiment_score",
		Help: "Latest news sentiment score per symbol.",
	}, []string{"symbol"})
)

// UpdateRisk publishes a risk ledger snapshot.
func UpdateRisk(m types.RiskMetrics) {
	capitalGauge.Set(m.CurrentCapital)
	peakCapitalGauge.Set(m.PeakCapital)
	drawdownGauge.Set(m.Drawdown)
	openPositionsGauge.Set(float64(m.OpenPositions))
	exposureGauge.Set(m.TotalExposure)
}

// RecordTrade counts one closed trade.
func RecordTrade(trade types.Trade) {
	result := "win"
	if trade.PnL < 0 {
		result = "loss"
	}
	tradesTotal.WithLabelValues(string(trade.ExitReason), result).Inc()
}

// RecordSignal counts one fused decision.
func RecordSignal(direction types.Direction) {
	signalsTotal.WithLabelValues(string(direction)).Inc()
}

// UpdateSentiment publishes a refreshed sentiment reading.
func UpdateSentiment(s types.NewsSentiment) {
	sentimentGauge.WithLabelValues(s.Symbol).Set(s.Score)
}

// ObserveStep records the duration of one executor step.
func ObserveStep(d time.Duration) {
	stepDuration.Observe(d.Seconds())
}

// Serve exposes /metrics on addr until the context is cancelled.
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "Metrics server listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.ErrorWithErr(ctx, "Metrics server failed", err)
	}
}
