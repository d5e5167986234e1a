package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"ml-crypto-trader/internal/interfaces"
	"ml-crypto-trader/internal/logger"
	"ml-crypto-trader/internal/predictor"
	"ml-crypto-trader/internal/risk"
	"ml-crypto-trader/internal/trace"
	"ml-crypto-trader/internal/types"
)

const (
	minTrainBars = 100
	minTestBars  = 50
)

// Config drives one walk-forward run.
type Config struct {
	Symbol                string
	TrainSize             int
	TestSize              int
	TotalPeriods          int
	InitialCapital        float64
	Commission            float64 // per-side fraction of notional
	LabelHorizon          int
	MLConfidenceThreshold float64
	Risk                  risk.Params

	// NewPredictor builds a fresh model for each period so no fitted
	// state crosses window boundaries.
	NewPredictor func(periodID int) interfaces.Predictor
}

// Engine replays a candle series through rolling train/test windows.
// Each window trains a fresh model on its past and trades its future.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.TrainSize < minTrainBars {
		return nil, fmt.Errorf("train size must be at least %d, got %d", minTrainBars, cfg.TrainSize)
	}
	if cfg.TestSize < minTestBars {
		return nil, fmt.Errorf("test size must be at least %d, got %d", minTestBars, cfg.TestSize)
	}
	if cfg.NewPredictor == nil {
		return nil, errors.New("a predictor factory is required")
	}
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive, got %.2f", cfg.InitialCapital)
	}
	return &Engine{cfg: cfg}, nil
}

// Run walks the series. Bars must already carry indicators and labels.
// Too little data for even one window yields an empty summary, not an
// error.
func (e *Engine) Run(ctx context.Context, bars []types.Bar) (*types.BacktestSummary, error) {
	ctx, span := trace.StartSpan(ctx, "backtest.Run")
	defer span.End()

	periods := e.periodCount(len(bars))
	if periods < e.cfg.TotalPeriods {
		logger.Warn(ctx, "Not enough data for requested periods",
			"requested", e.cfg.TotalPeriods, "possible", periods, "bars", len(bars))
	}

	summary := &types.BacktestSummary{}
	for i := 0; i < periods; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		trainStart := i * e.cfg.TestSize
		trainEnd := trainStart + e.cfg.TrainSize
		testEnd := trainEnd + e.cfg.TestSize

		train := e.leakFreeTrain(bars[trainStart:trainEnd])
		test := bars[trainEnd:testEnd]

		result, equity, err := e.runPeriod(ctx, i, train, test)
		if err != nil {
			logger.ErrorWithErr(ctx, "Period failed, skipping", err, "period", i)
			continue
		}
		summary.PeriodResults = append(summary.PeriodResults, *result)
		summary.EquityCurve = append(summary.EquityCurve, equity...)

		logger.Info(ctx, "Period completed",
			"period", i, "trades", result.TotalTrades,
			"return_pct", result.TotalReturn, "sharpe", result.SharpeRatio)
	}

	aggregate(summary, e.cfg.InitialCapital)
	return summary, nil
}

func (e *Engine) periodCount(totalBars int) int {
	possible := (totalBars - e.cfg.TrainSize) / e.cfg.TestSize
	if possible < 0 {
		possible = 0
	}
	if possible > e.cfg.TotalPeriods {
		return e.cfg.TotalPeriods
	}
	return possible
}

// leakFreeTrain strips labels whose forward return reaches into the
// test window.
func (e *Engine) leakFreeTrain(train []types.Bar) []types.Bar {
	out := make([]types.Bar, len(train))
	copy(out, train)
	for i := len(out) - e.cfg.LabelHorizon; i < len(out); i++ {
		if i >= 0 {
			out[i].Labeled = false
		}
	}
	return out
}

func (e *Engine) runPeriod(ctx context.Context, periodID int, train, test []types.Bar) (*types.PeriodResult, []float64, error) {
	model := e.cfg.NewPredictor(periodID)
	if err := model.Train(ctx, train); err != nil {
		if errors.Is(err, predictor.ErrInsufficientData) {
			return nil, nil, fmt.Errorf("period %d: %w", periodID, err)
		}
		return nil, nil, fmt.Errorf("train period %d: %w", periodID, err)
	}

	params := e.cfg.Risk
	params.InitialCapital = e.cfg.InitialCapital
	ledger := risk.NewManager(params)

	var trades []types.Trade
	var maxDrawdown float64
	var equity []float64

	barTime := time.Time{}
	ledger.SetClock(func() time.Time { return barTime })

	closeTrade := func(pos types.Position, exitPrice float64, reason types.ExitReason) error {
		trade, err := ledger.ClosePosition(pos.Symbol, exitPrice, barTime, reason)
		if err != nil {
			return err
		}

		// Round-trip commission on the entry notional.
		cost := pos.Size * e.cfg.Commission * 2
		ledger.Debit(cost)
		trade.PnL -= cost
		if pos.Size != 0 {
			trade.PnLPct = trade.PnL / pos.Size
		}

		trades = append(trades, trade)
		equity = append(equity, ledger.Capital())
		if dd := ledger.Drawdown(); dd > maxDrawdown {
			maxDrawdown = dd
		}
		return nil
	}

	for _, bar := range test {
		barTime = bar.Time()

		if pos, open := ledger.Position(e.cfg.Symbol); open {
			exitPrice, reason, hit := barExit(pos, bar)
			if hit {
				if err := closeTrade(pos, exitPrice, reason); err != nil {
					return nil, nil, err
				}
				continue
			}
		}

		if _, open := ledger.Position(e.cfg.Symbol); open {
			continue
		}
		if math.IsNaN(bar.Ind.ATR) || bar.Ind.ATR <= 0 {
			continue
		}

		pred, err := model.Predict(ctx, bar)
		if err != nil || pred.Signal == 0 || pred.Confidence < e.cfg.MLConfidenceThreshold {
			continue
		}
		direction := types.Long
		if pred.Signal < 0 {
			direction = types.Short
		}

		if ok, _ := ledger.CanOpen(ctx); !ok {
			continue
		}

		stopLoss, takeProfit := ledger.ExitLevels(direction, bar.Close, bar.Ind.ATR)
		size, qty := ledger.PositionSize(bar.Close, stopLoss)
		if qty <= 0 {
			continue
		}
		pos := types.Position{
			Symbol:     e.cfg.Symbol,
			Direction:  direction,
			EntryPrice: bar.Close,
			Quantity:   qty,
			Size:       size,
			StopLoss:   stopLoss,
			TakeProfit: takeProfit,
			EntryTime:  barTime,
		}
		if err := ledger.AddPosition(pos); err != nil {
			logger.Warn(ctx, "Backtest entry rejected", "period", periodID, "error", err.Error())
		}
	}

	// Anything still open is flattened at the last close.
	if pos, open := ledger.Position(e.cfg.Symbol); open {
		barTime = test[len(test)-1].Time()
		if err := closeTrade(pos, test[len(test)-1].Close, types.ExitPeriodEnd); err != nil {
			return nil, nil, err
		}
	}

	result := computePeriod(periodID, trades, e.cfg.InitialCapital, ledger.Capital(), ledger.PeakCapital(), maxDrawdown)
	result.Trades = trades
	return result, equity, nil
}

// barExit resolves an exit against the bar's close, stop first; the
// fill happens at the level, not the close. Intrabar wicks through a
// level do not exit: only the close decides.
func barExit(pos types.Position, bar types.Bar) (float64, types.ExitReason, bool) {
	if pos.Direction == types.Long {
		if bar.Close <= pos.StopLoss {
			return pos.StopLoss, types.ExitStopLoss, true
		}
		if bar.Close >= pos.TakeProfit {
			return pos.TakeProfit, types.ExitTakeProfit, true
		}
		return 0, "", false
	}
	if bar.Close >= pos.StopLoss {
		return pos.StopLoss, types.ExitStopLoss, true
	}
	if bar.Close <= pos.TakeProfit {
		return pos.TakeProfit, types.ExitTakeProfit, true
	}
	return 0, "", false
}
