package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ml-crypto-trader/internal/ensemble"
	"ml-crypto-trader/internal/interfaces"
	"ml-crypto-trader/internal/logger"
	"ml-crypto-trader/internal/metrics"
	"ml-crypto-trader/internal/predictor"
	"ml-crypto-trader/internal/risk"
	"ml-crypto-trader/internal/trace"
	"ml-crypto-trader/internal/types"
)

// Config are the per-loop knobs the executor needs.
type Config struct {
	Symbols               []string
	Interval              string
	KlineLimit            int
	PollInterval          time.Duration
	MLConfidenceThreshold float64
	SentimentThreshold    float64
	DefaultConfidence     float64 // vote confidence for a degraded source
}

// Executor runs the trading loop: check exits, analyze, gate, execute.
type Executor struct {
	cfg       Config
	market    interfaces.MarketData
	models    map[string]interfaces.Predictor
	sentiment *predictor.SentimentAdapter
	combiner  *ensemble.Combiner
	risk      *risk.Manager
	broker    interfaces.Broker
	store     interfaces.TradeStore

	mu       sync.Mutex
	trained  map[string]bool
	tradeIDs map[string]int64 // journal row per open symbol
}

func New(
	cfg Config,
	market interfaces.MarketData,
	models map[string]interfaces.Predictor,
	sentiment *predictor.SentimentAdapter,
	combiner *ensemble.Combiner,
	riskMgr *risk.Manager,
	broker interfaces.Broker,
	store interfaces.TradeStore,
) *Executor {
	if cfg.DefaultConfidence == 0 {
		cfg.DefaultConfidence = 0.5
	}
	return &Executor{
		cfg:       cfg,
		market:    market,
		models:    models,
		sentiment: sentiment,
		combiner:  combiner,
		risk:      riskMgr,
		broker:    broker,
		store:     store,
		trained:   make(map[string]bool),
		tradeIDs:  make(map[string]int64),
	}
}

// Step performs one full iteration for a symbol: exit checks on the
// open position, market analysis, signal fusion, gating and entry.
func (e *Executor) Step(ctx context.Context, symbol string) (*types.StepResult, error) {
	ctx, span := trace.StartSpan(ctx, "executor.Step")
	defer span.End()

	started := time.Now()
	defer func() { metrics.ObserveStep(time.Since(started)) }()

	price, err := e.broker.LTP(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch price for %s: %w", symbol, err)
	}

	result := &types.StepResult{
		Symbol: symbol,
		Price:  price,
		Time:   time.Now().UnixMilli(),
	}

	// One action per step: a close ends the iteration, re-entry waits
	// for the next poll.
	if pos, ok := e.risk.Position(symbol); ok {
		if reason, hit := exitHit(pos, price); hit {
			if err := e.closePosition(ctx, pos, price, reason); err != nil {
				return nil, err
			}
			result.Reason = "closed: " + string(reason)
			return result, nil
		}
	}

	signal, reading, lastBar, err := e.analyze(ctx, symbol)
	if err != nil {
		return nil, err
	}
	result.Signal = signal
	metrics.RecordSignal(signal.Direction)
	logger.Decision(ctx, symbol, string(signal.Direction), signal.Confidence, "signal fused",
		"sentiment_score", reading.Score, "sentiment_label", reading.Label)

	ok, reason := e.shouldTrade(ctx, symbol, signal, reading)
	if !ok {
		if result.Reason == "" {
			result.Reason = reason
		}
		logger.Info(ctx, "No trade", "symbol", symbol, "reason", reason)
		return result, nil
	}

	orders, err := e.openPosition(ctx, symbol, signal, reading, price, lastBar.Ind.ATR)
	if err != nil {
		return nil, err
	}
	result.Orders = orders
	result.Reason = "opened " + string(signal.Direction)
	return result, nil
}

// exitHit checks the polled price against the bracket, stop before
// target.
func exitHit(pos types.Position, price float64) (types.ExitReason, bool) {
	if pos.Direction == types.Long {
		if price <= pos.StopLoss {
			return types.ExitStopLoss, true
		}
		if price >= pos.TakeProfit {
			return types.ExitTakeProfit, true
		}
		return "", false
	}
	if price >= pos.StopLoss {
		return types.ExitStopLoss, true
	}
	if price <= pos.TakeProfit {
		return types.ExitTakeProfit, true
	}
	return "", false
}

// analyze fetches and enriches candles, trains untrained models and
// collects one vote per source. A failing source degrades to a neutral
// vote so the ensemble keeps deciding.
func (e *Executor) analyze(ctx context.Context, symbol string) (types.Signal, types.NewsSentiment, types.Bar, error) {
	ctx, span := trace.StartSpan(ctx, "executor.analyze")
	defer span.End()

	bars, err := e.market.FetchBars(ctx, symbol, e.cfg.Interval, e.cfg.KlineLimit)
	if err != nil {
		return types.Signal{}, types.NewsSentiment{}, types.Bar{}, err
	}
	bars, err = e.market.Enrich(bars)
	if err != nil {
		return types.Signal{}, types.NewsSentiment{}, types.Bar{}, fmt.Errorf("enrich bars for %s: %w", symbol, err)
	}
	lastBar := bars[len(bars)-1]

	e.trainOnce(ctx, symbol, bars)

	sources := make(map[string]types.SourceSignal, len(e.models)+1)
	for name, model := range e.models {
		pred, perr := model.Predict(ctx, lastBar)
		if perr != nil {
			logger.Warn(ctx, "Model prediction failed, voting hold",
				"symbol", symbol, "model", name, "error", perr.Error())
			sources[name] = types.SourceSignal{Direction: types.Hold, Confidence: e.cfg.DefaultConfidence}
			continue
		}
		sources[name] = types.SourceSignal{
			Direction:  directionOf(pred.Signal),
			Confidence: pred.Confidence,
		}
	}

	var reading types.NewsSentiment
	if e.sentiment != nil {
		vote, r, serr := e.sentiment.Signal(ctx, symbol)
		if serr != nil {
			logger.Warn(ctx, "Sentiment unavailable, voting hold", "symbol", symbol, "error", serr.Error())
			vote = types.SourceSignal{Direction: types.Hold, Confidence: e.cfg.DefaultConfidence}
		} else {
			reading = r
		}
		sources["sentiment"] = vote
	}

	return e.combiner.Combine(sources), reading, lastBar, nil
}

// trainOnce fits each model on the first pass for a symbol.
func (e *Executor) trainOnce(ctx context.Context, symbol string, bars []types.Bar) {
	e.mu.Lock()
	done := e.trained[symbol]
	e.mu.Unlock()
	if done {
		return
	}

	for name, model := range e.models {
		if err := model.Train(ctx, bars); err != nil {
			if errors.Is(err, predictor.ErrTrainingUnsupported) {
				logger.Debug(ctx, "Model trained offline, skipping fit", "model", name)
				continue
			}
			logger.ErrorWithErr(ctx, "Model training failed", err, "symbol", symbol, "model", name)
		}
	}

	e.mu.Lock()
	e.trained[symbol] = true
	e.mu.Unlock()
}

// shouldTrade applies the entry gates in order: fused confidence,
// sentiment floor, risk limits, one position per symbol.
func (e *Executor) shouldTrade(ctx context.Context, symbol string, signal types.Signal, reading types.NewsSentiment) (bool, string) {
	if signal.Direction == types.Hold {
		return false, "signal is hold"
	}
	if signal.Confidence < e.cfg.MLConfidenceThreshold {
		return false, fmt.Sprintf("confidence too low: %.2f < %.2f", signal.Confidence, e.cfg.MLConfidenceThreshold)
	}
	if reading.Score < e.cfg.SentimentThreshold {
		return false, fmt.Sprintf("sentiment too negative: %.4f < %.4f", reading.Score, e.cfg.SentimentThreshold)
	}
	if ok, riskReason := e.risk.CanOpen(ctx); !ok {
		e.logEvent(ctx, "entry_rejected", "WARN", fmt.Sprintf("%s: risk gate %s", symbol, riskReason))
		return false, "risk check failed: " + riskReason
	}
	if pos, exists := e.risk.Position(symbol); exists {
		if pos.Direction != signal.Direction {
			logger.Info(ctx, "Opposing signal ignored while position open",
				"symbol", symbol, "open_direction", string(pos.Direction), "signal", string(signal.Direction))
		}
		return false, "position already open"
	}
	return true, ""
}

// openPosition sizes, submits the entry order, places protective
// orders and registers the position with the risk ledger.
func (e *Executor) openPosition(ctx context.Context, symbol string, signal types.Signal, reading types.NewsSentiment, price, atr float64) ([]types.OrderResp, error) {
	ctx, span := trace.StartSpan(ctx, "executor.openPosition")
	defer span.End()

	stopLoss, takeProfit := e.risk.ExitLevels(signal.Direction, price, atr)
	size, qty := e.risk.PositionSize(price, stopLoss)
	if qty <= 0 {
		return nil, fmt.Errorf("computed non-positive quantity for %s", symbol)
	}

	entrySide, exitSide := "BUY", "SELL"
	if signal.Direction == types.Short {
		entrySide, exitSide = "SELL", "BUY"
	}

	entry, err := e.broker.SubmitMarketOrder(ctx, types.OrderReq{
		Symbol: symbol, Side: entrySide, Qty: qty, Tag: "entry",
	})
	if err != nil {
		return nil, fmt.Errorf("entry order for %s: %w", symbol, err)
	}
	orders := []types.OrderResp{entry}

	// Protective orders are best effort: the position is held either
	// way and the exit check in Step still enforces the levels.
	if stop, serr := e.broker.SubmitStopOrder(ctx, types.OrderReq{
		Symbol: symbol, Side: exitSide, Qty: qty, Tag: "stop_loss",
	}, stopLoss); serr != nil {
		logger.ErrorWithErr(ctx, "Stop loss order failed, exits enforced in-loop", serr, "symbol", symbol)
		e.logEvent(ctx, "protective_order_failed", "ERROR", fmt.Sprintf("%s stop loss: %v", symbol, serr))
	} else {
		orders = append(orders, stop)
	}
	if tp, terr := e.broker.SubmitLimitOrder(ctx, types.OrderReq{
		Symbol: symbol, Side: exitSide, Qty: qty, Tag: "take_profit",
	}, takeProfit); terr != nil {
		logger.ErrorWithErr(ctx, "Take profit order failed, exits enforced in-loop", terr, "symbol", symbol)
		e.logEvent(ctx, "protective_order_failed", "ERROR", fmt.Sprintf("%s take profit: %v", symbol, terr))
	} else {
		orders = append(orders, tp)
	}

	pos := types.Position{
		Symbol:     symbol,
		Direction:  signal.Direction,
		EntryPrice: price,
		Quantity:   qty,
		Size:       size,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		EntryTime:  time.Now(),
	}
	if err := e.risk.AddPosition(pos); err != nil {
		return orders, fmt.Errorf("register position for %s: %w", symbol, err)
	}

	tradeID, serr := e.store.LogTradeOpen(ctx, pos, signal.Confidence, reading.Score, entry.OrderID)
	if serr != nil {
		logger.ErrorWithErr(ctx, "Trade journal write failed", serr, "symbol", symbol)
	} else {
		e.mu.Lock()
		e.tradeIDs[symbol] = tradeID
		e.mu.Unlock()
	}

	logger.Trade(ctx, symbol, entrySide, qty, price, entry.OrderID,
		"stop_loss", stopLoss, "take_profit", takeProfit, "size", size)
	return orders, nil
}

func (e *Executor) closePosition(ctx context.Context, pos types.Position, price float64, reason types.ExitReason) error {
	side := "SELL"
	if pos.Direction == types.Short {
		side = "BUY"
	}
	resp, err := e.broker.SubmitMarketOrder(ctx, types.OrderReq{
		Symbol: pos.Symbol, Side: side, Qty: pos.Quantity, Tag: "exit_" + string(reason),
	})
	if err != nil {
		return fmt.Errorf("exit order for %s: %w", pos.Symbol, err)
	}

	trade, err := e.risk.ClosePosition(pos.Symbol, price, time.Now(), reason)
	if err != nil {
		return err
	}
	metrics.RecordTrade(trade)

	e.mu.Lock()
	tradeID, ok := e.tradeIDs[pos.Symbol]
	delete(e.tradeIDs, pos.Symbol)
	e.mu.Unlock()
	if ok {
		if serr := e.store.LogTradeClose(ctx, tradeID, trade); serr != nil {
			logger.ErrorWithErr(ctx, "Trade journal close failed", serr, "symbol", pos.Symbol)
		}
	}

	logger.Trade(ctx, pos.Symbol, side, pos.Quantity, price, resp.OrderID,
		"exit_reason", string(reason), "pnl", trade.PnL, "pnl_pct", trade.PnLPct)
	return nil
}

// Restore re-registers a position journaled as open by a previous run
// so exit checks resume on the next poll.
func (e *Executor) Restore(pos types.Position, tradeID int64) error {
	if err := e.risk.RestorePosition(pos); err != nil {
		return err
	}
	e.mu.Lock()
	e.tradeIDs[pos.Symbol] = tradeID
	e.mu.Unlock()
	return nil
}

// CloseAll closes every open position at market. Called on shutdown.
func (e *Executor) CloseAll(ctx context.Context) {
	for _, pos := range e.risk.OpenPositions() {
		price, err := e.broker.LTP(ctx, pos.Symbol)
		if err != nil {
			logger.ErrorWithErr(ctx, "Cannot price position for shutdown close", err, "symbol", pos.Symbol)
			continue
		}
		if err := e.closePosition(ctx, pos, price, types.ExitManual); err != nil {
			logger.ErrorWithErr(ctx, "Shutdown close failed", err, "symbol", pos.Symbol)
		}
	}
}

// Run polls all symbols until the context is cancelled, then drains
// open positions.
func (e *Executor) Run(ctx context.Context) error {
	logger.Info(ctx, "Trading loop started",
		"symbols", len(e.cfg.Symbols), "poll_interval", e.cfg.PollInterval.String())

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for _, symbol := range e.cfg.Symbols {
			if ctx.Err() != nil {
				break
			}
			if _, err := e.Step(ctx, symbol); err != nil {
				logger.ErrorWithErr(ctx, "Step failed", err, "symbol", symbol)
			}
		}
		metrics.UpdateRisk(e.risk.Metrics())

		select {
		case <-ctx.Done():
			logger.Info(ctx, "Trading loop stopping, closing positions")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			e.CloseAll(shutdownCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Executor) logEvent(ctx context.Context, eventType, severity, message string) {
	if err := e.store.LogEvent(ctx, eventType, severity, message); err != nil {
		logger.Debug(ctx, "Event journal write failed", "error", err.Error())
	}
}

func directionOf(signal int) types.Direction {
	switch {
	case signal > 0:
		return types.Long
	case signal < 0:
		return types.Short
	default:
		return types.Hold
	}
}
