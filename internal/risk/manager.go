package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"ml-crypto-trader/internal/logger"
	"ml-crypto-trader/internal/types"
)

// Params are the fixed limits the manager enforces. Fractions are in
// [0, 1]: RiskPerTrade 0.01 risks 1% of current capital per trade.
type Params struct {
	InitialCapital    float64
	RiskPerTrade      float64
	MaxPositionSize   float64
	MaxOpenPositions  int
	MaxDrawdownPct    float64
	MaxDailyTrades    int
	StopLossATRMult   float64
	TakeProfitATRMult float64
	Location          *time.Location
}

// Manager is the single mutable risk ledger: capital, peak, open
// positions and the daily trade counter. All methods are safe for
// concurrent use.
type Manager struct {
	mu sync.Mutex

	params Params

	capital     float64
	peakCapital float64
	positions   map[string]types.Position
	closed      []types.Trade

	dailyTrades int
	dailyKey    string

	now func() time.Time
}

func NewManager(params Params) *Manager {
	if params.Location == nil {
		params.Location = time.UTC
	}
	m := &Manager{
		params:      params,
		capital:     params.InitialCapital,
		peakCapital: params.InitialCapital,
		positions:   make(map[string]types.Position),
		now:         time.Now,
	}
	m.dailyKey = m.dayKey(m.now())
	return m
}

func (m *Manager) dayKey(t time.Time) string {
	return t.In(m.params.Location).Format("2006-01-02")
}

// rollDay resets the daily trade counter when the calendar day changes.
// Caller must hold the lock.
func (m *Manager) rollDay() {
	key := m.dayKey(m.now())
	if key != m.dailyKey {
		m.dailyKey = key
		m.dailyTrades = 0
	}
}

// SetClock replaces the time source. Backtests pin it to bar time so
// daily limits roll with historical days instead of wall clock.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Debit charges a trading cost against capital. The peak is left
// untouched so costs always count toward drawdown.
func (m *Manager) Debit(amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capital -= amount
}

// PositionSize returns the notional size and quantity for a trade with
// the given entry and stop. Sizing is fixed-fractional: the distance to
// the stop determines how much notional a fixed capital risk buys. A
// degenerate zero-distance stop falls back to 1% of capital.
func (m *Manager) PositionSize(entryPrice, stopLoss float64) (size, qty float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	riskAmount := m.capital * m.params.RiskPerTrade
	priceRisk := math.Abs(entryPrice - stopLoss)

	if priceRisk == 0 {
		size = m.capital * 0.01
	} else {
		size = riskAmount / (priceRisk / entryPrice)
	}

	maxSize := m.capital * m.params.MaxPositionSize
	if size > maxSize {
		size = maxSize
	}
	return size, size / entryPrice
}

// KellyFraction returns the half-Kelly position fraction for the given
// win rate and win/loss ratio, clamped to [0.01, MaxPositionSize].
func (m *Manager) KellyFraction(winRate, winLossRatio float64) float64 {
	if winLossRatio <= 0 {
		return 0.01
	}
	f := (winRate - (1-winRate)/winLossRatio) / 2
	if f < 0.01 {
		return 0.01
	}
	if f > m.params.MaxPositionSize {
		return m.params.MaxPositionSize
	}
	return f
}

// ExitLevels computes the ATR-scaled stop loss and take profit for an
// entry in the given direction.
func (m *Manager) ExitLevels(direction types.Direction, entryPrice, atr float64) (stopLoss, takeProfit float64) {
	if direction == types.Short {
		return entryPrice + atr*m.params.StopLossATRMult,
			entryPrice - atr*m.params.TakeProfitATRMult
	}
	return entryPrice - atr*m.params.StopLossATRMult,
		entryPrice + atr*m.params.TakeProfitATRMult
}

// CanOpen reports whether a new position may be opened right now. When
// it cannot, the returned reason names the violated limit.
func (m *Manager) CanOpen(ctx context.Context) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDay()

	if dd := m.drawdown(); dd >= m.params.MaxDrawdownPct {
		logger.Risk(ctx, "", "max_drawdown",
			"drawdown", dd, "limit", m.params.MaxDrawdownPct)
		return false, "max_drawdown"
	}
	if len(m.positions) >= m.params.MaxOpenPositions {
		return false, "max_open_positions"
	}
	if m.dailyTrades >= m.params.MaxDailyTrades {
		return false, "max_daily_trades"
	}
	if m.capital < m.params.InitialCapital*0.5 {
		logger.Risk(ctx, "", "capital_floor",
			"capital", m.capital, "initial", m.params.InitialCapital)
		return false, "capital_floor"
	}
	return true, ""
}

func validateBracket(pos types.Position) error {
	if pos.Direction != types.Long && pos.Direction != types.Short {
		return fmt.Errorf("position direction must be LONG or SHORT, got %s", pos.Direction)
	}
	if pos.Direction == types.Long {
		if !(pos.StopLoss < pos.EntryPrice && pos.EntryPrice < pos.TakeProfit) {
			return fmt.Errorf("long %s: stop %.4f and target %.4f must bracket entry %.4f",
				pos.Symbol, pos.StopLoss, pos.TakeProfit, pos.EntryPrice)
		}
		return nil
	}
	if !(pos.TakeProfit < pos.EntryPrice && pos.EntryPrice < pos.StopLoss) {
		return fmt.Errorf("short %s: target %.4f and stop %.4f must bracket entry %.4f",
			pos.Symbol, pos.TakeProfit, pos.StopLoss, pos.EntryPrice)
	}
	return nil
}

// AddPosition registers a newly opened position and counts it against
// the daily limit. The stop and target must bracket the entry on the
// correct sides for the direction.
func (m *Manager) AddPosition(pos types.Position) error {
	if err := validateBracket(pos); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDay()

	if _, exists := m.positions[pos.Symbol]; exists {
		return fmt.Errorf("position already open for %s", pos.Symbol)
	}
	m.positions[pos.Symbol] = pos
	m.dailyTrades++
	return nil
}

// RestorePosition re-registers a position carried over from an earlier
// run. The daily counter is left alone: the entry was already counted
// on the day it was opened.
func (m *Manager) RestorePosition(pos types.Position) error {
	if err := validateBracket(pos); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.positions[pos.Symbol]; exists {
		return fmt.Errorf("position already open for %s", pos.Symbol)
	}
	m.positions[pos.Symbol] = pos
	return nil
}

// ClosePosition closes the open position for symbol at exitPrice,
// realizes the PnL into capital and returns the immutable trade record.
func (m *Manager) ClosePosition(symbol string, exitPrice float64, exitTime time.Time, reason types.ExitReason) (types.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok {
		return types.Trade{}, fmt.Errorf("no open position for %s", symbol)
	}

	var pnl float64
	if pos.Direction == types.Long {
		pnl = (exitPrice - pos.EntryPrice) * pos.Quantity
	} else {
		pnl = (pos.EntryPrice - exitPrice) * pos.Quantity
	}

	trade := types.Trade{
		Position:   pos,
		ExitPrice:  exitPrice,
		ExitTime:   exitTime,
		ExitReason: reason,
		PnL:        pnl,
	}
	if pos.Size != 0 {
		trade.PnLPct = pnl / pos.Size
	}

	m.capital += pnl
	if m.capital > m.peakCapital {
		m.peakCapital = m.capital
	}
	delete(m.positions, symbol)
	m.closed = append(m.closed, trade)
	return trade, nil
}

// Position returns the open position for symbol, if any.
func (m *Manager) Position(symbol string) (types.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	return pos, ok
}

// OpenPositions returns a copy of all open positions.
func (m *Manager) OpenPositions() []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	return out
}

// ClosedTrades returns a copy of all trades closed so far.
func (m *Manager) ClosedTrades() []types.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Trade, len(m.closed))
	copy(out, m.closed)
	return out
}

// Capital returns current capital.
func (m *Manager) Capital() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capital
}

// PeakCapital returns the high-water mark. It never decreases.
func (m *Manager) PeakCapital() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakCapital
}

// Drawdown returns the current drawdown fraction from the peak.
func (m *Manager) Drawdown() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drawdown()
}

func (m *Manager) drawdown() float64 {
	if m.peakCapital == 0 {
		return 0
	}
	return (m.peakCapital - m.capital) / m.peakCapital
}

// Metrics returns a snapshot of the risk ledger.
func (m *Manager) Metrics() types.RiskMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDay()

	var exposure float64
	for _, pos := range m.positions {
		exposure += pos.Size
	}

	metrics := types.RiskMetrics{
		CurrentCapital: m.capital,
		PeakCapital:    m.peakCapital,
		Drawdown:       m.drawdown(),
		DrawdownPct:    m.drawdown() * 100,
		OpenPositions:  len(m.positions),
		TotalExposure:  exposure,
		DailyTrades:    m.dailyTrades,
		ProfitLoss:     m.capital - m.params.InitialCapital,
	}
	if m.capital > 0 {
		metrics.ExposurePct = exposure / m.capital * 100
	}
	if m.params.InitialCapital > 0 {
		metrics.ReturnPct = (m.capital - m.params.InitialCapital) / m.params.InitialCapital * 100
	}
	return metrics
}
