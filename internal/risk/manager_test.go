package risk

import (
	"context"
	"math"
	"testing"
	"time"

	"ml-crypto-trader/internal/types"
)

func testParams() Params {
	return Params{
		InitialCapital:    10000,
		RiskPerTrade:      0.01,
		MaxPositionSize:   0.1,
		MaxOpenPositions:  3,
		MaxDrawdownPct:    0.15,
		MaxDailyTrades:    10,
		StopLossATRMult:   2.0,
		TakeProfitATRMult: 3.0,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPositionSizeClampsAtMaxPositionSize(t *testing.T) {
	m := NewManager(testParams())

	// Risk 100 over a 2.5% stop distance wants 4000 notional, which the
	// 10% position cap cuts to 1000.
	size, qty := m.PositionSize(40000, 39000)
	if !almostEqual(size, 1000) {
		t.Errorf("size = %f, want 1000", size)
	}
	if !almostEqual(qty, 0.025) {
		t.Errorf("qty = %f, want 0.025", qty)
	}
}

func TestPositionSizeUncapped(t *testing.T) {
	m := NewManager(testParams())

	// 20% stop distance: 100 / 0.2 = 500 notional, below the cap.
	size, qty := m.PositionSize(100, 80)
	if !almostEqual(size, 500) {
		t.Errorf("size = %f, want 500", size)
	}
	if !almostEqual(qty, 5) {
		t.Errorf("qty = %f, want 5", qty)
	}
}

func TestPositionSizeZeroStopDistance(t *testing.T) {
	m := NewManager(testParams())

	size, qty := m.PositionSize(40000, 40000)
	if !almostEqual(size, 100) {
		t.Errorf("size = %f, want 100 (1%% of capital fallback)", size)
	}
	if !almostEqual(qty, 100.0/40000) {
		t.Errorf("qty = %f, want %f", qty, 100.0/40000)
	}
}

func TestKellyFractionClamped(t *testing.T) {
	m := NewManager(testParams())

	// 60% win rate at 2:1 gives full Kelly 0.4, half-Kelly 0.2,
	// clamped to MaxPositionSize.
	if f := m.KellyFraction(0.6, 2.0); !almostEqual(f, 0.1) {
		t.Errorf("KellyFraction(0.6, 2.0) = %f, want 0.1", f)
	}
	// Losing edge floors at 1%.
	if f := m.KellyFraction(0.3, 1.0); !almostEqual(f, 0.01) {
		t.Errorf("KellyFraction(0.3, 1.0) = %f, want 0.01", f)
	}
	// Degenerate ratio floors at 1%.
	if f := m.KellyFraction(0.6, 0); !almostEqual(f, 0.01) {
		t.Errorf("KellyFraction(0.6, 0) = %f, want 0.01", f)
	}
	// An edge inside the clamp range passes through halved.
	if f := m.KellyFraction(0.52, 1.0); !almostEqual(f, 0.02) {
		t.Errorf("KellyFraction(0.52, 1.0) = %f, want 0.02", f)
	}
}

func TestExitLevels(t *testing.T) {
	m := NewManager(testParams())

	stop, target := m.ExitLevels(types.Long, 40000, 500)
	if !almostEqual(stop, 39000) {
		t.Errorf("long stop = %f, want 39000", stop)
	}
	if !almostEqual(target, 41500) {
		t.Errorf("long target = %f, want 41500", target)
	}

	stop, target = m.ExitLevels(types.Short, 40000, 500)
	if !almostEqual(stop, 41000) {
		t.Errorf("short stop = %f, want 41000", stop)
	}
	if !almostEqual(target, 38500) {
		t.Errorf("short target = %f, want 38500", target)
	}
}

func longPosition(symbol string) types.Position {
	return types.Position{
		Symbol:     symbol,
		Direction:  types.Long,
		EntryPrice: 40000,
		Quantity:   0.025,
		Size:       1000,
		StopLoss:   39000,
		TakeProfit: 41500,
		EntryTime:  time.Now(),
	}
}

func TestCloseLongPnL(t *testing.T) {
	m := NewManager(testParams())
	if err := m.AddPosition(longPosition("BTCUSDT")); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}

	trade, err := m.ClosePosition("BTCUSDT", 41000, time.Now(), types.ExitTakeProfit)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if !almostEqual(trade.PnL, 25.0) {
		t.Errorf("PnL = %f, want 25.0", trade.PnL)
	}
	if !almostEqual(trade.PnLPct, 0.025) {
		t.Errorf("PnLPct = %f, want 0.025", trade.PnLPct)
	}
	if !almostEqual(m.Capital(), 10025) {
		t.Errorf("capital = %f, want 10025", m.Capital())
	}
	if !almostEqual(m.PeakCapital(), 10025) {
		t.Errorf("peak = %f, want 10025", m.PeakCapital())
	}
	if _, ok := m.Position("BTCUSDT"); ok {
		t.Error("position still open after close")
	}
}

func TestCloseShortPnL(t *testing.T) {
	m := NewManager(testParams())
	pos := types.Position{
		Symbol:     "ETHUSDT",
		Direction:  types.Short,
		EntryPrice: 3000,
		Quantity:   0.5,
		Size:       1500,
		StopLoss:   3100,
		TakeProfit: 2850,
		EntryTime:  time.Now(),
	}
	if err := m.AddPosition(pos); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}

	trade, err := m.ClosePosition("ETHUSDT", 2900, time.Now(), types.ExitManual)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if !almostEqual(trade.PnL, 50.0) {
		t.Errorf("short PnL = %f, want 50.0", trade.PnL)
	}
}

func TestPeakNeverDecreases(t *testing.T) {
	m := NewManager(testParams())
	if err := m.AddPosition(longPosition("BTCUSDT")); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}
	if _, err := m.ClosePosition("BTCUSDT", 39500, time.Now(), types.ExitStopLoss); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if m.Capital() >= 10000 {
		t.Fatalf("capital = %f, expected a loss", m.Capital())
	}
	if !almostEqual(m.PeakCapital(), 10000) {
		t.Errorf("peak = %f, want 10000 after a losing trade", m.PeakCapital())
	}
	if m.Drawdown() <= 0 {
		t.Errorf("drawdown = %f, want > 0", m.Drawdown())
	}
}

func TestAddPositionValidatesBracketing(t *testing.T) {
	m := NewManager(testParams())

	bad := longPosition("BTCUSDT")
	bad.StopLoss = 40500 // stop above entry on a long
	if err := m.AddPosition(bad); err == nil {
		t.Error("expected error for long with stop above entry")
	}

	badShort := types.Position{
		Symbol:     "ETHUSDT",
		Direction:  types.Short,
		EntryPrice: 3000,
		Quantity:   0.5,
		Size:       1500,
		StopLoss:   2900, // stop below entry on a short
		TakeProfit: 2850,
	}
	if err := m.AddPosition(badShort); err == nil {
		t.Error("expected error for short with stop below entry")
	}

	if err := m.AddPosition(longPosition("BTCUSDT")); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}
	if err := m.AddPosition(longPosition("BTCUSDT")); err == nil {
		t.Error("expected error for duplicate position")
	}
}

func TestRestorePositionSkipsDailyCounter(t *testing.T) {
	m := NewManager(testParams())

	pos := types.Position{
		Symbol: "BTCUSDT", Direction: types.Long,
		EntryPrice: 100, Quantity: 10, Size: 1000,
		StopLoss: 96, TakeProfit: 106, EntryTime: time.Now().Add(-24 * time.Hour),
	}
	if err := m.RestorePosition(pos); err != nil {
		t.Fatalf("RestorePosition: %v", err)
	}

	if got := m.Metrics().DailyTrades; got != 0 {
		t.Errorf("daily trades = %d, want 0 after a restore", got)
	}
	if _, ok := m.Position("BTCUSDT"); !ok {
		t.Error("restored position not registered")
	}
	if err := m.RestorePosition(pos); err == nil {
		t.Error("expected error restoring a duplicate position")
	}

	bad := pos
	bad.Symbol = "ETHUSDT"
	bad.StopLoss, bad.TakeProfit = 106, 96
	if err := m.RestorePosition(bad); err == nil {
		t.Error("expected error for a long whose levels do not bracket the entry")
	}
}

func TestCanOpenMaxOpenPositions(t *testing.T) {
	m := NewManager(testParams())
	for _, sym := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		pos := longPosition(sym)
		if err := m.AddPosition(pos); err != nil {
			t.Fatalf("AddPosition(%s): %v", sym, err)
		}
	}

	ok, reason := m.CanOpen(context.Background())
	if ok {
		t.Fatal("CanOpen = true with 3 open positions, want false")
	}
	if reason != "max_open_positions" {
		t.Errorf("reason = %q, want max_open_positions", reason)
	}
}

func TestCanOpenMaxDrawdown(t *testing.T) {
	m := NewManager(testParams())
	pos := types.Position{
		Symbol:     "BTCUSDT",
		Direction:  types.Long,
		EntryPrice: 100,
		Quantity:   20,
		Size:       2000,
		StopLoss:   90,
		TakeProfit: 130,
	}
	if err := m.AddPosition(pos); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}
	// Close at a loss big enough to push drawdown to 16%.
	if _, err := m.ClosePosition("BTCUSDT", 20, time.Now(), types.ExitManual); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}

	ok, reason := m.CanOpen(context.Background())
	if ok {
		t.Fatal("CanOpen = true at 16% drawdown, want false")
	}
	if reason != "max_drawdown" {
		t.Errorf("reason = %q, want max_drawdown", reason)
	}
}

func TestCanOpenCapitalFloor(t *testing.T) {
	params := testParams()
	params.MaxDrawdownPct = 0.9 // keep the drawdown gate out of the way
	m := NewManager(params)

	pos := types.Position{
		Symbol:     "BTCUSDT",
		Direction:  types.Long,
		EntryPrice: 100,
		Quantity:   75,
		Size:       7500,
		StopLoss:   90,
		TakeProfit: 130,
	}
	if err := m.AddPosition(pos); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}
	// Loss of 6000 drops capital to 4000, below half of initial.
	if _, err := m.ClosePosition("BTCUSDT", 20, time.Now(), types.ExitManual); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}

	ok, reason := m.CanOpen(context.Background())
	if ok {
		t.Fatal("CanOpen = true below the capital floor, want false")
	}
	if reason != "capital_floor" {
		t.Errorf("reason = %q, want capital_floor", reason)
	}
}

func TestDailyTradeLimitResetsAtMidnight(t *testing.T) {
	params := testParams()
	params.MaxDailyTrades = 2
	m := NewManager(params)

	current := time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }
	m.dailyKey = m.dayKey(current)

	for i, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		if err := m.AddPosition(longPosition(sym)); err != nil {
			t.Fatalf("AddPosition %d: %v", i, err)
		}
		if _, err := m.ClosePosition(sym, 41000, current, types.ExitManual); err != nil {
			t.Fatalf("ClosePosition %d: %v", i, err)
		}
	}

	if ok, reason := m.CanOpen(context.Background()); ok || reason != "max_daily_trades" {
		t.Fatalf("CanOpen = %v (%q), want false max_daily_trades", ok, reason)
	}

	// Cross midnight: the counter resets.
	current = time.Date(2024, 6, 2, 0, 5, 0, 0, time.UTC)
	if ok, reason := m.CanOpen(context.Background()); !ok {
		t.Fatalf("CanOpen after midnight = false (%q), want true", reason)
	}
	if m.Metrics().DailyTrades != 0 {
		t.Errorf("daily trades = %d after reset, want 0", m.Metrics().DailyTrades)
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewManager(testParams())
	if err := m.AddPosition(longPosition("BTCUSDT")); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}

	metrics := m.Metrics()
	if metrics.OpenPositions != 1 {
		t.Errorf("open positions = %d, want 1", metrics.OpenPositions)
	}
	if !almostEqual(metrics.TotalExposure, 1000) {
		t.Errorf("exposure = %f, want 1000", metrics.TotalExposure)
	}
	if !almostEqual(metrics.ExposurePct, 10) {
		t.Errorf("exposure pct = %f, want 10", metrics.ExposurePct)
	}
	if metrics.DailyTrades != 1 {
		t.Errorf("daily trades = %d, want 1", metrics.DailyTrades)
	}
}
