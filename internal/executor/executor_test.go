package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ml-crypto-trader/internal/ensemble"
	"ml-crypto-trader/internal/interfaces"
	"ml-crypto-trader/internal/predictor"
	"ml-crypto-trader/internal/risk"
	"ml-crypto-trader/internal/types"
)

type fakeBroker struct {
	price    float64
	orders   []types.OrderReq
	failStop bool
}

func (b *fakeBroker) LTP(ctx context.Context, symbol string) (float64, error) {
	return b.price, nil
}

func (b *fakeBroker) SubmitMarketOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	b.orders = append(b.orders, req)
	return types.OrderResp{OrderID: "m1", Status: "FILLED"}, nil
}

func (b *fakeBroker) SubmitStopOrder(ctx context.Context, req types.OrderReq, stopPrice float64) (types.OrderResp, error) {
	if b.failStop {
		return types.OrderResp{}, errors.New("stop rejected")
	}
	b.orders = append(b.orders, req)
	return types.OrderResp{OrderID: "s1", Status: "NEW"}, nil
}

func (b *fakeBroker) SubmitLimitOrder(ctx context.Context, req types.OrderReq, limitPrice float64) (types.OrderResp, error) {
	b.orders = append(b.orders, req)
	return types.OrderResp{OrderID: "l1", Status: "NEW"}, nil
}

type fakeMarket struct {
	bars []types.Bar
}

func (m *fakeMarket) FetchBars(ctx context.Context, symbol, interval string, limit int) ([]types.Bar, error) {
	return m.bars, nil
}

func (m *fakeMarket) Enrich(bars []types.Bar) ([]types.Bar, error) {
	return bars, nil
}

type fakePredictor struct {
	pred types.Prediction
	err  error
}

func (p *fakePredictor) Train(ctx context.Context, bars []types.Bar) error { return nil }

func (p *fakePredictor) Predict(ctx context.Context, bar types.Bar) (types.Prediction, error) {
	return p.pred, p.err
}

type fakeSentiment struct {
	reading types.NewsSentiment
}

func (s *fakeSentiment) Score(ctx context.Context, symbol string) (types.NewsSentiment, error) {
	return s.reading, nil
}

type memStore struct {
	opens     int
	closes    int
	closedIDs []int64
	events    []string
}

func (s *memStore) LogTradeOpen(ctx context.Context, pos types.Position, mlConfidence, sentimentScore float64, orderID string) (int64, error) {
	s.opens++
	return int64(s.opens), nil
}

func (s *memStore) LogTradeClose(ctx context.Context, tradeID int64, trade types.Trade) error {
	s.closes++
	s.closedIDs = append(s.closedIDs, tradeID)
	return nil
}

func (s *memStore) LogEvent(ctx context.Context, eventType, severity, message string) error {
	s.events = append(s.events, eventType)
	return nil
}

func enrichedBar() types.Bar {
	return types.Bar{
		Ts: 1, Open: 100, High: 101, Low: 99, Close: 100, Vol: 1000,
		Ind: types.Indicators{
			SMA50: 100, SMA200: 100, EMA12: 100, EMA26: 100,
			RSI: 50, MACD: 0, MACDSignal: 0,
			BBUpper: 102, BBMiddle: 100, BBLower: 98,
			ATR: 2, VolumeSMA: 1,
		},
	}
}

func testExecutor(t *testing.T, broker *fakeBroker, pred types.Prediction, sentimentScore float64) (*Executor, *risk.Manager, *memStore) {
	t.Helper()

	combiner, err := ensemble.NewCombiner(map[string]float64{"forest": 2, "sentiment": 1}, 0.3)
	if err != nil {
		t.Fatalf("NewCombiner: %v", err)
	}
	riskMgr := risk.NewManager(risk.Params{
		InitialCapital:    10000,
		RiskPerTrade:      0.01,
		MaxPositionSize:   0.1,
		MaxOpenPositions:  3,
		MaxDrawdownPct:    0.15,
		MaxDailyTrades:    10,
		StopLossATRMult:   2,
		TakeProfitATRMult: 3,
	})
	store := &memStore{}
	sentiment := predictor.NewSentimentAdapter(&fakeSentiment{reading: types.NewsSentiment{
		Symbol: "BTCUSDT", Score: sentimentScore, Confidence: 0.8, Label: "POSITIVE",
	}})

	e := New(
		Config{
			Symbols:               []string{"BTCUSDT"},
			Interval:              "1h",
			KlineLimit:            500,
			PollInterval:          time.Minute,
			MLConfidenceThreshold: 0.5,
			SentimentThreshold:    -0.3,
		},
		&fakeMarket{bars: []types.Bar{enrichedBar()}},
		map[string]interfaces.Predictor{"forest": &fakePredictor{pred: pred}},
		sentiment,
		combiner,
		riskMgr,
		broker,
		store,
	)
	return e, riskMgr, store
}

func TestStepOpensPosition(t *testing.T) {
	broker := &fakeBroker{price: 100}
	e, riskMgr, store := testExecutor(t, broker, types.Prediction{Signal: 1, Confidence: 0.9}, 0.5)

	result, err := e.Step(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if result.Signal.Direction != types.Long {
		t.Errorf("signal = %s, want LONG", result.Signal.Direction)
	}
	if !strings.HasPrefix(result.Reason, "opened") {
		t.Errorf("reason = %q, want opened", result.Reason)
	}
	if len(result.Orders) != 3 {
		t.Errorf("orders = %d, want entry + stop + take profit", len(result.Orders))
	}

	pos, ok := riskMgr.Position("BTCUSDT")
	if !ok {
		t.Fatal("no position registered")
	}
	if pos.Direction != types.Long {
		t.Errorf("position direction = %s, want LONG", pos.Direction)
	}
	if pos.StopLoss >= pos.EntryPrice || pos.TakeProfit <= pos.EntryPrice {
		t.Errorf("exit levels %f/%f do not bracket entry %f", pos.StopLoss, pos.TakeProfit, pos.EntryPrice)
	}
	if store.opens != 1 {
		t.Errorf("journal opens = %d, want 1", store.opens)
	}
}

func TestStepRejectsLowConfidence(t *testing.T) {
	broker := &fakeBroker{price: 100}
	e, riskMgr, _ := testExecutor(t, broker, types.Prediction{Signal: 1, Confidence: 0.4}, 0.0)

	result, err := e.Step(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if _, ok := riskMgr.Position("BTCUSDT"); ok {
		t.Error("position opened despite low confidence")
	}
	if len(broker.orders) != 0 {
		t.Errorf("orders submitted = %d, want 0", len(broker.orders))
	}
	if result.Reason == "" {
		t.Error("expected a rejection reason")
	}
}

func TestStepRejectsNegativeSentiment(t *testing.T) {
	broker := &fakeBroker{price: 100}
	e, riskMgr, _ := testExecutor(t, broker, types.Prediction{Signal: 1, Confidence: 0.9}, -0.8)

	result, err := e.Step(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if _, ok := riskMgr.Position("BTCUSDT"); ok {
		t.Error("position opened despite negative sentiment gate")
	}
	if !strings.Contains(result.Reason, "sentiment") {
		t.Errorf("reason = %q, want sentiment rejection", result.Reason)
	}
}

func TestStepSurvivesProtectiveOrderFailure(t *testing.T) {
	broker := &fakeBroker{price: 100, failStop: true}
	e, riskMgr, store := testExecutor(t, broker, types.Prediction{Signal: 1, Confidence: 0.9}, 0.5)

	result, err := e.Step(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if _, ok := riskMgr.Position("BTCUSDT"); !ok {
		t.Fatal("position not held after stop order failure")
	}
	if len(result.Orders) != 2 {
		t.Errorf("orders = %d, want entry + take profit only", len(result.Orders))
	}
	found := false
	for _, event := range store.events {
		if event == "protective_order_failed" {
			found = true
		}
	}
	if !found {
		t.Error("protective order failure not journaled")
	}
}

func TestStepClosesOnStopHit(t *testing.T) {
	broker := &fakeBroker{price: 100}
	e, riskMgr, store := testExecutor(t, broker, types.Prediction{Signal: 1, Confidence: 0.9}, 0.5)

	if _, err := e.Step(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("opening step: %v", err)
	}
	pos, _ := riskMgr.Position("BTCUSDT")

	// Price gaps through the stop.
	broker.price = pos.StopLoss - 1
	result, err := e.Step(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("closing step: %v", err)
	}
	if !strings.Contains(result.Reason, string(types.ExitStopLoss)) {
		t.Errorf("reason = %q, want stop_loss close", result.Reason)
	}
	if _, ok := riskMgr.Position("BTCUSDT"); ok {
		t.Error("position still open after stop hit")
	}
	if store.closes != 1 {
		t.Errorf("journal closes = %d, want 1", store.closes)
	}
	if riskMgr.Capital() >= 10000 {
		t.Errorf("capital = %f, want a realized loss", riskMgr.Capital())
	}
}

func TestExitHitOrdering(t *testing.T) {
	long := types.Position{Direction: types.Long, StopLoss: 95, TakeProfit: 110}
	if reason, hit := exitHit(long, 94); !hit || reason != types.ExitStopLoss {
		t.Errorf("long below stop: %v %v", reason, hit)
	}
	if reason, hit := exitHit(long, 111); !hit || reason != types.ExitTakeProfit {
		t.Errorf("long above target: %v %v", reason, hit)
	}
	if _, hit := exitHit(long, 100); hit {
		t.Error("long inside band should not exit")
	}

	short := types.Position{Direction: types.Short, StopLoss: 105, TakeProfit: 90}
	if reason, hit := exitHit(short, 106); !hit || reason != types.ExitStopLoss {
		t.Errorf("short above stop: %v %v", reason, hit)
	}
	if reason, hit := exitHit(short, 89); !hit || reason != types.ExitTakeProfit {
		t.Errorf("short below target: %v %v", reason, hit)
	}
}

func TestCloseAllDrainsPositions(t *testing.T) {
	broker := &fakeBroker{price: 100}
	e, riskMgr, _ := testExecutor(t, broker, types.Prediction{Signal: 1, Confidence: 0.9}, 0.5)

	if _, err := e.Step(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("Step: %v", err)
	}
	e.CloseAll(context.Background())

	if got := len(riskMgr.OpenPositions()); got != 0 {
		t.Errorf("open positions after CloseAll = %d, want 0", got)
	}
	trades := riskMgr.ClosedTrades()
	if len(trades) != 1 || trades[0].ExitReason != types.ExitManual {
		t.Errorf("closed trades = %+v, want one manual close", trades)
	}
}

func TestRestoreResumesExitEnforcement(t *testing.T) {
	broker := &fakeBroker{price: 95}
	e, riskMgr, store := testExecutor(t, broker, types.Prediction{Signal: 0, Confidence: 0.9}, 0.5)

	// A position journaled as open by a previous run, already through
	// its stop at the current price.
	pos := types.Position{
		Symbol:     "BTCUSDT",
		Direction:  types.Long,
		EntryPrice: 100,
		Quantity:   10,
		Size:       1000,
		StopLoss:   96,
		TakeProfit: 106,
		EntryTime:  time.Now().Add(-2 * time.Hour),
	}
	if err := e.Restore(pos, 7); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	result, err := e.Step(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !strings.Contains(result.Reason, string(types.ExitStopLoss)) {
		t.Errorf("reason = %q, want stop_loss close of the restored position", result.Reason)
	}
	if _, ok := riskMgr.Position("BTCUSDT"); ok {
		t.Error("restored position still open after stop hit")
	}
	if len(store.closedIDs) != 1 || store.closedIDs[0] != 7 {
		t.Errorf("journal closed ids = %v, want the restored row 7", store.closedIDs)
	}
}

func TestStepRejectsWhilePositionOpen(t *testing.T) {
	broker := &fakeBroker{price: 100}
	e, _, _ := testExecutor(t, broker, types.Prediction{Signal: 1, Confidence: 0.9}, 0.5)

	if _, err := e.Step(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("first step: %v", err)
	}
	ordersBefore := len(broker.orders)

	result, err := e.Step(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("second step: %v", err)
	}
	if len(broker.orders) != ordersBefore {
		t.Error("second step submitted new orders with a position open")
	}
	if !strings.Contains(result.Reason, "position") {
		t.Errorf("reason = %q, want position-already-open", result.Reason)
	}
}
