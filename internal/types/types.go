package types

import "time"

// Direction of a trading signal or an open position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
	Hold  Direction = "HOLD"
)

// Indicators is the fixed per-bar indicator schema. Values are NaN during
// the warm-up prefix of a series and finite everywhere else.
type Indicators struct {
	SMA50      float64
	SMA200     float64
	EMA12      float64
	EMA26      float64
	RSI        float64
	MACD       float64
	MACDSignal float64
	BBUpper    float64
	BBMiddle   float64
	BBLower    float64
	ATR        float64
	VolumeSMA  float64 // volume / SMA(volume, 20)
}

// Bar is one OHLCV candle with indicators and an optional training label.
type Bar struct {
	Ts                          int64 // unix milliseconds
	Open, High, Low, Close, Vol float64
	Ind                         Indicators
	Label                       int  // -1 down, 0 flat, +1 up
	Labeled                     bool // false for the unlabeled tail of a series
}

// Time returns the bar timestamp as time.Time.
func (b Bar) Time() time.Time { return time.UnixMilli(b.Ts) }

// Prediction is a single model's view of the next move.
type Prediction struct {
	Signal     int     // -1 sell, 0 hold, +1 buy
	Confidence float64 // [0, 1]
}

// SourceSignal is one ensemble source's contribution to a decision.
type SourceSignal struct {
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
}

// Signal is a fused trading decision. Produced fresh at every decision
// point, never stored as mutable state.
type Signal struct {
	Direction  Direction               `json:"direction"`
	Confidence float64                 `json:"confidence"`
	Sources    map[string]SourceSignal `json:"sources,omitempty"`
}

// Position is an open trade. At most one per symbol.
type Position struct {
	Symbol     string
	Direction  Direction
	EntryPrice float64
	Quantity   float64
	Size       float64 // notional, EntryPrice * Quantity
	StopLoss   float64
	TakeProfit float64
	EntryTime  time.Time
}

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitPeriodEnd  ExitReason = "period_end"
	ExitManual     ExitReason = "manual"
)

// Trade is a closed position. Created once, at close, immutable after.
type Trade struct {
	Position
	ExitPrice  float64
	ExitTime   time.Time
	ExitReason ExitReason
	PnL        float64
	PnLPct     float64
}

// RiskMetrics is a read-only snapshot of the risk ledger.
type RiskMetrics struct {
	CurrentCapital float64 `json:"current_capital"`
	PeakCapital    float64 `json:"peak_capital"`
	Drawdown       float64 `json:"drawdown"` // fraction, 0.15 = 15%
	DrawdownPct    float64 `json:"drawdown_pct"`
	OpenPositions  int     `json:"open_positions"`
	TotalExposure  float64 `json:"total_exposure"`
	ExposurePct    float64 `json:"exposure_pct"`
	DailyTrades    int     `json:"daily_trades"`
	ProfitLoss     float64 `json:"profit_loss"`
	ReturnPct      float64 `json:"return_pct"`
}

// PeriodResult holds the outcome of one walk-forward window.
type PeriodResult struct {
	PeriodID      int     `json:"period_id"`
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`     // percent
	TotalReturn   float64 `json:"total_return"` // percent
	FinalCapital  float64 `json:"final_capital"`
	PeakCapital   float64 `json:"peak_capital"`
	MaxDrawdown   float64 `json:"max_drawdown"` // percent
	SharpeRatio   float64 `json:"sharpe_ratio"`
	ProfitFactor  float64 `json:"profit_factor"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	Trades        []Trade `json:"-"`
}

// BacktestSummary aggregates all walk-forward periods. Period returns are
// compounded into TotalReturn; the ratio metrics are arithmetic means.
type BacktestSummary struct {
	Periods         int            `json:"periods"`
	TotalTrades     int            `json:"total_trades"`
	WinningTrades   int            `json:"winning_trades"`
	LosingTrades    int            `json:"losing_trades"`
	WinRate         float64        `json:"win_rate"`
	TotalReturn     float64        `json:"total_return"`
	FinalCapital    float64        `json:"final_capital"`
	AvgPeriodReturn float64        `json:"avg_period_return"`
	AvgMaxDrawdown  float64        `json:"avg_max_drawdown"`
	AvgSharpeRatio  float64        `json:"avg_sharpe_ratio"`
	AvgProfitFactor float64        `json:"avg_profit_factor"`
	PeriodResults   []PeriodResult `json:"-"`
	EquityCurve     []float64      `json:"-"`
}

// OrderReq is a request against the execution sink.
type OrderReq struct {
	Symbol, Side string
	Qty          float64
	Tag          string
}

// OrderResp is the sink's acknowledgement.
type OrderResp struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// NewsSentiment is an aggregated sentiment reading for a symbol.
type NewsSentiment struct {
	Symbol       string  `json:"symbol"`
	Score        float64 `json:"score"` // [-1, 1]
	Label        string  `json:"label"` // POSITIVE, NEGATIVE, NEUTRAL
	Confidence   float64 `json:"confidence"`
	ArticleCount int     `json:"article_count"`
	Timestamp    int64   `json:"timestamp"`
}

// NewsArticle is a scraped headline plus optional body text.
type NewsArticle struct {
	Source      string
	Title       string
	URL         string
	Content     string
	PublishedAt string
}

// StepResult summarizes one executor iteration for a symbol.
type StepResult struct {
	Symbol string      `json:"symbol"`
	Signal Signal      `json:"signal"`
	Price  float64     `json:"price"`
	Time   int64       `json:"time"`
	Orders []OrderResp `json:"orders"`
	Reason string      `json:"reason"`
}
