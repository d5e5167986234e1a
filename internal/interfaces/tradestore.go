package interfaces

import (
	"context"

	"ml-crypto-trader/internal/types"
)

// TradeStore is the append-only persistence sink. The trading path treats
// it as fire-and-forget: failures are logged by callers, never fatal.
type TradeStore interface {
	LogTradeOpen(ctx context.Context, pos types.Position, mlConfidence, sentimentScore float64, orderID string) (int64, error)
	LogTradeClose(ctx context.Context, tradeID int64, trade types.Trade) error
	LogEvent(ctx context.Context, eventType, severity, message string) error
}
