package tradestore

import (
	"context"

	"ml-crypto-trader/internal/types"
)

// Nop discards everything. Used when no database is configured.
type Nop struct{}

func (Nop) LogTradeOpen(ctx context.Context, pos types.Position, mlConfidence, sentimentScore float64, orderID string) (int64, error) {
	return 0, nil
}

func (Nop) LogTradeClose(ctx context.Context, tradeID int64, trade types.Trade) error {
	return nil
}

func (Nop) LogEvent(ctx context.Context, eventType, severity, message string) error {
	return nil
}
