package interfaces

import (
	"context"

	"ml-crypto-trader/internal/types"
)

// SentimentSource scores current news sentiment for a symbol.
type SentimentSource interface {
	Score(ctx context.Context, symbol string) (types.NewsSentiment, error)
}
