package interfaces

import (
	"context"

	"ml-crypto-trader/internal/types"
)

// MarketData fetches ordered OHLCV bars and enriches them with the fixed
// indicator schema plus the ternary training label.
type MarketData interface {
	FetchBars(ctx context.Context, symbol, interval string, limit int) ([]types.Bar, error)
	Enrich(bars []types.Bar) ([]types.Bar, error)
}
