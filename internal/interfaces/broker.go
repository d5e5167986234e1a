package interfaces

import (
	"context"

	"ml-crypto-trader/internal/types"
)

// Broker is the execution sink. Market orders are mandatory for the trade
// path; stop and limit orders protect an open position and are best-effort —
// the caller decides how to degrade when placement fails.
type Broker interface {
	LTP(ctx context.Context, symbol string) (float64, error)
	SubmitMarketOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error)
	SubmitStopOrder(ctx context.Context, req types.OrderReq, stopPrice float64) (types.OrderResp, error)
	SubmitLimitOrder(ctx context.Context, req types.OrderReq, limitPrice float64) (types.OrderResp, error)
}
