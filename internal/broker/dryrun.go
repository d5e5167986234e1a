package broker

import (
	"context"

	"github.com/google/uuid"

	"ml-crypto-trader/internal/interfaces"
	"ml-crypto-trader/internal/logger"
	"ml-crypto-trader/internal/types"
)

// DryRun acknowledges every order without touching the exchange.
// Prices are still real, served by the wrapped quote source.
type DryRun struct {
	quotes interfaces.Broker
}

func NewDryRun(quotes interfaces.Broker) *DryRun {
	return &DryRun{quotes: quotes}
}

func (d *DryRun) LTP(ctx context.Context, symbol string) (float64, error) {
	return d.quotes.LTP(ctx, symbol)
}

func (d *DryRun) SubmitMarketOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	return d.ack(ctx, req, 0, "MARKET"), nil
}

func (d *DryRun) SubmitStopOrder(ctx context.Context, req types.OrderReq, stopPrice float64) (types.OrderResp, error) {
	return d.ack(ctx, req, stopPrice, "STOP_LOSS_LIMIT"), nil
}

func (d *DryRun) SubmitLimitOrder(ctx context.Context, req types.OrderReq, limitPrice float64) (types.OrderResp, error) {
	return d.ack(ctx, req, limitPrice, "LIMIT"), nil
}

func (d *DryRun) ack(ctx context.Context, req types.OrderReq, price float64, orderType string) types.OrderResp {
	resp := types.OrderResp{
		OrderID: "dry-" + uuid.NewString(),
		Status:  "FILLED",
	}
	logger.Trade(ctx, req.Symbol, req.Side, req.Qty, price, resp.OrderID,
		"order_type", orderType, "tag", req.Tag, "dry_run", true)
	return resp
}
