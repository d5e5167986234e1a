package broker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2"

	"ml-crypto-trader/internal/logger"
	"ml-crypto-trader/internal/trace"
	"ml-crypto-trader/internal/types"
)

// Binance submits real spot orders.
type Binance struct {
	api *binance.Client
}

func NewBinance(apiKey, apiSecret string, testnet bool) *Binance {
	binance.UseTestnet = testnet
	return &Binance{api: binance.NewClient(apiKey, apiSecret)}
}

// LTP returns the last traded price for symbol.
func (b *Binance) LTP(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch price for %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price returned for %s", symbol)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q for %s: %w", prices[0].Price, symbol, err)
	}
	return price, nil
}

func (b *Binance) SubmitMarketOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	ctx, span := trace.StartSpan(ctx, "broker.SubmitMarketOrder")
	defer span.End()

	resp, err := b.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(sideType(req.Side)).
		Type(binance.OrderTypeMarket).
		Quantity(formatQty(req.Qty)).
		Do(ctx)
	if err != nil {
		return types.OrderResp{}, fmt.Errorf("market order %s %s: %w", req.Side, req.Symbol, err)
	}

	out := types.OrderResp{
		OrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:  string(resp.Status),
	}
	logger.Trade(ctx, req.Symbol, req.Side, req.Qty, 0, out.OrderID, "order_type", "MARKET", "tag", req.Tag)
	return out, nil
}

func (b *Binance) SubmitStopOrder(ctx context.Context, req types.OrderReq, stopPrice float64) (types.OrderResp, error) {
	ctx, span := trace.StartSpan(ctx, "broker.SubmitStopOrder")
	defer span.End()

	resp, err := b.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(sideType(req.Side)).
		Type(binance.OrderTypeStopLossLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(formatQty(req.Qty)).
		StopPrice(formatPrice(stopPrice)).
		Price(formatPrice(stopPrice)).
		Do(ctx)
	if err != nil {
		return types.OrderResp{}, fmt.Errorf("stop order %s %s @ %.4f: %w", req.Side, req.Symbol, stopPrice, err)
	}

	out := types.OrderResp{
		OrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:  string(resp.Status),
	}
	logger.Trade(ctx, req.Symbol, req.Side, req.Qty, stopPrice, out.OrderID, "order_type", "STOP_LOSS_LIMIT", "tag", req.Tag)
	return out, nil
}

func (b *Binance) SubmitLimitOrder(ctx context.Context, req types.OrderReq, limitPrice float64) (types.OrderResp, error) {
	ctx, span := trace.StartSpan(ctx, "broker.SubmitLimitOrder")
	defer span.End()

	resp, err := b.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(sideType(req.Side)).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(formatQty(req.Qty)).
		Price(formatPrice(limitPrice)).
		Do(ctx)
	if err != nil {
		return types.OrderResp{}, fmt.Errorf("limit order %s %s @ %.4f: %w", req.Side, req.Symbol, limitPrice, err)
	}

	out := types.OrderResp{
		OrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:  string(resp.Status),
	}
	logger.Trade(ctx, req.Symbol, req.Side, req.Qty, limitPrice, out.OrderID, "order_type", "LIMIT", "tag", req.Tag)
	return out, nil
}

func sideType(side string) binance.SideType {
	if side == "SELL" {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func formatQty(qty float64) string {
	return strconv.FormatFloat(qty, 'f', 6, 64)
}

func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', 2, 64)
}
