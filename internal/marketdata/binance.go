package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	"ml-crypto-trader/internal/logger"
	"ml-crypto-trader/internal/trace"
	"ml-crypto-trader/internal/types"
)

const (
	maxFetchRetries = 3

	// maxKlinesPerRequest is the exchange's hard cap on one klines
	// call; larger fetches page backwards through history.
	maxKlinesPerRequest = 1000
)

// pageFetcher issues one klines request ending at endTime (0 means
// latest), newest page last.
type pageFetcher func(ctx context.Context, symbol, interval string, limit int, endTime int64) ([]types.Bar, error)

// Client fetches OHLCV candles from Binance spot. Requests are rate
// limited and retried with exponential backoff on transient failures.
type Client struct {
	api      *binance.Client
	limiter  *rate.Limiter
	enricher *Enricher

	fetchPage pageFetcher
}

func NewClient(apiKey, apiSecret string, ratePerSec int, enricher *Enricher) *Client {
	httpClient := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	api := binance.NewClient(apiKey, apiSecret)
	api.HTTPClient = httpClient

	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	c := &Client{
		api:      api,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		enricher: enricher,
	}
	c.fetchPage = c.binancePage
	return c
}

// FetchBars returns up to limit recent candles for symbol, oldest
// first, validated for strictly increasing timestamps. Limits beyond
// one exchange page are assembled by walking endTime backwards until
// the request is filled or history runs out.
func (c *Client) FetchBars(ctx context.Context, symbol, interval string, limit int) ([]types.Bar, error) {
	ctx, span := trace.StartSpan(ctx, "marketdata.FetchBars")
	defer span.End()

	var pages [][]types.Bar
	var endTime int64
	remaining := limit
	for remaining > 0 {
		pageLimit := remaining
		if pageLimit > maxKlinesPerRequest {
			pageLimit = maxKlinesPerRequest
		}

		page, err := c.fetchPage(ctx, symbol, interval, pageLimit, endTime)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		pages = append(pages, page)
		remaining -= len(page)
		endTime = page[0].Ts - 1
		if len(page) < pageLimit {
			// History exhausted before the request was filled.
			break
		}
	}

	// Pages arrive newest first; flatten back to oldest first.
	bars := make([]types.Bar, 0, limit-remaining)
	for i := len(pages) - 1; i >= 0; i-- {
		bars = append(bars, pages[i]...)
	}

	if err := validateOrdering(bars); err != nil {
		return nil, fmt.Errorf("klines for %s: %w", symbol, err)
	}

	logger.Debug(ctx, "Fetched candles", "symbol", symbol, "interval", interval, "count", len(bars))
	return bars, nil
}

// binancePage fetches one klines page with retries.
func (c *Client) binancePage(ctx context.Context, symbol, interval string, limit int, endTime int64) ([]types.Bar, error) {
	retry := &backoff.Backoff{
		Min:    200 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var klines []*binance.Kline
	var err error
	for attempt := 0; attempt <= maxFetchRetries; attempt++ {
		if err = c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		svc := c.api.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit)
		if endTime > 0 {
			svc = svc.EndTime(endTime)
		}
		klines, err = svc.Do(ctx)
		if err == nil {
			break
		}
		if attempt == maxFetchRetries {
			return nil, fmt.Errorf("fetch klines for %s: %w", symbol, err)
		}

		wait := retry.Duration()
		logger.Warn(ctx, "Kline fetch failed, retrying",
			"symbol", symbol, "attempt", attempt+1, "wait", wait.String(), "error", err.Error())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	bars := make([]types.Bar, 0, len(klines))
	for _, k := range klines {
		bar, perr := parseKline(k)
		if perr != nil {
			return nil, fmt.Errorf("parse kline for %s at %d: %w", symbol, k.OpenTime, perr)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// Enrich computes indicators and training labels for the series.
func (c *Client) Enrich(bars []types.Bar) ([]types.Bar, error) {
	return c.enricher.Enrich(bars)
}

func parseKline(k *binance.Kline) (types.Bar, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return types.Bar{}, fmt.Errorf("open %q: %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return types.Bar{}, fmt.Errorf("high %q: %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return types.Bar{}, fmt.Errorf("low %q: %w", k.Low, err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return types.Bar{}, fmt.Errorf("close %q: %w", k.Close, err)
	}
	vol, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return types.Bar{}, fmt.Errorf("volume %q: %w", k.Volume, err)
	}
	return types.Bar{
		Ts:    k.OpenTime,
		Open:  open,
		High:  high,
		Low:   low,
		Close: closePrice,
		Vol:   vol,
	}, nil
}

func validateOrdering(bars []types.Bar) error {
	for i := 1; i < len(bars); i++ {
		if bars[i].Ts <= bars[i-1].Ts {
			return fmt.Errorf("timestamps not strictly increasing at index %d (%d <= %d)",
				i, bars[i].Ts, bars[i-1].Ts)
		}
	}
	return nil
}
