package marketdata

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"ml-crypto-trader/internal/types"
)

// EnrichParams control indicator windows and labeling.
type EnrichParams struct {
	FastSMA        int
	SlowSMA        int
	RSIPeriod      int
	ATRPeriod      int
	BBWindow       int
	LabelHorizon   int
	LabelThreshold float64
}

func DefaultEnrichParams() EnrichParams {
	return EnrichParams{
		FastSMA:        50,
		SlowSMA:        200,
		RSIPeriod:      14,
		ATRPeriod:      14,
		BBWindow:       20,
		LabelHorizon:   5,
		LabelThreshold: 0.001,
	}
}

const (
	macdFast     = 12
	macdSlow     = 26
	macdSignal   = 9
	volumeSMALen = 20
	bbStdDev     = 2.0
)

// Enricher computes the indicator schema and forward-return labels for
// a candle series.
type Enricher struct {
	params EnrichParams
}

func NewEnricher(params EnrichParams) *Enricher {
	return &Enricher{params: params}
}

// Enrich returns a copy of bars with indicators attached and the
// labeled prefix marked. Indicator values inside each indicator's
// warm-up window are NaN. The last LabelHorizon bars stay unlabeled
// because their forward return is unknown.
func (e *Enricher) Enrich(bars []types.Bar) ([]types.Bar, error) {
	n := len(bars)
	if n < e.params.SlowSMA {
		return nil, fmt.Errorf("need at least %d bars to compute indicators, got %d", e.params.SlowSMA, n)
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	vols := make([]float64, n)
	for i, bar := range bars {
		closes[i] = bar.Close
		highs[i] = bar.High
		lows[i] = bar.Low
		vols[i] = bar.Vol
	}

	smaFast := talib.Sma(closes, e.params.FastSMA)
	smaSlow := talib.Sma(closes, e.params.SlowSMA)
	ema12 := talib.Ema(closes, macdFast)
	ema26 := talib.Ema(closes, macdSlow)
	rsi := talib.Rsi(closes, e.params.RSIPeriod)
	macd, macdSig, _ := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	bbUpper, bbMiddle, bbLower := talib.BBands(closes, e.params.BBWindow, bbStdDev, bbStdDev, talib.SMA)
	atr := talib.Atr(highs, lows, closes, e.params.ATRPeriod)
	volSMA := talib.Sma(vols, volumeSMALen)

	out := make([]types.Bar, n)
	copy(out, bars)
	for i := range out {
		ind := &out[i].Ind
		ind.SMA50 = warmNaN(smaFast, i, e.params.FastSMA-1)
		ind.SMA200 = warmNaN(smaSlow, i, e.params.SlowSMA-1)
		ind.EMA12 = warmNaN(ema12, i, macdFast-1)
		ind.EMA26 = warmNaN(ema26, i, macdSlow-1)
		ind.RSI = warmNaN(rsi, i, e.params.RSIPeriod)
		ind.MACD = warmNaN(macd, i, macdSlow-1)
		ind.MACDSignal = warmNaN(macdSig, i, macdSlow+macdSignal-2)
		ind.BBUpper = warmNaN(bbUpper, i, e.params.BBWindow-1)
		ind.BBMiddle = warmNaN(bbMiddle, i, e.params.BBWindow-1)
		ind.BBLower = warmNaN(bbLower, i, e.params.BBWindow-1)
		ind.ATR = warmNaN(atr, i, e.params.ATRPeriod)
		if i >= volumeSMALen-1 && volSMA[i] != 0 {
			ind.VolumeSMA = vols[i] / volSMA[i]
		} else {
			ind.VolumeSMA = math.NaN()
		}
	}

	h := e.params.LabelHorizon
	for i := 0; i < n; i++ {
		if i+h >= n || closes[i] == 0 {
			out[i].Label = 0
			out[i].Labeled = false
			continue
		}
		futureReturn := closes[i+h]/closes[i] - 1
		switch {
		case futureReturn > e.params.LabelThreshold:
			out[i].Label = 1
		case futureReturn < -e.params.LabelThreshold:
			out[i].Label = -1
		default:
			out[i].Label = 0
		}
		out[i].Labeled = true
	}
	return out, nil
}

// warmNaN maps an indicator's zero-filled warm-up prefix to NaN.
func warmNaN(values []float64, i, warmup int) float64 {
	if i < warmup {
		return math.NaN()
	}
	return values[i]
}
