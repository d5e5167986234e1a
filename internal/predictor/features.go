package predictor

import (
	"math"

	"ml-crypto-trader/internal/types"
)

// numFeatures is the width of the per-bar feature vector fed to models.
const numFeatures = 8

// featureVector flattens a bar's indicators into a model input. Every
// feature is scale-free so models transfer across price regimes.
func featureVector(bar types.Bar) [numFeatures]float64 {
	ind := bar.Ind
	var trendFast, trendSlow, bbPos, atrPct, macdDelta, emaDelta float64
	if ind.SMA50 != 0 {
		trendFast = bar.Close/ind.SMA50 - 1
	}
	if ind.SMA200 != 0 {
		trendSlow = bar.Close/ind.SMA200 - 1
	}
	if width := ind.BBUpper - ind.BBLower; width != 0 {
		bbPos = (bar.Close - ind.BBLower) / width
	}
	if bar.Close != 0 {
		atrPct = ind.ATR / bar.Close
		macdDelta = (ind.MACD - ind.MACDSignal) / bar.Close
		emaDelta = (ind.EMA12 - ind.EMA26) / bar.Close
	}
	return [numFeatures]float64{
		ind.RSI / 100,
		trendFast,
		trendSlow,
		bbPos,
		atrPct,
		macdDelta,
		emaDelta,
		ind.VolumeSMA,
	}
}

// usableBar reports whether a bar has finite indicator values. Bars in
// the indicator warm-up prefix carry NaNs and are skipped.
func usableBar(bar types.Bar) bool {
	fv := featureVector(bar)
	for _, v := range fv {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
