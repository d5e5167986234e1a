package backtest

import (
	"math"

	"ml-crypto-trader/internal/types"
)

// annualization for per-trade return series, matching daily bars.
const tradingDaysPerYear = 252

func computePeriod(periodID int, trades []types.Trade, initialCapital, finalCapital, peakCapital, maxDrawdown float64) *types.PeriodResult {
	result := &types.PeriodResult{
		PeriodID:     periodID,
		TotalTrades:  len(trades),
		FinalCapital: finalCapital,
		PeakCapital:  peakCapital,
		MaxDrawdown:  maxDrawdown * 100,
		TotalReturn:  (finalCapital - initialCapital) / initialCapital * 100,
	}

	var grossProfit, grossLoss, winSum, lossSum float64
	for _, trade := range trades {
		if trade.PnL > 0 {
			result.WinningTrades++
			grossProfit += trade.PnL
			winSum += trade.PnL
		} else {
			result.LosingTrades++
			grossLoss += -trade.PnL
			lossSum += trade.PnL
		}
	}
	if len(trades) > 0 {
		result.WinRate = float64(result.WinningTrades) / float64(len(trades)) * 100
	}
	if result.WinningTrades > 0 {
		result.AvgWin = winSum / float64(result.WinningTrades)
	}
	if result.LosingTrades > 0 {
		result.AvgLoss = lossSum / float64(result.LosingTrades)
	}
	result.ProfitFactor = profitFactor(grossProfit, grossLoss)
	result.SharpeRatio = sharpeRatio(trades)
	return result
}

// profitFactor is gross profit over gross loss. Without any losses the
// ratio is undefined and reported as zero.
func profitFactor(grossProfit, grossLoss float64) float64 {
	if grossLoss == 0 {
		return 0
	}
	return grossProfit / grossLoss
}

// sharpeRatio annualizes the per-trade return series. Fewer than two
// trades, or a flat series, yields zero.
func sharpeRatio(trades []types.Trade) float64 {
	if len(trades) < 2 {
		return 0
	}

	returns := make([]float64, len(trades))
	var mean float64
	for i, trade := range trades {
		returns[i] = trade.PnLPct
		mean += trade.PnLPct
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}

// aggregate folds period results into the summary: counts add up,
// returns compound, ratio metrics average.
func aggregate(summary *types.BacktestSummary, initialCapital float64) {
	summary.Periods = len(summary.PeriodResults)
	if summary.Periods == 0 {
		summary.FinalCapital = initialCapital
		return
	}

	compounded := 1.0
	var sumWinRate, sumReturn, sumDrawdown, sumSharpe, sumProfitFactor float64
	for _, period := range summary.PeriodResults {
		summary.TotalTrades += period.TotalTrades
		summary.WinningTrades += period.WinningTrades
		summary.LosingTrades += period.LosingTrades

		compounded *= 1 + period.TotalReturn/100
		sumWinRate += period.WinRate
		sumReturn += period.TotalReturn
		sumDrawdown += period.MaxDrawdown
		sumSharpe += period.SharpeRatio
		sumProfitFactor += period.ProfitFactor
	}

	n := float64(summary.Periods)
	// Win rate averages across periods, every period an equal vote,
	// like the other ratio metrics. Trade counts still sum.
	summary.WinRate = sumWinRate / n
	summary.TotalReturn = (compounded - 1) * 100
	summary.FinalCapital = initialCapital * compounded
	summary.AvgPeriodReturn = sumReturn / n
	summary.AvgMaxDrawdown = sumDrawdown / n
	summary.AvgSharpeRatio = sumSharpe / n
	summary.AvgProfitFactor = sumProfitFactor / n
}
