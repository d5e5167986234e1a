package backtest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"ml-crypto-trader/internal/types"
)

// Export writes the trade log and equity curve as CSV files into dir.
func Export(summary *types.BacktestSummary, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	if err := exportTrades(summary, filepath.Join(dir, "trades.csv")); err != nil {
		return err
	}
	return exportEquity(summary, filepath.Join(dir, "equity.csv"))
}

func exportTrades(summary *types.BacktestSummary, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"period", "symbol", "direction", "entry_time", "entry_price",
		"quantity", "size", "stop_loss", "take_profit",
		"exit_time", "exit_price", "exit_reason", "pnl", "pnl_pct",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, period := range summary.PeriodResults {
		for _, trade := range period.Trades {
			row := []string{
				strconv.Itoa(period.PeriodID),
				trade.Symbol,
				string(trade.Direction),
				trade.EntryTime.UTC().Format(time.RFC3339),
				formatFloat(trade.EntryPrice),
				formatFloat(trade.Quantity),
				formatFloat(trade.Size),
				formatFloat(trade.StopLoss),
				formatFloat(trade.TakeProfit),
				trade.ExitTime.UTC().Format(time.RFC3339),
				formatFloat(trade.ExitPrice),
				string(trade.ExitReason),
				formatFloat(trade.PnL),
				formatFloat(trade.PnLPct),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	return w.Error()
}

func exportEquity(summary *types.BacktestSummary, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"trade", "capital"}); err != nil {
		return err
	}
	for i, capital := range summary.EquityCurve {
		if err := w.Write([]string{strconv.Itoa(i + 1), formatFloat(capital)}); err != nil {
			return err
		}
	}
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
