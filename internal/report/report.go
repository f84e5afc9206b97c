// Package report writes backtest output: CSV histories, a JSON result dump,
// a plain-text summary, and a rendered equity-curve chart.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/seenimoa/dispersion/internal/backtest"
	"github.com/seenimoa/dispersion/pkg/models"
)

const dateLayout = "2006-01-02"

// Writer persists a backtest result into an output directory.
type Writer struct {
	dir    string
	logger *zap.Logger
}

// NewWriter creates the output directory if needed.
func NewWriter(dir string, logger *zap.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	return &Writer{dir: dir, logger: logger}, nil
}

// WriteAll emits every artifact. Chart failures are logged and skipped; the
// tabular output is the record of truth.
func (w *Writer) WriteAll(res *backtest.Result) error {
	if res == nil {
		return fmt.Errorf("result is nil")
	}
	if err := w.WriteEquityCSV(res.Equity); err != nil {
		return err
	}
	if err := w.WriteTradesCSV(res.Trades); err != nil {
		return err
	}
	if err := w.WriteJSON(res); err != nil {
		return err
	}
	if err := w.WriteSummaryText(res.Summary); err != nil {
		return err
	}
	if err := w.WriteEquityChart(res.Equity, res.Summary); err != nil {
		w.logger.Warn("equity chart not written", zap.Error(err))
	}
	w.logger.Info("report written", zap.String("dir", w.dir))
	return nil
}

// ════════════════════════════════════════════════════════════════════
// CSV Output
// ════════════════════════════════════════════════════════════════════

// WriteEquityCSV writes the daily portfolio history.
func (w *Writer) WriteEquityCSV(equity []models.EquityRecord) error {
	f, err := os.Create(filepath.Join(w.dir, "portfolio_history.csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{
		"date", "cash", "position_value", "total_value",
		"open_contracts", "drawdown", "risk_state",
	}); err != nil {
		return err
	}
	for _, er := range equity {
		if err := cw.Write([]string{
			er.Date.Format(dateLayout),
			formatFloat(er.Cash),
			formatFloat(er.PositionValue),
			formatFloat(er.TotalValue),
			strconv.Itoa(er.OpenContracts),
			strconv.FormatFloat(er.Drawdown, 'f', 6, 64),
			er.RiskState,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTradesCSV writes one row per closed contract.
func (w *Writer) WriteTradesCSV(trades []models.TradeRecord) error {
	f, err := os.Create(filepath.Join(w.dir, "trade_history.csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{
		"ticker", "type", "quantity", "entry_date", "exit_date",
		"entry_price", "exit_price", "pnl", "exit_reason",
	}); err != nil {
		return err
	}
	for _, t := range trades {
		if err := cw.Write([]string{
			t.Ticker,
			string(t.Type),
			strconv.Itoa(t.Quantity),
			t.EntryDate.Format(dateLayout),
			t.ExitDate.Format(dateLayout),
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			formatFloat(t.PnL),
			t.ExitReason,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON dumps the full result for the API and downstream tooling.
func (w *Writer) WriteJSON(res *backtest.Result) error {
	f, err := os.Create(filepath.Join(w.dir, "result.json"))
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// ════════════════════════════════════════════════════════════════════
// Plain-text Summary
// ════════════════════════════════════════════════════════════════════

// WriteSummaryText writes a terminal-friendly performance summary.
func (w *Writer) WriteSummaryText(s models.Summary) error {
	return os.WriteFile(filepath.Join(w.dir, "summary.txt"), []byte(RenderSummary(s)), 0o644)
}

// RenderSummary formats the summary for terminal display.
func RenderSummary(s models.Summary) string {
	var sb strings.Builder
	line := strings.Repeat("═", 60)
	thinLine := strings.Repeat("─", 60)

	sb.WriteString("\n" + line + "\n")
	sb.WriteString("  DISPERSION BACKTEST SUMMARY\n")
	sb.WriteString(fmt.Sprintf("  Period: %s — %s\n",
		s.StartDate.Format(dateLayout), s.EndDate.Format(dateLayout)))
	sb.WriteString(line + "\n\n")

	sb.WriteString("  ■ PERFORMANCE\n")
	sb.WriteString(fmt.Sprintf("    %-22s %s\n", "Initial Capital", formatDollars(s.InitialCapital)))
	sb.WriteString(fmt.Sprintf("    %-22s %s\n", "Final Value", formatDollars(s.FinalValue)))
	sb.WriteString(fmt.Sprintf("    %-22s %.2f%%\n", "Total Return", s.TotalReturn))
	sb.WriteString(fmt.Sprintf("    %-22s %.2f%%\n", "Annualized Return", s.AnnualizedReturn))
	sb.WriteString(fmt.Sprintf("    %-22s %.2f%%\n", "Volatility", s.Volatility))
	sb.WriteString(fmt.Sprintf("    %-22s %.2f\n", "Sharpe Ratio", s.SharpeRatio))
	sb.WriteString(fmt.Sprintf("    %-22s %.2f%%\n", "Max Drawdown", s.MaxDrawdown))
	sb.WriteString(thinLine + "\n")

	sb.WriteString("  ■ TRADES\n")
	sb.WriteString(fmt.Sprintf("    %-22s %d\n", "Total Trades", s.TotalTrades))
	sb.WriteString(fmt.Sprintf("    %-22s %d / %d\n", "Winners / Losers", s.WinningTrades, s.LosingTrades))
	sb.WriteString(fmt.Sprintf("    %-22s %.1f%%\n", "Win Rate", s.WinRate))
	sb.WriteString(fmt.Sprintf("    %-22s %s\n", "Avg Win", formatDollars(s.AvgWin)))
	sb.WriteString(fmt.Sprintf("    %-22s %s\n", "Avg Loss", formatDollars(s.AvgLoss)))
	sb.WriteString(fmt.Sprintf("    %-22s %.2f\n", "Profit Factor", s.ProfitFactor))
	sb.WriteString(thinLine + "\n")

	sb.WriteString("  ■ COSTS\n")
	sb.WriteString(fmt.Sprintf("    %-22s %s\n", "Total Commission", formatDollars(s.TotalCommission)))
	sb.WriteString(fmt.Sprintf("    %-22s %s\n", "Total Slippage", formatDollars(s.TotalSlippage)))
	sb.WriteString("\n" + line + "\n")

	return sb.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatDollars(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}
