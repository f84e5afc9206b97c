package report

import (
	"fmt"
	"os"
	"path/filepath"

	charts "github.com/vicanso/go-charts/v2"

	"github.com/seenimoa/dispersion/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Equity Curve Chart
// ════════════════════════════════════════════════════════════════════

// WriteEquityChart renders the equity curve to equity_curve.png.
func (w *Writer) WriteEquityChart(equity []models.EquityRecord, s models.Summary) error {
	buf, err := EquityChart(equity, s)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(w.dir, "equity_curve.png"), buf, 0o644)
}

// EquityChart renders the portfolio value series as a line chart.
func EquityChart(equity []models.EquityRecord, s models.Summary) ([]byte, error) {
	if len(equity) < 2 {
		return nil, fmt.Errorf("not enough equity records to chart")
	}

	labels := make([]string, len(equity))
	values := make([]float64, len(equity))
	minVal, maxVal := equity[0].TotalValue, equity[0].TotalValue
	for i, er := range equity {
		if len(equity) <= 60 {
			labels[i] = er.Date.Format("Jan 02")
		} else {
			labels[i] = er.Date.Format("Jan '06")
		}
		values[i] = er.TotalValue
		if er.TotalValue < minVal {
			minVal = er.TotalValue
		}
		if er.TotalValue > maxVal {
			maxVal = er.TotalValue
		}
	}

	padding := (maxVal - minVal) * 0.05
	if padding == 0 {
		padding = maxVal * 0.05
	}
	yMin := minVal - padding
	yMax := maxVal + padding

	splitNum := 6
	if len(labels) <= 30 {
		splitNum = len(labels) / 3
		if splitNum < 3 {
			splitNum = 3
		}
	}

	title := "Dispersion Strategy Equity Curve"
	subtitle := fmt.Sprintf("Return: %.2f%% | Sharpe: %.2f | Vol: %.2f%% | MaxDD: %.2f%%",
		s.TotalReturn, s.SharpeRatio, s.Volatility, s.MaxDrawdown)

	p, err := charts.LineRender(
		[][]float64{values},
		charts.TitleTextOptionFunc(title+"\n"+subtitle),
		charts.XAxisOptionFunc(charts.XAxisOption{
			Data:        labels,
			SplitNumber: splitNum,
			BoundaryGap: charts.FalseFlag(),
		}),
		charts.YAxisOptionFunc(charts.YAxisOption{
			Min:         &yMin,
			Max:         &yMax,
			DivideCount: 5,
		}),
		charts.ThemeOptionFunc(charts.ThemeLight),
	)
	if err != nil {
		return nil, fmt.Errorf("rendering equity chart: %w", err)
	}
	return p.Bytes()
}
