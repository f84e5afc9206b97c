package backtest

import (
	"math"

	"github.com/seenimoa/dispersion/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Performance Summary
// ════════════════════════════════════════════════════════════════════

// ComputeSummary derives the performance summary from a finished equity
// curve and trade log. Percentages (returns, win rate, drawdown) are
// expressed as percent, not fractions.
func ComputeSummary(initialCapital float64, equity []models.EquityRecord,
	trades []models.TradeRecord, totalCommission, totalSlippage float64) models.Summary {

	s := models.Summary{
		InitialCapital:  initialCapital,
		FinalValue:      initialCapital,
		TotalCommission: totalCommission,
		TotalSlippage:   totalSlippage,
	}
	if len(equity) > 0 {
		s.StartDate = equity[0].Date
		s.EndDate = equity[len(equity)-1].Date
		s.FinalValue = equity[len(equity)-1].TotalValue
	}

	computeTradeStats(&s, trades)
	computeReturns(&s, equity)
	computeDrawdown(&s, equity)
	computeSharpe(&s, equity)
	return s
}

// ────────────────────────────────────────────────────────────────────
// Trade statistics
// ────────────────────────────────────────────────────────────────────

func computeTradeStats(s *models.Summary, trades []models.TradeRecord) {
	s.TotalTrades = len(trades)
	if s.TotalTrades == 0 {
		return
	}

	var totalWin, totalLoss float64
	for _, t := range trades {
		if t.PnL > 0 {
			s.WinningTrades++
			totalWin += t.PnL
		} else if t.PnL < 0 {
			s.LosingTrades++
			totalLoss += math.Abs(t.PnL)
		}
	}

	s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100

	if s.WinningTrades > 0 {
		s.AvgWin = totalWin / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AvgLoss = totalLoss / float64(s.LosingTrades)
	}

	// Left zero when there are no losing trades; an infinite ratio would
	// not survive JSON encoding of the summary.
	if totalLoss > 0 {
		s.ProfitFactor = totalWin / totalLoss
	}
}

// ────────────────────────────────────────────────────────────────────
// Total and annualized return
// ────────────────────────────────────────────────────────────────────

func computeReturns(s *models.Summary, equity []models.EquityRecord) {
	if s.InitialCapital <= 0 || s.FinalValue <= 0 {
		return
	}
	s.TotalReturn = (s.FinalValue/s.InitialCapital - 1) * 100

	days := s.EndDate.Sub(s.StartDate).Hours() / 24
	if days <= 0 {
		return
	}
	years := days / 365.25
	s.AnnualizedReturn = (math.Pow(s.FinalValue/s.InitialCapital, 1.0/years) - 1) * 100

	returns := dailyReturns(equity)
	if len(returns) >= 2 {
		s.Volatility = stddev(returns) * math.Sqrt(252) * 100 // annualized
	}
}

// ────────────────────────────────────────────────────────────────────
// Maximum Drawdown
// ────────────────────────────────────────────────────────────────────

func computeDrawdown(s *models.Summary, equity []models.EquityRecord) {
	if len(equity) == 0 {
		return
	}

	peak := equity[0].TotalValue
	maxDDPct := 0.0
	for _, er := range equity {
		if er.TotalValue > peak {
			peak = er.TotalValue
		}
		if peak > 0 {
			if ddPct := (peak - er.TotalValue) / peak * 100; ddPct > maxDDPct {
				maxDDPct = ddPct
			}
		}
	}
	s.MaxDrawdown = maxDDPct
}

// ────────────────────────────────────────────────────────────────────
// Sharpe Ratio (annualized, zero risk-free baseline)
// ────────────────────────────────────────────────────────────────────

func computeSharpe(s *models.Summary, equity []models.EquityRecord) {
	returns := dailyReturns(equity)
	if len(returns) < 2 {
		return
	}

	m := mean(returns)
	sd := stddev(returns)
	if sd > 0 {
		s.SharpeRatio = (m / sd) * math.Sqrt(252)
	}
}

// ════════════════════════════════════════════════════════════════════
// Helpers
// ════════════════════════════════════════════════════════════════════

// dailyReturns computes simple returns from the equity curve.
func dailyReturns(equity []models.EquityRecord) []float64 {
	if len(equity) < 2 {
		return nil
	}
	returns := make([]float64, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1].TotalValue > 0 {
			returns[i-1] = (equity[i].TotalValue - equity[i-1].TotalValue) / equity[i-1].TotalValue
		}
	}
	return returns
}

func mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

func stddev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	m := mean(data)
	sumSq := 0.0
	for _, v := range data {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(data)-1)) // sample stddev
}
