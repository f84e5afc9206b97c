package backtest

import (
	"math"
	"testing"

	"github.com/seenimoa/dispersion/pkg/models"
)

func TestComputeSummaryTradeStats(t *testing.T) {
	trades := []models.TradeRecord{
		{PnL: 500}, {PnL: 300}, {PnL: -200}, {PnL: 0},
	}
	s := ComputeSummary(1_000_000, nil, trades, 10, 5)

	if s.TotalTrades != 4 {
		t.Errorf("total trades = %d, want 4", s.TotalTrades)
	}
	if s.WinningTrades != 2 || s.LosingTrades != 1 {
		t.Errorf("winners/losers = %d/%d, want 2/1", s.WinningTrades, s.LosingTrades)
	}
	if s.WinRate != 50 {
		t.Errorf("win rate = %.1f, want 50", s.WinRate)
	}
	if s.AvgWin != 400 {
		t.Errorf("avg win = %.1f, want 400", s.AvgWin)
	}
	if s.AvgLoss != 200 {
		t.Errorf("avg loss = %.1f, want 200", s.AvgLoss)
	}
	if s.ProfitFactor != 4 {
		t.Errorf("profit factor = %.2f, want 4", s.ProfitFactor)
	}
	if s.TotalCommission != 10 || s.TotalSlippage != 5 {
		t.Errorf("costs = %.1f/%.1f, want 10/5", s.TotalCommission, s.TotalSlippage)
	}
}

func TestComputeSummaryNoLosersKeepsFiniteProfitFactor(t *testing.T) {
	s := ComputeSummary(1_000_000, nil, []models.TradeRecord{{PnL: 100}}, 0, 0)
	if math.IsInf(s.ProfitFactor, 1) {
		t.Error("profit factor must stay finite for JSON encoding")
	}
}

func TestComputeSummaryReturnsAndDrawdown(t *testing.T) {
	equity := []models.EquityRecord{
		{Date: day(0), TotalValue: 1_000_000},
		{Date: day(1), TotalValue: 1_100_000},
		{Date: day(2), TotalValue: 990_000},
		{Date: day(3), TotalValue: 1_210_000},
	}
	s := ComputeSummary(1_000_000, equity, nil, 0, 0)

	if math.Abs(s.TotalReturn-21.0) > 1e-9 {
		t.Errorf("total return = %.4f, want 21.0", s.TotalReturn)
	}
	// Peak 1.1M down to 990k is a 10% drawdown.
	if math.Abs(s.MaxDrawdown-10.0) > 1e-9 {
		t.Errorf("max drawdown = %.4f, want 10.0", s.MaxDrawdown)
	}
	if s.AnnualizedReturn <= s.TotalReturn {
		t.Errorf("three-day return should annualize far above %.2f, got %.2f",
			s.TotalReturn, s.AnnualizedReturn)
	}
	if s.FinalValue != 1_210_000 {
		t.Errorf("final value = %.0f, want 1210000", s.FinalValue)
	}
}

func TestComputeSummarySharpeSign(t *testing.T) {
	up := []models.EquityRecord{
		{Date: day(0), TotalValue: 1_000_000},
		{Date: day(1), TotalValue: 1_010_000},
		{Date: day(2), TotalValue: 1_015_000},
		{Date: day(3), TotalValue: 1_030_000},
	}
	if s := ComputeSummary(1_000_000, up, nil, 0, 0); s.SharpeRatio <= 0 {
		t.Errorf("sharpe on rising curve = %.2f, want positive", s.SharpeRatio)
	}

	down := []models.EquityRecord{
		{Date: day(0), TotalValue: 1_000_000},
		{Date: day(1), TotalValue: 985_000},
		{Date: day(2), TotalValue: 982_000},
		{Date: day(3), TotalValue: 960_000},
	}
	if s := ComputeSummary(1_000_000, down, nil, 0, 0); s.SharpeRatio >= 0 {
		t.Errorf("sharpe on falling curve = %.2f, want negative", s.SharpeRatio)
	}
}

func TestComputeSummaryEmptyInputs(t *testing.T) {
	s := ComputeSummary(1_000_000, nil, nil, 0, 0)
	if s.TotalTrades != 0 || s.TotalReturn != 0 || s.SharpeRatio != 0 {
		t.Errorf("empty summary not zeroed: %+v", s)
	}
	if s.FinalValue != 1_000_000 {
		t.Errorf("final value = %.0f, want initial capital", s.FinalValue)
	}
}
