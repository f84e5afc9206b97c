package models

import "time"

// SignalKind is the outcome of a single day's signal evaluation.
type SignalKind string

const (
	SignalNone         SignalKind = "none"
	SignalEnterTrade   SignalKind = "enter"
	SignalEnterReverse SignalKind = "enter_reverse"
	SignalExitTrade    SignalKind = "exit"
)

// Signal is what the signal generator emits for one trading day.
type Signal struct {
	Date       time.Time  `json:"date"`
	Kind       SignalKind `json:"kind"`
	Dispersion float64    `json:"dispersion"`  // implied minus realized correlation
	ZScore     float64    `json:"z_score"`     // only set for index-series signals
	Implied    float64    `json:"implied"`     // implied correlation
	Realized   float64    `json:"realized"`    // average realized correlation
	Source     string     `json:"source"`      // "correlation" or "dspx"
}

// EquityRecord is one row of the daily equity curve.
type EquityRecord struct {
	Date          time.Time `json:"date"`
	Cash          float64   `json:"cash"`
	PositionValue float64   `json:"position_value"`
	TotalValue    float64   `json:"total_value"`
	OpenContracts int       `json:"open_contracts"`
	Drawdown      float64   `json:"drawdown"`
	RiskState     string    `json:"risk_state"`
}

// TradeRecord is the realized result of one closed contract, used for
// reporting and for Kelly sizing statistics.
type TradeRecord struct {
	ContractID string    `json:"contract_id"`
	Ticker     string    `json:"ticker"`
	Type       OptionType `json:"type"`
	Quantity   int       `json:"quantity"`
	EntryDate  time.Time `json:"entry_date"`
	ExitDate   time.Time `json:"exit_date"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnL        float64   `json:"pnl"`
	ExitReason string    `json:"exit_reason"`
}

// Summary holds the aggregate statistics computed from a finished run.
type Summary struct {
	StartDate        time.Time `json:"start_date"`
	EndDate          time.Time `json:"end_date"`
	InitialCapital   float64   `json:"initial_capital"`
	FinalValue       float64   `json:"final_value"`
	TotalReturn      float64   `json:"total_return"`
	AnnualizedReturn float64   `json:"annualized_return"`
	Volatility       float64   `json:"volatility"`
	SharpeRatio      float64   `json:"sharpe_ratio"`
	MaxDrawdown      float64   `json:"max_drawdown"`
	TotalTrades      int       `json:"total_trades"`
	WinningTrades    int       `json:"winning_trades"`
	LosingTrades     int       `json:"losing_trades"`
	WinRate          float64   `json:"win_rate"`
	AvgWin           float64   `json:"avg_win"`
	AvgLoss          float64   `json:"avg_loss"`
	ProfitFactor     float64   `json:"profit_factor"`
	TotalCommission  float64   `json:"total_commission"`
	TotalSlippage    float64   `json:"total_slippage"`
}
