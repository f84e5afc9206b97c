// Package risk implements the drawdown state machine and the pure decision
// functions that gate every trade: position sizing, exposure limits, leg
// balancing and stop losses. Decisions never mutate portfolio state; the
// engine applies what was approved.
package risk

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/seenimoa/dispersion/internal/config"
	"github.com/seenimoa/dispersion/pkg/models"
)

// State is the recovery state of the portfolio.
type State string

const (
	// StateNormal permits full-size entries.
	StateNormal State = "normal"
	// StateSoftRecovery permits entries at reduced size.
	StateSoftRecovery State = "soft_recovery"
	// StateHardRecovery forbids entries entirely.
	StateHardRecovery State = "hard_recovery"
)

// softRecoveryScale reduces position sizes while in soft recovery.
const softRecoveryScale = 0.5

// Decision is the outcome of a gating check. A rejection is control flow,
// not an error.
type Decision struct {
	Approved bool
	Reason   string
}

func approve() Decision { return Decision{Approved: true} }

func reject(format string, args ...any) Decision {
	return Decision{Approved: false, Reason: fmt.Sprintf(format, args...)}
}

// Manager tracks portfolio value, drawdown and the recovery state machine.
type Manager struct {
	cfg    config.RiskConfig
	sizing models.SizingMethod
	logger *zap.Logger

	state        State
	initialValue float64
	currentValue float64
	peakValue    float64
	drawdown     float64

	// breached latches after a drawdown trip and releases only once the
	// drawdown falls back under the limit, so a portfolio hovering at the
	// threshold cannot re-trigger hard recovery every day.
	breached     bool
	justBreached bool
	breachDate   time.Time
	breachValue  float64
	breachPeak   float64

	wins      int
	losses    int
	totalWin  float64
	totalLoss float64
}

// NewManager builds a manager in the Normal state. The sizing method must
// already have been validated by config.Validate.
func NewManager(cfg config.RiskConfig, initialValue float64, logger *zap.Logger) (*Manager, error) {
	sizing, err := models.ParseSizingMethod(cfg.PositionSizingMethod)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:          cfg,
		sizing:       sizing,
		logger:       logger,
		state:        StateNormal,
		initialValue: initialValue,
		currentValue: initialValue,
		peakValue:    initialValue,
	}, nil
}

// State returns the current recovery state.
func (m *Manager) State() State { return m.state }

// Drawdown returns the current fractional drawdown from the peak.
func (m *Manager) Drawdown() float64 { return m.drawdown }

// PeakValue returns the running peak portfolio value.
func (m *Manager) PeakValue() float64 { return m.peakValue }

// Observe feeds the day's portfolio value into the state machine. The peak
// is monotone; all transitions happen here and nowhere else.
func (m *Manager) Observe(value float64, date time.Time) {
	m.justBreached = false
	m.currentValue = value
	if value > m.peakValue {
		m.peakValue = value
	}
	if m.peakValue > 0 {
		m.drawdown = (m.peakValue - value) / m.peakValue
	}

	switch m.state {
	case StateNormal:
		if m.drawdown < m.cfg.MaxDrawdownPct {
			m.breached = false
		}
		if m.drawdown >= m.cfg.MaxDrawdownPct && !m.breached {
			m.state = StateHardRecovery
			m.breached = true
			m.justBreached = true
			m.breachDate = date
			m.breachValue = value
			m.breachPeak = m.peakValue
			m.logger.Warn("entering hard recovery",
				zap.Float64("drawdown", m.drawdown),
				zap.Float64("value", value),
				zap.Float64("peak", m.peakValue))
		}

	case StateHardRecovery:
		if value >= m.peakValue {
			m.reset("full recovery to peak")
			return
		}
		if int(date.Sub(m.breachDate).Hours()/24) >= m.cfg.RecoveryDays {
			m.state = StateSoftRecovery
			m.logger.Info("hard recovery cooling period over, resuming at reduced size",
				zap.Int("recovery_days", m.cfg.RecoveryDays))
		}

	case StateSoftRecovery:
		if value >= m.cfg.RecoveryPercentage*m.breachPeak {
			m.reset("recovered to target")
		}
	}
}

func (m *Manager) reset(reason string) {
	m.state = StateNormal
	if m.drawdown < m.cfg.MaxDrawdownPct {
		m.breached = false
	}
	m.logger.Info("returning to normal trading",
		zap.String("reason", reason),
		zap.Float64("value", m.currentValue),
		zap.Float64("peak", m.peakValue))
}

// CanEnterTrades reports whether new entries are permitted at all.
func (m *Manager) CanEnterTrades() bool {
	return m.state != StateHardRecovery
}

// ShouldCloseAll reports whether every open position must be closed today:
// on the day the drawdown limit trips, or when the portfolio has lost half
// its initial value.
func (m *Manager) ShouldCloseAll() bool {
	if m.justBreached {
		return true
	}
	return m.currentValue < 0.5*m.initialValue
}

// SizePosition returns the contract count for one leg given its per-share
// premium. Zero in hard recovery; halved in soft recovery.
func (m *Manager) SizePosition(premium, portfolioValue float64) int {
	if premium <= 0 || m.state == StateHardRecovery {
		return 0
	}

	riskBudget := portfolioValue * m.cfg.MaxPositionRiskPct
	perContract := premium * models.ContractMultiplier

	var contracts int
	switch m.sizing {
	case models.EqualRisk:
		contracts = int(riskBudget / perContract)
	case models.Kelly:
		contracts = int(m.kellyFraction() * portfolioValue / perContract)
	}
	if contracts == 0 {
		contracts = 1
	}
	if m.state == StateSoftRecovery {
		contracts = int(float64(contracts) * softRecoveryScale)
	}
	return contracts
}

// kellyFraction is the simplified Kelly edge f = p − (1−p)/(W/L) computed
// from recorded trade results, capped at the per-position risk limit. With
// no history it falls back to half the limit.
func (m *Manager) kellyFraction() float64 {
	if m.wins+m.losses == 0 || m.losses == 0 || m.wins == 0 {
		return 0.5 * m.cfg.MaxPositionRiskPct
	}
	p := float64(m.wins) / float64(m.wins+m.losses)
	avgWin := m.totalWin / float64(m.wins)
	avgLoss := m.totalLoss / float64(m.losses)
	if avgLoss <= 0 {
		return 0.5 * m.cfg.MaxPositionRiskPct
	}
	f := p - (1-p)/(avgWin/avgLoss)
	if f < 0 {
		f = 0
	}
	return math.Min(f, m.cfg.MaxPositionRiskPct)
}

// RecordTradeResult feeds a realized P&L into the Kelly statistics.
func (m *Manager) RecordTradeResult(pnl float64) {
	if pnl >= 0 {
		m.wins++
		m.totalWin += pnl
	} else {
		m.losses++
		m.totalLoss += -pnl
	}
}

// CheckLimits gates a proposed position against portfolio-level exposure
// limits. vega and theta are the totals the book would carry after the
// trade; addedRisk is the position's absolute dollar value.
func (m *Manager) CheckLimits(postVega, postTheta, addedRisk, portfolioValue float64) Decision {
	if m.state == StateHardRecovery {
		return reject("hard recovery: no new entries")
	}
	if math.Abs(postVega) > m.cfg.MaxVegaExposure {
		return reject("vega exposure %.0f exceeds limit %.0f", math.Abs(postVega), m.cfg.MaxVegaExposure)
	}
	if postTheta < -m.cfg.MaxThetaExposure {
		return reject("theta exposure %.0f exceeds limit %.0f", postTheta, -m.cfg.MaxThetaExposure)
	}
	if portfolioValue > 0 && math.Abs(addedRisk)/portfolioValue > m.cfg.MaxPortfolioRiskPct {
		return reject("position risk %.2f%% exceeds portfolio limit %.2f%%",
			100*math.Abs(addedRisk)/portfolioValue, 100*m.cfg.MaxPortfolioRiskPct)
	}
	return approve()
}

// BalanceLegs returns the dollar budget for the component side of a trade
// given the index-leg premium: the balance factor times the index premium,
// capped at the portfolio risk limit. Zero while recovering.
func (m *Manager) BalanceLegs(indexPremium, portfolioValue float64) float64 {
	if m.state != StateNormal {
		return 0
	}
	budget := m.cfg.LongShortBalanceFactor * math.Abs(indexPremium)
	maxBudget := portfolioValue * m.cfg.MaxPortfolioRiskPct
	if budget > maxBudget {
		m.logger.Info("capping component budget at portfolio risk limit",
			zap.Float64("budget", budget), zap.Float64("cap", maxBudget))
		budget = maxBudget
	}
	return budget
}

// CheckTradeBalance verifies the long and short sides of an assembled trade
// stay within the leg imbalance ratio in either direction.
func (m *Manager) CheckTradeBalance(longExposure, shortExposure float64) Decision {
	shortExposure = math.Abs(shortExposure)
	if longExposure <= 0 || shortExposure <= 0 {
		return reject("missing exposure on one side: long %.2f, short %.2f", longExposure, shortExposure)
	}
	ratio := longExposure / shortExposure
	if ratio > m.cfg.MaxLegImbalanceRatio || 1/ratio > m.cfg.MaxLegImbalanceRatio {
		return reject("long/short ratio %.2f outside limit %.2f", ratio, m.cfg.MaxLegImbalanceRatio)
	}
	return approve()
}

// CheckStopLoss reports whether a position's unrealized loss fraction has
// reached the stop. Entry value is signed: negative for short positions.
func (m *Manager) CheckStopLoss(entryValue, currentValue float64) bool {
	if entryValue == 0 {
		return false
	}
	plPct := (currentValue - entryValue) / math.Abs(entryValue)
	return plPct <= -m.cfg.StopLossPct
}

// Status is a read-only snapshot for reporting and the results API.
type Status struct {
	State        State   `json:"state"`
	Drawdown     float64 `json:"drawdown"`
	PeakValue    float64 `json:"peak_value"`
	CurrentValue float64 `json:"current_value"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
}

// Snapshot returns the current status.
func (m *Manager) Snapshot() Status {
	return Status{
		State:        m.state,
		Drawdown:     m.drawdown,
		PeakValue:    m.peakValue,
		CurrentValue: m.currentValue,
		Wins:         m.wins,
		Losses:       m.losses,
	}
}
