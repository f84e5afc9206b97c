// Package backtest runs the dispersion strategy over historical data one
// trading day at a time: mark, sweep, signal, size, execute, record.
package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seenimoa/dispersion/internal/config"
	"github.com/seenimoa/dispersion/internal/correlation"
	"github.com/seenimoa/dispersion/internal/marketdata"
	"github.com/seenimoa/dispersion/internal/pricing"
	"github.com/seenimoa/dispersion/internal/risk"
	"github.com/seenimoa/dispersion/internal/universe"
	"github.com/seenimoa/dispersion/internal/volatility"
	"github.com/seenimoa/dispersion/pkg/models"
)

// Result is everything a finished (or aborted) run produced. Partial output
// survives a mid-run failure; Err carries its summary.
type Result struct {
	StartDate time.Time             `json:"start_date"`
	EndDate   time.Time             `json:"end_date"`
	Equity    []models.EquityRecord `json:"equity"`
	Trades    []models.TradeRecord  `json:"trades"`
	Signals   []models.Signal       `json:"signals"`
	Summary   models.Summary        `json:"summary"`
	Risk      risk.Status           `json:"risk"`
	Err       string                `json:"error,omitempty"`
}

// Engine owns the portfolio state for the duration of a run. Everything else
// (store, estimators, risk manager) only sees values or read-only views.
type Engine struct {
	cfg    *config.Config
	store  *marketdata.Store
	logger *zap.Logger

	indexTicker string
	components  []string
	weights     universe.WeightTable

	vol    *volatility.Estimator
	corr   *correlation.Estimator
	pricer *pricing.Pricer
	risk   *risk.Manager

	useDSPX    bool
	dspxTicker string

	calendar  []time.Time
	cash      float64
	positions map[string]*models.OptionContract
	openTrade *models.DispersionTrade

	equity          []models.EquityRecord
	tradeLog        []models.TradeRecord
	signals         []models.Signal
	totalCommission float64
	totalSlippage   float64
}

// NewEngine wires an engine from validated config, a loaded store, and the
// component universe with its weights.
func NewEngine(cfg *config.Config, store *marketdata.Store, components []string,
	weights universe.WeightTable, logger *zap.Logger) (*Engine, error) {

	vol := volatility.NewEstimator(store, cfg.Universe.ProxyTicker, logger)
	pricer := pricing.NewPricer(store, vol)
	model, err := models.ParsePricingModel(cfg.Options.PricingModel)
	if err != nil {
		return nil, err
	}
	volMethod, err := models.ParseVolatilityMethod(cfg.Options.VolatilityMethod)
	if err != nil {
		return nil, err
	}
	pricer.Model = model
	pricer.VolMethod = volMethod
	pricer.VolOverride = cfg.Options.VolatilityOverride
	pricer.Lookback = cfg.Options.Lookback
	pricer.RiskFreeRate = cfg.Options.RiskFreeRate
	pricer.BinomialSteps = cfg.Options.BinomialSteps

	riskMgr, err := risk.NewManager(cfg.Risk, cfg.Portfolio.InitialCapital, logger)
	if err != nil {
		return nil, err
	}

	useDSPX := cfg.Dispersion.UseDSPX && cfg.Universe.DSPXTicker != "" && store.Has(cfg.Universe.DSPXTicker)

	return &Engine{
		cfg:         cfg,
		store:       store,
		logger:      logger,
		indexTicker: cfg.Universe.IndexTicker,
		components:  components,
		weights:     weights.Subset(components),
		vol:         vol,
		corr:        correlation.NewEstimator(store, vol, logger),
		pricer:      pricer,
		risk:        riskMgr,
		useDSPX:     useDSPX,
		dspxTicker:  cfg.Universe.DSPXTicker,
		cash:        cfg.Portfolio.InitialCapital,
		positions:   make(map[string]*models.OptionContract),
	}, nil
}

// Run steps the simulation over the trading calendar. The day loop is
// strictly sequential; cancellation is honored only between days.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	calendar, err := e.store.Calendar(e.cfg.StartTime(), e.cfg.EndTime(),
		append([]string{e.indexTicker}, e.components...))
	if err != nil {
		return nil, err
	}
	if len(calendar) == 0 {
		return nil, fmt.Errorf("%w: empty trading calendar", marketdata.ErrInsufficientData)
	}
	e.calendar = calendar

	e.logger.Info("starting backtest",
		zap.Time("start", calendar[0]),
		zap.Time("end", calendar[len(calendar)-1]),
		zap.Int("days", len(calendar)),
		zap.Strings("components", e.components))

	var runErr error
	for _, date := range calendar {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		e.step(date)
	}

	result := e.result(calendar)
	if runErr != nil {
		result.Err = runErr.Error()
		return result, runErr
	}
	return result, nil
}

// step runs the six fixed stages of one simulated day.
func (e *Engine) step(date time.Time) {
	value := e.mark(date)
	e.sweep(date, value)
	value = e.portfolioValue()

	sig := e.signal(date)
	e.act(date, sig, value)

	e.record(date, sig)
}

// ════════════════════════════════════════════════════════════════════
// Step 1 — Mark
// ════════════════════════════════════════════════════════════════════

// mark reprices every open contract. A pricing failure keeps the last known
// premium and flags the mark stale; the run continues.
func (e *Engine) mark(date time.Time) float64 {
	for _, c := range e.positions {
		premium, err := e.pricer.Price(c.Ticker, date, c.Expiration, c.Strike, c.Type)
		if err != nil {
			c.MarkStale = true
			e.logger.Warn("mark failed, keeping last premium",
				zap.String("ticker", c.Ticker),
				zap.String("contract", c.ID),
				zap.Error(err))
			continue
		}
		c.CurrentPremium = premium
		c.MarkStale = false
	}
	value := e.portfolioValue()
	e.risk.Observe(value, date)
	return value
}

func (e *Engine) portfolioValue() float64 {
	value := e.cash
	for _, c := range e.positions {
		value += c.MarketValue()
	}
	return value
}

// ════════════════════════════════════════════════════════════════════
// Step 2 — Expiry / Stop Sweep
// ════════════════════════════════════════════════════════════════════

func (e *Engine) sweep(date time.Time, value float64) {
	// Expirations settle at intrinsic value against the day's spot.
	for _, c := range e.positions {
		if c.Expiration.After(date) {
			continue
		}
		settle := 0.0
		if spot, err := e.store.Spot(c.Ticker, date); err == nil {
			settle = c.Intrinsic(spot)
		} else {
			e.logger.Warn("no spot for expiry settlement, settling worthless",
				zap.String("ticker", c.Ticker), zap.Error(err))
		}
		e.closeContract(c, date, settle, "expiry")
	}

	if e.risk.ShouldCloseAll() {
		e.logger.Warn("risk manager forcing close of all positions",
			zap.Float64("value", value),
			zap.String("state", string(e.risk.State())))
		e.closeAll(date, "risk_close_all")
		return
	}

	for _, c := range e.positions {
		if e.risk.CheckStopLoss(c.EntryValue(), c.MarketValue()) {
			e.closeContract(c, date, c.CurrentPremium, "stop_loss")
		}
	}
	e.reconcileOpenTrade(date)
}

// reconcileOpenTrade closes the trade record once all its legs are gone.
func (e *Engine) reconcileOpenTrade(date time.Time) {
	if e.openTrade == nil {
		return
	}
	for _, id := range append(e.openTrade.IndexLegs, e.openTrade.ComponentLegs...) {
		if _, open := e.positions[id]; open {
			return
		}
	}
	e.openTrade.Closed = true
	e.openTrade.CloseDate = date
	e.openTrade = nil
}

// ════════════════════════════════════════════════════════════════════
// Step 3 — Signal
// ════════════════════════════════════════════════════════════════════

// signal evaluates the day's entry/exit signal. Estimator errors abort only
// the evaluation; the day is still recorded.
func (e *Engine) signal(date time.Time) models.Signal {
	if e.useDSPX {
		sig, err := correlation.DSPXSignal(e.store, e.dspxTicker, date,
			e.cfg.Dispersion.DSPXLookback, e.cfg.Dispersion.EntryThreshold, e.cfg.Dispersion.ExitThreshold)
		if err != nil {
			e.logger.Warn("dispersion index signal unavailable", zap.Error(err))
			return models.Signal{Date: date, Kind: models.SignalNone, Source: "dspx"}
		}
		return sig
	}

	res, err := e.corr.Dispersion(e.indexTicker, e.components, date, e.cfg.Options.Lookback, e.weights)
	if err != nil {
		e.logger.Warn("correlation signal unavailable", zap.Error(err))
		return models.Signal{Date: date, Kind: models.SignalNone, Source: "correlation"}
	}

	sig := models.Signal{
		Date:       date,
		Kind:       models.SignalNone,
		Dispersion: res.Dispersion,
		Implied:    res.Implied,
		Realized:   res.Realized,
		Source:     "correlation",
	}
	switch {
	case res.Dispersion > e.cfg.Dispersion.EntryThreshold:
		sig.Kind = models.SignalEnterTrade
	case res.Dispersion < -e.cfg.Dispersion.EntryThreshold:
		sig.Kind = models.SignalEnterReverse
	case math.Abs(res.Dispersion) < e.cfg.Dispersion.ExitThreshold:
		sig.Kind = models.SignalExitTrade
	}
	return sig
}

// ════════════════════════════════════════════════════════════════════
// Steps 4+5 — Size, Gate, Execute
// ════════════════════════════════════════════════════════════════════

func (e *Engine) act(date time.Time, sig models.Signal, value float64) {
	switch sig.Kind {
	case models.SignalExitTrade:
		if e.openTrade != nil {
			e.closeTrade(date, "signal_exit")
		}
	case models.SignalEnterTrade, models.SignalEnterReverse:
		if e.openTrade != nil || !e.risk.CanEnterTrades() {
			return
		}
		kind := models.StandardDispersion
		if sig.Kind == models.SignalEnterReverse {
			kind = models.ReverseDispersion
		}
		plan, err := e.planTrade(date, kind, value)
		if err != nil {
			e.logger.Warn("trade plan failed", zap.Error(err))
			return
		}
		if decision := e.gate(date, plan, value); !decision.Approved {
			e.logger.Info("trade rejected", zap.String("reason", decision.Reason))
			return
		}
		e.execute(date, kind, sig, plan)
	}
}

// plannedLeg is one straddle (call + put) on one ticker, not yet executed.
type plannedLeg struct {
	ticker      string
	strike      float64
	expiration  time.Time
	quantity    int // signed, same for call and put
	callPremium float64
	putPremium  float64
	vega        float64
	theta       float64
}

func (l *plannedLeg) premium() float64 { return l.callPremium + l.putPremium }

func (l *plannedLeg) dollars() float64 {
	return math.Abs(float64(l.quantity)) * l.premium() * models.ContractMultiplier
}

// planTrade assembles the whole trade before anything executes, so the gate
// sees it atomically: one index straddle and premium-targeted component
// straddles on the opposite side.
func (e *Engine) planTrade(date time.Time, kind models.TradeKind, value float64) ([]plannedLeg, error) {
	expiration, err := e.chooseExpiry(date)
	if err != nil {
		return nil, err
	}

	indexLeg, err := e.planLeg(date, e.indexTicker, expiration)
	if err != nil {
		return nil, fmt.Errorf("index leg: %w", err)
	}
	qty := e.risk.SizePosition(indexLeg.premium(), value)
	if qty == 0 {
		return nil, fmt.Errorf("index leg sized to zero contracts")
	}
	indexSign, componentSign := -1, 1
	if kind == models.ReverseDispersion {
		indexSign, componentSign = 1, -1
	}
	indexLeg.quantity = indexSign * qty

	budget := e.risk.BalanceLegs(indexLeg.dollars(), value)
	if budget <= 0 {
		return nil, fmt.Errorf("zero component budget")
	}

	plan := []plannedLeg{indexLeg}
	for _, ticker := range e.weights.Tickers() {
		leg, err := e.planLeg(date, ticker, expiration)
		if err != nil {
			return nil, fmt.Errorf("component leg %s: %w", ticker, err)
		}
		target := budget * e.weights[ticker]
		perContract := leg.premium() * models.ContractMultiplier
		if perContract <= 0 {
			continue
		}
		// A component whose budget share cannot fund a whole contract is
		// skipped rather than sized past its share.
		n := int(target / perContract)
		if n == 0 {
			continue
		}
		leg.quantity = componentSign * n
		plan = append(plan, leg)
	}
	if len(plan) < 2 {
		return nil, fmt.Errorf("no component legs could be sized")
	}
	return plan, nil
}

// chooseExpiry picks the first trading day at or after the target tenor,
// never closer than the configured minimum. Beyond the calendar it falls
// back to the raw target date so late-run entries still price.
func (e *Engine) chooseExpiry(date time.Time) (time.Time, error) {
	target := date.AddDate(0, 0, e.cfg.Options.TargetDaysToExpiry)
	minDate := date.AddDate(0, 0, e.cfg.Options.MinDaysToExpiry)
	var last time.Time
	for _, d := range e.calendar {
		if d.Before(minDate) {
			continue
		}
		if !d.Before(target) {
			return d, nil
		}
		last = d
	}
	if !last.IsZero() {
		return last, nil
	}
	if target.After(date) {
		return target, nil
	}
	return time.Time{}, fmt.Errorf("%w: no usable expiration after %s",
		pricing.ErrInvalidExpiry, date.Format("2006-01-02"))
}

// planLeg prices an at-the-money straddle on ticker.
func (e *Engine) planLeg(date time.Time, ticker string, expiration time.Time) (plannedLeg, error) {
	spot, err := e.store.Spot(ticker, date)
	if err != nil {
		return plannedLeg{}, err
	}
	strike := spot
	call, err := e.pricer.Price(ticker, date, expiration, strike, models.Call)
	if err != nil {
		return plannedLeg{}, err
	}
	put, err := e.pricer.Price(ticker, date, expiration, strike, models.Put)
	if err != nil {
		return plannedLeg{}, err
	}
	callVega, callTheta, err := e.pricer.Greeks(ticker, date, expiration, strike, models.Call)
	if err != nil {
		return plannedLeg{}, err
	}
	putVega, putTheta, err := e.pricer.Greeks(ticker, date, expiration, strike, models.Put)
	if err != nil {
		return plannedLeg{}, err
	}
	return plannedLeg{
		ticker:      ticker,
		strike:      strike,
		expiration:  expiration,
		callPremium: call,
		putPremium:  put,
		vega:        callVega + putVega,
		theta:       callTheta + putTheta,
	}, nil
}

// gate runs every risk check against the plan plus the current book. Nothing
// executes unless the whole trade passes.
func (e *Engine) gate(date time.Time, plan []plannedLeg, value float64) risk.Decision {
	var planVega, planTheta, addedRisk, longExp, shortExp float64
	for _, leg := range plan {
		q := float64(leg.quantity)
		planVega += q * leg.vega * models.ContractMultiplier
		planTheta += q * leg.theta * models.ContractMultiplier
		addedRisk += leg.dollars()
		if leg.quantity > 0 {
			longExp += leg.dollars()
		} else {
			shortExp += leg.dollars()
		}
	}
	bookVega, bookTheta := e.bookGreeks(date)

	if d := e.risk.CheckTradeBalance(longExp, shortExp); !d.Approved {
		return d
	}
	return e.risk.CheckLimits(bookVega+planVega, bookTheta+planTheta, addedRisk, value)
}

// bookGreeks values the open book as of the given date, so exposure decays
// as positions age toward expiration.
func (e *Engine) bookGreeks(date time.Time) (vega, theta float64) {
	for _, c := range e.positions {
		v, t, err := e.pricer.Greeks(c.Ticker, date, c.Expiration, c.Strike, c.Type)
		if err != nil {
			continue
		}
		q := float64(c.Quantity)
		vega += q * v * models.ContractMultiplier
		theta += q * t * models.ContractMultiplier
	}
	return vega, theta
}

// ════════════════════════════════════════════════════════════════════
// Execution
// ════════════════════════════════════════════════════════════════════

// execute turns a gated plan into positions. Buys fill above model premium,
// sells below; commission is charged per fill.
func (e *Engine) execute(date time.Time, kind models.TradeKind, sig models.Signal, plan []plannedLeg) {
	trade := &models.DispersionTrade{
		ID:              uuid.NewString(),
		Kind:            kind,
		OpenDate:        date,
		EntryDispersion: sig.Dispersion,
	}
	for _, leg := range plan {
		callID := e.open(date, leg.ticker, leg.strike, leg.expiration, models.Call, leg.quantity, leg.callPremium, kind)
		putID := e.open(date, leg.ticker, leg.strike, leg.expiration, models.Put, leg.quantity, leg.putPremium, kind)
		if leg.ticker == e.indexTicker {
			trade.IndexLegs = append(trade.IndexLegs, callID, putID)
		} else {
			trade.ComponentLegs = append(trade.ComponentLegs, callID, putID)
		}
	}
	e.openTrade = trade
	e.logger.Info("opened dispersion trade",
		zap.String("trade", trade.ID),
		zap.String("kind", string(kind)),
		zap.Float64("dispersion", sig.Dispersion),
		zap.Int("legs", len(plan)))
}

// open books one contract and settles its cash leg with slippage and
// commission applied.
func (e *Engine) open(date time.Time, ticker string, strike float64, expiration time.Time,
	optType models.OptionType, quantity int, premium float64, kind models.TradeKind) string {

	fill := e.fillPrice(premium, quantity > 0)
	notional := math.Abs(float64(quantity)) * fill * models.ContractMultiplier
	commission := e.commission(notional)
	slip := math.Abs(float64(quantity)) * math.Abs(fill-premium) * models.ContractMultiplier

	// Cash moves opposite the position: buying costs, writing collects.
	e.cash -= float64(quantity) * fill * models.ContractMultiplier
	e.cash -= commission
	e.totalCommission += commission
	e.totalSlippage += slip

	c := &models.OptionContract{
		ID:             uuid.NewString(),
		Ticker:         ticker,
		Strike:         strike,
		Expiration:     expiration,
		Type:           optType,
		Quantity:       quantity,
		Strategy:       kind,
		Status:         models.ContractOpen,
		EntryDate:      date,
		EntryPremium:   fill,
		CurrentPremium: fill,
	}
	e.positions[c.ID] = c
	return c.ID
}

// closeContract unwinds one contract at the given premium and logs the trade.
func (e *Engine) closeContract(c *models.OptionContract, date time.Time, premium float64, reason string) {
	// Closing a long is a sell, closing a short is a buy.
	fill := e.fillPrice(premium, c.Quantity < 0)
	if reason == "expiry" {
		fill = premium // settlement has no slippage
	}
	notional := math.Abs(float64(c.Quantity)) * fill * models.ContractMultiplier
	commission := e.commission(notional)
	slip := math.Abs(float64(c.Quantity)) * math.Abs(fill-premium) * models.ContractMultiplier

	e.cash += float64(c.Quantity) * fill * models.ContractMultiplier
	e.cash -= commission
	e.totalCommission += commission
	e.totalSlippage += slip

	pnl := (fill-c.EntryPremium)*float64(c.Quantity)*models.ContractMultiplier - commission

	c.Status = models.ContractClosed
	c.ExitDate = date
	c.ExitPremium = fill
	c.ExitReason = reason
	delete(e.positions, c.ID)

	e.risk.RecordTradeResult(pnl)
	e.tradeLog = append(e.tradeLog, models.TradeRecord{
		ContractID: c.ID,
		Ticker:     c.Ticker,
		Type:       c.Type,
		Quantity:   c.Quantity,
		EntryDate:  c.EntryDate,
		ExitDate:   date,
		EntryPrice: c.EntryPremium,
		ExitPrice:  fill,
		PnL:        pnl,
		ExitReason: reason,
	})
}

func (e *Engine) closeTrade(date time.Time, reason string) {
	if e.openTrade == nil {
		return
	}
	for _, id := range append(e.openTrade.IndexLegs, e.openTrade.ComponentLegs...) {
		if c, open := e.positions[id]; open {
			e.closeContract(c, date, c.CurrentPremium, reason)
		}
	}
	e.openTrade.Closed = true
	e.openTrade.CloseDate = date
	e.openTrade = nil
}

func (e *Engine) closeAll(date time.Time, reason string) {
	for _, c := range e.positions {
		e.closeContract(c, date, c.CurrentPremium, reason)
	}
	if e.openTrade != nil {
		e.openTrade.Closed = true
		e.openTrade.CloseDate = date
		e.openTrade = nil
	}
}

func (e *Engine) fillPrice(premium float64, buying bool) float64 {
	if buying {
		return premium * (1 + e.cfg.Portfolio.SlippagePct)
	}
	return premium * (1 - e.cfg.Portfolio.SlippagePct)
}

func (e *Engine) commission(notional float64) float64 {
	return math.Max(e.cfg.Portfolio.CommissionMin, e.cfg.Portfolio.CommissionPct*notional)
}

// ════════════════════════════════════════════════════════════════════
// Step 6 — Record
// ════════════════════════════════════════════════════════════════════

func (e *Engine) record(date time.Time, sig models.Signal) {
	e.signals = append(e.signals, sig)
	positionValue := 0.0
	for _, c := range e.positions {
		positionValue += c.MarketValue()
	}
	status := e.risk.Snapshot()
	e.equity = append(e.equity, models.EquityRecord{
		Date:          date,
		Cash:          e.cash,
		PositionValue: positionValue,
		TotalValue:    e.cash + positionValue,
		OpenContracts: len(e.positions),
		Drawdown:      status.Drawdown,
		RiskState:     string(status.State),
	})
}

func (e *Engine) result(calendar []time.Time) *Result {
	return &Result{
		StartDate: calendar[0],
		EndDate:   calendar[len(calendar)-1],
		Equity:    e.equity,
		Trades:    e.tradeLog,
		Signals:   e.signals,
		Summary: ComputeSummary(e.cfg.Portfolio.InitialCapital, e.equity, e.tradeLog,
			e.totalCommission, e.totalSlippage),
		Risk: e.risk.Snapshot(),
	}
}

