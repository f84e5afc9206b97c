package pricing

import (
	"fmt"
	"time"

	"github.com/seenimoa/dispersion/internal/marketdata"
	"github.com/seenimoa/dispersion/internal/volatility"
	"github.com/seenimoa/dispersion/pkg/models"
)

// Pricer resolves spot and volatility from market data and dispatches to the
// configured model. One Pricer serves the whole run.
type Pricer struct {
	store *marketdata.Store
	vol   *volatility.Estimator

	Model         models.PricingModel
	VolMethod     models.VolatilityMethod
	VolOverride   float64
	Lookback      int
	RiskFreeRate  float64
	BinomialSteps int
}

// NewPricer builds a pricer over the given store and volatility estimator.
func NewPricer(store *marketdata.Store, vol *volatility.Estimator) *Pricer {
	return &Pricer{
		store:         store,
		vol:           vol,
		Model:         models.BlackScholes,
		VolMethod:     models.VolHistorical,
		Lookback:      30,
		RiskFreeRate:  0.02,
		BinomialSteps: 100,
	}
}

// Price resolves spot as of asOf and volatility per the configured method,
// then prices the contract. The premium is per share and never negative.
func (p *Pricer) Price(ticker string, asOf, expiration time.Time, strike float64, optType models.OptionType) (float64, error) {
	if strike <= 0 {
		return 0, fmt.Errorf("%w: %f", ErrInvalidStrike, strike)
	}
	if !expiration.After(asOf) {
		return 0, fmt.Errorf("%w: %s expires %s, priced as of %s", ErrExpiredContract,
			ticker, expiration.Format("2006-01-02"), asOf.Format("2006-01-02"))
	}

	spot, err := p.store.Spot(ticker, asOf)
	if err != nil {
		return 0, err
	}
	sigma, err := p.vol.VolatilityFor(ticker, asOf, p.Lookback, p.VolMethod, p.VolOverride)
	if err != nil {
		return 0, err
	}
	t := p.YearsToExpiry(asOf, expiration)

	switch p.Model {
	case models.BlackScholes:
		return BlackScholes(spot, strike, t, p.RiskFreeRate, sigma, optType)
	case models.Binomial:
		return Binomial(spot, strike, t, p.RiskFreeRate, sigma, p.BinomialSteps, optType)
	}
	return 0, fmt.Errorf("%w: pricing model %q", models.ErrInvalidConfiguration, p.Model)
}

// Greeks returns the contract's vega and theta per share, using the same
// spot and volatility resolution as Price.
func (p *Pricer) Greeks(ticker string, asOf, expiration time.Time, strike float64, optType models.OptionType) (vega, theta float64, err error) {
	if !expiration.After(asOf) {
		return 0, 0, fmt.Errorf("%w: %s", ErrExpiredContract, ticker)
	}
	spot, err := p.store.Spot(ticker, asOf)
	if err != nil {
		return 0, 0, err
	}
	sigma, err := p.vol.VolatilityFor(ticker, asOf, p.Lookback, p.VolMethod, p.VolOverride)
	if err != nil {
		return 0, 0, err
	}
	t := p.YearsToExpiry(asOf, expiration)
	return Vega(spot, strike, t, p.RiskFreeRate, sigma), Theta(spot, strike, t, p.RiskFreeRate, sigma, optType), nil
}

// YearsToExpiry converts the calendar-day gap to a year fraction.
func (p *Pricer) YearsToExpiry(asOf, expiration time.Time) float64 {
	return expiration.Sub(asOf).Hours() / 24.0 / DaysPerYear
}
