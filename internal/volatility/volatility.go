// Package volatility estimates annualized volatilities from daily price
// history, either purely historical or scaled by a market-wide implied
// volatility proxy.
package volatility

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/seenimoa/dispersion/internal/marketdata"
	"github.com/seenimoa/dispersion/pkg/models"
)

// TradingDaysPerYear annualizes daily return statistics.
const TradingDaysPerYear = 252

// Estimator computes volatilities against a loaded market data store.
// Results are memoized: one simulated day prices many contracts off the
// same (ticker, date, lookback, method) volatility.
type Estimator struct {
	store       *marketdata.Store
	proxyTicker string
	cache       *marketdata.Cache[float64]
	logger      *zap.Logger
}

// NewEstimator builds an estimator. proxyTicker names the implied-vol proxy
// series in the store; it may be empty when only historical vol is used.
func NewEstimator(store *marketdata.Store, proxyTicker string, logger *zap.Logger) *Estimator {
	return &Estimator{
		store:       store,
		proxyTicker: proxyTicker,
		cache:       marketdata.NewCache[float64](time.Hour),
		logger:      logger,
	}
}

// Historical returns the annualized standard deviation of daily log returns
// over the trailing lookback observations ending strictly before asOf.
func (e *Estimator) Historical(ticker string, asOf time.Time, lookback int) (float64, error) {
	key := cacheKey("hist", ticker, asOf, lookback)
	if v, ok := e.cache.Get(key); ok {
		return v, nil
	}

	returns, err := e.store.LogReturns(ticker, asOf, lookback)
	if err != nil {
		return 0, err
	}
	vol := stdev(returns) * math.Sqrt(TradingDaysPerYear)
	e.cache.Set(key, vol)
	return vol, nil
}

// Implied scales the ticker's historical volatility by how rich or cheap the
// market-wide proxy currently is against its own trailing mean:
//
//	implied = historical × proxy(asOf) / mean(proxy, lookback)
func (e *Estimator) Implied(ticker string, asOf time.Time, lookback int) (float64, error) {
	key := cacheKey("impl", ticker, asOf, lookback)
	if v, ok := e.cache.Get(key); ok {
		return v, nil
	}

	hist, err := e.Historical(ticker, asOf, lookback)
	if err != nil {
		return 0, err
	}
	current, err := e.store.Level(e.proxyTicker, asOf)
	if err != nil {
		return 0, err
	}
	mean, err := e.store.LevelMean(e.proxyTicker, asOf, lookback)
	if err != nil {
		return 0, err
	}
	if mean <= 0 {
		return 0, fmt.Errorf("%w: proxy %s mean is %f", marketdata.ErrMissingProxyData, e.proxyTicker, mean)
	}

	vol := hist * current / mean
	e.cache.Set(key, vol)
	return vol, nil
}

// VolatilityFor dispatches on the configured method. A Custom method returns
// override unchanged.
func (e *Estimator) VolatilityFor(ticker string, asOf time.Time, lookback int,
	method models.VolatilityMethod, override float64) (float64, error) {

	switch method {
	case models.VolHistorical:
		return e.Historical(ticker, asOf, lookback)
	case models.VolImplied:
		return e.Implied(ticker, asOf, lookback)
	case models.VolCustom:
		return override, nil
	}
	return 0, fmt.Errorf("%w: volatility method %q", models.ErrInvalidConfiguration, method)
}

func cacheKey(kind, ticker string, asOf time.Time, lookback int) string {
	return fmt.Sprintf("%s:%s:%s:%d", kind, ticker, asOf.Format("2006-01-02"), lookback)
}

// stdev is the sample standard deviation.
func stdev(xs []float64) float64 {
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	ss := 0.0
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
