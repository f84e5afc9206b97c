// Package correlation estimates realized and implied correlations for an
// index against its components, and turns the gap between them into trading
// signals.
package correlation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/seenimoa/dispersion/internal/marketdata"
	"github.com/seenimoa/dispersion/internal/volatility"
)

var (
	// ErrDegenerateSeries is returned when a return series has zero variance
	// over the window, making Pearson correlation undefined.
	ErrDegenerateSeries = errors.New("degenerate series")
	// ErrDegenerateWeighting is returned when the implied-correlation
	// denominator collapses (fewer than two effective components).
	ErrDegenerateWeighting = errors.New("degenerate weighting")
)

// Result is the signal triple: implied correlation, average realized
// correlation, and their difference.
type Result struct {
	Implied    float64
	Realized   float64
	Dispersion float64
}

// Estimator computes correlations against a loaded store, resolving
// volatilities through the volatility estimator.
type Estimator struct {
	store  *marketdata.Store
	vol    *volatility.Estimator
	logger *zap.Logger
}

// NewEstimator builds a correlation estimator.
func NewEstimator(store *marketdata.Store, vol *volatility.Estimator, logger *zap.Logger) *Estimator {
	return &Estimator{store: store, vol: vol, logger: logger}
}

// PairwiseRealized computes the Pearson correlation of daily log returns for
// every unordered ticker pair over the trailing lookback window ending
// strictly before asOf. The returned matrix is symmetric with unit diagonal.
func (e *Estimator) PairwiseRealized(tickers []string, asOf time.Time, lookback int) (map[string]map[string]float64, error) {
	returns := make(map[string][]float64, len(tickers))
	for _, t := range tickers {
		r, err := e.store.LogReturns(t, asOf, lookback)
		if err != nil {
			return nil, err
		}
		returns[t] = r
	}

	matrix := make(map[string]map[string]float64, len(tickers))
	for _, t := range tickers {
		matrix[t] = map[string]float64{t: 1}
	}
	for i := 0; i < len(tickers); i++ {
		for j := i + 1; j < len(tickers); j++ {
			a, b := tickers[i], tickers[j]
			rho, err := pearson(returns[a], returns[b])
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", a, b, err)
			}
			matrix[a][b] = rho
			matrix[b][a] = rho
		}
	}
	return matrix, nil
}

// AverageRealized computes the weighted mean of the off-diagonal pairwise
// correlations. The weight of a pair is the product of the two tickers'
// normalized weights; nil weights means equal weighting. Weights are
// re-normalized over the contributing tickers so the result does not depend
// on their scale.
func (e *Estimator) AverageRealized(tickers []string, asOf time.Time, lookback int, weights map[string]float64) (float64, error) {
	if len(tickers) < 2 {
		return 0, nil
	}
	matrix, err := e.PairwiseRealized(tickers, asOf, lookback)
	if err != nil {
		return 0, err
	}
	norm := normalizedOver(tickers, weights)

	num, den := 0.0, 0.0
	for i := 0; i < len(tickers); i++ {
		for j := i + 1; j < len(tickers); j++ {
			w := norm[tickers[i]] * norm[tickers[j]]
			num += w * matrix[tickers[i]][tickers[j]]
			den += w
		}
	}
	if den == 0 {
		return 0, nil
	}
	return num / den, nil
}

// Implied derives the correlation implied by option volatilities from the
// index variance decomposition
//
//	σ_I² = Σ w_i²σ_i² + 2ρ Σ_{i<j} w_i w_j σ_i σ_j
//
// solved for ρ and clamped to [0, 1].
func (e *Estimator) Implied(indexTicker string, components []string, asOf time.Time, lookback int, weights map[string]float64) (float64, error) {
	indexVol, err := e.vol.Implied(indexTicker, asOf, lookback)
	if err != nil {
		return 0, err
	}
	vols := make(map[string]float64, len(components))
	for _, t := range components {
		v, err := e.vol.Implied(t, asOf, lookback)
		if err != nil {
			return 0, err
		}
		vols[t] = v
	}
	norm := normalizedOver(components, weights)

	weightedVarSum := 0.0
	for _, t := range components {
		weightedVarSum += norm[t] * norm[t] * vols[t] * vols[t]
	}
	crossTerm := 0.0
	for i := 0; i < len(components); i++ {
		for j := i + 1; j < len(components); j++ {
			a, b := components[i], components[j]
			crossTerm += 2 * norm[a] * norm[b] * vols[a] * vols[b]
		}
	}
	if crossTerm <= 1e-10 {
		return 0, fmt.Errorf("%w: cross term %g with %d components",
			ErrDegenerateWeighting, crossTerm, len(components))
	}

	rho := (indexVol*indexVol - weightedVarSum) / crossTerm
	if rho < 0 || rho > 1 {
		e.logger.Warn("implied correlation outside [0,1], clamping",
			zap.Float64("rho", rho), zap.Time("as_of", asOf))
	}
	return math.Max(0, math.Min(1, rho)), nil
}

// Dispersion computes the {implied, realized, dispersion} triple that drives
// trade generation.
func (e *Estimator) Dispersion(indexTicker string, components []string, asOf time.Time, lookback int, weights map[string]float64) (Result, error) {
	implied, err := e.Implied(indexTicker, components, asOf, lookback, weights)
	if err != nil {
		return Result{}, err
	}
	realized, err := e.AverageRealized(components, asOf, lookback, weights)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Implied:    implied,
		Realized:   realized,
		Dispersion: implied - realized,
	}, nil
}

// normalizedOver re-normalizes weights over exactly the given tickers.
// Missing or nil weights degrade to equal weighting.
func normalizedOver(tickers []string, weights map[string]float64) map[string]float64 {
	norm := make(map[string]float64, len(tickers))
	total := 0.0
	for _, t := range tickers {
		total += weights[t]
	}
	if total <= 0 {
		for _, t := range tickers {
			norm[t] = 1.0 / float64(len(tickers))
		}
		return norm
	}
	for _, t := range tickers {
		norm[t] = weights[t] / total
	}
	return norm
}

// pearson computes the Pearson correlation of two equal-length samples.
func pearson(xs, ys []float64) (float64, error) {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	if n < 2 {
		return 0, fmt.Errorf("%w: %d overlapping observations", ErrDegenerateSeries, n)
	}
	xs, ys = xs[len(xs)-n:], ys[len(ys)-n:]

	var meanX, meanY float64
	for i := 0; i < n; i++ {
		meanX += xs[i]
		meanY += ys[i]
	}
	meanX /= float64(n)
	meanY /= float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx, dy := xs[i]-meanX, ys[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0, fmt.Errorf("%w: zero variance over window", ErrDegenerateSeries)
	}
	return cov / math.Sqrt(varX*varY), nil
}

