package correlation

import (
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seenimoa/dispersion/internal/marketdata"
	"github.com/seenimoa/dispersion/internal/volatility"
	"github.com/seenimoa/dispersion/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Test Helpers
// ════════════════════════════════════════════════════════════════════

func day(i int) time.Time {
	return time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

// zigzag builds a series whose log returns alternate +ln(factor), −ln(factor)
// beginning with +. With up=false the phase is inverted, giving a series
// perfectly anti-correlated with the up-phase one.
func zigzag(ticker string, n int, factor float64, up bool) *models.PriceSeries {
	ps := &models.PriceSeries{Ticker: ticker}
	price := 100.0
	for i := 0; i < n; i++ {
		ps.Bars = append(ps.Bars, models.Bar{Date: day(i), Close: price, AdjClose: price})
		if (i%2 == 0) == up {
			price *= factor
		} else {
			price /= factor
		}
	}
	return ps
}

func flat(ticker string, n int, level float64) *models.PriceSeries {
	ps := &models.PriceSeries{Ticker: ticker}
	for i := 0; i < n; i++ {
		ps.Bars = append(ps.Bars, models.Bar{Date: day(i), Close: level, AdjClose: level})
	}
	return ps
}

func newEstimator(series ...*models.PriceSeries) *Estimator {
	store := marketdata.NewStoreFromSeries(series...)
	vol := volatility.NewEstimator(store, "VIX", zap.NewNop())
	return NewEstimator(store, vol, zap.NewNop())
}

// ════════════════════════════════════════════════════════════════════
// Pairwise / Average Realized
// ════════════════════════════════════════════════════════════════════

func TestPairwisePerfectAndAntiCorrelation(t *testing.T) {
	e := newEstimator(
		zigzag("A", 32, 1.02, true),
		zigzag("B", 32, 1.03, true),  // same phase, different amplitude
		zigzag("C", 32, 1.02, false), // opposite phase
	)

	matrix, err := e.PairwiseRealized([]string{"A", "B", "C"}, day(31), 30)
	if err != nil {
		t.Fatalf("PairwiseRealized: %v", err)
	}
	if math.Abs(matrix["A"]["B"]-1) > 1e-9 {
		t.Errorf("corr(A,B): got %f, want 1", matrix["A"]["B"])
	}
	if math.Abs(matrix["A"]["C"]+1) > 1e-9 {
		t.Errorf("corr(A,C): got %f, want -1", matrix["A"]["C"])
	}
	if matrix["A"]["C"] != matrix["C"]["A"] {
		t.Error("matrix should be symmetric")
	}
	if matrix["A"]["A"] != 1 {
		t.Error("diagonal should be 1")
	}
}

func TestPairwiseBounds(t *testing.T) {
	// Mixed series: every off-diagonal entry must stay within [-1, 1].
	a := zigzag("A", 40, 1.02, true)
	b := zigzag("B", 40, 1.01, false)
	// Perturb B so the correlation is not exactly ±1
	for i := range b.Bars {
		if i%3 == 0 {
			b.Bars[i].AdjClose *= 1.004
		}
	}
	e := newEstimator(a, b)

	matrix, err := e.PairwiseRealized([]string{"A", "B"}, day(39), 30)
	if err != nil {
		t.Fatalf("PairwiseRealized: %v", err)
	}
	rho := matrix["A"]["B"]
	if rho < -1 || rho > 1 {
		t.Errorf("correlation out of bounds: %f", rho)
	}
}

func TestPairwiseDegenerateSeries(t *testing.T) {
	e := newEstimator(zigzag("A", 32, 1.02, true), flat("B", 32, 50))

	_, err := e.PairwiseRealized([]string{"A", "B"}, day(31), 30)
	if !errors.Is(err, ErrDegenerateSeries) {
		t.Errorf("got %v, want ErrDegenerateSeries", err)
	}
}

func TestAverageRealizedEqualWeights(t *testing.T) {
	e := newEstimator(
		zigzag("A", 32, 1.02, true),
		zigzag("B", 32, 1.03, true),
		zigzag("C", 32, 1.02, false),
	)

	// Pairs: AB=+1, AC=-1, BC=-1 → equal-weighted mean −1/3.
	avg, err := e.AverageRealized([]string{"A", "B", "C"}, day(31), 30, nil)
	if err != nil {
		t.Fatalf("AverageRealized: %v", err)
	}
	if math.Abs(avg+1.0/3.0) > 1e-9 {
		t.Errorf("avg: got %f, want -1/3", avg)
	}
}

func TestAverageRealizedWeightScaleInvariance(t *testing.T) {
	e := newEstimator(
		zigzag("A", 32, 1.02, true),
		zigzag("B", 32, 1.03, true),
		zigzag("C", 32, 1.02, false),
	)
	tickers := []string{"A", "B", "C"}

	small := map[string]float64{"A": 0.2, "B": 0.3, "C": 0.5}
	big := map[string]float64{"A": 20, "B": 30, "C": 50}

	a1, err := e.AverageRealized(tickers, day(31), 30, small)
	if err != nil {
		t.Fatalf("AverageRealized: %v", err)
	}
	a2, err := e.AverageRealized(tickers, day(31), 30, big)
	if err != nil {
		t.Fatalf("AverageRealized: %v", err)
	}
	if math.Abs(a1-a2) > 1e-12 {
		t.Errorf("scaling weights changed the result: %f vs %f", a1, a2)
	}
}

func TestAverageRealizedSingleTicker(t *testing.T) {
	e := newEstimator(zigzag("A", 32, 1.02, true))
	avg, err := e.AverageRealized([]string{"A"}, day(31), 30, nil)
	if err != nil {
		t.Fatalf("AverageRealized: %v", err)
	}
	if avg != 0 {
		t.Errorf("one ticker has no pairs: got %f, want 0", avg)
	}
}

// ════════════════════════════════════════════════════════════════════
// Implied Correlation
// ════════════════════════════════════════════════════════════════════

// flatProxy keeps the implied/historical ratio at exactly 1 so implied vols
// equal historical vols in these tests.
func flatProxy(n int) *models.PriceSeries {
	return flat("VIX", n, 20)
}

func TestImpliedPerfectlyCorrelatedComponents(t *testing.T) {
	// Index identical to both components: σ_I = σ_i, equal weights →
	// ρ = (σ² − 2·(σ/2)²)/(2·(σ/2)²) = 1.
	e := newEstimator(
		zigzag("IDX", 32, 1.02, true),
		zigzag("A", 32, 1.02, true),
		zigzag("B", 32, 1.02, true),
		flatProxy(32),
	)

	rho, err := e.Implied("IDX", []string{"A", "B"}, day(31), 30, nil)
	if err != nil {
		t.Fatalf("Implied: %v", err)
	}
	if math.Abs(rho-1) > 1e-9 {
		t.Errorf("rho: got %f, want 1", rho)
	}
}

func TestImpliedClampedToZero(t *testing.T) {
	// A flat index has zero vol, so the raw ratio is −σ²/σ² = −1; the
	// result is clamped into [0, 1].
	e := newEstimator(
		flat("IDX", 32, 400),
		zigzag("A", 32, 1.02, true),
		zigzag("B", 32, 1.02, true),
		flatProxy(32),
	)

	rho, err := e.Implied("IDX", []string{"A", "B"}, day(31), 30, nil)
	if err != nil {
		t.Fatalf("Implied: %v", err)
	}
	if rho != 0 {
		t.Errorf("rho: got %f, want 0 (clamped)", rho)
	}
}

func TestImpliedDegenerateWeighting(t *testing.T) {
	e := newEstimator(
		zigzag("IDX", 32, 1.02, true),
		zigzag("A", 32, 1.02, true),
		flatProxy(32),
	)

	// One component has no cross terms.
	_, err := e.Implied("IDX", []string{"A"}, day(31), 30, nil)
	if !errors.Is(err, ErrDegenerateWeighting) {
		t.Errorf("got %v, want ErrDegenerateWeighting", err)
	}
}

// ════════════════════════════════════════════════════════════════════
// Dispersion Triple
// ════════════════════════════════════════════════════════════════════

func TestDispersionTriple(t *testing.T) {
	e := newEstimator(
		zigzag("IDX", 32, 1.02, true),
		zigzag("A", 32, 1.02, true),
		zigzag("B", 32, 1.02, true),
		flatProxy(32),
	)

	res, err := e.Dispersion("IDX", []string{"A", "B"}, day(31), 30, nil)
	if err != nil {
		t.Fatalf("Dispersion: %v", err)
	}
	if math.Abs(res.Dispersion-(res.Implied-res.Realized)) > 1e-12 {
		t.Errorf("dispersion != implied - realized: %+v", res)
	}
	// Identical components: implied 1, realized 1 → dispersion 0.
	if math.Abs(res.Dispersion) > 1e-9 {
		t.Errorf("dispersion: got %f, want 0", res.Dispersion)
	}
}

// ════════════════════════════════════════════════════════════════════
// DSPX Signal
// ════════════════════════════════════════════════════════════════════

// dspxSeries builds lookback alternating levels (mean 20) followed by one
// current level.
func dspxSeries(lookback int, current float64) *marketdata.Store {
	ps := &models.PriceSeries{Ticker: "DSPX"}
	for i := 0; i < lookback; i++ {
		level := 19.0
		if i%2 == 1 {
			level = 21.0
		}
		ps.Bars = append(ps.Bars, models.Bar{Date: day(i), Close: level, AdjClose: level})
	}
	ps.Bars = append(ps.Bars, models.Bar{Date: day(lookback), Close: current, AdjClose: current})
	return marketdata.NewStoreFromSeries(ps)
}

func TestDSPXSignalEnter(t *testing.T) {
	store := dspxSeries(30, 30) // far above the mean of 20
	sig, err := DSPXSignal(store, "DSPX", day(30), 30, 1.0, 0.5)
	if err != nil {
		t.Fatalf("DSPXSignal: %v", err)
	}
	if sig.Kind != models.SignalEnterTrade {
		t.Errorf("kind: got %s, want enter", sig.Kind)
	}
	if sig.ZScore <= 1.0 {
		t.Errorf("z-score should exceed entry threshold, got %f", sig.ZScore)
	}
}

func TestDSPXSignalEnterReverse(t *testing.T) {
	store := dspxSeries(30, 10) // far below the mean
	sig, err := DSPXSignal(store, "DSPX", day(30), 30, 1.0, 0.5)
	if err != nil {
		t.Fatalf("DSPXSignal: %v", err)
	}
	if sig.Kind != models.SignalEnterReverse {
		t.Errorf("kind: got %s, want enter_reverse", sig.Kind)
	}
}

func TestDSPXSignalExitOnReversion(t *testing.T) {
	store := dspxSeries(30, 20) // right at the mean
	sig, err := DSPXSignal(store, "DSPX", day(30), 30, 1.0, 0.5)
	if err != nil {
		t.Fatalf("DSPXSignal: %v", err)
	}
	if sig.Kind != models.SignalExitTrade {
		t.Errorf("kind: got %s, want exit", sig.Kind)
	}
}

func TestDSPXSignalHoldBetweenThresholds(t *testing.T) {
	// Mean 20, stdev ≈ 1.017; one stdev above is ≈ 21 → z ≈ 0.98 sits
	// between exit (0.5) and entry (1.0) thresholds.
	store := dspxSeries(30, 21)
	sig, err := DSPXSignal(store, "DSPX", day(30), 30, 1.0, 0.5)
	if err != nil {
		t.Fatalf("DSPXSignal: %v", err)
	}
	if sig.Kind != models.SignalNone {
		t.Errorf("kind: got %s, want none", sig.Kind)
	}
}

func TestDSPXSignalShortHistory(t *testing.T) {
	store := dspxSeries(5, 20)
	if _, err := DSPXSignal(store, "DSPX", day(5), 30, 1.0, 0.5); !errors.Is(err, marketdata.ErrMissingProxyData) {
		t.Errorf("got %v, want ErrMissingProxyData", err)
	}
}
