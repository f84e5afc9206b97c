package pricing

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
// Black-Scholes
// ════════════════════════════════════════════════════════════════════

func TestBlackScholesReferenceValues(t *testing.T) {
	// S=K=100, T=30/365, r=0.02, σ=0.25
	tm := 30.0 / 365.0

	call, err := BlackScholes(100, 100, tm, 0.02, 0.25, models.Call)
	if err != nil {
		t.Fatalf("BlackScholes call: %v", err)
	}
	if math.Abs(call-2.9392) > 1e-2 {
		t.Errorf("call: got %f, want ≈2.9392", call)
	}

	put, err := BlackScholes(100, 100, tm, 0.02, 0.25, models.Put)
	if err != nil {
		t.Fatalf("BlackScholes put: %v", err)
	}
	if math.Abs(put-2.7750) > 1e-2 {
		t.Errorf("put: got %f, want ≈2.7750", put)
	}
}

func TestPutCallParity(t *testing.T) {
	cases := []struct {
		spot, strike, t, rate, sigma float64
	}{
		{100, 100, 30.0 / 365.0, 0.02, 0.25},
		{120, 100, 0.5, 0.05, 0.40},
		{80, 100, 1.0, 0.01, 0.15},
		{100, 95, 0.25, 0.03, 0.60},
	}
	for _, tc := range cases {
		call, err := BlackScholes(tc.spot, tc.strike, tc.t, tc.rate, tc.sigma, models.Call)
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		put, err := BlackScholes(tc.spot, tc.strike, tc.t, tc.rate, tc.sigma, models.Put)
		if err != nil {
			t.Fatalf("put: %v", err)
		}
		// C − P = S − K·e^{−rT}
		lhs := call - put
		rhs := tc.spot - tc.strike*math.Exp(-tc.rate*tc.t)
		if math.Abs(lhs-rhs) > 1e-9 {
			t.Errorf("parity violated for %+v: C-P=%f, S-Ke^-rT=%f", tc, lhs, rhs)
		}
	}
}

func TestBlackScholesValidation(t *testing.T) {
	if _, err := BlackScholes(100, 0, 0.1, 0.02, 0.25, models.Call); !errors.Is(err, ErrInvalidStrike) {
		t.Errorf("zero strike: got %v, want ErrInvalidStrike", err)
	}
	if _, err := BlackScholes(100, 100, 0, 0.02, 0.25, models.Call); !errors.Is(err, ErrInvalidExpiry) {
		t.Errorf("zero expiry: got %v, want ErrInvalidExpiry", err)
	}
}

func TestBlackScholesZeroVolIsIntrinsic(t *testing.T) {
	call, err := BlackScholes(110, 100, 0.5, 0.0, 0, models.Call)
	if err != nil {
		t.Fatalf("BlackScholes: %v", err)
	}
	if math.Abs(call-10) > 1e-12 {
		t.Errorf("zero-vol call: got %f, want 10", call)
	}
}

func TestBlackScholesNeverNegative(t *testing.T) {
	put, err := BlackScholes(1000, 1, 0.01, 0.10, 0.05, models.Put)
	if err != nil {
		t.Fatalf("BlackScholes: %v", err)
	}
	if put < 0 {
		t.Errorf("premium must be non-negative, got %f", put)
	}
}

// ════════════════════════════════════════════════════════════════════
// Binomial
// ════════════════════════════════════════════════════════════════════

func TestBinomialConvergesToBlackScholes(t *testing.T) {
	tm := 30.0 / 365.0
	bs, err := BlackScholes(100, 100, tm, 0.02, 0.25, models.Call)
	if err != nil {
		t.Fatalf("BlackScholes: %v", err)
	}

	// An American call on a non-dividend stock equals the European price,
	// and the lattice converges as steps grow.
	bin10, err := Binomial(100, 100, tm, 0.02, 0.25, 10, models.Call)
	if err != nil {
		t.Fatalf("Binomial(10): %v", err)
	}
	bin500, err := Binomial(100, 100, tm, 0.02, 0.25, 500, models.Call)
	if err != nil {
		t.Fatalf("Binomial(500): %v", err)
	}
	if math.Abs(bin500-bs) > math.Abs(bin10-bs) {
		t.Errorf("more steps should converge toward closed form: |%f-%f| vs |%f-%f|",
			bin500, bs, bin10, bs)
	}
	if math.Abs(bin500-2.9378) > 1e-2 {
		t.Errorf("binomial 500 steps: got %f, want ≈2.9378", bin500)
	}
	if math.Abs(bin500-bs) > 0.01 {
		t.Errorf("500-step lattice should be within a cent of closed form: %f vs %f", bin500, bs)
	}
}

func TestBinomialAmericanPutPremiumOverEuropean(t *testing.T) {
	// Early exercise makes a deep ITM American put worth at least the
	// European price, and never less than intrinsic.
	spot, strike, tm, rate, sigma := 60.0, 100.0, 0.5, 0.05, 0.20

	euro, err := BlackScholes(spot, strike, tm, rate, sigma, models.Put)
	if err != nil {
		t.Fatalf("BlackScholes: %v", err)
	}
	amer, err := Binomial(spot, strike, tm, rate, sigma, 300, models.Put)
	if err != nil {
		t.Fatalf("Binomial: %v", err)
	}
	if amer < euro-1e-9 {
		t.Errorf("American put %f below European %f", amer, euro)
	}
	if amer < strike-spot {
		t.Errorf("American put %f below intrinsic %f", amer, strike-spot)
	}
}

func TestBinomialValidation(t *testing.T) {
	if _, err := Binomial(100, -5, 0.1, 0.02, 0.25, 100, models.Call); !errors.Is(err, ErrInvalidStrike) {
		t.Errorf("negative strike: got %v, want ErrInvalidStrike", err)
	}
	if _, err := Binomial(100, 100, -0.1, 0.02, 0.25, 100, models.Call); !errors.Is(err, ErrInvalidExpiry) {
		t.Errorf("negative expiry: got %v, want ErrInvalidExpiry", err)
	}
	if _, err := Binomial(100, 100, 0.1, 0.02, 0.25, 0, models.Call); !errors.Is(err, models.ErrInvalidConfiguration) {
		t.Errorf("zero steps: got %v, want ErrInvalidConfiguration", err)
	}
}

// ════════════════════════════════════════════════════════════════════
// Greeks
// ════════════════════════════════════════════════════════════════════

func TestVegaPositiveAndPeaksATM(t *testing.T) {
	tm := 0.25
	atm := Vega(100, 100, tm, 0.02, 0.25)
	itm := Vega(130, 100, tm, 0.02, 0.25)
	otm := Vega(70, 100, tm, 0.02, 0.25)
	if atm <= 0 {
		t.Errorf("ATM vega should be positive, got %f", atm)
	}
	if atm <= itm || atm <= otm {
		t.Errorf("vega should peak near the money: atm=%f itm=%f otm=%f", atm, itm, otm)
	}
}

func TestVegaMatchesFiniteDifference(t *testing.T) {
	spot, strike, tm, rate, sigma := 100.0, 105.0, 0.5, 0.03, 0.30
	h := 1e-5
	up, _ := BlackScholes(spot, strike, tm, rate, sigma+h, models.Call)
	down, _ := BlackScholes(spot, strike, tm, rate, sigma-h, models.Call)
	fd := (up - down) / (2 * h)
	if math.Abs(Vega(spot, strike, tm, rate, sigma)-fd) > 1e-4 {
		t.Errorf("vega: closed form %f vs finite difference %f", Vega(spot, strike, tm, rate, sigma), fd)
	}
}

func TestThetaNegativeForLongATM(t *testing.T) {
	theta := Theta(100, 100, 0.25, 0.02, 0.25, models.Call)
	if theta >= 0 {
		t.Errorf("ATM call theta should be negative, got %f", theta)
	}
}

// ════════════════════════════════════════════════════════════════════
// Pricer
// ════════════════════════════════════════════════════════════════════

func day(i int) time.Time {
	return time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

func testPricer(t *testing.T) *Pricer {
	t.Helper()
	ps := &models.PriceSeries{Ticker: "X"}
	price := 100.0
	for i := 0; i < 40; i++ {
		ps.Bars = append(ps.Bars, models.Bar{Date: day(i), Close: price, AdjClose: price})
		if i%2 == 0 {
			price *= 1.02
		} else {
			price /= 1.02
		}
	}
	store := marketdata.NewStoreFromSeries(ps)
	return NewPricer(store, volatility.NewEstimator(store, "", zap.NewNop()))
}

func TestPricerResolvesSpotAndVol(t *testing.T) {
	p := testPricer(t)
	premium, err := p.Price("X", day(39), day(39).AddDate(0, 0, 30), 100, models.Call)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if premium <= 0 {
		t.Errorf("ATM premium should be positive, got %f", premium)
	}
}

func TestPricerCustomVolMatchesDirectCall(t *testing.T) {
	p := testPricer(t)
	p.VolMethod = models.VolCustom
	p.VolOverride = 0.25

	asOf := day(39)
	exp := asOf.AddDate(0, 0, 30)
	premium, err := p.Price("X", asOf, exp, 100, models.Call)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	spot, _ := p.store.Spot("X", asOf)
	want, _ := BlackScholes(spot, 100, p.YearsToExpiry(asOf, exp), p.RiskFreeRate, 0.25, models.Call)
	if math.Abs(premium-want) > 1e-12 {
		t.Errorf("got %f, want %f", premium, want)
	}
}

func TestPricerBinomialDispatch(t *testing.T) {
	p := testPricer(t)
	p.Model = models.Binomial
	p.BinomialSteps = 50
	premium, err := p.Price("X", day(39), day(39).AddDate(0, 0, 30), 100, models.Call)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if premium <= 0 {
		t.Errorf("premium should be positive, got %f", premium)
	}
}

func TestPricerExpiredContract(t *testing.T) {
	p := testPricer(t)
	if _, err := p.Price("X", day(39), day(39), 100, models.Call); !errors.Is(err, ErrExpiredContract) {
		t.Errorf("same-day expiry: got %v, want ErrExpiredContract", err)
	}
	if _, err := p.Price("X", day(39), day(10), 100, models.Call); !errors.Is(err, ErrExpiredContract) {
		t.Errorf("past expiry: got %v, want ErrExpiredContract", err)
	}
}

func TestPricerInvalidStrike(t *testing.T) {
	p := testPricer(t)
	if _, err := p.Price("X", day(39), day(50), -1, models.Call); !errors.Is(err, ErrInvalidStrike) {
		t.Errorf("got %v, want ErrInvalidStrike", err)
	}
}

func TestPricerGreeks(t *testing.T) {
	p := testPricer(t)
	vega, theta, err := p.Greeks("X", day(39), day(39).AddDate(0, 0, 30), 100, models.Call)
	if err != nil {
		t.Fatalf("Greeks: %v", err)
	}
	if vega <= 0 {
		t.Errorf("vega should be positive, got %f", vega)
	}
	if theta >= 0 {
		t.Errorf("theta should be negative, got %f", theta)
	}
}
