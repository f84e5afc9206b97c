// Package pricing implements the option pricers: a closed-form European
// model and a CRR binomial lattice with early exercise, plus the greeks the
// risk limits need. Volatility is an input here; method selection lives at
// the caller.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/seenimoa/dispersion/pkg/models"
)

var (
	// ErrInvalidStrike is returned for strike ≤ 0.
	ErrInvalidStrike = errors.New("invalid strike")
	// ErrInvalidExpiry is returned for time-to-expiry ≤ 0.
	ErrInvalidExpiry = errors.New("invalid expiry")
	// ErrExpiredContract is returned when the expiration date is not after
	// the pricing date.
	ErrExpiredContract = errors.New("expired contract")
)

// DaysPerYear converts calendar days to expiry into year fractions.
const DaysPerYear = 365.0

// BlackScholes prices a European option.
func BlackScholes(spot, strike, t, rate, sigma float64, optType models.OptionType) (float64, error) {
	if strike <= 0 {
		return 0, fmt.Errorf("%w: %f", ErrInvalidStrike, strike)
	}
	if t <= 0 {
		return 0, fmt.Errorf("%w: T=%f", ErrInvalidExpiry, t)
	}
	if sigma <= 0 {
		// Zero vol degenerates to discounted intrinsic value.
		return intrinsicForward(spot, strike, t, rate, optType), nil
	}

	d1 := (math.Log(spot/strike) + (rate+0.5*sigma*sigma)*t) / (sigma * math.Sqrt(t))
	d2 := d1 - sigma*math.Sqrt(t)

	var price float64
	switch optType {
	case models.Call:
		price = spot*normCDF(d1) - strike*math.Exp(-rate*t)*normCDF(d2)
	default:
		price = strike*math.Exp(-rate*t)*normCDF(-d2) - spot*normCDF(-d1)
	}
	return math.Max(0, price), nil
}

// Binomial prices an American option on a CRR tree with the given number of
// steps, taking the max of continuation and exercise value at every node.
func Binomial(spot, strike, t, rate, sigma float64, steps int, optType models.OptionType) (float64, error) {
	if strike <= 0 {
		return 0, fmt.Errorf("%w: %f", ErrInvalidStrike, strike)
	}
	if t <= 0 {
		return 0, fmt.Errorf("%w: T=%f", ErrInvalidExpiry, t)
	}
	if steps < 1 {
		return 0, fmt.Errorf("%w: binomial steps %d", models.ErrInvalidConfiguration, steps)
	}
	if sigma <= 0 {
		return intrinsicForward(spot, strike, t, rate, optType), nil
	}

	dt := t / float64(steps)
	u := math.Exp(sigma * math.Sqrt(dt))
	d := 1 / u
	p := (math.Exp(rate*dt) - d) / (u - d)
	disc := math.Exp(-rate * dt)

	// Terminal payoffs, highest node first.
	values := make([]float64, steps+1)
	for i := 0; i <= steps; i++ {
		price := spot * math.Pow(u, float64(steps-i)) * math.Pow(d, float64(i))
		values[i] = exercise(price, strike, optType)
	}

	// Backward induction with early exercise.
	for step := steps - 1; step >= 0; step-- {
		for i := 0; i <= step; i++ {
			continuation := disc * (p*values[i] + (1-p)*values[i+1])
			price := spot * math.Pow(u, float64(step-i)) * math.Pow(d, float64(i))
			values[i] = math.Max(continuation, exercise(price, strike, optType))
		}
	}
	return values[0], nil
}

// Vega is the closed-form sensitivity to a one-point volatility move. It is
// the same for calls and puts.
func Vega(spot, strike, t, rate, sigma float64) float64 {
	if strike <= 0 || t <= 0 || sigma <= 0 {
		return 0
	}
	d1 := (math.Log(spot/strike) + (rate+0.5*sigma*sigma)*t) / (sigma * math.Sqrt(t))
	return spot * normPDF(d1) * math.Sqrt(t)
}

// Theta is the closed-form time decay per year; usually negative for long
// positions.
func Theta(spot, strike, t, rate, sigma float64, optType models.OptionType) float64 {
	if strike <= 0 || t <= 0 || sigma <= 0 {
		return 0
	}
	d1 := (math.Log(spot/strike) + (rate+0.5*sigma*sigma)*t) / (sigma * math.Sqrt(t))
	d2 := d1 - sigma*math.Sqrt(t)

	decay := -spot * normPDF(d1) * sigma / (2 * math.Sqrt(t))
	switch optType {
	case models.Call:
		return decay - rate*strike*math.Exp(-rate*t)*normCDF(d2)
	default:
		return decay + rate*strike*math.Exp(-rate*t)*normCDF(-d2)
	}
}

func exercise(price, strike float64, optType models.OptionType) float64 {
	if optType == models.Call {
		return math.Max(0, price-strike)
	}
	return math.Max(0, strike-price)
}

// intrinsicForward is the zero-volatility limit of both models.
func intrinsicForward(spot, strike, t, rate float64, optType models.OptionType) float64 {
	pv := strike * math.Exp(-rate*t)
	if optType == models.Call {
		return math.Max(0, spot-pv)
	}
	return math.Max(0, pv-spot)
}

func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
