package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalidConfiguration is returned when an unknown method or model name
// reaches one of the enum parsers. Configuration errors are fatal at startup.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ContractMultiplier is the number of underlying shares per option contract.
const ContractMultiplier = 100

// OptionType distinguishes calls from puts.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// ParseOptionType converts a config string into an OptionType.
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToLower(s) {
	case "call":
		return Call, nil
	case "put":
		return Put, nil
	}
	return "", fmt.Errorf("%w: option type %q", ErrInvalidConfiguration, s)
}

// PricingModel selects the option pricing model. The set is closed: a switch
// over the enum replaces any open-ended model hierarchy.
type PricingModel string

const (
	BlackScholes PricingModel = "black_scholes" // closed-form European
	Binomial     PricingModel = "binomial"      // CRR lattice, American
)

// ParsePricingModel converts a config string into a PricingModel.
func ParsePricingModel(s string) (PricingModel, error) {
	switch strings.ToLower(s) {
	case "black_scholes":
		return BlackScholes, nil
	case "binomial":
		return Binomial, nil
	}
	return "", fmt.Errorf("%w: pricing model %q", ErrInvalidConfiguration, s)
}

// VolatilityMethod selects how the pricer's volatility input is estimated.
type VolatilityMethod string

const (
	VolHistorical VolatilityMethod = "historical"
	VolImplied    VolatilityMethod = "implied"
	VolCustom     VolatilityMethod = "custom" // caller-supplied fixed value
)

// ParseVolatilityMethod converts a config string into a VolatilityMethod.
func ParseVolatilityMethod(s string) (VolatilityMethod, error) {
	switch strings.ToLower(s) {
	case "historical":
		return VolHistorical, nil
	case "implied":
		return VolImplied, nil
	case "custom":
		return VolCustom, nil
	}
	return "", fmt.Errorf("%w: volatility method %q", ErrInvalidConfiguration, s)
}

// SizingMethod selects the position-sizing rule used by the risk manager.
type SizingMethod string

const (
	EqualRisk SizingMethod = "equal_risk"
	Kelly     SizingMethod = "kelly"
)

// ParseSizingMethod converts a config string into a SizingMethod.
func ParseSizingMethod(s string) (SizingMethod, error) {
	switch strings.ToLower(s) {
	case "equal_risk":
		return EqualRisk, nil
	case "kelly":
		return Kelly, nil
	}
	return "", fmt.Errorf("%w: position sizing method %q", ErrInvalidConfiguration, s)
}

// TradeKind identifies which direction of dispersion trade a position
// belongs to.
type TradeKind string

const (
	// StandardDispersion sells index options and buys component options.
	StandardDispersion TradeKind = "dispersion"
	// ReverseDispersion buys index options and sells component options.
	ReverseDispersion TradeKind = "reverse_dispersion"
)

// ContractStatus tracks the lifecycle of an option position.
type ContractStatus string

const (
	ContractOpen   ContractStatus = "open"
	ContractClosed ContractStatus = "closed"
)

// OptionContract is a single option position in the book. Quantity is signed:
// positive for long, negative for short. Once Status is ContractClosed the
// record is immutable.
type OptionContract struct {
	ID         string         `json:"id"`
	Ticker     string         `json:"ticker"`
	Strike     float64        `json:"strike"`
	Expiration time.Time      `json:"expiration"`
	Type       OptionType     `json:"type"`
	Quantity   int            `json:"quantity"`
	Strategy   TradeKind      `json:"strategy"`
	Status     ContractStatus `json:"status"`

	EntryDate    time.Time `json:"entry_date"`
	EntryPremium float64   `json:"entry_premium"` // per share

	// Mark-to-market state, updated once per simulated day.
	CurrentPremium float64 `json:"current_premium"`
	MarkStale      bool    `json:"mark_stale,omitempty"` // last pricing attempt failed

	ExitDate    time.Time `json:"exit_date,omitzero"`
	ExitPremium float64   `json:"exit_premium,omitempty"`
	ExitReason  string    `json:"exit_reason,omitempty"`
}

// MarketValue returns the signed dollar value of the position at the current
// mark.
func (c *OptionContract) MarketValue() float64 {
	return float64(c.Quantity) * c.CurrentPremium * ContractMultiplier
}

// EntryValue returns the signed dollar value of the position at entry.
func (c *OptionContract) EntryValue() float64 {
	return float64(c.Quantity) * c.EntryPremium * ContractMultiplier
}

// Intrinsic returns the per-share exercise value of the contract at the
// given spot price.
func (c *OptionContract) Intrinsic(spot float64) float64 {
	switch c.Type {
	case Call:
		return math.Max(0, spot-c.Strike)
	default:
		return math.Max(0, c.Strike-spot)
	}
}

// DispersionTrade bundles the index leg and the component legs opened
// atomically from one signal. Legs reference contracts by ID.
type DispersionTrade struct {
	ID              string    `json:"id"`
	Kind            TradeKind `json:"kind"`
	OpenDate        time.Time `json:"open_date"`
	IndexLegs       []string  `json:"index_legs"`
	ComponentLegs   []string  `json:"component_legs"`
	EntryDispersion float64   `json:"entry_dispersion"`
	Closed          bool      `json:"closed"`
	CloseDate       time.Time `json:"close_date,omitzero"`
}
