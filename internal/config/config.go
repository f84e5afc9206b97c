// Package config handles configuration loading for the dispersion backtester.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/seenimoa/dispersion/pkg/models"
)

// Config represents the complete application configuration.
type Config struct {
	Backtest   BacktestConfig   `mapstructure:"backtest"        yaml:"backtest"`
	Portfolio  PortfolioConfig  `mapstructure:"portfolio"       yaml:"portfolio"`
	Universe   UniverseConfig   `mapstructure:"universe"        yaml:"universe"`
	Options    OptionsConfig    `mapstructure:"options"         yaml:"options"`
	Dispersion DispersionConfig `mapstructure:"dispersion"      yaml:"dispersion"`
	Risk       RiskConfig       `mapstructure:"risk_management" yaml:"risk_management"`
	Paths      PathsConfig      `mapstructure:"paths"           yaml:"paths"`
	API        APIConfig        `mapstructure:"api"             yaml:"api"`
	Logging    LoggingConfig    `mapstructure:"logging"         yaml:"logging"`
}

// BacktestConfig holds the simulation date range.
type BacktestConfig struct {
	StartDate string `mapstructure:"start_date" yaml:"start_date"` // YYYY-MM-DD
	EndDate   string `mapstructure:"end_date"   yaml:"end_date"`   // YYYY-MM-DD
}

// PortfolioConfig holds capital and transaction cost settings.
type PortfolioConfig struct {
	InitialCapital float64 `mapstructure:"initial_capital" yaml:"initial_capital"`
	CommissionPct  float64 `mapstructure:"commission_pct"  yaml:"commission_pct"`  // fraction of notional
	CommissionMin  float64 `mapstructure:"commission_min"  yaml:"commission_min"`  // dollar floor per fill
	SlippagePct    float64 `mapstructure:"slippage_pct"    yaml:"slippage_pct"`    // fraction of premium
}

// UniverseConfig holds index and component selection settings.
type UniverseConfig struct {
	IndexTicker     string   `mapstructure:"index_ticker"     yaml:"index_ticker"`
	ProxyTicker     string   `mapstructure:"proxy_ticker"     yaml:"proxy_ticker"`     // implied-vol proxy series, e.g. VIX
	DSPXTicker      string   `mapstructure:"dspx_ticker"      yaml:"dspx_ticker"`      // dispersion index series, optional
	Tickers         []string `mapstructure:"tickers"          yaml:"tickers"`          // explicit components; empty = from weights file
	NumStocks       int      `mapstructure:"num_stocks"       yaml:"num_stocks"`
	RandomSelection bool     `mapstructure:"random_selection"  yaml:"random_selection"`
	Seed            int64    `mapstructure:"seed"             yaml:"seed"`
	WeightsFile     string   `mapstructure:"weights_file"     yaml:"weights_file"`
	MinCoverage     float64  `mapstructure:"min_coverage"     yaml:"min_coverage"` // fraction of index trading days
}

// OptionsConfig holds pricing settings.
type OptionsConfig struct {
	PricingModel       string  `mapstructure:"pricing_model"         yaml:"pricing_model"`     // "black_scholes" or "binomial"
	VolatilityMethod   string  `mapstructure:"volatility_method"     yaml:"volatility_method"` // "historical", "implied", "custom"
	VolatilityOverride float64 `mapstructure:"volatility_override"   yaml:"volatility_override"`
	Lookback           int     `mapstructure:"lookback"              yaml:"lookback"` // trading days
	RiskFreeRate       float64 `mapstructure:"risk_free_rate"        yaml:"risk_free_rate"`
	BinomialSteps      int     `mapstructure:"binomial_steps"        yaml:"binomial_steps"`
	MinDaysToExpiry    int     `mapstructure:"min_days_to_expiry"    yaml:"min_days_to_expiry"`
	TargetDaysToExpiry int     `mapstructure:"target_days_to_expiry" yaml:"target_days_to_expiry"`
}

// DispersionConfig holds signal generation settings.
type DispersionConfig struct {
	EntryThreshold float64 `mapstructure:"entry_threshold" yaml:"entry_threshold"`
	ExitThreshold  float64 `mapstructure:"exit_threshold"  yaml:"exit_threshold"`
	DSPXLookback   int     `mapstructure:"dspx_lookback"   yaml:"dspx_lookback"`
	UseDSPX        bool    `mapstructure:"use_dspx"        yaml:"use_dspx"`
}

// RiskConfig holds drawdown, sizing and exposure limit settings.
type RiskConfig struct {
	MaxDrawdownPct          float64 `mapstructure:"max_drawdown_pct"           yaml:"max_drawdown_pct"`
	RecoveryDays            int     `mapstructure:"recovery_days_after_max_drawdown" yaml:"recovery_days_after_max_drawdown"`
	RecoveryPercentage      float64 `mapstructure:"recovery_percentage"        yaml:"recovery_percentage"`
	PositionSizingMethod    string  `mapstructure:"position_sizing_method"     yaml:"position_sizing_method"` // "equal_risk" or "kelly"
	MaxPositionRiskPct      float64 `mapstructure:"max_position_risk_pct"      yaml:"max_position_risk_pct"`
	MaxPortfolioRiskPct     float64 `mapstructure:"max_portfolio_risk_pct"     yaml:"max_portfolio_risk_pct"`
	StopLossPct             float64 `mapstructure:"stop_loss_pct"              yaml:"stop_loss_pct"`
	MaxVegaExposure         float64 `mapstructure:"max_vega_exposure"          yaml:"max_vega_exposure"`
	MaxThetaExposure        float64 `mapstructure:"max_theta_exposure"         yaml:"max_theta_exposure"`
	LongShortBalanceFactor  float64 `mapstructure:"long_short_balance_factor"  yaml:"long_short_balance_factor"`
	MaxLegImbalanceRatio    float64 `mapstructure:"max_leg_imbalance_ratio"    yaml:"max_leg_imbalance_ratio"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	DataDir    string `mapstructure:"data_dir"    yaml:"data_dir"`
	ResultsDir string `mapstructure:"results_dir" yaml:"results_dir"`
}

// APIConfig holds HTTP results server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.dispersion/config.yaml (home directory)
//  3. /etc/dispersion/config.yaml (system)
//
// Environment variables override config file values.
// Format: DISPERSION_<SECTION>_<KEY>, e.g., DISPERSION_LOGGING_LEVEL
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".dispersion"))
	v.AddConfigPath("/etc/dispersion")

	v.SetEnvPrefix("DISPERSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found — that's fine, use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("DISPERSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Backtest defaults
	v.SetDefault("backtest.start_date", "2020-01-01")
	v.SetDefault("backtest.end_date", "2023-12-31")

	// Portfolio defaults
	v.SetDefault("portfolio.initial_capital", 1000000)
	v.SetDefault("portfolio.commission_pct", 0.001)
	v.SetDefault("portfolio.commission_min", 1.0)
	v.SetDefault("portfolio.slippage_pct", 0.001)

	// Universe defaults
	v.SetDefault("universe.index_ticker", "SPY")
	v.SetDefault("universe.proxy_ticker", "VIX")
	v.SetDefault("universe.num_stocks", 10)
	v.SetDefault("universe.random_selection", false)
	v.SetDefault("universe.seed", 42)
	v.SetDefault("universe.min_coverage", 0.9)

	// Options defaults
	v.SetDefault("options.pricing_model", "black_scholes")
	v.SetDefault("options.volatility_method", "historical")
	v.SetDefault("options.lookback", 30)
	v.SetDefault("options.risk_free_rate", 0.02)
	v.SetDefault("options.binomial_steps", 100)
	v.SetDefault("options.min_days_to_expiry", 7)
	v.SetDefault("options.target_days_to_expiry", 30)

	// Dispersion signal defaults
	v.SetDefault("dispersion.entry_threshold", 0.15)
	v.SetDefault("dispersion.exit_threshold", 0.05)
	v.SetDefault("dispersion.dspx_lookback", 60)
	v.SetDefault("dispersion.use_dspx", true)

	// Risk defaults
	v.SetDefault("risk_management.max_drawdown_pct", 0.20)
	v.SetDefault("risk_management.recovery_days_after_max_drawdown", 10)
	v.SetDefault("risk_management.recovery_percentage", 0.95)
	v.SetDefault("risk_management.position_sizing_method", "equal_risk")
	v.SetDefault("risk_management.max_position_risk_pct", 0.02)
	v.SetDefault("risk_management.max_portfolio_risk_pct", 0.10)
	v.SetDefault("risk_management.stop_loss_pct", 0.50)
	v.SetDefault("risk_management.max_vega_exposure", 10000)
	v.SetDefault("risk_management.max_theta_exposure", 5000)
	v.SetDefault("risk_management.long_short_balance_factor", 1.0)
	v.SetDefault("risk_management.max_leg_imbalance_ratio", 2.0)

	// Paths defaults
	v.SetDefault("paths.data_dir", "./data")
	v.SetDefault("paths.results_dir", "./results")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks cross-field constraints and enum values. It is called once
// at startup; any error here is fatal before the simulation begins.
func (c *Config) Validate() error {
	start, err := time.Parse("2006-01-02", c.Backtest.StartDate)
	if err != nil {
		return fmt.Errorf("%w: backtest.start_date %q", models.ErrInvalidConfiguration, c.Backtest.StartDate)
	}
	end, err := time.Parse("2006-01-02", c.Backtest.EndDate)
	if err != nil {
		return fmt.Errorf("%w: backtest.end_date %q", models.ErrInvalidConfiguration, c.Backtest.EndDate)
	}
	if !end.After(start) {
		return fmt.Errorf("%w: backtest.end_date must be after start_date", models.ErrInvalidConfiguration)
	}
	if c.Portfolio.InitialCapital <= 0 {
		return fmt.Errorf("%w: portfolio.initial_capital must be positive", models.ErrInvalidConfiguration)
	}
	if _, err := models.ParsePricingModel(c.Options.PricingModel); err != nil {
		return err
	}
	if _, err := models.ParseVolatilityMethod(c.Options.VolatilityMethod); err != nil {
		return err
	}
	if _, err := models.ParseSizingMethod(c.Risk.PositionSizingMethod); err != nil {
		return err
	}
	if c.Options.Lookback < 2 {
		return fmt.Errorf("%w: options.lookback must be at least 2", models.ErrInvalidConfiguration)
	}
	if c.Options.BinomialSteps < 1 {
		return fmt.Errorf("%w: options.binomial_steps must be at least 1", models.ErrInvalidConfiguration)
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct >= 1 {
		return fmt.Errorf("%w: risk_management.max_drawdown_pct must be in (0, 1)", models.ErrInvalidConfiguration)
	}
	if c.Risk.RecoveryPercentage <= 0 || c.Risk.RecoveryPercentage > 1 {
		return fmt.Errorf("%w: risk_management.recovery_percentage must be in (0, 1]", models.ErrInvalidConfiguration)
	}
	if c.Dispersion.EntryThreshold <= c.Dispersion.ExitThreshold {
		return fmt.Errorf("%w: dispersion.entry_threshold must exceed exit_threshold", models.ErrInvalidConfiguration)
	}
	return nil
}

// StartTime returns the parsed backtest start date. Validate must have
// succeeded first.
func (c *Config) StartTime() time.Time {
	t, _ := time.Parse("2006-01-02", c.Backtest.StartDate)
	return t
}

// EndTime returns the parsed backtest end date.
func (c *Config) EndTime() time.Time {
	t, _ := time.Parse("2006-01-02", c.Backtest.EndDate)
	return t
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
