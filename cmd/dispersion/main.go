// Dispersion — volatility-dispersion options strategy backtester.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seenimoa/dispersion/api"
	"github.com/seenimoa/dispersion/internal/backtest"
	"github.com/seenimoa/dispersion/internal/config"
	"github.com/seenimoa/dispersion/internal/correlation"
	"github.com/seenimoa/dispersion/internal/logging"
	"github.com/seenimoa/dispersion/internal/marketdata"
	"github.com/seenimoa/dispersion/internal/pricing"
	"github.com/seenimoa/dispersion/internal/report"
	"github.com/seenimoa/dispersion/internal/universe"
	"github.com/seenimoa/dispersion/internal/volatility"
	"github.com/seenimoa/dispersion/pkg/models"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dispersion",
	Short: "Volatility-dispersion options strategy backtester",
	Long: `Dispersion backtests a volatility-dispersion options strategy:
short index volatility against long component volatility when implied
correlation runs rich relative to realized correlation, and the reverse
when it runs cheap. Positions are simulated straddles managed under
explicit drawdown, exposure, and stop-loss constraints.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.Logging.Level = lvl
		}
		logger, _, err = logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(priceCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dispersion %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Run Command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the dispersion backtest and write reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, components, weights, err := loadMarket(ctx)
		if err != nil {
			return err
		}

		engine, err := backtest.NewEngine(cfg, store, components, weights, logger)
		if err != nil {
			return err
		}
		res, err := engine.Run(ctx)
		if err != nil {
			return err
		}

		w, err := report.NewWriter(cfg.Paths.ResultsDir, logger)
		if err != nil {
			return err
		}
		if err := w.WriteAll(res); err != nil {
			return err
		}

		fmt.Print(report.RenderSummary(res.Summary))
		return nil
	},
}

// --- Signal Command ---

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Evaluate the dispersion signal for a single date",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		asOf, err := flagDate(cmd, "date", cfg.EndTime())
		if err != nil {
			return err
		}

		store, components, weights, err := loadMarket(ctx)
		if err != nil {
			return err
		}

		vol := volatility.NewEstimator(store, cfg.Universe.ProxyTicker, logger)
		corr := correlation.NewEstimator(store, vol, logger)

		fmt.Printf("Signal for %s\n\n", asOf.Format("2006-01-02"))

		res, err := corr.Dispersion(cfg.Universe.IndexTicker, components, asOf,
			cfg.Options.Lookback, weights)
		if err != nil {
			return fmt.Errorf("correlation dispersion: %w", err)
		}
		fmt.Printf("  %-24s %.4f\n", "Implied correlation", res.Implied)
		fmt.Printf("  %-24s %.4f\n", "Realized correlation", res.Realized)
		fmt.Printf("  %-24s %.4f  (entry > %.2f, exit < %.2f)\n",
			"Dispersion", res.Dispersion,
			cfg.Dispersion.EntryThreshold, cfg.Dispersion.ExitThreshold)

		if cfg.Dispersion.UseDSPX && store.Has(cfg.Universe.DSPXTicker) {
			sig, err := correlation.DSPXSignal(store, cfg.Universe.DSPXTicker, asOf,
				cfg.Dispersion.DSPXLookback, cfg.Dispersion.EntryThreshold, cfg.Dispersion.ExitThreshold)
			if err != nil {
				return fmt.Errorf("dispersion index signal: %w", err)
			}
			fmt.Printf("  %-24s %.4f\n", "Index z-score", sig.ZScore)
			fmt.Printf("  %-24s %s\n", "Signal", sig.Kind)
		}
		return nil
	},
}

func init() {
	signalCmd.Flags().String("date", "", "evaluation date YYYY-MM-DD (default: backtest end date)")
}

// --- Price Command ---

var priceCmd = &cobra.Command{
	Use:   "price [ticker]",
	Short: "Price a single option contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ticker := args[0]

		strike, _ := cmd.Flags().GetFloat64("strike")
		dte, _ := cmd.Flags().GetInt("dte")
		typeStr, _ := cmd.Flags().GetString("type")
		optType, err := models.ParseOptionType(typeStr)
		if err != nil {
			return err
		}
		asOf, err := flagDate(cmd, "date", cfg.EndTime())
		if err != nil {
			return err
		}

		store, err := marketdata.LoadDir(ctx, cfg.Paths.DataDir,
			dedupe([]string{ticker, cfg.Universe.ProxyTicker}))
		if err != nil {
			return err
		}

		spot, err := store.Spot(ticker, asOf)
		if err != nil {
			return err
		}
		if strike <= 0 {
			strike = spot
		}
		expiration := asOf.AddDate(0, 0, dte)

		vol := volatility.NewEstimator(store, cfg.Universe.ProxyTicker, logger)
		pricer := pricing.NewPricer(store, vol)
		pricer.Lookback = cfg.Options.Lookback
		pricer.RiskFreeRate = cfg.Options.RiskFreeRate
		pricer.BinomialSteps = cfg.Options.BinomialSteps
		if pricer.Model, err = models.ParsePricingModel(cfg.Options.PricingModel); err != nil {
			return err
		}
		if pricer.VolMethod, err = models.ParseVolatilityMethod(cfg.Options.VolatilityMethod); err != nil {
			return err
		}
		pricer.VolOverride = cfg.Options.VolatilityOverride

		premium, err := pricer.Price(ticker, asOf, expiration, strike, optType)
		if err != nil {
			return err
		}
		vega, theta, err := pricer.Greeks(ticker, asOf, expiration, strike, optType)
		if err != nil {
			return err
		}

		fmt.Printf("%s %s  strike %.2f  expiring %s\n",
			ticker, optType, strike, expiration.Format("2006-01-02"))
		fmt.Printf("  %-10s %.2f\n", "Spot", spot)
		fmt.Printf("  %-10s %.4f\n", "Premium", premium)
		fmt.Printf("  %-10s %.4f\n", "Vega", vega)
		fmt.Printf("  %-10s %.4f\n", "Theta", theta)
		return nil
	},
}

func init() {
	priceCmd.Flags().Float64("strike", 0, "strike price (default: spot)")
	priceCmd.Flags().Int("dte", 30, "days to expiry")
	priceCmd.Flags().String("type", "call", "option type: call or put")
	priceCmd.Flags().String("date", "", "pricing date YYYY-MM-DD (default: backtest end date)")
}

// --- Serve Command ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve backtest results over HTTP",
	Long: `Serve previously written backtest results over HTTP. If no result.json
exists in the results directory, the backtest is run first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		res, err := loadResult(filepath.Join(cfg.Paths.ResultsDir, "result.json"))
		if os.IsNotExist(err) {
			logger.Info("no stored result, running backtest first")
			store, components, weights, lerr := loadMarket(ctx)
			if lerr != nil {
				return lerr
			}
			engine, lerr := backtest.NewEngine(cfg, store, components, weights, logger)
			if lerr != nil {
				return lerr
			}
			if res, lerr = engine.Run(ctx); lerr != nil {
				return lerr
			}
			if w, werr := report.NewWriter(cfg.Paths.ResultsDir, logger); werr == nil {
				if werr = w.WriteAll(res); werr != nil {
					logger.Warn("failed to persist result", zap.Error(werr))
				}
			}
		} else if err != nil {
			return err
		}

		return api.NewServer(cfg, res, logger).ListenAndServe()
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and data availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  Dispersion — Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:    %s (%s)\n", version, commit)
		fmt.Printf("  Period:     %s — %s\n", cfg.Backtest.StartDate, cfg.Backtest.EndDate)
		fmt.Printf("  Capital:    %.0f\n", cfg.Portfolio.InitialCapital)
		fmt.Println()
		fmt.Println("  Universe:")
		fmt.Printf("    Index:       %s\n", cfg.Universe.IndexTicker)
		fmt.Printf("    Vol proxy:   %s\n", cfg.Universe.ProxyTicker)
		fmt.Printf("    Components:  %d requested\n", cfg.Universe.NumStocks)
		fmt.Println()
		fmt.Println("  Strategy:")
		fmt.Printf("    Pricing:     %s / %s vol\n", cfg.Options.PricingModel, cfg.Options.VolatilityMethod)
		fmt.Printf("    Thresholds:  entry %.2f, exit %.2f\n",
			cfg.Dispersion.EntryThreshold, cfg.Dispersion.ExitThreshold)
		fmt.Printf("    Sizing:      %s (max %.1f%% per position)\n",
			cfg.Risk.PositionSizingMethod, cfg.Risk.MaxPositionRiskPct*100)
		fmt.Println()
		fmt.Println("  Paths:")
		for _, p := range []struct{ label, dir string }{
			{"Data", cfg.Paths.DataDir},
			{"Results", cfg.Paths.ResultsDir},
		} {
			status := "missing"
			if info, err := os.Stat(p.dir); err == nil && info.IsDir() {
				status = "ok"
			}
			fmt.Printf("    %-10s %s (%s)\n", p.label+":", p.dir, status)
		}
		fmt.Printf("  API Server:  %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}

// ════════════════════════════════════════════════════════════════════
// Shared wiring
// ════════════════════════════════════════════════════════════════════

// loadMarket resolves the component universe and loads every needed price
// series from the data directory.
func loadMarket(ctx context.Context) (*marketdata.Store, []string, universe.WeightTable, error) {
	weights, err := resolveWeights()
	if err != nil {
		return nil, nil, nil, err
	}

	chosen := universe.Select(weights.Tickers(), cfg.Universe.NumStocks,
		cfg.Universe.Seed, cfg.Universe.RandomSelection)

	tickers := append([]string{
		cfg.Universe.IndexTicker,
		cfg.Universe.ProxyTicker,
	}, chosen...)
	if cfg.Dispersion.UseDSPX && cfg.Universe.DSPXTicker != "" {
		tickers = append(tickers, cfg.Universe.DSPXTicker)
	}

	store, err := marketdata.LoadDir(ctx, cfg.Paths.DataDir, dedupe(tickers))
	if err != nil {
		return nil, nil, nil, err
	}

	components, err := universe.FilterByCoverage(store, chosen, cfg.Universe.IndexTicker,
		cfg.StartTime(), cfg.EndTime(), cfg.Universe.MinCoverage, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(components) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: no components with sufficient coverage",
			marketdata.ErrInsufficientData)
	}

	return store, components, weights.Subset(components), nil
}

// resolveWeights loads index weights from file when configured, otherwise
// equal-weights the explicit ticker list.
func resolveWeights() (universe.WeightTable, error) {
	if cfg.Universe.WeightsFile != "" {
		return universe.LoadWeights(cfg.Universe.WeightsFile, logger)
	}
	if len(cfg.Universe.Tickers) == 0 {
		return nil, fmt.Errorf("no weights file and no explicit universe tickers configured")
	}
	wt := universe.WeightTable{}
	for _, tk := range cfg.Universe.Tickers {
		wt[tk] = 1.0 / float64(len(cfg.Universe.Tickers))
	}
	return wt, nil
}

func loadResult(path string) (*backtest.Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var res backtest.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &res, nil
}

func flagDate(cmd *cobra.Command, name string, fallback time.Time) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s; use YYYY-MM-DD", name)
	}
	return t, nil
}

func dedupe(tickers []string) []string {
	seen := make(map[string]bool, len(tickers))
	out := tickers[:0]
	for _, tk := range tickers {
		if tk == "" || seen[tk] {
			continue
		}
		seen[tk] = true
		out = append(out, tk)
	}
	return out
}
