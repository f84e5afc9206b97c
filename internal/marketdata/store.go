// Package marketdata holds the daily price history the backtest runs on:
// per-ticker series, exogenous index level series (volatility proxy,
// dispersion index), and the trading calendar derived from them.
package marketdata

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/seenimoa/dispersion/pkg/models"
)

var (
	// ErrUnknownTicker is returned when a ticker was never loaded.
	ErrUnknownTicker = errors.New("unknown ticker")
	// ErrInsufficientData is returned when a trailing window holds fewer
	// observations than an estimator needs.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrMissingProxyData is returned when the implied-vol proxy or
	// dispersion-index series lacks coverage for a requested window.
	ErrMissingProxyData = errors.New("missing proxy data")
)

// Store is the read-only repository of loaded price series. It is populated
// once before the run and never mutated afterwards, so concurrent reads
// need no locking.
type Store struct {
	series map[string]*models.PriceSeries
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{series: make(map[string]*models.PriceSeries)}
}

// NewStoreFromSeries builds a store directly from in-memory series.
func NewStoreFromSeries(series ...*models.PriceSeries) *Store {
	s := NewStore()
	for _, ps := range series {
		s.Put(ps)
	}
	return s
}

// Put adds or replaces a series. Bars are sorted ascending by date.
func (s *Store) Put(ps *models.PriceSeries) {
	sort.Slice(ps.Bars, func(i, j int) bool {
		return ps.Bars[i].Date.Before(ps.Bars[j].Date)
	})
	s.series[ps.Ticker] = ps
}

// Series returns the loaded series for ticker.
func (s *Store) Series(ticker string) (*models.PriceSeries, error) {
	ps, ok := s.series[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	return ps, nil
}

// Has reports whether ticker has been loaded.
func (s *Store) Has(ticker string) bool {
	_, ok := s.series[ticker]
	return ok
}

// Tickers returns all loaded tickers, sorted.
func (s *Store) Tickers() []string {
	out := make([]string, 0, len(s.series))
	for t := range s.series {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Spot returns the adjusted close for ticker on the given date, falling back
// to the most recent prior bar.
func (s *Store) Spot(ticker string, date time.Time) (float64, error) {
	ps, err := s.Series(ticker)
	if err != nil {
		return 0, err
	}
	price, ok := ps.PriceOn(date)
	if !ok {
		return 0, fmt.Errorf("%w: %s has no bar on or before %s",
			ErrInsufficientData, ticker, date.Format("2006-01-02"))
	}
	return price, nil
}

// LogReturns returns the trailing daily log returns for ticker ending
// strictly before asOf, at most lookback of them. Fails when fewer than two
// observations are available.
func (s *Store) LogReturns(ticker string, asOf time.Time, lookback int) ([]float64, error) {
	ps, err := s.Series(ticker)
	if err != nil {
		return nil, err
	}
	returns := ps.LogReturnsBefore(asOf, lookback)
	if len(returns) < 2 {
		return nil, fmt.Errorf("%w: %s has %d return(s) before %s, need at least 2",
			ErrInsufficientData, ticker, len(returns), asOf.Format("2006-01-02"))
	}
	return returns, nil
}

// Level returns the level of an exogenous index series (proxy, dispersion
// index) on or before the given date. Index series are stored like price
// series with the level in the close columns.
func (s *Store) Level(ticker string, date time.Time) (float64, error) {
	ps, ok := s.series[ticker]
	if !ok {
		return 0, fmt.Errorf("%w: series %s not loaded", ErrMissingProxyData, ticker)
	}
	level, found := ps.PriceOn(date)
	if !found {
		return 0, fmt.Errorf("%w: %s has no level on or before %s",
			ErrMissingProxyData, ticker, date.Format("2006-01-02"))
	}
	return level, nil
}

// LevelWindow returns the trailing lookback levels of an index series ending
// on or before asOf, oldest first. Fails when the window cannot be filled.
func (s *Store) LevelWindow(ticker string, asOf time.Time, lookback int) ([]float64, error) {
	ps, ok := s.series[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: series %s not loaded", ErrMissingProxyData, ticker)
	}
	end := -1
	for i := range ps.Bars {
		if ps.Bars[i].Date.After(asOf) {
			break
		}
		end = i
	}
	if end+1 < lookback {
		return nil, fmt.Errorf("%w: %s has %d level(s) on or before %s, need %d",
			ErrMissingProxyData, ticker, end+1, asOf.Format("2006-01-02"), lookback)
	}
	window := make([]float64, lookback)
	for i := 0; i < lookback; i++ {
		window[i] = ps.Bars[end-lookback+1+i].AdjClose
	}
	return window, nil
}

// LevelMean returns the mean of the trailing lookback levels ending on or
// before asOf.
func (s *Store) LevelMean(ticker string, asOf time.Time, lookback int) (float64, error) {
	window, err := s.LevelWindow(ticker, asOf, lookback)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	return sum / float64(len(window)), nil
}

// LevelStats returns mean and standard deviation of the trailing window,
// used by the dispersion-index z-score signal.
func (s *Store) LevelStats(ticker string, asOf time.Time, lookback int) (mean, stdev float64, err error) {
	window, err := s.LevelWindow(ticker, asOf, lookback)
	if err != nil {
		return 0, 0, err
	}
	for _, v := range window {
		mean += v
	}
	mean /= float64(len(window))
	for _, v := range window {
		d := v - mean
		stdev += d * d
	}
	stdev = math.Sqrt(stdev / float64(len(window)-1))
	return mean, stdev, nil
}

// Calendar returns the dates in [start, end] on which every one of the named
// tickers has a bar, ascending. This is the trading calendar the engine
// steps over.
func (s *Store) Calendar(start, end time.Time, tickers []string) ([]time.Time, error) {
	if len(tickers) == 0 {
		return nil, fmt.Errorf("%w: no tickers for calendar", ErrInsufficientData)
	}
	counts := make(map[time.Time]int)
	for _, t := range tickers {
		ps, err := s.Series(t)
		if err != nil {
			return nil, err
		}
		for _, d := range ps.Dates() {
			if d.Before(start) || d.After(end) {
				continue
			}
			counts[d]++
		}
	}
	var calendar []time.Time
	for d, n := range counts {
		if n == len(tickers) {
			calendar = append(calendar, d)
		}
	}
	sort.Slice(calendar, func(i, j int) bool { return calendar[i].Before(calendar[j]) })
	return calendar, nil
}
