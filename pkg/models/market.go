// Package models defines the core data structures shared by the backtester:
// price series, option contracts, dispersion trades, and run records.
package models

import (
	"math"
	"time"
)

// Bar represents one daily OHLCV row for a ticker.
type Bar struct {
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   int64     `json:"volume"`
	AdjClose float64   `json:"adj_close"`
}

// PriceSeries is the full daily history for one ticker, ascending by date.
// It is loaded once and treated as read-only afterwards.
type PriceSeries struct {
	Ticker string `json:"ticker"`
	Bars   []Bar  `json:"bars"`
}

// Len returns the number of bars in the series.
func (s *PriceSeries) Len() int { return len(s.Bars) }

// PriceOn returns the adjusted close on the given date, or the most recent
// one before it. The second return is false when the series has no bar on
// or before the date.
func (s *PriceSeries) PriceOn(date time.Time) (float64, bool) {
	idx := -1
	for i := range s.Bars {
		if s.Bars[i].Date.After(date) {
			break
		}
		idx = i
	}
	if idx < 0 {
		return 0, false
	}
	return s.Bars[idx].AdjClose, true
}

// LogReturnsBefore returns up to lookback trailing daily log returns computed
// from adjusted closes strictly before date. Fewer returns are returned when
// the series is short; the caller decides whether that is an error.
func (s *PriceSeries) LogReturnsBefore(date time.Time, lookback int) []float64 {
	end := -1
	for i := range s.Bars {
		if !s.Bars[i].Date.Before(date) {
			break
		}
		end = i
	}
	if end < 1 {
		return nil
	}
	start := end - lookback
	if start < 0 {
		start = 0
	}
	returns := make([]float64, 0, end-start)
	for i := start + 1; i <= end; i++ {
		prev := s.Bars[i-1].AdjClose
		cur := s.Bars[i].AdjClose
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	return returns
}

// Dates returns the bar dates of the series in ascending order.
func (s *PriceSeries) Dates() []time.Time {
	dates := make([]time.Time, len(s.Bars))
	for i, b := range s.Bars {
		dates[i] = b.Date
	}
	return dates
}

// IndexLevel is one observation of an external index series, such as the
// volatility proxy or a published dispersion index.
type IndexLevel struct {
	Date  time.Time `json:"date"`
	Level float64   `json:"level"`
}
