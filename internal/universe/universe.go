// Package universe selects the component tickers a run trades and loads
// their index weights from a constituents file.
package universe

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seenimoa/dispersion/internal/marketdata"
)

// WeightTable maps ticker symbols to their normalized index weights.
type WeightTable map[string]float64

// LoadWeights reads a constituents CSV (Symbol plus optional Weight column,
// percent strings like "6.71%") and returns normalized weights summing to 1.
// Without a Weight column every constituent gets an equal weight.
func LoadWeights(path string, logger *zap.Logger) (WeightTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening constituents file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading constituents header: %w", err)
	}
	symbolIdx, weightIdx := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "symbol":
			symbolIdx = i
		case "weight":
			weightIdx = i
		}
	}
	if symbolIdx < 0 {
		return nil, fmt.Errorf("constituents file %s: no symbol column", path)
	}

	weights := make(WeightTable)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading constituents file %s: %w", path, err)
		}
		symbol := strings.TrimSpace(record[symbolIdx])
		if symbol == "" {
			continue
		}
		if weightIdx < 0 || weightIdx >= len(record) {
			weights[symbol] = 1
			continue
		}
		raw := strings.TrimSuffix(strings.TrimSpace(record[weightIdx]), "%")
		w, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			logger.Warn("invalid constituent weight, using zero",
				zap.String("symbol", symbol), zap.String("weight", record[weightIdx]))
			weights[symbol] = 0
			continue
		}
		weights[symbol] = w / 100.0
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("constituents file %s: no rows", path)
	}
	return Normalize(weights), nil
}

// Normalize rescales a weight table so the values sum to 1. A table whose
// weights sum to zero is returned equal-weighted.
func Normalize(weights WeightTable) WeightTable {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	out := make(WeightTable, len(weights))
	if total <= 0 {
		for t := range weights {
			out[t] = 1.0 / float64(len(weights))
		}
		return out
	}
	for t, w := range weights {
		out[t] = w / total
	}
	return out
}

// Subset keeps only the named tickers and re-normalizes over them.
func (wt WeightTable) Subset(tickers []string) WeightTable {
	sub := make(WeightTable, len(tickers))
	for _, t := range tickers {
		if w, ok := wt[t]; ok {
			sub[t] = w
		}
	}
	return Normalize(sub)
}

// Tickers returns the table's tickers sorted by symbol.
func (wt WeightTable) Tickers() []string {
	out := make([]string, 0, len(wt))
	for t := range wt {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Select picks n component tickers from the constituents. With
// randomSelection the pick is a seeded shuffle so runs are reproducible;
// otherwise the first n in symbol order are taken.
func Select(constituents []string, n int, seed int64, randomSelection bool) []string {
	pool := make([]string, len(constituents))
	copy(pool, constituents)
	sort.Strings(pool)

	if randomSelection {
		r := rand.New(rand.NewSource(seed))
		r.Shuffle(len(pool), func(i, j int) {
			pool[i], pool[j] = pool[j], pool[i]
		})
	}
	if n > len(pool) {
		n = len(pool)
	}
	return pool[:n]
}

// FilterByCoverage drops tickers whose series covers less than minCoverage
// of the index's trading days in [start, end]. Thinly covered series make
// the calendar intersection collapse.
func FilterByCoverage(store *marketdata.Store, tickers []string, indexTicker string,
	start, end time.Time, minCoverage float64, logger *zap.Logger) ([]string, error) {

	indexDays, err := store.Calendar(start, end, []string{indexTicker})
	if err != nil {
		return nil, err
	}
	if len(indexDays) == 0 {
		return nil, fmt.Errorf("%w: index %s has no trading days in range",
			marketdata.ErrInsufficientData, indexTicker)
	}

	var kept []string
	for _, t := range tickers {
		days, err := store.Calendar(start, end, []string{t})
		if err != nil {
			return nil, err
		}
		coverage := float64(len(days)) / float64(len(indexDays))
		if coverage < minCoverage {
			logger.Warn("dropping ticker with thin coverage",
				zap.String("ticker", t), zap.Float64("coverage", coverage))
			continue
		}
		kept = append(kept, t)
	}
	return kept, nil
}
