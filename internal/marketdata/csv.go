package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/dispersion/pkg/models"
)

// LoadDir loads one CSV per ticker from dir (TICKER.csv, Yahoo daily export
// layout) into a new store. Files are parsed concurrently; the first failure
// cancels the remaining loads.
func LoadDir(ctx context.Context, dir string, tickers []string) (*Store, error) {
	loaded := make([]*models.PriceSeries, len(tickers))

	g, ctx := errgroup.WithContext(ctx)
	for i, ticker := range tickers {
		i, ticker := i, ticker
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ps, err := LoadCSV(filepath.Join(dir, ticker+".csv"), ticker)
			if err != nil {
				return err
			}
			loaded[i] = ps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	store := NewStore()
	for _, ps := range loaded {
		store.Put(ps)
	}
	return store, nil
}

// LoadCSV parses a single daily-bar CSV file. The header row names the
// columns; Date and Close are required, the rest default to zero. An "Adj
// Close" column is used when present, otherwise Close stands in for it.
func LoadCSV(path, ticker string) (*models.PriceSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	dateIdx, ok := col["date"]
	if !ok {
		return nil, fmt.Errorf("%s: no date column", path)
	}
	closeIdx, ok := col["close"]
	if !ok {
		return nil, fmt.Errorf("%s: no close column", path)
	}

	ps := &models.PriceSeries{Ticker: ticker}
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		date, err := time.Parse("2006-01-02", record[dateIdx])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		closePx, err := field(record, closeIdx)
		if err != nil {
			return nil, fmt.Errorf("%s line %d close: %w", path, line, err)
		}

		bar := models.Bar{
			Date:     date,
			Close:    closePx,
			AdjClose: closePx,
		}
		bar.Open = optional(record, col, "open")
		bar.High = optional(record, col, "high")
		bar.Low = optional(record, col, "low")
		if idx, ok := col["adj close"]; ok {
			if v, err := field(record, idx); err == nil && v > 0 {
				bar.AdjClose = v
			}
		}
		if idx, ok := col["volume"]; ok {
			if v, err := field(record, idx); err == nil {
				bar.Volume = int64(v)
			}
		}
		ps.Bars = append(ps.Bars, bar)
	}
	if len(ps.Bars) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInsufficientData, path)
	}
	return ps, nil
}

func field(record []string, idx int) (float64, error) {
	if idx >= len(record) {
		return 0, fmt.Errorf("missing column %d", idx)
	}
	return strconv.ParseFloat(strings.TrimSpace(record[idx]), 64)
}

func optional(record []string, col map[string]int, name string) float64 {
	idx, ok := col[name]
	if !ok {
		return 0
	}
	v, err := field(record, idx)
	if err != nil {
		return 0
	}
	return v
}
