package correlation

import (
	"math"
	"time"

	"github.com/seenimoa/dispersion/internal/marketdata"
	"github.com/seenimoa/dispersion/pkg/models"
)

// DSPXSignal turns a published dispersion-index series into a trading
// signal: the z-score of the latest level against its trailing lookback
// mean. A rich index (z above entry) means implied correlation is expensive
// relative to realized, so the standard trade is entered; a cheap index
// (z below −entry) triggers the reverse trade; a reverted index
// (|z| below exit) closes positions.
//
// The z-score window excludes the current observation.
func DSPXSignal(store *marketdata.Store, ticker string, asOf time.Time,
	lookback int, entryThreshold, exitThreshold float64) (models.Signal, error) {

	window, err := store.LevelWindow(ticker, asOf, lookback+1)
	if err != nil {
		return models.Signal{}, err
	}
	current := window[len(window)-1]
	history := window[:len(window)-1]

	var mean, stdev float64
	for _, v := range history {
		mean += v
	}
	mean /= float64(len(history))
	for _, v := range history {
		d := v - mean
		stdev += d * d
	}
	stdev = math.Sqrt(stdev / float64(len(history)-1))

	z := 0.0
	if stdev > 0 {
		z = (current - mean) / stdev
	}

	sig := models.Signal{
		Date:   asOf,
		Kind:   models.SignalNone,
		ZScore: z,
		Source: "dspx",
	}
	switch {
	case z > entryThreshold:
		sig.Kind = models.SignalEnterTrade
	case z < -entryThreshold:
		sig.Kind = models.SignalEnterReverse
	case z < exitThreshold && z > -exitThreshold:
		sig.Kind = models.SignalExitTrade
	}
	return sig, nil
}
