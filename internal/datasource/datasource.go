// Package datasource feeds the event loop with bars, either replayed from
// the store for backtests or streamed from a gateway for live trading.
package datasource

import (
	"context"

	"github.com/meridianlab/intraday/internal/types"
)

// DataSource is the bar feed consumed by the event loop. Advance moves the
// feed forward by one bar per symbol; the loop publishes a market event after
// each successful advance.
type DataSource interface {
	// Advance pulls the next bar for every active symbol into the latest
	// buffer. It returns false when the feed is exhausted (backtest) or has
	// gone quiet (live); the loop treats that as the stop signal, not an
	// error.
	Advance(ctx context.Context) bool

	// LatestBars returns the most recent n bars for a symbol, oldest first.
	// n <= 0 returns everything accumulated so far.
	LatestBars(symbol string, n int) []types.Bar

	// LatestAggregated returns the most recent n target-granularity bars.
	// For the historic source this is the same series as LatestBars; the
	// live source separates raw ticks from aggregated bars.
	LatestAggregated(symbol string, n int) []types.Bar

	// AllSymbols is the full symbol set the source was loaded with.
	AllSymbols() []string

	// ActiveSymbols is the currently tradeable subset, as narrowed by the
	// filter pipeline.
	ActiveSymbols() []string

	// SetActiveSymbols replaces the tradeable subset.
	SetActiveSymbols(symbols []string)

	// Floats returns the free float per symbol, when known.
	Floats() map[string]float64

	// Close releases feed resources. For the live source this cancels the
	// gateway subscriptions.
	Close() error
}
