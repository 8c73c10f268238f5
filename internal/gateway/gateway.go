// Package gateway abstracts market data providers behind a single interface
// for historical fetches and streaming bar subscriptions.
package gateway

import (
	"context"
	"time"

	"github.com/meridianlab/intraday/internal/types"
)

// BarFunc receives streamed bars. Implementations must not block; the
// gateway's read loop calls it inline.
type BarFunc func(bar types.Bar)

// Gateway is a market data provider. Implementations exist for Polygon,
// Binance and a simulated in-process feed.
type Gateway interface {
	// Name identifies the provider in logs.
	Name() string

	// Connect establishes the streaming session. Historical fetches do not
	// require it.
	Connect(ctx context.Context) error

	// HistoricalBars fetches OHLCV bars for one symbol over [start, end] at
	// the given bar length.
	HistoricalBars(ctx context.Context, symbol string, start, end time.Time, granularitySeconds int) ([]types.Bar, error)

	// SubscribeBars streams fine-grained bars for the given symbols into
	// onBar until the subscription is cancelled.
	SubscribeBars(ctx context.Context, symbols []string, onBar BarFunc) error

	// UnsubscribeBars cancels the streams for the given symbols.
	UnsubscribeBars(symbols []string) error

	// Disconnect tears the streaming session down. Safe to call more than
	// once.
	Disconnect() error
}
