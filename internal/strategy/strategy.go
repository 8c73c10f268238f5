// Package strategy holds the signal-generating logic driven by market
// events, plus the bookkeeping shared by all strategies.
package strategy

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/meridianlab/intraday/internal/datasource"
	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/types"
)

// Strategy reacts to completed bars with trading signals.
type Strategy interface {
	// Name labels the strategy in reports.
	Name() string

	// CalculateSignals runs once per market event, over the active symbols.
	CalculateSignals(event types.MarketEvent)

	// OnNewDay resets per-session state for the refreshed active symbol
	// set.
	OnNewDay(symbols []string)
}

// ExitLevels are the per-position price boundaries that force an exit. NaN
// means unset.
type ExitLevels struct {
	StopLoss   float64
	TakeProfit float64
}

// Tracker is the bookkeeping base embedded by strategies: which symbols are
// held, their exit levels, the open trades and the closed trade log. Buy and
// Sell publish the signal and maintain all of it in one step.
type Tracker struct {
	data   datasource.DataSource
	events types.EventPublisher
	logger *logger.Logger

	bought         map[string]bool
	exitLevels     map[string]ExitLevels
	activeTrades   map[string]*types.Trade
	lastAggregated map[string]time.Time

	trades []types.Trade
}

// NewTracker builds the shared bookkeeping over the source's full symbol
// set.
func NewTracker(data datasource.DataSource, events types.EventPublisher, log *logger.Logger) *Tracker {
	t := &Tracker{
		data:           data,
		events:         events,
		logger:         log,
		bought:         make(map[string]bool),
		exitLevels:     make(map[string]ExitLevels),
		activeTrades:   make(map[string]*types.Trade),
		lastAggregated: make(map[string]time.Time),
		trades:         nil,
	}
	t.resetSymbols(data.AllSymbols())

	return t
}

func (t *Tracker) resetSymbols(symbols []string) {
	for _, symbol := range symbols {
		if _, ok := t.bought[symbol]; !ok {
			t.bought[symbol] = false
			t.exitLevels[symbol] = ExitLevels{StopLoss: math.NaN(), TakeProfit: math.NaN()}
		}
	}
}

// Buy publishes a LONG signal and opens a tracked trade.
func (t *Tracker) Buy(symbol string, at time.Time, price, quantity float64, reason string) {
	t.logger.Info("raising signal",
		zap.String("action", "BUY"),
		zap.String("symbol", symbol),
		zap.Time("time", at),
		zap.Float64("quantity", quantity),
		zap.String("reason", reason),
	)

	t.bought[symbol] = true
	t.activeTrades[symbol] = &types.Trade{
		Symbol:    symbol,
		Quantity:  quantity,
		BuyPrice:  price,
		SellPrice: 0,
		StartTime: at,
		EndTime:   time.Time{},
	}

	t.events.Publish(types.SignalEvent{
		Symbol:    symbol,
		Time:      at,
		Direction: types.SignalDirectionLong,
		Quantity:  quantity,
		Price:     price,
	})
}

// Sell publishes a SHORT signal, closes the tracked trade and clears the
// exit levels.
func (t *Tracker) Sell(symbol string, at time.Time, price, quantity float64, reason string) {
	t.logger.Info("raising signal",
		zap.String("action", "SELL"),
		zap.String("symbol", symbol),
		zap.Time("time", at),
		zap.Float64("quantity", quantity),
		zap.String("reason", reason),
	)

	t.bought[symbol] = false
	t.exitLevels[symbol] = ExitLevels{StopLoss: math.NaN(), TakeProfit: math.NaN()}

	if trade := t.activeTrades[symbol]; trade != nil {
		trade.Close(at, price)
		t.trades = append(t.trades, *trade)
		t.activeTrades[symbol] = nil
	}

	t.events.Publish(types.SignalEvent{
		Symbol:    symbol,
		Time:      at,
		Direction: types.SignalDirectionShort,
		Quantity:  quantity,
		Price:     price,
	})
}

// Bought reports whether the symbol is currently held.
func (t *Tracker) Bought(symbol string) bool {
	return t.bought[symbol]
}

// SetExitLevels arms the stop-loss and take-profit for a held symbol.
func (t *Tracker) SetExitLevels(symbol string, levels ExitLevels) {
	t.exitLevels[symbol] = levels
}

// GetExitLevels returns the armed exit levels.
func (t *Tracker) GetExitLevels(symbol string) ExitLevels {
	return t.exitLevels[symbol]
}

// Trades returns the closed trade log.
func (t *Tracker) Trades() []types.Trade {
	return t.trades
}

// Metrics aggregates the closed trade log.
func (t *Tracker) Metrics() types.TradeMetrics {
	return types.ComputeTradeMetrics(t.trades)
}

// ResetDay prepares the tracker for a fresh session over the given active
// symbols. The closed trade log survives.
func (t *Tracker) ResetDay(symbols []string) {
	t.resetSymbols(symbols)
}

// LatestBars fetches the series a strategy should trade on: the replayed
// bars in a backtest, the aggregated bars live. The bool reports whether the
// newest aggregated bar is one the strategy has not seen yet; in a backtest
// every advance is a new bar.
func (t *Tracker) LatestBars(symbol string, n int, backtest bool) ([]types.Bar, bool) {
	if backtest {
		return t.data.LatestBars(symbol, n), true
	}

	bars := t.data.LatestAggregated(symbol, n)
	if len(bars) == 0 {
		return nil, false
	}

	newest := bars[len(bars)-1].Time
	if t.lastAggregated[symbol].Equal(newest) {
		return bars, false
	}
	t.lastAggregated[symbol] = newest

	return bars, true
}
