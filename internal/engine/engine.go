// Package engine runs the event loop shared by backtests and live sessions:
// advance the data feed, detect session boundaries, then drain the event
// queue in strict market, signal, order, fill order until it is empty.
package engine

import (
	"context"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/meridianlab/intraday/internal/calendar"
	"github.com/meridianlab/intraday/internal/datasource"
	"github.com/meridianlab/intraday/internal/execution"
	"github.com/meridianlab/intraday/internal/filter"
	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/portfolio"
	"github.com/meridianlab/intraday/internal/strategy"
	"github.com/meridianlab/intraday/internal/types"
	"github.com/meridianlab/intraday/pkg/errors"
)

// Sweeper is implemented by execution handlers that must periodically drop
// stale half-correlated fills.
type Sweeper interface {
	SweepExpired()
}

// Queue is the FIFO event queue shared by the loop and every component that
// emits events. Build it first, hand it to the components, then hand both to
// New.
type Queue struct {
	events []types.Event
}

var _ types.EventPublisher = (*Queue)(nil)

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{events: nil}
}

// Publish implements types.EventPublisher. Events enqueue in arrival order
// and are dispatched within the current cycle.
func (q *Queue) Publish(event types.Event) {
	q.events = append(q.events, event)
}

func (q *Queue) pop() (types.Event, bool) {
	if len(q.events) == 0 {
		return nil, false
	}

	event := q.events[0]
	q.events = q.events[1:]

	return event, true
}

// Deps wires a loop together. Filter, Sweeper and Fills are optional;
// everything else is required. Fills carries fills completed on another
// goroutine, which the loop publishes into the queue itself.
type Deps struct {
	Queue     *Queue
	Data      datasource.DataSource
	Portfolio portfolio.Portfolio
	Strategy  strategy.Strategy
	Execution execution.Handler
	Filter    *filter.Pipeline
	Sweeper   Sweeper
	Fills     <-chan types.FillEvent
	Logger    *logger.Logger

	BarSizeSeconds int
	Backtest       bool
	ShowProgress   bool
}

// Result is what a finished run leaves behind.
type Result struct {
	Stats        portfolio.SummaryStats
	TradeMetrics types.TradeMetrics
	Trades       []types.Trade
	Cycles       int
}

// Loop drives the shared queue. Components publish into it; the loop
// dispatches until it drains, so every cycle settles completely before the
// next bar.
type Loop struct {
	deps Deps

	// sessionDay memoizes the date of the last processed bar so a quiet
	// feed cannot re-trigger the day rollover.
	sessionDay time.Time
}

// New validates the dependency set and returns a loop.
func New(deps Deps) (*Loop, error) {
	if deps.Queue == nil || deps.Data == nil || deps.Portfolio == nil ||
		deps.Strategy == nil || deps.Execution == nil || deps.Logger == nil {
		return nil, errors.New(errors.ErrCodeEngineInitFailed, "missing loop dependency")
	}
	if deps.BarSizeSeconds <= 0 {
		return nil, errors.New(errors.ErrCodeEngineInitFailed, "bar size must be positive")
	}

	return &Loop{deps: deps, sessionDay: time.Time{}}, nil
}

// Run drives the loop until the feed ends or the context is cancelled, then
// always closes the feed and computes the run statistics.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	defer func() {
		if err := l.deps.Data.Close(); err != nil {
			l.deps.Logger.Error("failed to close data feed", zap.Error(err))
		}
	}()

	var bar *progressbar.ProgressBar
	if l.deps.ShowProgress {
		bar = progressbar.Default(-1, "replaying bars")
	}

	cycles := 0
	for {
		select {
		case <-ctx.Done():
			l.deps.Logger.Info("run interrupted", zap.Int("cycles", cycles))

			return l.finish(cycles), errors.Wrap(errors.ErrCodeEngineInterrupted, "run cancelled", ctx.Err())
		default:
		}

		if !l.deps.Data.Advance(ctx) {
			break
		}
		cycles++
		if bar != nil {
			_ = bar.Add(1)
		}

		l.deps.Queue.Publish(types.MarketEvent{Time: l.latestBarTime()})

		if l.isNewDay() {
			l.startOfNewDay()
		}

		l.settle(ctx)

		if l.deps.Sweeper != nil {
			l.deps.Sweeper.SweepExpired()
		}
	}

	if bar != nil {
		_ = bar.Finish()
	}

	return l.finish(cycles), nil
}

// settle drains the queue, then collects any fills completed off-loop and
// drains again, until both are empty. One market event settles through
// signal, order and fill within the same cycle.
func (l *Loop) settle(ctx context.Context) {
	for {
		l.drain(ctx)
		if !l.pumpFills() {
			return
		}
	}
}

// pumpFills moves completed broker fills onto the queue. Reports false once
// the channel is momentarily empty.
func (l *Loop) pumpFills() bool {
	if l.deps.Fills == nil {
		return false
	}

	pumped := false
	for {
		select {
		case fill := <-l.deps.Fills:
			l.deps.Queue.Publish(fill)
			pumped = true
		default:
			return pumped
		}
	}
}

// drain dispatches queued events until none remain. Handlers publish
// follow-up events back into the queue.
func (l *Loop) drain(ctx context.Context) {
	for {
		event, ok := l.deps.Queue.pop()
		if !ok {
			return
		}

		switch e := event.(type) {
		case types.MarketEvent:
			l.deps.Strategy.CalculateSignals(e)
			l.deps.Portfolio.UpdateTimeIndex(e)
		case types.SignalEvent:
			l.deps.Portfolio.UpdateSignal(e)
		case types.OrderEvent:
			if err := l.deps.Execution.ExecuteOrder(ctx, e); err != nil {
				l.deps.Logger.Error("order execution failed",
					zap.String("symbol", e.Symbol),
					zap.String("order_id", e.ID),
					zap.Error(err),
				)
			}
		case types.FillEvent:
			l.deps.Portfolio.UpdateFill(e)
		}
	}
}

// isNewDay compares the reference symbol's latest bar date against the
// memoized session date. The first bar of the run counts as a new day; a
// feed with no bars yet never does.
func (l *Loop) isNewDay() bool {
	symbols := l.deps.Data.AllSymbols()
	if len(symbols) == 0 {
		return false
	}

	var bars []types.Bar
	if l.deps.Backtest {
		bars = l.deps.Data.LatestBars(symbols[0], 1)
	} else {
		bars = l.deps.Data.LatestAggregated(symbols[0], 1)
	}
	if len(bars) == 0 {
		return false
	}

	at := bars[len(bars)-1].Time
	if !l.sessionDay.IsZero() && calendar.SameDay(l.sessionDay, at) {
		return false
	}
	l.sessionDay = at

	return true
}

// startOfNewDay re-runs the filter pipeline over the full universe (backtest
// only) and hands the refreshed active set to the strategy.
func (l *Loop) startOfNewDay() {
	if l.deps.Backtest && l.deps.Filter != nil {
		candidates := l.deps.Filter.RunForBacktest(l.deps.Data.AllSymbols())
		l.deps.Data.SetActiveSymbols(filter.Symbols(candidates))
	}

	active := l.deps.Data.ActiveSymbols()
	l.deps.Logger.Info("new trading day", zap.Strings("active_symbols", active))
	l.deps.Strategy.OnNewDay(active)
}

func (l *Loop) latestBarTime() time.Time {
	symbols := l.deps.Data.AllSymbols()
	if len(symbols) == 0 {
		return time.Time{}
	}

	bars := l.deps.Data.LatestBars(symbols[0], 1)
	if len(bars) == 0 {
		return time.Time{}
	}

	return bars[0].Time
}

func (l *Loop) finish(cycles int) Result {
	result := Result{
		Stats:        portfolio.SummaryStats{}, //nolint:exhaustruct
		TradeMetrics: types.TradeMetrics{},     //nolint:exhaustruct
		Trades:       nil,
		Cycles:       cycles,
	}

	if naive, ok := l.deps.Portfolio.(*portfolio.NaivePortfolio); ok {
		result.Stats = naive.Summarize(l.deps.BarSizeSeconds)
	}

	if tracked, ok := l.deps.Strategy.(interface {
		Trades() []types.Trade
		Metrics() types.TradeMetrics
	}); ok {
		result.Trades = tracked.Trades()
		result.TradeMetrics = tracked.Metrics()
	}

	l.deps.Logger.Info("run complete",
		zap.Int("cycles", cycles),
		zap.Float64("total_return_pct", result.Stats.TotalReturnPct),
		zap.Float64("sharpe_ratio", result.Stats.SharpeRatio),
		zap.Float64("max_drawdown_pct", result.Stats.MaxDrawdownPct),
		zap.Int("total_trades", result.TradeMetrics.TotalTrades),
	)

	return result
}
