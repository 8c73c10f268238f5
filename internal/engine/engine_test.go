package engine

import (
	"context"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/meridianlab/intraday/internal/commission"
	"github.com/meridianlab/intraday/internal/datasource"
	"github.com/meridianlab/intraday/internal/execution"
	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/portfolio"
	"github.com/meridianlab/intraday/internal/types"
	"github.com/meridianlab/intraday/pkg/errors"
)

// scriptedFeed replays a fixed series one bar per advance.
type scriptedFeed struct {
	series []types.Bar
	cursor int
	latest []types.Bar
	active []string
	closed bool
}

var _ datasource.DataSource = (*scriptedFeed)(nil)

func (f *scriptedFeed) Advance(_ context.Context) bool {
	if f.cursor >= len(f.series) {
		return false
	}
	f.latest = append(f.latest, f.series[f.cursor])
	f.cursor++

	return true
}

func (f *scriptedFeed) LatestBars(_ string, n int) []types.Bar {
	if n > 0 && n < len(f.latest) {
		return f.latest[len(f.latest)-n:]
	}

	return f.latest
}

func (f *scriptedFeed) LatestAggregated(symbol string, n int) []types.Bar {
	return f.LatestBars(symbol, n)
}

func (f *scriptedFeed) AllSymbols() []string              { return []string{"AAPL"} }
func (f *scriptedFeed) ActiveSymbols() []string           { return f.active }
func (f *scriptedFeed) SetActiveSymbols(symbols []string) { f.active = symbols }
func (f *scriptedFeed) Floats() map[string]float64        { return nil }

func (f *scriptedFeed) Close() error {
	f.closed = true

	return nil
}

// scriptedStrategy buys on a chosen cycle and records its callbacks.
type scriptedStrategy struct {
	events  types.EventPublisher
	buyOn   int
	cycle   int
	newDays [][]string
	calls   *[]string
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) CalculateSignals(event types.MarketEvent) {
	*s.calls = append(*s.calls, "strategy.market")
	s.cycle++
	if s.cycle == s.buyOn {
		s.events.Publish(types.SignalEvent{
			Symbol:    "AAPL",
			Time:      event.Time,
			Direction: types.SignalDirectionLong,
			Quantity:  10,
			Price:     50,
		})
	}
}

func (s *scriptedStrategy) OnNewDay(symbols []string) {
	s.newDays = append(s.newDays, symbols)
}

// recordingPortfolio wraps the naive portfolio to trace dispatch order.
type recordingPortfolio struct {
	*portfolio.NaivePortfolio

	calls *[]string
}

func (r *recordingPortfolio) UpdateSignal(event types.SignalEvent) {
	*r.calls = append(*r.calls, "portfolio.signal")
	r.NaivePortfolio.UpdateSignal(event)
}

func (r *recordingPortfolio) UpdateFill(event types.FillEvent) {
	*r.calls = append(*r.calls, "portfolio.fill")
	r.NaivePortfolio.UpdateFill(event)
}

func (r *recordingPortfolio) UpdateTimeIndex(event types.MarketEvent) {
	*r.calls = append(*r.calls, "portfolio.timeindex")
	r.NaivePortfolio.UpdateTimeIndex(event)
}

// channelHandler fills orders through a channel, the way the broker handler
// delivers correlated fills.
type channelHandler struct {
	fills chan types.FillEvent
}

func (h *channelHandler) ExecuteOrder(_ context.Context, event types.OrderEvent) error {
	h.fills <- types.FillEvent{
		Time:       event.Time,
		Symbol:     event.Symbol,
		Exchange:   "SIM",
		Quantity:   event.Quantity,
		Direction:  event.Direction,
		FillPrice:  event.Price,
		Commission: optional.Some(0.0),
	}

	return nil
}

// liveFeed replays raw bars while the aggregated series stays empty until
// the configured advance count.
type liveFeed struct {
	scriptedFeed

	aggregateOn int
}

func (f *liveFeed) LatestAggregated(_ string, _ int) []types.Bar {
	if f.cursor < f.aggregateOn {
		return nil
	}

	return f.latest[:1]
}

type EngineTestSuite struct {
	suite.Suite

	feed  *scriptedFeed
	calls []string
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func sessionSeries(days int, barsPerDay int) []types.Bar {
	var series []types.Bar
	for d := 0; d < days; d++ {
		day := time.Date(2023, 6, 5+d, 9, 45, 0, 0, time.UTC)
		for b := 0; b < barsPerDay; b++ {
			at := day.Add(time.Duration(b) * 15 * time.Minute)
			series = append(series, types.Bar{
				Symbol: "AAPL",
				Time:   at,
				Open:   50, High: 51, Low: 49, Close: 50,
				Volume: 1000,
			})
		}
	}

	return series
}

func (suite *EngineTestSuite) newLoop(buyOn int) (*Loop, *scriptedStrategy, *recordingPortfolio) {
	suite.calls = nil

	queue := NewQueue()
	pf := &recordingPortfolio{
		NaivePortfolio: portfolio.NewNaive(suite.feed, queue, &commission.Zero{}, logger.NewNopLogger(), 100000),
		calls:          &suite.calls,
	}
	strat := &scriptedStrategy{buyOn: buyOn, events: queue, calls: &suite.calls} //nolint:exhaustruct

	loop, err := New(Deps{
		Queue:          queue,
		Data:           suite.feed,
		Portfolio:      pf,
		Strategy:       strat,
		Execution:      execution.NewSimulated(queue, logger.NewNopLogger()),
		Filter:         nil,
		Sweeper:        nil,
		Fills:          nil,
		Logger:         logger.NewNopLogger(),
		BarSizeSeconds: 900,
		Backtest:       true,
		ShowProgress:   false,
	})
	suite.Require().NoError(err)

	return loop, strat, pf
}

func (suite *EngineTestSuite) TestNewRejectsMissingDependency() {
	_, err := New(Deps{ //nolint:exhaustruct
		Queue:          NewQueue(),
		Data:           &scriptedFeed{},
		Logger:         logger.NewNopLogger(),
		BarSizeSeconds: 900,
	})
	suite.Error(err)
	suite.Equal(errors.ErrCodeEngineInitFailed, errors.GetCode(err))
}

func (suite *EngineTestSuite) TestCycleDispatchOrder() {
	suite.feed = &scriptedFeed{series: sessionSeries(1, 3), active: []string{"AAPL"}}

	loop, _, pf := suite.newLoop(2)

	result, err := loop.Run(context.Background())
	suite.Require().NoError(err)
	suite.Equal(3, result.Cycles)
	suite.True(suite.feed.closed)

	// Cycle 2 settles fully: market, signal, order, fill in one cycle
	// before cycle 3 starts.
	expected := []string{
		"strategy.market", "portfolio.timeindex",
		"strategy.market", "portfolio.timeindex", "portfolio.signal", "portfolio.fill",
		"strategy.market", "portfolio.timeindex",
	}
	suite.Equal(expected, suite.calls)

	// The buy settled against cash at the order price.
	suite.InDelta(10.0, pf.CurrentPositions()["AAPL"], 1e-9)
	suite.InDelta(100000-500, pf.Cash(), 1e-9)
}

func (suite *EngineTestSuite) TestNewDayDetection() {
	suite.feed = &scriptedFeed{series: sessionSeries(2, 2), active: []string{"AAPL"}}

	loop, strat, _ := suite.newLoop(0)

	_, err := loop.Run(context.Background())
	suite.Require().NoError(err)

	// First cycle (single bar) and the first bar of day two both trigger a
	// new day.
	suite.Len(strat.newDays, 2)
	suite.Equal([]string{"AAPL"}, strat.newDays[0])
}

func (suite *EngineTestSuite) TestBrokerFillsSettleInCycle() {
	suite.feed = &scriptedFeed{series: sessionSeries(1, 3), active: []string{"AAPL"}}
	suite.calls = nil

	// Fills arrive over a channel, as the broker handler delivers them.
	handler := &channelHandler{fills: make(chan types.FillEvent, 4)}

	queue := NewQueue()
	pf := &recordingPortfolio{
		NaivePortfolio: portfolio.NewNaive(suite.feed, queue, &commission.Zero{}, logger.NewNopLogger(), 100000),
		calls:          &suite.calls,
	}
	strat := &scriptedStrategy{buyOn: 2, events: queue, calls: &suite.calls} //nolint:exhaustruct

	loop, err := New(Deps{
		Queue:          queue,
		Data:           suite.feed,
		Portfolio:      pf,
		Strategy:       strat,
		Execution:      handler,
		Filter:         nil,
		Sweeper:        nil,
		Fills:          handler.fills,
		Logger:         logger.NewNopLogger(),
		BarSizeSeconds: 900,
		Backtest:       true,
		ShowProgress:   false,
	})
	suite.Require().NoError(err)

	_, err = loop.Run(context.Background())
	suite.Require().NoError(err)

	// The channel-delivered fill still settles before cycle 3 starts.
	expected := []string{
		"strategy.market", "portfolio.timeindex",
		"strategy.market", "portfolio.timeindex", "portfolio.signal", "portfolio.fill",
		"strategy.market", "portfolio.timeindex",
	}
	suite.Equal(expected, suite.calls)
	suite.InDelta(10.0, pf.CurrentPositions()["AAPL"], 1e-9)
}

func (suite *EngineTestSuite) TestLiveQuietFeedRollsOverOnce() {
	feed := &liveFeed{
		scriptedFeed: scriptedFeed{series: sessionSeries(1, 4), active: []string{"AAPL"}},
		aggregateOn:  3,
	}

	queue := NewQueue()
	var calls []string
	pf := &recordingPortfolio{
		NaivePortfolio: portfolio.NewNaive(feed, queue, &commission.Zero{}, logger.NewNopLogger(), 100000),
		calls:          &calls,
	}
	strat := &scriptedStrategy{buyOn: 0, events: queue, calls: &calls} //nolint:exhaustruct

	loop, err := New(Deps{
		Queue:          queue,
		Data:           feed,
		Portfolio:      pf,
		Strategy:       strat,
		Execution:      execution.NewSimulated(queue, logger.NewNopLogger()),
		Filter:         nil,
		Sweeper:        nil,
		Fills:          nil,
		Logger:         logger.NewNopLogger(),
		BarSizeSeconds: 900,
		Backtest:       false,
		ShowProgress:   false,
	})
	suite.Require().NoError(err)

	_, err = loop.Run(context.Background())
	suite.Require().NoError(err)

	// No aggregated bars for the first two cycles, then one appears: the
	// rollover fires exactly once, not on every quiet cycle.
	suite.Len(strat.newDays, 1)
}

func (suite *EngineTestSuite) TestCancelledContext() {
	suite.feed = &scriptedFeed{series: sessionSeries(1, 3), active: []string{"AAPL"}}

	loop, _, _ := suite.newLoop(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := loop.Run(ctx)
	suite.Error(err)
	suite.Equal(errors.ErrCodeEngineInterrupted, errors.GetCode(err))
	suite.Zero(result.Cycles)
	suite.True(suite.feed.closed)
}
