package strategy

import (
	"math"

	"github.com/meridianlab/intraday/internal/calendar"
	"github.com/meridianlab/intraday/internal/datasource"
	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/types"
)

// EMACrossoverConfig tunes the crossover strategy.
type EMACrossoverConfig struct {
	ShortPeriod       int
	LongPeriod        int
	TakeProfitPercent float64
	StopLossPercent   float64
	Quantity          float64
	// Cutoff flattens all positions from this time of day onward.
	Cutoff calendar.Clock
	// Backtest selects the replayed series; otherwise the aggregated live
	// series drives signals.
	Backtest bool
}

var _ Strategy = (*EMACrossover)(nil)

// EMACrossover buys when the short EMA of closes crosses above the long EMA
// and exits on take-profit, stop-loss, a cross back down, or the daily
// cutoff.
type EMACrossover struct {
	*Tracker

	config  EMACrossoverConfig
	symbols []string
}

// NewEMACrossover builds the strategy over the source's active symbols.
func NewEMACrossover(
	data datasource.DataSource,
	events types.EventPublisher,
	log *logger.Logger,
	config EMACrossoverConfig,
) *EMACrossover {
	return &EMACrossover{
		Tracker: NewTracker(data, events, log),
		config:  config,
		symbols: append([]string(nil), data.ActiveSymbols()...),
	}
}

// Name implements Strategy.
func (s *EMACrossover) Name() string {
	return "ema_crossover"
}

// OnNewDay implements Strategy.
func (s *EMACrossover) OnNewDay(symbols []string) {
	s.symbols = append([]string(nil), symbols...)
	s.ResetDay(symbols)
}

// CalculateSignals implements Strategy.
func (s *EMACrossover) CalculateSignals(_ types.MarketEvent) {
	for _, symbol := range s.symbols {
		s.evaluate(symbol)
	}
}

func (s *EMACrossover) evaluate(symbol string) {
	bars, isNewBar := s.LatestBars(symbol, 0, s.config.Backtest)
	if !isNewBar || len(bars) == 0 {
		return
	}

	latest := bars[len(bars)-1]

	if s.Bought(symbol) {
		s.evaluateExit(symbol, latest)

		return
	}

	if calendar.AfterCutoff(latest.Time, s.config.Cutoff) {
		return
	}

	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}

	shortEMA, okShort := ema(closes, s.config.ShortPeriod)
	longEMA, okLong := ema(closes, s.config.LongPeriod)
	if !okShort || !okLong {
		return
	}

	if shortEMA > longEMA {
		price := latest.Close
		s.SetExitLevels(symbol, ExitLevels{
			StopLoss:   price * (1 - s.config.StopLossPercent/100),
			TakeProfit: price * (1 + s.config.TakeProfitPercent/100),
		})
		s.Buy(symbol, latest.Time, price, s.config.Quantity, "short EMA crossed above long EMA")
	}
}

func (s *EMACrossover) evaluateExit(symbol string, latest types.Bar) {
	levels := s.GetExitLevels(symbol)
	price := latest.Close

	switch {
	case calendar.AfterCutoff(latest.Time, s.config.Cutoff):
		s.Sell(symbol, latest.Time, price, s.config.Quantity, "daily cutoff reached")
	case !math.IsNaN(levels.TakeProfit) && price >= levels.TakeProfit:
		s.Sell(symbol, latest.Time, price, s.config.Quantity, "take profit hit")
	case !math.IsNaN(levels.StopLoss) && price <= levels.StopLoss:
		s.Sell(symbol, latest.Time, price, s.config.Quantity, "stop loss hit")
	}
}
