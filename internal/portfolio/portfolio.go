// Package portfolio tracks positions, cash and holdings across fills and
// turns the holdings history into performance statistics.
package portfolio

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianlab/intraday/internal/commission"
	"github.com/meridianlab/intraday/internal/datasource"
	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/types"
)

// Portfolio reacts to the three portfolio-facing event kinds of the loop.
type Portfolio interface {
	// UpdateSignal sizes a strategy signal into an order and publishes it.
	UpdateSignal(event types.SignalEvent)

	// UpdateFill applies an executed order to positions and holdings.
	UpdateFill(event types.FillEvent)

	// UpdateTimeIndex snapshots positions and holdings at the current bar.
	UpdateTimeIndex(event types.MarketEvent)
}

// PositionsSnapshot records the share count per symbol at one bar.
type PositionsSnapshot struct {
	Time      time.Time
	Positions map[string]float64
}

// HoldingsSnapshot records the market value per symbol plus cash at one bar.
// Total is cash plus the mark-to-market value of every position and is the
// authoritative portfolio value for statistics.
type HoldingsSnapshot struct {
	Time        time.Time
	MarketValue map[string]float64
	Cash        float64
	Commission  float64
	Total       float64
}

var _ Portfolio = (*NaivePortfolio)(nil)

// NaivePortfolio sends orders with the signal's quantity as-is, without risk
// management or position sizing. Fills settle against cash; holdings
// snapshots mark every position to the latest close.
type NaivePortfolio struct {
	data       datasource.DataSource
	events     types.EventPublisher
	commission commission.Model
	logger     *logger.Logger

	initialCapital float64

	currentPositions map[string]float64
	marketValue      map[string]float64
	cash             float64
	commissionPaid   float64
	// runningTotal tracks cash flow between snapshots. Each time index
	// resets it to the mark-to-market total; snapshots stay authoritative
	// for statistics.
	runningTotal float64

	allPositions []PositionsSnapshot
	allHoldings  []HoldingsSnapshot
}

// NewNaive builds a portfolio over the data source's full symbol set.
func NewNaive(
	data datasource.DataSource,
	events types.EventPublisher,
	model commission.Model,
	log *logger.Logger,
	initialCapital float64,
) *NaivePortfolio {
	positions := make(map[string]float64)
	values := make(map[string]float64)
	for _, symbol := range data.AllSymbols() {
		positions[symbol] = 0
		values[symbol] = 0
	}

	return &NaivePortfolio{
		data:             data,
		events:           events,
		commission:       model,
		logger:           log,
		initialCapital:   initialCapital,
		currentPositions: positions,
		marketValue:      values,
		cash:             initialCapital,
		commissionPaid:   0,
		runningTotal:     initialCapital,
		allPositions:     nil,
		allHoldings:      nil,
	}
}

// UpdateSignal implements Portfolio. LONG buys and SHORT sells the signal
// quantity; EXIT closes out whatever side is open and is dropped when flat.
func (p *NaivePortfolio) UpdateSignal(event types.SignalEvent) {
	var side types.Side

	switch event.Direction {
	case types.SignalDirectionLong:
		side = types.SideBuy
	case types.SignalDirectionShort:
		side = types.SideSell
	case types.SignalDirectionExit:
		current := p.currentPositions[event.Symbol]
		switch {
		case current > 0:
			side = types.SideSell
		case current < 0:
			side = types.SideBuy
		default:
			return
		}
	default:
		return
	}

	p.events.Publish(types.OrderEvent{
		ID:        uuid.NewString(),
		Symbol:    event.Symbol,
		Kind:      types.OrderKindMarket,
		Quantity:  event.Quantity,
		Direction: side,
		Price:     event.Price,
		Time:      event.Time,
	})
}

// UpdateFill implements Portfolio. The position moves first; the holdings
// update then values the symbol at the fill price times the new position.
// Cash and commission settle in decimal so repeated fills cannot drift.
func (p *NaivePortfolio) UpdateFill(event types.FillEvent) {
	direction := fillDirection(event.Direction)

	p.currentPositions[event.Symbol] += direction * event.Quantity

	fee := event.Commission.TakeOr(p.commission.Calculate(event.Quantity, event.FillPrice))
	cost := decimal.NewFromFloat(event.FillPrice).
		Mul(decimal.NewFromFloat(event.Quantity)).
		Mul(decimal.NewFromFloat(direction))
	outlay := cost.Add(decimal.NewFromFloat(fee))

	p.marketValue[event.Symbol] = event.FillPrice * p.currentPositions[event.Symbol]
	p.commissionPaid = decimal.NewFromFloat(p.commissionPaid).
		Add(decimal.NewFromFloat(fee)).InexactFloat64()
	p.cash = decimal.NewFromFloat(p.cash).Sub(outlay).InexactFloat64()
	p.runningTotal = decimal.NewFromFloat(p.runningTotal).Sub(outlay).InexactFloat64()

	p.logger.Info("fill applied",
		zap.String("symbol", event.Symbol),
		zap.String("direction", string(event.Direction)),
		zap.Float64("quantity", event.Quantity),
		zap.Float64("fill_price", event.FillPrice),
		zap.Float64("commission", fee),
		zap.Float64("cash", p.cash),
	)
}

// UpdateTimeIndex implements Portfolio. The snapshot reflects the bar that
// just completed; every symbol's latest close is known at this point.
func (p *NaivePortfolio) UpdateTimeIndex(_ types.MarketEvent) {
	symbols := p.data.AllSymbols()
	if len(symbols) == 0 {
		return
	}

	snapshotTime := p.latestTime(symbols[0])

	positions := make(map[string]float64, len(p.currentPositions))
	for symbol, quantity := range p.currentPositions {
		positions[symbol] = quantity
	}
	p.allPositions = append(p.allPositions, PositionsSnapshot{
		Time:      snapshotTime,
		Positions: positions,
	})

	snapshot := p.snapshotHoldings(snapshotTime, symbols)
	p.runningTotal = snapshot.Total
	p.allHoldings = append(p.allHoldings, snapshot)
}

func (p *NaivePortfolio) snapshotHoldings(at time.Time, symbols []string) HoldingsSnapshot {
	values := make(map[string]float64, len(symbols))
	total := p.cash

	for _, symbol := range symbols {
		close := p.latestClose(symbol)
		marketValue := p.currentPositions[symbol] * close
		values[symbol] = marketValue
		total += marketValue
	}

	return HoldingsSnapshot{
		Time:        at,
		MarketValue: values,
		Cash:        p.cash,
		Commission:  p.commissionPaid,
		Total:       total,
	}
}

// CurrentHoldings marks the portfolio to the latest closes.
func (p *NaivePortfolio) CurrentHoldings() HoldingsSnapshot {
	symbols := p.data.AllSymbols()

	var at time.Time
	if len(symbols) > 0 {
		at = p.latestTime(symbols[0])
	}

	return p.snapshotHoldings(at, symbols)
}

// CurrentPositions returns the live position map.
func (p *NaivePortfolio) CurrentPositions() map[string]float64 {
	return p.currentPositions
}

// Holdings returns the snapshot history.
func (p *NaivePortfolio) Holdings() []HoldingsSnapshot {
	return p.allHoldings
}

// Positions returns the positions history.
func (p *NaivePortfolio) Positions() []PositionsSnapshot {
	return p.allPositions
}

// Cash returns uncommitted capital.
func (p *NaivePortfolio) Cash() float64 {
	return p.cash
}

// RunningTotal is the cash-flow view of the portfolio value: the last
// snapshot total adjusted by every fill since. Between time indexes it
// diverges from the snapshot total by unrealized price moves.
func (p *NaivePortfolio) RunningTotal() float64 {
	return p.runningTotal
}

// CommissionPaid returns cumulative commission.
func (p *NaivePortfolio) CommissionPaid() float64 {
	return p.commissionPaid
}

func (p *NaivePortfolio) latestClose(symbol string) float64 {
	bars := p.data.LatestBars(symbol, 1)
	if len(bars) == 0 {
		return 0
	}

	return bars[0].Close
}

func (p *NaivePortfolio) latestTime(symbol string) time.Time {
	bars := p.data.LatestBars(symbol, 1)
	if len(bars) == 0 {
		return time.Time{}
	}

	return bars[0].Time
}

func fillDirection(side types.Side) float64 {
	switch side {
	case types.SideBuy:
		return 1
	case types.SideSell:
		return -1
	default:
		return 0
	}
}
