package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianlab/intraday/internal/execution"
	"github.com/meridianlab/intraday/internal/types"
	"github.com/meridianlab/intraday/pkg/errors"
)

// FillReporter receives the two halves of a brokerage fill report.
type FillReporter interface {
	OnExecutionDetail(executionID string, detail execution.ExecutionDetail)
	OnCommissionReport(executionID string, commission float64)
}

var _ Gateway = (*SimulatedGateway)(nil)

var _ execution.OrderRouter = (*SimulatedGateway)(nil)

// SimulatedGateway is an in-process provider fed by the caller. It backs
// tests and dry runs of the live loop without a brokerage connection. It
// also routes orders, filling them instantly at the order price and
// reporting both fill halves to the registered FillReporter.
type SimulatedGateway struct {
	mu         sync.Mutex
	connected  bool
	historical map[string][]types.Bar
	onBar      BarFunc
	subscribed map[string]bool
	reporter   FillReporter
}

// NewSimulatedGateway returns an empty simulated provider.
func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{
		historical: make(map[string][]types.Bar),
		subscribed: make(map[string]bool),
	}
}

// SetFillReporter registers the receiver of simulated fill reports.
func (g *SimulatedGateway) SetFillReporter(reporter FillReporter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reporter = reporter
}

// PlaceOrder implements execution.OrderRouter. The execution detail arrives
// before the commission report, as a brokerage typically sends them.
func (g *SimulatedGateway) PlaceOrder(_ context.Context, order types.OrderEvent) error {
	g.mu.Lock()
	reporter := g.reporter
	connected := g.connected
	g.mu.Unlock()

	if !connected {
		return errors.New(errors.ErrCodeGatewayDisconnected, "simulated gateway not connected")
	}
	if reporter == nil {
		return errors.New(errors.ErrCodeOrderFailed, "no fill reporter registered")
	}

	executionID := uuid.NewString()
	reporter.OnExecutionDetail(executionID, execution.ExecutionDetail{
		Time:      order.Time,
		Symbol:    order.Symbol,
		Exchange:  "SIM",
		Quantity:  order.Quantity,
		Direction: order.Direction,
		FillPrice: order.Price,
	})
	reporter.OnCommissionReport(executionID, 0)

	return nil
}

// Name implements Gateway.
func (g *SimulatedGateway) Name() string { return "simulated" }

// SeedHistorical loads bars returned by later HistoricalBars calls.
func (g *SimulatedGateway) SeedHistorical(symbol string, bars []types.Bar) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.historical[symbol] = append(g.historical[symbol], bars...)
}

// Push delivers a bar to the active subscription. Bars for unsubscribed
// symbols are dropped.
func (g *SimulatedGateway) Push(bar types.Bar) {
	g.mu.Lock()
	onBar := g.onBar
	subscribed := g.subscribed[bar.Symbol]
	g.mu.Unlock()

	if onBar != nil && subscribed {
		onBar(bar)
	}
}

// Connect implements Gateway.
func (g *SimulatedGateway) Connect(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = true

	return nil
}

// HistoricalBars implements Gateway.
func (g *SimulatedGateway) HistoricalBars(_ context.Context, symbol string, start, end time.Time, _ int) ([]types.Bar, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []types.Bar
	for _, bar := range g.historical[symbol] {
		if !bar.Time.Before(start) && !bar.Time.After(end) {
			out = append(out, bar)
		}
	}

	return out, nil
}

// SubscribeBars implements Gateway.
func (g *SimulatedGateway) SubscribeBars(_ context.Context, symbols []string, onBar BarFunc) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.connected {
		return errors.New(errors.ErrCodeGatewayDisconnected, "simulated gateway not connected")
	}

	g.onBar = onBar
	for _, symbol := range symbols {
		g.subscribed[symbol] = true
	}

	return nil
}

// UnsubscribeBars implements Gateway.
func (g *SimulatedGateway) UnsubscribeBars(symbols []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, symbol := range symbols {
		delete(g.subscribed, symbol)
	}

	return nil
}

// Disconnect implements Gateway.
func (g *SimulatedGateway) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.connected = false
	g.onBar = nil
	g.subscribed = make(map[string]bool)

	return nil
}
