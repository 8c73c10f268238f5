// Package execution routes orders to a venue and raises fill events back
// into the loop.
package execution

import (
	"context"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/types"
)

// Handler executes orders coming off the event queue.
type Handler interface {
	ExecuteOrder(ctx context.Context, event types.OrderEvent) error
}

var _ Handler = (*SimulatedHandler)(nil)

// SimulatedHandler fills every order instantly at the order price, with no
// latency or slippage model. Fills carry no commission; the portfolio derives
// it from its commission model.
type SimulatedHandler struct {
	events types.EventPublisher
	logger *logger.Logger

	now func() time.Time
}

// NewSimulated builds the backtest execution handler.
func NewSimulated(events types.EventPublisher, log *logger.Logger) *SimulatedHandler {
	return &SimulatedHandler{
		events: events,
		logger: log,
		now:    time.Now,
	}
}

// ExecuteOrder implements Handler.
func (h *SimulatedHandler) ExecuteOrder(_ context.Context, event types.OrderEvent) error {
	h.logger.Debug("order executed",
		zap.String("symbol", event.Symbol),
		zap.Float64("quantity", event.Quantity),
		zap.String("direction", string(event.Direction)),
	)

	h.events.Publish(types.FillEvent{
		Time:       h.now().UTC(),
		Symbol:     event.Symbol,
		Exchange:   "ARCA",
		Quantity:   event.Quantity,
		Direction:  event.Direction,
		FillPrice:  event.Price,
		Commission: optional.None[float64](),
	})

	return nil
}
