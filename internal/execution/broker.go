package execution

import (
	"context"
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/types"
	"github.com/meridianlab/intraday/pkg/errors"
)

// OrderRouter places orders with a brokerage.
type OrderRouter interface {
	PlaceOrder(ctx context.Context, order types.OrderEvent) error
}

// ExecutionDetail is the trade half of a brokerage fill report.
type ExecutionDetail struct {
	Time      time.Time
	Symbol    string
	Exchange  string
	Quantity  float64
	Direction types.Side
	FillPrice float64
}

// defaultPendingTTL bounds how long a half-correlated fill may wait for its
// other half before being discarded.
const defaultPendingTTL = 2 * time.Minute

// fillBuffer bounds completed fills waiting for the loop to collect them.
const fillBuffer = 256

var _ Handler = (*BrokerHandler)(nil)

// BrokerHandler routes orders to a brokerage and correlates its two-part
// fill reports: execution details and the commission report arrive as
// separate messages keyed by execution id, in either order. Only when both
// halves are present does a fill event reach the loop. Halves older than the
// TTL are swept and logged so the pending table cannot grow without bound.
//
// Report callbacks run on the brokerage goroutine; completed fills cross
// into the loop through the Fills channel, never through the queue directly.
type BrokerHandler struct {
	router OrderRouter
	logger *logger.Logger

	mu      sync.Mutex
	pending map[string]*pendingFill
	fills   chan types.FillEvent

	ttl time.Duration
	now func() time.Time
}

type pendingFill struct {
	detail     *ExecutionDetail
	commission optional.Option[float64]
	created    time.Time
}

// NewBroker builds the live execution handler.
func NewBroker(router OrderRouter, log *logger.Logger) *BrokerHandler {
	return &BrokerHandler{
		router:  router,
		logger:  log,
		pending: make(map[string]*pendingFill),
		fills:   make(chan types.FillEvent, fillBuffer),
		ttl:     defaultPendingTTL,
		now:     time.Now,
	}
}

// Fills yields completed fills for the loop to publish.
func (h *BrokerHandler) Fills() <-chan types.FillEvent {
	return h.fills
}

// SetPendingTTL overrides the correlation timeout.
func (h *BrokerHandler) SetPendingTTL(ttl time.Duration) {
	h.ttl = ttl
}

// ExecuteOrder implements Handler.
func (h *BrokerHandler) ExecuteOrder(ctx context.Context, event types.OrderEvent) error {
	if err := h.router.PlaceOrder(ctx, event); err != nil {
		return errors.Wrapf(errors.ErrCodeOrderFailed, err, "failed to place %s order for %s", event.Direction, event.Symbol)
	}

	return nil
}

// OnExecutionDetail records the trade half of a fill report.
func (h *BrokerHandler) OnExecutionDetail(executionID string, detail ExecutionDetail) {
	h.mu.Lock()
	entry := h.entry(executionID)
	entry.detail = &detail
	fill, done := h.takeCompletedLocked(executionID, entry)
	h.mu.Unlock()

	if done {
		h.deliver(executionID, fill)
	}
}

// OnCommissionReport records the commission half of a fill report.
func (h *BrokerHandler) OnCommissionReport(executionID string, commission float64) {
	h.mu.Lock()
	entry := h.entry(executionID)
	entry.commission = optional.Some(commission)
	fill, done := h.takeCompletedLocked(executionID, entry)
	h.mu.Unlock()

	if done {
		h.deliver(executionID, fill)
	}
}

// PendingCount reports how many half-correlated fills are waiting.
func (h *BrokerHandler) PendingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.pending)
}

// SweepExpired drops pending halves older than the TTL, logging each by
// execution id. The loop calls it once per cycle.
func (h *BrokerHandler) SweepExpired() {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.now().Add(-h.ttl)
	for executionID, entry := range h.pending {
		if entry.created.After(cutoff) {
			continue
		}

		h.logger.Warn("dropping expired half-correlated fill",
			zap.String("execution_id", executionID),
			zap.Bool("has_detail", entry.detail != nil),
			zap.Bool("has_commission", entry.commission.IsSome()),
			zap.Time("created", entry.created),
		)
		delete(h.pending, executionID)
	}
}

func (h *BrokerHandler) entry(executionID string) *pendingFill {
	entry, ok := h.pending[executionID]
	if !ok {
		entry = &pendingFill{
			detail:     nil,
			commission: optional.None[float64](),
			created:    h.now(),
		}
		h.pending[executionID] = entry
	}

	return entry
}

func (h *BrokerHandler) takeCompletedLocked(executionID string, entry *pendingFill) (types.FillEvent, bool) {
	if entry.detail == nil || entry.commission.IsNone() {
		return types.FillEvent{}, false //nolint:exhaustruct
	}

	delete(h.pending, executionID)

	detail := entry.detail

	return types.FillEvent{
		Time:       detail.Time,
		Symbol:     detail.Symbol,
		Exchange:   detail.Exchange,
		Quantity:   detail.Quantity,
		Direction:  detail.Direction,
		FillPrice:  detail.FillPrice,
		Commission: entry.commission,
	}, true
}

// deliver hands a completed fill across the goroutine boundary. Must not
// hold the lock.
func (h *BrokerHandler) deliver(executionID string, fill types.FillEvent) {
	h.fills <- fill

	h.logger.Info("fill correlated",
		zap.String("execution_id", executionID),
		zap.String("symbol", fill.Symbol),
		zap.Float64("fill_price", fill.FillPrice),
	)
}
