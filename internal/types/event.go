package types

import (
	"time"

	"github.com/moznion/go-optional"
)

type EventType string

const (
	EventTypeMarket EventType = "MARKET"
	EventTypeSignal EventType = "SIGNAL"
	EventTypeOrder  EventType = "ORDER"
	EventTypeFill   EventType = "FILL"
)

// Event is the tagged variant dispatched by the event loop. Events are value
// objects; nothing holds a reference to one after dispatch.
type Event interface {
	Type() EventType
}

// EventPublisher enqueues an event for dispatch within the current loop cycle.
type EventPublisher interface {
	Publish(event Event)
}

type SignalDirection string

const (
	SignalDirectionLong  SignalDirection = "LONG"
	SignalDirectionShort SignalDirection = "SHORT"
	SignalDirectionExit  SignalDirection = "EXIT"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderKind string

const (
	OrderKindMarket OrderKind = "MKT"
	OrderKindLimit  OrderKind = "LMT"
)

// MarketEvent signals that every active symbol received a new completed bar.
type MarketEvent struct {
	Time time.Time
}

func (e MarketEvent) Type() EventType { return EventTypeMarket }

// SignalEvent is a strategy decision, consumed by the portfolio to size and
// emit orders.
type SignalEvent struct {
	Symbol    string
	Time      time.Time
	Direction SignalDirection
	Quantity  float64
	Price     float64
}

func (e SignalEvent) Type() EventType { return EventTypeSignal }

// OrderEvent is routed to an execution handler.
type OrderEvent struct {
	ID        string
	Symbol    string
	Kind      OrderKind
	Quantity  float64
	Direction Side
	Price     float64
	Time      time.Time
}

func (e OrderEvent) Type() EventType { return EventTypeOrder }

// FillEvent reports an executed order as returned from a brokerage or the
// simulated execution handler. Commission is optional; when the brokerage
// does not report one the consumer derives it from the commission model.
type FillEvent struct {
	Time       time.Time
	Symbol     string
	Exchange   string
	Quantity   float64
	Direction  Side
	FillPrice  float64
	Commission optional.Option[float64]
}

func (e FillEvent) Type() EventType { return EventTypeFill }
