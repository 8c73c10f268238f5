// Package commission provides per-broker commission models applied to fills.
package commission

import (
	"github.com/shopspring/decimal"
)

// Broker identifies a commission schedule.
type Broker string

const (
	BrokerInteractiveBrokers Broker = "IB"
	BrokerZero               Broker = "ZERO"
)

// Model computes the commission charged for a fill.
type Model interface {
	// Calculate returns the commission for a fill of the given share
	// quantity at the given fill price.
	Calculate(quantity, price float64) float64
}

// ForBroker returns the commission model for a broker, defaulting to the
// Interactive Brokers schedule for unknown names.
func ForBroker(broker Broker) Model {
	switch broker {
	case BrokerZero:
		return &Zero{}
	case BrokerInteractiveBrokers:
		return NewInteractiveBrokers()
	default:
		return NewInteractiveBrokers()
	}
}

var (
	_ Model = (*Zero)(nil)
	_ Model = (*InteractiveBrokers)(nil)
)

// Zero charges no commission.
type Zero struct{}

// Calculate implements Model.
func (z *Zero) Calculate(_, _ float64) float64 {
	return 0
}

// InteractiveBrokers models the IB fixed-rate US equity schedule: a tiered
// per-share rate with a minimum charge, capped at a fraction of trade value.
type InteractiveBrokers struct {
	minimum       decimal.Decimal
	smallLotRate  decimal.Decimal // per share, orders up to the tier boundary
	largeLotRate  decimal.Decimal // per share above the tier boundary
	tierBoundary  decimal.Decimal
	tradeValueCap decimal.Decimal // fraction of quantity * price
}

// NewInteractiveBrokers returns the IB schedule with its published rates.
func NewInteractiveBrokers() *InteractiveBrokers {
	return &InteractiveBrokers{
		minimum:       decimal.NewFromFloat(1.3),
		smallLotRate:  decimal.NewFromFloat(0.013),
		largeLotRate:  decimal.NewFromFloat(0.008),
		tierBoundary:  decimal.NewFromInt(500),
		tradeValueCap: decimal.NewFromFloat(0.005),
	}
}

// Calculate implements Model.
func (ib *InteractiveBrokers) Calculate(quantity, price float64) float64 {
	quantityDec := decimal.NewFromFloat(quantity)
	priceDec := decimal.NewFromFloat(price)

	var rate decimal.Decimal
	if quantityDec.LessThanOrEqual(ib.tierBoundary) {
		rate = ib.smallLotRate
	} else {
		rate = ib.largeLotRate
	}

	fee := decimal.Max(ib.minimum, rate.Mul(quantityDec))

	cap := ib.tradeValueCap.Mul(quantityDec).Mul(priceDec)
	if fee.GreaterThan(cap) {
		fee = cap
	}

	result, _ := fee.Float64()

	return result
}
