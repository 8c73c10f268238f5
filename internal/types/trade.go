package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one matched entry/exit round trip for a symbol. It is created on
// the entry signal, closed on the exit signal, and immutable once closed.
type Trade struct {
	Symbol    string    `csv:"symbol"`
	Quantity  float64   `csv:"quantity"`
	BuyPrice  float64   `csv:"buy_price"`
	SellPrice float64   `csv:"sell_price"`
	StartTime time.Time `csv:"start_time"`
	EndTime   time.Time `csv:"end_time"`
}

// Closed reports whether the trade has both legs.
func (t *Trade) Closed() bool {
	return !t.EndTime.IsZero()
}

// Close records the exit leg.
func (t *Trade) Close(endTime time.Time, sellPrice float64) {
	t.EndTime = endTime
	t.SellPrice = sellPrice
}

// PnL is the absolute profit of the round trip, excluding commission.
func (t *Trade) PnL() float64 {
	buyDec := decimal.NewFromFloat(t.BuyPrice)
	sellDec := decimal.NewFromFloat(t.SellPrice)
	qtyDec := decimal.NewFromFloat(t.Quantity)

	pnl, _ := sellDec.Sub(buyDec).Mul(qtyDec).Float64()

	return pnl
}

// Return is the percentage return of the round trip relative to the entry price.
func (t *Trade) Return() float64 {
	if t.BuyPrice == 0 {
		return 0
	}

	return (t.SellPrice - t.BuyPrice) / t.BuyPrice * 100
}

// Duration is the holding time of the round trip.
func (t *Trade) Duration() time.Duration {
	if !t.Closed() {
		return 0
	}

	return t.EndTime.Sub(t.StartTime)
}

// TradeMetrics aggregates the closed trade log of a run.
type TradeMetrics struct {
	TotalTrades            int     `csv:"total_trades" yaml:"total_trades"`
	WinningTrades          int     `csv:"num_winning_trades" yaml:"num_winning_trades"`
	LosingTrades           int     `csv:"num_losing_trades" yaml:"num_losing_trades"`
	WinLossRatio           float64 `csv:"win_loss_ratio" yaml:"win_loss_ratio"`
	AvgPercentGainWinners  float64 `csv:"avg_percent_gain_winners" yaml:"avg_percent_gain_winners"`
	AvgPercentLossLosers   float64 `csv:"avg_percent_loss_losers" yaml:"avg_percent_loss_losers"`
	AvgAbsoluteGainWinners float64 `csv:"avg_absolute_gain_winners" yaml:"avg_absolute_gain_winners"`
	AvgAbsoluteLossLosers  float64 `csv:"avg_absolute_loss_losers" yaml:"avg_absolute_loss_losers"`
	AvgReturnPercent       float64 `csv:"avg_return_percent_all_trades" yaml:"avg_return_percent_all_trades"`
	AvgReturnAbsolute      float64 `csv:"avg_return_absolute_all_trades" yaml:"avg_return_absolute_all_trades"`
}

// ComputeTradeMetrics derives aggregate win/loss statistics from a closed
// trade log. A flat trade (sell price equals buy price) counts as neither a
// winner nor a loser.
func ComputeTradeMetrics(trades []Trade) TradeMetrics {
	metrics := TradeMetrics{} //nolint:exhaustruct // zero value is the empty-log result

	if len(trades) == 0 {
		return metrics
	}

	metrics.TotalTrades = len(trades)

	var (
		percentAll, absoluteAll         float64
		percentWinners, percentLosers   float64
		absoluteWinners, absoluteLosers float64
	)

	for i := range trades {
		trade := &trades[i]
		pnl := trade.PnL()
		ret := trade.Return()

		percentAll += ret
		absoluteAll += pnl

		switch {
		case trade.SellPrice > trade.BuyPrice:
			metrics.WinningTrades++
			percentWinners += ret
			absoluteWinners += pnl
		case trade.SellPrice < trade.BuyPrice:
			metrics.LosingTrades++
			percentLosers += ret
			absoluteLosers += pnl
		}
	}

	if metrics.LosingTrades > 0 {
		metrics.WinLossRatio = float64(metrics.WinningTrades) / float64(metrics.LosingTrades)
	} else if metrics.WinningTrades > 0 {
		metrics.WinLossRatio = float64(metrics.WinningTrades)
	}

	if metrics.WinningTrades > 0 {
		metrics.AvgPercentGainWinners = percentWinners / float64(metrics.WinningTrades)
		metrics.AvgAbsoluteGainWinners = absoluteWinners / float64(metrics.WinningTrades)
	}

	if metrics.LosingTrades > 0 {
		metrics.AvgPercentLossLosers = percentLosers / float64(metrics.LosingTrades)
		metrics.AvgAbsoluteLossLosers = absoluteLosers / float64(metrics.LosingTrades)
	}

	metrics.AvgReturnPercent = percentAll / float64(metrics.TotalTrades)
	metrics.AvgReturnAbsolute = absoluteAll / float64(metrics.TotalTrades)

	return metrics
}
