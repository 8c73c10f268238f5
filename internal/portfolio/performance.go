package portfolio

import (
	"math"
	"time"

	"github.com/meridianlab/intraday/internal/types"
)

// EquityPoint is one step of the compounded equity curve derived from the
// holdings history.
type EquityPoint struct {
	Time   time.Time
	Total  float64
	Return float64 // percentage change of the total vs the previous point
	Equity float64 // cumulative product of (1 + Return), starting at 1
}

// SummaryStats condenses a run into headline figures. TotalReturnPct is the
// growth of the equity curve; MaxDrawdownPct is the deepest peak-to-trough
// drop of the curve; DrawdownDuration counts consecutive underwater bars.
type SummaryStats struct {
	TotalReturnPct   float64 `csv:"total_return_pct" yaml:"total_return_pct"`
	SharpeRatio      float64 `csv:"sharpe_ratio" yaml:"sharpe_ratio"`
	MaxDrawdownPct   float64 `csv:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	DrawdownDuration int     `csv:"drawdown_duration" yaml:"drawdown_duration"`
}

// EquityCurve derives per-bar returns and the compounded growth index from
// the holdings snapshots. The first point has no return and equity 1.
func (p *NaivePortfolio) EquityCurve() []EquityPoint {
	holdings := p.allHoldings
	if len(holdings) == 0 {
		return nil
	}

	curve := make([]EquityPoint, len(holdings))
	equity := 1.0

	for i, snapshot := range holdings {
		point := EquityPoint{Time: snapshot.Time, Total: snapshot.Total} //nolint:exhaustruct
		if i > 0 && holdings[i-1].Total != 0 {
			point.Return = snapshot.Total/holdings[i-1].Total - 1
			equity *= 1 + point.Return
		}
		point.Equity = equity
		curve[i] = point
	}

	return curve
}

// BaselineCurve is the buy-and-hold equity curve of one symbol's bar series,
// derived from closes the same way the portfolio curve derives from totals.
// It gives the run statistics a passive benchmark.
func BaselineCurve(bars []types.Bar) []EquityPoint {
	if len(bars) == 0 {
		return nil
	}

	curve := make([]EquityPoint, len(bars))
	equity := 1.0

	for i, bar := range bars {
		point := EquityPoint{Time: bar.Time, Total: bar.Close} //nolint:exhaustruct
		if i > 0 && bars[i-1].Close != 0 {
			point.Return = bar.Close/bars[i-1].Close - 1
			equity *= 1 + point.Return
		}
		point.Equity = equity
		curve[i] = point
	}

	return curve
}

// Summarize computes the run statistics for bars of the given length.
func (p *NaivePortfolio) Summarize(barSizeSeconds int) SummaryStats {
	curve := p.EquityCurve()
	if len(curve) == 0 {
		return SummaryStats{} //nolint:exhaustruct
	}

	returns := make([]float64, 0, len(curve)-1)
	equity := make([]float64, 0, len(curve))
	for i, point := range curve {
		if i > 0 {
			returns = append(returns, point.Return)
		}
		equity = append(equity, point.Equity)
	}

	maxDrawdown, duration := Drawdowns(equity)

	return SummaryStats{
		TotalReturnPct:   (curve[len(curve)-1].Equity - 1) * 100,
		SharpeRatio:      SharpeRatio(returns, barSizeSeconds),
		MaxDrawdownPct:   maxDrawdown * 100,
		DrawdownDuration: duration,
	}
}

// SharpeRatio annualizes the mean/stddev ratio of per-bar returns assuming
// 252 trading days of 6.5 hours.
func SharpeRatio(returns []float64, barSizeSeconds int) float64 {
	if len(returns) == 0 || barSizeSeconds <= 0 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}

	periods := 252 * 6.5 * (3600 / float64(barSizeSeconds))

	return math.Sqrt(periods) * mean / std
}

// Drawdowns walks the equity curve against its high-water mark. The returned
// drawdown is the largest absolute gap below the mark; the duration is the
// longest run of consecutive underwater points.
func Drawdowns(equity []float64) (float64, int) {
	if len(equity) < 2 {
		return 0, 0
	}

	highWaterMark := 0.0
	maxDrawdown := 0.0
	duration := 0
	maxDuration := 0

	for i := 1; i < len(equity); i++ {
		if equity[i] > highWaterMark {
			highWaterMark = equity[i]
		}

		drawdown := highWaterMark - equity[i]
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}

		if drawdown == 0 {
			duration = 0
		} else {
			duration++
		}
		if duration > maxDuration {
			maxDuration = duration
		}
	}

	return maxDrawdown, maxDuration
}
