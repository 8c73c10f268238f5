// Package aggregator merges fine-grained OHLCV bars into coarser bars aligned
// to fixed wall-clock windows.
package aggregator

import (
	"time"

	"github.com/meridianlab/intraday/internal/types"
	"github.com/meridianlab/intraday/pkg/errors"
)

// CompletedBarFunc receives each aggregated bar exactly once, in ascending
// window order, immediately after its window completes.
type CompletedBarFunc func(bar types.Bar)

// BarAggregator merges bars of a fine source granularity into bars of a
// coarser target granularity for a single symbol. Windows are aligned to the
// epoch: a tick at time t belongs to the window starting at
// floor(t/target)*target.
//
// A window completes when the first tick of a later window arrives, so the
// final in-progress window must be flushed with Finalize at end of stream.
// The aggregator is not safe for concurrent use.
type BarAggregator struct {
	symbol            string
	sourceGranularity int
	targetGranularity int
	onCompletedBar    CompletedBarFunc

	current   *types.Bar
	completed time.Time // start of the most recently emitted window

	recent    []types.Bar // ring of the most recent source bars, one window's worth
	recentPos int
	recentLen int
}

// New validates the granularity pair and returns an aggregator. The target
// granularity must be a positive multiple of the source granularity.
func New(symbol string, sourceGranularity, targetGranularity int, onCompletedBar CompletedBarFunc) (*BarAggregator, error) {
	if sourceGranularity <= 0 || targetGranularity <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidGranularity,
			"granularities must be positive, got source=%d target=%d", sourceGranularity, targetGranularity)
	}

	if targetGranularity%sourceGranularity != 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidGranularity,
			"target granularity %ds is not a multiple of source granularity %ds", targetGranularity, sourceGranularity)
	}

	return &BarAggregator{
		symbol:            symbol,
		sourceGranularity: sourceGranularity,
		targetGranularity: targetGranularity,
		onCompletedBar:    onCompletedBar,
		current:           nil,
		completed:         time.Time{},
		recent:            make([]types.Bar, targetGranularity/sourceGranularity),
		recentPos:         0,
		recentLen:         0,
	}, nil
}

// Symbol returns the symbol this aggregator serves.
func (a *BarAggregator) Symbol() string {
	return a.symbol
}

// Process folds one source bar into the open window. When the bar opens a new
// window the previous window is finalized first, so the callback fires before
// any state of the new window is visible.
func (a *BarAggregator) Process(bar types.Bar) {
	windowStart := a.windowStart(bar.Time)

	if a.current == nil || !windowStart.Equal(a.current.Time) {
		a.Finalize()

		a.current = &types.Bar{
			Symbol: a.symbol,
			Time:   windowStart,
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: bar.Volume,
		}
	} else {
		if bar.High > a.current.High {
			a.current.High = bar.High
		}
		if bar.Low < a.current.Low {
			a.current.Low = bar.Low
		}
		a.current.Close = bar.Close
		a.current.Volume += bar.Volume
	}

	a.recent[a.recentPos] = bar
	a.recentPos = (a.recentPos + 1) % len(a.recent)
	if a.recentLen < len(a.recent) {
		a.recentLen++
	}
}

// Finalize emits the open window, if any. Calling it with no open window, or
// for a window at or before the last emitted one, is a no-op; the loop calls
// it once at end of stream and duplicate calls are harmless.
func (a *BarAggregator) Finalize() {
	if a.current == nil {
		return
	}

	if !a.completed.IsZero() && !a.current.Time.After(a.completed) {
		return
	}

	a.completed = a.current.Time
	completed := *a.current
	a.current = nil

	if a.onCompletedBar != nil {
		a.onCompletedBar(completed)
	}
}

// LastCompletedTime is the window start of the most recently emitted bar, or
// the zero time when nothing has been emitted yet.
func (a *BarAggregator) LastCompletedTime() time.Time {
	return a.completed
}

// RecentSourceBars returns the most recent source bars, oldest first, up to
// one target window's worth.
func (a *BarAggregator) RecentSourceBars() []types.Bar {
	out := make([]types.Bar, 0, a.recentLen)
	start := (a.recentPos - a.recentLen + len(a.recent)) % len(a.recent)
	for i := 0; i < a.recentLen; i++ {
		out = append(out, a.recent[(start+i)%len(a.recent)])
	}

	return out
}

func (a *BarAggregator) windowStart(t time.Time) time.Time {
	target := int64(a.targetGranularity)
	aligned := t.Unix() / target * target

	return time.Unix(aligned, 0).In(t.Location())
}

// Aggregate runs a slice of source bars through a throwaway aggregator and
// returns the completed target bars, flushing the trailing window. Used by
// the historic data layer to re-aggregate stored fine bars.
func Aggregate(symbol string, bars []types.Bar, sourceGranularity, targetGranularity int) ([]types.Bar, error) {
	var out []types.Bar

	agg, err := New(symbol, sourceGranularity, targetGranularity, func(bar types.Bar) {
		out = append(out, bar)
	})
	if err != nil {
		return nil, err
	}

	for _, bar := range bars {
		agg.Process(bar)
	}
	agg.Finalize()

	return out, nil
}
