package datasource

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meridianlab/intraday/internal/aggregator"
	"github.com/meridianlab/intraday/internal/calendar"
	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/store"
	"github.com/meridianlab/intraday/internal/types"
	"github.com/meridianlab/intraday/pkg/errors"
)

var _ DataSource = (*HistoricDataSource)(nil)

// HistoricDataSource replays stored bars for a backtest. Preload pulls the
// raw rows once, drops symbols with incomplete coverage, applies the DST
// adjustment and re-aggregates the stored source granularity up to the target
// granularity. Advance then steps every symbol forward one target bar at a
// time.
type HistoricDataSource struct {
	store  *store.Store
	cal    *calendar.Calendar
	logger *logger.Logger

	sourceGranularity int
	targetGranularity int

	// Timestamps inside [dstStart, dstEnd] are shifted forward one hour to
	// undo the wall-clock drift of data recorded across a DST change. Zero
	// bounds disable the shift.
	dstStart time.Time
	dstEnd   time.Time

	symbols []string
	active  []string

	series map[string][]types.Bar
	cursor map[string]int
	latest map[string][]types.Bar
	floats map[string]float64

	fullDays []time.Time
}

// NewHistoric builds an unloaded historic source. Call Preload before the
// first Advance.
func NewHistoric(
	st *store.Store,
	cal *calendar.Calendar,
	log *logger.Logger,
	sourceGranularity, targetGranularity int,
) (*HistoricDataSource, error) {
	if targetGranularity%sourceGranularity != 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidGranularity,
			"target granularity %ds is not a multiple of stored granularity %ds", targetGranularity, sourceGranularity)
	}

	return &HistoricDataSource{
		store:             st,
		cal:               cal,
		logger:            log,
		sourceGranularity: sourceGranularity,
		targetGranularity: targetGranularity,
		series:            make(map[string][]types.Bar),
		cursor:            make(map[string]int),
		latest:            make(map[string][]types.Bar),
		floats:            make(map[string]float64),
	}, nil
}

// SetDSTWindow enables the one-hour forward shift for bars dated within
// [start, end].
func (h *HistoricDataSource) SetDSTWindow(start, end time.Time) {
	h.dstStart = start
	h.dstEnd = end
}

// Preload fetches and prepares the bar series for the given symbols over
// [start, end]. Symbols without complete coverage of every full trading day
// are dropped; the survivors become both the full and the active symbol set.
func (h *HistoricDataSource) Preload(start, end time.Time, symbols []string) error {
	h.fullDays = calendar.FullTradingDays(start, end)

	rows, err := h.store.BarsBetween(start, end, symbols)
	if err != nil {
		return err
	}

	kept := make([]types.Bar, 0, len(rows))
	for _, bar := range rows {
		if !h.onFullTradingDay(bar.Time) {
			continue
		}
		bar.Time = h.adjustForDST(bar.Time)
		kept = append(kept, bar)
	}

	records := groupBySymbol(kept)
	records = dropIncompleteSymbols(
		records, h.fullDays, h.cal,
		h.cal.ExpectedBarsPerDay(h.sourceGranularity),
		start, end, h.logger,
	)

	if len(records) == 0 {
		return errors.New(errors.ErrCodeIncompleteData, "no symbols with complete data in the requested range")
	}

	for symbol, bars := range records {
		aggregated, err := aggregator.Aggregate(symbol, bars, h.sourceGranularity, h.targetGranularity)
		if err != nil {
			return err
		}
		h.series[symbol] = aggregated
		h.cursor[symbol] = 0
		h.latest[symbol] = nil
	}

	h.symbols = sortedSymbols(records)
	h.active = append([]string(nil), h.symbols...)

	h.logger.Info("historic data loaded",
		zap.Int("symbols", len(h.symbols)),
		zap.Int("full_trading_days", len(h.fullDays)),
		zap.Int("target_granularity_seconds", h.targetGranularity),
	)

	return h.loadFloats()
}

func (h *HistoricDataSource) loadFloats() error {
	floats, err := h.store.SymbolFloats(h.symbols)
	if err != nil {
		return err
	}
	h.floats = floats

	return nil
}

func (h *HistoricDataSource) onFullTradingDay(t time.Time) bool {
	for _, day := range h.fullDays {
		if calendar.SameDay(day, t) {
			return true
		}
	}

	return false
}

func (h *HistoricDataSource) adjustForDST(t time.Time) time.Time {
	if h.dstStart.IsZero() || h.dstEnd.IsZero() {
		return t
	}
	if t.Before(h.dstStart) || t.After(h.dstEnd.AddDate(0, 0, 1)) {
		return t
	}

	return t.Add(time.Hour)
}

// Advance implements DataSource. Every symbol that still has bars gets its
// next one appended to the latest buffer; the replay stops once any symbol
// runs out.
func (h *HistoricDataSource) Advance(_ context.Context) bool {
	cont := true

	for _, symbol := range h.symbols {
		position := h.cursor[symbol]
		if position >= len(h.series[symbol]) {
			cont = false
			continue
		}
		h.latest[symbol] = append(h.latest[symbol], h.series[symbol][position])
		h.cursor[symbol] = position + 1
	}

	return cont
}

// LatestBars implements DataSource.
func (h *HistoricDataSource) LatestBars(symbol string, n int) []types.Bar {
	return tail(h.latest[symbol], n)
}

// LatestAggregated implements DataSource. The historic feed replays bars
// already at the target granularity, so this is the same series as
// LatestBars.
func (h *HistoricDataSource) LatestAggregated(symbol string, n int) []types.Bar {
	return h.LatestBars(symbol, n)
}

// AllBars returns the entire preloaded target-granularity series for a
// symbol, independent of replay position. Filters use it for lookback
// windows.
func (h *HistoricDataSource) AllBars(symbol string) []types.Bar {
	return h.series[symbol]
}

// AllSymbols implements DataSource.
func (h *HistoricDataSource) AllSymbols() []string {
	return h.symbols
}

// ActiveSymbols implements DataSource.
func (h *HistoricDataSource) ActiveSymbols() []string {
	return h.active
}

// SetActiveSymbols implements DataSource.
func (h *HistoricDataSource) SetActiveSymbols(symbols []string) {
	h.active = symbols
}

// Floats implements DataSource.
func (h *HistoricDataSource) Floats() map[string]float64 {
	return h.floats
}

// FullTradingDays is the set of complete sessions inside the replayed range.
func (h *HistoricDataSource) FullTradingDays() []time.Time {
	return h.fullDays
}

// Close implements DataSource. The store is owned by the caller.
func (h *HistoricDataSource) Close() error {
	return nil
}

func tail(bars []types.Bar, n int) []types.Bar {
	if n <= 0 || n >= len(bars) {
		return bars
	}

	return bars[len(bars)-n:]
}
