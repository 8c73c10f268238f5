package datasource

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridianlab/intraday/internal/aggregator"
	"github.com/meridianlab/intraday/internal/calendar"
	"github.com/meridianlab/intraday/internal/gateway"
	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/store"
	"github.com/meridianlab/intraday/internal/types"
	"github.com/meridianlab/intraday/pkg/errors"
)

var _ DataSource = (*LiveDataSource)(nil)

const (
	// defaultAdvanceTimeout bounds how long Advance waits for the next raw
	// bar of a symbol before treating the feed as stalled.
	defaultAdvanceTimeout = 6 * time.Second

	rawBufferSize = 1024
)

// LiveDataSource streams fine-grained bars from a gateway. Each raw bar is
// both queued for the loop and folded into a per-symbol aggregator that
// produces target-granularity bars for filters and new-day logic.
type LiveDataSource struct {
	gw     gateway.Gateway
	store  *store.Store
	cal    *calendar.Calendar
	logger *logger.Logger

	sourceGranularity int
	targetGranularity int
	advanceTimeout    time.Duration

	symbols []string
	active  []string

	raw         map[string]chan types.Bar
	aggregators map[string]*aggregator.BarAggregator

	mu         sync.Mutex
	latest     map[string][]types.Bar
	aggregated map[string][]types.Bar
	floats     map[string]float64

	// preloadedAggregated counts the aggregated bars loaded from the store
	// before streaming began; filters use it to separate history from the
	// live session.
	preloadedAggregated int
}

// NewLive builds a live source streaming from gw. The store is optional and
// only used by PreloadFromStore.
func NewLive(
	gw gateway.Gateway,
	st *store.Store,
	cal *calendar.Calendar,
	log *logger.Logger,
	symbols []string,
	sourceGranularity, targetGranularity int,
) (*LiveDataSource, error) {
	ds := &LiveDataSource{
		gw:                gw,
		store:             st,
		cal:               cal,
		logger:            log,
		sourceGranularity: sourceGranularity,
		targetGranularity: targetGranularity,
		advanceTimeout:    defaultAdvanceTimeout,
		symbols:           append([]string(nil), symbols...),
		active:            append([]string(nil), symbols...),
		raw:               make(map[string]chan types.Bar),
		aggregators:       make(map[string]*aggregator.BarAggregator),
		latest:            make(map[string][]types.Bar),
		aggregated:        make(map[string][]types.Bar),
		floats:            make(map[string]float64),
	}

	for _, symbol := range symbols {
		agg, err := aggregator.New(symbol, sourceGranularity, targetGranularity, ds.storeAggregatedBar)
		if err != nil {
			return nil, err
		}
		ds.aggregators[symbol] = agg
		ds.raw[symbol] = make(chan types.Bar, rawBufferSize)
	}

	return ds, nil
}

// SetAdvanceTimeout overrides the per-symbol wait in Advance.
func (l *LiveDataSource) SetAdvanceTimeout(timeout time.Duration) {
	l.advanceTimeout = timeout
}

// Start connects the gateway and subscribes the raw bar stream.
func (l *LiveDataSource) Start(ctx context.Context) error {
	if err := l.gw.Connect(ctx); err != nil {
		return errors.Wrapf(errors.ErrCodeGatewayDisconnected, err, "failed to connect %s gateway", l.gw.Name())
	}

	if err := l.gw.SubscribeBars(ctx, l.symbols, l.onRawBar); err != nil {
		return errors.Wrapf(errors.ErrCodeGatewaySubscribeFailed, err, "failed to subscribe %s bars", l.gw.Name())
	}

	l.logger.Info("live stream started",
		zap.String("gateway", l.gw.Name()),
		zap.Int("symbols", len(l.symbols)),
	)

	return nil
}

// PreloadFromStore seeds the aggregated series from stored bars so filters
// have lookback history on the first live session of the day. Symbols with
// incomplete coverage are dropped from the feed entirely.
func (l *LiveDataSource) PreloadFromStore(start, end time.Time) error {
	if l.store == nil {
		return errors.New(errors.ErrCodeInvalidConfiguration, "live preload requires a store")
	}

	rows, err := l.store.BarsBetween(start, end, l.symbols)
	if err != nil {
		return err
	}

	days := calendar.TradingDays(start, end)
	if len(days) > 0 && calendar.SameDay(days[len(days)-1], end) {
		days = days[:len(days)-1]
	}

	records := groupBySymbol(rows)
	records = dropIncompleteSymbols(
		records, days, l.cal,
		l.cal.ExpectedBarsPerDay(store.SourceGranularitySeconds),
		start, end, l.logger,
	)

	if len(records) == 0 {
		return errors.New(errors.ErrCodeIncompleteData, "no symbols with complete data in the preload range")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	survivors := sortedSymbols(records)
	for _, symbol := range survivors {
		aggregated, err := aggregator.Aggregate(symbol, records[symbol], store.SourceGranularitySeconds, l.targetGranularity)
		if err != nil {
			return err
		}
		l.aggregated[symbol] = append(l.aggregated[symbol], aggregated...)
	}

	l.symbols = survivors
	l.active = append([]string(nil), survivors...)
	l.preloadedAggregated = len(l.aggregated[survivors[0]])

	floats, err := l.store.SymbolFloats(survivors)
	if err != nil {
		return err
	}
	l.floats = floats

	return nil
}

// PreloadedAggregatedCount is the number of aggregated bars per symbol that
// came from the store rather than the live stream.
func (l *LiveDataSource) PreloadedAggregatedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.preloadedAggregated
}

func (l *LiveDataSource) onRawBar(bar types.Bar) {
	agg, ok := l.aggregators[bar.Symbol]
	if !ok {
		return
	}
	agg.Process(bar)

	select {
	case l.raw[bar.Symbol] <- bar:
	default:
		l.logger.Warn("raw bar buffer full, dropping bar",
			zap.String("symbol", bar.Symbol),
			zap.Time("time", bar.Time),
		)
	}
}

func (l *LiveDataSource) storeAggregatedBar(bar types.Bar) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.aggregated[bar.Symbol] = append(l.aggregated[bar.Symbol], bar)
}

// Advance implements DataSource. It waits for one raw bar per symbol; a
// timeout or context cancellation stops the session without error.
func (l *LiveDataSource) Advance(ctx context.Context) bool {
	cont := true

	for _, symbol := range l.symbols {
		select {
		case bar := <-l.raw[symbol]:
			l.mu.Lock()
			l.latest[symbol] = append(l.latest[symbol], bar)
			l.mu.Unlock()
		case <-time.After(l.advanceTimeout):
			l.logger.Warn("live feed timed out", zap.String("symbol", symbol))
			cont = false
		case <-ctx.Done():
			cont = false
		}
	}

	return cont
}

// LatestBars implements DataSource, returning raw source-granularity bars.
func (l *LiveDataSource) LatestBars(symbol string, n int) []types.Bar {
	l.mu.Lock()
	defer l.mu.Unlock()

	return tail(l.latest[symbol], n)
}

// LatestAggregated implements DataSource, returning target-granularity bars
// produced by the per-symbol aggregators plus any store preload.
func (l *LiveDataSource) LatestAggregated(symbol string, n int) []types.Bar {
	l.mu.Lock()
	defer l.mu.Unlock()

	return tail(l.aggregated[symbol], n)
}

// AllSymbols implements DataSource.
func (l *LiveDataSource) AllSymbols() []string {
	return l.symbols
}

// ActiveSymbols implements DataSource.
func (l *LiveDataSource) ActiveSymbols() []string {
	return l.active
}

// SetActiveSymbols implements DataSource.
func (l *LiveDataSource) SetActiveSymbols(symbols []string) {
	l.active = symbols
}

// Floats implements DataSource.
func (l *LiveDataSource) Floats() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.floats
}

// Close implements DataSource. Teardown always runs both steps; the first
// error wins.
func (l *LiveDataSource) Close() error {
	unsubErr := l.gw.UnsubscribeBars(l.symbols)
	discErr := l.gw.Disconnect()

	if unsubErr != nil {
		return unsubErr
	}

	return discErr
}
