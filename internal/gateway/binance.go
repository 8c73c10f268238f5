package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"go.uber.org/zap"

	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/types"
	"github.com/meridianlab/intraday/pkg/errors"
)

// BinanceStreamService starts a kline websocket stream for one symbol.
// Tests substitute a scripted implementation for binance.WsKlineServe.
type BinanceStreamService interface {
	WsKlineServe(symbol, interval string, handler binance.WsKlineHandler, errHandler binance.ErrHandler) (doneC, stopC chan struct{}, err error)
}

// BinanceKlinesService fetches historical klines. Tests substitute a scripted
// implementation for the REST klines endpoint.
type BinanceKlinesService interface {
	Klines(ctx context.Context, symbol, interval string, start, end int64) ([]*binance.Kline, error)
}

type binanceLiveStream struct{}

func (binanceLiveStream) WsKlineServe(
	symbol, interval string,
	handler binance.WsKlineHandler,
	errHandler binance.ErrHandler,
) (chan struct{}, chan struct{}, error) {
	return binance.WsKlineServe(symbol, interval, handler, errHandler)
}

type binanceRestKlines struct {
	client *binance.Client
}

func (s *binanceRestKlines) Klines(ctx context.Context, symbol, interval string, start, end int64) ([]*binance.Kline, error) {
	return s.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(start).
		EndTime(end).
		Do(ctx)
}

var _ Gateway = (*BinanceGateway)(nil)

// BinanceGateway streams klines from Binance and serves historical klines
// over its REST API. Only finalized candles are forwarded.
type BinanceGateway struct {
	stream BinanceStreamService
	klines BinanceKlinesService
	logger *logger.Logger

	granularitySeconds int

	mu        sync.Mutex
	connected bool
	onBar     BarFunc
	stops     map[string]chan struct{}
}

// NewBinance builds a gateway over the real Binance clients. No credentials
// are needed for market data.
func NewBinance(granularitySeconds int, log *logger.Logger) *BinanceGateway {
	return NewBinanceWithServices(
		granularitySeconds,
		binanceLiveStream{},
		&binanceRestKlines{client: binance.NewClient("", "")},
		log,
	)
}

// NewBinanceWithServices builds a gateway with injected stream and klines
// services.
func NewBinanceWithServices(
	granularitySeconds int,
	stream BinanceStreamService,
	klines BinanceKlinesService,
	log *logger.Logger,
) *BinanceGateway {
	return &BinanceGateway{ //nolint:exhaustruct
		stream:             stream,
		klines:             klines,
		logger:             log,
		granularitySeconds: granularitySeconds,
		stops:              make(map[string]chan struct{}),
	}
}

// Name implements Gateway.
func (g *BinanceGateway) Name() string { return "binance" }

// Connect implements Gateway. Binance streams open per subscription, so this
// only marks the session up.
func (g *BinanceGateway) Connect(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = true

	return nil
}

// HistoricalBars implements Gateway using the REST klines endpoint.
func (g *BinanceGateway) HistoricalBars(
	ctx context.Context,
	symbol string,
	start, end time.Time,
	granularitySeconds int,
) ([]types.Bar, error) {
	interval, err := binanceInterval(granularitySeconds)
	if err != nil {
		return nil, err
	}

	klines, err := g.klines.Klines(ctx, symbol, interval, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeGatewayFetchFailed, err,
			"failed to fetch binance klines for %s", symbol)
	}

	bars := make([]types.Bar, 0, len(klines))
	for _, kline := range klines {
		bar, err := klineToBar(symbol, time.UnixMilli(kline.OpenTime),
			kline.Open, kline.High, kline.Low, kline.Close, kline.Volume)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}

	return bars, nil
}

// SubscribeBars implements Gateway. Each symbol gets its own kline stream.
func (g *BinanceGateway) SubscribeBars(_ context.Context, symbols []string, onBar BarFunc) error {
	interval, err := binanceInterval(g.granularitySeconds)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.connected {
		return errors.New(errors.ErrCodeGatewayDisconnected, "binance gateway not connected")
	}

	g.onBar = onBar

	for _, symbol := range symbols {
		if _, ok := g.stops[symbol]; ok {
			continue
		}

		_, stopC, err := g.stream.WsKlineServe(symbol, interval, g.handleKline, g.handleStreamError)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeGatewaySubscribeFailed, err,
				"failed to open binance kline stream for %s", symbol)
		}
		g.stops[symbol] = stopC
	}

	return nil
}

func (g *BinanceGateway) handleKline(event *binance.WsKlineEvent) {
	if event == nil || !event.Kline.IsFinal {
		return
	}

	g.mu.Lock()
	onBar := g.onBar
	_, subscribed := g.stops[event.Symbol]
	g.mu.Unlock()

	if onBar == nil || !subscribed {
		return
	}

	bar, err := klineToBar(event.Symbol, time.UnixMilli(event.Kline.StartTime),
		event.Kline.Open, event.Kline.High, event.Kline.Low, event.Kline.Close, event.Kline.Volume)
	if err != nil {
		g.logger.Warn("dropping malformed binance kline",
			zap.String("symbol", event.Symbol),
			zap.Error(err),
		)

		return
	}

	onBar(bar)
}

func (g *BinanceGateway) handleStreamError(err error) {
	g.logger.Warn("binance stream error", zap.Error(err))
}

// UnsubscribeBars implements Gateway.
func (g *BinanceGateway) UnsubscribeBars(symbols []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, symbol := range symbols {
		if stopC, ok := g.stops[symbol]; ok {
			close(stopC)
			delete(g.stops, symbol)
		}
	}

	return nil
}

// Disconnect implements Gateway. All open streams stop.
func (g *BinanceGateway) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for symbol, stopC := range g.stops {
		close(stopC)
		delete(g.stops, symbol)
	}
	g.connected = false
	g.onBar = nil

	return nil
}

// klineToBar parses the string-encoded OHLCV fields of a Binance kline.
func klineToBar(symbol string, at time.Time, open, high, low, closePrice, volume string) (types.Bar, error) {
	values := make([]float64, 0, 5)
	for _, field := range []string{open, high, low, closePrice, volume} {
		value, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return types.Bar{}, errors.Wrapf(errors.ErrCodeGatewayParseFailed, err,
				"invalid kline field %q for %s", field, symbol)
		}
		values = append(values, value)
	}

	return types.Bar{
		Symbol: symbol,
		Time:   at,
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
	}, nil
}

// binanceInterval maps a bar length in seconds onto a Binance kline interval.
func binanceInterval(granularitySeconds int) (string, error) {
	switch {
	case granularitySeconds <= 0:
		return "", errors.Newf(errors.ErrCodeInvalidGranularity, "invalid granularity %ds", granularitySeconds)
	case granularitySeconds%86400 == 0:
		return fmt.Sprintf("%dd", granularitySeconds/86400), nil
	case granularitySeconds%3600 == 0:
		return fmt.Sprintf("%dh", granularitySeconds/3600), nil
	case granularitySeconds%60 == 0:
		return fmt.Sprintf("%dm", granularitySeconds/60), nil
	default:
		return fmt.Sprintf("%ds", granularitySeconds), nil
	}
}
