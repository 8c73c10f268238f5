package gateway

import (
	"context"
	"sync"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	restmodels "github.com/polygon-io/client-go/rest/models"
	polygonws "github.com/polygon-io/client-go/websocket"
	wsmodels "github.com/polygon-io/client-go/websocket/models"
	"go.uber.org/zap"

	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/types"
	"github.com/meridianlab/intraday/pkg/errors"
)

// PolygonWebSocketService is the part of the Polygon websocket client the
// gateway uses. Tests substitute a scripted implementation.
type PolygonWebSocketService interface {
	Connect() error
	Subscribe(topic polygonws.Topic, tickers ...string) error
	Unsubscribe(topic polygonws.Topic, tickers ...string) error
	Output() <-chan any
	Error() <-chan error
	Close()
}

var _ Gateway = (*PolygonGateway)(nil)

// PolygonGateway streams US equity aggregates from Polygon.io and serves
// historical aggregates over its REST API.
type PolygonGateway struct {
	rest   *polygon.Client
	ws     PolygonWebSocketService
	logger *logger.Logger

	// granularitySeconds selects the aggregate topic: second aggregates below
	// one minute, minute aggregates otherwise.
	granularitySeconds int

	mu         sync.Mutex
	connected  bool
	onBar      BarFunc
	subscribed map[string]bool
	done       chan struct{}
}

// NewPolygon builds a gateway over the real Polygon REST and websocket
// clients.
func NewPolygon(apiKey string, granularitySeconds int, log *logger.Logger) (*PolygonGateway, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "polygon gateway requires an API key")
	}

	ws, err := polygonws.New(polygonws.Config{ //nolint:exhaustruct
		APIKey: apiKey,
		Feed:   polygonws.RealTime,
		Market: polygonws.Stocks,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeGatewayDisconnected, "failed to build polygon websocket client", err)
	}

	return NewPolygonWithWebSocket(apiKey, granularitySeconds, ws, log), nil
}

// NewPolygonWithWebSocket builds a gateway with an injected websocket service.
func NewPolygonWithWebSocket(apiKey string, granularitySeconds int, ws PolygonWebSocketService, log *logger.Logger) *PolygonGateway {
	return &PolygonGateway{ //nolint:exhaustruct
		rest:               polygon.New(apiKey),
		ws:                 ws,
		logger:             log,
		granularitySeconds: granularitySeconds,
		subscribed:         make(map[string]bool),
	}
}

// Name implements Gateway.
func (g *PolygonGateway) Name() string { return "polygon" }

// Connect implements Gateway. It opens the websocket session and starts the
// read loop that fans aggregates out to the subscription callback.
func (g *PolygonGateway) Connect(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.connected {
		return nil
	}

	if err := g.ws.Connect(); err != nil {
		return errors.Wrap(errors.ErrCodeGatewayDisconnected, "polygon websocket connect failed", err)
	}

	g.connected = true
	g.done = make(chan struct{})

	go g.readLoop(g.done)

	return nil
}

func (g *PolygonGateway) readLoop(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case err, ok := <-g.ws.Error():
			if !ok {
				return
			}
			g.logger.Warn("polygon stream error", zap.Error(err))
		case event, ok := <-g.ws.Output():
			if !ok {
				return
			}
			if agg, ok := event.(wsmodels.EquityAgg); ok {
				g.dispatch(agg)
			}
		}
	}
}

func (g *PolygonGateway) dispatch(agg wsmodels.EquityAgg) {
	g.mu.Lock()
	onBar := g.onBar
	subscribed := g.subscribed[agg.Symbol]
	g.mu.Unlock()

	if onBar == nil || !subscribed {
		return
	}

	onBar(types.Bar{
		Symbol: agg.Symbol,
		Time:   time.UnixMilli(agg.StartTimestamp),
		Open:   agg.Open,
		High:   agg.High,
		Low:    agg.Low,
		Close:  agg.Close,
		Volume: agg.Volume,
	})
}

func (g *PolygonGateway) topic() polygonws.Topic {
	if g.granularitySeconds < 60 {
		return polygonws.StocksSecAggs
	}

	return polygonws.StocksMinAggs
}

// HistoricalBars implements Gateway using the REST aggregates endpoint.
func (g *PolygonGateway) HistoricalBars(
	ctx context.Context,
	symbol string,
	start, end time.Time,
	granularitySeconds int,
) ([]types.Bar, error) {
	multiplier, timespan, err := polygonTimespan(granularitySeconds)
	if err != nil {
		return nil, err
	}

	//nolint:exhaustruct // third-party struct with many optional fields
	params := restmodels.ListAggsParams{
		Ticker:     symbol,
		Multiplier: multiplier,
		Timespan:   timespan,
		From:       restmodels.Millis(start),
		To:         restmodels.Millis(end),
	}.WithLimit(50000)

	iter := g.rest.ListAggs(ctx, params)

	var bars []types.Bar
	for iter.Next() {
		agg := iter.Item()
		bars = append(bars, types.Bar{
			Symbol: symbol,
			Time:   time.Time(agg.Timestamp),
			Open:   agg.Open,
			High:   agg.High,
			Low:    agg.Low,
			Close:  agg.Close,
			Volume: agg.Volume,
		})
	}

	if iter.Err() != nil {
		return nil, errors.Wrapf(errors.ErrCodeGatewayFetchFailed, iter.Err(),
			"failed to fetch polygon aggregates for %s", symbol)
	}

	return bars, nil
}

// SubscribeBars implements Gateway.
func (g *PolygonGateway) SubscribeBars(_ context.Context, symbols []string, onBar BarFunc) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.connected {
		return errors.New(errors.ErrCodeGatewayDisconnected, "polygon gateway not connected")
	}

	if err := g.ws.Subscribe(g.topic(), symbols...); err != nil {
		return errors.Wrap(errors.ErrCodeGatewaySubscribeFailed, "polygon subscribe failed", err)
	}

	g.onBar = onBar
	for _, symbol := range symbols {
		g.subscribed[symbol] = true
	}

	return nil
}

// UnsubscribeBars implements Gateway.
func (g *PolygonGateway) UnsubscribeBars(symbols []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ws.Unsubscribe(g.topic(), symbols...); err != nil {
		return errors.Wrap(errors.ErrCodeGatewaySubscribeFailed, "polygon unsubscribe failed", err)
	}

	for _, symbol := range symbols {
		delete(g.subscribed, symbol)
	}

	return nil
}

// Disconnect implements Gateway.
func (g *PolygonGateway) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.connected {
		return nil
	}

	close(g.done)
	g.ws.Close()
	g.connected = false
	g.onBar = nil
	g.subscribed = make(map[string]bool)

	return nil
}

// polygonTimespan maps a bar length in seconds onto the REST multiplier and
// timespan pair.
func polygonTimespan(granularitySeconds int) (int, restmodels.Timespan, error) {
	switch {
	case granularitySeconds <= 0:
		return 0, "", errors.Newf(errors.ErrCodeInvalidGranularity, "invalid granularity %ds", granularitySeconds)
	case granularitySeconds%3600 == 0:
		return granularitySeconds / 3600, restmodels.Hour, nil
	case granularitySeconds%60 == 0:
		return granularitySeconds / 60, restmodels.Minute, nil
	default:
		return granularitySeconds, restmodels.Second, nil
	}
}
