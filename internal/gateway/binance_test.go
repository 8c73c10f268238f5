package gateway

import (
	"context"
	"testing"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/suite"

	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/types"
	"github.com/meridianlab/intraday/pkg/errors"
)

// mockBinanceStream scripts kline events per subscribed symbol.
type mockBinanceStream struct {
	events     map[string][]*binance.WsKlineEvent
	startError error
	started    []string
}

func (m *mockBinanceStream) WsKlineServe(
	symbol, _ string,
	handler binance.WsKlineHandler,
	_ binance.ErrHandler,
) (chan struct{}, chan struct{}, error) {
	if m.startError != nil {
		return nil, nil, m.startError
	}

	m.started = append(m.started, symbol)

	doneC := make(chan struct{})
	stopC := make(chan struct{})

	go func() {
		defer close(doneC)

		for _, event := range m.events[symbol] {
			select {
			case <-stopC:
				return
			default:
				handler(event)
			}
		}

		<-stopC
	}()

	return doneC, stopC, nil
}

type mockBinanceKlines struct {
	klines []*binance.Kline
	err    error
}

func (m *mockBinanceKlines) Klines(_ context.Context, _, _ string, _, _ int64) ([]*binance.Kline, error) {
	return m.klines, m.err
}

func klineEvent(symbol string, startMillis int64, closePrice string, final bool) *binance.WsKlineEvent {
	return &binance.WsKlineEvent{ //nolint:exhaustruct
		Symbol: symbol,
		Kline: binance.WsKline{ //nolint:exhaustruct
			StartTime: startMillis,
			Open:      "42000.50",
			High:      "42500.00",
			Low:       "41800.00",
			Close:     closePrice,
			Volume:    "1000.5",
			IsFinal:   final,
		},
	}
}

type BinanceGatewayTestSuite struct {
	suite.Suite

	stream *mockBinanceStream
	klines *mockBinanceKlines
}

func TestBinanceGatewaySuite(t *testing.T) {
	suite.Run(t, new(BinanceGatewayTestSuite))
}

func (suite *BinanceGatewayTestSuite) SetupTest() {
	suite.stream = &mockBinanceStream{events: map[string][]*binance.WsKlineEvent{}} //nolint:exhaustruct
	suite.klines = &mockBinanceKlines{}                                            //nolint:exhaustruct
}

func (suite *BinanceGatewayTestSuite) newGateway(granularitySeconds int) *BinanceGateway {
	return NewBinanceWithServices(granularitySeconds, suite.stream, suite.klines, logger.NewNopLogger())
}

func (suite *BinanceGatewayTestSuite) TestStreamYieldsOnlyFinalKlines() {
	suite.stream.events["BTCUSDT"] = []*binance.WsKlineEvent{
		klineEvent("BTCUSDT", 1704067200000, "42100.00", false),
		klineEvent("BTCUSDT", 1704067200000, "42300.00", true),
	}

	gw := suite.newGateway(60)
	suite.Require().NoError(gw.Connect(context.Background()))

	received := make(chan types.Bar, 10)
	err := gw.SubscribeBars(context.Background(), []string{"BTCUSDT"}, func(bar types.Bar) {
		received <- bar
	})
	suite.Require().NoError(err)

	select {
	case bar := <-received:
		suite.Equal("BTCUSDT", bar.Symbol)
		suite.Equal(time.UnixMilli(1704067200000), bar.Time)
		suite.InDelta(42300.00, bar.Close, 1e-9)
		suite.InDelta(1000.5, bar.Volume, 1e-9)
	case <-time.After(time.Second):
		suite.FailNow("no bar received")
	}

	select {
	case <-received:
		suite.FailNow("non-final kline should be dropped")
	case <-time.After(50 * time.Millisecond):
	}
}

func (suite *BinanceGatewayTestSuite) TestSubscribeOpensOneStreamPerSymbol() {
	gw := suite.newGateway(60)
	suite.Require().NoError(gw.Connect(context.Background()))

	err := gw.SubscribeBars(context.Background(), []string{"BTCUSDT", "ETHUSDT"}, func(types.Bar) {})
	suite.Require().NoError(err)
	suite.Equal([]string{"BTCUSDT", "ETHUSDT"}, suite.stream.started)

	// Resubscribing an open symbol does not open a second stream.
	err = gw.SubscribeBars(context.Background(), []string{"BTCUSDT"}, func(types.Bar) {})
	suite.Require().NoError(err)
	suite.Len(suite.stream.started, 2)
}

func (suite *BinanceGatewayTestSuite) TestSubscribeRequiresConnect() {
	gw := suite.newGateway(60)

	err := gw.SubscribeBars(context.Background(), []string{"BTCUSDT"}, func(types.Bar) {})
	suite.Error(err)
	suite.Equal(errors.ErrCodeGatewayDisconnected, errors.GetCode(err))
}

func (suite *BinanceGatewayTestSuite) TestHistoricalBars() {
	suite.klines.klines = []*binance.Kline{
		{ //nolint:exhaustruct
			OpenTime: 1704067200000,
			Open:     "42000.50",
			High:     "42500.00",
			Low:      "41800.00",
			Close:    "42300.00",
			Volume:   "1000.5",
		},
	}

	gw := suite.newGateway(60)
	bars, err := gw.HistoricalBars(context.Background(), "BTCUSDT",
		time.UnixMilli(1704067200000), time.UnixMilli(1704070800000), 60)
	suite.Require().NoError(err)
	suite.Require().Len(bars, 1)
	suite.InDelta(42000.50, bars[0].Open, 1e-9)
	suite.Equal(time.UnixMilli(1704067200000), bars[0].Time)
}

func (suite *BinanceGatewayTestSuite) TestHistoricalBarsParseFailure() {
	suite.klines.klines = []*binance.Kline{
		{ //nolint:exhaustruct
			OpenTime: 1704067200000,
			Open:     "not-a-number",
			High:     "42500.00",
			Low:      "41800.00",
			Close:    "42300.00",
			Volume:   "1000.5",
		},
	}

	gw := suite.newGateway(60)
	_, err := gw.HistoricalBars(context.Background(), "BTCUSDT",
		time.UnixMilli(1704067200000), time.UnixMilli(1704070800000), 60)
	suite.Error(err)
	suite.Equal(errors.ErrCodeGatewayParseFailed, errors.GetCode(err))
}

func (suite *BinanceGatewayTestSuite) TestIntervalMapping() {
	tests := []struct {
		granularity int
		interval    string
		wantErr     bool
	}{
		{granularity: 1, interval: "1s"},
		{granularity: 60, interval: "1m"},
		{granularity: 900, interval: "15m"},
		{granularity: 3600, interval: "1h"},
		{granularity: 86400, interval: "1d"},
		{granularity: 0, wantErr: true},
	}

	for _, test := range tests {
		interval, err := binanceInterval(test.granularity)
		if test.wantErr {
			suite.Error(err)

			continue
		}
		suite.Require().NoError(err)
		suite.Equal(test.interval, interval)
	}
}

func (suite *BinanceGatewayTestSuite) TestUnsubscribeStopsStream() {
	gw := suite.newGateway(60)
	suite.Require().NoError(gw.Connect(context.Background()))
	suite.Require().NoError(gw.SubscribeBars(context.Background(), []string{"BTCUSDT"}, func(types.Bar) {}))

	suite.Require().NoError(gw.UnsubscribeBars([]string{"BTCUSDT"}))
	suite.Require().NoError(gw.Disconnect())
}
