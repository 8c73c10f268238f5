package datasource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/meridianlab/intraday/internal/calendar"
	"github.com/meridianlab/intraday/internal/gateway"
	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/types"
)

type LiveTestSuite struct {
	suite.Suite

	gw *gateway.SimulatedGateway
	ds *LiveDataSource
}

func TestLiveSuite(t *testing.T) {
	suite.Run(t, new(LiveTestSuite))
}

func (suite *LiveTestSuite) SetupTest() {
	cal, err := calendar.New("09:30:00", "16:00:00")
	suite.Require().NoError(err)

	suite.gw = gateway.NewSimulatedGateway()

	ds, err := NewLive(suite.gw, nil, cal, logger.NewNopLogger(), []string{"AAPL"}, 5, 10)
	suite.Require().NoError(err)
	ds.SetAdvanceTimeout(50 * time.Millisecond)
	suite.ds = ds

	suite.Require().NoError(ds.Start(context.Background()))
}

func rawBar(symbol string, t time.Time, price, volume float64) types.Bar {
	return types.Bar{
		Symbol: symbol,
		Time:   t,
		Open:   price,
		High:   price + 1,
		Low:    price - 1,
		Close:  price + 0.5,
		Volume: volume,
	}
}

func (suite *LiveTestSuite) TestAdvanceConsumesStreamedBars() {
	base := time.Unix(1000, 0).UTC()
	suite.gw.Push(rawBar("AAPL", base, 100, 10))

	suite.True(suite.ds.Advance(context.Background()))

	latest := suite.ds.LatestBars("AAPL", 0)
	suite.Require().Len(latest, 1)
	suite.Equal(base, latest[0].Time)
}

func (suite *LiveTestSuite) TestAdvanceTimesOutOnQuietFeed() {
	suite.False(suite.ds.Advance(context.Background()))
	suite.Empty(suite.ds.LatestBars("AAPL", 0))
}

func (suite *LiveTestSuite) TestAdvanceStopsOnCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	suite.False(suite.ds.Advance(ctx))
}

func (suite *LiveTestSuite) TestAggregatedBarsEmerge() {
	base := time.Unix(2000, 0).UTC()

	// Two 5s ticks fill the first 10s window; the third tick opens the next
	// window and completes the first.
	suite.gw.Push(rawBar("AAPL", base, 100, 10))
	suite.gw.Push(rawBar("AAPL", base.Add(5*time.Second), 101, 20))
	suite.gw.Push(rawBar("AAPL", base.Add(10*time.Second), 102, 5))

	aggregated := suite.ds.LatestAggregated("AAPL", 0)
	suite.Require().Len(aggregated, 1)
	suite.Equal(base, aggregated[0].Time)
	suite.InDelta(100.0, aggregated[0].Open, 1e-9)
	suite.InDelta(101.5, aggregated[0].Close, 1e-9)
	suite.InDelta(30.0, aggregated[0].Volume, 1e-9)
}

func (suite *LiveTestSuite) TestCloseTearsDownSubscription() {
	suite.Require().NoError(suite.ds.Close())

	// Bars pushed after teardown never reach the feed.
	suite.gw.Push(rawBar("AAPL", time.Unix(3000, 0).UTC(), 100, 10))
	suite.False(suite.ds.Advance(context.Background()))
}
