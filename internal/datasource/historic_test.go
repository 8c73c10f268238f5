package datasource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/meridianlab/intraday/internal/calendar"
	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/store"
	"github.com/meridianlab/intraday/internal/types"
	"github.com/meridianlab/intraday/pkg/errors"
)

type HistoricTestSuite struct {
	suite.Suite

	store *store.Store
	cal   *calendar.Calendar
}

func TestHistoricSuite(t *testing.T) {
	suite.Run(t, new(HistoricTestSuite))
}

func (suite *HistoricTestSuite) SetupTest() {
	st, err := store.Open("", logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.Require().NoError(st.EnsureSchema())
	suite.store = st

	cal, err := calendar.New("09:30:00", "16:00:00")
	suite.Require().NoError(err)
	suite.cal = cal
}

func (suite *HistoricTestSuite) TearDownTest() {
	suite.NoError(suite.store.Close())
}

// seedDay writes a full session of 5-minute bars for one symbol, optionally
// omitting the last n bars.
func (suite *HistoricTestSuite) seedDay(symbol string, day time.Time, omit int) {
	open := time.Date(day.Year(), day.Month(), day.Day(), 9, 30, 0, 0, time.UTC)
	count := suite.cal.ExpectedBarsPerDay(300) - omit

	bars := make([]types.Bar, 0, count)
	for i := 0; i < count; i++ {
		price := 100 + float64(i)*0.1
		bars = append(bars, types.Bar{
			Symbol: symbol,
			Time:   open.Add(time.Duration(i*300) * time.Second),
			Open:   price,
			High:   price + 1,
			Low:    price - 1,
			Close:  price + 0.5,
			Volume: 1000,
		})
	}
	suite.Require().NoError(suite.store.InsertBars(symbol, bars))
}

func (suite *HistoricTestSuite) newSource(target int) *HistoricDataSource {
	ds, err := NewHistoric(suite.store, suite.cal, logger.NewNopLogger(), 300, target)
	suite.Require().NoError(err)

	return ds
}

func (suite *HistoricTestSuite) TestPreloadDropsIncompleteSymbol() {
	// Monday 2023-06-05 through Tuesday; the end day itself is excluded.
	day := time.Date(2023, 6, 5, 0, 0, 0, 0, time.UTC)
	end := day.AddDate(0, 0, 1)

	suite.Require().NoError(suite.store.AddSymbol("FULL", 1e9, false))
	suite.Require().NoError(suite.store.AddSymbol("GAPPY", 1e9, false))
	suite.seedDay("FULL", day, 0)
	suite.seedDay("GAPPY", day, 1) // 77 of 78 bars

	ds := suite.newSource(900)
	suite.Require().NoError(ds.Preload(day, end.Add(23*time.Hour), []string{"FULL", "GAPPY"}))

	suite.Equal([]string{"FULL"}, ds.AllSymbols())
	suite.Equal([]string{"FULL"}, ds.ActiveSymbols())

	// 78 five-minute bars aggregate into 26 fifteen-minute bars.
	suite.Len(ds.AllBars("FULL"), 26)
}

func (suite *HistoricTestSuite) TestPreloadAllIncomplete() {
	day := time.Date(2023, 6, 5, 0, 0, 0, 0, time.UTC)

	suite.Require().NoError(suite.store.AddSymbol("GAPPY", 1e9, false))
	suite.seedDay("GAPPY", day, 3)

	ds := suite.newSource(900)
	err := ds.Preload(day, day.AddDate(0, 0, 1).Add(23*time.Hour), []string{"GAPPY"})
	suite.Error(err)
	suite.Equal(errors.ErrCodeIncompleteData, errors.GetCode(err))
}

func (suite *HistoricTestSuite) TestAdvanceReplaysInOrder() {
	day := time.Date(2023, 6, 5, 0, 0, 0, 0, time.UTC)

	suite.Require().NoError(suite.store.AddSymbol("FULL", 1e9, false))
	suite.seedDay("FULL", day, 0)

	ds := suite.newSource(900)
	suite.Require().NoError(ds.Preload(day, day.AddDate(0, 0, 1).Add(23*time.Hour), []string{"FULL"}))

	ctx := context.Background()

	suite.True(ds.Advance(ctx))
	suite.True(ds.Advance(ctx))

	latest := ds.LatestBars("FULL", 0)
	suite.Require().Len(latest, 2)
	suite.True(latest[1].Time.After(latest[0].Time))
	suite.Equal(latest, ds.LatestAggregated("FULL", 0))

	one := ds.LatestBars("FULL", 1)
	suite.Require().Len(one, 1)
	suite.Equal(latest[1], one[0])

	// 26 aggregated bars total; two consumed, 24 more advances succeed,
	// then the feed reports exhaustion.
	for i := 0; i < 24; i++ {
		suite.True(ds.Advance(ctx))
	}
	suite.False(ds.Advance(ctx))
	suite.Len(ds.LatestBars("FULL", 0), 26)
}

func (suite *HistoricTestSuite) TestDSTShift() {
	day := time.Date(2023, 6, 5, 0, 0, 0, 0, time.UTC)

	suite.Require().NoError(suite.store.AddSymbol("FULL", 1e9, false))
	suite.seedDay("FULL", day, 0)

	ds := suite.newSource(300)
	ds.SetDSTWindow(
		time.Date(2023, 3, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 11, 5, 0, 0, 0, 0, time.UTC),
	)

	// Bars seeded at 09:30 land an hour later once shifted, so the session
	// window moves with them.
	cal, err := calendar.New("10:30:00", "17:00:00")
	suite.Require().NoError(err)
	ds.cal = cal

	suite.Require().NoError(ds.Preload(day, day.AddDate(0, 0, 1).Add(23*time.Hour), []string{"FULL"}))

	first := ds.AllBars("FULL")[0]
	suite.Equal(time.Date(2023, 6, 5, 10, 30, 0, 0, time.UTC), first.Time)
}

func (suite *HistoricTestSuite) TestSetActiveSymbols() {
	day := time.Date(2023, 6, 5, 0, 0, 0, 0, time.UTC)

	suite.Require().NoError(suite.store.AddSymbol("A", 1e9, false))
	suite.Require().NoError(suite.store.AddSymbol("B", 1e9, false))
	suite.seedDay("A", day, 0)
	suite.seedDay("B", day, 0)

	ds := suite.newSource(900)
	suite.Require().NoError(ds.Preload(day, day.AddDate(0, 0, 1).Add(23*time.Hour), []string{"A", "B"}))

	ds.SetActiveSymbols([]string{"B"})
	suite.Equal([]string{"B"}, ds.ActiveSymbols())
	suite.Equal([]string{"A", "B"}, ds.AllSymbols())

	floats := ds.Floats()
	suite.InDelta(1e9, floats["A"], 1)
}
