package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/types"
	"github.com/meridianlab/intraday/pkg/errors"
)

type StoreTestSuite struct {
	suite.Suite

	store *Store
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (suite *StoreTestSuite) SetupTest() {
	store, err := Open("", logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.Require().NoError(store.EnsureSchema())
	suite.store = store
}

func (suite *StoreTestSuite) TearDownTest() {
	suite.NoError(suite.store.Close())
}

func (suite *StoreTestSuite) seedBars(symbol string, start time.Time, count int) {
	bars := make([]types.Bar, 0, count)
	for i := 0; i < count; i++ {
		bars = append(bars, types.Bar{
			Symbol: symbol,
			Time:   start.Add(time.Duration(i*300) * time.Second),
			Open:   10 + float64(i),
			High:   11 + float64(i),
			Low:    9 + float64(i),
			Close:  10.5 + float64(i),
			Volume: 100,
		})
	}
	suite.Require().NoError(suite.store.InsertBars(symbol, bars))
}

func (suite *StoreTestSuite) TestUniverseExcludesBlacklisted() {
	suite.Require().NoError(suite.store.AddSymbol("AAPL", 1e9, false))
	suite.Require().NoError(suite.store.AddSymbol("MSFT", 2e9, false))
	suite.Require().NoError(suite.store.AddSymbol("SPAM", 1e5, true))

	symbols, err := suite.store.Universe(-1)
	suite.Require().NoError(err)
	suite.ElementsMatch([]string{"AAPL", "MSFT"}, symbols)

	sample, err := suite.store.Universe(1)
	suite.Require().NoError(err)
	suite.Len(sample, 1)
	suite.NotEqual("SPAM", sample[0])
}

func (suite *StoreTestSuite) TestUniverseEmpty() {
	_, err := suite.store.Universe(-1)
	suite.Error(err)
	suite.Equal(errors.ErrCodeEmptySymbolSet, errors.GetCode(err))
}

func (suite *StoreTestSuite) TestBarsBetween() {
	suite.Require().NoError(suite.store.AddSymbol("AAPL", 1e9, false))
	suite.Require().NoError(suite.store.AddSymbol("MSFT", 2e9, false))

	start := time.Date(2023, 6, 5, 9, 30, 0, 0, time.UTC)
	suite.seedBars("AAPL", start, 4)
	suite.seedBars("MSFT", start, 4)

	bars, err := suite.store.BarsBetween(start, start.Add(10*time.Minute), []string{"AAPL", "MSFT"})
	suite.Require().NoError(err)
	suite.Require().Len(bars, 6)

	// Ordered by symbol then time.
	suite.Equal("AAPL", bars[0].Symbol)
	suite.Equal("MSFT", bars[3].Symbol)
	suite.True(bars[1].Time.After(bars[0].Time))
	suite.InDelta(10.0, bars[0].Open, 1e-9)

	_, err = suite.store.BarsBetween(start, start.Add(time.Hour), nil)
	suite.Error(err)
	suite.Equal(errors.ErrCodeEmptySymbolSet, errors.GetCode(err))
}

func (suite *StoreTestSuite) TestInsertBarsUnknownSymbol() {
	err := suite.store.InsertBars("NOPE", []types.Bar{{
		Symbol: "NOPE",
		Time:   time.Now(),
		Open:   1, High: 1, Low: 1, Close: 1, Volume: 1,
	}})
	suite.Error(err)
	suite.Equal(errors.ErrCodeDataNotFound, errors.GetCode(err))
}

func (suite *StoreTestSuite) TestSymbolFloats() {
	suite.Require().NoError(suite.store.AddSymbol("AAPL", 5e8, false))
	suite.Require().NoError(suite.store.AddSymbol("MSFT", 7e9, false))

	floats, err := suite.store.SymbolFloats([]string{"AAPL", "MSFT", "MISSING"})
	suite.Require().NoError(err)
	suite.Len(floats, 2)
	suite.InDelta(5e8, floats["AAPL"], 1)
	suite.InDelta(7e9, floats["MSFT"], 1)

	empty, err := suite.store.SymbolFloats(nil)
	suite.Require().NoError(err)
	suite.Empty(empty)
}
