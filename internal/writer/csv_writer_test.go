package writer

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"

	"github.com/meridianlab/intraday/internal/portfolio"
	"github.com/meridianlab/intraday/internal/types"
)

type CSVWriterTestSuite struct {
	suite.Suite

	writer *CSVWriter
}

func TestCSVWriterSuite(t *testing.T) {
	suite.Run(t, new(CSVWriterTestSuite))
}

func (suite *CSVWriterTestSuite) SetupTest() {
	writer, err := NewCSVWriter(suite.T().TempDir())
	suite.Require().NoError(err)
	suite.writer = writer
}

func (suite *CSVWriterTestSuite) TearDownTest() {
	suite.NoError(suite.writer.Close())
}

func (suite *CSVWriterTestSuite) readCSV(name string) [][]string {
	file, err := os.Open(filepath.Join(suite.writer.RunDir(), name))
	suite.Require().NoError(err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	suite.Require().NoError(err)

	return records
}

func (suite *CSVWriterTestSuite) TestWriteTrades() {
	start := time.Date(2023, 6, 5, 10, 0, 0, 0, time.UTC)
	trades := []types.Trade{
		{
			Symbol:    "AAPL",
			Quantity:  10,
			BuyPrice:  50,
			SellPrice: 55,
			StartTime: start,
			EndTime:   start.Add(30 * time.Minute),
		},
	}

	suite.Require().NoError(suite.writer.WriteTrades(trades))

	records := suite.readCSV("trades.csv")
	suite.Require().Len(records, 2)
	suite.Equal("symbol", records[0][0])
	suite.Equal("AAPL", records[1][0])
	suite.Equal("50.00", records[1][2])
	suite.Equal("55.00", records[1][3])
	suite.Equal("30.0", records[1][6])
	suite.Equal("50.00", records[1][7])
	suite.Equal("10.00", records[1][8])
}

func (suite *CSVWriterTestSuite) TestWriteEquityCurve() {
	at := time.Date(2023, 6, 5, 10, 0, 0, 0, time.UTC)
	curve := []portfolio.EquityPoint{
		{Time: at, Total: 100000, Return: 0, Equity: 1},
		{Time: at.Add(15 * time.Minute), Total: 101000, Return: 0.01, Equity: 1.01},
	}

	suite.Require().NoError(suite.writer.WriteEquityCurve(curve))

	records := suite.readCSV("equity_curve.csv")
	suite.Require().Len(records, 3)
	suite.Equal("timestamp", records[0][0])
	suite.Equal(at.Format(time.RFC3339), records[1][0])
	suite.Equal("1.010000", records[2][3])
}

func (suite *CSVWriterTestSuite) TestWriteBaseline() {
	at := time.Date(2023, 6, 5, 10, 0, 0, 0, time.UTC)
	curve := []portfolio.EquityPoint{
		{Time: at, Total: 100, Return: 0, Equity: 1},
		{Time: at.Add(15 * time.Minute), Total: 110, Return: 0.1, Equity: 1.1},
	}

	suite.Require().NoError(suite.writer.WriteBaseline("AAPL", curve))

	records := suite.readCSV("baseline_AAPL.csv")
	suite.Require().Len(records, 3)
	suite.Equal([]string{"timestamp", "close", "return", "equity"}, records[0])
	suite.Equal("100.000000", records[1][1])
	suite.Equal("1.100000", records[2][3])
}

func (suite *CSVWriterTestSuite) TestWriteSummaryYAML() {
	stats := portfolio.SummaryStats{
		TotalReturnPct:   4.2,
		SharpeRatio:      1.5,
		MaxDrawdownPct:   2.1,
		DrawdownDuration: 7,
	}

	suite.Require().NoError(suite.writer.WriteSummary(stats))

	data, err := os.ReadFile(filepath.Join(suite.writer.RunDir(), "summary.yaml"))
	suite.Require().NoError(err)

	var decoded portfolio.SummaryStats
	suite.Require().NoError(yaml.Unmarshal(data, &decoded))
	suite.Equal(stats, decoded)
}

func (suite *CSVWriterTestSuite) TestWriteTradeMetricsYAML() {
	metrics := types.TradeMetrics{ //nolint:exhaustruct
		TotalTrades:   3,
		WinningTrades: 2,
		LosingTrades:  1,
		WinLossRatio:  2,
	}

	suite.Require().NoError(suite.writer.WriteTradeMetrics(metrics))

	data, err := os.ReadFile(filepath.Join(suite.writer.RunDir(), "trade_metrics.yaml"))
	suite.Require().NoError(err)

	var decoded types.TradeMetrics
	suite.Require().NoError(yaml.Unmarshal(data, &decoded))
	suite.Equal(metrics, decoded)
}
