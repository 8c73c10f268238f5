package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/meridianlab/intraday/internal/commission"
	"github.com/meridianlab/intraday/internal/filter"
	"github.com/meridianlab/intraday/pkg/errors"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) writeConfig(content string) string {
	path := filepath.Join(suite.T().TempDir(), "config.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte(content), 0644))

	return path
}

func (suite *ConfigTestSuite) TestLoadMergesOverDefaults() {
	path := suite.writeConfig(`
database:
  path: /tmp/bars.duckdb
market:
  granularity: 30 M
backtest:
  end_date: "2023-06-30"
  period_days: 60
`)

	config, err := Load(path)
	suite.Require().NoError(err)

	suite.Equal("/tmp/bars.duckdb", config.Database.Path)
	suite.Equal("stock_data_5m", config.Database.BarTable)
	suite.Equal("09:30:00", config.Market.Open)
	suite.Equal(100_000.0, config.Portfolio.InitialCapital)

	target, err := config.TargetGranularity()
	suite.Require().NoError(err)
	suite.Equal(1800, target)

	start, end, err := config.BacktestRange()
	suite.Require().NoError(err)
	suite.Equal(time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC), end)
	suite.Equal(time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC), start)
}

func (suite *ConfigTestSuite) TestLoadMissingFile() {
	_, err := Load(filepath.Join(suite.T().TempDir(), "missing.yaml"))
	suite.Error(err)
	suite.Equal(errors.ErrCodeInvalidConfiguration, errors.GetCode(err))
}

func (suite *ConfigTestSuite) TestValidateRejections() {
	tests := []struct {
		name   string
		mutate func(config *Config)
	}{
		{
			name:   "missing database path",
			mutate: func(config *Config) { config.Database.Path = "" },
		},
		{
			name:   "unknown gateway",
			mutate: func(config *Config) { config.Live.Gateway = "alpaca" },
		},
		{
			name:   "unknown filter criteria",
			mutate: func(config *Config) { config.Filter.Criteria = "Mediocre" },
		},
		{
			name:   "long EMA not above short",
			mutate: func(config *Config) { config.Strategy.LongPeriod = config.Strategy.ShortPeriod },
		},
		{
			name:   "zero capital",
			mutate: func(config *Config) { config.Portfolio.InitialCapital = 0 },
		},
		{
			name:   "inverted session",
			mutate: func(config *Config) { config.Market.Close = "09:00:00" },
		},
		{
			name: "target not a multiple of live source",
			mutate: func(config *Config) {
				config.Market.Granularity = "7 S"
				config.Live.SourceGranularity = "5 S"
			},
		},
		{
			name:   "dst window half set",
			mutate: func(config *Config) { config.Backtest.DSTStart = "2023-03-12" },
		},
	}

	for _, test := range tests {
		suite.Run(test.name, func() {
			config := Default()
			config.Database.Path = "/tmp/bars.duckdb"
			test.mutate(&config)

			suite.Error(config.Validate())
		})
	}
}

func (suite *ConfigTestSuite) TestDSTWindow() {
	config := Default()
	config.Backtest.DSTStart = "2023-03-12"
	config.Backtest.DSTEnd = "2023-04-01"

	start, end, enabled, err := config.DSTWindow()
	suite.Require().NoError(err)
	suite.True(enabled)
	suite.Equal(time.Date(2023, 3, 12, 0, 0, 0, 0, time.UTC), start)
	suite.Equal(time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC), end)

	defaultConfig := Default()
	_, _, enabled, err = defaultConfig.DSTWindow()
	suite.Require().NoError(err)
	suite.False(enabled)
}

func (suite *ConfigTestSuite) TestDerivedComponents() {
	config := Default()

	suite.Equal(filter.CriteriaStrong, config.FilterConfig().Criteria)
	suite.IsType(&commission.InteractiveBrokers{}, config.CommissionModel())

	config.Portfolio.Broker = string(commission.BrokerZero)
	suite.IsType(&commission.Zero{}, config.CommissionModel())

	cutoff, err := config.CutoffClock()
	suite.Require().NoError(err)
	suite.Equal(15, cutoff.Hour)
	suite.Equal(45, cutoff.Minute)
}

func (suite *ConfigTestSuite) TestGenerateSchemaJSON() {
	schema, err := GenerateSchemaJSON()
	suite.Require().NoError(err)
	suite.Contains(schema, "intraday-config")
	suite.Contains(schema, "initial_capital")
	suite.Contains(schema, "sma_short_period")
}
