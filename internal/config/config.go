// Package config loads and validates the YAML run configuration shared by the
// backtest and live commands.
package config

import (
	"encoding/json"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/meridianlab/intraday/internal/calendar"
	"github.com/meridianlab/intraday/internal/commission"
	"github.com/meridianlab/intraday/internal/filter"
	"github.com/meridianlab/intraday/pkg/errors"
)

const dateLayout = "2006-01-02"

// DatabaseConfig locates the bar store.
type DatabaseConfig struct {
	Path     string `yaml:"path" json:"path" jsonschema:"title=Database Path,description=Path to the DuckDB database file,required" validate:"required"`
	BarTable string `yaml:"bar_table" json:"bar_table" jsonschema:"title=Bar Table,description=Table holding the stored source-granularity bars"`
}

// MarketConfig describes the traded session and the working bar size.
type MarketConfig struct {
	Open        string `yaml:"open" json:"open" jsonschema:"title=Market Open,description=Session open as HH:MM:SS" validate:"required"`
	Close       string `yaml:"close" json:"close" jsonschema:"title=Market Close,description=Session close as HH:MM:SS" validate:"required"`
	Granularity string `yaml:"granularity" json:"granularity" jsonschema:"title=Granularity,description=Target bar size such as 15 M or 1 H" validate:"required"`
	Cutoff      string `yaml:"cutoff" json:"cutoff" jsonschema:"title=Cutoff,description=Time of day after which positions are flattened" validate:"required"`
}

// BacktestConfig bounds the replayed period.
type BacktestConfig struct {
	EndDate      string `yaml:"end_date" json:"end_date" jsonschema:"title=End Date,description=Last day of the backtest period as YYYY-MM-DD"`
	PeriodDays   int    `yaml:"period_days" json:"period_days" jsonschema:"title=Period Days,description=Number of calendar days to replay before the end date,minimum=1" validate:"min=1"`
	DSTStart     string `yaml:"dst_start" json:"dst_start" jsonschema:"title=DST Start,description=First day of the DST adjustment window as YYYY-MM-DD"`
	DSTEnd       string `yaml:"dst_end" json:"dst_end" jsonschema:"title=DST End,description=Last day of the DST adjustment window as YYYY-MM-DD"`
	UniverseSize int    `yaml:"universe_size" json:"universe_size" jsonschema:"title=Universe Size,description=Number of symbols sampled from the store; -1 takes all"`
	ShowProgress bool   `yaml:"show_progress" json:"show_progress" jsonschema:"title=Show Progress,description=Render a progress bar while replaying"`
}

// LiveConfig selects and tunes the market data gateway.
type LiveConfig struct {
	Gateway               string   `yaml:"gateway" json:"gateway" jsonschema:"title=Gateway,description=Market data gateway,enum=simulated,enum=polygon,enum=binance" validate:"oneof=simulated polygon binance"`
	Symbols               []string `yaml:"symbols" json:"symbols" jsonschema:"title=Symbols,description=Symbols to subscribe to in live mode"`
	PolygonAPIKey         string   `yaml:"polygon_api_key" json:"polygon_api_key" jsonschema:"title=Polygon API Key,description=API key for the Polygon gateway"`
	SourceGranularity     string   `yaml:"source_granularity" json:"source_granularity" jsonschema:"title=Source Granularity,description=Granularity of the raw gateway feed such as 5 S"`
	AdvanceTimeoutSeconds int      `yaml:"advance_timeout_seconds" json:"advance_timeout_seconds" jsonschema:"title=Advance Timeout,description=Seconds to wait for the next raw bar before ending the session,minimum=1" validate:"min=1"`
}

// FilterConfig carries the session filter thresholds.
type FilterConfig struct {
	FloatLimit         float64 `yaml:"float_limit" json:"float_limit" jsonschema:"title=Float Limit,description=Maximum free float for a symbol to stay in the universe" validate:"gt=0"`
	SMAShortPeriod     int     `yaml:"sma_short_period" json:"sma_short_period" jsonschema:"title=SMA Short Period,minimum=1" validate:"min=1"`
	SMALongPeriod      int     `yaml:"sma_long_period" json:"sma_long_period" jsonschema:"title=SMA Long Period,minimum=1" validate:"min=1"`
	SMACloseMultiplier float64 `yaml:"sma_close_multiplier" json:"sma_close_multiplier" jsonschema:"title=SMA Close Multiplier,description=Scale applied to both SMAs before comparing the last close" validate:"gt=0"`
	Criteria           string  `yaml:"criteria" json:"criteria" jsonschema:"title=Criteria,enum=Strong,enum=Weak" validate:"oneof=Strong Weak"`
	VolumeDays         int     `yaml:"volume_days" json:"volume_days" jsonschema:"title=Volume Days,description=Lookback days for the relative volume stage,minimum=1" validate:"min=1"`
	VolumeMultiplier   float64 `yaml:"volume_multiplier" json:"volume_multiplier" jsonschema:"title=Volume Multiplier" validate:"gt=0"`
	EnableGapUp        bool    `yaml:"enable_gap_up" json:"enable_gap_up" jsonschema:"title=Enable Gap Up"`
	GapUpPercentage    float64 `yaml:"gap_up_percentage" json:"gap_up_percentage" jsonschema:"title=Gap Up Percentage"`
}

// PortfolioConfig sets the starting book and commission model.
type PortfolioConfig struct {
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital" jsonschema:"title=Initial Capital,description=Starting capital in USD,minimum=0" validate:"gt=0"`
	Broker         string  `yaml:"broker" json:"broker" jsonschema:"title=Broker,description=Commission model,enum=IB,enum=ZERO" validate:"oneof=IB ZERO"`
}

// StrategyConfig tunes the EMA crossover strategy.
type StrategyConfig struct {
	ShortPeriod       int     `yaml:"short_period" json:"short_period" jsonschema:"title=Short EMA Period,minimum=1" validate:"min=1"`
	LongPeriod        int     `yaml:"long_period" json:"long_period" jsonschema:"title=Long EMA Period,minimum=1" validate:"min=1,gtfield=ShortPeriod"`
	TakeProfitPercent float64 `yaml:"take_profit_percent" json:"take_profit_percent" jsonschema:"title=Take Profit Percent" validate:"gt=0"`
	StopLossPercent   float64 `yaml:"stop_loss_percent" json:"stop_loss_percent" jsonschema:"title=Stop Loss Percent" validate:"gt=0"`
	Quantity          float64 `yaml:"quantity" json:"quantity" jsonschema:"title=Quantity,description=Shares per entry" validate:"gt=0"`
}

// OutputConfig locates the result files.
type OutputConfig struct {
	Directory string `yaml:"directory" json:"directory" jsonschema:"title=Output Directory,description=Base directory for per-run result folders" validate:"required"`
}

// Config is the full run configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database" json:"database" jsonschema:"title=Database"`
	Market    MarketConfig    `yaml:"market" json:"market" jsonschema:"title=Market"`
	Backtest  BacktestConfig  `yaml:"backtest" json:"backtest" jsonschema:"title=Backtest"`
	Live      LiveConfig      `yaml:"live" json:"live" jsonschema:"title=Live"`
	Filter    FilterConfig    `yaml:"filter" json:"filter" jsonschema:"title=Filter"`
	Portfolio PortfolioConfig `yaml:"portfolio" json:"portfolio" jsonschema:"title=Portfolio"`
	Strategy  StrategyConfig  `yaml:"strategy" json:"strategy" jsonschema:"title=Strategy"`
	Output    OutputConfig    `yaml:"output" json:"output" jsonschema:"title=Output"`
}

// Default returns the configuration a minimal YAML file is merged over.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Path:     "",
			BarTable: "stock_data_5m",
		},
		Market: MarketConfig{
			Open:        "09:30:00",
			Close:       "16:00:00",
			Granularity: "15 M",
			Cutoff:      "15:45:00",
		},
		Backtest: BacktestConfig{
			EndDate:      "",
			PeriodDays:   30,
			DSTStart:     "",
			DSTEnd:       "",
			UniverseSize: -1,
			ShowProgress: true,
		},
		Live: LiveConfig{
			Gateway:               "simulated",
			Symbols:               nil,
			PolygonAPIKey:         "",
			SourceGranularity:     "5 S",
			AdvanceTimeoutSeconds: 6,
		},
		Filter: FilterConfig{
			FloatLimit:         50_000_000,
			SMAShortPeriod:     10,
			SMALongPeriod:      20,
			SMACloseMultiplier: 1,
			Criteria:           string(filter.CriteriaStrong),
			VolumeDays:         5,
			VolumeMultiplier:   1,
			EnableGapUp:        false,
			GapUpPercentage:    0,
		},
		Portfolio: PortfolioConfig{
			InitialCapital: 100_000,
			Broker:         string(commission.BrokerInteractiveBrokers),
		},
		Strategy: StrategyConfig{
			ShortPeriod:       9,
			LongPeriod:        21,
			TakeProfitPercent: 2,
			StopLossPercent:   1,
			Quantity:          100,
		},
		Output: OutputConfig{
			Directory: "results",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config %q", path)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to parse config %q", path)
	}

	if err := config.Validate(); err != nil {
		return config, err
	}

	return config, nil
}

// Validate checks field constraints and the cross-field granularity and
// session rules.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid config", err)
	}

	if _, err := c.Calendar(); err != nil {
		return err
	}
	if _, err := c.CutoffClock(); err != nil {
		return err
	}

	target, err := c.TargetGranularity()
	if err != nil {
		return err
	}
	source, err := c.LiveSourceGranularity()
	if err != nil {
		return err
	}
	if target%source != 0 {
		return errors.Newf(errors.ErrCodeInvalidGranularity,
			"target granularity %ds is not a multiple of the live source granularity %ds", target, source)
	}

	if c.Backtest.EndDate != "" {
		if _, _, err := c.BacktestRange(); err != nil {
			return err
		}
	}
	if _, _, _, err := c.DSTWindow(); err != nil {
		return err
	}

	return nil
}

// Calendar builds the session calendar from the market section.
func (c *Config) Calendar() (*calendar.Calendar, error) {
	return calendar.New(c.Market.Open, c.Market.Close)
}

// CutoffClock parses the daily flattening time.
func (c *Config) CutoffClock() (calendar.Clock, error) {
	return calendar.ParseClock(c.Market.Cutoff)
}

// TargetGranularity is the working bar size in seconds.
func (c *Config) TargetGranularity() (int, error) {
	return calendar.ParseGranularity(c.Market.Granularity)
}

// LiveSourceGranularity is the raw gateway bar size in seconds.
func (c *Config) LiveSourceGranularity() (int, error) {
	return calendar.ParseGranularity(c.Live.SourceGranularity)
}

// BacktestRange derives the replayed [start, end] interval from the end date
// and the period length.
func (c *Config) BacktestRange() (time.Time, time.Time, error) {
	end, err := time.Parse(dateLayout, c.Backtest.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err,
			"invalid backtest end date %q", c.Backtest.EndDate)
	}

	return end.AddDate(0, 0, -c.Backtest.PeriodDays), end, nil
}

// DSTWindow parses the optional DST adjustment window. The third return is
// false when the window is not configured.
func (c *Config) DSTWindow() (time.Time, time.Time, bool, error) {
	if c.Backtest.DSTStart == "" && c.Backtest.DSTEnd == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	if c.Backtest.DSTStart == "" || c.Backtest.DSTEnd == "" {
		return time.Time{}, time.Time{}, false, errors.New(errors.ErrCodeInvalidConfiguration,
			"dst_start and dst_end must both be set or both be empty")
	}

	start, err := time.Parse(dateLayout, c.Backtest.DSTStart)
	if err != nil {
		return time.Time{}, time.Time{}, false, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err,
			"invalid dst_start %q", c.Backtest.DSTStart)
	}
	end, err := time.Parse(dateLayout, c.Backtest.DSTEnd)
	if err != nil {
		return time.Time{}, time.Time{}, false, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err,
			"invalid dst_end %q", c.Backtest.DSTEnd)
	}

	return start, end, true, nil
}

// FilterConfig converts the filter section into the pipeline config.
func (c *Config) FilterConfig() filter.Config {
	return filter.Config{
		FloatLimit:         c.Filter.FloatLimit,
		SMAShortPeriod:     c.Filter.SMAShortPeriod,
		SMALongPeriod:      c.Filter.SMALongPeriod,
		SMACloseMultiplier: c.Filter.SMACloseMultiplier,
		Criteria:           filter.Criteria(c.Filter.Criteria),
		VolumeDays:         c.Filter.VolumeDays,
		VolumeMultiplier:   c.Filter.VolumeMultiplier,
		EnableGapUp:        c.Filter.EnableGapUp,
		GapUpPercentage:    c.Filter.GapUpPercentage,
	}
}

// CommissionModel resolves the configured broker.
func (c *Config) CommissionModel() commission.Model {
	return commission.ForBroker(commission.Broker(c.Portfolio.Broker))
}

// GenerateSchema builds the JSON schema of the configuration.
func GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{ //nolint:exhaustruct
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if strings.Contains(t.String(), "filter.Criteria") {
				return &jsonschema.Schema{ //nolint:exhaustruct
					Type: "string",
					Enum: []any{string(filter.CriteriaStrong), string(filter.CriteriaWeak)},
				}
			}

			return nil
		},
	}

	schema := reflector.Reflect(&Config{}) //nolint:exhaustruct
	schema.Title = "intraday-config"
	schema.Description = "Configuration schema for intraday backtest and live runs"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON renders the configuration schema as indented JSON.
func GenerateSchemaJSON() (string, error) {
	schemaBytes, err := json.MarshalIndent(GenerateSchema(), "", "  ")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to marshal config schema", err)
	}

	return string(schemaBytes), nil
}
