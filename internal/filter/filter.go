// Package filter narrows the tradeable universe at the start of each session
// using free float, daily performance against moving averages, relative
// volume, and optionally an opening gap-up.
package filter

import (
	"time"

	"go.uber.org/zap"

	"github.com/meridianlab/intraday/internal/calendar"
	"github.com/meridianlab/intraday/internal/datasource"
	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/types"
)

// Criteria selects which side of the moving averages a candidate must be on.
type Criteria string

const (
	// CriteriaStrong keeps symbols closing above both moving averages.
	CriteriaStrong Criteria = "Strong"
	// CriteriaWeak keeps symbols closing below both moving averages.
	CriteriaWeak Criteria = "Weak"
)

// Config carries the filter thresholds.
type Config struct {
	FloatLimit         float64
	SMAShortPeriod     int
	SMALongPeriod      int
	SMACloseMultiplier float64
	Criteria           Criteria
	VolumeDays         int
	VolumeMultiplier   float64
	EnableGapUp        bool
	GapUpPercentage    float64
}

// Candidate is a symbol that survived the pipeline, with the values each
// stage measured. Useful for the session log.
type Candidate struct {
	Symbol          string
	LastDailyClose  float64
	CloseSMAShort   float64
	CloseSMALong    float64
	LatestVolume    float64
	AvgVolumeScaled float64
	OpenPrice       float64
	GapUpThreshold  float64
}

// Pipeline runs the filter stages over a data source. The backtest and live
// entry points differ only in which bar series they read.
type Pipeline struct {
	source datasource.DataSource
	cal    *calendar.Calendar
	logger *logger.Logger

	config            Config
	targetGranularity int
}

// New builds a pipeline over the given source.
func New(source datasource.DataSource, cal *calendar.Calendar, log *logger.Logger, config Config, targetGranularity int) *Pipeline {
	return &Pipeline{
		source:            source,
		cal:               cal,
		logger:            log,
		config:            config,
		targetGranularity: targetGranularity,
	}
}

// FloatFilter keeps symbols whose free float is known and below the limit.
// It runs once at startup, before any bar data exists.
func (p *Pipeline) FloatFilter(symbols []string) []string {
	kept := FloatSymbols(symbols, p.source.Floats(), p.config.FloatLimit)

	p.logger.Info("float filter applied", zap.Int("remaining", len(kept)))

	return kept
}

// FloatSymbols keeps symbols whose free float is known and below the limit.
func FloatSymbols(symbols []string, floats map[string]float64, limit float64) []string {
	var kept []string
	for _, symbol := range symbols {
		if value, ok := floats[symbol]; ok && value < limit {
			kept = append(kept, symbol)
		}
	}

	return kept
}

// RunForBacktest applies the bar-driven stages against the replayed series.
func (p *Pipeline) RunForBacktest(symbols []string) []Candidate {
	return p.run(symbols, func(symbol string) []types.Bar {
		return p.source.LatestBars(symbol, 0)
	})
}

// RunForLive applies the bar-driven stages against the aggregated live
// series.
func (p *Pipeline) RunForLive(symbols []string) []Candidate {
	return p.run(symbols, func(symbol string) []types.Bar {
		return p.source.LatestAggregated(symbol, 0)
	})
}

// Symbols extracts the symbol names from a candidate list.
func Symbols(candidates []Candidate) []string {
	symbols := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		symbols = append(symbols, candidate.Symbol)
	}

	return symbols
}

func (p *Pipeline) run(symbols []string, lookup func(symbol string) []types.Bar) []Candidate {
	var candidates []Candidate

	for _, symbol := range symbols {
		bars := lookup(symbol)

		candidate := Candidate{Symbol: symbol} //nolint:exhaustruct // stages fill their fields on pass

		if !p.dailyPerformance(bars, &candidate) {
			continue
		}
		if !p.relativeVolume(bars, &candidate) {
			continue
		}
		if p.config.EnableGapUp && !p.gapUp(bars, &candidate) {
			continue
		}

		candidates = append(candidates, candidate)
	}

	p.logger.Info("session universe selected",
		zap.Int("remaining", len(candidates)),
		zap.Strings("symbols", Symbols(candidates)),
	)
	for _, candidate := range candidates {
		p.logger.Info("session candidate",
			zap.String("symbol", candidate.Symbol),
			zap.Float64("last_daily_close", candidate.LastDailyClose),
			zap.Float64("close_sma_short", candidate.CloseSMAShort),
			zap.Float64("close_sma_long", candidate.CloseSMALong),
			zap.Float64("latest_volume", candidate.LatestVolume),
			zap.Float64("avg_volume_scaled", candidate.AvgVolumeScaled),
		)
	}

	return candidates
}

// dailyPerformance keeps symbols whose last daily close sits on the required
// side of both SMAs of daily closes, after scaling the SMAs by the close
// multiplier. Symbols without enough daily closes for the long SMA fail.
func (p *Pipeline) dailyPerformance(bars []types.Bar, candidate *Candidate) bool {
	closes := p.dailyCloses(bars)
	if len(closes) == 0 || len(closes) < p.config.SMALongPeriod || len(closes) < p.config.SMAShortPeriod {
		return false
	}

	lastClose := closes[len(closes)-1]
	smaShort := sma(closes, p.config.SMAShortPeriod) * p.config.SMACloseMultiplier
	smaLong := sma(closes, p.config.SMALongPeriod) * p.config.SMACloseMultiplier

	passed := false
	switch p.config.Criteria {
	case CriteriaStrong:
		passed = lastClose > smaShort && lastClose > smaLong
	case CriteriaWeak:
		passed = lastClose < smaShort && lastClose < smaLong
	}

	if passed {
		candidate.LastDailyClose = lastClose
		candidate.CloseSMAShort = smaShort
		candidate.CloseSMALong = smaLong
	}

	return passed
}

// relativeVolume compares the latest bar's volume against the mean volume of
// the same time-of-day bar over the lookback days, scaled by the multiplier.
// With no history the average is zero and the stage passes.
func (p *Pipeline) relativeVolume(bars []types.Bar, candidate *Candidate) bool {
	if len(bars) == 0 {
		return false
	}

	latest := bars[len(bars)-1]
	history := bars[:len(bars)-1]

	var sameTime []types.Bar
	for _, bar := range history {
		if sameTimeOfDay(bar.Time, latest.Time) {
			sameTime = append(sameTime, bar)
		}
	}
	if len(sameTime) > p.config.VolumeDays {
		sameTime = sameTime[len(sameTime)-p.config.VolumeDays:]
	}

	var avgVolume float64
	if len(sameTime) > 0 {
		for _, bar := range sameTime {
			avgVolume += bar.Volume
		}
		avgVolume /= float64(len(sameTime))
	}

	scaled := avgVolume * p.config.VolumeMultiplier

	candidate.LatestVolume = latest.Volume
	candidate.AvgVolumeScaled = scaled

	return latest.Volume >= scaled
}

// gapUp keeps symbols whose latest open exceeds the previous close by the
// configured percentage.
func (p *Pipeline) gapUp(bars []types.Bar, candidate *Candidate) bool {
	if len(bars) < 2 {
		return false
	}

	current := bars[len(bars)-1]
	previous := bars[len(bars)-2]

	threshold := previous.Close * (1 + p.config.GapUpPercentage/100)
	if current.Open > threshold {
		candidate.OpenPrice = current.Open
		candidate.GapUpThreshold = threshold

		return true
	}

	return false
}

// dailyCloses extracts the close of the last bar of each session, identified
// by the time-of-day one bar length before the market close.
func (p *Pipeline) dailyCloses(bars []types.Bar) []float64 {
	closingSecond := p.cal.Close.Seconds() - p.targetGranularity

	var closes []float64
	for _, bar := range bars {
		seconds := bar.Time.Hour()*3600 + bar.Time.Minute()*60 + bar.Time.Second()
		if seconds == closingSecond {
			closes = append(closes, bar.Close)
		}
	}

	return closes
}

func sma(values []float64, window int) float64 {
	if window <= 0 || len(values) < window {
		return 0
	}

	var sum float64
	for _, value := range values[len(values)-window:] {
		sum += value
	}

	return sum / float64(window)
}

func sameTimeOfDay(a, b time.Time) bool {
	return a.Hour() == b.Hour() && a.Minute() == b.Minute() && a.Second() == b.Second()
}
