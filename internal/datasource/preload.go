package datasource

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/meridianlab/intraday/internal/calendar"
	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/types"
)

// groupBySymbol splits a symbol-then-time ordered bar slice into per-symbol
// series, preserving order.
func groupBySymbol(bars []types.Bar) map[string][]types.Bar {
	records := make(map[string][]types.Bar)
	for _, bar := range bars {
		records[bar.Symbol] = append(records[bar.Symbol], bar)
	}

	return records
}

// dropIncompleteSymbols removes symbols whose stored bars do not cover every
// given trading day with exactly the expected number of in-session bars.
// Each dropped symbol is logged by name with the offending period.
func dropIncompleteSymbols(
	records map[string][]types.Bar,
	days []time.Time,
	cal *calendar.Calendar,
	expectedBarsPerDay int,
	start, end time.Time,
	log *logger.Logger,
) map[string][]types.Bar {
	var toDelete []string

	for symbol, bars := range records {
		if len(bars) == 0 {
			toDelete = append(toDelete, symbol)
			continue
		}

		// Distinct in-session bar timestamps per trading day, keyed by
		// calendar date to stay location-agnostic.
		counts := make(map[string]map[int64]bool)
		for _, bar := range bars {
			if !cal.WithinSession(bar.Time) {
				continue
			}
			day := bar.Time.Format("2006-01-02")
			if counts[day] == nil {
				counts[day] = make(map[int64]bool)
			}
			counts[day][bar.Time.Unix()] = true
		}

		for _, day := range days {
			if len(counts[day.Format("2006-01-02")]) != expectedBarsPerDay {
				toDelete = append(toDelete, symbol)
				break
			}
		}
	}

	for _, symbol := range toDelete {
		log.Info("dropping symbol with missing bars",
			zap.String("symbol", symbol),
			zap.Time("start", start),
			zap.Time("end", end),
		)
		delete(records, symbol)
	}

	log.Info("symbols with complete data", zap.Int("count", len(records)))

	return records
}

// sortedSymbols returns the map keys in deterministic order.
func sortedSymbols(records map[string][]types.Bar) []string {
	symbols := make([]string, 0, len(records))
	for symbol := range records {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	return symbols
}
