// Package writer persists run results as CSV and YAML files under a
// timestamped run directory.
package writer

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meridianlab/intraday/internal/portfolio"
	"github.com/meridianlab/intraday/internal/types"
)

// ResultWriter defines the interface for writing run results
type ResultWriter interface {
	// WriteTrades writes the closed trade log
	WriteTrades(trades []types.Trade) error

	// WriteEquityCurve writes the per-bar equity curve
	WriteEquityCurve(curve []portfolio.EquityPoint) error

	// WriteBaseline writes one symbol's buy-and-hold benchmark curve
	WriteBaseline(symbol string, curve []portfolio.EquityPoint) error

	// WriteTradeMetrics writes the aggregated trade statistics
	WriteTradeMetrics(metrics types.TradeMetrics) error

	// WriteSummary writes the headline run statistics
	WriteSummary(stats portfolio.SummaryStats) error

	// Close finalizes the writing process
	Close() error
}

// CSVWriter implements ResultWriter by writing to files under a run
// directory named after the start timestamp.
type CSVWriter struct {
	baseDir string
	runDir  string

	tradesFile      *os.File
	equityCurveFile *os.File

	tradesCsv      *csv.Writer
	equityCurveCsv *csv.Writer
}

var _ ResultWriter = (*CSVWriter)(nil)

// NewCSVWriter creates a new CSVWriter with the given base directory
func NewCSVWriter(baseDir string) (*CSVWriter, error) {
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	runDir := filepath.Join(baseDir, timestamp)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	writer := &CSVWriter{
		baseDir:         baseDir,
		runDir:          runDir,
		tradesFile:      nil,
		equityCurveFile: nil,
		tradesCsv:       nil,
		equityCurveCsv:  nil,
	}

	if err := writer.initFiles(); err != nil {
		return nil, err
	}

	return writer, nil
}

// RunDir returns the directory this run writes into.
func (w *CSVWriter) RunDir() string {
	return w.runDir
}

func (w *CSVWriter) initFiles() error {
	tradesFile, err := os.Create(filepath.Join(w.runDir, "trades.csv"))
	if err != nil {
		return fmt.Errorf("failed to create trades file: %w", err)
	}
	w.tradesFile = tradesFile
	w.tradesCsv = csv.NewWriter(tradesFile)

	if err := w.tradesCsv.Write([]string{
		"symbol", "quantity", "buy_price", "sell_price",
		"start_time", "end_time", "duration_minutes", "pnl", "return_pct",
	}); err != nil {
		return fmt.Errorf("failed to write trades header: %w", err)
	}

	equityCurveFile, err := os.Create(filepath.Join(w.runDir, "equity_curve.csv"))
	if err != nil {
		return fmt.Errorf("failed to create equity curve file: %w", err)
	}
	w.equityCurveFile = equityCurveFile
	w.equityCurveCsv = csv.NewWriter(equityCurveFile)

	if err := w.equityCurveCsv.Write([]string{"timestamp", "total", "return", "equity"}); err != nil {
		return fmt.Errorf("failed to write equity curve header: %w", err)
	}

	return nil
}

// WriteTrades writes the closed trade log
func (w *CSVWriter) WriteTrades(trades []types.Trade) error {
	for i := range trades {
		trade := &trades[i]
		record := []string{
			trade.Symbol,
			fmt.Sprintf("%f", trade.Quantity),
			fmt.Sprintf("%.2f", trade.BuyPrice),
			fmt.Sprintf("%.2f", trade.SellPrice),
			trade.StartTime.Format(time.RFC3339),
			trade.EndTime.Format(time.RFC3339),
			fmt.Sprintf("%.1f", trade.Duration().Minutes()),
			fmt.Sprintf("%.2f", trade.PnL()),
			fmt.Sprintf("%.2f", trade.Return()),
		}

		if err := w.tradesCsv.Write(record); err != nil {
			return fmt.Errorf("failed to write trade: %w", err)
		}
	}

	w.tradesCsv.Flush()

	return w.tradesCsv.Error()
}

// WriteEquityCurve writes the per-bar equity curve
func (w *CSVWriter) WriteEquityCurve(curve []portfolio.EquityPoint) error {
	for _, point := range curve {
		record := []string{
			point.Time.Format(time.RFC3339),
			fmt.Sprintf("%f", point.Total),
			fmt.Sprintf("%f", point.Return),
			fmt.Sprintf("%f", point.Equity),
		}

		if err := w.equityCurveCsv.Write(record); err != nil {
			return fmt.Errorf("failed to write equity curve point: %w", err)
		}
	}

	w.equityCurveCsv.Flush()

	return w.equityCurveCsv.Error()
}

// WriteBaseline writes one symbol's buy-and-hold benchmark curve
func (w *CSVWriter) WriteBaseline(symbol string, curve []portfolio.EquityPoint) error {
	file, err := os.Create(filepath.Join(w.runDir, fmt.Sprintf("baseline_%s.csv", symbol)))
	if err != nil {
		return fmt.Errorf("failed to create baseline file for %s: %w", symbol, err)
	}
	defer file.Close()

	csvWriter := csv.NewWriter(file)
	if err := csvWriter.Write([]string{"timestamp", "close", "return", "equity"}); err != nil {
		return fmt.Errorf("failed to write baseline header: %w", err)
	}

	for _, point := range curve {
		record := []string{
			point.Time.Format(time.RFC3339),
			fmt.Sprintf("%f", point.Total),
			fmt.Sprintf("%f", point.Return),
			fmt.Sprintf("%f", point.Equity),
		}

		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write baseline point: %w", err)
		}
	}

	csvWriter.Flush()

	return csvWriter.Error()
}

// WriteTradeMetrics writes the aggregated trade statistics
func (w *CSVWriter) WriteTradeMetrics(metrics types.TradeMetrics) error {
	return w.writeYAML("trade_metrics.yaml", metrics)
}

// WriteSummary writes the headline run statistics
func (w *CSVWriter) WriteSummary(stats portfolio.SummaryStats) error {
	return w.writeYAML("summary.yaml", stats)
}

func (w *CSVWriter) writeYAML(filename string, value any) error {
	file, err := os.Create(filepath.Join(w.runDir, filename))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filename, err)
	}
	defer file.Close()

	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filename, err)
	}

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}

	return nil
}

// Close finalizes the writing process
func (w *CSVWriter) Close() error {
	if w.tradesCsv != nil {
		w.tradesCsv.Flush()
	}
	if w.equityCurveCsv != nil {
		w.equityCurveCsv.Flush()
	}

	if w.tradesFile != nil {
		w.tradesFile.Close()
	}
	if w.equityCurveFile != nil {
		w.equityCurveFile.Close()
	}

	return nil
}
