// Package store reads the stock universe and historical OHLCV bars from a
// DuckDB database. The schema has a stocks table (symbol metadata, float,
// blacklist flag) and a bar table of fine-grained OHLCV rows keyed by stock id.
package store

import (
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/types"
	"github.com/meridianlab/intraday/pkg/errors"
)

const (
	// DefaultBarTable holds 5-minute source bars.
	DefaultBarTable = "stock_data_5m"

	// SourceGranularitySeconds is the bar length of the stored data.
	SourceGranularitySeconds = 300
)

// Store wraps a DuckDB connection.
type Store struct {
	db       *sql.DB
	barTable string
	logger   *logger.Logger
}

// Open opens the DuckDB database at path. An empty path opens an in-memory
// database.
func Open(path string, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeStoreUnavailable, err, "failed to open duckdb at %q", path)
	}

	if err := db.Ping(); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeStoreUnavailable, err, "failed to ping duckdb at %q", path)
	}

	return &Store{
		db:       db,
		barTable: DefaultBarTable,
		logger:   log,
	}, nil
}

// SetBarTable overrides the bar table name, for data stored at a different
// source granularity.
func (s *Store) SetBarTable(name string) {
	s.barTable = name
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the stocks and bar tables when absent.
func (s *Store) EnsureSchema() error {
	statements := []string{
		`CREATE SEQUENCE IF NOT EXISTS stocks_id_seq`,
		`CREATE TABLE IF NOT EXISTS stocks (
			id INTEGER PRIMARY KEY DEFAULT nextval('stocks_id_seq'),
			symbol VARCHAR NOT NULL UNIQUE,
			stock_float DOUBLE,
			is_blacklisted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.barTable + ` (
			stock_id INTEGER NOT NULL,
			date TIMESTAMP NOT NULL,
			open DOUBLE NOT NULL,
			high DOUBLE NOT NULL,
			low DOUBLE NOT NULL,
			close DOUBLE NOT NULL,
			volume DOUBLE NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create schema", err)
		}
	}

	return nil
}

// AddSymbol inserts a stock row and returns nothing; existing symbols are
// left untouched.
func (s *Store) AddSymbol(symbol string, stockFloat float64, blacklisted bool) error {
	flag := 0
	if blacklisted {
		flag = 1
	}

	query, args, err := sq.Insert("stocks").
		Columns("symbol", "stock_float", "is_blacklisted").
		Values(symbol, stockFloat, flag).
		Suffix("ON CONFLICT (symbol) DO NOTHING").
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to build insert", err)
	}

	if _, err := s.db.Exec(query, args...); err != nil {
		return errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to insert symbol %s", symbol)
	}

	return nil
}

// InsertBars appends bar rows for a symbol. The symbol must already exist.
func (s *Store) InsertBars(symbol string, bars []types.Bar) error {
	id, err := s.symbolID(symbol)
	if err != nil {
		return err
	}

	insert := sq.Insert(s.barTable).
		Columns("stock_id", "date", "open", "high", "low", "close", "volume")
	for _, bar := range bars {
		insert = insert.Values(id, bar.Time, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to build insert", err)
	}

	if _, err := s.db.Exec(query, args...); err != nil {
		return errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to insert bars for %s", symbol)
	}

	return nil
}

// Universe returns non-blacklisted symbols. A count of -1 returns all of
// them; otherwise a random sample of at most count symbols is drawn.
func (s *Store) Universe(count int) ([]string, error) {
	builder := sq.Select("symbol").
		From("stocks").
		Where(sq.Eq{"is_blacklisted": 0})

	if count >= 0 {
		builder = builder.OrderBy("random()").Limit(uint64(count))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build universe query", err)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query universe", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan symbol", err)
		}
		symbols = append(symbols, symbol)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read universe rows", err)
	}

	if len(symbols) == 0 {
		return nil, errors.New(errors.ErrCodeEmptySymbolSet, "no non-blacklisted symbols in store")
	}

	return symbols, nil
}

// BarsBetween returns the stored bars for the given symbols within
// [start, end], ordered by symbol then time.
func (s *Store) BarsBetween(start, end time.Time, symbols []string) ([]types.Bar, error) {
	if len(symbols) == 0 {
		return nil, errors.New(errors.ErrCodeEmptySymbolSet, "no symbols requested")
	}

	query, args, err := sq.Select("s.symbol", "sd.date", "sd.open", "sd.high", "sd.low", "sd.close", "sd.volume").
		From(s.barTable + " sd").
		Join("stocks s ON sd.stock_id = s.id").
		Where(sq.Eq{"s.symbol": symbols}).
		Where(sq.GtOrEq{"sd.date": start}).
		Where(sq.LtOrEq{"sd.date": end}).
		OrderBy("s.symbol", "sd.date").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build bars query", err)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query bars", err)
	}
	defer rows.Close()

	var bars []types.Bar
	for rows.Next() {
		var bar types.Bar
		if err := rows.Scan(&bar.Symbol, &bar.Time, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan bar", err)
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read bar rows", err)
	}

	return bars, nil
}

// SymbolFloats returns the free float per symbol. Symbols without a stored
// float are omitted.
func (s *Store) SymbolFloats(symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	query, args, err := sq.Select("symbol", "stock_float").
		From("stocks").
		Where(sq.Eq{"symbol": symbols}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build float query", err)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query floats", err)
	}
	defer rows.Close()

	floats := make(map[string]float64, len(symbols))
	for rows.Next() {
		var (
			symbol     string
			stockFloat sql.NullFloat64
		)
		if err := rows.Scan(&symbol, &stockFloat); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan float", err)
		}
		if stockFloat.Valid {
			floats[symbol] = stockFloat.Float64
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read float rows", err)
	}

	return floats, nil
}

func (s *Store) symbolID(symbol string) (int64, error) {
	query, args, err := sq.Select("id").
		From("stocks").
		Where(sq.Eq{"symbol": symbol}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build id query", err)
	}

	var id int64
	if err := s.db.QueryRow(query, args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, errors.Newf(errors.ErrCodeDataNotFound, "symbol %s not in store", symbol)
		}

		return 0, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to look up symbol %s", symbol)
	}

	return id, nil
}
