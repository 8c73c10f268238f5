package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/meridianlab/intraday/internal/config"
	"github.com/meridianlab/intraday/internal/datasource"
	"github.com/meridianlab/intraday/internal/engine"
	"github.com/meridianlab/intraday/internal/execution"
	"github.com/meridianlab/intraday/internal/filter"
	"github.com/meridianlab/intraday/internal/gateway"
	"github.com/meridianlab/intraday/internal/logger"
	"github.com/meridianlab/intraday/internal/portfolio"
	"github.com/meridianlab/intraday/internal/store"
	"github.com/meridianlab/intraday/internal/strategy"
	"github.com/meridianlab/intraday/internal/types"
	"github.com/meridianlab/intraday/internal/writer"
	"github.com/meridianlab/intraday/pkg/errors"
)

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{ //nolint:exhaustruct
		Name:     "config",
		Aliases:  []string{"c"},
		Usage:    "Path to the YAML run configuration",
		Required: true,
	}
}

func main() {
	cmd := &cli.Command{ //nolint:exhaustruct
		Name:  "intraday",
		Usage: "Event-driven intraday backtests and live sessions",
		Commands: []*cli.Command{
			{ //nolint:exhaustruct
				Name:   "backtest",
				Usage:  "Replay stored bars through the strategy",
				Flags:  []cli.Flag{configFlag()},
				Action: backtestAction,
			},
			{ //nolint:exhaustruct
				Name:   "live",
				Usage:  "Stream bars from a market data gateway",
				Flags:  []cli.Flag{configFlag()},
				Action: liveAction,
			},
			{ //nolint:exhaustruct
				Name:  "schema",
				Usage: "Print the JSON schema of the run configuration",
				Action: func(_ context.Context, _ *cli.Command) error {
					schema, err := config.GenerateSchemaJSON()
					if err != nil {
						return err
					}
					fmt.Println(schema)

					return nil
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func backtestAction(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log = log.Named("backtest")

	if cfg.Backtest.EndDate == "" {
		return errors.New(errors.ErrCodeInvalidConfiguration, "backtest requires backtest.end_date")
	}

	cal, err := cfg.Calendar()
	if err != nil {
		return err
	}
	target, err := cfg.TargetGranularity()
	if err != nil {
		return err
	}
	cutoff, err := cfg.CutoffClock()
	if err != nil {
		return err
	}
	start, end, err := cfg.BacktestRange()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	st.SetBarTable(cfg.Database.BarTable)

	universe, err := st.Universe(cfg.Backtest.UniverseSize)
	if err != nil {
		return err
	}

	// The float filter runs once, against the store, before any bars load.
	floats, err := st.SymbolFloats(universe)
	if err != nil {
		return err
	}
	symbols := filter.FloatSymbols(universe, floats, cfg.Filter.FloatLimit)
	if len(symbols) == 0 {
		return errors.New(errors.ErrCodeFilterEmptyUniverse, "no symbols below the float limit")
	}
	log.Info("universe selected",
		zap.Int("sampled", len(universe)),
		zap.Int("below_float_limit", len(symbols)),
	)

	data, err := datasource.NewHistoric(st, cal, log, store.SourceGranularitySeconds, target)
	if err != nil {
		return err
	}
	if dstStart, dstEnd, enabled, err := cfg.DSTWindow(); err != nil {
		return err
	} else if enabled {
		data.SetDSTWindow(dstStart, dstEnd)
	}
	if err := data.Preload(start, end, symbols); err != nil {
		return err
	}

	pipeline := filter.New(data, cal, log, cfg.FilterConfig(), target)

	queue := engine.NewQueue()
	pf := portfolio.NewNaive(data, queue, cfg.CommissionModel(), log, cfg.Portfolio.InitialCapital)
	strat := strategy.NewEMACrossover(data, queue, log, strategy.EMACrossoverConfig{
		ShortPeriod:       cfg.Strategy.ShortPeriod,
		LongPeriod:        cfg.Strategy.LongPeriod,
		TakeProfitPercent: cfg.Strategy.TakeProfitPercent,
		StopLossPercent:   cfg.Strategy.StopLossPercent,
		Quantity:          cfg.Strategy.Quantity,
		Cutoff:            cutoff,
		Backtest:          true,
	})

	loop, err := engine.New(engine.Deps{
		Queue:          queue,
		Data:           data,
		Portfolio:      pf,
		Strategy:       strat,
		Execution:      execution.NewSimulated(queue, log),
		Filter:         pipeline,
		Sweeper:        nil,
		Fills:          nil,
		Logger:         log,
		BarSizeSeconds: target,
		Backtest:       true,
		ShowProgress:   cfg.Backtest.ShowProgress,
	})
	if err != nil {
		return err
	}

	// Reporting runs even when the loop stops early, so a partial run
	// still leaves its results on disk.
	result, runErr := loop.Run(ctx)
	if err := writeResults(cfg, log, data, pf, result); err != nil && runErr == nil {
		runErr = err
	}

	return runErr
}

func liveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log = log.Named("live")

	if len(cfg.Live.Symbols) == 0 {
		return errors.New(errors.ErrCodeInvalidConfiguration, "live requires live.symbols")
	}

	cal, err := cfg.Calendar()
	if err != nil {
		return err
	}
	target, err := cfg.TargetGranularity()
	if err != nil {
		return err
	}
	source, err := cfg.LiveSourceGranularity()
	if err != nil {
		return err
	}
	cutoff, err := cfg.CutoffClock()
	if err != nil {
		return err
	}

	gw, err := buildGateway(cfg, source, log)
	if err != nil {
		return err
	}

	var st *store.Store
	if cfg.Database.Path != "" {
		if st, err = store.Open(cfg.Database.Path, log); err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		st.SetBarTable(cfg.Database.BarTable)
	}

	data, err := datasource.NewLive(gw, st, cal, log, cfg.Live.Symbols, source, target)
	if err != nil {
		return err
	}
	data.SetAdvanceTimeout(time.Duration(cfg.Live.AdvanceTimeoutSeconds) * time.Second)

	pipeline := filter.New(data, cal, log, cfg.FilterConfig(), target)

	if st != nil && cfg.Backtest.EndDate != "" {
		start, end, err := cfg.BacktestRange()
		if err != nil {
			return err
		}
		if err := data.PreloadFromStore(start, end); err != nil {
			return err
		}

		// Live mode filters once at startup; the session keeps the survivors.
		symbols := pipeline.FloatFilter(data.AllSymbols())
		candidates := pipeline.RunForLive(symbols)
		if len(candidates) == 0 {
			return errors.New(errors.ErrCodeFilterEmptyUniverse, "no symbols passed the session filters")
		}
		data.SetActiveSymbols(filter.Symbols(candidates))
	}

	if err := data.Start(ctx); err != nil {
		return err
	}

	queue := engine.NewQueue()
	pf := portfolio.NewNaive(data, queue, cfg.CommissionModel(), log, cfg.Portfolio.InitialCapital)
	strat := strategy.NewEMACrossover(data, queue, log, strategy.EMACrossoverConfig{
		ShortPeriod:       cfg.Strategy.ShortPeriod,
		LongPeriod:        cfg.Strategy.LongPeriod,
		TakeProfitPercent: cfg.Strategy.TakeProfitPercent,
		StopLossPercent:   cfg.Strategy.StopLossPercent,
		Quantity:          cfg.Strategy.Quantity,
		Cutoff:            cutoff,
		Backtest:          false,
	})

	exec, sweeper, fills := buildExecution(gw, queue, log)

	loop, err := engine.New(engine.Deps{
		Queue:          queue,
		Data:           data,
		Portfolio:      pf,
		Strategy:       strat,
		Execution:      exec,
		Filter:         pipeline,
		Sweeper:        sweeper,
		Fills:          fills,
		Logger:         log,
		BarSizeSeconds: target,
		Backtest:       false,
		ShowProgress:   false,
	})
	if err != nil {
		return err
	}

	result, runErr := loop.Run(ctx)
	if err := writeResults(cfg, log, data, pf, result); err != nil && runErr == nil {
		runErr = err
	}

	return runErr
}

func setup(cmd *cli.Command) (config.Config, *logger.Logger, error) {
	log, err := logger.NewLogger()
	if err != nil {
		return config.Config{}, nil, err
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return config.Config{}, nil, err
	}

	return cfg, log, nil
}

func buildGateway(cfg config.Config, sourceGranularity int, log *logger.Logger) (gateway.Gateway, error) {
	switch cfg.Live.Gateway {
	case "polygon":
		return gateway.NewPolygon(cfg.Live.PolygonAPIKey, sourceGranularity, log)
	case "binance":
		return gateway.NewBinance(sourceGranularity, log), nil
	case "simulated":
		return gateway.NewSimulatedGateway(), nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown gateway %q", cfg.Live.Gateway)
	}
}

// buildExecution routes orders through the broker handler when the gateway
// can place them. Data-only gateways fall back to simulated fills.
func buildExecution(
	gw gateway.Gateway,
	queue *engine.Queue,
	log *logger.Logger,
) (execution.Handler, engine.Sweeper, <-chan types.FillEvent) {
	router, ok := gw.(execution.OrderRouter)
	if !ok {
		log.Info("gateway does not route orders, using simulated execution",
			zap.String("gateway", gw.Name()),
		)

		return execution.NewSimulated(queue, log), nil, nil
	}

	broker := execution.NewBroker(router, log)
	if sim, ok := gw.(*gateway.SimulatedGateway); ok {
		sim.SetFillReporter(broker)
	}

	return broker, broker, broker.Fills()
}

func writeResults(cfg config.Config, log *logger.Logger, data datasource.DataSource, pf *portfolio.NaivePortfolio, result engine.Result) error {
	out, err := writer.NewCSVWriter(cfg.Output.Directory)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if err := out.WriteTrades(result.Trades); err != nil {
		return err
	}
	if err := out.WriteEquityCurve(pf.EquityCurve()); err != nil {
		return err
	}
	for _, symbol := range data.ActiveSymbols() {
		if err := out.WriteBaseline(symbol, portfolio.BaselineCurve(data.LatestAggregated(symbol, 0))); err != nil {
			return err
		}
	}
	if err := out.WriteTradeMetrics(result.TradeMetrics); err != nil {
		return err
	}
	if err := out.WriteSummary(result.Stats); err != nil {
		return err
	}

	log.Info("results written", zap.String("run_dir", out.RunDir()))

	return nil
}
