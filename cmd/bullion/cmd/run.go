package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/bullion/backtest"
	"github.com/rustyeddy/bullion/config"
	"github.com/rustyeddy/bullion/feed"
	"github.com/rustyeddy/bullion/id"
	"github.com/rustyeddy/bullion/journal"
	"github.com/rustyeddy/bullion/logging"
	"github.com/rustyeddy/bullion/metrics"
	"github.com/rustyeddy/bullion/notify"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Backtest the engine over a candle file",
	Long: `Run the decision engine bar by bar over historical candles using the
simulated broker.

The candle file is CSV with time,open,high,low,close[,volume] rows. With
--source dukascopy the candles are built from a tick cache filled by
"bullion data fetch". Without a config file the defaults from
"bullion config init" are used.

Example:
  bullion run -f bullion.yaml --candles xau_h1.csv --from 2024-01-01 --to 2024-07-01`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runConfigPath  string
	runCandlesPath string
	runSource      string
	runPeriod      time.Duration
	runFrom        string
	runTo          string
	runMetricsAddr string
	runCloseEnd    bool
	runID          string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON)")
	runCmd.Flags().StringVar(&runCandlesPath, "candles", "", "candle CSV, or the tick cache dir with --source dukascopy (required)")
	runCmd.Flags().StringVar(&runSource, "source", "csv", "candle source: csv or dukascopy")
	runCmd.Flags().DurationVar(&runPeriod, "period", time.Hour, "bar period when building candles from dukascopy ticks")
	runCmd.Flags().StringVar(&runFrom, "from", "", "first bar to include, YYYY-MM-DD or RFC3339")
	runCmd.Flags().StringVar(&runTo, "to", "", "stop before this bar, YYYY-MM-DD or RFC3339")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address while running")
	runCmd.Flags().BoolVar(&runCloseEnd, "close-end", false, "flatten open positions after the last bar")
	runCmd.Flags().StringVar(&runID, "run-id", "", "run id stamped on journal records (default: new ULID)")
	_ = runCmd.MarkFlagRequired("candles")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if runConfigPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(runConfigPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if runMetricsAddr != "" {
		cfg.Metrics.Addr = runMetricsAddr
	}

	from, err := parseBound(runFrom)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := parseBound(runTo)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}
	rid := runID
	if rid == "" {
		rid = id.New()
	}

	log := logging.New(cfg.Log).With().Str("run_id", rid).Logger()

	j, err := journal.Open(cfg.Journal)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()
	db, isSQLite := j.(*journal.SQLite)
	if isSQLite {
		db.RunID = rid
	}

	n, err := notify.New(cfg.Notify, log)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	stack, err := backtest.NewStack(cfg, backtest.Deps{
		Journal:  j,
		Metrics:  metrics.New(reg),
		Notifier: n,
		Log:      log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(cfg.Metrics.Addr, metrics.NewRouter(reg, stack.Engine.Status), log)
		srv.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	candles, err := openCandles(cfg.Instrument, from, to)
	if err != nil {
		return fmt.Errorf("open candles: %w", err)
	}

	runner := &backtest.Runner{
		Stack:   stack,
		Feed:    candles,
		Options: backtest.RunnerOptions{CloseEnd: runCloseEnd},
		Log:     log,
	}
	res, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	rec := res.BacktestRun(rid, cfg.Instrument, filepath.Base(runCandlesPath), raw)
	if res.TickErrors > 0 {
		rec.Notes = append(rec.Notes, fmt.Sprintf("%d bars failed", res.TickErrors))
	}
	if res.OpenPositions > 0 {
		rec.Notes = append(rec.Notes, fmt.Sprintf("%d positions still open", res.OpenPositions))
	}
	if isSQLite {
		if err := db.RecordBacktest(ctx, rec); err != nil {
			return fmt.Errorf("record backtest: %w", err)
		}
	}

	backtest.PrintResult(cmd.OutOrStdout(), rec)
	if res.TickErrors > 0 {
		log.Warn().Int("tick_errors", res.TickErrors).Msg("some bars failed to process")
	}
	return nil
}

func openCandles(instrument string, from, to time.Time) (backtest.CandleFeed, error) {
	switch runSource {
	case "csv":
		return feed.OpenCSV(runCandlesPath, from, to)
	case "dukascopy":
		return feed.OpenDukascopy(runCandlesPath, instrument, from, to, runPeriod)
	default:
		return nil, fmt.Errorf("unknown source %q", runSource)
	}
}

// parseBound accepts a date or a full RFC3339 timestamp. Empty means unbounded.
func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
