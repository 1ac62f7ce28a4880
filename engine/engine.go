// Package engine drives the decision components once per market tick. All
// component state is reached through one Components value built at startup;
// there are no package-level singletons.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/bullion/broker"
	"github.com/rustyeddy/bullion/journal"
	"github.com/rustyeddy/bullion/market"
	"github.com/rustyeddy/bullion/metrics"
	"github.com/rustyeddy/bullion/position"
	"github.com/rustyeddy/bullion/risk"
	"github.com/rustyeddy/bullion/signal"
	"github.com/rustyeddy/bullion/trade"
)

// Components is the registry of everything one engine instance owns.
// Journal and Metrics are optional.
type Components struct {
	Provider     market.Provider
	Account      broker.AccountState
	Risk         *risk.Manager
	Monitor      *risk.Monitor
	Positions    *position.Coordinator
	Orchestrator *trade.Orchestrator
	Signals      *signal.Processor
	Journal      journal.Journal
	Metrics      *metrics.Metrics
}

func (c Components) Validate() error {
	var errs []error
	check := func(ok bool, name string) {
		if !ok {
			errs = append(errs, fmt.Errorf("engine: missing %s", name))
		}
	}
	check(c.Provider != nil, "market data provider")
	check(c.Account != nil, "account state")
	check(c.Risk != nil, "risk manager")
	check(c.Monitor != nil, "risk monitor")
	check(c.Positions != nil, "position coordinator")
	check(c.Orchestrator != nil, "trade orchestrator")
	check(c.Signals != nil, "signal processor")
	return errors.Join(errs...)
}

type Config struct {
	// BarInterval bounds how long a staged signal may wait for
	// confirmation. 0 uses the smallest bar spacing seen so far.
	BarInterval time.Duration `yaml:"bar_interval" json:"bar_interval"`
}

func DefaultConfig() Config {
	return Config{}
}

// Engine serializes OnTick and Status; the components themselves are not
// safe for concurrent use.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	c   Components
	log zerolog.Logger

	started   bool
	lastBar   time.Time
	barPeriod time.Duration
	wasHalted bool
	flattens  int
	ticks     int
}

func New(cfg Config, c Components, log zerolog.Logger) *Engine {
	if c.Journal == nil {
		c.Journal = journal.Nop{}
	}
	return &Engine{
		cfg: cfg,
		c:   c,
		log: log.With().Str("component", "engine").Logger(),
	}
}

func (e *Engine) Components() Components { return e.c }

// Start checks the component handles and adopts positions left open by a
// previous run. Any error is fatal to the process.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.c.Validate(); err != nil {
		return err
	}
	if err := e.c.Positions.LoadOpenPositions(ctx); err != nil {
		return fmt.Errorf("engine: load open positions: %w", err)
	}
	e.started = true
	e.log.Info().
		Int("positions", e.c.Positions.Count()).
		Float64("exposure_pct", e.c.Risk.CurrentExposure()).
		Msg("engine started")
	return nil
}

// OnTick runs one pass: positions are managed and risk limits enforced on
// every tick, signals only when a new bar has opened. Decision failures are
// logged and do not stop the loop; the returned error is for snapshot and
// collaborator failures.
func (e *Engine) OnTick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return errors.New("engine: not started")
	}
	e.ticks++

	mc, err := e.c.Provider.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("engine: snapshot: %w", err)
	}
	if !mc.Valid() {
		e.log.Warn().Time("time", mc.Time).Float64("bid", mc.Bid).Float64("ask", mc.Ask).Msg("no usable quote, tick skipped")
		return nil
	}

	var errs []error
	if err := e.c.Positions.ManageOpenPositions(ctx, mc); err != nil {
		e.log.Error().Err(err).Msg("manage open positions")
		errs = append(errs, err)
	}
	if err := e.c.Monitor.CheckRiskLimits(ctx); err != nil {
		e.log.Error().Err(err).Msg("check risk limits")
		errs = append(errs, err)
	}
	e.observe(ctx)

	if !mc.BarTime.IsZero() && !mc.BarTime.Equal(e.lastBar) {
		e.learnPeriod(mc.BarTime)
		e.lastBar = mc.BarTime
		e.onBar(ctx, mc)
	}
	return errors.Join(errs...)
}

// learnPeriod keeps the smallest positive spacing between consecutive
// bars; weekend and holiday gaps never shrink it.
func (e *Engine) learnPeriod(bar time.Time) {
	if e.lastBar.IsZero() {
		return
	}
	if d := bar.Sub(e.lastBar); d > 0 && (e.barPeriod == 0 || d < e.barPeriod) {
		e.barPeriod = d
	}
}

func (e *Engine) barInterval() time.Duration {
	if e.cfg.BarInterval > 0 {
		return e.cfg.BarInterval
	}
	return e.barPeriod
}

func (e *Engine) onBar(ctx context.Context, mc market.Context) {
	e.recordEquity(ctx, mc.Time)

	if ps, ok := e.c.Signals.Pending().Take(); ok {
		e.confirm(ctx, mc, ps)
	}

	if err := e.c.Signals.Process(ctx, mc); err != nil {
		e.c.Metrics.Rejection(err)
		if !risk.IsRejection(err) {
			e.log.Error().Err(err).Time("bar", mc.BarTime).Msg("signal processing failed")
		}
	}
}

func (e *Engine) confirm(ctx context.Context, mc market.Context, ps signal.PendingSignal) {
	log := e.log.With().Str("id", ps.ID).Str("pattern", ps.Setup.Label).Logger()

	if !ps.ConfirmableOn(mc.BarTime, e.barInterval()) {
		log.Info().
			Time("staged_bar", ps.StagedBar).
			Time("bar", mc.BarTime).
			Msg("pending signal expired")
		e.c.Metrics.PendingEvent("expired")
		return
	}
	if err := e.c.Signals.RevalidatePending(ctx, mc, ps); err != nil {
		e.c.Metrics.PendingEvent("dropped")
		e.c.Metrics.Rejection(err)
		return
	}

	ticket, err := e.c.Orchestrator.ProcessConfirmedSignal(ctx, mc, ps.Setup)
	if err != nil {
		e.c.Metrics.PendingEvent("failed")
		e.c.Metrics.Rejection(err)
		lvl := zerolog.InfoLevel
		if !risk.IsRejection(err) {
			lvl = zerolog.ErrorLevel
		}
		log.WithLevel(lvl).Err(err).Msg("confirmed signal not executed")
		return
	}
	e.c.Metrics.PendingEvent("confirmed")
	log.Info().Uint64("ticket", uint64(ticket)).Msg("pending signal confirmed")
}

func (e *Engine) observe(ctx context.Context) {
	if halted := e.c.Risk.Halted(); halted != e.wasHalted {
		if halted {
			e.c.Metrics.Halt()
		}
		e.wasHalted = halted
	}
	if n := e.c.Monitor.Flattens(); n > e.flattens {
		for ; e.flattens < n; e.flattens++ {
			e.c.Metrics.Flatten()
		}
	}
	if e.c.Metrics == nil {
		return
	}

	stats, err := e.c.Risk.Stats(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("risk stats")
		return
	}
	acct, err := e.c.Account.Account(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("account")
		return
	}
	e.c.Metrics.ObserveRisk(stats, acct.Equity)
}

func (e *Engine) recordEquity(ctx context.Context, at time.Time) {
	acct, err := e.c.Account.Account(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("account")
		return
	}
	level := 0.0
	if acct.MarginUsed > 0 {
		level = acct.Equity / acct.MarginUsed * 100
	}
	if err := e.c.Journal.RecordEquity(journal.EquitySnapshot{
		Time:        at,
		Balance:     acct.Balance,
		Equity:      acct.Equity,
		MarginUsed:  acct.MarginUsed,
		FreeMargin:  acct.FreeMargin,
		MarginLevel: level,
	}); err != nil {
		e.log.Error().Err(err).Msg("journal equity failed")
	}
}

// Status is what /healthz reports.
type Status struct {
	Started   bool       `json:"started"`
	Ticks     int        `json:"ticks"`
	LastBar   time.Time  `json:"last_bar"`
	Pending   string     `json:"pending,omitempty"`
	Positions int        `json:"positions"`
	Risk      risk.Stats `json:"risk"`
}

func (e *Engine) Status(ctx context.Context) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return nil, errors.New("engine not started")
	}
	stats, err := e.c.Risk.Stats(ctx)
	if err != nil {
		return nil, err
	}
	st := Status{
		Started:   e.started,
		Ticks:     e.ticks,
		LastBar:   e.lastBar,
		Positions: e.c.Positions.Count(),
		Risk:      stats,
	}
	if ps, ok := e.c.Signals.Pending().Peek(); ok {
		st.Pending = ps.ID
	}
	return st, nil
}
