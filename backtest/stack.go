// Package backtest replays candles through the full decision engine against
// the simulated broker.
package backtest

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/bullion/broker"
	"github.com/rustyeddy/bullion/broker/sim"
	"github.com/rustyeddy/bullion/config"
	"github.com/rustyeddy/bullion/engine"
	"github.com/rustyeddy/bullion/feed"
	"github.com/rustyeddy/bullion/journal"
	"github.com/rustyeddy/bullion/metrics"
	"github.com/rustyeddy/bullion/notify"
	"github.com/rustyeddy/bullion/position"
	"github.com/rustyeddy/bullion/risk"
	"github.com/rustyeddy/bullion/signal"
	"github.com/rustyeddy/bullion/strategies"
	"github.com/rustyeddy/bullion/trade"
)

// Deps are the optional outer services of a stack.
type Deps struct {
	Journal  journal.Journal
	Metrics  *metrics.Metrics
	Notifier notify.Notifier
	Log      zerolog.Logger
}

// Stack is one engine wired to the simulated broker and the candle
// builder. Every component is exported so callers can inspect it.
type Stack struct {
	Config *config.Config

	Sim          *sim.Engine
	Gateway      *broker.Guarded
	Builder      *feed.Builder
	Risk         *risk.Manager
	Monitor      *risk.Monitor
	Positions    *position.Coordinator
	Orchestrator *trade.Orchestrator
	Signals      *signal.Processor
	Performance  *strategies.Performance
	Engine       *engine.Engine
}

func NewStack(cfg *config.Config, d Deps) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	meta, err := cfg.Meta()
	if err != nil {
		return nil, err
	}
	if d.Journal == nil {
		d.Journal = journal.Nop{}
	}

	s := &Stack{Config: cfg}
	s.Sim = sim.NewEngine(broker.Account{
		ID:       cfg.Account.ID,
		Currency: cfg.Account.Currency,
		Balance:  cfg.Account.Balance,
	}, meta, cfg.Positions.StrategyID)
	s.Gateway = broker.NewGuarded(s.Sim, cfg.Breaker)
	s.Builder = feed.NewBuilder(cfg.Instrument, cfg.Feed)

	clock := func() time.Time { return s.Sim.Tick().Time }
	s.Risk = risk.NewManager(cfg.Risk, meta, s.Sim, d.Log, risk.WithClock(clock))

	s.Performance = strategies.NewPerformance(cfg.Strategies)
	s.Positions = position.NewCoordinator(cfg.Positions, s.Gateway, s.Sim, s.Risk, d.Log,
		position.WithManager(strategies.NewManager(cfg.Strategies, s.Gateway, d.Log)),
		position.WithRecorder(s.Performance),
		position.WithJournal(d.Journal),
		position.WithMetrics(d.Metrics),
	)
	s.Monitor = risk.NewMonitor(cfg.Monitor, s.Risk, s.Positions, d.Notifier, d.Log)

	s.Orchestrator = trade.NewOrchestrator(cfg.Trade, s.Gateway, s.Monitor, s.Positions, d.Log,
		trade.WithAdaptiveTP(strategies.DefaultRegimeTargets()),
		trade.WithSizer(s.Performance),
		trade.WithJournal(d.Journal),
		trade.WithNotifier(d.Notifier),
		trade.WithMetrics(d.Metrics),
		trade.WithStrategyID(cfg.Positions.StrategyID),
	)

	collab, err := strategies.NewCollaborators(cfg.Strategies)
	if err != nil {
		return nil, err
	}
	s.Signals = signal.NewProcessor(cfg.Signal, s.Risk, s.Orchestrator, collab, d.Log, signal.WithMetrics(d.Metrics))

	s.Engine = engine.New(cfg.Engine, engine.Components{
		Provider:     s.Builder,
		Account:      s.Sim,
		Risk:         s.Risk,
		Monitor:      s.Monitor,
		Positions:    s.Positions,
		Orchestrator: s.Orchestrator,
		Signals:      s.Signals,
		Journal:      d.Journal,
		Metrics:      d.Metrics,
	}, d.Log)
	return s, nil
}
