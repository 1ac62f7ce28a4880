// Package trade is the execution boundary: it checks reward:risk and the
// daily trade allowance, sizes the final order, sends it and registers the
// resulting position.
package trade

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/bullion/broker"
	"github.com/rustyeddy/bullion/journal"
	"github.com/rustyeddy/bullion/market"
	"github.com/rustyeddy/bullion/metrics"
	"github.com/rustyeddy/bullion/notify"
	"github.com/rustyeddy/bullion/patterns"
	"github.com/rustyeddy/bullion/position"
	"github.com/rustyeddy/bullion/risk"
)

// Config risk values are percent of balance; target multipliers are in units
// of the stop distance.
type Config struct {
	MinRR float64 `yaml:"min_rr" json:"min_rr"`

	RiskAPlus float64 `yaml:"risk_a_plus" json:"risk_a_plus"`
	RiskA     float64 `yaml:"risk_a" json:"risk_a"`
	RiskBPlus float64 `yaml:"risk_b_plus" json:"risk_b_plus"`
	RiskB     float64 `yaml:"risk_b" json:"risk_b"`

	TP1Multiplier float64 `yaml:"tp1_multiplier" json:"tp1_multiplier"`
	TP2Multiplier float64 `yaml:"tp2_multiplier" json:"tp2_multiplier"`

	UseAdaptiveTP      bool `yaml:"use_adaptive_tp" json:"use_adaptive_tp"`
	UseDynamicSizing   bool `yaml:"use_dynamic_sizing" json:"use_dynamic_sizing"`
	CounterTrendFilter bool `yaml:"counter_trend_filter" json:"counter_trend_filter"`
}

func DefaultConfig() Config {
	return Config{
		MinRR:              1.5,
		RiskAPlus:          2.0,
		RiskA:              1.5,
		RiskBPlus:          1.0,
		RiskB:              0.5,
		TP1Multiplier:      1.5,
		TP2Multiplier:      3.0,
		CounterTrendFilter: true,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MinRR < 0:
		return fmt.Errorf("trade: min_rr must be >= 0")
	case c.RiskAPlus < 0 || c.RiskA < 0 || c.RiskBPlus < 0 || c.RiskB < 0:
		return fmt.Errorf("trade: quality risks must be >= 0")
	case c.TP1Multiplier <= 0 || c.TP2Multiplier <= 0:
		return fmt.Errorf("trade: tp multipliers must be > 0")
	}
	return nil
}

// AdaptiveTP picks targets for the current volatility regime and pattern.
// ok=false falls back to the fixed multipliers.
type AdaptiveTP interface {
	Targets(mc market.Context, p patterns.Pattern, d market.Direction, entry, stop float64) (tp1, tp2 float64, ok bool)
}

// DynamicSizer adjusts a base risk percentage, e.g. from recent results.
type DynamicSizer interface {
	RiskPercent(base float64, q patterns.Quality, p patterns.Pattern) float64
}

// Setup is a trade idea with the price levels computed when it was detected.
type Setup struct {
	Direction market.Direction
	Pattern   patterns.Pattern
	Label     string
	Quality   patterns.Quality
	Entry     float64
	Stop      float64
	TP1       float64
	TP2       float64
}

// Request is a fully sized order.
type Request struct {
	Direction market.Direction
	Lots      float64
	StopLoss  float64
	TP1       float64
	TP2       float64
	Quality   patterns.Quality
	Pattern   patterns.Pattern
	Label     string
	// RiskPct is derived from lots and stop when 0.
	RiskPct float64
}

type Option func(*Orchestrator)

func WithAdaptiveTP(a AdaptiveTP) Option { return func(o *Orchestrator) { o.adaptive = a } }

func WithSizer(s DynamicSizer) Option { return func(o *Orchestrator) { o.sizer = s } }

func WithJournal(j journal.Journal) Option { return func(o *Orchestrator) { o.journal = j } }

func WithNotifier(n notify.Notifier) Option { return func(o *Orchestrator) { o.notifier = n } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithStrategyID tags orders so the strategy can find its positions again.
func WithStrategyID(id string) Option { return func(o *Orchestrator) { o.strategyID = id } }

type Orchestrator struct {
	cfg       Config
	gw        broker.Gateway
	rm        *risk.Manager
	monitor   *risk.Monitor
	positions *position.Coordinator
	log       zerolog.Logger

	adaptive   AdaptiveTP
	sizer      DynamicSizer
	journal    journal.Journal
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	strategyID string
}

func NewOrchestrator(cfg Config, gw broker.Gateway, monitor *risk.Monitor, positions *position.Coordinator, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		gw:        gw,
		rm:        monitor.Manager(),
		monitor:   monitor,
		positions: positions,
		log:       log.With().Str("component", "trade").Logger(),
		journal:   journal.Nop{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Config() Config { return o.cfg }

// GetRiskForQuality is the base risk of a quality tier scaled by the
// pattern's multiplier. QualityNone gets 0.
func (o *Orchestrator) GetRiskForQuality(q patterns.Quality, p patterns.Pattern) float64 {
	var base float64
	switch q {
	case patterns.QualityAPlus:
		base = o.cfg.RiskAPlus
	case patterns.QualityA:
		base = o.cfg.RiskA
	case patterns.QualityBPlus:
		base = o.cfg.RiskBPlus
	case patterns.QualityB:
		base = o.cfg.RiskB
	default:
		return 0
	}
	return base * p.RiskMultiplier()
}

// FixedTargets places tp1 and tp2 at the configured multiples of the stop
// distance.
func (o *Orchestrator) FixedTargets(d market.Direction, entry, stop float64) (tp1, tp2 float64) {
	dist := abs(entry - stop)
	return entry + d.Sign()*dist*o.cfg.TP1Multiplier, entry + d.Sign()*dist*o.cfg.TP2Multiplier
}

// ExecuteTrade sends req at the current market price. Nothing is registered
// unless the gateway confirms the order.
func (o *Orchestrator) ExecuteTrade(ctx context.Context, mc market.Context, req Request) (broker.Ticket, error) {
	entry := mc.EntryPrice(req.Direction)
	if entry <= 0 {
		return 0, fmt.Errorf("execute trade: %w", market.ErrNoPrice)
	}
	if o.positions.InWeekendWindow(mc.Time) {
		return 0, risk.Reject(risk.ErrSessionNotAllowed, "weekend close window at %s", mc.Time.Format(time.RFC3339))
	}
	if err := checkStopSide(req.Direction, entry, req.StopLoss); err != nil {
		return 0, err
	}

	if rr := risk.BestRR(entry, req.StopLoss, req.TP1, req.TP2); rr < o.cfg.MinRR {
		return 0, risk.Reject(risk.ErrRewardRiskTooLow, "rr %.2f < %.2f (entry %.2f stop %.2f tp1 %.2f tp2 %.2f)",
			rr, o.cfg.MinRR, entry, req.StopLoss, req.TP1, req.TP2)
	}
	if err := o.monitor.CanTrade(); err != nil {
		return 0, err
	}

	riskPct := req.RiskPct
	if riskPct <= 0 {
		pct, err := o.rm.ComputeRiskPercent(ctx, req.Lots, entry, req.StopLoss)
		if err != nil {
			return 0, err
		}
		riskPct = pct
	}

	lots := req.Lots
	if o.cfg.CounterTrendFilter && counterTrend(mc, req.Direction, entry) {
		riskPct /= 2
		var err error
		lots, err = o.rm.CalculateLotSize(ctx, riskPct, entry, req.StopLoss)
		if err != nil {
			return 0, err
		}
		o.log.Info().
			Str("direction", req.Direction.String()).
			Float64("entry", entry).
			Float64("long_ma", mc.LongMA).
			Float64("risk_pct", riskPct).
			Float64("lots", lots).
			Msg("counter-trend, risk halved")
	}
	if lots <= 0 {
		return 0, risk.Reject(risk.ErrLotBelowMinimum, "lots %.2f", lots)
	}

	tp := req.TP2
	if tp == 0 {
		tp = req.TP1
	}
	ticket, err := broker.Open(ctx, o.gw, req.Direction, broker.OrderRequest{
		Instrument: o.rm.Meta().Name,
		Lots:       lots,
		StopLoss:   req.StopLoss,
		TakeProfit: tp,
		Comment:    req.Pattern.String(),
		StrategyID: o.strategyID,
	})
	if err != nil {
		o.metrics.GatewayError("open")
		return 0, fmt.Errorf("execute trade: open %s: %w", req.Direction, err)
	}

	label := req.Label
	if label == "" {
		label = req.Pattern.String()
	}
	p := position.New(position.Position{
		Ticket:    ticket,
		Direction: req.Direction,
		Pattern:   req.Pattern,
		Label:     label,
		Lots:      lots,
		Entry:     entry,
		StopLoss:  req.StopLoss,
		TP1:       req.TP1,
		TP2:       req.TP2,
		OpenTime:  mc.Time,
		Quality:   req.Quality,
	}, riskPct)
	o.positions.AddPosition(p)
	o.monitor.IncrementTradesToday()

	o.log.Info().
		Uint64("ticket", uint64(ticket)).
		Str("direction", req.Direction.String()).
		Str("pattern", label).
		Str("quality", req.Quality.String()).
		Float64("lots", lots).
		Float64("entry", entry).
		Float64("stop", req.StopLoss).
		Float64("tp1", req.TP1).
		Float64("tp2", req.TP2).
		Float64("risk_pct", riskPct).
		Msg("position opened")

	if err := o.journal.RecordEntry(journal.EntryRecord{
		TradeID:    strconv.FormatUint(uint64(ticket), 10),
		Instrument: o.rm.Meta().Name,
		Direction:  req.Direction.String(),
		Pattern:    label,
		Quality:    req.Quality.String(),
		Lots:       lots,
		EntryPrice: entry,
		StopLoss:   req.StopLoss,
		TP1:        req.TP1,
		TP2:        req.TP2,
		RiskPct:    riskPct,
		OpenTime:   mc.Time,
	}); err != nil {
		o.log.Error().Err(err).Uint64("ticket", uint64(ticket)).Msg("journal entry failed")
	}

	notify.Send(ctx, o.log, o.notifier, notify.LevelSuccess, fmt.Sprintf(
		"%s %s %.2f lots @ %.2f\nSL %.2f  TP1 %.2f  TP2 %.2f\n%s [%s] risk %.2f%%",
		o.rm.Meta().Name, req.Direction, lots, entry, req.StopLoss, req.TP1, req.TP2, label, req.Quality, riskPct))
	o.metrics.PositionOpened(req.Direction.String())
	o.metrics.Decision("executed")
	return ticket, nil
}

// ProcessConfirmedSignal executes a setup one bar after it was detected. The
// entry is re-read from the current price and targets and size are worked
// out again from it.
func (o *Orchestrator) ProcessConfirmedSignal(ctx context.Context, mc market.Context, s Setup) (broker.Ticket, error) {
	d := s.Direction
	entry := mc.EntryPrice(d)
	if entry <= 0 {
		return 0, fmt.Errorf("confirmed signal: %w", market.ErrNoPrice)
	}
	if err := checkStopSide(d, entry, s.Stop); err != nil {
		return 0, err
	}
	dist := abs(entry - s.Stop)

	var tp1, tp2 float64
	adaptive := false
	if o.cfg.UseAdaptiveTP && o.adaptive != nil {
		tp1, tp2, adaptive = o.adaptive.Targets(mc, s.Pattern, d, entry, s.Stop)
	}
	if !adaptive {
		tp1, tp2 = o.FixedTargets(d, entry, s.Stop)
	}

	if rr := risk.BestRR(entry, s.Stop, tp1, tp2); rr < o.cfg.MinRR {
		tp1 = entry + d.Sign()*dist*o.cfg.MinRR
		tp2 = entry + d.Sign()*dist*o.cfg.MinRR*1.5
		o.log.Debug().
			Float64("rr", rr).
			Float64("tp1", tp1).
			Float64("tp2", tp2).
			Msg("targets widened to minimum rr")
	}

	base := o.GetRiskForQuality(s.Quality, s.Pattern)
	if base <= 0 {
		return 0, risk.Reject(risk.ErrValidationFailed, "no risk for quality %s", s.Quality)
	}
	var riskPct float64
	if o.cfg.UseDynamicSizing && o.sizer != nil {
		riskPct = o.sizer.RiskPercent(base, s.Quality, s.Pattern)
	} else {
		riskPct = o.rm.AdjustRiskForStreak(base)
	}
	riskPct = o.rm.AdjustRiskForDirection(riskPct, d)

	lots, err := o.rm.CalculateLotSize(ctx, riskPct, entry, s.Stop)
	if err != nil {
		return 0, err
	}
	if err := o.rm.CanOpenNewPosition(ctx); err != nil {
		return 0, err
	}

	label := s.Label
	if label == "" {
		label = s.Pattern.String()
	}
	return o.ExecuteTrade(ctx, mc, Request{
		Direction: d,
		Lots:      lots,
		StopLoss:  s.Stop,
		TP1:       tp1,
		TP2:       tp2,
		Quality:   s.Quality,
		Pattern:   s.Pattern,
		Label:     label + " (Confirmed)",
		RiskPct:   riskPct,
	})
}

func checkStopSide(d market.Direction, entry, stop float64) error {
	if stop <= 0 || d.Sign()*(entry-stop) <= 0 {
		return risk.Reject(risk.ErrInvalidStopDistance, "%s entry %.2f stop %.2f", d, entry, stop)
	}
	return nil
}

// counterTrend reports whether entry is on the wrong side of the long
// moving average for d. An unknown average is never counter-trend.
func counterTrend(mc market.Context, d market.Direction, entry float64) bool {
	if mc.LongMA <= 0 {
		return false
	}
	return d.Sign()*(entry-mc.LongMA) < 0
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
