// Package signal turns detected patterns into sized trade decisions. Each
// bar runs the detection pipeline once; a surviving setup is either executed
// at once or staged for confirmation on the next bar.
package signal

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/bullion/id"
	"github.com/rustyeddy/bullion/market"
	"github.com/rustyeddy/bullion/metrics"
	"github.com/rustyeddy/bullion/patterns"
	"github.com/rustyeddy/bullion/risk"
	"github.com/rustyeddy/bullion/trade"
)

// Validator checks market conditions for a pattern class.
type Validator interface {
	ValidateMeanReversion(mc market.Context, s patterns.Signal) error
	ValidateTrendFollowing(mc market.Context, s patterns.Signal) error
}

// QualityScorer grades a setup. QualityNone means do not trade.
type QualityScorer interface {
	Score(mc market.Context, s patterns.Signal) patterns.Quality
}

// ConfluenceScorer rates structural support (order blocks and the like) for
// a direction, 0-100.
type ConfluenceScorer interface {
	Confluence(mc market.Context, d market.Direction) float64
}

type MomentumChecker interface {
	Confirms(mc market.Context, d market.Direction) bool
}

// Collaborators are the detectors and scorers the pipeline calls. Nil
// detectors never fire; nil optional scorers skip their gate.
type Collaborators struct {
	TrendFollowing patterns.Detector
	MeanReversion  patterns.Detector
	Validator      Validator
	Quality        QualityScorer
	Confluence     ConfluenceScorer
	Momentum       MomentumChecker
}

type Option func(*Processor)

func WithMetrics(m *metrics.Metrics) Option { return func(p *Processor) { p.metrics = m } }

type Processor struct {
	cfg     Config
	rm      *risk.Manager
	orch    *trade.Orchestrator
	c       Collaborators
	pending Slot
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewProcessor(cfg Config, rm *risk.Manager, orch *trade.Orchestrator, c Collaborators, log zerolog.Logger, opts ...Option) *Processor {
	p := &Processor{
		cfg:  cfg,
		rm:   rm,
		orch: orch,
		c:    c,
		log:  log.With().Str("component", "signal").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) Config() Config { return p.cfg }

// Pending is the confirmation slot. The engine drains it on the next bar.
func (p *Processor) Pending() *Slot { return &p.pending }

// Process runs the detection pipeline for a new bar. A nil return means the
// bar produced no signal or the signal was executed or staged; a rejection
// is returned as a *risk.Violation.
func (p *Processor) Process(ctx context.Context, mc market.Context) error {
	err := p.process(ctx, mc)
	if risk.IsRejection(err) {
		p.log.Info().
			Str("code", string(risk.CodeOf(err))).
			Float64("adx", mc.ADX).
			Float64("atr", mc.ATR).
			Int("macro", mc.MacroScore).
			Str("regime", string(mc.Regime)).
			Msg(err.Error())
	}
	return err
}

func (p *Processor) process(ctx context.Context, mc market.Context) error {
	// 1-2
	if err := p.checkSession(mc); err != nil {
		return err
	}
	if err := p.rm.CanOpenNewPosition(ctx); err != nil {
		return err
	}

	// 3
	sig, ok := p.detect(mc)
	if !ok {
		return nil
	}
	if sig.Direction == market.Flat {
		sig.Direction = sig.Pattern.Direction()
	}
	d := sig.Direction
	entry := mc.EntryPrice(d)
	if entry <= 0 {
		return fmt.Errorf("process: %w", market.ErrNoPrice)
	}

	// 4
	if d == market.Short {
		if err := p.checkShort(mc, sig.Pattern); err != nil {
			return err
		}
	}

	// 5
	if err := p.validate(mc, sig); err != nil {
		return err
	}

	// 6
	if err := p.checkStructure(mc, sig.Pattern, d); err != nil {
		return err
	}

	// 7
	if err := p.checkConfluence(mc, d); err != nil {
		return err
	}

	// 8
	q := patterns.QualityNone
	if p.c.Quality != nil {
		q = p.c.Quality.Score(mc, sig)
	}
	if q == patterns.QualityNone {
		return risk.Reject(risk.ErrValidationFailed, "%s scored no quality tier", sig.Pattern)
	}

	// 9
	riskPct := p.orch.GetRiskForQuality(q, sig.Pattern)
	riskPct = p.rm.AdjustRiskForStreak(riskPct)
	riskPct = p.rm.AdjustRiskForDirection(riskPct, d)
	if riskPct <= 0 {
		return risk.Reject(risk.ErrValidationFailed, "no risk budget for %s %s", q, sig.Pattern)
	}

	// 10-11
	if err := p.checkSessionADX(mc); err != nil {
		return err
	}
	if err := p.checkConfidence(mc); err != nil {
		return err
	}

	// 12
	stop := sig.Stop
	if p.cfg.UseDynamicStop {
		stop = p.dynamicStop(mc, d, entry, stop)
	}

	// 13
	lots, err := p.rm.CalculateLotSize(ctx, riskPct, entry, stop)
	if err != nil {
		return err
	}

	// 14
	tp1, tp2 := p.targets(mc, sig.Pattern, d, entry, stop)

	setup := trade.Setup{
		Direction: d,
		Pattern:   sig.Pattern,
		Label:     sig.Pattern.String(),
		Quality:   q,
		Entry:     entry,
		Stop:      stop,
		TP1:       tp1,
		TP2:       tp2,
	}

	// 15
	if p.cfg.UseConfirmation {
		p.stage(mc, setup, riskPct, lots)
		return nil
	}
	_, err = p.orch.ExecuteTrade(ctx, mc, trade.Request{
		Direction: d,
		Lots:      lots,
		StopLoss:  stop,
		TP1:       tp1,
		TP2:       tp2,
		Quality:   q,
		Pattern:   sig.Pattern,
		Label:     setup.Label,
		RiskPct:   riskPct,
	})
	return err
}

// RevalidatePending re-runs the time-sensitive gates for a staged signal
// against the current bar. Any error means the signal is dropped.
func (p *Processor) RevalidatePending(ctx context.Context, mc market.Context, ps PendingSignal) error {
	err := p.revalidate(ctx, mc, ps)
	if err != nil {
		p.log.Info().
			Str("id", ps.ID).
			Str("pattern", ps.Setup.Pattern.String()).
			Str("code", string(risk.CodeOf(err))).
			Str("regime_then", string(ps.Regime)).
			Str("regime_now", string(mc.Regime)).
			Int("macro_then", ps.MacroScore).
			Int("macro_now", mc.MacroScore).
			Msg("pending signal dropped: " + err.Error())
	}
	return err
}

func (p *Processor) revalidate(ctx context.Context, mc market.Context, ps PendingSignal) error {
	s := ps.Setup
	if err := p.checkSession(mc); err != nil {
		return err
	}
	if err := p.rm.CanOpenNewPosition(ctx); err != nil {
		return err
	}
	if s.Direction == market.Short {
		if err := p.checkShort(mc, s.Pattern); err != nil {
			return err
		}
	}
	if err := p.checkStructure(mc, s.Pattern, s.Direction); err != nil {
		return err
	}
	if err := p.checkSessionADX(mc); err != nil {
		return err
	}
	if err := p.checkConfidence(mc); err != nil {
		return err
	}
	return p.checkConfluence(mc, s.Direction)
}

func (p *Processor) stage(mc market.Context, s trade.Setup, riskPct, lots float64) {
	ps := PendingSignal{
		ID:         id.At(mc.Time),
		Setup:      s,
		StagedBar:  mc.BarTime,
		StagedAt:   mc.Time,
		Regime:     mc.Regime,
		DailyTrend: mc.DailyTrend,
		H4Trend:    mc.H4Trend,
		MacroScore: mc.MacroScore,
		RiskPct:    riskPct,
		Lots:       lots,
	}
	if old, replaced := p.pending.Stage(ps); replaced {
		p.log.Warn().
			Str("replaced", old.ID).
			Str("replaced_pattern", old.Setup.Pattern.String()).
			Str("id", ps.ID).
			Msg("pending signal replaced")
		p.metrics.PendingEvent("replaced")
	}
	p.metrics.PendingEvent("staged")
	p.metrics.Decision("staged")
	p.log.Info().
		Str("id", ps.ID).
		Str("direction", s.Direction.String()).
		Str("pattern", s.Label).
		Str("quality", s.Quality.String()).
		Float64("entry", s.Entry).
		Float64("stop", s.Stop).
		Float64("tp1", s.TP1).
		Float64("tp2", s.TP2).
		Float64("risk_pct", riskPct).
		Float64("lots", lots).
		Msg("signal staged for confirmation")
}

// detect tries mean reversion first while ATR is inside the mean-reversion
// band and trend following otherwise or when it finds nothing.
func (p *Processor) detect(mc market.Context) (patterns.Signal, bool) {
	if mc.ATR > 0 && p.cfg.MeanReversionATR.Max > 0 && p.cfg.MeanReversionATR.Contains(mc.ATR) && p.c.MeanReversion != nil {
		if s, ok := p.c.MeanReversion.Detect(mc); ok {
			return s, true
		}
	}
	if p.c.TrendFollowing != nil {
		return p.c.TrendFollowing.Detect(mc)
	}
	return patterns.Signal{}, false
}

func (p *Processor) validate(mc market.Context, s patterns.Signal) error {
	if p.c.Validator == nil {
		return nil
	}
	var err error
	switch s.Class() {
	case patterns.MeanReversion:
		err = p.c.Validator.ValidateMeanReversion(mc, s)
	case patterns.TrendFollowing:
		err = p.c.Validator.ValidateTrendFollowing(mc, s)
	default:
		return risk.Reject(risk.ErrValidationFailed, "%s has no pattern class", s.Pattern)
	}
	if err != nil && !risk.IsRejection(err) {
		return risk.Reject(risk.ErrValidationFailed, "%s: %v", s.Pattern, err)
	}
	return err
}
