package signal

import (
	"math"

	"github.com/rustyeddy/bullion/market"
	"github.com/rustyeddy/bullion/patterns"
	"github.com/rustyeddy/bullion/risk"
)

func session(mc market.Context) market.Session {
	if mc.Session != "" {
		return mc.Session
	}
	return market.SessionAt(mc.Hour())
}

func (p *Processor) checkSession(mc market.Context) error {
	s := session(mc)
	if !p.cfg.sessionAllowed(s) {
		return risk.Reject(risk.ErrSessionNotAllowed, "session %s at hour %d", s, mc.Hour())
	}
	if p.cfg.skipped(mc.Hour()) {
		return risk.Reject(risk.ErrSessionNotAllowed, "hour %d in skip window %d-%d", mc.Hour(), p.cfg.SkipHourStart, p.cfg.SkipHourEnd)
	}
	return nil
}

// checkShort holds shorts to a stricter standard than longs.
func (p *Processor) checkShort(mc market.Context, pat patterns.Pattern) error {
	if s := session(mc); !s.LondonOrNewYork() {
		return risk.Reject(risk.ErrSessionNotAllowed, "short outside london/new york (%s)", s)
	}

	if pat.Class() == patterns.MeanReversion {
		if !p.belowLongMA(mc) && !p.shortMRException(mc) {
			return risk.Reject(risk.ErrValidationFailed, "mean-reversion short above long ma %.2f (bid %.2f macro %d adx %.1f)",
				mc.LongMA, mc.Bid, mc.MacroScore, mc.ADX)
		}
		if mc.MacroScore > p.cfg.ShortMRMaxMacro {
			return risk.Reject(risk.ErrValidationFailed, "mean-reversion short macro %d > %d", mc.MacroScore, p.cfg.ShortMRMaxMacro)
		}
		if p.cfg.ShortMRMaxADX > 0 && mc.ADX > p.cfg.ShortMRMaxADX {
			return risk.Reject(risk.ErrValidationFailed, "mean-reversion short adx %.1f > %.1f", mc.ADX, p.cfg.ShortMRMaxADX)
		}
		return nil
	}

	if mc.H4Trend != market.TrendBearish {
		return risk.Reject(risk.ErrValidationFailed, "trend short needs bearish h4 (h4 %s)", mc.H4Trend)
	}
	if mc.DailyTrend != market.TrendBearish && mc.MacroScore > p.cfg.ShortTFMaxMacro {
		return risk.Reject(risk.ErrValidationFailed, "trend short needs bearish daily or macro <= %d (daily %s macro %d)",
			p.cfg.ShortTFMaxMacro, mc.DailyTrend, mc.MacroScore)
	}
	if !p.cfg.ShortTFADX.Contains(mc.ADX) {
		return risk.Reject(risk.ErrValidationFailed, "trend short adx %.1f outside %.1f-%.1f", mc.ADX, p.cfg.ShortTFADX.Min, p.cfg.ShortTFADX.Max)
	}
	if mc.Regime == market.RegimeChoppy || mc.Regime == market.RegimeUnknown || mc.Regime == "" {
		return risk.Reject(risk.ErrValidationFailed, "trend short in %s regime", mc.Regime)
	}
	return nil
}

// belowLongMA is false when the average is unknown.
func (p *Processor) belowLongMA(mc market.Context) bool {
	return mc.LongMA > 0 && mc.Bid < mc.LongMA
}

func (p *Processor) shortMRException(mc market.Context) bool {
	return mc.MacroScore <= p.cfg.ShortMRExceptionMacro && mc.ADX > 0 && mc.ADX <= p.cfg.ShortMRExceptionADX
}

func (p *Processor) checkStructure(mc market.Context, pat patterns.Pattern, d market.Direction) error {
	if pat.IsRangeBox() && mc.Regime != market.RegimeRanging {
		return risk.Reject(risk.ErrValidationFailed, "%s outside ranging regime (%s)", pat, mc.Regime)
	}
	if d == market.Short && pat.Class() == patterns.MeanReversion && !p.belowLongMA(mc) && !p.shortMRException(mc) {
		return risk.Reject(risk.ErrValidationFailed, "mean-reversion short above long ma needs macro <= %d and adx <= %.1f (macro %d adx %.1f)",
			p.cfg.ShortMRExceptionMacro, p.cfg.ShortMRExceptionADX, mc.MacroScore, mc.ADX)
	}
	return nil
}

func (p *Processor) checkConfluence(mc market.Context, d market.Direction) error {
	if p.cfg.UseConfluence && p.c.Confluence != nil {
		if score := p.c.Confluence.Confluence(mc, d); score < p.cfg.MinConfluence {
			return risk.Reject(risk.ErrConfluenceRejected, "%s confluence %.1f < %.1f", d, score, p.cfg.MinConfluence)
		}
	}
	if p.cfg.UseMomentum && p.c.Momentum != nil && !p.c.Momentum.Confirms(mc, d) {
		return risk.Reject(risk.ErrConfluenceRejected, "%s momentum not confirmed", d)
	}
	return nil
}

func (p *Processor) checkSessionADX(mc market.Context) error {
	s := session(mc)
	band, ok := p.cfg.SessionADX[s]
	if !ok {
		return nil
	}
	if !band.Contains(mc.ADX) {
		return risk.Reject(risk.ErrValidationFailed, "%s adx %.1f outside %.1f-%.1f", s, mc.ADX, band.Min, band.Max)
	}
	return nil
}

// Confidence is the composite pattern score: the base plus a bonus for ADX
// and one for ATR each inside its band.
func (p *Processor) Confidence(mc market.Context) float64 {
	score := p.cfg.ConfidenceBase
	if mc.ADX > 0 && p.cfg.ConfidenceADX.Contains(mc.ADX) {
		score += p.cfg.ADXBonus
	}
	if mc.ATR > 0 && p.cfg.ConfidenceATR.Contains(mc.ATR) {
		score += p.cfg.ATRBonus
	}
	return score
}

func (p *Processor) checkConfidence(mc market.Context) error {
	if !p.cfg.UseConfidence {
		return nil
	}
	if c := p.Confidence(mc); c < p.cfg.MinConfidence {
		return risk.Reject(risk.ErrConfidenceTooLow, "confidence %.1f < %.1f (adx %.1f atr %.2f)", c, p.cfg.MinConfidence, mc.ADX, mc.ATR)
	}
	return nil
}

// dynamicStop widens the stop to at least StopATRMult ATRs and beyond the
// nearest swing point, capped at MaxStopATRMult ATRs. It never tightens the
// pattern's own stop. Without an ATR the stop is left alone.
func (p *Processor) dynamicStop(mc market.Context, d market.Direction, entry, stop float64) float64 {
	if mc.ATR <= 0 {
		return stop
	}
	native := 0.0
	if d.Sign()*(entry-stop) > 0 {
		native = math.Abs(entry - stop)
	}
	dist := math.Max(native, mc.ATR*p.cfg.StopATRMult)

	swing := mc.SwingLow
	if d == market.Short {
		swing = mc.SwingHigh
	}
	if swing > 0 && d.Sign()*(entry-swing) > 0 {
		dist = math.Max(dist, math.Abs(entry-swing)+p.cfg.SwingBuffer)
	}

	limit := mc.ATR * p.cfg.MaxStopATRMult
	if dist > limit {
		dist = math.Max(limit, native)
	}
	return entry - d.Sign()*dist
}

// targets sends mean reversion to the mid band and trend following out by
// fixed stop multiples. A mid band on the wrong side of entry falls back to
// the fixed targets.
func (p *Processor) targets(mc market.Context, pat patterns.Pattern, d market.Direction, entry, stop float64) (tp1, tp2 float64) {
	if pat.Class() == patterns.MeanReversion && mc.MidBand > 0 && d.Sign()*(mc.MidBand-entry) > 0 {
		tp1 = mc.MidBand
		tp2 = tp1 + d.Sign()*math.Abs(tp1-entry)*p.cfg.MRTP2Extension
		return tp1, tp2
	}
	return p.orch.FixedTargets(d, entry, stop)
}
