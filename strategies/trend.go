package strategies

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/bullion/market"
	"github.com/rustyeddy/bullion/patterns"
)

// First returns the signal of the first detector that fires.
type First []patterns.Detector

func (f First) Detect(mc market.Context) (patterns.Signal, bool) {
	for _, d := range f {
		if d == nil {
			continue
		}
		if s, ok := d.Detect(mc); ok {
			return s, true
		}
	}
	return patterns.Signal{}, false
}

// ByName returns a trend-following detector set:
//
//	ma-cross  moving-average crosses only
//	candles   engulfing and pin bars only
//	all       crosses first, then candles
//	none      never fires
func ByName(name string, cfg Config) (patterns.Detector, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ma-cross", "macross":
		return First{NewMACross(cfg)}, nil
	case "candles":
		return First{NewCandles(cfg)}, nil
	case "all", "":
		return First{NewMACross(cfg), NewCandles(cfg)}, nil
	case "none", "noop":
		return First{}, nil
	default:
		return nil, fmt.Errorf("strategies: unknown trend set %q", name)
	}
}

// MACross fires on the bar where the fast MA crosses the slow MA.
type MACross struct {
	cfg Config
}

func NewMACross(cfg Config) *MACross { return &MACross{cfg: cfg} }

func (d *MACross) Detect(mc market.Context) (patterns.Signal, bool) {
	if mc.FastMA == 0 || mc.SlowMA == 0 || mc.PrevFastMA == 0 || mc.PrevSlowMA == 0 {
		return patterns.Signal{}, false
	}
	switch {
	case mc.PrevFastMA <= mc.PrevSlowMA && mc.FastMA > mc.SlowMA:
		return d.cfg.build(mc, patterns.MACrossBullish, mc.SwingLow)
	case mc.PrevFastMA >= mc.PrevSlowMA && mc.FastMA < mc.SlowMA:
		return d.cfg.build(mc, patterns.MACrossBearish, mc.SwingHigh)
	}
	return patterns.Signal{}, false
}

// Candles recognizes engulfing bars and pin bars on the last closed bars.
// Engulfing wins when both are present.
type Candles struct {
	cfg Config
}

func NewCandles(cfg Config) *Candles { return &Candles{cfg: cfg} }

func (d *Candles) Detect(mc market.Context) (patterns.Signal, bool) {
	n := len(mc.Bars)
	if n == 0 {
		return patterns.Signal{}, false
	}
	cur := mc.Bars[n-1]

	if n >= 2 {
		prev := mc.Bars[n-2]
		switch {
		case prev.Bearish() && cur.Bullish() && cur.Open <= prev.Close && cur.Close >= prev.Open:
			return d.cfg.build(mc, patterns.BullishEngulfing, min(cur.Low, prev.Low))
		case prev.Bullish() && cur.Bearish() && cur.Open >= prev.Close && cur.Close <= prev.Open:
			return d.cfg.build(mc, patterns.BearishEngulfing, max(cur.High, prev.High))
		}
	}

	rng := cur.Range()
	if rng <= 0 {
		return patterns.Signal{}, false
	}
	body := cur.Body()
	lower := min(cur.Open, cur.Close) - cur.Low
	upper := cur.High - max(cur.Open, cur.Close)

	switch {
	case d.pin(lower, upper, body, rng):
		return d.cfg.build(mc, patterns.BullishPinBar, cur.Low)
	case d.pin(upper, lower, body, rng):
		return d.cfg.build(mc, patterns.BearishPinBar, cur.High)
	}
	return patterns.Signal{}, false
}

func (d *Candles) pin(wick, other, body, rng float64) bool {
	return wick > other &&
		wick >= d.cfg.PinWickRatio*body &&
		wick >= d.cfg.PinRangeShare*rng
}

// build prices a signal for p. The stop sits StopBuffer beyond extreme when
// extreme is on the protective side of the entry, else StopATR away.
func (c Config) build(mc market.Context, p patterns.Pattern, extreme float64) (patterns.Signal, bool) {
	d := p.Direction()
	entry := mc.EntryPrice(d)
	if entry <= 0 {
		return patterns.Signal{}, false
	}

	var stop float64
	switch {
	case extreme > 0 && d.Sign()*(entry-extreme) > 0:
		stop = extreme - d.Sign()*c.StopBuffer
	case mc.ATR > 0:
		stop = entry - d.Sign()*c.StopATR*mc.ATR
	default:
		return patterns.Signal{}, false
	}
	if stop <= 0 {
		return patterns.Signal{}, false
	}

	return patterns.Signal{Pattern: p, Direction: d, Entry: entry, Stop: stop}, true
}
