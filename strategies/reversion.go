package strategies

import (
	"github.com/rustyeddy/bullion/market"
	"github.com/rustyeddy/bullion/patterns"
)

// NewMeanReversion tries band reversion before the range box.
func NewMeanReversion(cfg Config) patterns.Detector {
	return First{NewBandReversion(cfg), NewRangeBox(cfg)}
}

// BandReversion fades a stretch of BandATR or more away from the mid band,
// once the last bar turns back toward it.
type BandReversion struct {
	cfg Config
}

func NewBandReversion(cfg Config) *BandReversion { return &BandReversion{cfg: cfg} }

func (d *BandReversion) Detect(mc market.Context) (patterns.Signal, bool) {
	last, ok := mc.LastBar()
	if !ok || mc.MidBand <= 0 || mc.ATR <= 0 || d.cfg.BandATR <= 0 {
		return patterns.Signal{}, false
	}
	stretch := d.cfg.BandATR * mc.ATR

	switch {
	case mc.Bid <= mc.MidBand-stretch && last.Bullish():
		return d.cfg.build(mc, patterns.BandReversionLong, last.Low)
	case mc.Bid >= mc.MidBand+stretch && last.Bearish():
		return d.cfg.build(mc, patterns.BandReversionShort, last.High)
	}
	return patterns.Signal{}, false
}

// RangeBox trades the edges of a tight swing range.
type RangeBox struct {
	cfg Config
}

func NewRangeBox(cfg Config) *RangeBox { return &RangeBox{cfg: cfg} }

func (d *RangeBox) Detect(mc market.Context) (patterns.Signal, bool) {
	hi, lo := mc.SwingHigh, mc.SwingLow
	if hi <= 0 || lo <= 0 || mc.ATR <= 0 {
		return patterns.Signal{}, false
	}
	height := hi - lo
	if height <= 0 || height > d.cfg.RangeMaxATR*mc.ATR {
		return patterns.Signal{}, false
	}
	edge := height * d.cfg.RangeEdge

	switch {
	case mc.Bid <= lo+edge:
		return d.cfg.build(mc, patterns.RangeBoxLong, lo)
	case mc.Bid >= hi-edge:
		return d.cfg.build(mc, patterns.RangeBoxShort, hi)
	}
	return patterns.Signal{}, false
}
