package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/bullion/indicators"
	"github.com/rustyeddy/bullion/market"
)

// Config sets the indicator periods, counted in bars of the feed timeframe.
type Config struct {
	Spread float64 `json:"spread" yaml:"spread"`

	ATRPeriod int `json:"atr_period" yaml:"atr_period"`
	ADXPeriod int `json:"adx_period" yaml:"adx_period"`

	FastMA int `json:"fast_ma" yaml:"fast_ma"`
	SlowMA int `json:"slow_ma" yaml:"slow_ma"`
	LongMA int `json:"long_ma" yaml:"long_ma"`

	// Higher timeframe trends are approximated with longer EMAs on the
	// feed timeframe.
	H4Fast    int `json:"h4_fast" yaml:"h4_fast"`
	H4Slow    int `json:"h4_slow" yaml:"h4_slow"`
	DailyFast int `json:"daily_fast" yaml:"daily_fast"`
	DailySlow int `json:"daily_slow" yaml:"daily_slow"`

	BandPeriod    int `json:"band_period" yaml:"band_period"`
	SwingLookback int `json:"swing_lookback" yaml:"swing_lookback"`
	KeepBars      int `json:"keep_bars" yaml:"keep_bars"`

	TrendADX float64 `json:"trend_adx" yaml:"trend_adx"`
	RangeADX float64 `json:"range_adx" yaml:"range_adx"`

	// ATR against its own slow average.
	VolPeriod    int     `json:"vol_period" yaml:"vol_period"`
	HighVolRatio float64 `json:"high_vol_ratio" yaml:"high_vol_ratio"`
	LowVolRatio  float64 `json:"low_vol_ratio" yaml:"low_vol_ratio"`
}

func DefaultConfig() Config {
	return Config{
		Spread:        0.20,
		ATRPeriod:     14,
		ADXPeriod:     14,
		FastMA:        20,
		SlowMA:        50,
		LongMA:        200,
		H4Fast:        80,
		H4Slow:        200,
		DailyFast:     240,
		DailySlow:     480,
		BandPeriod:    20,
		SwingLookback: 10,
		KeepBars:      50,
		TrendADX:      25,
		RangeADX:      20,
		VolPeriod:     50,
		HighVolRatio:  1.8,
		LowVolRatio:   0.5,
	}
}

func (c Config) Validate() error {
	var errs []error
	for name, v := range map[string]int{
		"atr_period":     c.ATRPeriod,
		"adx_period":     c.ADXPeriod,
		"fast_ma":        c.FastMA,
		"slow_ma":        c.SlowMA,
		"long_ma":        c.LongMA,
		"h4_fast":        c.H4Fast,
		"h4_slow":        c.H4Slow,
		"daily_fast":     c.DailyFast,
		"daily_slow":     c.DailySlow,
		"band_period":    c.BandPeriod,
		"swing_lookback": c.SwingLookback,
		"vol_period":     c.VolPeriod,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("feed: %s must be > 0", name))
		}
	}
	if c.FastMA >= c.SlowMA {
		errs = append(errs, errors.New("feed: fast_ma must be < slow_ma"))
	}
	if c.Spread < 0 {
		errs = append(errs, errors.New("feed: spread must be >= 0"))
	}
	if c.RangeADX > c.TrendADX {
		errs = append(errs, errors.New("feed: range_adx must be <= trend_adx"))
	}
	return errors.Join(errs...)
}

// MacroFunc supplies the external macro score for a point in time.
type MacroFunc func(t time.Time) int

// Builder turns closed candles into market.Context snapshots. It implements
// market.Provider; Snapshot returns the context of the last pushed candle.
type Builder struct {
	mu sync.RWMutex

	cfg        Config
	instrument string
	macro      MacroFunc

	atr  *indicators.ATR
	adx  *indicators.ADX
	fast *indicators.ExponentialMA
	slow *indicators.ExponentialMA
	long *indicators.SimpleMA
	band *indicators.SimpleMA

	h4Fast, h4Slow       *indicators.ExponentialMA
	dailyFast, dailySlow *indicators.ExponentialMA

	swing *indicators.Window

	atrAvg   float64
	atrCount int

	bars []market.Candle
	cur  market.Context
	have bool
}

type Option func(*Builder)

func WithMacro(f MacroFunc) Option {
	return func(b *Builder) { b.macro = f }
}

func NewBuilder(instrument string, cfg Config, opts ...Option) *Builder {
	b := &Builder{
		cfg:        cfg,
		instrument: instrument,
		atr:        indicators.NewATR(cfg.ATRPeriod),
		adx:        indicators.NewADX(cfg.ADXPeriod),
		fast:       indicators.NewEMA(cfg.FastMA),
		slow:       indicators.NewEMA(cfg.SlowMA),
		long:       indicators.NewMA(cfg.LongMA),
		band:       indicators.NewMA(cfg.BandPeriod),
		h4Fast:     indicators.NewEMA(cfg.H4Fast),
		h4Slow:     indicators.NewEMA(cfg.H4Slow),
		dailyFast:  indicators.NewEMA(cfg.DailyFast),
		dailySlow:  indicators.NewEMA(cfg.DailySlow),
		swing:      indicators.NewWindow(cfg.SwingLookback),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Push folds a closed candle into the indicators and rebuilds the snapshot.
func (b *Builder) Push(c market.Candle) market.Context {
	b.mu.Lock()
	defer b.mu.Unlock()

	prevFast, prevSlow := b.fast.Value(), b.slow.Value()

	for _, ind := range []indicators.Indicator{
		b.atr, b.adx, b.fast, b.slow, b.long, b.band,
		b.h4Fast, b.h4Slow, b.dailyFast, b.dailySlow,
	} {
		ind.Update(c)
	}
	b.swing.Update(c)
	b.updateATRAverage()

	b.bars = append(b.bars, c)
	if keep := b.cfg.KeepBars; keep > 0 && len(b.bars) > keep {
		b.bars = b.bars[len(b.bars)-keep:]
	}

	mc := market.Context{
		Instrument: b.instrument,
		Time:       c.Time,
		BarTime:    c.Time,
		Bid:        c.Close,
		Ask:        c.Close + b.cfg.Spread,
		Session:    market.SessionAt(c.Time.Hour()),
		ADX:        b.adx.Value(),
		ATR:        b.atr.Value(),
		LongMA:     b.long.Value(),
		FastMA:     b.fast.Value(),
		SlowMA:     b.slow.Value(),
		PrevFastMA: prevFast,
		PrevSlowMA: prevSlow,
		MidBand:    b.band.Value(),
		SwingHigh:  b.swing.High(),
		SwingLow:   b.swing.Low(),
		H4Trend:    trendOf(b.h4Fast.Value(), b.h4Slow.Value()),
		DailyTrend: trendOf(b.dailyFast.Value(), b.dailySlow.Value()),
		Bars:       append([]market.Candle(nil), b.bars...),
	}
	if b.macro != nil {
		mc.MacroScore = b.macro(c.Time)
	}
	mc.Regime = b.classify(mc)

	b.cur = mc
	b.have = true
	return mc
}

// Snapshot implements market.Provider.
func (b *Builder) Snapshot(ctx context.Context) (market.Context, error) {
	if err := ctx.Err(); err != nil {
		return market.Context{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.have {
		return market.Context{}, market.ErrNoPrice
	}
	return b.cur, nil
}

// Ready reports whether every indicator has warmed up.
func (b *Builder) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.atr.Ready() && b.adx.Ready() && b.slow.Ready() && b.long.Ready() &&
		b.band.Ready() && b.h4Slow.Ready() && b.dailySlow.Ready() && b.swing.Ready()
}

func (b *Builder) updateATRAverage() {
	v := b.atr.Value()
	if v == 0 {
		return
	}
	b.atrCount++
	if b.atrCount == 1 {
		b.atrAvg = v
		return
	}
	k := 2.0 / float64(b.cfg.VolPeriod+1)
	b.atrAvg += k * (v - b.atrAvg)
}

func (b *Builder) classify(mc market.Context) market.Regime {
	return Classify(mc.ADX, mc.ATR, b.atrAvg, mc.FastMA, mc.SlowMA, b.cfg)
}

// Classify maps the indicator state to a regime. Volatility extremes win
// over direction; the ADX band between RangeADX and TrendADX is choppy.
func Classify(adx, atr, atrAvg, fast, slow float64, cfg Config) market.Regime {
	if adx <= 0 || atr <= 0 || fast <= 0 || slow <= 0 {
		return market.RegimeUnknown
	}
	if atrAvg > 0 {
		ratio := atr / atrAvg
		switch {
		case cfg.HighVolRatio > 0 && ratio >= cfg.HighVolRatio:
			return market.RegimeHighVolatility
		case cfg.LowVolRatio > 0 && ratio <= cfg.LowVolRatio:
			return market.RegimeLowVolatility
		}
	}
	switch {
	case adx >= cfg.TrendADX && fast > slow:
		return market.RegimeTrendingBull
	case adx >= cfg.TrendADX && fast < slow:
		return market.RegimeTrendingBear
	case adx < cfg.RangeADX:
		return market.RegimeRanging
	default:
		return market.RegimeChoppy
	}
}

func trendOf(fast, slow float64) market.Trend {
	switch {
	case fast <= 0 || slow <= 0:
		return market.TrendUnknown
	case fast > slow:
		return market.TrendBullish
	case fast < slow:
		return market.TrendBearish
	default:
		return market.TrendNeutral
	}
}
