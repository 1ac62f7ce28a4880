package market

import (
	"context"
	"time"
)

// Context is the market snapshot captured once per tick. The decision
// pipeline only reads from it, so every stage of one tick sees the same data.
//
// Indicator fields are zero when the provider could not compute them;
// consumers treat zero as "not available".
type Context struct {
	Instrument string
	Time       time.Time // server time of the tick
	BarTime    time.Time // open time of the bar the tick belongs to

	Bid float64
	Ask float64

	Session    Session
	Regime     Regime
	DailyTrend Trend
	H4Trend    Trend
	MacroScore int

	ADX float64
	ATR float64

	LongMA     float64 // long-horizon trend filter, e.g. MA(200)
	FastMA     float64
	SlowMA     float64
	PrevFastMA float64
	PrevSlowMA float64
	MidBand    float64 // mean-reversion target

	SwingHigh float64
	SwingLow  float64

	// Bars holds recently closed bars, oldest first.
	Bars []Candle
}

// Provider is the market data / indicator collaborator.
type Provider interface {
	Snapshot(ctx context.Context) (Context, error)
}

func (c Context) Hour() int {
	return c.Time.Hour()
}

// Valid reports whether the snapshot carries a usable quote.
func (c Context) Valid() bool {
	return c.Bid > 0 && c.Ask > 0 && c.Ask >= c.Bid
}

// EntryPrice is the price a market order in direction d fills at.
func (c Context) EntryPrice(d Direction) float64 {
	if d == Short {
		return c.Bid
	}
	return c.Ask
}

// ExitPrice is the price a position in direction d closes at.
func (c Context) ExitPrice(d Direction) float64 {
	if d == Short {
		return c.Ask
	}
	return c.Bid
}

func (c Context) Mid() float64 {
	return (c.Bid + c.Ask) / 2
}

// LastBar returns the most recently closed bar.
func (c Context) LastBar() (Candle, bool) {
	if len(c.Bars) == 0 {
		return Candle{}, false
	}
	return c.Bars[len(c.Bars)-1], true
}
