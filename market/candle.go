package market

import "time"

type Candle struct {
	Time time.Time

	Open  float64
	High  float64
	Low   float64
	Close float64

	Volume float64 // optional
}

func (c Candle) Bullish() bool { return c.Close > c.Open }
func (c Candle) Bearish() bool { return c.Close < c.Open }

func (c Candle) Body() float64 {
	if c.Close > c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

func (c Candle) Range() float64 {
	return c.High - c.Low
}

// Valid reports whether the OHLC values are internally consistent.
func (c Candle) Valid() bool {
	return c.High >= c.Low && c.Low > 0 &&
		c.Open >= c.Low && c.Open <= c.High &&
		c.Close >= c.Low && c.Close <= c.High
}
