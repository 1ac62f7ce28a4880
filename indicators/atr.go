package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/bullion/market"
)

// ATRFunc calculates the Average True Range for the given period.
// Returns an error if there aren't enough candles for the period.
func ATRFunc(candles []market.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(candles) < period+1 {
		return 0, fmt.Errorf("not enough candles: need %d, got %d", period+1, len(candles))
	}

	a := NewATR(period)
	for _, c := range candles {
		a.Update(c)
	}
	return a.Value(), nil
}

// ATR is a streaming Average True Range indicator with Wilder smoothing.
type ATR struct {
	period      int
	atr         float64
	count       int
	warmupSum   float64
	prevCandle  market.Candle
	hasPrevious bool
}

func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Name() string { return fmt.Sprintf("ATR(%d)", a.period) }

// Warmup is period+1: the first true range needs a previous candle.
func (a *ATR) Warmup() int { return a.period + 1 }

func (a *ATR) Reset() {
	a.atr = 0
	a.count = 0
	a.warmupSum = 0
	a.hasPrevious = false
}

func (a *ATR) Update(c market.Candle) {
	if !a.hasPrevious {
		a.prevCandle = c
		a.hasPrevious = true
		return
	}

	tr := trueRange(c, a.prevCandle)
	a.prevCandle = c

	if a.count < a.period {
		a.warmupSum += tr
		a.count++
		if a.count == a.period {
			a.atr = a.warmupSum / float64(a.period)
		}
		return
	}
	a.atr = (a.atr*float64(a.period-1) + tr) / float64(a.period)
}

func (a *ATR) Ready() bool { return a.period > 0 && a.count >= a.period }

func (a *ATR) Value() float64 {
	if !a.Ready() {
		return 0
	}
	return a.atr
}

func trueRange(current, previous market.Candle) float64 {
	highLow := current.High - current.Low
	highClose := math.Abs(current.High - previous.Close)
	lowClose := math.Abs(current.Low - previous.Close)
	return math.Max(highLow, math.Max(highClose, lowClose))
}
