package indicators

import (
	"fmt"

	"github.com/rustyeddy/bullion/market"
)

// SimpleMA is a streaming Simple Moving Average indicator
type SimpleMA struct {
	period int
	closes []float64
	sum    float64
}

func NewMA(period int) *SimpleMA {
	return &SimpleMA{
		period: period,
		closes: make([]float64, 0, period+1),
	}
}

func (m *SimpleMA) Name() string { return fmt.Sprintf("MA(%d)", m.period) }

func (m *SimpleMA) Warmup() int { return m.period }

func (m *SimpleMA) Reset() {
	m.closes = m.closes[:0]
	m.sum = 0
}

func (m *SimpleMA) Update(c market.Candle) {
	m.closes = append(m.closes, c.Close)
	m.sum += c.Close
	if len(m.closes) > m.period {
		m.sum -= m.closes[0]
		m.closes = m.closes[1:]
	}
}

func (m *SimpleMA) Ready() bool { return m.period > 0 && len(m.closes) >= m.period }

func (m *SimpleMA) Value() float64 {
	if !m.Ready() {
		return 0
	}
	return m.sum / float64(len(m.closes))
}

// ExponentialMA is a streaming Exponential Moving Average indicator
type ExponentialMA struct {
	period     int
	multiplier float64
	ema        float64
	count      int
	warmupSum  float64
}

func NewEMA(period int) *ExponentialMA {
	return &ExponentialMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *ExponentialMA) Name() string { return fmt.Sprintf("EMA(%d)", e.period) }

func (e *ExponentialMA) Warmup() int { return e.period }

func (e *ExponentialMA) Reset() {
	e.ema = 0
	e.count = 0
	e.warmupSum = 0
}

func (e *ExponentialMA) Update(c market.Candle) {
	if e.count < e.period {
		// seed with the SMA of the first period closes
		e.warmupSum += c.Close
		e.count++
		if e.count == e.period {
			e.ema = e.warmupSum / float64(e.period)
		}
		return
	}
	e.ema = (c.Close-e.ema)*e.multiplier + e.ema
}

func (e *ExponentialMA) Ready() bool { return e.period > 0 && e.count >= e.period }

func (e *ExponentialMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.ema
}

// Window tracks the highest high and lowest low of the last period candles.
type Window struct {
	period int
	bars   []market.Candle
}

func NewWindow(period int) *Window {
	return &Window{period: period, bars: make([]market.Candle, 0, period+1)}
}

func (w *Window) Update(c market.Candle) {
	w.bars = append(w.bars, c)
	if len(w.bars) > w.period {
		w.bars = w.bars[1:]
	}
}

func (w *Window) Reset() { w.bars = w.bars[:0] }

func (w *Window) Ready() bool { return w.period > 0 && len(w.bars) >= w.period }

// High and Low are 0 until Ready.
func (w *Window) High() float64 {
	if !w.Ready() {
		return 0
	}
	h := w.bars[0].High
	for _, b := range w.bars[1:] {
		h = max(h, b.High)
	}
	return h
}

func (w *Window) Low() float64 {
	if !w.Ready() {
		return 0
	}
	l := w.bars[0].Low
	for _, b := range w.bars[1:] {
		l = min(l, b.Low)
	}
	return l
}
