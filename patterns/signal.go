package patterns

import (
	"math"

	"github.com/rustyeddy/bullion/market"
)

// Signal is what a detector reports: a pattern plus the price levels it
// implies at detection time.
type Signal struct {
	Pattern   Pattern
	Direction market.Direction

	Entry float64
	Stop  float64
	TP1   float64
	TP2   float64
}

func (s Signal) Class() Class {
	return s.Pattern.Class()
}

// StopDistance is |entry - stop|.
func (s Signal) StopDistance() float64 {
	return math.Abs(s.Entry - s.Stop)
}

// Detector is a pattern recognizer queried once per bar.
type Detector interface {
	Detect(mc market.Context) (Signal, bool)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(mc market.Context) (Signal, bool)

func (f DetectorFunc) Detect(mc market.Context) (Signal, bool) { return f(mc) }
