package risk

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// RR is the reward:risk ratio of a trade. The side is taken from the stop;
// a target on the stop's side of entry earns nothing. Zero when the stop
// distance is zero.
func RR(entry, stop, takeProfit float64) float64 {
	risk := abs(entry - stop)
	if risk == 0 {
		return 0
	}
	reward := (takeProfit - entry) * (entry - stop) / risk
	if reward <= 0 {
		return 0
	}
	return reward / risk
}

// BestRR is RR against the further of the two targets. A zero target is
// ignored.
func BestRR(entry, stop, tp1, tp2 float64) float64 {
	rr := 0.0
	for _, tp := range []float64{tp1, tp2} {
		if tp == 0 {
			continue
		}
		rr = math.Max(rr, RR(entry, stop, tp))
	}
	return rr
}

// NormalizeLots floors lots to a multiple of step. The input is rounded to
// 8 places first so 0.3/0.01 style float noise does not drop a whole step.
func NormalizeLots(lots, step float64) float64 {
	if lots <= 0 {
		return 0
	}
	d := decimal.NewFromFloat(lots).Round(8)
	if step <= 0 {
		return d.InexactFloat64()
	}
	s := decimal.NewFromFloat(step)
	return d.Div(s).Floor().Mul(s).InexactFloat64()
}

// startOfDay is midnight of t's calendar day in t's own location, which is
// the server time zone of the feed.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
