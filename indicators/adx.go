package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/bullion/market"
)

// ADX implements Wilder's Average Directional Index (trend strength).
//
//	adx := indicators.NewADX(14)
//	adx.Update(candle)
//	if adx.Ready() && adx.Value() >= 20 { ... }
type ADX struct {
	period int

	prev     market.Candle
	havePrev bool

	// Wilder-smoothed TR, +DM and -DM
	tr  float64
	pdm float64
	mdm float64

	adx   float64
	dxSum float64

	// candles seen, including the first seed
	count int
	ready bool
}

func NewADX(period int) *ADX {
	return &ADX{period: period}
}

func (a *ADX) Name() string { return fmt.Sprintf("ADX(%d)", a.period) }

// Warmup is Period candles to seed the smoothed ranges plus Period DX values
// to seed the ADX, after the first seed candle.
func (a *ADX) Warmup() int { return 2*a.period + 1 }

func (a *ADX) Reset() { *a = ADX{period: a.period} }

func (a *ADX) Ready() bool { return a.ready }

func (a *ADX) Value() float64 {
	if !a.ready {
		return 0
	}
	return a.adx
}

// PlusDI and MinusDI are the directional indicators behind the last update.
func (a *ADX) PlusDI() float64 {
	if a.tr == 0 {
		return 0
	}
	return 100 * a.pdm / a.tr
}

func (a *ADX) MinusDI() float64 {
	if a.tr == 0 {
		return 0
	}
	return 100 * a.mdm / a.tr
}

func (a *ADX) Update(c market.Candle) {
	if a.period <= 0 {
		return
	}
	if !a.havePrev {
		a.prev = c
		a.havePrev = true
		a.count = 1
		return
	}

	upMove := c.High - a.prev.High
	downMove := a.prev.Low - c.Low

	var pdm, mdm float64
	if upMove > downMove && upMove > 0 {
		pdm = upMove
	}
	if downMove > upMove && downMove > 0 {
		mdm = downMove
	}
	tr := trueRange(c, a.prev)

	a.prev = c
	a.count++

	p := float64(a.period)
	if a.count <= a.period+1 {
		a.tr += tr
		a.pdm += pdm
		a.mdm += mdm
		if a.count == a.period+1 {
			a.tr /= p
			a.pdm /= p
			a.mdm /= p
		}
		return
	}

	a.tr = (a.tr*(p-1) + tr) / p
	a.pdm = (a.pdm*(p-1) + pdm) / p
	a.mdm = (a.mdm*(p-1) + mdm) / p

	pdi, mdi := a.PlusDI(), a.MinusDI()
	dx := 0.0
	if den := pdi + mdi; den > 0 {
		dx = 100 * math.Abs(pdi-mdi) / den
	}

	if !a.ready {
		a.dxSum += dx
		if a.count == 2*a.period+1 {
			a.adx = a.dxSum / p
			a.ready = true
		}
		return
	}
	a.adx = (a.adx*(p-1) + dx) / p
}
