package strategies

import (
	"fmt"
	"math"

	"github.com/rustyeddy/bullion/market"
	"github.com/rustyeddy/bullion/patterns"
)

// Rules validates market conditions for each pattern class.
type Rules struct {
	cfg Config
}

func NewRules(cfg Config) *Rules { return &Rules{cfg: cfg} }

func (r *Rules) ValidateTrendFollowing(mc market.Context, s patterns.Signal) error {
	d := s.Direction
	switch {
	case mc.ADX > 0 && mc.ADX < r.cfg.MinTrendADX:
		return fmt.Errorf("adx %.1f below %.1f", mc.ADX, r.cfg.MinTrendADX)
	case mc.Regime == market.RegimeRanging:
		return fmt.Errorf("no trend to follow in %s regime", mc.Regime)
	case mc.Regime.Trending() && !mc.Regime.Favors(d):
		return fmt.Errorf("%s against %s regime", d, mc.Regime)
	case mc.H4Trend.Aligned(d.Opposite()):
		return fmt.Errorf("%s against h4 %s", d, mc.H4Trend)
	}
	return nil
}

func (r *Rules) ValidateMeanReversion(mc market.Context, s patterns.Signal) error {
	d := s.Direction
	switch {
	case r.cfg.MaxRangeADX > 0 && mc.ADX > r.cfg.MaxRangeADX:
		return fmt.Errorf("adx %.1f above %.1f", mc.ADX, r.cfg.MaxRangeADX)
	case mc.Regime == market.RegimeHighVolatility:
		return fmt.Errorf("no reversion in %s regime", mc.Regime)
	case mc.Regime.Trending() && !mc.Regime.Favors(d):
		return fmt.Errorf("fading %s regime", mc.Regime)
	}
	return nil
}

// Grader scores setups by how many conditions line up behind them.
type Grader struct{}

func (Grader) Score(mc market.Context, s patterns.Signal) patterns.Quality {
	d := s.Direction
	if d == market.Flat {
		return patterns.QualityNone
	}

	if s.Pattern.Class() == patterns.MeanReversion {
		n := count(
			mc.Regime == market.RegimeRanging,
			mc.ADX > 0 && mc.ADX < 20,
			mc.ATR > 0 && mc.MidBand > 0 && math.Abs(s.Entry-mc.MidBand) >= 2*mc.ATR,
			mc.MacroScore*int(d) >= 0,
		)
		switch n {
		case 4:
			return patterns.QualityA
		case 3:
			return patterns.QualityBPlus
		case 2:
			return patterns.QualityB
		}
		return patterns.QualityNone
	}

	n := count(
		mc.Regime.Favors(d),
		mc.H4Trend.Aligned(d),
		mc.DailyTrend.Aligned(d),
		mc.MacroScore*int(d) > 0,
		mc.ADX >= 25,
	)
	switch n {
	case 5:
		return patterns.QualityAPlus
	case 4:
		return patterns.QualityA
	case 3:
		return patterns.QualityBPlus
	case 2:
		return patterns.QualityB
	}
	return patterns.QualityNone
}

// Confluence gives 25 points for each of: h4 trend, daily trend, macro
// bias and the long MA agreeing with the direction.
type Confluence struct{}

func (Confluence) Confluence(mc market.Context, d market.Direction) float64 {
	ma := false
	if mc.LongMA > 0 {
		ma = d.Sign()*(mc.Bid-mc.LongMA) > 0
	}
	return 25 * float64(count(
		mc.H4Trend.Aligned(d),
		mc.DailyTrend.Aligned(d),
		mc.MacroScore*int(d) > 0,
		ma,
	))
}

// Momentum confirms when the fast MA is sloping in the trade direction.
type Momentum struct{}

func (Momentum) Confirms(mc market.Context, d market.Direction) bool {
	if mc.FastMA == 0 || mc.PrevFastMA == 0 {
		return false
	}
	return d.Sign()*(mc.FastMA-mc.PrevFastMA) > 0
}

func count(conds ...bool) int {
	n := 0
	for _, c := range conds {
		if c {
			n++
		}
	}
	return n
}
