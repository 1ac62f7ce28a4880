package strategies

import (
	"math"
	"sync"

	"github.com/rustyeddy/bullion/market"
	"github.com/rustyeddy/bullion/patterns"
	"github.com/rustyeddy/bullion/position"
)

// Multiples are target distances in units of the stop distance.
type Multiples struct {
	TP1 float64 `yaml:"tp1" json:"tp1"`
	TP2 float64 `yaml:"tp2" json:"tp2"`
}

// RegimeTargets picks target multiples by volatility regime. Trending
// regimes apply only when they favor the trade; mean-reversion patterns
// always use the ranging entry.
type RegimeTargets map[market.Regime]Multiples

func DefaultRegimeTargets() RegimeTargets {
	return RegimeTargets{
		market.RegimeTrendingBull:   {2.0, 4.0},
		market.RegimeTrendingBear:   {2.0, 4.0},
		market.RegimeRanging:        {1.5, 2.5},
		market.RegimeHighVolatility: {1.5, 3.0},
		market.RegimeLowVolatility:  {1.5, 2.0},
	}
}

func (rt RegimeTargets) Targets(mc market.Context, p patterns.Pattern, d market.Direction, entry, stop float64) (float64, float64, bool) {
	risk := math.Abs(entry - stop)
	if risk == 0 || d == market.Flat {
		return 0, 0, false
	}

	regime := mc.Regime
	switch {
	case p.Class() == patterns.MeanReversion:
		regime = market.RegimeRanging
	case regime.Trending() && !regime.Favors(d):
		return 0, 0, false
	}
	m, ok := rt[regime]
	if !ok || m.TP1 <= 0 || m.TP2 <= 0 {
		return 0, 0, false
	}
	return entry + d.Sign()*risk*m.TP1, entry + d.Sign()*risk*m.TP2, true
}

// Performance scales risk by the recent win rate. It records closed
// results from the position coordinator and sizes new trades for the
// orchestrator. A 50% win rate leaves risk unchanged.
type Performance struct {
	mu      sync.Mutex
	window  int
	minF    float64
	maxF    float64
	results []bool
}

func NewPerformance(cfg Config) *Performance {
	return &Performance{window: cfg.SizingWindow, minF: cfg.MinSizing, maxF: cfg.MaxSizing}
}

// RecordResult ignores flat results.
func (pf *Performance) RecordResult(r position.Result) {
	if r.Profit == 0 || pf.window <= 0 {
		return
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()
	pf.results = append(pf.results, r.Profit > 0)
	if len(pf.results) > pf.window {
		pf.results = pf.results[len(pf.results)-pf.window:]
	}
}

// Factor is the current risk multiplier. Until half the window is filled
// it is 1.
func (pf *Performance) Factor() float64 {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	n := len(pf.results)
	if n == 0 || n*2 < pf.window {
		return 1
	}
	wins := 0
	for _, w := range pf.results {
		if w {
			wins++
		}
	}
	f := 0.5 + float64(wins)/float64(n)
	if pf.minF > 0 {
		f = max(f, pf.minF)
	}
	if pf.maxF > 0 {
		f = min(f, pf.maxF)
	}
	return f
}

func (pf *Performance) RiskPercent(base float64, _ patterns.Quality, _ patterns.Pattern) float64 {
	return base * pf.Factor()
}
