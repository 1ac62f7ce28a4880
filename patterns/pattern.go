// Package patterns names the setups the detectors report. Pattern identity is
// a closed enum decided once at detection time; everything that depends on it
// (class, side, risk multiplier) is data on the enum rather than string
// matching on a display name.
package patterns

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/bullion/market"
)

// Class groups patterns by the validation path they take.
type Class int8

const (
	ClassUnknown Class = iota
	TrendFollowing
	MeanReversion
)

func (c Class) String() string {
	switch c {
	case TrendFollowing:
		return "trend-following"
	case MeanReversion:
		return "mean-reversion"
	default:
		return "unknown"
	}
}

type Pattern int8

const (
	None Pattern = iota
	MACrossBullish
	MACrossBearish
	BullishEngulfing
	BearishEngulfing
	BullishPinBar
	BearishPinBar
	BandReversionLong
	BandReversionShort
	RangeBoxLong
	RangeBoxShort
)

type info struct {
	name       string
	class      Class
	side       market.Direction
	multiplier float64
}

// Moving-average crosses carry the largest risk bonus, engulfing and pin bars
// a smaller one. The bearish cross gets the same bonus as the bullish one.
var table = map[Pattern]info{
	None:               {"none", ClassUnknown, market.Flat, 1.0},
	MACrossBullish:     {"ma-cross-bullish", TrendFollowing, market.Long, 1.15},
	MACrossBearish:     {"ma-cross-bearish", TrendFollowing, market.Short, 1.15},
	BullishEngulfing:   {"bullish-engulfing", TrendFollowing, market.Long, 1.05},
	BearishEngulfing:   {"bearish-engulfing", TrendFollowing, market.Short, 1.05},
	BullishPinBar:      {"bullish-pin-bar", TrendFollowing, market.Long, 1.05},
	BearishPinBar:      {"bearish-pin-bar", TrendFollowing, market.Short, 1.05},
	BandReversionLong:  {"band-reversion-long", MeanReversion, market.Long, 1.0},
	BandReversionShort: {"band-reversion-short", MeanReversion, market.Short, 1.0},
	RangeBoxLong:       {"range-box-long", MeanReversion, market.Long, 1.0},
	RangeBoxShort:      {"range-box-short", MeanReversion, market.Short, 1.0},
}

func (p Pattern) String() string {
	if i, ok := table[p]; ok {
		return i.name
	}
	return fmt.Sprintf("pattern(%d)", int8(p))
}

func (p Pattern) Class() Class {
	return table[p].class
}

// Direction is the side the pattern trades.
func (p Pattern) Direction() market.Direction {
	return table[p].side
}

// RiskMultiplier scales the base risk of a setup. Unknown patterns get 1.
func (p Pattern) RiskMultiplier() float64 {
	if i, ok := table[p]; ok && i.multiplier > 0 {
		return i.multiplier
	}
	return 1.0
}

func (p Pattern) IsRangeBox() bool {
	return p == RangeBoxLong || p == RangeBoxShort
}

// Parse maps a display name back to its pattern.
func Parse(name string) (Pattern, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for p, i := range table {
		if i.name == n {
			return p, nil
		}
	}
	return None, fmt.Errorf("unknown pattern %q", name)
}
