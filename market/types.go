package market

import "strings"

// Direction is the side of a signal or position.
type Direction int8

const (
	Flat  Direction = 0
	Long  Direction = +1
	Short Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "flat"
	}
}

// Sign returns +1 for long, -1 for short and 0 for flat.
func (d Direction) Sign() float64 {
	return float64(d)
}

// Opposite returns the other side. Flat stays flat.
func (d Direction) Opposite() Direction {
	return -d
}

// Trend is the directional state of one timeframe.
type Trend int8

const (
	TrendUnknown Trend = iota
	TrendBullish
	TrendBearish
	TrendNeutral
)

func (t Trend) String() string {
	switch t {
	case TrendBullish:
		return "bullish"
	case TrendBearish:
		return "bearish"
	case TrendNeutral:
		return "neutral"
	default:
		return "unknown"
	}
}

// Aligned reports whether the trend agrees with the given direction.
func (t Trend) Aligned(d Direction) bool {
	return (t == TrendBullish && d == Long) || (t == TrendBearish && d == Short)
}

// Regime is the classified volatility/directional state of the market.
type Regime string

const (
	RegimeUnknown        Regime = "unknown"
	RegimeTrendingBull   Regime = "trending_bull"
	RegimeTrendingBear   Regime = "trending_bear"
	RegimeRanging        Regime = "ranging"
	RegimeChoppy         Regime = "choppy"
	RegimeHighVolatility Regime = "high_volatility"
	RegimeLowVolatility  Regime = "low_volatility"
)

// Trending reports whether the regime is one of the directional regimes.
func (r Regime) Trending() bool {
	return r == RegimeTrendingBull || r == RegimeTrendingBear
}

// Favors reports whether a trending regime points the same way as d.
func (r Regime) Favors(d Direction) bool {
	return (r == RegimeTrendingBull && d == Long) || (r == RegimeTrendingBear && d == Short)
}

// Session is the trading session a server hour falls into.
type Session string

const (
	SessionAsian   Session = "asian"
	SessionLondon  Session = "london"
	SessionOverlap Session = "overlap"
	SessionNewYork Session = "newyork"
	SessionOff     Session = "off"
)

// SessionAt classifies a server-time hour (0-23).
//
//	00-07 asian, 07-12 london, 12-16 london/new york overlap,
//	16-21 new york, 21-24 off hours
func SessionAt(hour int) Session {
	switch {
	case hour < 0 || hour > 23:
		return SessionOff
	case hour < 7:
		return SessionAsian
	case hour < 12:
		return SessionLondon
	case hour < 16:
		return SessionOverlap
	case hour < 21:
		return SessionNewYork
	default:
		return SessionOff
	}
}

// LondonOrNewYork reports whether the session has London or New York liquidity.
func (s Session) LondonOrNewYork() bool {
	return s == SessionLondon || s == SessionOverlap || s == SessionNewYork
}

// ParseSession accepts the canonical names case-insensitively.
func ParseSession(s string) (Session, bool) {
	switch Session(strings.ToLower(strings.TrimSpace(s))) {
	case SessionAsian:
		return SessionAsian, true
	case SessionLondon:
		return SessionLondon, true
	case SessionOverlap:
		return SessionOverlap, true
	case SessionNewYork:
		return SessionNewYork, true
	case SessionOff:
		return SessionOff, true
	}
	return "", false
}
