// Package indicators provides streaming technical indicators over closed
// candles. They back the replay market-data provider; the decision core only
// sees their values through market.Context.
package indicators

import "github.com/rustyeddy/bullion/market"

// Indicator computes a single streaming value from candles.
// It is deterministic and safe to use in live, replay, and backtests.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)" or "ATR(14)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	Reset()

	// Update consumes the next *closed* candle.
	Update(c market.Candle)

	Ready() bool

	// Value is 0 until Ready.
	Value() float64
}
