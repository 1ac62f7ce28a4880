// Package position owns the open positions of the strategy: it loads them
// from the broker on start, manages them every tick and retires them when
// they close.
package position

import (
	"context"
	"math"
	"time"

	"github.com/rustyeddy/bullion/broker"
	"github.com/rustyeddy/bullion/market"
	"github.com/rustyeddy/bullion/patterns"
)

// Close reasons.
const (
	ReasonBroker  = "broker"
	ReasonWeekend = "weekend"
	ReasonMaxAge  = "max_age"
	ReasonRegime  = "regime"
	ReasonHalt    = "halt"
)

// Position is one open trade.
type Position struct {
	Ticket    broker.Ticket
	Direction market.Direction
	Pattern   patterns.Pattern
	Label     string
	Lots      float64
	Entry     float64
	StopLoss  float64
	TP1       float64
	TP2       float64

	// TP1Hit is set once price trades through tp1. Nothing is closed
	// there; it arms break-even and trailing for the full size.
	TP1Hit      bool
	AtBreakeven bool

	OpenTime time.Time
	Quality  patterns.Quality

	initialRiskPct float64
}

// New returns p with its initial risk fixed.
func New(p Position, initialRiskPct float64) *Position {
	p.initialRiskPct = initialRiskPct
	return &p
}

// InitialRiskPct is the share of balance at risk when the position opened.
// It never changes.
func (p *Position) InitialRiskPct() float64 { return p.initialRiskPct }

func (p *Position) RiskDistance() float64 {
	return math.Abs(p.Entry - p.StopLoss)
}

// Target is the take-profit sent to the broker: tp2 when set, else tp1.
func (p *Position) Target() float64 {
	if p.TP2 != 0 {
		return p.TP2
	}
	return p.TP1
}

// Age is how long the position has been open at t.
func (p *Position) Age(t time.Time) time.Duration {
	return t.Sub(p.OpenTime)
}

// Manager handles an open position between entry and exit: break-even
// and trailing once tp1 trades. It also decides when a change in regime or
// macro state calls for an early exit.
type Manager interface {
	Manage(ctx context.Context, mc market.Context, p *Position) error
	ShouldExitEarly(mc market.Context, p *Position) (bool, string)
}

// Result is the outcome of a closed position.
type Result struct {
	Ticket    broker.Ticket
	Pattern   patterns.Pattern
	Quality   patterns.Quality
	Direction market.Direction
	Profit    float64
	RiskPct   float64
	Reason    string
}

// ResultRecorder receives closed-trade results, e.g. for adaptive sizing.
type ResultRecorder interface {
	RecordResult(Result)
}
