package signal

import (
	"time"

	"github.com/rustyeddy/bullion/market"
	"github.com/rustyeddy/bullion/trade"
)

// PendingSignal is a setup waiting one bar for confirmation. It keeps the
// market state it was detected in so the confirmation log can show what
// changed.
type PendingSignal struct {
	ID    string
	Setup trade.Setup

	// StagedBar is the open time of the bar the signal was detected on.
	StagedBar time.Time
	StagedAt  time.Time

	Regime     market.Regime
	DailyTrend market.Trend
	H4Trend    market.Trend
	MacroScore int

	RiskPct float64
	Lots    float64
}

// ConfirmableOn reports whether the signal may still be executed on the bar
// opening at bar. Only the bar directly after the staging bar qualifies; a
// zero interval accepts any later bar.
func (p PendingSignal) ConfirmableOn(bar time.Time, interval time.Duration) bool {
	if p.StagedBar.IsZero() || !bar.After(p.StagedBar) {
		return false
	}
	return interval <= 0 || bar.Sub(p.StagedBar) <= interval
}

// Slot holds at most one pending signal. Staging over an unconsumed signal
// replaces it: the most recent detection wins.
type Slot struct {
	p  PendingSignal
	ok bool
}

// Stage stores p and returns the signal it replaced, if any.
func (s *Slot) Stage(p PendingSignal) (replaced PendingSignal, hadPending bool) {
	replaced, hadPending = s.p, s.ok
	s.p, s.ok = p, true
	return replaced, hadPending
}

// Take removes and returns the pending signal.
func (s *Slot) Take() (PendingSignal, bool) {
	p, ok := s.p, s.ok
	s.Clear()
	return p, ok
}

func (s *Slot) Peek() (PendingSignal, bool) {
	return s.p, s.ok
}

func (s *Slot) Clear() {
	s.p, s.ok = PendingSignal{}, false
}

func (s *Slot) Has() bool { return s.ok }
