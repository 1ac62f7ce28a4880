// Package journal persists trade entries, closed trades and equity
// snapshots. Writers are fire-and-forget from the engine's side: a failed
// write is logged and never blocks a trade decision.
package journal

import "time"

// EntryRecord is written when a position is opened.
type EntryRecord struct {
	RunID      string
	TradeID    string
	Instrument string
	Direction  string
	Pattern    string
	Quality    string
	Lots       float64
	EntryPrice float64
	StopLoss   float64
	TP1        float64
	TP2        float64
	RiskPct    float64
	OpenTime   time.Time
}

// TradeRecord is written when a position is closed, whatever closed it.
type TradeRecord struct {
	RunID      string
	TradeID    string
	Instrument string
	Direction  string
	Pattern    string
	Quality    string
	Lots       float64
	EntryPrice float64
	ExitPrice  float64
	RiskPct    float64
	OpenTime   time.Time
	CloseTime  time.Time
	RealizedPL float64
	Reason     string
}

type EquitySnapshot struct {
	RunID       string
	Time        time.Time
	Balance     float64
	Equity      float64
	MarginUsed  float64
	FreeMargin  float64
	MarginLevel float64
}

type Journal interface {
	RecordEntry(EntryRecord) error
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordEntry(EntryRecord) error     { return nil }
func (Nop) RecordTrade(TradeRecord) error     { return nil }
func (Nop) RecordEquity(EquitySnapshot) error { return nil }
func (Nop) Close() error                      { return nil }
