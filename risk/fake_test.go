package risk

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/bullion/broker"
	"github.com/rustyeddy/bullion/market"
)

type fakeAccount struct {
	acct     broker.Account
	realized float64
	history  map[broker.Ticket]broker.ClosedTrade
	open     map[broker.Ticket]broker.OpenPosition
	meta     market.InstrumentMeta
	err      error
}

func newFakeAccount(balance float64) *fakeAccount {
	return &fakeAccount{
		acct:    broker.Account{Balance: balance, Equity: balance, FreeMargin: balance},
		history: make(map[broker.Ticket]broker.ClosedTrade),
		open:    make(map[broker.Ticket]broker.OpenPosition),
		meta:    market.Instruments["XAU_USD"],
	}
}

func (f *fakeAccount) Account(context.Context) (broker.Account, error) { return f.acct, f.err }

func (f *fakeAccount) OpenPositions(context.Context) ([]broker.OpenPosition, error) {
	var out []broker.OpenPosition
	for _, p := range f.open {
		out = append(out, p)
	}
	return out, f.err
}

func (f *fakeAccount) Position(_ context.Context, t broker.Ticket) (broker.OpenPosition, bool, error) {
	p, ok := f.open[t]
	return p, ok, f.err
}

func (f *fakeAccount) History(_ context.Context, t broker.Ticket) (broker.ClosedTrade, bool, error) {
	ct, ok := f.history[t]
	return ct, ok, f.err
}

func (f *fakeAccount) RealizedSince(context.Context, time.Time) (float64, error) {
	return f.realized, f.err
}

func (f *fakeAccount) MarginRequired(_ context.Context, _ market.Direction, lots, price float64) (float64, error) {
	return f.meta.Margin(lots, price), f.err
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

var day1 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func newTestManager(cfg Config, acct *fakeAccount, c *clock) *Manager {
	return NewManager(cfg, acct.meta, acct, zerolog.Nop(), WithClock(c.Now))
}
