// Package sim is an in-process broker: it fills market orders at the current
// quote, closes positions on stop/take, and keeps an account ledger and trade
// history. It backs replays and tests.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/bullion/broker"
	"github.com/rustyeddy/bullion/market"
)

const (
	ReasonStopLoss   = "StopLoss"
	ReasonTakeProfit = "TakeProfit"
	ReasonManual     = "ManualClose"
)

var ErrInsufficientMargin = errors.New("insufficient margin")

type Engine struct {
	mu         sync.Mutex
	acct       broker.Account
	meta       market.InstrumentMeta
	strategyID string

	tick      market.Tick
	positions map[broker.Ticket]*position
	history   map[broker.Ticket]broker.ClosedTrade
	nextID    broker.Ticket

	rejectOrders bool
}

func NewEngine(acct broker.Account, meta market.InstrumentMeta, strategyID string) *Engine {
	if acct.Equity == 0 {
		acct.Equity = acct.Balance
	}
	acct.FreeMargin = acct.Equity - acct.MarginUsed
	return &Engine{
		acct:       acct,
		meta:       meta,
		strategyID: strategyID,
		positions:  make(map[broker.Ticket]*position),
		history:    make(map[broker.Ticket]broker.ClosedTrade),
		nextID:     1000,
	}
}

// SetRejectOrders makes every following order fail, as a broker outage would.
func (e *Engine) SetRejectOrders(reject bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejectOrders = reject
}

// Tick returns the last quote.
func (e *Engine) Tick() market.Tick {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// UpdatePrice sets the quote and closes positions whose stop or target it
// crosses. Longs are marked on the bid and shorts on the ask.
func (e *Engine) UpdatePrice(t market.Tick) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t.Instrument != "" && t.Instrument != e.meta.Name {
		return fmt.Errorf("update price: unexpected instrument %q", t.Instrument)
	}
	e.tick = t

	for _, p := range e.sortedLocked() {
		mark := e.markLocked(p.Direction)
		switch {
		case p.hitStopLoss(mark):
			e.closeLocked(p, p.StopLoss, ReasonStopLoss)
		case p.hitTakeProfit(mark):
			e.closeLocked(p, p.TakeProfit, ReasonTakeProfit)
		}
	}
	e.revalueLocked()
	return nil
}

// UpdateCandle checks stops and targets against the whole bar, then moves
// the quote to the bar close.
func (e *Engine) UpdateCandle(c market.Candle, spread float64) error {
	e.mu.Lock()
	for _, p := range e.sortedLocked() {
		if exit, reason, hit := p.checkBar(c); hit {
			e.tick.Time = c.Time
			e.closeLocked(p, exit, reason)
		}
	}
	e.mu.Unlock()

	return e.UpdatePrice(market.Tick{
		Instrument: e.meta.Name,
		Time:       c.Time,
		Bid:        c.Close,
		Ask:        c.Close + spread,
	})
}

func (e *Engine) OpenLong(ctx context.Context, req broker.OrderRequest) (broker.Ticket, error) {
	return e.open(market.Long, req)
}

func (e *Engine) OpenShort(ctx context.Context, req broker.OrderRequest) (broker.Ticket, error) {
	return e.open(market.Short, req)
}

func (e *Engine) open(d market.Direction, req broker.OrderRequest) (broker.Ticket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rejectOrders {
		return 0, fmt.Errorf("open %s: %w", d, broker.ErrOrderRejected)
	}
	if e.tick.Bid <= 0 || e.tick.Ask <= 0 {
		return 0, fmt.Errorf("open %s: %w", d, market.ErrNoPrice)
	}
	if req.Lots <= 0 {
		return 0, fmt.Errorf("open %s: %w: lots %.2f", d, broker.ErrOrderRejected, req.Lots)
	}

	fill := e.tick.Ask
	if d == market.Short {
		fill = e.tick.Bid
	}
	if need := e.meta.Margin(req.Lots, fill); need > e.acct.FreeMargin {
		return 0, fmt.Errorf("open %s: %w: need %.2f free %.2f", d, ErrInsufficientMargin, need, e.acct.FreeMargin)
	}

	strategy := req.StrategyID
	if strategy == "" {
		strategy = e.strategyID
	}

	e.nextID++
	p := &position{broker.OpenPosition{
		Ticket:     e.nextID,
		Instrument: e.meta.Name,
		StrategyID: strategy,
		Direction:  d,
		Lots:       req.Lots,
		OpenPrice:  fill,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenTime:   e.tick.Time,
		Comment:    req.Comment,
	}}
	e.positions[p.Ticket] = p
	e.revalueLocked()
	return p.Ticket, nil
}

// Inject adds a position opened outside this process, e.g. before a restart.
func (e *Engine) Inject(p broker.OpenPosition) broker.Ticket {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p.Ticket == 0 {
		e.nextID++
		p.Ticket = e.nextID
	}
	if p.Instrument == "" {
		p.Instrument = e.meta.Name
	}
	if p.OpenTime.IsZero() {
		p.OpenTime = e.tick.Time
	}
	e.positions[p.Ticket] = &position{p}
	e.revalueLocked()
	return p.Ticket
}

func (e *Engine) ClosePosition(ctx context.Context, ticket broker.Ticket) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rejectOrders {
		return fmt.Errorf("close position: %w", broker.ErrOrderRejected)
	}
	p, ok := e.positions[ticket]
	if !ok {
		if _, closed := e.history[ticket]; closed {
			return fmt.Errorf("close position: %w: %d", broker.ErrPositionAlreadyClosed, ticket)
		}
		return fmt.Errorf("close position: %w: %d", broker.ErrPositionNotFound, ticket)
	}
	e.closeLocked(p, e.markLocked(p.Direction), ReasonManual)
	e.revalueLocked()
	return nil
}

// CloseAll closes every position that belongs to the engine's strategy.
func (e *Engine) CloseAll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rejectOrders {
		return fmt.Errorf("close all: %w", broker.ErrOrderRejected)
	}
	for _, p := range e.sortedLocked() {
		if e.strategyID != "" && p.StrategyID != e.strategyID {
			continue
		}
		e.closeLocked(p, e.markLocked(p.Direction), ReasonManual)
	}
	e.revalueLocked()
	return nil
}

func (e *Engine) ModifyStopLoss(ctx context.Context, ticket broker.Ticket, stop float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.positions[ticket]
	if !ok {
		return fmt.Errorf("modify stop: %w: %d", broker.ErrPositionNotFound, ticket)
	}
	p.StopLoss = stop
	return nil
}

func (e *Engine) Account(ctx context.Context) (broker.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acct, nil
}

func (e *Engine) OpenPositions(ctx context.Context) ([]broker.OpenPosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]broker.OpenPosition, 0, len(e.positions))
	for _, p := range e.sortedLocked() {
		out = append(out, p.OpenPosition)
	}
	return out, nil
}

func (e *Engine) Position(ctx context.Context, ticket broker.Ticket) (broker.OpenPosition, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.positions[ticket]
	if !ok {
		return broker.OpenPosition{}, false, nil
	}
	return p.OpenPosition, true, nil
}

func (e *Engine) History(ctx context.Context, ticket broker.Ticket) (broker.ClosedTrade, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ct, ok := e.history[ticket]
	return ct, ok, nil
}

// Trades returns the closed trades ordered by close time.
func (e *Engine) Trades() []broker.ClosedTrade {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]broker.ClosedTrade, 0, len(e.history))
	for _, ct := range e.history {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CloseTime.Equal(out[j].CloseTime) {
			return out[i].Ticket < out[j].Ticket
		}
		return out[i].CloseTime.Before(out[j].CloseTime)
	})
	return out
}

func (e *Engine) RealizedSince(ctx context.Context, since time.Time) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var sum float64
	for _, ct := range e.history {
		if !ct.CloseTime.Before(since) {
			sum += ct.Profit
		}
	}
	return sum, nil
}

func (e *Engine) MarginRequired(ctx context.Context, d market.Direction, lots, price float64) (float64, error) {
	if lots < 0 || price <= 0 {
		return 0, fmt.Errorf("margin required: bad lots %.2f or price %.2f", lots, price)
	}
	return e.meta.Margin(lots, price), nil
}

func (e *Engine) markLocked(d market.Direction) float64 {
	if d == market.Short {
		return e.tick.Ask
	}
	return e.tick.Bid
}

func (e *Engine) closeLocked(p *position, price float64, reason string) {
	profit := e.meta.Profit(p.Direction, p.Lots, p.OpenPrice, price)
	e.history[p.Ticket] = p.close(price, e.tick.Time, profit, reason)
	delete(e.positions, p.Ticket)
	e.acct.Balance += profit
}

func (e *Engine) revalueLocked() {
	equity := e.acct.Balance
	var used float64
	for _, p := range e.positions {
		mark := e.markLocked(p.Direction)
		if mark > 0 {
			p.Profit = e.meta.Profit(p.Direction, p.Lots, p.OpenPrice, mark)
			equity += p.Profit
		}
		used += e.meta.Margin(p.Lots, p.OpenPrice)
	}
	e.acct.Equity = equity
	e.acct.MarginUsed = used
	e.acct.FreeMargin = equity - used
}

// sortedLocked returns open positions in ticket order so closes are
// deterministic.
func (e *Engine) sortedLocked() []*position {
	out := make([]*position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}
