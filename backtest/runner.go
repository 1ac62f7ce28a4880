package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/bullion/market"
)

// CandleFeed yields closed candles one at a time. Implementations should be
// deterministic and return (ok=false, err=nil) at EOF.
type CandleFeed interface {
	Next() (c market.Candle, ok bool, err error)
	Close() error
}

// RunnerOptions controls how the backtest runner behaves.
type RunnerOptions struct {
	// CloseEnd flattens every open position after the last candle.
	CloseEnd bool
}

// Runner drives a Stack forward using a feed.
type Runner struct {
	Stack   *Stack
	Feed    CandleFeed
	Options RunnerOptions
	Log     zerolog.Logger
}

// Run executes the backtest loop:
//  1. read the next candle
//  2. sim.UpdateCandle fills stops and targets inside the bar
//  3. the builder folds the candle into the market snapshot
//  4. engine.OnTick runs one decision pass
//
// Tick errors are logged and counted; feed and startup errors abort the run.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.Stack == nil {
		return Result{}, errors.New("backtest: Stack is required")
	}
	if r.Feed == nil {
		return Result{}, errors.New("backtest: Feed is required")
	}
	defer r.Feed.Close()

	s := r.Stack
	acct, err := s.Sim.Account(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{StartBalance: acct.Balance}
	dd := drawdown{}
	dd.observe(acct.Equity)

	if err := s.Engine.Start(ctx); err != nil {
		return Result{}, err
	}

	var start, end time.Time
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		c, ok, err := r.Feed.Next()
		if err != nil {
			return Result{}, fmt.Errorf("backtest: feed: %w", err)
		}
		if !ok {
			break
		}

		if start.IsZero() || c.Time.Before(start) {
			start = c.Time
		}
		if end.IsZero() || c.Time.After(end) {
			end = c.Time
		}
		res.Bars++

		if err := s.Sim.UpdateCandle(c, s.Config.Feed.Spread); err != nil {
			return Result{}, err
		}
		s.Builder.Push(c)
		if err := s.Engine.OnTick(ctx); err != nil {
			res.TickErrors++
			r.Log.Warn().Err(err).Time("bar", c.Time).Msg("tick failed")
		}

		if a, err := s.Sim.Account(ctx); err == nil {
			dd.observe(a.Equity)
		}
	}

	if r.Options.CloseEnd && s.Positions.Count() > 0 {
		if err := s.Positions.CloseAll(ctx); err != nil {
			r.Log.Error().Err(err).Msg("close at end of replay")
		}
	}

	acct, err = s.Sim.Account(ctx)
	if err != nil {
		return Result{}, err
	}
	dd.observe(acct.Equity)

	res.Start, res.End = start, end
	res.EndBalance = acct.Balance
	res.Equity = acct.Equity
	res.MaxDDPct = dd.maxPct
	res.OpenPositions = s.Positions.Count()
	res.summarize(s.Sim.Trades())
	return res, nil
}

// drawdown tracks the deepest fall from an equity peak, in percent.
type drawdown struct {
	peak   float64
	maxPct float64
}

func (d *drawdown) observe(equity float64) {
	if equity > d.peak {
		d.peak = equity
	}
	if d.peak <= 0 {
		return
	}
	d.maxPct = max(d.maxPct, (d.peak-equity)/d.peak*100)
}
