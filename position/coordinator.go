package position

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/bullion/broker"
	"github.com/rustyeddy/bullion/journal"
	"github.com/rustyeddy/bullion/market"
	"github.com/rustyeddy/bullion/metrics"
	"github.com/rustyeddy/bullion/patterns"
	"github.com/rustyeddy/bullion/risk"
)

type Config struct {
	// StrategyID selects which broker positions belong to this engine.
	StrategyID string `yaml:"strategy_id" json:"strategy_id"`

	WeekendClose     bool         `yaml:"weekend_close" json:"weekend_close"`
	WeekendCloseDay  time.Weekday `yaml:"weekend_close_day" json:"weekend_close_day"`
	WeekendCloseHour int          `yaml:"weekend_close_hour" json:"weekend_close_hour"`

	// MaxAge closes positions older than this; 0 disables.
	MaxAge time.Duration `yaml:"max_age" json:"max_age"`
}

func DefaultConfig() Config {
	return Config{
		StrategyID:       "bullion",
		WeekendClose:     true,
		WeekendCloseDay:  time.Friday,
		WeekendCloseHour: 20,
		MaxAge:           72 * time.Hour,
	}
}

func (c Config) Validate() error {
	switch {
	case c.WeekendCloseDay < time.Sunday || c.WeekendCloseDay > time.Saturday:
		return fmt.Errorf("positions: weekend_close_day must be 0-6")
	case c.WeekendCloseHour < 0 || c.WeekendCloseHour > 23:
		return fmt.Errorf("positions: weekend_close_hour must be 0-23")
	case c.MaxAge < 0:
		return fmt.Errorf("positions: max_age must be >= 0")
	}
	return nil
}

// weekend reports whether t falls in the pre-weekend closing window: the
// configured day from the configured hour on, and the rest of the week
// until Sunday.
func (c Config) weekend(t time.Time) bool {
	if !c.WeekendClose {
		return false
	}
	wd := t.Weekday()
	if wd == c.WeekendCloseDay && t.Hour() >= c.WeekendCloseHour {
		return true
	}
	return c.WeekendCloseDay < time.Saturday && wd > c.WeekendCloseDay
}

type Option func(*Coordinator)

func WithManager(m Manager) Option { return func(c *Coordinator) { c.manager = m } }

func WithRecorder(r ResultRecorder) Option { return func(c *Coordinator) { c.recorder = r } }

func WithJournal(j journal.Journal) Option { return func(c *Coordinator) { c.journal = j } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// Coordinator holds the full record of every open position. The risk
// manager keeps a ticket/risk shadow of the same set; every add and remove
// here is paired with the risk manager.
//
// Not safe for concurrent use.
type Coordinator struct {
	cfg        Config
	instrument string
	gw         broker.Gateway
	acct       broker.AccountState
	rm         *risk.Manager
	log        zerolog.Logger

	manager  Manager
	recorder ResultRecorder
	journal  journal.Journal
	metrics  *metrics.Metrics

	positions []*Position
}

func NewCoordinator(cfg Config, gw broker.Gateway, acct broker.AccountState, rm *risk.Manager, log zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:        cfg,
		instrument: rm.Meta().Name,
		gw:         gw,
		acct:       acct,
		rm:         rm,
		log:        log.With().Str("component", "positions").Logger(),
		journal:    journal.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadOpenPositions adopts the strategy's positions the broker already holds,
// e.g. after a restart. Their initial risk is derived from lots and stop.
func (c *Coordinator) LoadOpenPositions(ctx context.Context) error {
	open, err := c.acct.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}

	loaded := 0
	for _, op := range open {
		if c.cfg.StrategyID != "" && op.StrategyID != c.cfg.StrategyID {
			continue
		}
		if op.Instrument != "" && c.instrument != "" && op.Instrument != c.instrument {
			continue
		}
		if c.Find(op.Ticket) != nil {
			continue
		}

		pct, err := c.rm.ComputeRiskPercent(ctx, op.Lots, op.OpenPrice, op.StopLoss)
		if err != nil {
			c.log.Warn().Err(err).
				Uint64("ticket", uint64(op.Ticket)).
				Float64("stop", op.StopLoss).
				Msg("cannot derive initial risk, tracking with 0")
			pct = 0
		}

		pattern, _ := patterns.Parse(op.Comment)
		c.AddPosition(New(Position{
			Ticket:    op.Ticket,
			Direction: op.Direction,
			Pattern:   pattern,
			Label:     op.Comment,
			Lots:      op.Lots,
			Entry:     op.OpenPrice,
			StopLoss:  op.StopLoss,
			TP1:       op.TakeProfit,
			OpenTime:  op.OpenTime,
		}, pct))
		loaded++
	}

	c.log.Info().
		Int("loaded", loaded).
		Int("broker_open", len(open)).
		Float64("exposure", c.rm.CurrentExposure()).
		Msg("open positions loaded")
	return nil
}

// AddPosition tracks p here and in the risk manager.
func (c *Coordinator) AddPosition(p *Position) {
	c.positions = append(c.positions, p)
	c.rm.AddPosition(p.Ticket, p.InitialRiskPct())
}

func (c *Coordinator) Count() int { return len(c.positions) }

// InWeekendWindow reports whether t falls where open positions are being
// closed for the weekend. No new position may be opened there.
func (c *Coordinator) InWeekendWindow(t time.Time) bool { return c.cfg.weekend(t) }

// Positions returns copies of the open positions.
func (c *Coordinator) Positions() []Position {
	out := make([]Position, len(c.positions))
	for i, p := range c.positions {
		out[i] = *p
	}
	return out
}

func (c *Coordinator) Find(ticket broker.Ticket) *Position {
	for _, p := range c.positions {
		if p.Ticket == ticket {
			return p
		}
	}
	return nil
}

// ManageOpenPositions runs every tick. Inside the weekend window it closes
// everything and stops there. Otherwise it drops positions the broker has
// closed, closes positions past their maximum age, and lets the position
// manager work on the rest.
func (c *Coordinator) ManageOpenPositions(ctx context.Context, mc market.Context) error {
	if len(c.positions) == 0 {
		return nil
	}
	if c.cfg.weekend(mc.Time) {
		c.log.Info().Int("positions", len(c.positions)).Time("time", mc.Time).Msg("weekend close")
		return c.retireAll(ctx, ReasonWeekend)
	}

	var errs []error
	for i := len(c.positions) - 1; i >= 0; i-- {
		p := c.positions[i]

		_, open, err := c.acct.Position(ctx, p.Ticket)
		if err != nil {
			errs = append(errs, fmt.Errorf("position %d: %w", p.Ticket, err))
			continue
		}
		if !open {
			c.settle(ctx, i, ReasonBroker)
			continue
		}

		if c.cfg.MaxAge > 0 && p.Age(mc.Time) >= c.cfg.MaxAge {
			c.log.Info().Uint64("ticket", uint64(p.Ticket)).Dur("age", p.Age(mc.Time)).Msg("max age reached")
			if err := c.retire(ctx, i, ReasonMaxAge); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		if c.manager == nil {
			continue
		}
		if err := c.manager.Manage(ctx, mc, p); err != nil {
			c.log.Error().Err(err).Uint64("ticket", uint64(p.Ticket)).Msg("position management failed")
		}
		if exit, why := c.manager.ShouldExitEarly(mc, p); exit {
			c.log.Info().
				Uint64("ticket", uint64(p.Ticket)).
				Str("why", why).
				Str("regime", string(mc.Regime)).
				Int("macro", mc.MacroScore).
				Msg("early exit")
			if err := c.retire(ctx, i, ReasonRegime); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// CloseAll flattens the strategy through the gateway and retires every
// position the broker no longer holds.
func (c *Coordinator) CloseAll(ctx context.Context) error {
	if err := c.gw.CloseAll(ctx); err != nil {
		c.metrics.GatewayError("close_all")
		return fmt.Errorf("close all: %w", err)
	}

	var errs []error
	for i := len(c.positions) - 1; i >= 0; i-- {
		_, open, err := c.acct.Position(ctx, c.positions[i].Ticket)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !open {
			c.settle(ctx, i, ReasonHalt)
		}
	}
	return errors.Join(errs...)
}

// retireAll closes each position on its own; a position whose close fails
// stays tracked and is retried on the next tick.
func (c *Coordinator) retireAll(ctx context.Context, reason string) error {
	var errs []error
	for i := len(c.positions) - 1; i >= 0; i-- {
		if err := c.retire(ctx, i, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// retire closes position i at the broker and settles it once the close is
// confirmed.
func (c *Coordinator) retire(ctx context.Context, i int, reason string) error {
	p := c.positions[i]
	err := c.gw.ClosePosition(ctx, p.Ticket)
	switch {
	case err == nil:
	case errors.Is(err, broker.ErrPositionNotFound), errors.Is(err, broker.ErrPositionAlreadyClosed):
		reason = ReasonBroker
	default:
		c.metrics.GatewayError("close")
		c.log.Error().Err(err).Uint64("ticket", uint64(p.Ticket)).Str("reason", reason).Msg("close failed")
		return fmt.Errorf("close %d: %w", p.Ticket, err)
	}
	c.settle(ctx, i, reason)
	return nil
}

// settle records the exit of position i and removes it here and in the
// risk manager.
func (c *Coordinator) settle(ctx context.Context, i int, reason string) {
	p := c.positions[i]

	ct, ok, err := c.acct.History(ctx, p.Ticket)
	if err != nil {
		c.log.Error().Err(err).Uint64("ticket", uint64(p.Ticket)).Msg("trade history lookup failed")
	}
	if !ok {
		c.log.Warn().Uint64("ticket", uint64(p.Ticket)).Msg("closed position missing from history")
	}

	c.log.Info().
		Uint64("ticket", uint64(p.Ticket)).
		Str("direction", p.Direction.String()).
		Str("pattern", p.Label).
		Str("reason", reason).
		Float64("entry", p.Entry).
		Float64("exit", ct.ClosePrice).
		Float64("profit", ct.Profit).
		Msg("position closed")

	rec := journal.TradeRecord{
		TradeID:    strconv.FormatUint(uint64(p.Ticket), 10),
		Instrument: c.instrument,
		Direction:  p.Direction.String(),
		Pattern:    p.Label,
		Quality:    p.Quality.String(),
		Lots:       p.Lots,
		EntryPrice: p.Entry,
		ExitPrice:  ct.ClosePrice,
		RiskPct:    p.InitialRiskPct(),
		OpenTime:   p.OpenTime,
		CloseTime:  ct.CloseTime,
		RealizedPL: ct.Profit,
		Reason:     reason,
	}
	if err := c.journal.RecordTrade(rec); err != nil {
		c.log.Error().Err(err).Uint64("ticket", uint64(p.Ticket)).Msg("journal trade failed")
	}

	if c.recorder != nil && ok {
		c.recorder.RecordResult(Result{
			Ticket:    p.Ticket,
			Pattern:   p.Pattern,
			Quality:   p.Quality,
			Direction: p.Direction,
			Profit:    ct.Profit,
			RiskPct:   p.InitialRiskPct(),
			Reason:    reason,
		})
	}
	c.metrics.PositionClosed(reason, ct.Profit)

	c.rm.RemovePosition(ctx, p.Ticket)
	c.positions = slices.Delete(c.positions, i, i+1)
}
