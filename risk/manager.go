// Package risk gates new positions against the daily loss budget, aggregate
// exposure and position count, and turns a risk percentage into a lot size.
package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/bullion/broker"
	"github.com/rustyeddy/bullion/market"
)

// Config percentages are 0-100.
type Config struct {
	DailyLossLimit   float64 `yaml:"daily_loss_limit" json:"daily_loss_limit"`
	MaxTotalExposure float64 `yaml:"max_total_exposure" json:"max_total_exposure"`
	MaxPositions     int     `yaml:"max_positions" json:"max_positions"`
	MaxLotMultiplier float64 `yaml:"max_lot_multiplier" json:"max_lot_multiplier"`
	MaxMarginUsage   float64 `yaml:"max_margin_usage" json:"max_margin_usage"`

	LossScaling     bool    `yaml:"loss_scaling" json:"loss_scaling"`
	LossesLevel1    int     `yaml:"losses_level1" json:"losses_level1"`
	LossesLevel2    int     `yaml:"losses_level2" json:"losses_level2"`
	ReductionLevel1 float64 `yaml:"reduction_level1" json:"reduction_level1"`
	ReductionLevel2 float64 `yaml:"reduction_level2" json:"reduction_level2"`

	// ShortRiskMultiplier scales the risk of short trades; 0 means 1.
	ShortRiskMultiplier float64 `yaml:"short_risk_multiplier" json:"short_risk_multiplier"`
}

func DefaultConfig() Config {
	return Config{
		DailyLossLimit:      3.0,
		MaxTotalExposure:    6.0,
		MaxPositions:        3,
		MaxLotMultiplier:    500,
		MaxMarginUsage:      50,
		LossScaling:         true,
		LossesLevel1:        2,
		LossesLevel2:        3,
		ReductionLevel1:     25,
		ReductionLevel2:     50,
		ShortRiskMultiplier: 0.75,
	}
}

func (c Config) Validate() error {
	switch {
	case c.DailyLossLimit < 0:
		return fmt.Errorf("risk: daily_loss_limit must be >= 0")
	case c.MaxTotalExposure < 0:
		return fmt.Errorf("risk: max_total_exposure must be >= 0")
	case c.MaxPositions < 0:
		return fmt.Errorf("risk: max_positions must be >= 0")
	case c.MaxMarginUsage < 0 || c.MaxMarginUsage > 100:
		return fmt.Errorf("risk: max_margin_usage must be in [0,100]")
	case c.ReductionLevel1 < 0 || c.ReductionLevel1 > 100 || c.ReductionLevel2 < 0 || c.ReductionLevel2 > 100:
		return fmt.Errorf("risk: reductions must be in [0,100]")
	case c.LossScaling && c.LossesLevel1 > 0 && c.LossesLevel2 > 0 && c.LossesLevel2 < c.LossesLevel1:
		return fmt.Errorf("risk: losses_level2 must be >= losses_level1")
	case c.ShortRiskMultiplier < 0:
		return fmt.Errorf("risk: short_risk_multiplier must be >= 0")
	}
	return nil
}

// Stats is the risk ledger as of the last query.
type Stats struct {
	CurrentExposure   float64
	DailyPnLPct       float64
	ConsecutiveWins   int
	ConsecutiveLosses int
	PositionCount     int
	TradingHalted     bool
	LastReset         time.Time
}

type Option func(*Manager)

// WithClock sets the server clock used for daily resets. Replays pass the
// feed time.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager is the risk ledger. It keeps only the ticket and initial risk of
// each open position; the full record belongs to the position coordinator.
//
// Manager is not safe for concurrent use; one tick driver owns it.
type Manager struct {
	cfg  Config
	meta market.InstrumentMeta
	acct broker.AccountState
	log  zerolog.Logger
	now  func() time.Time

	ledger map[broker.Ticket]float64

	wins     int
	losses   int
	halted   bool
	dayStart time.Time
	pnlPct   float64
}

func NewManager(cfg Config, meta market.InstrumentMeta, acct broker.AccountState, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		meta:   meta,
		acct:   acct,
		log:    log.With().Str("component", "risk").Logger(),
		now:    time.Now,
		ledger: make(map[broker.Ticket]float64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) Meta() market.InstrumentMeta { return m.meta }

// Now is the manager's server clock.
func (m *Manager) Now() time.Time { return m.now() }

// refresh rolls the day over when the server date changed and recomputes the
// daily P&L from the account, so the figure survives restarts.
func (m *Manager) refresh(ctx context.Context) (broker.Account, error) {
	day := startOfDay(m.now())
	if !day.Equal(m.dayStart) {
		if !m.dayStart.IsZero() {
			m.log.Info().
				Time("day", day).
				Bool("was_halted", m.halted).
				Msg("daily risk reset")
		}
		m.dayStart = day
		m.halted = false
	}

	acct, err := m.acct.Account(ctx)
	if err != nil {
		return acct, fmt.Errorf("risk: account: %w", err)
	}
	realized, err := m.acct.RealizedSince(ctx, m.dayStart)
	if err != nil {
		return acct, fmt.Errorf("risk: realized since %s: %w", m.dayStart.Format("2006-01-02"), err)
	}

	m.pnlPct = 0
	if start := acct.Balance - realized; start > 0 {
		m.pnlPct = (realized + acct.Floating()) / start * 100
	}
	return acct, nil
}

// CheckDailyLoss refreshes the daily figures and halts trading for the rest
// of the day once the loss limit is reached. A halt is never lifted by a
// recovery; only the next server day clears it.
func (m *Manager) CheckDailyLoss(ctx context.Context) (bool, error) {
	if _, err := m.refresh(ctx); err != nil {
		return m.halted, err
	}
	if !m.halted && m.cfg.DailyLossLimit > 0 && m.pnlPct <= -m.cfg.DailyLossLimit {
		m.halted = true
		m.log.Warn().
			Float64("daily_pnl_pct", m.pnlPct).
			Float64("limit", m.cfg.DailyLossLimit).
			Msg("daily loss limit reached, trading halted")
	}
	return m.halted, nil
}

// CanOpenNewPosition returns nil when a new position may be opened, otherwise
// a *Violation describing the limit that blocks it.
func (m *Manager) CanOpenNewPosition(ctx context.Context) error {
	wasHalted := m.halted
	halted, err := m.CheckDailyLoss(ctx)
	if err != nil {
		return err
	}
	if halted {
		if wasHalted {
			return Reject(ErrDailyLossLimitHalted, "trading halted since %s", m.dayStart.Format("2006-01-02"))
		}
		return Reject(ErrDailyLossLimitHalted, "daily pnl %.2f%% <= -%.2f%%", m.pnlPct, m.cfg.DailyLossLimit)
	}
	if n := len(m.ledger); m.cfg.MaxPositions > 0 && n >= m.cfg.MaxPositions {
		return Reject(ErrPositionCountLimit, "open positions %d >= max %d", n, m.cfg.MaxPositions)
	}
	if exp := m.CurrentExposure(); m.cfg.MaxTotalExposure > 0 && exp >= m.cfg.MaxTotalExposure {
		return Reject(ErrExposureLimitReached, "exposure %.2f%% >= max %.2f%%", exp, m.cfg.MaxTotalExposure)
	}
	return nil
}

// CalculateLotSize converts a risk percentage of balance into lots for a
// stop at the given distance. It returns 0 and a *Violation when the trade
// cannot be sized.
func (m *Manager) CalculateLotSize(ctx context.Context, riskPct, entry, stop float64) (float64, error) {
	dist := abs(entry - stop)
	if dist <= 0 || entry <= 0 || stop <= 0 {
		return 0, Reject(ErrInvalidStopDistance, "entry %.2f stop %.2f", entry, stop)
	}

	acct, err := m.acct.Account(ctx)
	if err != nil {
		return 0, fmt.Errorf("risk: account: %w", err)
	}

	riskAmount := acct.Balance * riskPct / 100
	points := m.meta.Points(dist)
	raw := 0.0
	if den := points * m.meta.PointValue; den > 0 {
		raw = riskAmount / den
	}
	lots := NormalizeLots(raw, m.meta.LotStep)
	if lots < m.meta.MinLot || lots <= 0 {
		return 0, Reject(ErrLotBelowMinimum, "lots %.4f < min %.2f (risk %.2f%% = %.2f over %.0f points)",
			raw, m.meta.MinLot, riskPct, riskAmount, points)
	}

	limit := math.Inf(1)
	if m.cfg.MaxLotMultiplier > 0 {
		limit = m.meta.MinLot * m.cfg.MaxLotMultiplier
	}
	if m.meta.MaxLot > 0 {
		limit = math.Min(limit, m.meta.MaxLot)
	}
	if lots > limit {
		m.log.Debug().Float64("lots", lots).Float64("cap", limit).Msg("lot size capped")
		lots = NormalizeLots(limit, m.meta.LotStep)
	}

	dir := market.Long
	if stop > entry {
		dir = market.Short
	}
	margin, err := m.acct.MarginRequired(ctx, dir, lots, entry)
	if err != nil {
		return 0, fmt.Errorf("risk: margin required: %w", err)
	}
	usage := m.cfg.MaxMarginUsage
	if usage <= 0 {
		usage = 100
	}
	if headroom := acct.FreeMargin * usage / 100; margin > headroom {
		return 0, Reject(ErrInsufficientMargin, "margin %.2f > headroom %.2f (free %.2f at %.0f%%)",
			margin, headroom, acct.FreeMargin, usage)
	}
	return lots, nil
}

// ComputeRiskPercent is the inverse of CalculateLotSize: the percentage of
// balance lost if lots are stopped out.
func (m *Manager) ComputeRiskPercent(ctx context.Context, lots, entry, stop float64) (float64, error) {
	dist := abs(entry - stop)
	if dist <= 0 || entry <= 0 || stop <= 0 {
		return 0, Reject(ErrInvalidStopDistance, "entry %.2f stop %.2f", entry, stop)
	}
	if lots <= 0 {
		return 0, fmt.Errorf("risk: lots must be positive, got %.2f", lots)
	}
	acct, err := m.acct.Account(ctx)
	if err != nil {
		return 0, fmt.Errorf("risk: account: %w", err)
	}
	if acct.Balance <= 0 {
		return 0, fmt.Errorf("risk: non-positive balance %.2f", acct.Balance)
	}
	loss := m.meta.Points(dist) * m.meta.PointValue * lots
	return loss / acct.Balance * 100, nil
}

// AdjustRiskForStreak cuts base risk after a run of losses. The level 2
// reduction wins over level 1.
func (m *Manager) AdjustRiskForStreak(base float64) float64 {
	if !m.cfg.LossScaling {
		return base
	}
	switch {
	case m.cfg.LossesLevel2 > 0 && m.losses >= m.cfg.LossesLevel2:
		return base * (1 - m.cfg.ReductionLevel2/100)
	case m.cfg.LossesLevel1 > 0 && m.losses >= m.cfg.LossesLevel1:
		return base * (1 - m.cfg.ReductionLevel1/100)
	}
	return base
}

// AdjustRiskForDirection applies the short-side multiplier.
func (m *Manager) AdjustRiskForDirection(pct float64, d market.Direction) float64 {
	if d == market.Short && m.cfg.ShortRiskMultiplier > 0 {
		return pct * m.cfg.ShortRiskMultiplier
	}
	return pct
}

// AddPosition starts tracking ticket. The initial risk is fixed here and a
// second call for the same ticket does not change it.
func (m *Manager) AddPosition(ticket broker.Ticket, riskPct float64) {
	if prev, ok := m.ledger[ticket]; ok {
		m.log.Warn().Uint64("ticket", uint64(ticket)).Float64("risk_pct", prev).Msg("position already tracked")
		return
	}
	m.ledger[ticket] = riskPct
	m.log.Debug().
		Uint64("ticket", uint64(ticket)).
		Float64("risk_pct", riskPct).
		Float64("exposure", m.CurrentExposure()).
		Msg("risk position added")
}

// RemovePosition stops tracking ticket and updates the win/loss streak from
// its realized result: trade history when the broker has closed it, the live
// position otherwise. The ticket is removed even if the lookup fails.
func (m *Manager) RemovePosition(ctx context.Context, ticket broker.Ticket) {
	if _, ok := m.ledger[ticket]; !ok {
		return
	}
	defer delete(m.ledger, ticket)

	profit, ok, err := m.lookupProfit(ctx, ticket)
	if err != nil {
		m.log.Error().Err(err).Uint64("ticket", uint64(ticket)).Msg("result lookup failed, streak unchanged")
		return
	}
	if !ok {
		m.log.Warn().Uint64("ticket", uint64(ticket)).Msg("no result for removed position, streak unchanged")
		return
	}
	m.recordResult(profit)
}

func (m *Manager) lookupProfit(ctx context.Context, ticket broker.Ticket) (float64, bool, error) {
	ct, ok, err := m.acct.History(ctx, ticket)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return ct.Profit, true, nil
	}
	p, ok, err := m.acct.Position(ctx, ticket)
	if err != nil {
		return 0, false, err
	}
	return p.Profit, ok, nil
}

// recordResult updates the streak. A flat result leaves it unchanged.
func (m *Manager) recordResult(profit float64) {
	switch {
	case profit > 0:
		m.wins++
		m.losses = 0
	case profit < 0:
		m.losses++
		m.wins = 0
	}
}

// CurrentExposure is the sum of initial risk over tracked positions.
func (m *Manager) CurrentExposure() float64 {
	var sum float64
	for _, pct := range m.ledger {
		sum += pct
	}
	return sum
}

func (m *Manager) Count() int { return len(m.ledger) }

func (m *Manager) Tracks(ticket broker.Ticket) bool {
	_, ok := m.ledger[ticket]
	return ok
}

func (m *Manager) Halted() bool { return m.halted }

func (m *Manager) ConsecutiveLosses() int { return m.losses }

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	if _, err := m.CheckDailyLoss(ctx); err != nil {
		return Stats{}, err
	}
	return Stats{
		CurrentExposure:   m.CurrentExposure(),
		DailyPnLPct:       m.pnlPct,
		ConsecutiveWins:   m.wins,
		ConsecutiveLosses: m.losses,
		PositionCount:     len(m.ledger),
		TradingHalted:     m.halted,
		LastReset:         m.dayStart,
	}, nil
}
