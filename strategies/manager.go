package strategies

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/bullion/broker"
	"github.com/rustyeddy/bullion/market"
	"github.com/rustyeddy/bullion/patterns"
	"github.com/rustyeddy/bullion/position"
)

// Manager moves the stop to break-even once tp1 trades, trails it by
// TrailATR afterwards, and exits trend trades when the regime turns.
type Manager struct {
	cfg Config
	gw  broker.Gateway
	log zerolog.Logger
}

func NewManager(cfg Config, gw broker.Gateway, log zerolog.Logger) *Manager {
	return &Manager{cfg: cfg, gw: gw, log: log.With().Str("component", "manager").Logger()}
}

func (m *Manager) Manage(ctx context.Context, mc market.Context, p *position.Position) error {
	if !mc.Valid() {
		return nil
	}
	sign := p.Direction.Sign()
	price := mc.ExitPrice(p.Direction)

	if !p.TP1Hit && p.TP1 != 0 && sign*(price-p.TP1) >= 0 {
		p.TP1Hit = true
		if m.cfg.Breakeven && !p.AtBreakeven && sign*(p.Entry-p.StopLoss) > 0 {
			if err := m.move(ctx, p, p.Entry); err != nil {
				return fmt.Errorf("breakeven: %w", err)
			}
			p.AtBreakeven = true
			m.log.Info().Uint64("ticket", uint64(p.Ticket)).Float64("stop", p.Entry).Msg("stop to break-even")
		}
	}

	if p.TP1Hit && m.cfg.TrailATR > 0 && mc.ATR > 0 {
		trail := price - sign*m.cfg.TrailATR*mc.ATR
		if sign*(trail-p.StopLoss) > 0 {
			if err := m.move(ctx, p, trail); err != nil {
				return fmt.Errorf("trail: %w", err)
			}
			m.log.Debug().Uint64("ticket", uint64(p.Ticket)).Float64("stop", trail).Msg("stop trailed")
		}
	}
	return nil
}

func (m *Manager) move(ctx context.Context, p *position.Position, stop float64) error {
	if err := m.gw.ModifyStopLoss(ctx, p.Ticket, stop); err != nil {
		return err
	}
	p.StopLoss = stop
	return nil
}

func (m *Manager) ShouldExitEarly(mc market.Context, p *position.Position) (bool, string) {
	d := p.Direction
	if m.cfg.ExitOnFlip && p.Pattern.Class() == patterns.TrendFollowing &&
		mc.Regime.Trending() && !mc.Regime.Favors(d) {
		return true, fmt.Sprintf("regime flipped to %s", mc.Regime)
	}
	if m.cfg.ExitMacro > 0 && mc.MacroScore*int(d) <= -m.cfg.ExitMacro {
		return true, fmt.Sprintf("macro %d against %s", mc.MacroScore, d)
	}
	return false, ""
}
