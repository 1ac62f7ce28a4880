package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/bullion/notify"
)

type MonitorConfig struct {
	// MaxTradesPerDay <= 0 means unlimited.
	MaxTradesPerDay int `yaml:"max_trades_per_day" json:"max_trades_per_day"`

	// AlertTimeout bounds the halt alert; 0 means 5s.
	AlertTimeout time.Duration `yaml:"alert_timeout" json:"alert_timeout"`
}

const defaultAlertTimeout = 5 * time.Second

// Flattener closes every open position of the strategy.
type Flattener interface {
	Count() int
	CloseAll(ctx context.Context) error
}

// Monitor adds a daily trade throttle on top of Manager and flattens the
// book when the daily loss limit halts trading.
type Monitor struct {
	cfg       MonitorConfig
	rm        *Manager
	positions Flattener
	notifier  notify.Notifier
	log       zerolog.Logger

	tradesDay   time.Time
	tradesToday int

	alerted  bool
	flattens int
}

func NewMonitor(cfg MonitorConfig, rm *Manager, positions Flattener, notifier notify.Notifier, log zerolog.Logger) *Monitor {
	return &Monitor{
		cfg:       cfg,
		rm:        rm,
		positions: positions,
		notifier:  notifier,
		log:       log.With().Str("component", "risk_monitor").Logger(),
	}
}

func (m *Monitor) Manager() *Manager { return m.rm }

func (m *Monitor) roll() {
	day := startOfDay(m.rm.Now())
	if !day.Equal(m.tradesDay) {
		m.tradesDay = day
		m.tradesToday = 0
	}
}

// CanTrade reports whether another trade fits in today's allowance.
func (m *Monitor) CanTrade() error {
	m.roll()
	if m.cfg.MaxTradesPerDay <= 0 {
		return nil
	}
	if m.tradesToday >= m.cfg.MaxTradesPerDay {
		return Reject(ErrDailyTradeLimitReached, "trades today %d >= max %d", m.tradesToday, m.cfg.MaxTradesPerDay)
	}
	return nil
}

func (m *Monitor) IncrementTradesToday() {
	m.roll()
	m.tradesToday++
}

func (m *Monitor) TradesToday() int {
	m.roll()
	return m.tradesToday
}

// Flattens counts the close-all sequences issued so far.
func (m *Monitor) Flattens() int { return m.flattens }

// CheckRiskLimits is safe to call every tick. While the manager reports a
// halt it closes whatever is still open and alerts once; once the book is
// flat it does nothing until the next halt. The alert goes out after the
// close and is bounded by AlertTimeout.
func (m *Monitor) CheckRiskLimits(ctx context.Context) error {
	halted, err := m.rm.CheckDailyLoss(ctx)
	if err != nil {
		return err
	}
	if !halted {
		m.alerted = false
		return nil
	}

	var closeErr error
	if n := m.positions.Count(); n > 0 {
		m.flattens++
		m.log.Warn().Int("positions", n).Msg("closing all positions on halt")
		if err := m.positions.CloseAll(ctx); err != nil {
			closeErr = fmt.Errorf("risk: close all on halt: %w", err)
		}
	}

	if !m.alerted {
		m.alerted = true
		m.alert(ctx, fmt.Sprintf("Daily loss limit %.2f%% reached. Trading halted, closing all positions.", m.rm.Config().DailyLossLimit))
	}
	return closeErr
}

func (m *Monitor) alert(ctx context.Context, msg string) {
	timeout := m.cfg.AlertTimeout
	if timeout <= 0 {
		timeout = defaultAlertTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	notify.Send(actx, m.log, m.notifier, notify.LevelCritical, msg)
}
