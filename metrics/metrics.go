// Package metrics exposes the engine's decisions and risk ledger to
// Prometheus. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rustyeddy/bullion/risk"
)

const namespace = "bullion"

type Metrics struct {
	Decisions   *prometheus.CounterVec
	Rejections  *prometheus.CounterVec
	Opened      *prometheus.CounterVec
	Closed      *prometheus.CounterVec
	RealizedPL  *prometheus.HistogramVec
	Pending     *prometheus.CounterVec
	GatewayErrs *prometheus.CounterVec
	Halts       prometheus.Counter
	Flattens    prometheus.Counter

	Exposure          prometheus.Gauge
	DailyPnLPct       prometheus.Gauge
	OpenPositions     prometheus.Gauge
	ConsecutiveLosses prometheus.Gauge
	TradingHalted     prometheus.Gauge
	Equity            prometheus.Gauge
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Signal decisions by outcome (executed, staged, rejected).",
			},
			[]string{"outcome"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejections_total",
				Help:      "Rejected trade decisions by code.",
			},
			[]string{"code"},
		),
		Opened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "positions_opened_total",
				Help:      "Positions opened by direction.",
			},
			[]string{"direction"},
		),
		Closed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "positions_closed_total",
				Help:      "Positions closed by reason.",
			},
			[]string{"reason"},
		),
		RealizedPL: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "realized_pl",
				Help:      "Realized P/L per closed position in account currency.",
				Buckets:   []float64{-1000, -500, -250, -100, -50, 0, 50, 100, 250, 500, 1000},
			},
			[]string{"reason"},
		),
		Pending: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pending_signals_total",
				Help:      "Pending signal transitions (staged, replaced, confirmed, discarded, expired).",
			},
			[]string{"event"},
		),
		GatewayErrs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_errors_total",
				Help:      "Failed order gateway calls by operation.",
			},
			[]string{"op"},
		),
		Halts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "halts_total",
			Help:      "Daily loss limit halts.",
		}),
		Flattens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flattens_total",
			Help:      "Close-all sequences issued on halt.",
		}),
		Exposure: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exposure_pct",
			Help:      "Sum of initial risk over open positions, percent of balance.",
		}),
		DailyPnLPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_pnl_pct",
			Help:      "Realized plus floating P/L since the start of the server day, percent.",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Positions tracked by the risk ledger.",
		}),
		ConsecutiveLosses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_losses",
			Help:      "Current losing streak.",
		}),
		TradingHalted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trading_halted",
			Help:      "1 while the daily loss limit halt is active.",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "equity",
			Help:      "Account equity.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Decisions, m.Rejections, m.Opened, m.Closed, m.RealizedPL, m.Pending,
			m.GatewayErrs, m.Halts, m.Flattens,
			m.Exposure, m.DailyPnLPct, m.OpenPositions, m.ConsecutiveLosses, m.TradingHalted, m.Equity,
		)
	}
	return m
}

func (m *Metrics) Decision(outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(outcome).Inc()
}

// Rejection counts a rejected decision under its code.
func (m *Metrics) Rejection(err error) {
	if m == nil {
		return
	}
	code := risk.CodeOf(err)
	if code == "" {
		code = "ERROR"
	}
	m.Decisions.WithLabelValues("rejected").Inc()
	m.Rejections.WithLabelValues(string(code)).Inc()
}

func (m *Metrics) PositionOpened(direction string) {
	if m == nil {
		return
	}
	m.Opened.WithLabelValues(direction).Inc()
}

func (m *Metrics) PositionClosed(reason string, profit float64) {
	if m == nil {
		return
	}
	m.Closed.WithLabelValues(reason).Inc()
	m.RealizedPL.WithLabelValues(reason).Observe(profit)
}

func (m *Metrics) PendingEvent(event string) {
	if m == nil {
		return
	}
	m.Pending.WithLabelValues(event).Inc()
}

func (m *Metrics) GatewayError(op string) {
	if m == nil {
		return
	}
	m.GatewayErrs.WithLabelValues(op).Inc()
}

func (m *Metrics) Halt() {
	if m == nil {
		return
	}
	m.Halts.Inc()
}

func (m *Metrics) Flatten() {
	if m == nil {
		return
	}
	m.Flattens.Inc()
}

// ObserveRisk copies the risk ledger into the gauges.
func (m *Metrics) ObserveRisk(s risk.Stats, equity float64) {
	if m == nil {
		return
	}
	m.Exposure.Set(s.CurrentExposure)
	m.DailyPnLPct.Set(s.DailyPnLPct)
	m.OpenPositions.Set(float64(s.PositionCount))
	m.ConsecutiveLosses.Set(float64(s.ConsecutiveLosses))
	halted := 0.0
	if s.TradingHalted {
		halted = 1
	}
	m.TradingHalted.Set(halted)
	m.Equity.Set(equity)
}
