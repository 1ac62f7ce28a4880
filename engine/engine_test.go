package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/bullion/broker"
	"github.com/rustyeddy/bullion/broker/sim"
	"github.com/rustyeddy/bullion/journal"
	"github.com/rustyeddy/bullion/market"
	"github.com/rustyeddy/bullion/metrics"
	"github.com/rustyeddy/bullion/patterns"
	"github.com/rustyeddy/bullion/position"
	"github.com/rustyeddy/bullion/risk"
	"github.com/rustyeddy/bullion/signal"
	"github.com/rustyeddy/bullion/trade"
)

// Monday
var barN = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type scripted struct {
	mc  market.Context
	err error
}

func (s *scripted) Snapshot(context.Context) (market.Context, error) { return s.mc, s.err }

type switchDetector struct {
	on  bool
	sig patterns.Signal
}

func (d *switchDetector) Detect(market.Context) (patterns.Signal, bool) { return d.sig, d.on }

type gradeA struct{}

func (gradeA) Score(market.Context, patterns.Signal) patterns.Quality { return patterns.QualityA }

type memJournal struct {
	journal.Nop
	equity []journal.EquitySnapshot
	trades []journal.TradeRecord
}

func (m *memJournal) RecordEquity(s journal.EquitySnapshot) error {
	m.equity = append(m.equity, s)
	return nil
}

func (m *memJournal) RecordTrade(t journal.TradeRecord) error {
	m.trades = append(m.trades, t)
	return nil
}

type env struct {
	eng  *sim.Engine
	prov *scripted
	det  *switchDetector
	j    *memJournal
	m    *metrics.Metrics
	c    Components
	e    *Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()

	meta := market.Instruments["XAU_USD"]
	eng := sim.NewEngine(broker.Account{Balance: 10000}, meta, "bullion")
	require.NoError(t, eng.UpdatePrice(market.Tick{Instrument: "XAU_USD", Time: barN, Bid: 2000, Ask: 2000.2}))

	v := &env{
		eng:  eng,
		prov: &scripted{},
		det: &switchDetector{sig: patterns.Signal{
			Pattern: patterns.MACrossBullish, Direction: market.Long, Entry: 2000.2, Stop: 1990.2,
		}},
		j: &memJournal{},
		m: metrics.New(prometheus.NewRegistry()),
	}

	log := zerolog.Nop()
	rm := risk.NewManager(risk.DefaultConfig(), meta, eng, log, risk.WithClock(func() time.Time { return eng.Tick().Time }))
	pos := position.NewCoordinator(position.DefaultConfig(), eng, eng, rm, log,
		position.WithJournal(v.j), position.WithMetrics(v.m))
	mon := risk.NewMonitor(risk.MonitorConfig{}, rm, pos, nil, log)
	orch := trade.NewOrchestrator(trade.DefaultConfig(), eng, mon, pos, log,
		trade.WithStrategyID("bullion"), trade.WithMetrics(v.m), trade.WithJournal(v.j))

	scfg := signal.DefaultConfig()
	scfg.UseDynamicStop = false
	sp := signal.NewProcessor(scfg, rm, orch, signal.Collaborators{
		TrendFollowing: v.det,
		Quality:        gradeA{},
	}, log, signal.WithMetrics(v.m))

	v.c = Components{
		Provider:     v.prov,
		Account:      eng,
		Risk:         rm,
		Monitor:      mon,
		Positions:    pos,
		Orchestrator: orch,
		Signals:      sp,
		Journal:      v.j,
		Metrics:      v.m,
	}
	v.e = New(DefaultConfig(), v.c, log)
	return v
}

func mcAt(tick, bar time.Time, bid float64) market.Context {
	return market.Context{
		Instrument: "XAU_USD",
		Time:       tick,
		BarTime:    bar,
		Bid:        bid,
		Ask:        bid + 0.2,
		Session:    market.SessionAt(tick.Hour()),
		Regime:     market.RegimeTrendingBull,
		DailyTrend: market.TrendBullish,
		H4Trend:    market.TrendBullish,
		ADX:        25,
		ATR:        8,
		LongMA:     1950,
	}
}

func (v *env) tick(t *testing.T, mc market.Context) error {
	t.Helper()
	require.NoError(t, v.eng.UpdatePrice(market.Tick{Instrument: "XAU_USD", Time: mc.Time, Bid: mc.Bid, Ask: mc.Ask}))
	v.prov.mc = mc
	return v.e.OnTick(context.Background())
}

func TestStartRequiresComponents(t *testing.T) {
	t.Parallel()

	e := New(DefaultConfig(), Components{}, zerolog.Nop())
	err := e.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing risk manager")

	assert.Error(t, e.OnTick(context.Background()))
	_, err = e.Status(context.Background())
	assert.Error(t, err)
}

func TestStartAdoptsOpenPositions(t *testing.T) {
	t.Parallel()

	v := newEnv(t)
	v.eng.Inject(broker.OpenPosition{
		StrategyID: "bullion",
		Direction:  market.Long,
		Lots:       0.1,
		OpenPrice:  1995,
		StopLoss:   1985,
		Comment:    "bullish-engulfing",
	})

	require.NoError(t, v.e.Start(context.Background()))
	assert.Equal(t, 1, v.c.Positions.Count())
	assert.InDelta(t, 1.0, v.c.Risk.CurrentExposure(), 1e-9)
	assert.Equal(t, patterns.BullishEngulfing, v.c.Positions.Positions()[0].Pattern)
}

func TestOnTickSnapshotError(t *testing.T) {
	t.Parallel()

	v := newEnv(t)
	require.NoError(t, v.e.Start(context.Background()))
	v.prov.err = errors.New("feed down")
	assert.ErrorContains(t, v.e.OnTick(context.Background()), "feed down")
}

func TestSignalConfirmedOnNextBar(t *testing.T) {
	t.Parallel()

	v := newEnv(t)
	require.NoError(t, v.e.Start(context.Background()))

	v.det.on = true
	require.NoError(t, v.tick(t, mcAt(barN, barN, 2000)))
	assert.True(t, v.c.Signals.Pending().Has())
	assert.Zero(t, v.c.Positions.Count())

	// later tick inside the same bar does not consume the signal
	v.det.on = false
	require.NoError(t, v.tick(t, mcAt(barN.Add(30*time.Minute), barN, 2000.5)))
	assert.True(t, v.c.Signals.Pending().Has())

	barN1 := barN.Add(time.Hour)
	require.NoError(t, v.tick(t, mcAt(barN1, barN1, 2001)))
	assert.False(t, v.c.Signals.Pending().Has())
	require.Equal(t, 1, v.c.Positions.Count())

	p := v.c.Positions.Positions()[0]
	assert.Equal(t, "ma-cross-bullish (Confirmed)", p.Label)
	assert.InDelta(t, 2001.2, p.Entry, 1e-9)
	assert.InDelta(t, 1990.2, p.StopLoss, 1e-9)
	assert.InDelta(t, 2017.7, p.TP1, 1e-9)
	assert.InDelta(t, 0.15, p.Lots, 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(v.m.Pending.WithLabelValues("confirmed")))
	assert.Len(t, v.j.equity, 2)
}

func TestPendingExpiresAfterOneBar(t *testing.T) {
	t.Parallel()

	v := newEnv(t)
	require.NoError(t, v.e.Start(context.Background()))

	// one earlier bar teaches the engine the hourly spacing
	barP := barN.Add(-time.Hour)
	require.NoError(t, v.tick(t, mcAt(barP, barP, 1999)))

	v.det.on = true
	require.NoError(t, v.tick(t, mcAt(barN, barN, 2000)))
	require.True(t, v.c.Signals.Pending().Has())

	// no tick in bar N+1; the next one belongs to N+2
	v.det.on = false
	barN2 := barN.Add(2 * time.Hour)
	require.NoError(t, v.tick(t, mcAt(barN2, barN2, 2001)))

	assert.False(t, v.c.Signals.Pending().Has())
	assert.Zero(t, v.c.Positions.Count())
	assert.Equal(t, 1.0, testutil.ToFloat64(v.m.Pending.WithLabelValues("expired")))
}

func TestSignalConfirmedOnNextFourHourBar(t *testing.T) {
	t.Parallel()

	v := newEnv(t)
	require.NoError(t, v.e.Start(context.Background()))

	const h4 = 4 * time.Hour
	bar0 := barN.Add(-h4)
	require.NoError(t, v.tick(t, mcAt(bar0, bar0, 1999)))

	v.det.on = true
	require.NoError(t, v.tick(t, mcAt(barN, barN, 2000)))
	require.True(t, v.c.Signals.Pending().Has())

	v.det.on = false
	bar1 := barN.Add(h4)
	require.NoError(t, v.tick(t, mcAt(bar1, bar1, 2001)))

	assert.False(t, v.c.Signals.Pending().Has())
	require.Equal(t, 1, v.c.Positions.Count())
	assert.Equal(t, "ma-cross-bullish (Confirmed)", v.c.Positions.Positions()[0].Label)
	assert.Equal(t, 1.0, testutil.ToFloat64(v.m.Pending.WithLabelValues("confirmed")))
	assert.Zero(t, testutil.ToFloat64(v.m.Pending.WithLabelValues("expired")))
}

func TestFixedBarIntervalExpiresLongerBars(t *testing.T) {
	t.Parallel()

	v := newEnv(t)
	v.e = New(Config{BarInterval: time.Hour}, v.c, zerolog.Nop())
	require.NoError(t, v.e.Start(context.Background()))

	v.det.on = true
	require.NoError(t, v.tick(t, mcAt(barN, barN, 2000)))

	v.det.on = false
	bar1 := barN.Add(4 * time.Hour)
	require.NoError(t, v.tick(t, mcAt(bar1, bar1, 2001)))

	assert.Zero(t, v.c.Positions.Count())
	assert.Equal(t, 1.0, testutil.ToFloat64(v.m.Pending.WithLabelValues("expired")))
}

func TestPendingDroppedWhenRevalidationFails(t *testing.T) {
	t.Parallel()

	v := newEnv(t)
	require.NoError(t, v.e.Start(context.Background()))

	v.det.on = true
	require.NoError(t, v.tick(t, mcAt(barN, barN, 2000)))

	v.det.on = false
	barN1 := barN.Add(time.Hour)
	mc := mcAt(barN1, barN1, 2001)
	mc.ADX = 60
	require.NoError(t, v.tick(t, mc))
	assert.False(t, v.c.Signals.Pending().Has())
	assert.Equal(t, 1.0, testutil.ToFloat64(v.m.Pending.WithLabelValues("dropped")))

	barN2 := barN.Add(2 * time.Hour)
	require.NoError(t, v.tick(t, mcAt(barN2, barN2, 2001)))
	assert.Zero(t, v.c.Positions.Count())
	open, err := v.eng.OpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestHaltFlattensOnceAndBlocksSignals(t *testing.T) {
	t.Parallel()

	v := newEnv(t)
	v.eng.Inject(broker.OpenPosition{
		StrategyID: "bullion",
		Direction:  market.Long,
		Lots:       0.1,
		OpenPrice:  2000,
		Comment:    "ma-cross-bullish",
	})
	require.NoError(t, v.e.Start(context.Background()))
	require.Equal(t, 1, v.c.Positions.Count())

	// 0.1 lots * -4000 points = -$400, -4% of the day's balance
	v.det.on = true
	require.NoError(t, v.tick(t, mcAt(barN, barN, 1960)))

	assert.True(t, v.c.Risk.Halted())
	assert.Zero(t, v.c.Positions.Count())
	assert.Equal(t, 1, v.c.Monitor.Flattens())
	require.Len(t, v.j.trades, 1)
	assert.Equal(t, position.ReasonHalt, v.j.trades[0].Reason)
	assert.False(t, v.c.Signals.Pending().Has())
	assert.Equal(t, 1.0, testutil.ToFloat64(v.m.Rejections.WithLabelValues(string(risk.ErrDailyLossLimitHalted))))

	require.NoError(t, v.tick(t, mcAt(barN.Add(5*time.Minute), barN, 1990)))
	assert.Equal(t, 1, v.c.Monitor.Flattens())
	assert.Equal(t, 1.0, testutil.ToFloat64(v.m.Halts))
	assert.Equal(t, 1.0, testutil.ToFloat64(v.m.Flattens))
	assert.Equal(t, 1.0, testutil.ToFloat64(v.m.TradingHalted))
}

func TestStatus(t *testing.T) {
	t.Parallel()

	v := newEnv(t)
	require.NoError(t, v.e.Start(context.Background()))
	v.det.on = true
	require.NoError(t, v.tick(t, mcAt(barN, barN, 2000)))

	got, err := v.e.Status(context.Background())
	require.NoError(t, err)
	st, ok := got.(Status)
	require.True(t, ok)
	assert.True(t, st.Started)
	assert.Equal(t, 1, st.Ticks)
	assert.Equal(t, barN, st.LastBar)
	assert.NotEmpty(t, st.Pending)
}
