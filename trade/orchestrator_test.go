package trade

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/bullion/broker"
	"github.com/rustyeddy/bullion/broker/sim"
	"github.com/rustyeddy/bullion/market"
	"github.com/rustyeddy/bullion/patterns"
	"github.com/rustyeddy/bullion/position"
	"github.com/rustyeddy/bullion/risk"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type countingGateway struct {
	broker.Gateway
	opens int
}

func (g *countingGateway) OpenLong(ctx context.Context, req broker.OrderRequest) (broker.Ticket, error) {
	g.opens++
	return g.Gateway.OpenLong(ctx, req)
}

func (g *countingGateway) OpenShort(ctx context.Context, req broker.OrderRequest) (broker.Ticket, error) {
	g.opens++
	return g.Gateway.OpenShort(ctx, req)
}

type fixedTP struct{ tp1, tp2 float64 }

func (f fixedTP) Targets(market.Context, patterns.Pattern, market.Direction, float64, float64) (float64, float64, bool) {
	return f.tp1, f.tp2, true
}

type halfSizer struct{}

func (halfSizer) RiskPercent(base float64, _ patterns.Quality, _ patterns.Pattern) float64 {
	return base / 2
}

type env struct {
	eng *sim.Engine
	gw  *countingGateway
	rm  *risk.Manager
	mon *risk.Monitor
	pos *position.Coordinator
	o   *Orchestrator
}

type envOpts struct {
	trade   Config
	risk    risk.Config
	monitor risk.MonitorConfig
	opts    []Option
}

func newEnv(t *testing.T, eo envOpts) *env {
	t.Helper()

	meta := market.Instruments["XAU_USD"]
	eng := sim.NewEngine(broker.Account{Balance: 10000}, meta, "bullion")
	require.NoError(t, eng.UpdatePrice(market.Tick{Instrument: "XAU_USD", Time: t0, Bid: 2000, Ask: 2000.2}))

	e := &env{eng: eng, gw: &countingGateway{Gateway: eng}}
	e.rm = risk.NewManager(eo.risk, meta, eng, zerolog.Nop(), risk.WithClock(func() time.Time { return eng.Tick().Time }))
	e.pos = position.NewCoordinator(position.DefaultConfig(), e.gw, eng, e.rm, zerolog.Nop())
	e.mon = risk.NewMonitor(eo.monitor, e.rm, e.pos, nil, zerolog.Nop())
	e.o = NewOrchestrator(eo.trade, e.gw, e.mon, e.pos, zerolog.Nop(), append([]Option{WithStrategyID("bullion")}, eo.opts...)...)
	return e
}

func defaults() envOpts {
	tc := DefaultConfig()
	tc.CounterTrendFilter = false
	rc := risk.DefaultConfig()
	rc.ShortRiskMultiplier = 0.5
	return envOpts{trade: tc, risk: rc}
}

func mcAt(bid float64) market.Context {
	return market.Context{Instrument: "XAU_USD", Time: t0, Bid: bid, Ask: bid + 0.2, Regime: market.RegimeTrendingBull}
}

func TestGetRiskForQuality(t *testing.T) {
	t.Parallel()

	e := newEnv(t, defaults())
	tests := []struct {
		q    patterns.Quality
		p    patterns.Pattern
		want float64
	}{
		{patterns.QualityAPlus, patterns.None, 2.0},
		{patterns.QualityA, patterns.MACrossBullish, 1.5 * 1.15},
		{patterns.QualityA, patterns.MACrossBearish, 1.5 * 1.15},
		{patterns.QualityBPlus, patterns.BearishPinBar, 1.0 * 1.05},
		{patterns.QualityB, patterns.BandReversionLong, 0.5},
		{patterns.QualityNone, patterns.MACrossBullish, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, e.o.GetRiskForQuality(tt.q, tt.p), 1e-12, "%s %s", tt.q, tt.p)
	}
}

func TestFixedTargets(t *testing.T) {
	t.Parallel()

	e := newEnv(t, defaults())
	tp1, tp2 := e.o.FixedTargets(market.Short, 2000, 2010)
	assert.InDelta(t, 1985, tp1, 1e-9)
	assert.InDelta(t, 1970, tp2, 1e-9)
}

func TestExecuteTradeRejectsLowRRBeforeGateway(t *testing.T) {
	t.Parallel()

	e := newEnv(t, defaults())
	// ask 2000.00
	mc := mcAt(1999.8)

	_, err := e.o.ExecuteTrade(context.Background(), mc, Request{
		Direction: market.Long,
		Lots:      0.1,
		StopLoss:  1990,
		TP1:       2012,
		Quality:   patterns.QualityA,
		Pattern:   patterns.BullishEngulfing,
	})
	assert.ErrorIs(t, err, risk.ErrRewardRiskTooLow)
	assert.Zero(t, e.gw.opens)
	assert.Zero(t, e.pos.Count())
	assert.Zero(t, e.mon.TradesToday())
}

func TestExecuteTradeRejectsTargetBehindEntry(t *testing.T) {
	t.Parallel()

	e := newEnv(t, defaults())
	// 4R of distance, but on the stop's side
	_, err := e.o.ExecuteTrade(context.Background(), mcAt(1999.8), Request{
		Direction: market.Long,
		Lots:      0.1,
		StopLoss:  1990,
		TP1:       1960,
		RiskPct:   1,
		Quality:   patterns.QualityA,
		Pattern:   patterns.BullishEngulfing,
	})
	assert.ErrorIs(t, err, risk.ErrRewardRiskTooLow)
	assert.Zero(t, e.gw.opens)
	assert.Zero(t, e.pos.Count())
}

func TestExecuteTradeRejectsWeekendWindow(t *testing.T) {
	t.Parallel()

	e := newEnv(t, defaults())
	mc := mcAt(2000)
	// Friday 20:00, the default weekend close
	mc.Time = time.Date(2024, 3, 8, 20, 0, 0, 0, time.UTC)

	_, err := e.o.ExecuteTrade(context.Background(), mc, Request{
		Direction: market.Long, Lots: 0.1, StopLoss: 1990, TP1: 2030, RiskPct: 1,
	})
	assert.ErrorIs(t, err, risk.ErrSessionNotAllowed)
	assert.Contains(t, err.Error(), "weekend")
	assert.Zero(t, e.gw.opens)
	assert.Zero(t, e.pos.Count())

	// an hour earlier is still tradable
	mc.Time = mc.Time.Add(-time.Hour)
	_, err = e.o.ExecuteTrade(context.Background(), mc, Request{
		Direction: market.Long, Lots: 0.1, StopLoss: 1990, TP1: 2030, RiskPct: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, e.gw.opens)
}

func TestExecuteTradeRegistersEverywhere(t *testing.T) {
	t.Parallel()

	e := newEnv(t, defaults())
	ctx := context.Background()

	ticket, err := e.o.ExecuteTrade(ctx, mcAt(2000), Request{
		Direction: market.Long,
		Lots:      0.1,
		StopLoss:  1990.2,
		TP1:       2015.2,
		TP2:       2030.2,
		Quality:   patterns.QualityA,
		Pattern:   patterns.BullishEngulfing,
		RiskPct:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, e.gw.opens)

	p := e.pos.Find(ticket)
	require.NotNil(t, p)
	assert.InDelta(t, 2000.2, p.Entry, 1e-9)
	assert.InDelta(t, 1.0, p.InitialRiskPct(), 1e-12)
	assert.Equal(t, "bullish-engulfing", p.Label)
	assert.True(t, e.rm.Tracks(ticket))
	assert.InDelta(t, 1.0, e.rm.CurrentExposure(), 1e-12)
	assert.Equal(t, 1, e.mon.TradesToday())

	live, ok, err := e.eng.Position(ctx, ticket)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 2030.2, live.TakeProfit, 1e-9)
	assert.Equal(t, "bullion", live.StrategyID)
	assert.Equal(t, "bullish-engulfing", live.Comment)
}

func TestExecuteTradeDerivesRisk(t *testing.T) {
	t.Parallel()

	e := newEnv(t, defaults())

	ticket, err := e.o.ExecuteTrade(context.Background(), mcAt(2000), Request{
		Direction: market.Long,
		Lots:      0.2,
		StopLoss:  1990.2,
		TP1:       2030.2,
		Pattern:   patterns.MACrossBullish,
	})
	require.NoError(t, err)
	// 0.2 lots * 1000 points * $1 = $200 of $10000
	assert.InDelta(t, 2.0, e.pos.Find(ticket).InitialRiskPct(), 1e-9)
}

func TestExecuteTradeDailyLimit(t *testing.T) {
	t.Parallel()

	eo := defaults()
	eo.monitor.MaxTradesPerDay = 1
	e := newEnv(t, eo)
	ctx := context.Background()
	req := Request{Direction: market.Long, Lots: 0.1, StopLoss: 1990.2, TP1: 2030.2, RiskPct: 1}

	_, err := e.o.ExecuteTrade(ctx, mcAt(2000), req)
	require.NoError(t, err)

	_, err = e.o.ExecuteTrade(ctx, mcAt(2000), req)
	assert.ErrorIs(t, err, risk.ErrDailyTradeLimitReached)
	assert.Equal(t, 1, e.gw.opens)
}

func TestExecuteTradeCounterTrendHalvesRisk(t *testing.T) {
	t.Parallel()

	eo := defaults()
	eo.trade.CounterTrendFilter = true
	e := newEnv(t, eo)

	mc := mcAt(2000)
	mc.LongMA = 2050

	ticket, err := e.o.ExecuteTrade(context.Background(), mc, Request{
		Direction: market.Long,
		Lots:      0.2,
		StopLoss:  1990.2,
		TP1:       2030.2,
		RiskPct:   2,
	})
	require.NoError(t, err)

	p := e.pos.Find(ticket)
	require.NotNil(t, p)
	assert.InDelta(t, 1.0, p.InitialRiskPct(), 1e-12)
	assert.InDelta(t, 0.1, p.Lots, 1e-9)
}

func TestExecuteTradeGatewayFailureLeavesNoState(t *testing.T) {
	t.Parallel()

	e := newEnv(t, defaults())
	e.eng.SetRejectOrders(true)

	_, err := e.o.ExecuteTrade(context.Background(), mcAt(2000), Request{
		Direction: market.Long, Lots: 0.1, StopLoss: 1990.2, TP1: 2030.2, RiskPct: 1,
	})
	assert.ErrorIs(t, err, broker.ErrOrderRejected)
	assert.False(t, risk.IsRejection(err))
	assert.Zero(t, e.pos.Count())
	assert.Zero(t, e.rm.Count())
	assert.Zero(t, e.mon.TradesToday())
}

func TestExecuteTradeWrongSideStop(t *testing.T) {
	t.Parallel()

	e := newEnv(t, defaults())
	_, err := e.o.ExecuteTrade(context.Background(), mcAt(2000), Request{
		Direction: market.Short, Lots: 0.1, StopLoss: 1990, TP1: 1970, RiskPct: 1,
	})
	assert.ErrorIs(t, err, risk.ErrInvalidStopDistance)
}

func TestProcessConfirmedSignalRepricesAndWidens(t *testing.T) {
	t.Parallel()

	eo := defaults()
	eo.trade.TP1Multiplier = 1.0
	eo.trade.TP2Multiplier = 1.2
	e := newEnv(t, eo)

	setup := Setup{
		Direction: market.Long,
		Pattern:   patterns.MACrossBullish,
		Label:     "ma-cross-bullish",
		Quality:   patterns.QualityA,
		Entry:     1995, // stale detection price
		Stop:      1990.2,
		TP1:       2000,
		TP2:       2005,
	}

	// ask 2000.2, risk distance 10
	ticket, err := e.o.ProcessConfirmedSignal(context.Background(), mcAt(2000), setup)
	require.NoError(t, err)

	p := e.pos.Find(ticket)
	require.NotNil(t, p)
	assert.InDelta(t, 2000.2, p.Entry, 1e-9)
	assert.InDelta(t, 2015.2, p.TP1, 1e-9)
	assert.InDelta(t, 2022.7, p.TP2, 1e-9)
	assert.Equal(t, "ma-cross-bullish (Confirmed)", p.Label)
	// 1.5% * 1.15
	assert.InDelta(t, 1.725, p.InitialRiskPct(), 1e-9)
	// $172.50 over 1000 points
	assert.InDelta(t, 0.17, p.Lots, 1e-9)
}

func TestProcessConfirmedSignalShortMultiplier(t *testing.T) {
	t.Parallel()

	e := newEnv(t, defaults())

	ticket, err := e.o.ProcessConfirmedSignal(context.Background(), mcAt(2000), Setup{
		Direction: market.Short,
		Pattern:   patterns.BearishEngulfing,
		Quality:   patterns.QualityAPlus,
		Stop:      2010,
	})
	require.NoError(t, err)

	p := e.pos.Find(ticket)
	require.NotNil(t, p)
	assert.InDelta(t, 2.0*1.05*0.5, p.InitialRiskPct(), 1e-9)
	assert.InDelta(t, 1985, p.TP1, 1e-9)
	assert.InDelta(t, 1970, p.TP2, 1e-9)
}

func TestProcessConfirmedSignalAdaptiveAndDynamic(t *testing.T) {
	t.Parallel()

	eo := defaults()
	eo.trade.UseAdaptiveTP = true
	eo.trade.UseDynamicSizing = true
	eo.opts = []Option{WithAdaptiveTP(fixedTP{tp1: 2025.2, tp2: 2040.2}), WithSizer(halfSizer{})}
	e := newEnv(t, eo)

	ticket, err := e.o.ProcessConfirmedSignal(context.Background(), mcAt(2000), Setup{
		Direction: market.Long,
		Pattern:   patterns.BandReversionLong,
		Quality:   patterns.QualityBPlus,
		Stop:      1990.2,
	})
	require.NoError(t, err)

	p := e.pos.Find(ticket)
	require.NotNil(t, p)
	assert.InDelta(t, 2025.2, p.TP1, 1e-9)
	assert.InDelta(t, 2040.2, p.TP2, 1e-9)
	assert.InDelta(t, 0.5, p.InitialRiskPct(), 1e-9)
}

func TestProcessConfirmedSignalAdmissionGate(t *testing.T) {
	t.Parallel()

	eo := defaults()
	eo.risk.MaxPositions = 1
	e := newEnv(t, eo)
	ctx := context.Background()
	setup := Setup{Direction: market.Long, Pattern: patterns.MACrossBullish, Quality: patterns.QualityB, Stop: 1990.2}

	_, err := e.o.ProcessConfirmedSignal(ctx, mcAt(2000), setup)
	require.NoError(t, err)

	_, err = e.o.ProcessConfirmedSignal(ctx, mcAt(2000), setup)
	assert.ErrorIs(t, err, risk.ErrPositionCountLimit)
	assert.Equal(t, 1, e.gw.opens)
}

func TestProcessConfirmedSignalNoQuality(t *testing.T) {
	t.Parallel()

	e := newEnv(t, defaults())
	_, err := e.o.ProcessConfirmedSignal(context.Background(), mcAt(2000), Setup{
		Direction: market.Long, Pattern: patterns.MACrossBullish, Stop: 1990.2,
	})
	assert.ErrorIs(t, err, risk.ErrValidationFailed)
	assert.Zero(t, e.gw.opens)
}
