package sim

import (
	"context"
	"testing"
	"time"

	"github.com/rustyeddy/bullion/broker"
	"github.com/rustyeddy/bullion/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, balance float64) *Engine {
	t.Helper()
	e := NewEngine(broker.Account{ID: "SIM", Currency: "USD", Balance: balance}, market.Instruments["XAU_USD"], "bullion")
	setPrice(t, e, 2000.00, 2000.20, t0)
	return e
}

func setPrice(t *testing.T, e *Engine, bid, ask float64, tm time.Time) {
	t.Helper()
	require.NoError(t, e.UpdatePrice(market.Tick{Instrument: "XAU_USD", Time: tm, Bid: bid, Ask: ask}))
}

func TestEngineOpenLongFillsAtAsk(t *testing.T) {
	t.Parallel()

	e := newEngine(t, 10000)
	ctx := context.Background()

	ticket, err := e.OpenLong(ctx, broker.OrderRequest{Lots: 0.5, StopLoss: 1990, TakeProfit: 2020})
	require.NoError(t, err)

	p, ok, err := e.Position(ctx, ticket)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 2000.20, p.OpenPrice, 1e-9)
	assert.Equal(t, market.Long, p.Direction)
	assert.Equal(t, "bullion", p.StrategyID)
}

func TestEngineRevalueLong(t *testing.T) {
	t.Parallel()

	e := newEngine(t, 10000)
	ctx := context.Background()

	_, err := e.OpenLong(ctx, broker.OrderRequest{Lots: 1})
	require.NoError(t, err)

	setPrice(t, e, 2005.20, 2005.40, t0.Add(time.Minute))

	acct, err := e.Account(ctx)
	require.NoError(t, err)

	// 5.00 move = 500 points * $1 * 1 lot
	assert.InDelta(t, 10000, acct.Balance, 1e-6)
	assert.InDelta(t, 10500, acct.Equity, 1e-6)
	assert.InDelta(t, 500, acct.Floating(), 1e-6)
}

func TestEngineStopLossClosesShortOnAsk(t *testing.T) {
	t.Parallel()

	e := newEngine(t, 10000)
	ctx := context.Background()

	ticket, err := e.OpenShort(ctx, broker.OrderRequest{Lots: 0.1, StopLoss: 2010})
	require.NoError(t, err)

	setPrice(t, e, 2009.90, 2010.10, t0.Add(time.Hour))

	_, open, err := e.Position(ctx, ticket)
	require.NoError(t, err)
	assert.False(t, open)

	ct, ok, err := e.History(ctx, ticket)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ReasonStopLoss, ct.Reason)
	// entry 2000.00 (bid), exit 2010: -1000 points * 0.1 lot
	assert.InDelta(t, -100, ct.Profit, 1e-6)

	realized, err := e.RealizedSince(ctx, t0)
	require.NoError(t, err)
	assert.InDelta(t, -100, realized, 1e-6)
}

func TestEngineUpdateCandleStopFirst(t *testing.T) {
	t.Parallel()

	e := newEngine(t, 10000)
	ctx := context.Background()

	ticket, err := e.OpenLong(ctx, broker.OrderRequest{Lots: 0.1, StopLoss: 1995, TakeProfit: 2010})
	require.NoError(t, err)

	bar := market.Candle{Time: t0.Add(time.Hour), Open: 2000, High: 2012, Low: 1994, Close: 2001}
	require.NoError(t, e.UpdateCandle(bar, 0.2))

	ct, ok, err := e.History(ctx, ticket)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ReasonStopLoss, ct.Reason)
	assert.InDelta(t, 1995, ct.ClosePrice, 1e-9)
}

func TestEngineCloseErrors(t *testing.T) {
	t.Parallel()

	e := newEngine(t, 10000)
	ctx := context.Background()

	err := e.ClosePosition(ctx, 42)
	assert.ErrorIs(t, err, broker.ErrPositionNotFound)

	ticket, err := e.OpenLong(ctx, broker.OrderRequest{Lots: 0.1})
	require.NoError(t, err)
	require.NoError(t, e.ClosePosition(ctx, ticket))

	err = e.ClosePosition(ctx, ticket)
	assert.ErrorIs(t, err, broker.ErrPositionAlreadyClosed)
}

func TestEngineCloseAllOnlyOwnStrategy(t *testing.T) {
	t.Parallel()

	e := newEngine(t, 10000)
	ctx := context.Background()

	_, err := e.OpenLong(ctx, broker.OrderRequest{Lots: 0.1})
	require.NoError(t, err)
	foreign := e.Inject(broker.OpenPosition{StrategyID: "manual", Direction: market.Long, Lots: 0.1, OpenPrice: 2000})

	require.NoError(t, e.CloseAll(ctx))

	open, err := e.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, foreign, open[0].Ticket)
}

func TestEngineRejectsWithoutMargin(t *testing.T) {
	t.Parallel()

	e := newEngine(t, 1000)

	// 1 lot of gold at 2000 needs 2000 margin at 1%
	_, err := e.OpenLong(context.Background(), broker.OrderRequest{Lots: 1})
	assert.ErrorIs(t, err, ErrInsufficientMargin)
}

func TestEngineRejectOrders(t *testing.T) {
	t.Parallel()

	e := newEngine(t, 10000)
	e.SetRejectOrders(true)

	_, err := e.OpenLong(context.Background(), broker.OrderRequest{Lots: 0.1})
	assert.ErrorIs(t, err, broker.ErrOrderRejected)
}
