package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trade(id string, closeAt time.Time, pl float64) TradeRecord {
	return TradeRecord{
		TradeID:    id,
		Instrument: "XAU_USD",
		Direction:  "long",
		Pattern:    "MA Cross Bullish",
		Quality:    "A",
		Lots:       0.1,
		EntryPrice: 2000,
		ExitPrice:  2000 + pl/10,
		RiskPct:    1,
		OpenTime:   closeAt.Add(-time.Hour),
		CloseTime:  closeAt,
		RealizedPL: pl,
		Reason:     "broker",
	}
}

func TestGetTrade(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	want := trade("1001", time.Date(2024, 4, 10, 15, 30, 0, 0, time.UTC), 375)
	require.NoError(t, j.RecordTrade(want))

	got, err := j.GetTrade("1001")
	require.NoError(t, err)

	assert.Equal(t, "RUN1", got.RunID)
	assert.Equal(t, want.TradeID, got.TradeID)
	assert.Equal(t, want.Pattern, got.Pattern)
	assert.Equal(t, want.Direction, got.Direction)
	assert.InDelta(t, want.Lots, got.Lots, 1e-9)
	assert.InDelta(t, want.ExitPrice, got.ExitPrice, 1e-9)
	assert.True(t, got.OpenTime.Equal(want.OpenTime))
	assert.True(t, got.CloseTime.Equal(want.CloseTime))
	assert.InDelta(t, want.RealizedPL, got.RealizedPL, 1e-6)
	assert.Equal(t, want.Reason, got.Reason)
}

func TestGetTradeNotFound(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	_, err := j.GetTrade("nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordTradeDuplicateRejected(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	rec := trade("1001", time.Now().UTC(), 10)
	require.NoError(t, j.RecordTrade(rec))
	assert.Error(t, j.RecordTrade(rec))

	rec.RunID = "RUN2"
	assert.NoError(t, j.RecordTrade(rec))
}

func TestListTradesClosedBetween(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordTrade(trade("3", base.Add(72*time.Hour), 30)))
	require.NoError(t, j.RecordTrade(trade("1", base.Add(2*time.Hour), 10)))
	require.NoError(t, j.RecordTrade(trade("2", base.Add(26*time.Hour), -20)))

	got, err := j.ListTradesClosedBetween(base, base.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].TradeID)
	assert.Equal(t, "2", got[1].TradeID)

	got, err = j.ListTradesClosedBetween(base.Add(-48*time.Hour), base)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListTradesByRunID(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordTrade(trade("1", base, 10)))
	other := trade("1", base, 10)
	other.RunID = "RUN2"
	require.NoError(t, j.RecordTrade(other))

	got, err := j.ListTradesByRunID(context.Background(), "RUN2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "RUN2", got[0].RunID)
}
