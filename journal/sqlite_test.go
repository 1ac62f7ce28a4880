package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	j.RunID = "RUN1"

	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	for _, name := range []string{"entries", "trades", "equity", "backtest_runs"} {
		assert.True(t, found[name], name)
	}
}

func TestSQLiteReopenKeepsSchema(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.RecordEntry(EntryRecord{TradeID: "1", OpenTime: time.Now()}))
	require.NoError(t, j.Close())

	j2, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, j2.Close())
}

func TestSQLiteRecordEntryStampsRunID(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)

	open := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, j.RecordEntry(EntryRecord{
		TradeID:    "1001",
		Instrument: "XAU_USD",
		Direction:  "short",
		Pattern:    "Bearish Engulfing",
		Quality:    "B+",
		Lots:       0.15,
		EntryPrice: 2000,
		StopLoss:   2010,
		TP1:        1985,
		TP2:        1975,
		RiskPct:    1.5,
		OpenTime:   open,
	}))
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var (
		runID   string
		lots    float64
		tp2     float64
		openGot time.Time
	)
	err = db.QueryRow(`SELECT run_id, lots, tp2, open_time FROM entries WHERE trade_id = '1001'`).Scan(&runID, &lots, &tp2, &openGot)
	require.NoError(t, err)

	assert.Equal(t, "RUN1", runID)
	assert.InDelta(t, 0.15, lots, 1e-9)
	assert.InDelta(t, 1975, tp2, 1e-9)
	assert.True(t, openGot.Equal(open))
}

func TestSQLiteRecordEquity(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	ts := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	rec := EquitySnapshot{
		Time:        ts,
		Balance:     1000.1,
		Equity:      999.9,
		MarginUsed:  10.5,
		FreeMargin:  989.4,
		MarginLevel: 99.99,
	}
	require.NoError(t, j.RecordEquity(rec))

	got, err := j.ListEquityBetween(ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "RUN1", got[0].RunID)
	assert.True(t, got[0].Time.Equal(ts))
	assert.InDelta(t, rec.Equity, got[0].Equity, 1e-6)
	assert.InDelta(t, rec.MarginLevel, got[0].MarginLevel, 1e-6)
}

func TestSQLiteBacktestRun(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()
	ctx := context.Background()

	run := BacktestRun{
		RunID:        "RUN1",
		Created:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Instrument:   "XAU_USD",
		Dataset:      "xau_h1.csv",
		Start:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:          time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC),
		Trades:       12,
		Wins:         7,
		Losses:       5,
		StartBalance: 10000,
		EndBalance:   10450,
		NetPL:        450,
		MaxDDPct:     2.1,
		ProfitFactor: 1.6,
	}
	require.NoError(t, j.RecordBacktest(ctx, run))

	got, err := j.GetBacktestRun(ctx, "RUN1")
	require.NoError(t, err)
	assert.Equal(t, run.Trades, got.Trades)
	assert.Equal(t, run.Dataset, got.Dataset)
	assert.InDelta(t, run.EndBalance, got.EndBalance, 1e-9)
	assert.True(t, got.Start.Equal(run.Start))

	_, err = j.GetBacktestRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
