package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()

	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()

	rows, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVJournalHeaders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := NewCSV(dir)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.Equal(t, entryHeader, readCSV(t, filepath.Join(dir, "entries.csv"))[0])
	assert.Equal(t, tradeHeader, readCSV(t, filepath.Join(dir, "trades.csv"))[0])
	assert.Equal(t, equityHeader, readCSV(t, filepath.Join(dir, "equity.csv"))[0])
}

func TestCSVJournalRecordTrade(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := NewCSV(dir)
	require.NoError(t, err)

	open := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	closeT := time.Date(2024, 1, 2, 4, 5, 6, 0, time.UTC)

	err = j.RecordTrade(TradeRecord{
		RunID:      "R1",
		TradeID:    "1001",
		Instrument: "XAU_USD",
		Direction:  "long",
		Pattern:    "MA Cross Bullish",
		Quality:    "A",
		Lots:       0.2,
		EntryPrice: 2000.2,
		ExitPrice:  1990,
		RiskPct:    2,
		OpenTime:   open,
		CloseTime:  closeT,
		RealizedPL: -204,
		Reason:     "broker",
	})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	rows := readCSV(t, filepath.Join(dir, "trades.csv"))
	require.Len(t, rows, 2)

	want := []string{
		"R1",
		"1001",
		"XAU_USD",
		"long",
		"MA Cross Bullish",
		"A",
		"0.200000",
		"2000.200000",
		"1990.000000",
		"2.000000",
		open.Format(time.RFC3339),
		closeT.Format(time.RFC3339),
		"-204.000000",
		"broker",
	}
	assert.Equal(t, want, rows[1])
}

func TestCSVJournalRecordEntryAndEquity(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := NewCSV(dir)
	require.NoError(t, err)

	ts := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	require.NoError(t, j.RecordEntry(EntryRecord{TradeID: "1001", Instrument: "XAU_USD", Lots: 0.1, OpenTime: ts}))
	require.NoError(t, j.RecordEquity(EquitySnapshot{Time: ts, Balance: 1000.1, Equity: 999.9}))
	require.NoError(t, j.Close())

	entries := readCSV(t, filepath.Join(dir, "entries.csv"))
	require.Len(t, entries, 2)
	assert.Equal(t, "1001", entries[1][1])
	assert.Equal(t, "0.100000", entries[1][6])

	equity := readCSV(t, filepath.Join(dir, "equity.csv"))
	require.Len(t, equity, 2)
	assert.Equal(t, ts.Format(time.RFC3339), equity[1][1])
	assert.Equal(t, "1000.100000", equity[1][2])
}
