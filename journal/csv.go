package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var (
	entryHeader  = []string{"run_id", "trade_id", "instrument", "direction", "pattern", "quality", "lots", "entry_price", "stop_loss", "tp1", "tp2", "risk_pct", "open_time"}
	tradeHeader  = []string{"run_id", "trade_id", "instrument", "direction", "pattern", "quality", "lots", "entry_price", "exit_price", "risk_pct", "open_time", "close_time", "realized_pl", "reason"}
	equityHeader = []string{"run_id", "time", "balance", "equity", "margin_used", "free_margin", "margin_level"}
)

// CSV writes entries.csv, trades.csv and equity.csv into one directory.
type CSV struct {
	entries *csv.Writer
	trades  *csv.Writer
	equity  *csv.Writer
	files   []*os.File
}

func NewCSV(dir string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	j := &CSV{}
	var err error
	if j.entries, err = j.create(filepath.Join(dir, "entries.csv"), entryHeader); err != nil {
		j.Close()
		return nil, err
	}
	if j.trades, err = j.create(filepath.Join(dir, "trades.csv"), tradeHeader); err != nil {
		j.Close()
		return nil, err
	}
	if j.equity, err = j.create(filepath.Join(dir, "equity.csv"), equityHeader); err != nil {
		j.Close()
		return nil, err
	}
	return j, nil
}

func (j *CSV) create(path string, header []string) (*csv.Writer, error) {
	fh, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	j.files = append(j.files, fh)

	w := csv.NewWriter(fh)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	w.Flush()
	return w, w.Error()
}

func (j *CSV) RecordEntry(e EntryRecord) error {
	return write(j.entries, []string{
		e.RunID,
		e.TradeID,
		e.Instrument,
		e.Direction,
		e.Pattern,
		e.Quality,
		f(e.Lots),
		f(e.EntryPrice),
		f(e.StopLoss),
		f(e.TP1),
		f(e.TP2),
		f(e.RiskPct),
		e.OpenTime.Format(time.RFC3339),
	})
}

func (j *CSV) RecordTrade(t TradeRecord) error {
	return write(j.trades, []string{
		t.RunID,
		t.TradeID,
		t.Instrument,
		t.Direction,
		t.Pattern,
		t.Quality,
		f(t.Lots),
		f(t.EntryPrice),
		f(t.ExitPrice),
		f(t.RiskPct),
		t.OpenTime.Format(time.RFC3339),
		t.CloseTime.Format(time.RFC3339),
		f(t.RealizedPL),
		t.Reason,
	})
}

func (j *CSV) RecordEquity(e EquitySnapshot) error {
	return write(j.equity, []string{
		e.RunID,
		e.Time.Format(time.RFC3339),
		f(e.Balance),
		f(e.Equity),
		f(e.MarginUsed),
		f(e.FreeMargin),
		f(e.MarginLevel),
	})
}

func (j *CSV) Close() error {
	var first error
	for _, w := range []*csv.Writer{j.entries, j.trades, j.equity} {
		if w == nil {
			continue
		}
		w.Flush()
		if err := w.Error(); err != nil && first == nil {
			first = err
		}
	}
	for _, fh := range j.files {
		if err := fh.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func write(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
