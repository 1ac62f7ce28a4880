package journal

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB

	// RunID is stamped on records that do not carry one.
	RunID string
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) run(id string) string {
	if id != "" {
		return id
	}
	return j.RunID
}

func (j *SQLite) RecordEntry(e EntryRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO entries
		(run_id, trade_id, instrument, direction, pattern, quality, lots, entry_price, stop_loss, tp1, tp2, risk_pct, open_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.run(e.RunID), e.TradeID, e.Instrument, e.Direction, e.Pattern, e.Quality,
		e.Lots, e.EntryPrice, e.StopLoss, e.TP1, e.TP2, e.RiskPct, e.OpenTime,
	)
	return err
}

func (j *SQLite) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(run_id, trade_id, instrument, direction, pattern, quality, lots, entry_price, exit_price, risk_pct, open_time, close_time, realized_pl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.run(t.RunID), t.TradeID, t.Instrument, t.Direction, t.Pattern, t.Quality,
		t.Lots, t.EntryPrice, t.ExitPrice, t.RiskPct, t.OpenTime, t.CloseTime, t.RealizedPL, t.Reason,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(run_id, time, balance, equity, margin_used, free_margin, margin_level)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.run(e.RunID), e.Time, e.Balance, e.Equity, e.MarginUsed, e.FreeMargin, e.MarginLevel,
	)
	return err
}

func (j *SQLite) RecordBacktest(ctx context.Context, r BacktestRun) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_runs
		(run_id, created, instrument, dataset, start_time, end_time, trades, wins, losses,
		 start_balance, end_balance, net_pl, max_dd_pct, profit_factor)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Created, r.Instrument, r.Dataset, r.Start, r.End, r.Trades, r.Wins, r.Losses,
		r.StartBalance, r.EndBalance, r.NetPL, r.MaxDDPct, r.ProfitFactor,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
