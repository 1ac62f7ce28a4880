package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

const tradeColumns = `run_id, trade_id, instrument, direction, pattern, quality, lots, entry_price, exit_price,
	risk_pct, open_time, close_time, realized_pl, reason`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (TradeRecord, error) {
	var rec TradeRecord
	err := s.Scan(
		&rec.RunID,
		&rec.TradeID,
		&rec.Instrument,
		&rec.Direction,
		&rec.Pattern,
		&rec.Quality,
		&rec.Lots,
		&rec.EntryPrice,
		&rec.ExitPrice,
		&rec.RiskPct,
		&rec.OpenTime,
		&rec.CloseTime,
		&rec.RealizedPL,
		&rec.Reason,
	)
	return rec, err
}

// GetTrade returns one closed trade of the journal's run.
func (j *SQLite) GetTrade(tradeID string) (TradeRecord, error) {
	row := j.db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE run_id = ? AND trade_id = ?`, j.RunID, tradeID)

	rec, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TradeRecord{}, fmt.Errorf("trade %q: %w", tradeID, ErrNotFound)
		}
		return TradeRecord{}, err
	}
	return rec, nil
}

// ListTradesClosedBetween returns trades of every run whose close_time is
// within [start, end).
func (j *SQLite) ListTradesClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	return j.listTrades(`SELECT `+tradeColumns+` FROM trades
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC`, start, end)
}

// ListTradesByRunID returns the trades of one run in close order.
func (j *SQLite) ListTradesByRunID(ctx context.Context, runID string) ([]TradeRecord, error) {
	return j.listTrades(`SELECT `+tradeColumns+` FROM trades
		WHERE run_id = ?
		ORDER BY close_time ASC`, runID)
}

func (j *SQLite) listTrades(query string, args ...any) ([]TradeRecord, error) {
	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) ListEquityBetween(start, end time.Time) ([]EquitySnapshot, error) {
	rows, err := j.db.Query(`
		SELECT run_id, time, balance, equity, margin_used, free_margin, margin_level
		FROM equity
		WHERE time >= ? AND time < ?
		ORDER BY time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(&e.RunID, &e.Time, &e.Balance, &e.Equity, &e.MarginUsed, &e.FreeMargin, &e.MarginLevel); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) GetBacktestRun(ctx context.Context, runID string) (BacktestRun, error) {
	var r BacktestRun
	err := j.db.QueryRowContext(ctx, `
		SELECT run_id, created, instrument, dataset, start_time, end_time, trades, wins, losses,
		       start_balance, end_balance, net_pl, max_dd_pct, profit_factor
		FROM backtest_runs WHERE run_id = ?`, runID).Scan(
		&r.RunID, &r.Created, &r.Instrument, &r.Dataset, &r.Start, &r.End, &r.Trades, &r.Wins, &r.Losses,
		&r.StartBalance, &r.EndBalance, &r.NetPL, &r.MaxDDPct, &r.ProfitFactor,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BacktestRun{}, fmt.Errorf("backtest run %q: %w", runID, ErrNotFound)
		}
		return BacktestRun{}, err
	}
	return r, nil
}
