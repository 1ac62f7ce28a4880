package journal

const Schema = `
CREATE TABLE IF NOT EXISTS entries (
	run_id TEXT NOT NULL,
	trade_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	direction TEXT NOT NULL,
	pattern TEXT NOT NULL,
	quality TEXT NOT NULL,
	lots REAL NOT NULL,
	entry_price REAL NOT NULL,
	stop_loss REAL NOT NULL,
	tp1 REAL NOT NULL,
	tp2 REAL NOT NULL,
	risk_pct REAL NOT NULL,
	open_time DATETIME NOT NULL,
	PRIMARY KEY (run_id, trade_id)
);

CREATE TABLE IF NOT EXISTS trades (
	run_id TEXT NOT NULL,
	trade_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	direction TEXT NOT NULL,
	pattern TEXT NOT NULL,
	quality TEXT NOT NULL,
	lots REAL NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	risk_pct REAL NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL,
	realized_pl REAL NOT NULL,
	reason TEXT NOT NULL,
	PRIMARY KEY (run_id, trade_id)
);

CREATE INDEX IF NOT EXISTS idx_trades_close_time ON trades(close_time);

CREATE TABLE IF NOT EXISTS equity (
	run_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	balance REAL NOT NULL,
	equity REAL NOT NULL,
	margin_used REAL NOT NULL,
	free_margin REAL NOT NULL,
	margin_level REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);

CREATE TABLE IF NOT EXISTS backtest_runs (
	run_id TEXT PRIMARY KEY,
	created DATETIME NOT NULL,
	instrument TEXT NOT NULL,
	dataset TEXT NOT NULL,
	start_time DATETIME NOT NULL,
	end_time DATETIME NOT NULL,
	trades INTEGER NOT NULL,
	wins INTEGER NOT NULL,
	losses INTEGER NOT NULL,
	start_balance REAL NOT NULL,
	end_balance REAL NOT NULL,
	net_pl REAL NOT NULL,
	max_dd_pct REAL NOT NULL,
	profit_factor REAL NOT NULL
);
`
