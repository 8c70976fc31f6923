package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS signals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    signal_type TEXT NOT NULL CHECK (signal_type IN ('buy', 'sell')),
    price REAL NOT NULL CHECK (price >= 0),
    ema_metrics TEXT,
    confirmation_metrics TEXT,
    strategy TEXT NOT NULL,
    detected_at TEXT NOT NULL,
    processed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ai_decisions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    signal_id INTEGER NOT NULL UNIQUE,
    user_config_id INTEGER,
    symbol TEXT NOT NULL,
    fast_timeframe TEXT,
    slow_timeframe TEXT,
    strategy TEXT,
    signal TEXT,
    action TEXT NOT NULL CHECK (action IN ('BUY', 'SELL', 'HOLD')),
    confidence TEXT,
    risk_score REAL DEFAULT 0,
    position_size_pct REAL DEFAULT 0,
    stop_loss_pct REAL DEFAULT 0,
    take_profit_pct REAL DEFAULT 0,
    rationale TEXT,
    key_factors TEXT,
    source TEXT,
    model_name TEXT,
    tools_used TEXT,
    created_at TEXT NOT NULL,
    FOREIGN KEY(signal_id) REFERENCES signals(id)
);

CREATE TABLE IF NOT EXISTS trades (
    entry_order_id TEXT PRIMARY KEY,
    signal_id INTEGER,
    ai_decision_id INTEGER,
    user_config_id INTEGER,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity REAL NOT NULL DEFAULT 0 CHECK (quantity >= 0),
    entry_price REAL NOT NULL DEFAULT 0 CHECK (entry_price >= 0),
    initial_stop_loss REAL NOT NULL DEFAULT 0 CHECK (initial_stop_loss >= 0),
    order_status TEXT NOT NULL,
    entry_fill_price REAL NOT NULL DEFAULT 0 CHECK (entry_fill_price >= 0),
    entry_fill_quantity REAL NOT NULL DEFAULT 0 CHECK (entry_fill_quantity >= 0),
    exit_algo_id TEXT UNIQUE,
    amended_stop_loss REAL NOT NULL DEFAULT 0 CHECK (amended_stop_loss >= 0),
    exit_fill_price REAL NOT NULL DEFAULT 0 CHECK (exit_fill_price >= 0),
    exit_fill_quantity REAL NOT NULL DEFAULT 0 CHECK (exit_fill_quantity >= 0),
    exit_order_id TEXT,
    opened_at TEXT NOT NULL,
    closed_at TEXT
);

CREATE TABLE IF NOT EXISTS user_config (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ai_persona TEXT NOT NULL,
    fast_window INTEGER NOT NULL,
    slow_window INTEGER NOT NULL,
    confirmation_window INTEGER NOT NULL,
    atr_window INTEGER NOT NULL,
    atr_multiplier REAL NOT NULL,
    usage INTEGER NOT NULL DEFAULT 1,
    added_at TEXT NOT NULL,
    discontinued_at TEXT
);

CREATE TABLE IF NOT EXISTS symbol_config (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    max_allocation REAL NOT NULL CHECK (max_allocation >= 0 AND max_allocation <= 100),
    usage INTEGER NOT NULL DEFAULT 1,
    added_at TEXT NOT NULL,
    discontinued_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_signals_processed ON signals(processed);
CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(order_status);
CREATE INDEX IF NOT EXISTS idx_symbol_config_usage ON symbol_config(symbol, usage);
`

// ApplyMigrations creates the tables if missing and adds columns introduced later.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if err := ensureColumn(ctx, db, "ai_decisions", "tools_used", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(ctx, db, "trades", "exit_order_id", "TEXT"); err != nil {
		return err
	}
	return nil
}

func ensureColumn(ctx context.Context, db *sql.DB, table, column, colType string) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("scan table info: %w", err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	if _, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, colType)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}
