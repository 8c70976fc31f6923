package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
)

// ActiveUserConfig returns the newest row with usage = 1.
func (s *Store) ActiveUserConfig(ctx context.Context) (*storage.UserConfig, error) {
	var (
		c            storage.UserConfig
		usage        int
		addedAt      string
		discontinued sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, ai_persona, fast_window, slow_window, confirmation_window, atr_window, atr_multiplier,
		       usage, added_at, discontinued_at
		FROM user_config WHERE usage = 1 ORDER BY id DESC LIMIT 1
	`).Scan(&c.ID, &c.AIPersona, &c.FastWindow, &c.SlowWindow, &c.ConfirmationWindow, &c.ATRWindow,
		&c.ATRMultiplier, &usage, &addedAt, &discontinued)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user config: %w", err)
	}
	c.Usage = usage == 1
	if c.AddedAt, err = parseTime(addedAt); err != nil {
		return nil, err
	}
	if c.DiscontinuedAt, err = parseNullTime(discontinued); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertUserConfig discontinues the active row and inserts c as the new active one.
func (s *Store) UpsertUserConfig(ctx context.Context, c *storage.UserConfig) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx, `UPDATE user_config SET usage = 0, discontinued_at = ? WHERE usage = 1`, now); err != nil {
		return 0, fmt.Errorf("discontinue user config: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO user_config (ai_persona, fast_window, slow_window, confirmation_window, atr_window, atr_multiplier, usage, added_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
	`, c.AIPersona, c.FastWindow, c.SlowWindow, c.ConfirmationWindow, c.ATRWindow, c.ATRMultiplier, now)
	if err != nil {
		return 0, fmt.Errorf("insert user config: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit user config: %w", err)
	}
	c.ID, c.Usage = id, true
	return id, nil
}

func (s *Store) ActiveSymbolConfigs(ctx context.Context) ([]storage.SymbolConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, max_allocation, usage, added_at
		FROM symbol_config WHERE usage = 1 ORDER BY symbol ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query symbol config: %w", err)
	}
	defer rows.Close()

	var out []storage.SymbolConfig
	for rows.Next() {
		var (
			c       storage.SymbolConfig
			usage   int
			addedAt string
		)
		if err := rows.Scan(&c.ID, &c.Symbol, &c.MaxAllocation, &usage, &addedAt); err != nil {
			return nil, fmt.Errorf("scan symbol config: %w", err)
		}
		c.Usage = usage == 1
		if c.AddedAt, err = parseTime(addedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertSymbolConfig replaces the active row for c.Symbol.
func (s *Store) UpsertSymbolConfig(ctx context.Context, c *storage.SymbolConfig) (int64, error) {
	if c.Symbol == "" {
		return 0, fmt.Errorf("%w: symbol is required", storage.ErrInvalidRecord)
	}
	if c.MaxAllocation < 0 || c.MaxAllocation > 100 {
		return 0, fmt.Errorf("%w: max allocation %.2f out of [0,100]", storage.ErrInvalidRecord, c.MaxAllocation)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx, `UPDATE symbol_config SET usage = 0, discontinued_at = ? WHERE symbol = ? AND usage = 1`, now, c.Symbol); err != nil {
		return 0, fmt.Errorf("discontinue symbol config: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO symbol_config (symbol, max_allocation, usage, added_at) VALUES (?, ?, 1, ?)
	`, c.Symbol, c.MaxAllocation, now)
	if err != nil {
		return 0, fmt.Errorf("insert symbol config: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit symbol config: %w", err)
	}
	c.ID, c.Usage = id, true
	return id, nil
}
