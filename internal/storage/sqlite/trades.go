package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
)

const tradeColumns = `
	entry_order_id, COALESCE(signal_id, 0), COALESCE(ai_decision_id, 0), COALESCE(user_config_id, 0),
	symbol, side, quantity, entry_price, initial_stop_loss, order_status,
	entry_fill_price, entry_fill_quantity, exit_algo_id, amended_stop_loss,
	exit_fill_price, exit_fill_quantity, exit_order_id, opened_at, closed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (*storage.Trade, error) {
	var (
		t        storage.Trade
		status   string
		algoID   sql.NullString
		exitID   sql.NullString
		openedAt string
		closedAt sql.NullString
	)
	if err := row.Scan(&t.EntryOrderID, &t.SignalID, &t.AIDecisionID, &t.UserConfigID,
		&t.Symbol, &t.Side, &t.Quantity, &t.EntryPrice, &t.InitialStopLoss, &status,
		&t.EntryFillPrice, &t.EntryFillQuantity, &algoID, &t.AmendedStopLoss,
		&t.ExitFillPrice, &t.ExitFillQuantity, &exitID, &openedAt, &closedAt); err != nil {
		return nil, err
	}
	t.OrderStatus = storage.OrderStatus(status)
	t.ExitAlgoID = algoID.String
	t.ExitOrderID = exitID.String

	var err error
	if t.OpenedAt, err = parseTime(openedAt); err != nil {
		return nil, err
	}
	if t.ClosedAt, err = parseNullTime(closedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) LogTrade(ctx context.Context, t *storage.Trade) error {
	if err := storage.ValidateTrade(t); err != nil {
		return err
	}
	if t.OrderStatus == "" {
		t.OrderStatus = storage.StatusSubmittedBuy
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (
			entry_order_id, signal_id, ai_decision_id, user_config_id, symbol, side,
			quantity, entry_price, initial_stop_loss, order_status, opened_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.EntryOrderID, nullInt(t.SignalID), nullInt(t.AIDecisionID), nullInt(t.UserConfigID), t.Symbol, t.Side,
		t.Quantity, t.EntryPrice, t.InitialStopLoss, string(t.OrderStatus), formatTime(t.OpenedAt))
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.EntryOrderID, err)
	}
	return nil
}

func (s *Store) GetTrade(ctx context.Context, entryOrderID string) (*storage.Trade, error) {
	t, err := scanTrade(s.db.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE entry_order_id = ?`, entryOrderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query trade %s: %w", entryOrderID, err)
	}
	return t, nil
}

// TradesByStatus returns trades in the given state, oldest first.
func (s *Store) TradesByStatus(ctx context.Context, status storage.OrderStatus) ([]storage.Trade, error) {
	return s.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades WHERE order_status = ? ORDER BY opened_at ASC`, string(status))
}

// ListTrades returns the most recent trades, newest first.
func (s *Store) ListTrades(ctx context.Context, limit int) ([]storage.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades ORDER BY opened_at DESC LIMIT ?`, limit)
}

func (s *Store) queryTrades(ctx context.Context, query string, args ...any) ([]storage.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []storage.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

func (s *Store) UpdateEntryFill(ctx context.Context, entryOrderID string, price, qty float64) error {
	if price < 0 || qty < 0 {
		return fmt.Errorf("%w: negative fill for %s", storage.ErrInvalidRecord, entryOrderID)
	}
	return s.execGuarded(ctx, `
		UPDATE trades SET order_status = ?, entry_fill_price = ?, entry_fill_quantity = ?
		WHERE entry_order_id = ? AND order_status = ?
	`, string(storage.StatusFilledBuy), price, qty, entryOrderID, string(storage.StatusSubmittedBuy))
}

// UpdateCanceled marks a never-filled entry as canceled and zeroes its fill fields.
func (s *Store) UpdateCanceled(ctx context.Context, entryOrderID string) error {
	return s.execGuarded(ctx, `
		UPDATE trades SET order_status = ?, entry_fill_price = 0, entry_fill_quantity = 0
		WHERE entry_order_id = ? AND order_status = ?
	`, string(storage.StatusCanceledBuy), entryOrderID, string(storage.StatusSubmittedBuy))
}

func (s *Store) UpdateStopPlaced(ctx context.Context, entryOrderID, algoID string, trigger float64) error {
	if algoID == "" {
		return fmt.Errorf("%w: empty algo id for %s", storage.ErrInvalidRecord, entryOrderID)
	}
	if trigger < 0 {
		return fmt.Errorf("%w: negative trigger for %s", storage.ErrInvalidRecord, entryOrderID)
	}
	return s.execGuarded(ctx, `
		UPDATE trades SET order_status = ?, exit_algo_id = ?, amended_stop_loss = ?
		WHERE entry_order_id = ? AND order_status = ?
	`, string(storage.StatusPlacedStopLoss), algoID, trigger, entryOrderID, string(storage.StatusFilledBuy))
}

func (s *Store) UpdateStopLoss(ctx context.Context, algoID string, trigger float64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trades SET amended_stop_loss = ?
		WHERE exit_algo_id = ? AND order_status = ? AND amended_stop_loss < ?
	`, trigger, algoID, string(storage.StatusPlacedStopLoss), trigger)
	if err != nil {
		return false, fmt.Errorf("update stop loss %s: %w", algoID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) UpdateClosed(ctx context.Context, algoID, exitOrderID string, price, qty float64, closedAt time.Time) error {
	if price < 0 || qty < 0 {
		return fmt.Errorf("%w: negative exit fill for %s", storage.ErrInvalidRecord, algoID)
	}
	return s.execGuarded(ctx, `
		UPDATE trades SET order_status = ?, exit_order_id = ?, exit_fill_price = ?, exit_fill_quantity = ?, closed_at = ?
		WHERE exit_algo_id = ? AND order_status = ?
	`, string(storage.StatusClosed), exitOrderID, price, qty, formatTime(closedAt), algoID, string(storage.StatusPlacedStopLoss))
}

func (s *Store) EntryFillPriceByAlgo(ctx context.Context, algoID string) (float64, error) {
	var price float64
	err := s.db.QueryRowContext(ctx, `SELECT entry_fill_price FROM trades WHERE exit_algo_id = ?`, algoID).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query entry fill price for %s: %w", algoID, err)
	}
	return price, nil
}

func (s *Store) execGuarded(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrStatusConflict
	}
	return nil
}
