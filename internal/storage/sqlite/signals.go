package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
)

// LogSignal inserts a detected crossover and returns its id.
func (s *Store) LogSignal(ctx context.Context, sig *storage.Signal) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (symbol, signal_type, price, ema_metrics, confirmation_metrics, strategy, detected_at, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`, sig.Symbol, sig.SignalType, sig.Price, sig.EMAMetrics, sig.ConfirmationMetrics, sig.Strategy, formatTime(sig.DetectedAt))
	if err != nil {
		return 0, fmt.Errorf("insert signal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("signal id: %w", err)
	}
	sig.ID = id
	return id, nil
}

func (s *Store) GetSignal(ctx context.Context, id int64) (*storage.Signal, error) {
	var (
		sig        storage.Signal
		emaMetrics sql.NullString
		confirm    sql.NullString
		detectedAt string
		processed  int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, signal_type, price, ema_metrics, confirmation_metrics, strategy, detected_at, processed
		FROM signals WHERE id = ?
	`, id).Scan(&sig.ID, &sig.Symbol, &sig.SignalType, &sig.Price, &emaMetrics, &confirm, &sig.Strategy, &detectedAt, &processed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query signal %d: %w", id, err)
	}
	sig.EMAMetrics = emaMetrics.String
	sig.ConfirmationMetrics = confirm.String
	sig.Processed = processed == 1
	if sig.DetectedAt, err = parseTime(detectedAt); err != nil {
		return nil, err
	}
	return &sig, nil
}

// MarkSignalProcessed flips the flag only while it is still 0.
func (s *Store) MarkSignalProcessed(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE signals SET processed = 1 WHERE id = ? AND processed = 0`, id)
	if err != nil {
		return false, fmt.Errorf("mark signal %d processed: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
