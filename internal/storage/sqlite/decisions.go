package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
)

func (s *Store) LogAIDecision(ctx context.Context, d *storage.AIDecision) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_decisions (
			signal_id, user_config_id, symbol, fast_timeframe, slow_timeframe, strategy, signal,
			action, confidence, risk_score, position_size_pct, stop_loss_pct, take_profit_pct,
			rationale, key_factors, source, model_name, tools_used, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.SignalID, nullInt(d.UserConfigID), d.Symbol, d.FastTimeframe, d.SlowTimeframe, d.Strategy, d.Signal,
		d.Action, d.Confidence, d.RiskScore, d.PositionSizePct, d.StopLossPct, d.TakeProfitPct,
		d.Rationale, d.KeyFactors, d.Source, d.ModelName, d.ToolsUsed, formatTime(d.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert ai decision for signal %d: %w", d.SignalID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	d.ID = id
	return id, nil
}

// LatestAIDecisionID returns the newest decision id for a signal.
func (s *Store) LatestAIDecisionID(ctx context.Context, signalID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM ai_decisions WHERE signal_id = ? ORDER BY id DESC LIMIT 1
	`, signalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query ai decision id: %w", err)
	}
	return id, nil
}

func (s *Store) DecisionForSignal(ctx context.Context, signalID int64) (*storage.AIDecision, error) {
	var (
		d          storage.AIDecision
		userCfg    sql.NullInt64
		fast, slow sql.NullString
		strategy   sql.NullString
		signal     sql.NullString
		confidence sql.NullString
		rationale  sql.NullString
		factors    sql.NullString
		source     sql.NullString
		modelName  sql.NullString
		tools      sql.NullString
		createdAt  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, signal_id, user_config_id, symbol, fast_timeframe, slow_timeframe, strategy, signal,
		       action, confidence, risk_score, position_size_pct, stop_loss_pct, take_profit_pct,
		       rationale, key_factors, source, model_name, tools_used, created_at
		FROM ai_decisions WHERE signal_id = ?
	`, signalID).Scan(&d.ID, &d.SignalID, &userCfg, &d.Symbol, &fast, &slow, &strategy, &signal,
		&d.Action, &confidence, &d.RiskScore, &d.PositionSizePct, &d.StopLossPct, &d.TakeProfitPct,
		&rationale, &factors, &source, &modelName, &tools, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query ai decision: %w", err)
	}
	d.UserConfigID = userCfg.Int64
	d.FastTimeframe, d.SlowTimeframe = fast.String, slow.String
	d.Strategy, d.Signal = strategy.String, signal.String
	d.Confidence, d.Rationale, d.KeyFactors = confidence.String, rationale.String, factors.String
	d.Source, d.ModelName, d.ToolsUsed = source.String, modelName.String, tools.String
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &d, nil
}
