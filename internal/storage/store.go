// Package storage defines the persistence boundary for signals, AI decisions,
// trades and the active trading configuration.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrStatusConflict means the row was not in the state the update expected,
	// usually because another pass already moved it.
	ErrStatusConflict = errors.New("trade status changed underneath the update")
	ErrInvalidRecord  = errors.New("invalid record")
)

// Store is one unit-of-work connection to the persistent store
type Store interface {
	LogSignal(ctx context.Context, s *Signal) (int64, error)
	GetSignal(ctx context.Context, id int64) (*Signal, error)
	// MarkSignalProcessed flips processed 0->1 and reports whether it did.
	MarkSignalProcessed(ctx context.Context, id int64) (bool, error)

	LogAIDecision(ctx context.Context, d *AIDecision) (int64, error)
	LatestAIDecisionID(ctx context.Context, signalID int64) (int64, error)
	DecisionForSignal(ctx context.Context, signalID int64) (*AIDecision, error)

	LogTrade(ctx context.Context, t *Trade) error
	GetTrade(ctx context.Context, entryOrderID string) (*Trade, error)
	TradesByStatus(ctx context.Context, status OrderStatus) ([]Trade, error)
	ListTrades(ctx context.Context, limit int) ([]Trade, error)

	UpdateEntryFill(ctx context.Context, entryOrderID string, price, qty float64) error
	UpdateCanceled(ctx context.Context, entryOrderID string) error
	UpdateStopPlaced(ctx context.Context, entryOrderID, algoID string, trigger float64) error
	// UpdateStopLoss records a higher trigger; lower or equal triggers are ignored.
	UpdateStopLoss(ctx context.Context, algoID string, trigger float64) (bool, error)
	UpdateClosed(ctx context.Context, algoID, exitOrderID string, price, qty float64, closedAt time.Time) error
	EntryFillPriceByAlgo(ctx context.Context, algoID string) (float64, error)

	ActiveUserConfig(ctx context.Context) (*UserConfig, error)
	UpsertUserConfig(ctx context.Context, c *UserConfig) (int64, error)
	ActiveSymbolConfigs(ctx context.Context) ([]SymbolConfig, error)
	UpsertSymbolConfig(ctx context.Context, c *SymbolConfig) (int64, error)

	Close() error
}

// Opener opens a Store for a single unit of work
type Opener interface {
	Open(ctx context.Context) (Store, error)
}

// With opens a store, runs fn and always closes the store
func With(ctx context.Context, opener Opener, fn func(Store) error) (err error) {
	st, err := opener.Open(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close store: %w", cerr)
		}
	}()
	return fn(st)
}

// ValidateTrade enforces the non-negative money invariant before insert
func ValidateTrade(t *Trade) error {
	if t.EntryOrderID == "" {
		return fmt.Errorf("%w: entry order id is required", ErrInvalidRecord)
	}
	for name, v := range map[string]float64{
		"quantity":            t.Quantity,
		"entry_price":         t.EntryPrice,
		"initial_stop_loss":   t.InitialStopLoss,
		"entry_fill_price":    t.EntryFillPrice,
		"entry_fill_quantity": t.EntryFillQuantity,
		"amended_stop_loss":   t.AmendedStopLoss,
		"exit_fill_price":     t.ExitFillPrice,
		"exit_fill_quantity":  t.ExitFillQuantity,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s is negative", ErrInvalidRecord, name)
		}
	}
	return nil
}
