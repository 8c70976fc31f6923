// Package monitor supervises entry orders until they fill and then keeps a
// ratcheting stop under every open position until it closes.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	boterrors "github.com/ducminhle1904/ema-crossover-bot/internal/errors"
	"github.com/ducminhle1904/ema-crossover-bot/internal/exchange"
	"github.com/ducminhle1904/ema-crossover-bot/internal/monitoring"
	"github.com/ducminhle1904/ema-crossover-bot/internal/notifications"
	"github.com/ducminhle1904/ema-crossover-bot/internal/safety"
	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
	"github.com/ducminhle1904/ema-crossover-bot/pkg/types"
)

const (
	DefaultPassGap = 5 * time.Second

	priceTimeframe = "1m"
	priceLookback  = 5
)

// Reasons a filled entry is held back from automatic stop placement
const (
	reviewStopSize       = "stop_size"
	reviewUnrecordedStop = "unrecorded_stop"
)

// Config holds the monitor settings
type Config struct {
	// PassGap separates the entry-fill pass from the exit pass
	PassGap           time.Duration
	BuyStopMultiplier float64
	// QuietFailCodes are stop fail codes logged at info instead of warning
	QuietFailCodes []string
}

// Monitor runs the entry-fill and exit passes over the persisted trades
type Monitor struct {
	broker    exchange.Broker
	opener    storage.Opener
	notifier  notifications.Notifier
	config    Config
	logger    logrus.FieldLogger
	stats     *boterrors.ErrorStats
	validator *safety.Validator

	// review maps entry order ids to the reason they await manual review.
	// Passes run on a single goroutine.
	review map[string]string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(broker exchange.Broker, opener storage.Opener, notifier notifications.Notifier, cfg Config, logger logrus.FieldLogger) *Monitor {
	if cfg.PassGap < 0 {
		cfg.PassGap = DefaultPassGap
	}
	if cfg.BuyStopMultiplier <= 0 || cfg.BuyStopMultiplier >= 1 {
		cfg.BuyStopMultiplier = 0.95
	}
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	return &Monitor{
		broker:    broker,
		opener:    opener,
		notifier:  notifier,
		config:    cfg,
		logger:    logger.WithField("component", "monitor"),
		stats:     boterrors.NewErrorStats(50),
		validator: safety.NewValidator(),
		review:    make(map[string]string),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Stats exposes monitor error counts
func (m *Monitor) Stats() *boterrors.ErrorStats {
	return m.stats
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run performs the entry-fill pass, waits PassGap and performs the exit pass
func (m *Monitor) Run(ctx context.Context) error {
	entryErr := m.EntryFillPass(ctx)
	if entryErr != nil {
		m.logger.WithError(entryErr).Error("Entry fill pass failed")
	}
	if err := m.sleep(ctx, m.config.PassGap); err != nil {
		return err
	}
	exitErr := m.ExitPass(ctx)
	if exitErr != nil {
		m.logger.WithError(exitErr).Error("Exit pass failed")
	}
	return errors.Join(entryErr, exitErr)
}

func (m *Monitor) record(err error, category boterrors.ErrorCategory, op string) *boterrors.BotError {
	botErr := boterrors.CategorizeError(err, category, "monitor", op)
	m.stats.RecordError(botErr)
	monitoring.RecordError(string(botErr.Category))
	return botErr
}

func (m *Monitor) alert(ctx context.Context, level, msg string) {
	if err := m.notifier.SendAlert(ctx, level, msg); err != nil {
		m.logger.WithError(err).Debug("Alert not delivered")
	}
}

// EntryFillPass resolves submitted entries and places stops for filled ones.
// Filled entries whose stop placement failed earlier are retried here.
func (m *Monitor) EntryFillPass(ctx context.Context) error {
	return storage.With(ctx, m.opener, func(st storage.Store) error {
		submitted, err := st.TradesByStatus(ctx, storage.StatusSubmittedBuy)
		if err != nil {
			return m.record(err, boterrors.ErrorCategoryStore, "list_submitted")
		}
		unprotected, err := st.TradesByStatus(ctx, storage.StatusFilledBuy)
		if err != nil {
			return m.record(err, boterrors.ErrorCategoryStore, "list_filled")
		}

		for _, trade := range submitted {
			m.resolveEntry(ctx, st, trade)
		}
		for _, trade := range unprotected {
			m.logger.WithFields(logrus.Fields{
				"symbol":   trade.Symbol,
				"order_id": trade.EntryOrderID,
			}).Info("Retrying stop placement for filled entry")
			m.protect(ctx, st, trade, trade.EntryFillPrice, trade.EntryFillQuantity)
		}
		return nil
	})
}

func (m *Monitor) resolveEntry(ctx context.Context, st storage.Store, trade storage.Trade) {
	log := m.logger.WithFields(logrus.Fields{"symbol": trade.Symbol, "order_id": trade.EntryOrderID})

	state, err := m.broker.GetOrderStatus(ctx, trade.EntryOrderID, trade.Symbol)
	if err != nil {
		log.WithError(m.record(err, boterrors.ErrorCategoryExchange, "get_order_status")).Warn("Could not fetch entry order status")
		return
	}

	switch state.Class {
	case exchange.OrderFilled:
		if err := st.UpdateEntryFill(ctx, trade.EntryOrderID, state.FillPrice, state.FillQuantity); err != nil {
			log.WithError(m.record(err, boterrors.ErrorCategoryStore, "update_entry_fill")).Error("Could not record entry fill")
			return
		}
		log.WithFields(logrus.Fields{"fill_price": state.FillPrice, "fill_qty": state.FillQuantity}).Info("Entry order filled")
		monitoring.RecordOrder(trade.Symbol, string(exchange.SideBuy), "filled")
		m.protect(ctx, st, trade, state.FillPrice, state.FillQuantity)

	case exchange.OrderCanceled:
		if err := st.UpdateCanceled(ctx, trade.EntryOrderID); err != nil {
			log.WithError(m.record(err, boterrors.ErrorCategoryStore, "update_canceled")).Error("Could not record canceled entry")
			return
		}
		log.WithField("status", state.RawStatus).Info("Entry order canceled")
		monitoring.RecordOrder(trade.Symbol, string(exchange.SideBuy), "canceled")

	case exchange.OrderOpen:
		log.WithField("status", state.RawStatus).Debug("Entry order still open")

	default:
		log.WithField("status", state.RawStatus).Warn("Entry order in unexpected state, manual review needed")
		monitoring.RecordManualReview("entry_state")
		m.alert(ctx, notifications.LevelWarning, fmt.Sprintf("Entry order %s for %s is in state %q and needs manual review",
			trade.EntryOrderID, trade.Symbol, state.RawStatus))
	}
}

// protect places the initial stop under a filled entry and records it
func (m *Monitor) protect(ctx context.Context, st storage.Store, trade storage.Trade, fillPrice, fillQty float64) {
	log := m.logger.WithFields(logrus.Fields{"symbol": trade.Symbol, "order_id": trade.EntryOrderID})

	if m.review[trade.EntryOrderID] == reviewUnrecordedStop {
		log.Debug("Unrecorded stop awaits manual review, not placing another")
		return
	}
	if fillPrice <= 0 {
		log.Warn("Filled entry has no fill price, cannot place stop")
		monitoring.RecordManualReview("missing_fill_price")
		return
	}

	size := fillQty
	if base, err := m.broker.GetBaseBalance(ctx, trade.Symbol); err != nil {
		log.WithError(err).Warn("Could not read base balance, using fill quantity")
	} else if base > 0 {
		size = base
	}

	minSize, err := m.broker.GetMinOrderSize(ctx, trade.Symbol)
	if err != nil {
		log.WithError(err).Warn("Could not read minimum order size, placing stop anyway")
	}
	if res := m.validator.ValidateQuantity(size, trade.Symbol); !res.Valid || size < minSize {
		m.holdForReview(ctx, trade, size, minSize, log)
		return
	}

	trigger := fillPrice * m.config.BuyStopMultiplier
	algoID, err := m.broker.PlaceConditionalStop(ctx, trade.Symbol, size, trigger, exchange.SideSell)
	if err != nil {
		botErr := m.record(err, boterrors.ErrorCategoryStopPlacement, "place_stop")
		log.WithError(botErr).WithFields(logrus.Fields{"size": size, "trigger": trigger}).Error("Stop placement failed, position unprotected")
		monitoring.RecordOrder(trade.Symbol, string(exchange.SideSell), "stop_failed")
		m.alert(ctx, notifications.LevelError, fmt.Sprintf("Stop for %s (entry %s) could not be placed: %v", trade.Symbol, trade.EntryOrderID, err))
		return
	}

	if err := st.UpdateStopPlaced(ctx, trade.EntryOrderID, algoID, trigger); err != nil {
		m.discardUnrecorded(ctx, trade, algoID, err, log)
		return
	}
	delete(m.review, trade.EntryOrderID)

	monitoring.RecordOrder(trade.Symbol, string(exchange.SideSell), "stop_placed")
	monitoring.UpdateStopTrigger(trade.Symbol, trigger)
	log.WithFields(logrus.Fields{"algo_id": algoID, "size": size, "trigger": trigger}).Info("Protective stop placed")
}

// holdForReview flags a filled entry whose stop size cannot be placed.
// The alert goes out once; the size is checked again on every pass.
func (m *Monitor) holdForReview(ctx context.Context, trade storage.Trade, size, minSize float64, log logrus.FieldLogger) {
	log = log.WithFields(logrus.Fields{"size": size, "min_size": minSize})
	if m.review[trade.EntryOrderID] == reviewStopSize {
		log.Debug("Stop size still below minimum")
		return
	}
	m.review[trade.EntryOrderID] = reviewStopSize

	log.Warn("Stop size below minimum order size, manual review needed")
	monitoring.RecordManualReview(reviewStopSize)
	m.alert(ctx, notifications.LevelWarning, fmt.Sprintf("Stop for %s (entry %s) not placed: size %.8f is below the minimum %.8f and needs manual review",
		trade.Symbol, trade.EntryOrderID, size, minSize))
}

// discardUnrecorded cancels a stop the store failed to record so the next
// pass does not leave two stops on one position
func (m *Monitor) discardUnrecorded(ctx context.Context, trade storage.Trade, algoID string, recordErr error, log logrus.FieldLogger) {
	log = log.WithField("algo_id", algoID)
	log.WithError(m.record(recordErr, boterrors.ErrorCategoryStore, "update_stop_placed")).Error("Stop placed but not recorded, canceling it")

	if err := m.broker.CancelAlgo(ctx, algoID, trade.Symbol); err != nil {
		log.WithError(m.record(err, boterrors.ErrorCategoryExchange, "cancel_unrecorded_stop")).Error("Unrecorded stop could not be canceled")
		m.review[trade.EntryOrderID] = reviewUnrecordedStop
		monitoring.RecordManualReview(reviewUnrecordedStop)
		m.alert(ctx, notifications.LevelError, fmt.Sprintf("Stop %s for %s (entry %s) is live but not recorded and could not be canceled: %v",
			algoID, trade.Symbol, trade.EntryOrderID, err))
		return
	}
	monitoring.RecordOrder(trade.Symbol, string(exchange.SideSell), "stop_canceled")
	log.Warn("Unrecorded stop canceled, placement retried next pass")
}

// ExitPass trails live stops and closes trades whose stop has executed
func (m *Monitor) ExitPass(ctx context.Context) error {
	return storage.With(ctx, m.opener, func(st storage.Store) error {
		trades, err := st.TradesByStatus(ctx, storage.StatusPlacedStopLoss)
		if err != nil {
			return m.record(err, boterrors.ErrorCategoryStore, "list_protected")
		}
		for _, trade := range trades {
			m.superviseExit(ctx, st, trade)
		}
		return nil
	})
}

func (m *Monitor) superviseExit(ctx context.Context, st storage.Store, trade storage.Trade) {
	log := m.logger.WithFields(logrus.Fields{"symbol": trade.Symbol, "algo_id": trade.ExitAlgoID})

	algo, err := m.broker.GetAlgoStatus(ctx, trade.ExitAlgoID, trade.Symbol)
	if err != nil {
		log.WithError(m.record(err, boterrors.ErrorCategoryExchange, "get_algo_status")).Warn("Could not fetch stop status")
		return
	}

	switch algo.Class {
	case exchange.AlgoLive:
		m.trail(ctx, st, trade, algo, log)
	case exchange.AlgoPending:
		log.WithField("status", algo.RawStatus).Info("Stop triggered, execution in progress")
	case exchange.AlgoEffective:
		if algo.CleanlyExecuted() {
			m.close(ctx, st, trade, log)
			return
		}
		m.broken(ctx, trade, algo, log)
	default:
		m.broken(ctx, trade, algo, log)
	}
}

func (m *Monitor) trail(ctx context.Context, st storage.Store, trade storage.Trade, algo *exchange.AlgoState, log logrus.FieldLogger) {
	latest, err := m.latestPrice(ctx, trade.Symbol)
	if err != nil {
		log.WithError(m.record(err, boterrors.ErrorCategoryDataUnavailable, "latest_price")).Warn("No price to trail stop against")
		return
	}
	monitoring.UpdatePrice(trade.Symbol, latest)

	entry, err := st.EntryFillPriceByAlgo(ctx, trade.ExitAlgoID)
	if err != nil {
		log.WithError(m.record(err, boterrors.ErrorCategoryStore, "entry_fill_price")).Warn("Could not read entry fill price")
		return
	}

	// an exchange trigger of zero means it was not reported
	current := math.Max(algo.TriggerPrice, trade.AmendedStopLoss)
	trigger := Trail(latest, entry)
	if trigger <= current {
		log.WithFields(logrus.Fields{"latest": latest, "trigger": current}).Debug("Stop unchanged")
		return
	}

	if err := m.broker.AmendConditionalStop(ctx, trade.Symbol, trade.ExitAlgoID, trigger); err != nil {
		log.WithError(m.record(err, boterrors.ErrorCategoryAmend, "amend_stop")).
			WithField("trigger", trigger).Warn("Stop amend failed")
		return
	}
	if _, err := st.UpdateStopLoss(ctx, trade.ExitAlgoID, trigger); err != nil {
		log.WithError(m.record(err, boterrors.ErrorCategoryStore, "update_stop_loss")).Error("Stop amended but not recorded")
		return
	}

	monitoring.RecordTrailingAmend(trade.Symbol, trigger)
	log.WithFields(logrus.Fields{
		"latest":      latest,
		"entry":       entry,
		"old_trigger": current,
		"new_trigger": trigger,
	}).Info("Trailing stop raised")
}

// latestPrice is the highest high of the last few one-minute candles, or the
// ticker when candles are unavailable
func (m *Monitor) latestPrice(ctx context.Context, symbol string) (float64, error) {
	candles, err := m.broker.GetCandles(ctx, symbol, priceTimeframe, priceLookback)
	if err == nil && len(candles) > 0 {
		if high := types.MaxHigh(candles); high > 0 {
			return high, nil
		}
	}
	return m.broker.GetCurrentPrice(ctx, symbol)
}

func (m *Monitor) close(ctx context.Context, st storage.Store, trade storage.Trade, log logrus.FieldLogger) {
	exec, err := m.broker.GetAlgoExecution(ctx, trade.ExitAlgoID, trade.Symbol)
	if err != nil {
		log.WithError(m.record(err, boterrors.ErrorCategoryExchange, "get_algo_execution")).Warn("Stop executed but fill not available yet")
		return
	}

	closedAt := exec.ExecutedAt
	if closedAt.IsZero() {
		closedAt = m.now()
	}
	if err := st.UpdateClosed(ctx, trade.ExitAlgoID, exec.OrderID, exec.Price, exec.Quantity, closedAt.UTC()); err != nil {
		log.WithError(m.record(err, boterrors.ErrorCategoryStore, "update_closed")).Error("Could not record closed trade")
		return
	}

	pnl := (exec.Price - trade.EntryFillPrice) * exec.Quantity
	log.WithFields(logrus.Fields{
		"exit_price": exec.Price,
		"exit_qty":   exec.Quantity,
		"pnl":        pnl,
	}).Info("Position closed by stop")
	monitoring.RecordOrder(trade.Symbol, string(exchange.SideSell), "stop_executed")
	m.alert(ctx, notifications.LevelSuccess, fmt.Sprintf("%s closed at %.8f (entry %.8f, qty %.8f, pnl %.4f)",
		trade.Symbol, exec.Price, trade.EntryFillPrice, exec.Quantity, pnl))
}

// broken handles a stop that neither works nor executed cleanly
func (m *Monitor) broken(ctx context.Context, trade storage.Trade, algo *exchange.AlgoState, log logrus.FieldLogger) {
	log = log.WithFields(logrus.Fields{"status": algo.RawStatus, "fail_code": algo.FailCode})
	if slices.Contains(m.config.QuietFailCodes, algo.FailCode) {
		log.Info("Stop no longer active")
	} else {
		log.Warn("Stop no longer active, manual review needed")
	}
	monitoring.RecordManualReview("stop_state")
	m.record(fmt.Errorf("stop %s in state %s (fail code %q)", algo.AlgoID, algo.RawStatus, algo.FailCode),
		boterrors.ErrorCategoryUnknownState, "supervise_exit")

	msg := fmt.Sprintf("Stop %s for %s is %s (fail code %q) and needs manual review", trade.ExitAlgoID, trade.Symbol, algo.RawStatus, algo.FailCode)

	base, err := m.broker.GetBaseBalance(ctx, trade.Symbol)
	if err != nil {
		log.WithError(err).Warn("Could not check leftover balance")
	} else if minSize, err := m.broker.GetMinOrderSize(ctx, trade.Symbol); err == nil && base > minSize {
		log.WithField("base_balance", base).Warn("Leftover position is unprotected, new protective order needed")
		monitoring.RecordManualReview("unprotected_position")
		msg += fmt.Sprintf("; %.8f %s left unprotected, new protective order needed", base, trade.Symbol)
	}
	m.alert(ctx, notifications.LevelWarning, msg)
}
