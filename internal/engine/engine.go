// Package engine drives the once-a-minute trading cycle: signal scan at the
// check minute, decision, entry placement and the monitor passes.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/ema-crossover-bot/internal/config"
	"github.com/ducminhle1904/ema-crossover-bot/internal/decision"
	boterrors "github.com/ducminhle1904/ema-crossover-bot/internal/errors"
	"github.com/ducminhle1904/ema-crossover-bot/internal/exchange"
	"github.com/ducminhle1904/ema-crossover-bot/internal/indicators"
	"github.com/ducminhle1904/ema-crossover-bot/internal/lock"
	"github.com/ducminhle1904/ema-crossover-bot/internal/monitoring"
	"github.com/ducminhle1904/ema-crossover-bot/internal/notifications"
	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
	"github.com/ducminhle1904/ema-crossover-bot/internal/strategy"
	"github.com/ducminhle1904/ema-crossover-bot/internal/trading"
)

// storeAlertAfter is the number of recent store failures that raises an alert
const storeAlertAfter = 3

// Decider turns a logged signal into a decision. It never fails.
type Decider interface {
	Evaluate(ctx context.Context, signalID int64, dc decision.Context) decision.Decision
}

// Supervisor runs the entry-fill and exit passes
type Supervisor interface {
	Run(ctx context.Context) error
}

// Deps are the collaborators of the engine, built by the caller
type Deps struct {
	Broker   exchange.Broker
	Opener   storage.Opener
	Decider  Decider
	Placer   *trading.Placer
	Monitor  Supervisor
	Locker   lock.Locker
	Health   *monitoring.HealthChecker
	Notifier notifications.Notifier
}

// Engine runs trading cycles
type Engine struct {
	Deps
	cfg    *config.BotConfig
	logger logrus.FieldLogger
	pause  *PauseDetector
	stats  *boterrors.ErrorStats

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg *config.BotConfig, deps Deps, logger logrus.FieldLogger) *Engine {
	if deps.Locker == nil {
		deps.Locker = lock.Nop{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.Nop{}
	}
	if deps.Health == nil {
		deps.Health = monitoring.NewHealthChecker(0)
	}
	return &Engine{
		Deps:   deps,
		cfg:    cfg,
		logger: logger.WithField("component", "engine"),
		pause:  NewPauseDetector(time.Duration(cfg.Monitor.PauseThresholdSeconds) * time.Second),
		stats:  boterrors.NewErrorStats(100),
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Stats exposes cycle error counts
func (e *Engine) Stats() *boterrors.ErrorStats {
	return e.stats
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

// Run cycles once a minute until ctx is canceled. forceFirst evaluates signals
// in the first cycle regardless of the clock.
func (e *Engine) Run(ctx context.Context, forceFirst bool) error {
	e.logger.WithFields(logrus.Fields{
		"symbols":         len(e.cfg.Symbols),
		"check_frequency": e.cfg.Strategy.SignalCheckFrequencyMinutes,
	}).Info("Engine started")

	force := forceFirst
	for {
		e.RunCycle(ctx, force)
		force = false

		now := e.now()
		if err := e.sleep(ctx, NextMinute(now).Sub(now)); err != nil {
			e.logger.Info("Engine stopped")
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// settings is the strategy in effect for one cycle
type settings struct {
	userConfigID int64
	persona      string
	strategy     config.StrategyConfig
	symbols      []config.SymbolConfig
}

// RunCycle performs one cycle. Failures are logged, never returned.
func (e *Engine) RunCycle(ctx context.Context, forceSignals bool) {
	start := e.now()
	defer func() {
		monitoring.ObserveCycle(e.now().Sub(start))
	}()

	if gap, paused := e.pause.Observe(start); paused {
		monitoring.RecordPauseGap()
		e.logger.WithField("gap", gap.Round(time.Second)).Warn("Wall clock jumped between cycles, process was likely paused")
	}

	held, err := e.Locker.Acquire(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Could not acquire cycle lease, skipping cycle")
		e.Health.ReportError(err.Error())
		return
	}
	if !held {
		e.logger.Info("Another instance holds the cycle lease, skipping cycle")
		return
	}
	defer func() {
		if err := e.Locker.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.WithError(err).Warn("Could not release cycle lease")
		}
	}()

	s, err := e.loadSettings(ctx)
	if err != nil {
		botErr := e.fail(err, boterrors.ErrorCategoryStore, "load_settings")
		e.Health.ReportError(botErr.Error())
		if botErr.IsFatal() {
			e.logger.WithError(botErr).Error("Active configuration is invalid, skipping cycle work until it is fixed")
			return
		}
		e.logger.WithError(botErr).Error("Store unavailable, skipping cycle work")
		if e.stats.HasRecentErrors(boterrors.ErrorCategoryStore, storeAlertAfter) {
			share := e.stats.GetErrorRate(boterrors.ErrorCategoryStore)
			e.alert(ctx, notifications.LevelError, fmt.Sprintf("Database has failed %d times recently (%.0f%% of errors): %v",
				storeAlertAfter, share*100, err))
		}
		return
	}

	if forceSignals || IsSignalCheckTime(start, s.strategy.SignalCheckFrequencyMinutes) {
		e.logger.WithFields(logrus.Fields{"forced": forceSignals, "symbols": len(s.symbols)}).Info("Checking for signals")
		for _, sym := range s.symbols {
			e.scanSymbol(ctx, s, sym, start)
		}
	}

	if e.Monitor != nil {
		if err := e.Monitor.Run(ctx); err != nil && ctx.Err() == nil {
			e.Health.ReportError(err.Error())
		}
	}

	e.Health.CycleCompleted(e.now(), true)
}

func (e *Engine) alert(ctx context.Context, level, msg string) {
	if err := e.Notifier.SendAlert(ctx, level, msg); err != nil {
		e.logger.WithError(err).Debug("Alert not delivered")
	}
}

func (e *Engine) fail(err error, category boterrors.ErrorCategory, op string) *boterrors.BotError {
	botErr := boterrors.CategorizeError(err, category, "engine", op)
	e.stats.RecordError(botErr)
	monitoring.RecordError(string(botErr.Category))
	return botErr
}

// loadSettings overlays the active user and symbol config rows on the file config
func (e *Engine) loadSettings(ctx context.Context) (settings, error) {
	s := settings{
		persona:  e.cfg.AI.Persona,
		strategy: e.cfg.Strategy,
		symbols:  e.cfg.Symbols,
	}

	err := storage.With(ctx, e.Opener, func(st storage.Store) error {
		uc, err := st.ActiveUserConfig(ctx)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return err
		default:
			s.userConfigID = uc.ID
			if uc.AIPersona != "" {
				s.persona = uc.AIPersona
			}
			s.strategy.FastWindow = uc.FastWindow
			s.strategy.SlowWindow = uc.SlowWindow
			s.strategy.ConfirmationWindow = uc.ConfirmationWindow
			s.strategy.ATRWindow = uc.ATRWindow
			s.strategy.ATRMultiplier = uc.ATRMultiplier
		}

		rows, err := st.ActiveSymbolConfigs(ctx)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			s.symbols = make([]config.SymbolConfig, 0, len(rows))
			for _, r := range rows {
				s.symbols = append(s.symbols, config.SymbolConfig{
					Symbol:        config.NormalizeSymbol(r.Symbol),
					MaxAllocation: r.MaxAllocation,
				})
			}
		}
		return nil
	})
	if err != nil {
		return settings{}, err
	}
	if err := s.strategy.IndicatorParams().Validate(); err != nil {
		return settings{}, boterrors.WrapError(fmt.Errorf("active user config %d: %w", s.userConfigID, err),
			boterrors.ErrorCategoryConfiguration, "engine", "load_settings")
	}
	return s, nil
}

// scanSymbol runs detection and, on a signal, the decision and placement for
// one symbol. Panics are contained so one symbol cannot stop the cycle.
func (e *Engine) scanSymbol(ctx context.Context, s settings, sym config.SymbolConfig, now time.Time) {
	log := e.logger.WithField("symbol", sym.Symbol)
	defer func() {
		if r := recover(); r != nil {
			e.fail(fmt.Errorf("panic: %v", r), boterrors.ErrorCategoryUnknownState, "scan_symbol")
			log.WithField("stack", string(debug.Stack())).Errorf("Recovered from panic while scanning: %v", r)
		}
	}()

	if err := e.scan(ctx, s, sym, now, log); err != nil {
		botErr := e.fail(err, boterrors.ErrorCategoryDataUnavailable, "scan_symbol")
		log.WithError(botErr).WithField("recovery", botErr.GetRecoveryAction()).Warn("Signal scan failed")
	}
}

func (e *Engine) frame(ctx context.Context, symbol, timeframe string, limit int, p indicators.Params, now time.Time) (*indicators.Frame, error) {
	candles, err := e.Broker.GetCandles(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch %s candles: %w", timeframe, err)
	}
	candles = dropForming(candles, now)
	f, err := indicators.Compute(candles, p)
	if err != nil {
		return nil, fmt.Errorf("%s frame: %w", timeframe, err)
	}
	return f, nil
}

func (e *Engine) scan(ctx context.Context, s settings, sym config.SymbolConfig, now time.Time, log logrus.FieldLogger) error {
	params := s.strategy.IndicatorParams()
	limit := s.strategy.EMALimit()

	fast, err := e.frame(ctx, sym.Symbol, s.strategy.FastTimeframe, limit, params, now)
	if err != nil {
		return err
	}
	confirm, err := e.frame(ctx, sym.Symbol, s.strategy.ConfirmTimeframe, limit, params, now)
	if err != nil {
		return err
	}

	detector := strategy.NewDetector(s.strategy.Detector)
	result, err := detector.Detect(fast, confirm)
	if err != nil {
		return err
	}
	if result == nil {
		log.Debug("No crossover")
		return nil
	}

	price := fast.LastClose()
	conf, err := strategy.NewEvaluator(s.strategy.ConfirmationWindow, s.strategy.ATRWindow, s.strategy.ATRMultiplier).
		Evaluate(confirm, result.Direction)
	if err != nil {
		log.WithError(err).Warn("Confirmation bundle unavailable, continuing without it")
	}

	log = log.WithFields(logrus.Fields{"direction": result.Direction, "price": price})
	log.Info("Crossover detected")
	monitoring.RecordSignal(sym.Symbol, string(result.Direction))
	e.Health.SignalSeen(now)

	signalID, err := e.logSignal(ctx, sym.Symbol, s.strategy.Name, price, now, result, conf)
	if err != nil {
		e.fail(err, boterrors.ErrorCategoryStore, "log_signal")
		return fmt.Errorf("log signal: %w", err)
	}
	log = log.WithField("signal_id", signalID)

	dc := decision.Context{
		Symbol:           sym.Symbol,
		SignalType:       result.Direction.SignalType(),
		Direction:        string(result.Direction),
		Price:            price,
		Strategy:         s.strategy.Name,
		DetectedAt:       now.UTC(),
		FastTimeframe:    s.strategy.FastTimeframe,
		ConfirmTimeframe: s.strategy.ConfirmTimeframe,
		StrategyParams:   params,
		ATRMultiplier:    s.strategy.ATRMultiplier,
		DetectorParams:   detector.Params(),
		EMAMetrics:       result.Metrics,
		Confirmation:     conf,
		Persona:          s.persona,
		UserConfigID:     s.userConfigID,
	}

	d := e.Decider.Evaluate(ctx, signalID, dc)
	if !d.IsTrade() {
		log.Info("Decision is HOLD, no order")
		return nil
	}
	if d.Action != decision.ActionBuy {
		log.WithField("action", d.Action).Info("Only long entries are traded, decision not executed")
		return nil
	}

	placement, err := e.Placer.Place(ctx, trading.Request{
		Symbol:            sym.Symbol,
		Price:             price,
		MaxAllocationPct:  sym.MaxAllocation,
		AIPositionSizePct: d.PositionSizePct,
	})
	if err != nil {
		log.WithError(err).Warn("Order not placed")
		return nil
	}
	if placement == nil {
		return nil
	}

	e.recordPlacement(ctx, placement, signalID, s.userConfigID, log)
	return nil
}

func (e *Engine) logSignal(ctx context.Context, symbol, strategyName string, price float64, now time.Time,
	result *strategy.Result, conf *strategy.Confirmation) (int64, error) {
	emaJSON, err := json.Marshal(result.Metrics)
	if err != nil {
		return 0, err
	}
	confJSON := []byte("{}")
	if conf != nil {
		if confJSON, err = json.Marshal(conf); err != nil {
			return 0, err
		}
	}

	var id int64
	err = storage.With(ctx, e.Opener, func(st storage.Store) error {
		var err error
		id, err = st.LogSignal(ctx, &storage.Signal{
			Symbol:              symbol,
			SignalType:          result.Direction.SignalType(),
			Price:               price,
			EMAMetrics:          string(emaJSON),
			ConfirmationMetrics: string(confJSON),
			Strategy:            strategyName,
			DetectedAt:          now.UTC(),
		})
		return err
	})
	return id, err
}

// recordPlacement stores the submitted entry. The order is live at this point,
// so a failure here is escalated for manual reconciliation.
func (e *Engine) recordPlacement(ctx context.Context, pl *trading.Placement, signalID, userConfigID int64, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := storage.With(ctx, e.Opener, func(st storage.Store) error {
		decisionID, err := st.LatestAIDecisionID(ctx, signalID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return e.Placer.Record(ctx, st, pl, trading.Links{
			SignalID:     signalID,
			AIDecisionID: decisionID,
			UserConfigID: userConfigID,
		})
	})
	if err != nil {
		e.fail(err, boterrors.ErrorCategoryStore, "record_trade")
		monitoring.RecordManualReview("unrecorded_order")
		log.WithError(err).WithField("order_id", pl.OrderID).Error("Order placed but not recorded")
		e.alert(ctx, notifications.LevelError,
			fmt.Sprintf("Order %s for %s was placed but could not be recorded: %v", pl.OrderID, pl.Symbol, err))
		return
	}
	log.WithField("order_id", pl.OrderID).Info("Entry recorded")
}
