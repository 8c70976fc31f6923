package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ducminhle1904/ema-crossover-bot/internal/config"
	"github.com/ducminhle1904/ema-crossover-bot/internal/decision"
	"github.com/ducminhle1904/ema-crossover-bot/internal/engine"
	boterrors "github.com/ducminhle1904/ema-crossover-bot/internal/errors"
	"github.com/ducminhle1904/ema-crossover-bot/internal/exchange/adapters"
	"github.com/ducminhle1904/ema-crossover-bot/internal/lock"
	"github.com/ducminhle1904/ema-crossover-bot/internal/logger"
	"github.com/ducminhle1904/ema-crossover-bot/internal/monitor"
	"github.com/ducminhle1904/ema-crossover-bot/internal/monitoring"
	"github.com/ducminhle1904/ema-crossover-bot/internal/notifications"
	"github.com/ducminhle1904/ema-crossover-bot/internal/safety"
	"github.com/ducminhle1904/ema-crossover-bot/internal/storage/sqlite"
	"github.com/ducminhle1904/ema-crossover-bot/internal/trading"
)

// healthStaleAfter marks the bot degraded when no cycle finished for three minutes
const healthStaleAfter = 3 * time.Minute

// rateLimited is implemented by brokers and advisors that throttle their calls
type rateLimited interface {
	RateLimiter() *safety.RateLimiter
}

type guarded interface {
	Breaker() *safety.CircuitBreaker
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var once, forceSignal bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the trading engine",
		Long: `Start the once-a-minute trading cycle. Signals are evaluated at the
configured check minute; the entry-fill and exit passes run every cycle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return runBot(cmd.Context(), cfg, once, forceSignal)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single cycle and exit")
	cmd.Flags().BoolVar(&forceSignal, "force-signal", false, "Evaluate signals in the first cycle regardless of the clock")
	return cmd
}

func runBot(ctx context.Context, cfg *config.BotConfig, once, forceSignal bool) error {
	log, err := logger.New(logger.Options{Level: cfg.Logging.Level, Dir: cfg.Logging.Dir})
	if err != nil {
		return err
	}
	defer log.Close()

	log.WithFields(logrus.Fields{
		"exchange": cfg.Exchange.Name,
		"testnet":  cfg.Exchange.Testnet,
		"demo":     cfg.Exchange.Demo,
		"symbols":  len(cfg.Symbols),
		"db":       cfg.Storage.DBPath,
	}).Info("Starting crossover bot")

	health := monitoring.NewHealthChecker(healthStaleAfter)

	broker, err := adapters.NewBroker(cfg, log)
	if err != nil {
		return err
	}
	if rl, ok := broker.(rateLimited); ok {
		health.TrackLimiter(rl.RateLimiter())
	}
	if g, ok := broker.(guarded); ok {
		health.TrackBreaker(g.Breaker())
	}
	opener := sqlite.NewOpener(cfg.Storage.DBPath)

	personas, err := config.LoadPersonas(cfg.AI.PersonasFile)
	if err != nil {
		return err
	}
	var advisor decision.Advisor
	if cfg.AI.Enabled {
		factory := decision.OpenAIModelFactory(cfg.AI.APIKey, cfg.AI.BaseURL, time.Duration(cfg.AI.TimeoutSeconds)*time.Second)
		llm := decision.NewLLMAdvisor(factory, personas, cfg.AI, log)
		health.TrackLimiter(llm.RateLimiter())
		advisor = llm
	} else {
		log.Warn("AI advisor is disabled, every signal resolves to HOLD")
	}
	gateway := decision.NewGateway(advisor, opener, log, time.Duration(cfg.AI.DecisionTimeoutSeconds)*time.Second)

	notifier := newNotifier(cfg, log)

	locker, closeLock, err := newLocker(cfg, log)
	if err != nil {
		return err
	}
	defer closeLock()

	if cfg.Metrics.Enabled {
		srv := monitoring.NewServer(cfg.Metrics.Listen, health)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		log.WithField("listen", cfg.Metrics.Listen).Info("Serving /metrics and /health")
	}

	mon := monitor.New(broker, opener, notifier, monitor.Config{
		PassGap:           time.Duration(cfg.Monitor.PassGapSeconds) * time.Second,
		BuyStopMultiplier: cfg.Risk.BuyStopLossMultiplier,
		QuietFailCodes:    cfg.Monitor.QuietFailCodes,
	}, log)

	eng := engine.New(cfg, engine.Deps{
		Broker:   broker,
		Opener:   opener,
		Decider:  gateway,
		Placer:   trading.NewPlacer(broker, cfg.Exchange.QuoteCurrency, cfg.Risk.BuyStopLossMultiplier, log),
		Monitor:  mon,
		Locker:   locker,
		Health:   health,
		Notifier: notifier,
	}, log)

	if once {
		eng.RunCycle(ctx, forceSignal)
		return nil
	}

	if err := notifier.SendAlert(ctx, notifications.LevelInfo,
		fmt.Sprintf("Crossover bot started on %s with %d symbols", cfg.Exchange.Name, len(cfg.Symbols))); err != nil {
		log.WithError(err).Warn("Startup notification failed")
	}
	err = eng.Run(ctx, forceSignal)
	log.WithFields(logrus.Fields{
		"engine_errors":  eng.Stats().Total(),
		"monitor_errors": mon.Stats().Total(),
		"gateway_errors": gateway.Stats().Total(),
		"store_errors":   eng.Stats().Count(boterrors.ErrorCategoryStore) + mon.Stats().Count(boterrors.ErrorCategoryStore),
	}).Info("Crossover bot stopped")
	return err
}

func newNotifier(cfg *config.BotConfig, log logrus.FieldLogger) notifications.Notifier {
	n := cfg.Notifications
	if n == nil || !n.Enabled || n.TelegramToken == "" || n.TelegramChat == "" {
		log.Info("Telegram notifications disabled")
		return notifications.Nop{}
	}
	return notifications.NewTelegramNotifier(n.TelegramToken, n.TelegramChat)
}

// newLocker returns the Redis lease when an address is configured, otherwise
// a lock that always grants.
func newLocker(cfg *config.BotConfig, log logrus.FieldLogger) (lock.Locker, func(), error) {
	if cfg.Lock.RedisAddr == "" {
		return lock.Nop{}, func() {}, nil
	}
	l, err := lock.NewRedis(lock.Config{
		Addr:     cfg.Lock.RedisAddr,
		Password: cfg.Lock.RedisPassword,
		DB:       cfg.Lock.RedisDB,
		Key:      cfg.Lock.Key,
		TTL:      time.Duration(cfg.Lock.TTLSeconds) * time.Second,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("cycle lease: %w", err)
	}
	log.WithField("redis", cfg.Lock.RedisAddr).Info("Cycle lease enabled")
	return l, func() { l.Close() }, nil
}
