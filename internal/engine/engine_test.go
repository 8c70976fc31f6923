package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/ema-crossover-bot/internal/config"
	"github.com/ducminhle1904/ema-crossover-bot/internal/decision"
	boterrors "github.com/ducminhle1904/ema-crossover-bot/internal/errors"
	"github.com/ducminhle1904/ema-crossover-bot/internal/exchange"
	"github.com/ducminhle1904/ema-crossover-bot/internal/exchange/exchangetest"
	"github.com/ducminhle1904/ema-crossover-bot/internal/lock"
	"github.com/ducminhle1904/ema-crossover-bot/internal/logger"
	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
	"github.com/ducminhle1904/ema-crossover-bot/internal/storage/sqlite"
	"github.com/ducminhle1904/ema-crossover-bot/internal/trading"
	"github.com/ducminhle1904/ema-crossover-bot/pkg/types"
)

// checkTime is a 4h signal check minute
var checkTime = time.Date(2024, 3, 1, 4, 1, 0, 0, time.UTC)

type advisorFunc func(ctx context.Context, dc decision.Context) (decision.Decision, decision.AdviceMeta, error)

func (f advisorFunc) Advise(ctx context.Context, dc decision.Context) (decision.Decision, decision.AdviceMeta, error) {
	return f(ctx, dc)
}

type deciderFunc func(ctx context.Context, signalID int64, dc decision.Context) decision.Decision

func (f deciderFunc) Evaluate(ctx context.Context, signalID int64, dc decision.Context) decision.Decision {
	return f(ctx, signalID, dc)
}

type countingMonitor struct {
	mu   sync.Mutex
	runs int
}

func (m *countingMonitor) Run(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	return nil
}

type deniedLock struct{}

func (deniedLock) Acquire(context.Context) (bool, error) { return false, nil }
func (deniedLock) Release(context.Context) error         { return nil }

// crossingCandles declines for 98 hours and then jumps, so the fast EMA
// crosses above the slow EMA on the second to last bar.
func crossingCandles() []types.OHLCV {
	start := checkTime.Add(-100 * time.Hour)
	candles := make([]types.OHLCV, 100)
	for i := range candles {
		c := 150 - 0.5*float64(i)
		switch i {
		case 98:
			c = 131.5
		case 99:
			c = 136.5
		}
		candles[i] = types.OHLCV{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
			Closed:    true,
		}
	}
	return candles
}

func buyDecision() decision.Decision {
	return decision.Decision{
		Kind:            decision.KindTrade,
		Action:          decision.ActionBuy,
		Confidence:      decision.ConfidenceHigh,
		RiskScore:       0.3,
		PositionSizePct: 10,
		StopLossPct:     5,
		TakeProfitPct:   10,
		Rationale:       "trend turning up",
		Source:          decision.SourceAI,
	}
}

type fixture struct {
	cfg     *config.BotConfig
	broker  *exchangetest.Broker
	opener  *sqlite.Opener
	monitor *countingMonitor
}

func setup(t *testing.T, symbols ...string) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Symbols = nil
	for _, s := range symbols {
		cfg.Symbols = append(cfg.Symbols, config.SymbolConfig{Symbol: s, MaxAllocation: 50})
	}

	broker := exchangetest.New()
	broker.Funds = exchange.Funds{Equity: 1000, Cash: 1000}
	broker.MinSize = 0.0001
	for _, s := range symbols {
		broker.Candles[exchangetest.CandleKey(s, "1h")] = crossingCandles()
		broker.Candles[exchangetest.CandleKey(s, "4h")] = crossingCandles()
	}

	return &fixture{
		cfg:     cfg,
		broker:  broker,
		opener:  sqlite.NewOpener(filepath.Join(t.TempDir(), "bot.db")),
		monitor: &countingMonitor{},
	}
}

func (f *fixture) engine(decider Decider, locker ...lock.Locker) *Engine {
	deps := Deps{
		Broker:  f.broker,
		Opener:  f.opener,
		Decider: decider,
		Placer:  trading.NewPlacer(f.broker, "USDT", 0.95, logger.Discard()),
		Monitor: f.monitor,
	}
	if len(locker) > 0 {
		deps.Locker = locker[0]
	}
	e := New(f.cfg, deps, logger.Discard())
	e.now = func() time.Time { return checkTime }
	return e
}

func (f *fixture) gateway(advisor decision.Advisor) *decision.Gateway {
	return decision.NewGateway(advisor, f.opener, logger.Discard(), time.Second)
}

func (f *fixture) trades(t *testing.T) []storage.Trade {
	t.Helper()
	var trades []storage.Trade
	err := storage.With(context.Background(), f.opener, func(st storage.Store) error {
		var err error
		trades, err = st.ListTrades(context.Background(), 100)
		return err
	})
	require.NoError(t, err)
	return trades
}

func (f *fixture) signal(t *testing.T, id int64) *storage.Signal {
	t.Helper()
	var sig *storage.Signal
	err := storage.With(context.Background(), f.opener, func(st storage.Store) error {
		var err error
		sig, err = st.GetSignal(context.Background(), id)
		return err
	})
	require.NoError(t, err)
	return sig
}

func TestCycleBuysOnApprovedSignal(t *testing.T) {
	f := setup(t, "BTCUSDT")
	var seen decision.Context
	advisor := advisorFunc(func(ctx context.Context, dc decision.Context) (decision.Decision, decision.AdviceMeta, error) {
		seen = dc
		return buyDecision(), decision.AdviceMeta{ModelName: "test-model"}, nil
	})

	f.engine(f.gateway(advisor)).RunCycle(context.Background(), false)

	assert.Equal(t, "BTCUSDT", seen.Symbol)
	assert.Equal(t, "bullish", seen.Direction)
	assert.Equal(t, "buy", seen.SignalType)
	assert.Equal(t, 136.5, seen.Price)
	assert.Equal(t, "4h", seen.ConfirmTimeframe)

	sig := f.signal(t, 1)
	assert.True(t, sig.Processed)
	assert.Equal(t, "buy", sig.SignalType)
	assert.Contains(t, sig.EMAMetrics, "ema_fast_slope")

	require.Len(t, f.broker.Buys, 1)
	assert.InDelta(t, 500.0, f.broker.Buys[0], 1e-9)

	trades := f.trades(t)
	require.Len(t, trades, 1)
	assert.Equal(t, storage.StatusSubmittedBuy, trades[0].OrderStatus)
	assert.Equal(t, int64(1), trades[0].SignalID)
	assert.NotZero(t, trades[0].AIDecisionID)
	assert.InDelta(t, 136.5*0.95, trades[0].InitialStopLoss, 1e-9)

	assert.Equal(t, 1, f.monitor.runs)
}

func TestGatewayFailureHoldsWithoutTrade(t *testing.T) {
	f := setup(t, "BTCUSDT")
	advisor := advisorFunc(func(ctx context.Context, dc decision.Context) (decision.Decision, decision.AdviceMeta, error) {
		return decision.Hold(), decision.AdviceMeta{}, errors.New("model unavailable")
	})

	f.engine(f.gateway(advisor)).RunCycle(context.Background(), false)

	assert.True(t, f.signal(t, 1).Processed)
	assert.Empty(t, f.broker.Buys)
	assert.Empty(t, f.trades(t))
	assert.Equal(t, 1, f.monitor.runs)
}

func TestSellApprovalIsNotExecuted(t *testing.T) {
	f := setup(t, "BTCUSDT")
	decider := deciderFunc(func(ctx context.Context, signalID int64, dc decision.Context) decision.Decision {
		d := buyDecision()
		d.Action = decision.ActionSell
		return d
	})

	f.engine(decider).RunCycle(context.Background(), false)
	assert.Empty(t, f.broker.Buys)
}

func TestNoScanOutsideCheckTime(t *testing.T) {
	f := setup(t, "BTCUSDT")
	called := false
	decider := deciderFunc(func(ctx context.Context, signalID int64, dc decision.Context) decision.Decision {
		called = true
		return buyDecision()
	})

	e := f.engine(decider)
	e.now = func() time.Time { return checkTime.Add(time.Minute) }
	e.RunCycle(context.Background(), false)

	assert.False(t, called)
	assert.Equal(t, 1, f.monitor.runs)

	e.RunCycle(context.Background(), true)
	assert.True(t, called)
}

func TestPanicInOneSymbolDoesNotStopOthers(t *testing.T) {
	f := setup(t, "BTCUSDT", "ETHUSDT")
	decider := deciderFunc(func(ctx context.Context, signalID int64, dc decision.Context) decision.Decision {
		if dc.Symbol == "BTCUSDT" {
			panic("boom")
		}
		return buyDecision()
	})

	e := f.engine(decider)
	e.RunCycle(context.Background(), false)

	require.Len(t, f.broker.Buys, 1)
	trades := f.trades(t)
	require.Len(t, trades, 1)
	assert.Equal(t, "ETHUSDT", trades[0].Symbol)
	assert.Equal(t, 1, e.Stats().Total())
}

func TestDataFailureIsContained(t *testing.T) {
	f := setup(t, "BTCUSDT")
	f.broker.ErrCandles = errors.New("connection reset")
	called := false
	decider := deciderFunc(func(ctx context.Context, signalID int64, dc decision.Context) decision.Decision {
		called = true
		return decision.Hold()
	})

	e := f.engine(decider)
	e.RunCycle(context.Background(), false)

	assert.False(t, called)
	assert.Equal(t, 1, f.monitor.runs)
	assert.Equal(t, 1, e.Stats().Total())
}

func TestStoreFailureSkipsCycleWork(t *testing.T) {
	f := setup(t, "BTCUSDT")
	f.opener = sqlite.NewOpener("")

	e := f.engine(deciderFunc(func(ctx context.Context, signalID int64, dc decision.Context) decision.Decision {
		t.Fatal("decider must not run without a store")
		return decision.Hold()
	}))
	e.RunCycle(context.Background(), false)

	assert.Empty(t, f.broker.Buys)
	assert.Zero(t, f.monitor.runs)
}

func TestLeaseHeldElsewhereSkipsCycle(t *testing.T) {
	f := setup(t, "BTCUSDT")
	e := f.engine(deciderFunc(func(ctx context.Context, signalID int64, dc decision.Context) decision.Decision {
		return buyDecision()
	}), deniedLock{})

	e.RunCycle(context.Background(), false)

	assert.Empty(t, f.broker.Buys)
	assert.Zero(t, f.monitor.runs)
}

func TestActiveConfigRowsOverrideFile(t *testing.T) {
	f := setup(t, "BTCUSDT", "ETHUSDT")
	err := storage.With(context.Background(), f.opener, func(st storage.Store) error {
		if _, err := st.UpsertUserConfig(context.Background(), &storage.UserConfig{
			AIPersona: "Warren Buffett", FastWindow: 9, SlowWindow: 21, ConfirmationWindow: 9, ATRWindow: 7, ATRMultiplier: 2.5,
		}); err != nil {
			return err
		}
		_, err := st.UpsertSymbolConfig(context.Background(), &storage.SymbolConfig{Symbol: "ETH-USDT", MaxAllocation: 20})
		return err
	})
	require.NoError(t, err)

	var contexts []decision.Context
	decider := deciderFunc(func(ctx context.Context, signalID int64, dc decision.Context) decision.Decision {
		contexts = append(contexts, dc)
		return buyDecision()
	})
	f.engine(decider).RunCycle(context.Background(), false)

	require.Len(t, contexts, 1)
	assert.Equal(t, "ETHUSDT", contexts[0].Symbol)
	assert.Equal(t, "Warren Buffett", contexts[0].Persona)
	assert.Equal(t, 2.5, contexts[0].ATRMultiplier)
	assert.NotZero(t, contexts[0].UserConfigID)

	require.Len(t, f.broker.Buys, 1)
	assert.InDelta(t, 200.0, f.broker.Buys[0], 1e-9)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := setup(t, "BTCUSDT")
	e := f.engine(deciderFunc(func(ctx context.Context, signalID int64, dc decision.Context) decision.Decision {
		return decision.Hold()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	e.sleep = func(ctx context.Context, d time.Duration) error {
		assert.Equal(t, time.Minute, d)
		cancel()
		return ctx.Err()
	}

	assert.NoError(t, e.Run(ctx, true))
	assert.Equal(t, 1, f.monitor.runs)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []string
}

func (n *recordingNotifier) SendAlert(ctx context.Context, level, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, level+": "+message)
	return nil
}

func TestRepeatedStoreFailureAlerts(t *testing.T) {
	f := setup(t, "BTCUSDT")
	f.opener = sqlite.NewOpener("")
	notifier := &recordingNotifier{}

	e := f.engine(deciderFunc(func(ctx context.Context, signalID int64, dc decision.Context) decision.Decision {
		return decision.Hold()
	}))
	e.Notifier = notifier

	e.RunCycle(context.Background(), false)
	e.RunCycle(context.Background(), false)
	assert.Empty(t, notifier.alerts)

	e.RunCycle(context.Background(), false)
	require.Len(t, notifier.alerts, 1)
	assert.Contains(t, notifier.alerts[0], "error: Database has failed 3 times recently (100% of errors)")
}

func TestInvalidActiveConfigSkipsCycle(t *testing.T) {
	f := setup(t, "BTCUSDT")
	err := storage.With(context.Background(), f.opener, func(st storage.Store) error {
		_, err := st.UpsertUserConfig(context.Background(), &storage.UserConfig{AIPersona: "Warren Buffett"})
		return err
	})
	require.NoError(t, err)
	notifier := &recordingNotifier{}

	e := f.engine(deciderFunc(func(ctx context.Context, signalID int64, dc decision.Context) decision.Decision {
		return buyDecision()
	}))
	e.Notifier = notifier
	e.RunCycle(context.Background(), false)

	assert.Empty(t, f.broker.Buys)
	assert.Zero(t, f.monitor.runs)
	assert.Empty(t, notifier.alerts)
	assert.Equal(t, 1, e.Stats().Count(boterrors.ErrorCategoryConfiguration))
}
