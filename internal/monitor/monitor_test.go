package monitor

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/ema-crossover-bot/internal/exchange"
	"github.com/ducminhle1904/ema-crossover-bot/internal/exchange/exchangetest"
	"github.com/ducminhle1904/ema-crossover-bot/internal/logger"
	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
	"github.com/ducminhle1904/ema-crossover-bot/internal/storage/sqlite"
	"github.com/ducminhle1904/ema-crossover-bot/pkg/types"
)

const symbol = "BTCEUR"

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) SendAlert(ctx context.Context, level, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, level+": "+message)
	return nil
}

func (n *recordingNotifier) all() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return strings.Join(n.messages, "\n")
}

type fixture struct {
	broker   *exchangetest.Broker
	opener   *sqlite.Opener
	notifier *recordingNotifier
	monitor  *Monitor
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		broker:   exchangetest.New(),
		opener:   sqlite.NewOpener(filepath.Join(t.TempDir(), "bot.db")),
		notifier: &recordingNotifier{},
	}
	f.broker.MinSize = 0.0001
	f.monitor = New(f.broker, f.opener, f.notifier, Config{BuyStopMultiplier: 0.95, QuietFailCodes: []string{"EC_Quiet"}}, logger.Discard())
	f.monitor.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) submit(t *testing.T, orderID string) {
	t.Helper()
	err := storage.With(context.Background(), f.opener, func(st storage.Store) error {
		return st.LogTrade(context.Background(), &storage.Trade{
			EntryOrderID:    orderID,
			Symbol:          symbol,
			Side:            "buy",
			Quantity:        0.5,
			EntryPrice:      100,
			InitialStopLoss: 95,
			OrderStatus:     storage.StatusSubmittedBuy,
			OpenedAt:        time.Date(2024, 3, 1, 9, 1, 0, 0, time.UTC),
		})
	})
	require.NoError(t, err)
}

func (f *fixture) trade(t *testing.T, orderID string) storage.Trade {
	t.Helper()
	var trade *storage.Trade
	err := storage.With(context.Background(), f.opener, func(st storage.Store) error {
		var err error
		trade, err = st.GetTrade(context.Background(), orderID)
		return err
	})
	require.NoError(t, err)
	return *trade
}

func (f *fixture) fill(orderID string, price, qty float64) {
	f.broker.SetOrder(exchange.OrderState{
		OrderID:      orderID,
		Symbol:       symbol,
		Class:        exchange.OrderFilled,
		RawStatus:    "Filled",
		FillPrice:    price,
		FillQuantity: qty,
	})
}

func (f *fixture) setHigh(high float64) {
	f.broker.Candles[exchangetest.CandleKey(symbol, "1m")] = []types.OHLCV{
		{High: high - 1, Close: high - 1.5},
		{High: high, Close: high - 0.5},
	}
}

func TestFilledEntryGetsInitialStop(t *testing.T) {
	f := setup(t)
	f.submit(t, "E1")
	f.fill("E1", 100, 0.5)

	require.NoError(t, f.monitor.EntryFillPass(context.Background()))

	require.Len(t, f.broker.Stops, 1)
	stop := f.broker.Stops[0]
	assert.Equal(t, exchange.SideSell, stop.Side)
	assert.InDelta(t, 95.0, stop.Trigger, 1e-9)
	assert.Equal(t, 0.5, stop.Size)

	trade := f.trade(t, "E1")
	assert.Equal(t, storage.StatusPlacedStopLoss, trade.OrderStatus)
	assert.Equal(t, 100.0, trade.EntryFillPrice)
	assert.Equal(t, 0.5, trade.EntryFillQuantity)
	assert.NotEmpty(t, trade.ExitAlgoID)
	assert.InDelta(t, 95.0, trade.AmendedStopLoss, 1e-9)
}

func TestStopSizedFromLiveBalance(t *testing.T) {
	f := setup(t)
	f.submit(t, "E1")
	f.fill("E1", 100, 0.5)
	f.broker.BaseBalance[symbol] = 0.4995

	require.NoError(t, f.monitor.EntryFillPass(context.Background()))
	require.Len(t, f.broker.Stops, 1)
	assert.Equal(t, 0.4995, f.broker.Stops[0].Size)
}

func TestCanceledEntry(t *testing.T) {
	f := setup(t)
	f.submit(t, "E1")
	f.submit(t, "E2")
	f.broker.SetOrder(exchange.OrderState{OrderID: "E1", Symbol: symbol, Class: exchange.OrderCanceled, RawStatus: "Cancelled"})
	f.broker.SetOrder(exchange.OrderState{OrderID: "E2", Symbol: symbol, Class: exchange.OrderOpen, RawStatus: "New"})

	require.NoError(t, f.monitor.EntryFillPass(context.Background()))

	canceled := f.trade(t, "E1")
	assert.Equal(t, storage.StatusCanceledBuy, canceled.OrderStatus)
	assert.Zero(t, canceled.EntryFillPrice)
	assert.Zero(t, canceled.EntryFillQuantity)

	assert.Equal(t, storage.StatusSubmittedBuy, f.trade(t, "E2").OrderStatus)
	assert.Empty(t, f.broker.Stops)
}

func TestUnknownEntryStateNeedsReview(t *testing.T) {
	f := setup(t)
	f.submit(t, "E1")
	f.broker.SetOrder(exchange.OrderState{OrderID: "E1", Symbol: symbol, Class: exchange.OrderOther, RawStatus: "Weird"})

	require.NoError(t, f.monitor.EntryFillPass(context.Background()))

	assert.Equal(t, storage.StatusSubmittedBuy, f.trade(t, "E1").OrderStatus)
	assert.Contains(t, f.notifier.all(), "manual review")
}

func TestFailedStopIsRetried(t *testing.T) {
	f := setup(t)
	f.submit(t, "E1")
	f.fill("E1", 100, 0.5)
	f.broker.ErrStop = exchange.ErrInsufficientFunds

	require.NoError(t, f.monitor.EntryFillPass(context.Background()))
	assert.Equal(t, storage.StatusFilledBuy, f.trade(t, "E1").OrderStatus)
	assert.Contains(t, f.notifier.all(), "could not be placed")

	f.broker.ErrStop = nil
	require.NoError(t, f.monitor.EntryFillPass(context.Background()))

	trade := f.trade(t, "E1")
	assert.Equal(t, storage.StatusPlacedStopLoss, trade.OrderStatus)
	require.Len(t, f.broker.Stops, 2)
	assert.InDelta(t, 95.0, f.broker.Stops[1].Trigger, 1e-9)
}

func protectedTrade(t *testing.T) *fixture {
	t.Helper()
	f := setup(t)
	f.submit(t, "E1")
	f.fill("E1", 100, 0.5)
	require.NoError(t, f.monitor.EntryFillPass(context.Background()))
	require.Len(t, f.broker.Stops, 1)
	return f
}

func TestExitPassTrailsStop(t *testing.T) {
	f := protectedTrade(t)
	f.setHigh(103)

	require.NoError(t, f.monitor.ExitPass(context.Background()))

	require.Len(t, f.broker.Amends, 1)
	assert.InDelta(t, 102.176, f.broker.Amends[0].Trigger, 1e-9)
	assert.InDelta(t, 102.176, f.trade(t, "E1").AmendedStopLoss, 1e-9)
}

func TestExitPassFallsBackToTicker(t *testing.T) {
	f := protectedTrade(t)
	f.broker.Prices[symbol] = 106

	require.NoError(t, f.monitor.ExitPass(context.Background()))

	require.Len(t, f.broker.Amends, 1)
	assert.InDelta(t, 105.894, f.broker.Amends[0].Trigger, 1e-9)
}

func TestExitPassIsIdempotent(t *testing.T) {
	f := protectedTrade(t)
	f.setHigh(103)

	require.NoError(t, f.monitor.ExitPass(context.Background()))
	first := f.trade(t, "E1")

	require.NoError(t, f.monitor.ExitPass(context.Background()))
	second := f.trade(t, "E1")

	assert.Equal(t, first, second)
	assert.Len(t, f.broker.Amends, 1)
}

func TestStopOnlyRatchetsUp(t *testing.T) {
	f := protectedTrade(t)
	rng := rand.New(rand.NewPCG(3, 5))

	last := f.trade(t, "E1").AmendedStopLoss
	for i := 0; i < 40; i++ {
		f.setHigh(90 + rng.Float64()*25)
		require.NoError(t, f.monitor.ExitPass(context.Background()))

		current := f.trade(t, "E1").AmendedStopLoss
		assert.GreaterOrEqual(t, current, last, "pass %d", i)
		last = current
	}

	for i := 1; i < len(f.broker.Amends); i++ {
		assert.Greater(t, f.broker.Amends[i].Trigger, f.broker.Amends[i-1].Trigger)
	}
}

func TestAmendFailureKeepsStoredStop(t *testing.T) {
	f := protectedTrade(t)
	f.setHigh(103)
	f.broker.ErrAmend = errors.New("bybit retCode 10006: rate limit")

	require.NoError(t, f.monitor.ExitPass(context.Background()))
	assert.InDelta(t, 95.0, f.trade(t, "E1").AmendedStopLoss, 1e-9)
}

func TestExecutedStopClosesTrade(t *testing.T) {
	f := protectedTrade(t)
	algoID := f.trade(t, "E1").ExitAlgoID
	executedAt := time.Date(2024, 3, 2, 14, 3, 0, 0, time.UTC)

	f.broker.SetAlgo(exchange.AlgoState{AlgoID: algoID, Symbol: symbol, Class: exchange.AlgoEffective, RawStatus: "Filled", FailCode: "EC_NoError"})
	f.broker.Executions[algoID] = &exchange.Execution{OrderID: "X1", Price: 94.9, Quantity: 0.5, ExecutedAt: executedAt}

	require.NoError(t, f.monitor.ExitPass(context.Background()))

	trade := f.trade(t, "E1")
	assert.Equal(t, storage.StatusClosed, trade.OrderStatus)
	assert.Equal(t, "X1", trade.ExitOrderID)
	assert.Equal(t, 94.9, trade.ExitFillPrice)
	assert.Equal(t, 0.5, trade.ExitFillQuantity)
	require.NotNil(t, trade.ClosedAt)
	assert.True(t, executedAt.Equal(*trade.ClosedAt))

	// closed trades drop out of the exit pass
	require.NoError(t, f.monitor.ExitPass(context.Background()))
	assert.Equal(t, trade, f.trade(t, "E1"))
}

func TestPendingStopWaits(t *testing.T) {
	f := protectedTrade(t)
	algoID := f.trade(t, "E1").ExitAlgoID
	f.broker.SetAlgo(exchange.AlgoState{AlgoID: algoID, Symbol: symbol, Class: exchange.AlgoPending, RawStatus: "Triggered"})
	f.setHigh(110)

	require.NoError(t, f.monitor.ExitPass(context.Background()))

	assert.Empty(t, f.broker.Amends)
	assert.Equal(t, storage.StatusPlacedStopLoss, f.trade(t, "E1").OrderStatus)
}

func TestBrokenStopFlagsUnprotectedBalance(t *testing.T) {
	f := protectedTrade(t)
	algoID := f.trade(t, "E1").ExitAlgoID
	f.broker.SetAlgo(exchange.AlgoState{AlgoID: algoID, Symbol: symbol, Class: exchange.AlgoOther, RawStatus: "Cancelled", FailCode: "EC_Cancelled"})
	f.broker.BaseBalance[symbol] = 0.5

	require.NoError(t, f.monitor.ExitPass(context.Background()))

	assert.Equal(t, storage.StatusPlacedStopLoss, f.trade(t, "E1").OrderStatus)
	msgs := f.notifier.all()
	assert.Contains(t, msgs, "needs manual review")
	assert.Contains(t, msgs, "new protective order needed")
}

func TestEffectiveWithFailCodeIsNotClosed(t *testing.T) {
	f := protectedTrade(t)
	algoID := f.trade(t, "E1").ExitAlgoID
	f.broker.SetAlgo(exchange.AlgoState{AlgoID: algoID, Symbol: symbol, Class: exchange.AlgoEffective, RawStatus: "Filled", FailCode: "EC_Quiet"})

	require.NoError(t, f.monitor.ExitPass(context.Background()))
	assert.Equal(t, storage.StatusPlacedStopLoss, f.trade(t, "E1").OrderStatus)
}

func TestRunHonorsContext(t *testing.T) {
	f := protectedTrade(t)
	f.monitor.config.PassGap = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.monitor.Run(ctx), context.Canceled)
}

func TestStoreFailureSkipsPass(t *testing.T) {
	f := setup(t)
	f.monitor.opener = sqlite.NewOpener("")

	assert.Error(t, f.monitor.EntryFillPass(context.Background()))
	assert.Error(t, f.monitor.ExitPass(context.Background()))
}

// flakyOpener hands out stores whose UpdateStopPlaced fails stopPlacedFailures times
type flakyOpener struct {
	storage.Opener
	stopPlacedFailures int
}

func (o *flakyOpener) Open(ctx context.Context) (storage.Store, error) {
	st, err := o.Opener.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &flakyStore{Store: st, opener: o}, nil
}

type flakyStore struct {
	storage.Store
	opener *flakyOpener
}

func (s *flakyStore) UpdateStopPlaced(ctx context.Context, entryOrderID, algoID string, trigger float64) error {
	if s.opener.stopPlacedFailures > 0 {
		s.opener.stopPlacedFailures--
		return errors.New("database is locked")
	}
	return s.Store.UpdateStopPlaced(ctx, entryOrderID, algoID, trigger)
}

func (f *fixture) liveStops() []string {
	var ids []string
	for id, algo := range f.broker.Algos {
		if algo.Class == exchange.AlgoLive {
			ids = append(ids, id)
		}
	}
	return ids
}

func TestUnrecordedStopIsCanceled(t *testing.T) {
	f := setup(t)
	f.submit(t, "E1")
	f.fill("E1", 100, 0.5)
	f.monitor.opener = &flakyOpener{Opener: f.opener, stopPlacedFailures: 1}

	require.NoError(t, f.monitor.EntryFillPass(context.Background()))
	assert.Equal(t, storage.StatusFilledBuy, f.trade(t, "E1").OrderStatus)
	require.Len(t, f.broker.Stops, 1)
	assert.Len(t, f.broker.Cancels, 1)
	assert.Empty(t, f.liveStops())

	require.NoError(t, f.monitor.EntryFillPass(context.Background()))

	trade := f.trade(t, "E1")
	assert.Equal(t, storage.StatusPlacedStopLoss, trade.OrderStatus)
	assert.Len(t, f.broker.Stops, 2)
	assert.Equal(t, []string{trade.ExitAlgoID}, f.liveStops())
}

func TestUncancelableUnrecordedStopNeedsReview(t *testing.T) {
	f := setup(t)
	f.submit(t, "E1")
	f.fill("E1", 100, 0.5)
	f.monitor.opener = &flakyOpener{Opener: f.opener, stopPlacedFailures: 1}
	f.broker.ErrCancel = errors.New("bybit retCode 10016: service error")

	require.NoError(t, f.monitor.EntryFillPass(context.Background()))
	assert.Contains(t, f.notifier.all(), "not recorded and could not be canceled")

	require.NoError(t, f.monitor.EntryFillPass(context.Background()))
	assert.Len(t, f.broker.Stops, 1)
	assert.Len(t, f.liveStops(), 1)
	assert.Equal(t, storage.StatusFilledBuy, f.trade(t, "E1").OrderStatus)
}

func TestUnreportedTriggerDoesNotLowerStop(t *testing.T) {
	f := protectedTrade(t)
	trade := f.trade(t, "E1")
	f.broker.SetAlgo(exchange.AlgoState{AlgoID: trade.ExitAlgoID, Symbol: symbol, Class: exchange.AlgoLive, RawStatus: "Untriggered"})
	f.setHigh(99)

	require.NoError(t, f.monitor.ExitPass(context.Background()))
	assert.Empty(t, f.broker.Amends)
	assert.InDelta(t, 95.0, f.trade(t, "E1").AmendedStopLoss, 1e-9)

	f.setHigh(103)
	require.NoError(t, f.monitor.ExitPass(context.Background()))
	require.Len(t, f.broker.Amends, 1)
	assert.InDelta(t, 102.176, f.broker.Amends[0].Trigger, 1e-9)
}

func TestUndersizedStopFlaggedOnce(t *testing.T) {
	f := setup(t)
	f.submit(t, "E1")
	f.fill("E1", 100, 0)

	require.NoError(t, f.monitor.EntryFillPass(context.Background()))
	require.NoError(t, f.monitor.EntryFillPass(context.Background()))

	assert.Empty(t, f.broker.Stops)
	assert.Equal(t, storage.StatusFilledBuy, f.trade(t, "E1").OrderStatus)
	assert.Equal(t, 1, strings.Count(f.notifier.all(), "below the minimum"))

	f.broker.BaseBalance[symbol] = 0.5
	require.NoError(t, f.monitor.EntryFillPass(context.Background()))

	require.Len(t, f.broker.Stops, 1)
	assert.Equal(t, 0.5, f.broker.Stops[0].Size)
	assert.Equal(t, storage.StatusPlacedStopLoss, f.trade(t, "E1").OrderStatus)
}
