package adapters

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/ema-crossover-bot/internal/config"
	"github.com/ducminhle1904/ema-crossover-bot/internal/exchange"
	"github.com/ducminhle1904/ema-crossover-bot/internal/exchange/bybit"
	"github.com/ducminhle1904/ema-crossover-bot/internal/logger"
)

type fakeAPI struct {
	klines  []bybit.Kline
	price   float64
	wallet  *bybit.Wallet
	balance bybit.CoinBalance

	placed      []bybit.PlaceOrderParams
	placeErrs   []error
	amended     []string
	canceled    []string
	orders      map[string]*bybit.Order // keyed by filter + id
	orderErrors map[string]error
}

func (f *fakeAPI) GetKlines(ctx context.Context, params bybit.KlineParams) ([]bybit.Kline, error) {
	return f.klines, nil
}

func (f *fakeAPI) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	return f.price, nil
}

func (f *fakeAPI) GetWallet(ctx context.Context, coins ...string) (*bybit.Wallet, error) {
	return f.wallet, nil
}

func (f *fakeAPI) GetCoinBalance(ctx context.Context, coin string) (bybit.CoinBalance, error) {
	return f.balance, nil
}

func (f *fakeAPI) PlaceOrder(ctx context.Context, params bybit.PlaceOrderParams) (string, error) {
	f.placed = append(f.placed, params)
	if len(f.placeErrs) > 0 {
		err := f.placeErrs[0]
		f.placeErrs = f.placeErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("order-%d", len(f.placed)), nil
}

func (f *fakeAPI) AmendTriggerPrice(ctx context.Context, symbol, orderID, triggerPrice string) error {
	f.amended = append(f.amended, triggerPrice)
	return nil
}

func (f *fakeAPI) CancelOrder(ctx context.Context, symbol, orderID, filter string) error {
	f.canceled = append(f.canceled, filter+":"+orderID)
	return nil
}

func (f *fakeAPI) GetOrder(ctx context.Context, symbol, orderID, filter string) (*bybit.Order, error) {
	if err, ok := f.orderErrors[filter+":"+orderID]; ok {
		return nil, err
	}
	if order, ok := f.orders[filter+":"+orderID]; ok {
		return order, nil
	}
	return nil, bybit.NewBybitError(bybit.ErrCodeOrderNotFound, "order not exists")
}

type fakeInstruments struct {
	inst *bybit.Instrument
}

func (f fakeInstruments) Get(ctx context.Context, symbol string) (*bybit.Instrument, error) {
	return f.inst, nil
}

func testInstrument() *bybit.Instrument {
	return &bybit.Instrument{
		Symbol:         "BTCUSDT",
		Status:         "Trading",
		BaseCoin:       "BTC",
		QuoteCoin:      "USDT",
		MinOrderQty:    decimal.RequireFromString("0.000048"),
		MaxOrderQty:    decimal.RequireFromString("100"),
		QtyStep:        decimal.RequireFromString("0.000001"),
		QuotePrecision: decimal.RequireFromString("0.00000001"),
		MinOrderAmt:    decimal.RequireFromString("5"),
		TickSize:       decimal.RequireFromString("0.01"),
	}
}

func newTestAdapter(api *fakeAPI) *BybitAdapter {
	cfg := config.ExchangeConfig{Name: "bybit", RequestTimeoutSeconds: 5}
	risk := config.RiskConfig{StopBackoffFactor: 0.995}
	adapter := newBybitAdapter(api, fakeInstruments{inst: testInstrument()}, cfg, risk, logger.Discard())
	adapter.retry.InitialDelay = time.Millisecond
	adapter.retry.MaxDelay = time.Millisecond
	adapter.newLinkID = func() string { return "link" }
	return adapter
}

func insufficient() error {
	return bybit.NewBybitError(bybit.ErrCodeSpotInsufficient, "Insufficient balance")
}

func TestPlaceConditionalStopBacksOff(t *testing.T) {
	api := &fakeAPI{placeErrs: []error{insufficient(), insufficient(), nil}}
	adapter := newTestAdapter(api)

	algoID, err := adapter.PlaceConditionalStop(context.Background(), "BTCUSDT", 0.5, 95, exchange.SideSell)
	require.NoError(t, err)
	assert.Equal(t, "order-3", algoID)

	require.Len(t, api.placed, 3)
	assert.Equal(t, "0.5", api.placed[0].Qty)
	assert.Equal(t, "0.4975", api.placed[1].Qty)
	assert.Equal(t, "0.495012", api.placed[2].Qty)
	for _, p := range api.placed {
		assert.Equal(t, bybit.FilterStopOrder, p.OrderFilter)
		assert.Equal(t, bybit.OrderSideSell, p.Side)
		assert.Equal(t, bybit.OrderTypeMarket, p.OrderType)
		assert.Equal(t, "95", p.TriggerPrice)
	}
}

func TestPlaceConditionalStopGivesUpBelowMinimum(t *testing.T) {
	errs := make([]error, 50)
	for i := range errs {
		errs[i] = insufficient()
	}
	api := &fakeAPI{placeErrs: errs}
	adapter := newTestAdapter(api)

	_, err := adapter.PlaceConditionalStop(context.Background(), "BTCUSDT", 0.00005, 95, exchange.SideSell)
	require.Error(t, err)
	assert.ErrorIs(t, err, exchange.ErrInsufficientFunds)
	// 0.00005 * 0.995^9 drops under the 0.000048 minimum
	assert.Len(t, api.placed, 9)
}

func TestPlaceConditionalStopOtherErrorStops(t *testing.T) {
	api := &fakeAPI{placeErrs: []error{bybit.NewBybitError(bybit.ErrCodeSpotSymbolNotTradable, "not tradable")}}
	adapter := newTestAdapter(api)

	_, err := adapter.PlaceConditionalStop(context.Background(), "BTCUSDT", 0.5, 95, exchange.SideSell)
	require.Error(t, err)
	assert.NotErrorIs(t, err, exchange.ErrInsufficientFunds)
	assert.Len(t, api.placed, 1)
}

func TestPlaceMarketBuy(t *testing.T) {
	api := &fakeAPI{}
	adapter := newTestAdapter(api)

	id, err := adapter.PlaceMarketBuy(context.Background(), "BTCUSDT", 250.123456789)
	require.NoError(t, err)
	assert.Equal(t, "order-1", id)
	require.Len(t, api.placed, 1)
	assert.Equal(t, "quoteCoin", api.placed[0].MarketUnit)
	assert.Equal(t, "250.12345678", api.placed[0].Qty)
	assert.Equal(t, "link", api.placed[0].OrderLinkID)

	_, err = adapter.PlaceMarketBuy(context.Background(), "BTCUSDT", 1)
	assert.Error(t, err)
	assert.Len(t, api.placed, 1)
}

func TestGetOrderStatusClasses(t *testing.T) {
	tests := []struct {
		status bybit.OrderStatus
		qty    float64
		want   exchange.OrderClass
	}{
		{bybit.OrderStatusFilled, 1, exchange.OrderFilled},
		{bybit.OrderStatusPartiallyFilledCanceled, 0.4, exchange.OrderFilled},
		{bybit.OrderStatusPartiallyFilledCanceled, 0, exchange.OrderCanceled},
		{bybit.OrderStatusCancelled, 0, exchange.OrderCanceled},
		{bybit.OrderStatusRejected, 0, exchange.OrderCanceled},
		{bybit.OrderStatusNew, 0, exchange.OrderOpen},
		{bybit.OrderStatusPartiallyFilled, 0.2, exchange.OrderOpen},
		{bybit.OrderStatus("Mystery"), 0, exchange.OrderOther},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			order := &bybit.Order{OrderStatus: tt.status, CumExecQty: tt.qty}
			assert.Equal(t, tt.want, classifyOrder(order))
		})
	}
}

func TestGetOrderStatusFillPrice(t *testing.T) {
	api := &fakeAPI{orders: map[string]*bybit.Order{
		"Order:a": {OrderID: "a", Symbol: "BTCUSDT", OrderStatus: bybit.OrderStatusFilled, AvgPrice: 100, CumExecQty: 0.5, CumExecValue: 50},
		"Order:b": {OrderID: "b", Symbol: "BTCUSDT", OrderStatus: bybit.OrderStatusFilled, CumExecQty: 0.5, CumExecValue: 51},
	}}
	adapter := newTestAdapter(api)

	state, err := adapter.GetOrderStatus(context.Background(), "a", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderFilled, state.Class)
	assert.Equal(t, 100.0, state.FillPrice)
	assert.Equal(t, 0.5, state.FillQuantity)

	state, err = adapter.GetOrderStatus(context.Background(), "b", "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 102.0, state.FillPrice, 1e-9)

	_, err = adapter.GetOrderStatus(context.Background(), "missing", "BTCUSDT")
	assert.ErrorIs(t, err, exchange.ErrOrderNotFound)
}

func TestGetAlgoStatus(t *testing.T) {
	api := &fakeAPI{orders: map[string]*bybit.Order{
		"StopOrder:s1": {OrderID: "s1", Symbol: "BTCUSDT", OrderStatus: bybit.OrderStatusUntriggered, TriggerPrice: 95, Qty: 0.5},
		"Order:s2":     {OrderID: "s2", Symbol: "BTCUSDT", OrderStatus: bybit.OrderStatusFilled, AvgPrice: 94.9, CumExecQty: 0.5, RejectReason: "EC_NoError"},
		"StopOrder:s3": {OrderID: "s3", Symbol: "BTCUSDT", OrderStatus: bybit.OrderStatusDeactivated, RejectReason: "EC_OrderNotExist"},
	}}
	adapter := newTestAdapter(api)
	ctx := context.Background()

	live, err := adapter.GetAlgoStatus(ctx, "s1", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, exchange.AlgoLive, live.Class)
	assert.Equal(t, 95.0, live.TriggerPrice)

	done, err := adapter.GetAlgoStatus(ctx, "s2", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, exchange.AlgoEffective, done.Class)
	assert.True(t, done.CleanlyExecuted())

	exec, err := adapter.GetAlgoExecution(ctx, "s2", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 94.9, exec.Price)
	assert.Equal(t, 0.5, exec.Quantity)

	gone, err := adapter.GetAlgoStatus(ctx, "s3", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, exchange.AlgoOther, gone.Class)
	assert.Equal(t, "EC_OrderNotExist", gone.FailCode)
}

func TestClassifyStop(t *testing.T) {
	assert.Equal(t, exchange.AlgoLive, classifyStop(bybit.OrderStatusActive))
	assert.Equal(t, exchange.AlgoPending, classifyStop(bybit.OrderStatusTriggered))
	assert.Equal(t, exchange.AlgoPending, classifyStop(bybit.OrderStatusPartiallyFilled))
	assert.Equal(t, exchange.AlgoEffective, classifyStop(bybit.OrderStatusFilled))
	assert.Equal(t, exchange.AlgoOther, classifyStop(bybit.OrderStatusCancelled))
}

func TestAmendAndCancelStop(t *testing.T) {
	api := &fakeAPI{}
	adapter := newTestAdapter(api)

	require.NoError(t, adapter.AmendConditionalStop(context.Background(), "BTCUSDT", "s1", 102.176))
	assert.Equal(t, []string{"102.18"}, api.amended)

	require.NoError(t, adapter.CancelAlgo(context.Background(), "s1", "BTCUSDT"))
	assert.Equal(t, []string{"StopOrder:s1"}, api.canceled)
}

func TestGetEquityAndCash(t *testing.T) {
	api := &fakeAPI{wallet: &bybit.Wallet{
		TotalEquity: 2000,
		Coins: map[string]bybit.CoinBalance{
			"EUR": {Coin: "EUR", WalletBalance: 1000, UsdValue: 1250, Locked: 100},
		},
	}}
	adapter := newTestAdapter(api)

	funds, err := adapter.GetEquityAndCash(context.Background(), "EUR")
	require.NoError(t, err)
	assert.InDelta(t, 1600.0, funds.Equity, 1e-9)
	assert.InDelta(t, 900.0, funds.Cash, 1e-9)

	funds, err = adapter.GetEquityAndCash(context.Background(), "USDC")
	require.NoError(t, err)
	assert.Equal(t, 2000.0, funds.Equity)
	assert.Zero(t, funds.Cash)
}

func TestGetCandlesMarksOpenBar(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	api := &fakeAPI{klines: []bybit.Kline{
		{StartTime: now.Add(-90 * time.Minute), ClosePrice: 100},
		{StartTime: now.Add(-30 * time.Minute), ClosePrice: 101},
	}}
	adapter := newTestAdapter(api)
	adapter.now = func() time.Time { return now }

	candles, err := adapter.GetCandles(context.Background(), "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.True(t, candles[0].Closed)
	assert.False(t, candles[1].Closed)
	assert.Equal(t, 101.0, candles[1].Close)

	_, err = adapter.GetCandles(context.Background(), "BTCUSDT", "7m", 2)
	assert.Error(t, err)
}

func TestNewBrokerRequiresCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Exchange.APIKey = ""
	_, err := NewBroker(cfg, logger.Discard())
	assert.Error(t, err)

	cfg.Exchange.Name = "kraken"
	cfg.Exchange.APIKey, cfg.Exchange.APISecret = "k", "s"
	_, err = NewBroker(cfg, logger.Discard())
	assert.ErrorContains(t, err, "not supported")
}

func TestSafetyGuardsAreExposed(t *testing.T) {
	adapter := newTestAdapter(&fakeAPI{})

	assert.Equal(t, "bybit", adapter.RateLimiter().GetStats().Name)
	assert.Same(t, adapter.limiter, adapter.RateLimiter())

	stats := adapter.Breaker().GetStats()
	assert.Equal(t, "bybit", stats.Name)
	assert.Zero(t, stats.Failures)
}
