package adapters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/ema-crossover-bot/internal/config"
	"github.com/ducminhle1904/ema-crossover-bot/internal/exchange"
	"github.com/ducminhle1904/ema-crossover-bot/internal/exchange/bybit"
	"github.com/ducminhle1904/ema-crossover-bot/internal/safety"
	"github.com/ducminhle1904/ema-crossover-bot/pkg/types"
)

// bybitAPI is the part of *bybit.Client the adapter drives
type bybitAPI interface {
	GetKlines(ctx context.Context, params bybit.KlineParams) ([]bybit.Kline, error)
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)
	GetWallet(ctx context.Context, coins ...string) (*bybit.Wallet, error)
	GetCoinBalance(ctx context.Context, coin string) (bybit.CoinBalance, error)
	PlaceOrder(ctx context.Context, params bybit.PlaceOrderParams) (string, error)
	AmendTriggerPrice(ctx context.Context, symbol, orderID, triggerPrice string) error
	CancelOrder(ctx context.Context, symbol, orderID, filter string) error
	GetOrder(ctx context.Context, symbol, orderID, filter string) (*bybit.Order, error)
}

type instrumentSource interface {
	Get(ctx context.Context, symbol string) (*bybit.Instrument, error)
}

// BybitAdapter implements exchange.Broker on Bybit spot
type BybitAdapter struct {
	api         bybitAPI
	instruments instrumentSource
	environment string

	limiter *safety.RateLimiter
	breaker *safety.CircuitBreaker
	retry   bybit.RetryConfig
	timeout time.Duration
	backoff float64

	logger    logrus.FieldLogger
	newLinkID func() string
	now       func() time.Time
}

var _ exchange.Broker = (*BybitAdapter)(nil)

// NewBybitAdapter creates a Bybit broker from the exchange and risk settings
func NewBybitAdapter(cfg config.ExchangeConfig, risk config.RiskConfig, logger logrus.FieldLogger) (*BybitAdapter, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("bybit credentials missing: set BYBIT_API_KEY and BYBIT_API_SECRET")
	}

	client := bybit.NewClient(bybit.Config{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		Testnet:   cfg.Testnet,
		Demo:      cfg.Demo,
	})

	adapter := newBybitAdapter(client, client.Instruments(), cfg, risk, logger)
	adapter.environment = client.GetEnvironment()
	return adapter, nil
}

func newBybitAdapter(api bybitAPI, instruments instrumentSource, cfg config.ExchangeConfig, risk config.RiskConfig, logger logrus.FieldLogger) *BybitAdapter {
	breaker := safety.NewCircuitBreaker("bybit", safety.CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	})
	// business rejections say nothing about exchange health
	breaker.IgnoreErrors(func(err error) bool {
		return bybit.IsInsufficientBalanceError(err) || bybit.IsOrderNotFoundError(err)
	})
	breaker.SetStateChangeCallback(func(name string, from, to safety.CircuitBreakerState) {
		logger.WithFields(logrus.Fields{"breaker": name, "from": from, "to": to}).Warn("Circuit breaker state changed")
	})

	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	backoff := risk.StopBackoffFactor
	if backoff <= 0 || backoff >= 1 {
		backoff = 0.995
	}

	return &BybitAdapter{
		api:         api,
		instruments: instruments,
		environment: "mainnet",
		limiter:     safety.NewRateLimiter("bybit", cfg.RateLimitRPS, cfg.RateLimitBurst),
		breaker:     breaker,
		retry:       bybit.DefaultRetryConfig(),
		timeout:     timeout,
		backoff:     backoff,
		logger:      logger.WithField("exchange", "bybit"),
		newLinkID:   func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// GetName returns the exchange name
func (b *BybitAdapter) GetName() string {
	return "bybit"
}

// Environment is mainnet, testnet or demo
func (b *BybitAdapter) Environment() string {
	return b.environment
}

// RateLimiter exposes the request limiter shared by every call
func (b *BybitAdapter) RateLimiter() *safety.RateLimiter {
	return b.limiter
}

// Breaker exposes the circuit breaker guarding exchange calls
func (b *BybitAdapter) Breaker() *safety.CircuitBreaker {
	return b.breaker
}

// call runs fn behind the rate limiter, the circuit breaker and a per-request timeout
func (b *BybitAdapter) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.breaker.Call(ctx, fn); err != nil {
		return convertError(op, err)
	}
	return nil
}

// read is call with retries, for idempotent requests only
func (b *BybitAdapter) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return b.call(ctx, op, func(ctx context.Context) error {
		return bybit.Retry(ctx, b.retry, func() error { return fn(ctx) })
	})
}

func convertError(op string, err error) error {
	switch {
	case bybit.IsInsufficientBalanceError(err):
		return fmt.Errorf("%s: %w (%w)", op, exchange.ErrInsufficientFunds, err)
	case bybit.IsOrderNotFoundError(err):
		return fmt.Errorf("%s: %w (%w)", op, exchange.ErrOrderNotFound, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// GetCandles returns ascending candles. A bar whose period has not ended is marked open.
func (b *BybitAdapter) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]types.OHLCV, error) {
	interval, err := bybit.IntervalFor(timeframe)
	if err != nil {
		return nil, err
	}
	period, err := config.TimeframeDuration(timeframe)
	if err != nil {
		return nil, err
	}

	var klines []bybit.Kline
	err = b.read(ctx, "get candles", func(ctx context.Context) error {
		var err error
		klines, err = b.api.GetKlines(ctx, bybit.KlineParams{Symbol: symbol, Interval: interval, Limit: limit})
		return err
	})
	if err != nil {
		return nil, err
	}

	now := b.now()
	candles := make([]types.OHLCV, len(klines))
	for i, k := range klines {
		candles[i] = types.OHLCV{
			Timestamp: k.StartTime,
			Open:      k.OpenPrice,
			High:      k.HighPrice,
			Low:       k.LowPrice,
			Close:     k.ClosePrice,
			Volume:    k.Volume,
			Closed:    !k.StartTime.Add(period).After(now),
		}
	}
	return candles, nil
}

// GetCurrentPrice returns the last traded price
func (b *BybitAdapter) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := b.read(ctx, "get price", func(ctx context.Context) error {
		var err error
		price, err = b.api.GetLatestPrice(ctx, symbol)
		return err
	})
	return price, err
}

func (b *BybitAdapter) instrument(ctx context.Context, symbol string) (*bybit.Instrument, error) {
	var inst *bybit.Instrument
	err := b.read(ctx, "get instrument", func(ctx context.Context) error {
		var err error
		inst, err = b.instruments.Get(ctx, symbol)
		return err
	})
	return inst, err
}

// GetBaseBalance returns the free balance of the symbol's base coin
func (b *BybitAdapter) GetBaseBalance(ctx context.Context, symbol string) (float64, error) {
	inst, err := b.instrument(ctx, symbol)
	if err != nil {
		return 0, err
	}

	var balance bybit.CoinBalance
	err = b.read(ctx, "get base balance", func(ctx context.Context) error {
		var err error
		balance, err = b.api.GetCoinBalance(ctx, inst.BaseCoin)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance.Free(), nil
}

// GetEquityAndCash values the whole account in currency. Equity is converted from
// the USD account total through the currency's own USD value; when the account
// holds none of it the USD total is used as is.
func (b *BybitAdapter) GetEquityAndCash(ctx context.Context, currency string) (exchange.Funds, error) {
	var wallet *bybit.Wallet
	err := b.read(ctx, "get wallet", func(ctx context.Context) error {
		var err error
		wallet, err = b.api.GetWallet(ctx)
		return err
	})
	if err != nil {
		return exchange.Funds{}, err
	}

	funds := exchange.Funds{Currency: currency, Equity: wallet.TotalEquity}
	quote, ok := wallet.Coins[currency]
	if !ok {
		b.logger.WithField("currency", currency).Warn("Account holds no quote currency, equity left in USD")
		return funds, nil
	}
	funds.Cash = quote.Free()
	if quote.WalletBalance > 0 && quote.UsdValue > 0 {
		usdPerUnit := quote.UsdValue / quote.WalletBalance
		funds.Equity = wallet.TotalEquity / usdPerUnit
	}
	return funds, nil
}

// PlaceMarketBuy spends notional units of the quote currency
func (b *BybitAdapter) PlaceMarketBuy(ctx context.Context, symbol string, notional float64) (string, error) {
	if notional <= 0 {
		return "", fmt.Errorf("notional must be positive, got %f", notional)
	}
	inst, err := b.instrument(ctx, symbol)
	if err != nil {
		return "", err
	}
	if minAmt := inst.MinOrderAmt.InexactFloat64(); notional < minAmt {
		return "", fmt.Errorf("notional %.8f below exchange minimum %.8f for %s", notional, minAmt, symbol)
	}

	params := bybit.PlaceOrderParams{
		Symbol:      symbol,
		Side:        bybit.OrderSideBuy,
		OrderType:   bybit.OrderTypeMarket,
		Qty:         inst.FormatQuote(notional),
		MarketUnit:  "quoteCoin",
		OrderFilter: bybit.FilterOrder,
		OrderLinkID: b.newLinkID(),
	}

	var orderID string
	err = b.call(ctx, "place market buy", func(ctx context.Context) error {
		var err error
		orderID, err = b.api.PlaceOrder(ctx, params)
		return err
	})
	if err != nil {
		return "", err
	}

	b.logger.WithFields(logrus.Fields{
		"symbol":   symbol,
		"order_id": orderID,
		"notional": params.Qty,
	}).Info("Market buy placed")
	return orderID, nil
}

// GetOrderStatus classifies an entry order
func (b *BybitAdapter) GetOrderStatus(ctx context.Context, orderID, symbol string) (*exchange.OrderState, error) {
	var order *bybit.Order
	err := b.read(ctx, "get order", func(ctx context.Context) error {
		var err error
		order, err = b.api.GetOrder(ctx, symbol, orderID, bybit.FilterOrder)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &exchange.OrderState{
		OrderID:      order.OrderID,
		Symbol:       order.Symbol,
		Class:        classifyOrder(order),
		RawStatus:    string(order.OrderStatus),
		FillPrice:    fillPrice(order),
		FillQuantity: order.CumExecQty,
		UpdatedAt:    order.UpdatedTime,
	}, nil
}

// classifyOrder maps an entry order to filled, canceled, open or other.
// Quote-sized market buys often end PartiallyFilledCanceled once the
// notional is spent, so any fill there counts as filled.
func classifyOrder(order *bybit.Order) exchange.OrderClass {
	switch order.OrderStatus {
	case bybit.OrderStatusFilled:
		return exchange.OrderFilled
	case bybit.OrderStatusPartiallyFilledCanceled:
		if order.CumExecQty > 0 {
			return exchange.OrderFilled
		}
		return exchange.OrderCanceled
	case bybit.OrderStatusCancelled, bybit.OrderStatusRejected, bybit.OrderStatusDeactivated:
		return exchange.OrderCanceled
	case bybit.OrderStatusNew, bybit.OrderStatusPartiallyFilled, bybit.OrderStatusUntriggered,
		bybit.OrderStatusTriggered, bybit.OrderStatusActive:
		return exchange.OrderOpen
	}
	return exchange.OrderOther
}

func fillPrice(order *bybit.Order) float64 {
	if order.AvgPrice > 0 {
		return order.AvgPrice
	}
	if order.CumExecQty > 0 {
		return order.CumExecValue / order.CumExecQty
	}
	return 0
}

// PlaceConditionalStop places a market stop. Each insufficient-funds rejection
// shrinks the size by the backoff factor until it falls under the minimum.
func (b *BybitAdapter) PlaceConditionalStop(ctx context.Context, symbol string, size, trigger float64, side exchange.Side) (string, error) {
	if size <= 0 || trigger <= 0 {
		return "", fmt.Errorf("invalid stop size %f or trigger %f", size, trigger)
	}
	inst, err := b.instrument(ctx, symbol)
	if err != nil {
		return "", err
	}

	orderSide := bybit.OrderSideSell
	if side == exchange.SideBuy {
		orderSide = bybit.OrderSideBuy
	}
	minQty := inst.MinQty()
	log := b.logger.WithFields(logrus.Fields{"symbol": symbol, "trigger": trigger})

	for size >= minQty {
		qty := inst.FormatQty(size)
		if q, _ := strconv.ParseFloat(qty, 64); q < minQty || q <= 0 {
			break
		}
		params := bybit.PlaceOrderParams{
			Symbol:       symbol,
			Side:         orderSide,
			OrderType:    bybit.OrderTypeMarket,
			Qty:          qty,
			OrderFilter:  bybit.FilterStopOrder,
			TriggerPrice: inst.FormatPrice(trigger),
			OrderLinkID:  b.newLinkID(),
		}

		var algoID string
		err := b.call(ctx, "place stop", func(ctx context.Context) error {
			var err error
			algoID, err = b.api.PlaceOrder(ctx, params)
			return err
		})
		if err == nil {
			log.WithFields(logrus.Fields{"algo_id": algoID, "size": qty}).Info("Stop order placed")
			return algoID, nil
		}
		if !errors.Is(err, exchange.ErrInsufficientFunds) {
			return "", err
		}

		log.WithField("size", qty).Warn("Not enough funds for stop, reducing size")
		size *= b.backoff
	}

	return "", fmt.Errorf("place stop %s: size fell below minimum %.8f: %w", symbol, minQty, exchange.ErrInsufficientFunds)
}

// AmendConditionalStop moves the trigger of a live stop
func (b *BybitAdapter) AmendConditionalStop(ctx context.Context, symbol, algoID string, trigger float64) error {
	inst, err := b.instrument(ctx, symbol)
	if err != nil {
		return err
	}
	price := inst.FormatPrice(trigger)
	return b.call(ctx, "amend stop", func(ctx context.Context) error {
		return b.api.AmendTriggerPrice(ctx, symbol, algoID, price)
	})
}

// stopOrder finds a stop among stop orders, then among plain orders since a
// triggered stop may be reported there
func (b *BybitAdapter) stopOrder(ctx context.Context, algoID, symbol string) (*bybit.Order, error) {
	var order *bybit.Order
	err := b.read(ctx, "get stop", func(ctx context.Context) error {
		var err error
		order, err = b.api.GetOrder(ctx, symbol, algoID, bybit.FilterStopOrder)
		if bybit.IsOrderNotFoundError(err) {
			order, err = b.api.GetOrder(ctx, symbol, algoID, bybit.FilterOrder)
		}
		return err
	})
	return order, err
}

// GetAlgoStatus classifies a stop
func (b *BybitAdapter) GetAlgoStatus(ctx context.Context, algoID, symbol string) (*exchange.AlgoState, error) {
	order, err := b.stopOrder(ctx, algoID, symbol)
	if err != nil {
		return nil, err
	}
	return &exchange.AlgoState{
		AlgoID:       algoID,
		Symbol:       order.Symbol,
		Class:        classifyStop(order.OrderStatus),
		RawStatus:    string(order.OrderStatus),
		FailCode:     order.RejectReason,
		TriggerPrice: order.TriggerPrice,
		Size:         order.Qty,
	}, nil
}

func classifyStop(status bybit.OrderStatus) exchange.AlgoClass {
	switch status {
	case bybit.OrderStatusUntriggered, bybit.OrderStatusNew, bybit.OrderStatusActive:
		return exchange.AlgoLive
	case bybit.OrderStatusTriggered, bybit.OrderStatusPartiallyFilled:
		return exchange.AlgoPending
	case bybit.OrderStatusFilled:
		return exchange.AlgoEffective
	}
	return exchange.AlgoOther
}

// GetAlgoExecution returns the fill of an executed stop
func (b *BybitAdapter) GetAlgoExecution(ctx context.Context, algoID, symbol string) (*exchange.Execution, error) {
	order, err := b.stopOrder(ctx, algoID, symbol)
	if err != nil {
		return nil, err
	}
	if order.CumExecQty <= 0 {
		return nil, fmt.Errorf("stop %s has no executed quantity (status %s)", algoID, order.OrderStatus)
	}
	return &exchange.Execution{
		OrderID:    order.OrderID,
		Price:      fillPrice(order),
		Quantity:   order.CumExecQty,
		ExecutedAt: order.UpdatedTime,
	}, nil
}

// CancelAlgo cancels a live stop
func (b *BybitAdapter) CancelAlgo(ctx context.Context, algoID, symbol string) error {
	return b.call(ctx, "cancel stop", func(ctx context.Context) error {
		return b.api.CancelOrder(ctx, symbol, algoID, bybit.FilterStopOrder)
	})
}

// GetMinOrderSize is the smallest base quantity accepted for symbol
func (b *BybitAdapter) GetMinOrderSize(ctx context.Context, symbol string) (float64, error) {
	inst, err := b.instrument(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return inst.MinQty(), nil
}
