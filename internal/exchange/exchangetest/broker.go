// Package exchangetest provides an in-memory exchange.Broker for tests.
package exchangetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ducminhle1904/ema-crossover-bot/internal/exchange"
	"github.com/ducminhle1904/ema-crossover-bot/pkg/types"
)

// StopPlacement records one PlaceConditionalStop call
type StopPlacement struct {
	Symbol  string
	Size    float64
	Trigger float64
	Side    exchange.Side
}

// Amend records one AmendConditionalStop call
type Amend struct {
	AlgoID  string
	Trigger float64
}

// Broker is a scriptable exchange. Zero values mean empty results.
type Broker struct {
	mu sync.Mutex

	Candles     map[string][]types.OHLCV // keyed by symbol + "/" + timeframe
	Prices      map[string]float64
	BaseBalance map[string]float64
	Funds       exchange.Funds
	MinSize     float64

	Orders     map[string]*exchange.OrderState
	Algos      map[string]*exchange.AlgoState
	Executions map[string]*exchange.Execution

	// Err* make the matching call fail
	ErrCandles  error
	ErrBalance  error
	ErrFunds    error
	ErrBuy      error
	ErrStop     error
	ErrAmend    error
	ErrOrder    error
	ErrAlgo     error
	ErrPrice    error
	ErrMinSize  error
	ErrExecuted error
	ErrCancel   error

	Buys      []float64 // notionals
	Stops     []StopPlacement
	Amends    []Amend
	Cancels   []string
	nextOrder int
}

var _ exchange.Broker = (*Broker)(nil)

// New returns an empty broker
func New() *Broker {
	return &Broker{
		Candles:     make(map[string][]types.OHLCV),
		Prices:      make(map[string]float64),
		BaseBalance: make(map[string]float64),
		Orders:      make(map[string]*exchange.OrderState),
		Algos:       make(map[string]*exchange.AlgoState),
		Executions:  make(map[string]*exchange.Execution),
	}
}

// CandleKey builds the Candles map key
func CandleKey(symbol, timeframe string) string {
	return symbol + "/" + timeframe
}

func (b *Broker) GetName() string { return "fake" }

func (b *Broker) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]types.OHLCV, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ErrCandles != nil {
		return nil, b.ErrCandles
	}
	candles := b.Candles[CandleKey(symbol, timeframe)]
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]types.OHLCV, len(candles))
	copy(out, candles)
	return out, nil
}

func (b *Broker) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ErrPrice != nil {
		return 0, b.ErrPrice
	}
	price, ok := b.Prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

func (b *Broker) GetBaseBalance(ctx context.Context, symbol string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ErrBalance != nil {
		return 0, b.ErrBalance
	}
	return b.BaseBalance[symbol], nil
}

func (b *Broker) GetEquityAndCash(ctx context.Context, currency string) (exchange.Funds, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ErrFunds != nil {
		return exchange.Funds{}, b.ErrFunds
	}
	funds := b.Funds
	funds.Currency = currency
	return funds, nil
}

func (b *Broker) PlaceMarketBuy(ctx context.Context, symbol string, notional float64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ErrBuy != nil {
		return "", b.ErrBuy
	}
	b.Buys = append(b.Buys, notional)
	b.nextOrder++
	return fmt.Sprintf("E%d", b.nextOrder), nil
}

func (b *Broker) GetOrderStatus(ctx context.Context, orderID, symbol string) (*exchange.OrderState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ErrOrder != nil {
		return nil, b.ErrOrder
	}
	state, ok := b.Orders[orderID]
	if !ok {
		return nil, exchange.ErrOrderNotFound
	}
	cp := *state
	return &cp, nil
}

func (b *Broker) PlaceConditionalStop(ctx context.Context, symbol string, size, trigger float64, side exchange.Side) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Stops = append(b.Stops, StopPlacement{Symbol: symbol, Size: size, Trigger: trigger, Side: side})
	if b.ErrStop != nil {
		return "", b.ErrStop
	}
	b.nextOrder++
	algoID := fmt.Sprintf("A%d", b.nextOrder)
	b.Algos[algoID] = &exchange.AlgoState{
		AlgoID:       algoID,
		Symbol:       symbol,
		Class:        exchange.AlgoLive,
		RawStatus:    "Untriggered",
		TriggerPrice: trigger,
		Size:         size,
	}
	return algoID, nil
}

func (b *Broker) AmendConditionalStop(ctx context.Context, symbol, algoID string, trigger float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ErrAmend != nil {
		return b.ErrAmend
	}
	b.Amends = append(b.Amends, Amend{AlgoID: algoID, Trigger: trigger})
	if algo, ok := b.Algos[algoID]; ok {
		algo.TriggerPrice = trigger
	}
	return nil
}

func (b *Broker) GetAlgoStatus(ctx context.Context, algoID, symbol string) (*exchange.AlgoState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ErrAlgo != nil {
		return nil, b.ErrAlgo
	}
	algo, ok := b.Algos[algoID]
	if !ok {
		return nil, exchange.ErrOrderNotFound
	}
	cp := *algo
	return &cp, nil
}

func (b *Broker) GetAlgoExecution(ctx context.Context, algoID, symbol string) (*exchange.Execution, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ErrExecuted != nil {
		return nil, b.ErrExecuted
	}
	exec, ok := b.Executions[algoID]
	if !ok {
		return nil, exchange.ErrOrderNotFound
	}
	cp := *exec
	return &cp, nil
}

func (b *Broker) CancelAlgo(ctx context.Context, algoID, symbol string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Cancels = append(b.Cancels, algoID)
	if b.ErrCancel != nil {
		return b.ErrCancel
	}
	if algo, ok := b.Algos[algoID]; ok {
		algo.Class = exchange.AlgoOther
		algo.RawStatus = "Cancelled"
	}
	return nil
}

func (b *Broker) GetMinOrderSize(ctx context.Context, symbol string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ErrMinSize != nil {
		return 0, b.ErrMinSize
	}
	return b.MinSize, nil
}

// SetAlgo replaces the state reported for an algo id
func (b *Broker) SetAlgo(state exchange.AlgoState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Algos[state.AlgoID] = &state
}

// SetOrder replaces the state reported for an entry order id
func (b *Broker) SetOrder(state exchange.OrderState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Orders[state.OrderID] = &state
}
