package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/ducminhle1904/ema-crossover-bot/pkg/types"
)

// Broker is everything the bot needs from a spot exchange.
// Implementations must be safe to call from a single goroutine per cycle.
type Broker interface {
	GetName() string

	// Market data
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]types.OHLCV, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)

	// Account
	GetBaseBalance(ctx context.Context, symbol string) (float64, error)
	GetEquityAndCash(ctx context.Context, currency string) (Funds, error)

	// Entry orders
	PlaceMarketBuy(ctx context.Context, symbol string, notional float64) (string, error)
	GetOrderStatus(ctx context.Context, orderID, symbol string) (*OrderState, error)

	// Conditional exit orders
	PlaceConditionalStop(ctx context.Context, symbol string, size, trigger float64, side Side) (string, error)
	AmendConditionalStop(ctx context.Context, symbol, algoID string, trigger float64) error
	GetAlgoStatus(ctx context.Context, algoID, symbol string) (*AlgoState, error)
	GetAlgoExecution(ctx context.Context, algoID, symbol string) (*Execution, error)
	CancelAlgo(ctx context.Context, algoID, symbol string) error

	// Exchange constraints
	GetMinOrderSize(ctx context.Context, symbol string) (float64, error)
}

var (
	// ErrInsufficientFunds is returned when the account cannot cover an order
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrOrderNotFound is returned when the exchange has no record of an order id
	ErrOrderNotFound = errors.New("order not found")
)

// Side of an order
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Funds is the account equity and free cash, both in one currency
type Funds struct {
	Currency string
	Equity   float64
	Cash     float64
}

// OrderClass is the coarse state of an entry order
type OrderClass string

const (
	OrderFilled   OrderClass = "filled"
	OrderCanceled OrderClass = "canceled"
	// OrderOpen is still working on the book and is checked again next pass
	OrderOpen  OrderClass = "open"
	OrderOther OrderClass = "other"
)

// OrderState is an entry order as reported by the exchange
type OrderState struct {
	OrderID      string
	Symbol       string
	Class        OrderClass
	RawStatus    string
	FillPrice    float64
	FillQuantity float64
	UpdatedAt    time.Time
}

// AlgoClass is the coarse state of a conditional stop
type AlgoClass string

const (
	AlgoLive AlgoClass = "live"
	// AlgoPending has triggered but its execution has not settled yet
	AlgoPending   AlgoClass = "pending"
	AlgoEffective AlgoClass = "effective"
	AlgoOther     AlgoClass = "other"
)

// AlgoState is a conditional stop as reported by the exchange
type AlgoState struct {
	AlgoID       string
	Symbol       string
	Class        AlgoClass
	RawStatus    string
	FailCode     string
	TriggerPrice float64
	Size         float64
}

// benignFailCodes are fail codes that still mean a clean execution
var benignFailCodes = map[string]bool{
	"":           true,
	"0":          true,
	"EC_NoError": true,
}

// CleanlyExecuted reports an effective stop without a failure code
func (a *AlgoState) CleanlyExecuted() bool {
	return a.Class == AlgoEffective && benignFailCodes[a.FailCode]
}

// Execution is the fill behind an effective stop
type Execution struct {
	OrderID    string
	Price      float64
	Quantity   float64
	ExecutedAt time.Time
}
