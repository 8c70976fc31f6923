package bybit

import (
	"strconv"
	"time"
)

// Kline is a single candle. Bybit reports the start time of the bar.
type Kline struct {
	StartTime  time.Time
	OpenPrice  float64
	HighPrice  float64
	LowPrice   float64
	ClosePrice float64
	Volume     float64
	Turnover   float64
}

// OrderSide represents the side of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// OrderType represents the type of an order
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// Order filters on spot
const (
	FilterOrder     = "Order"
	FilterStopOrder = "StopOrder"
)

// OrderStatus as reported by the v5 order endpoints
type OrderStatus string

const (
	OrderStatusNew                     OrderStatus = "New"
	OrderStatusPartiallyFilled         OrderStatus = "PartiallyFilled"
	OrderStatusUntriggered             OrderStatus = "Untriggered"
	OrderStatusTriggered               OrderStatus = "Triggered"
	OrderStatusActive                  OrderStatus = "Active"
	OrderStatusFilled                  OrderStatus = "Filled"
	OrderStatusCancelled               OrderStatus = "Cancelled"
	OrderStatusRejected                OrderStatus = "Rejected"
	OrderStatusDeactivated             OrderStatus = "Deactivated"
	OrderStatusPartiallyFilledCanceled OrderStatus = "PartiallyFilledCanceled"
)

// Order is one row of the realtime or history order lists
type Order struct {
	OrderID      string
	OrderLinkID  string
	Symbol       string
	Side         OrderSide
	OrderType    OrderType
	OrderFilter  string
	OrderStatus  OrderStatus
	RejectReason string
	Qty          float64
	Price        float64
	TriggerPrice float64
	AvgPrice     float64
	CumExecQty   float64
	CumExecValue float64
	CreatedTime  time.Time
	UpdatedTime  time.Time
}

// orderRow is the wire shape of an order list entry
type orderRow struct {
	OrderID      string `json:"orderId"`
	OrderLinkID  string `json:"orderLinkId"`
	Symbol       string `json:"symbol"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	Side         string `json:"side"`
	OrderStatus  string `json:"orderStatus"`
	RejectReason string `json:"rejectReason"`
	AvgPrice     string `json:"avgPrice"`
	CumExecQty   string `json:"cumExecQty"`
	CumExecValue string `json:"cumExecValue"`
	OrderType    string `json:"orderType"`
	OrderFilter  string `json:"orderFilter"`
	TriggerPrice string `json:"triggerPrice"`
	CreatedTime  string `json:"createdTime"`
	UpdatedTime  string `json:"updatedTime"`
}

func (r orderRow) toOrder() Order {
	return Order{
		OrderID:      r.OrderID,
		OrderLinkID:  r.OrderLinkID,
		Symbol:       r.Symbol,
		Side:         OrderSide(r.Side),
		OrderType:    OrderType(r.OrderType),
		OrderFilter:  r.OrderFilter,
		OrderStatus:  OrderStatus(r.OrderStatus),
		RejectReason: r.RejectReason,
		Qty:          parseFloat64(r.Qty),
		Price:        parseFloat64(r.Price),
		TriggerPrice: parseFloat64(r.TriggerPrice),
		AvgPrice:     parseFloat64(r.AvgPrice),
		CumExecQty:   parseFloat64(r.CumExecQty),
		CumExecValue: parseFloat64(r.CumExecValue),
		CreatedTime:  parseTimestamp(r.CreatedTime),
		UpdatedTime:  parseTimestamp(r.UpdatedTime),
	}
}

// CoinBalance is one coin of the unified wallet
type CoinBalance struct {
	Coin          string
	Equity        float64
	UsdValue      float64
	WalletBalance float64
	Locked        float64
}

// Free is the part of the balance not reserved by open orders
func (b CoinBalance) Free() float64 {
	free := b.WalletBalance - b.Locked
	if free < 0 {
		return 0
	}
	return free
}

// Wallet is the unified account snapshot
type Wallet struct {
	AccountType string
	TotalEquity float64 // USD
	Coins       map[string]CoinBalance
}

// Helper functions for parsing string numbers
func parseFloat64(s string) float64 {
	if s == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	i, _ := strconv.ParseInt(s, 10, 64)
	return i
}

// parseTimestamp converts milliseconds timestamp to time.Time
func parseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	return time.UnixMilli(parseInt64(ts)).UTC()
}
