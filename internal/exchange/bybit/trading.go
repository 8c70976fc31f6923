package bybit

import (
	"context"
	"fmt"
)

// PlaceOrderParams holds parameters for placing a spot order
type PlaceOrderParams struct {
	Symbol       string
	Side         OrderSide
	OrderType    OrderType
	Qty          string // base units, or quote units when MarketUnit is quoteCoin
	Price        string // limit orders only
	MarketUnit   string // baseCoin or quoteCoin, market orders only
	OrderLinkID  string
	OrderFilter  string // Order or StopOrder
	TriggerPrice string // StopOrder only
}

// PlaceOrder places a new spot order and returns the exchange order id
func (c *Client) PlaceOrder(ctx context.Context, params PlaceOrderParams) (string, error) {
	if params.Symbol == "" {
		return "", fmt.Errorf("symbol is required")
	}
	if params.Side == "" {
		return "", fmt.Errorf("side is required")
	}
	if params.OrderType == "" {
		return "", fmt.Errorf("orderType is required")
	}
	if params.Qty == "" {
		return "", fmt.Errorf("qty is required")
	}
	if params.OrderType == OrderTypeLimit && params.Price == "" {
		return "", fmt.Errorf("price is required for limit orders")
	}
	if params.OrderFilter == FilterStopOrder && params.TriggerPrice == "" {
		return "", fmt.Errorf("triggerPrice is required for stop orders")
	}

	apiParams := map[string]interface{}{
		"category":  Category,
		"symbol":    params.Symbol,
		"side":      string(params.Side),
		"orderType": string(params.OrderType),
		"qty":       params.Qty,
	}
	if params.Price != "" {
		apiParams["price"] = params.Price
	}
	if params.MarketUnit != "" {
		apiParams["marketUnit"] = params.MarketUnit
	}
	if params.OrderLinkID != "" {
		apiParams["orderLinkId"] = params.OrderLinkID
	}
	if params.OrderFilter != "" {
		apiParams["orderFilter"] = params.OrderFilter
	}
	if params.TriggerPrice != "" {
		apiParams["triggerPrice"] = params.TriggerPrice
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to place order: %w", err)
	}

	var created struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := decodeResult(result, &created); err != nil {
		return "", fmt.Errorf("place order %s: %w", params.Symbol, err)
	}
	if created.OrderID == "" {
		return "", fmt.Errorf("place order %s: empty order id", params.Symbol)
	}
	return created.OrderID, nil
}

// AmendTriggerPrice moves the trigger of an untriggered stop order
func (c *Client) AmendTriggerPrice(ctx context.Context, symbol, orderID, triggerPrice string) error {
	params := map[string]interface{}{
		"category":     Category,
		"symbol":       symbol,
		"orderId":      orderID,
		"triggerPrice": triggerPrice,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).AmendOrder(ctx)
	if err != nil {
		return fmt.Errorf("failed to amend order: %w", err)
	}
	var amended struct {
		OrderID string `json:"orderId"`
	}
	if err := decodeResult(result, &amended); err != nil {
		return fmt.Errorf("amend order %s: %w", orderID, err)
	}
	return nil
}

// CancelOrder cancels an open order. filter selects plain or stop orders.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID, filter string) error {
	params := map[string]interface{}{
		"category": Category,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	if filter != "" {
		params["orderFilter"] = filter
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	var canceled struct {
		OrderID string `json:"orderId"`
	}
	if err := decodeResult(result, &canceled); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

// GetOrder looks an order up among open orders first, then in the order history
func (c *Client) GetOrder(ctx context.Context, symbol, orderID, filter string) (*Order, error) {
	params := map[string]interface{}{
		"category": Category,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	if filter != "" {
		params["orderFilter"] = filter
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}
	orders, err := parseOrdersResponse(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse open orders response: %w", err)
	}
	if order := findOrder(orders, orderID); order != nil {
		return order, nil
	}

	result, err = c.httpClient.NewUtaBybitServiceWithParams(params).GetOrderHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}
	orders, err = parseOrdersResponse(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse order history response: %w", err)
	}
	if order := findOrder(orders, orderID); order != nil {
		return order, nil
	}

	return nil, NewBybitError(ErrCodeOrderNotFound, "order not found", orderID)
}

func findOrder(orders []Order, orderID string) *Order {
	for i := range orders {
		if orders[i].OrderID == orderID {
			return &orders[i]
		}
	}
	return nil
}

func parseOrdersResponse(response interface{}) ([]Order, error) {
	var orderListResult struct {
		List           []orderRow `json:"list"`
		NextPageCursor string     `json:"nextPageCursor"`
		Category       string     `json:"category"`
	}
	if err := decodeResult(response, &orderListResult); err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(orderListResult.List))
	for _, row := range orderListResult.List {
		orders = append(orders, row.toOrder())
	}
	return orders, nil
}
