package bybit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument holds the spot trading filters of one symbol
type Instrument struct {
	Symbol         string
	Status         string
	BaseCoin       string
	QuoteCoin      string
	MinOrderQty    decimal.Decimal
	MaxOrderQty    decimal.Decimal
	QtyStep        decimal.Decimal // basePrecision on spot
	QuotePrecision decimal.Decimal
	MinOrderAmt    decimal.Decimal
	TickSize       decimal.Decimal
}

// FormatQty rounds a base quantity down to the lot step
func (i *Instrument) FormatQty(qty float64) string {
	return floorToStep(decimal.NewFromFloat(qty), i.QtyStep).String()
}

// FormatQuote rounds a quote amount down to the quote precision
func (i *Instrument) FormatQuote(amount float64) string {
	return floorToStep(decimal.NewFromFloat(amount), i.QuotePrecision).String()
}

// FormatPrice rounds a price to the nearest tick
func (i *Instrument) FormatPrice(price float64) string {
	d := decimal.NewFromFloat(price)
	if !i.TickSize.IsPositive() {
		return d.String()
	}
	return d.Div(i.TickSize).Round(0).Mul(i.TickSize).String()
}

// MinQty is the smallest base quantity the exchange accepts
func (i *Instrument) MinQty() float64 {
	return i.MinOrderQty.InexactFloat64()
}

func floorToStep(d, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return d
	}
	return d.Div(step).Floor().Mul(step)
}

type cachedInstrument struct {
	instrument *Instrument
	fetchedAt  time.Time
}

// InstrumentManager caches instrument filters and refreshes them hourly
type InstrumentManager struct {
	client         *Client
	instruments    map[string]cachedInstrument
	mutex          sync.RWMutex
	updateInterval time.Duration
	now            func() time.Time
	fetch          func(ctx context.Context, symbol string) (*Instrument, error)
}

// NewInstrumentManager creates a new instrument manager
func NewInstrumentManager(client *Client) *InstrumentManager {
	im := &InstrumentManager{
		client:         client,
		instruments:    make(map[string]cachedInstrument),
		updateInterval: time.Hour,
		now:            time.Now,
	}
	im.fetch = im.fetchInstrument
	return im
}

// Get returns the instrument for symbol, from cache when fresh
func (im *InstrumentManager) Get(ctx context.Context, symbol string) (*Instrument, error) {
	im.mutex.RLock()
	cached, ok := im.instruments[symbol]
	im.mutex.RUnlock()
	if ok && im.now().Sub(cached.fetchedAt) < im.updateInterval {
		return cached.instrument, nil
	}

	instrument, err := im.fetch(ctx, symbol)
	if err != nil {
		if ok {
			// keep serving the last known filter
			return cached.instrument, nil
		}
		return nil, err
	}

	im.mutex.Lock()
	im.instruments[symbol] = cachedInstrument{instrument: instrument, fetchedAt: im.now()}
	im.mutex.Unlock()
	return instrument, nil
}

// Invalidate drops the cached filters
func (im *InstrumentManager) Invalidate() {
	im.mutex.Lock()
	defer im.mutex.Unlock()
	im.instruments = make(map[string]cachedInstrument)
}

func (im *InstrumentManager) fetchInstrument(ctx context.Context, symbol string) (*Instrument, error) {
	params := map[string]interface{}{
		"category": Category,
		"symbol":   symbol,
	}

	result, err := im.client.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch instrument info: %w", err)
	}

	instrument, err := parseInstrumentResponse(result, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to parse instrument info: %w", err)
	}
	return instrument, nil
}

func parseInstrumentResponse(response interface{}, targetSymbol string) (*Instrument, error) {
	var instrumentResult struct {
		Category string `json:"category"`
		List     []struct {
			Symbol        string `json:"symbol"`
			Status        string `json:"status"`
			BaseCoin      string `json:"baseCoin"`
			QuoteCoin     string `json:"quoteCoin"`
			LotSizeFilter struct {
				BasePrecision  string `json:"basePrecision"`
				QuotePrecision string `json:"quotePrecision"`
				QtyStep        string `json:"qtyStep"`
				MinOrderQty    string `json:"minOrderQty"`
				MaxOrderQty    string `json:"maxOrderQty"`
				MinOrderAmt    string `json:"minOrderAmt"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	if err := decodeResult(response, &instrumentResult); err != nil {
		return nil, err
	}

	for _, item := range instrumentResult.List {
		if item.Symbol != targetSymbol {
			continue
		}
		step := item.LotSizeFilter.BasePrecision
		if step == "" {
			step = item.LotSizeFilter.QtyStep
		}
		return &Instrument{
			Symbol:         item.Symbol,
			Status:         item.Status,
			BaseCoin:       item.BaseCoin,
			QuoteCoin:      item.QuoteCoin,
			MinOrderQty:    parseDecimal(item.LotSizeFilter.MinOrderQty),
			MaxOrderQty:    parseDecimal(item.LotSizeFilter.MaxOrderQty),
			QtyStep:        parseDecimal(step),
			QuotePrecision: parseDecimal(item.LotSizeFilter.QuotePrecision),
			MinOrderAmt:    parseDecimal(item.LotSizeFilter.MinOrderAmt),
			TickSize:       parseDecimal(item.PriceFilter.TickSize),
		}, nil
	}

	return nil, fmt.Errorf("instrument %s not found", targetSymbol)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
