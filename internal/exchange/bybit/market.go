package bybit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// KlineInterval represents the time interval for kline data
type KlineInterval string

const (
	Interval1m  KlineInterval = "1"
	Interval3m  KlineInterval = "3"
	Interval5m  KlineInterval = "5"
	Interval15m KlineInterval = "15"
	Interval30m KlineInterval = "30"
	Interval1h  KlineInterval = "60"
	Interval2h  KlineInterval = "120"
	Interval4h  KlineInterval = "240"
	Interval6h  KlineInterval = "360"
	Interval12h KlineInterval = "720"
	Interval1d  KlineInterval = "D"
	Interval1w  KlineInterval = "W"
)

var timeframeIntervals = map[string]KlineInterval{
	"1m":  Interval1m,
	"3m":  Interval3m,
	"5m":  Interval5m,
	"15m": Interval15m,
	"30m": Interval30m,
	"1h":  Interval1h,
	"2h":  Interval2h,
	"4h":  Interval4h,
	"6h":  Interval6h,
	"12h": Interval12h,
	"1d":  Interval1d,
	"1w":  Interval1w,
}

// IntervalFor converts a timeframe such as 1h or 4H to the Bybit interval code
func IntervalFor(timeframe string) (KlineInterval, error) {
	interval, ok := timeframeIntervals[strings.ToLower(strings.TrimSpace(timeframe))]
	if !ok {
		return "", fmt.Errorf("unsupported timeframe %q", timeframe)
	}
	return interval, nil
}

// KlineParams holds parameters for fetching kline data
type KlineParams struct {
	Symbol   string
	Interval KlineInterval
	End      *time.Time
	Limit    int // max 1000, default 200
}

// GetKlines fetches candles in ascending time order. Bybit returns them newest first.
func (c *Client) GetKlines(ctx context.Context, params KlineParams) ([]Kline, error) {
	if params.Limit == 0 {
		params.Limit = 200
	}
	if params.Limit > 1000 {
		params.Limit = 1000
	}

	reqParams := map[string]interface{}{
		"category": Category,
		"symbol":   params.Symbol,
		"interval": string(params.Interval),
		"limit":    params.Limit,
	}
	if params.End != nil {
		reqParams["end"] = params.End.UnixMilli()
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(reqParams).GetMarketKline(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines: %w", err)
	}

	klines, err := parseKlineResponse(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse kline response: %w", err)
	}
	return klines, nil
}

// GetLatestPrice gets the last traded price for a symbol
func (c *Client) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	params := map[string]interface{}{
		"category": Category,
		"symbol":   symbol,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest price: %w", err)
	}

	price, err := parseLatestPriceResponse(result)
	if err != nil {
		return 0, fmt.Errorf("failed to parse price response: %w", err)
	}
	return price, nil
}

func parseKlineResponse(response interface{}) ([]Kline, error) {
	var klineResult struct {
		Symbol   string     `json:"symbol"`
		Category string     `json:"category"`
		List     [][]string `json:"list"`
	}
	if err := decodeResult(response, &klineResult); err != nil {
		return nil, err
	}

	klines := make([]Kline, 0, len(klineResult.List))
	for _, item := range klineResult.List {
		if len(item) < 7 {
			continue
		}
		// [startTime, open, high, low, close, volume, turnover]
		klines = append(klines, Kline{
			StartTime:  time.UnixMilli(parseInt64(item[0])).UTC(),
			OpenPrice:  parseFloat64(item[1]),
			HighPrice:  parseFloat64(item[2]),
			LowPrice:   parseFloat64(item[3]),
			ClosePrice: parseFloat64(item[4]),
			Volume:     parseFloat64(item[5]),
			Turnover:   parseFloat64(item[6]),
		})
	}

	sort.Slice(klines, func(i, j int) bool {
		return klines[i].StartTime.Before(klines[j].StartTime)
	})
	return klines, nil
}

func parseLatestPriceResponse(response interface{}) (float64, error) {
	var tickerResult struct {
		Category string `json:"category"`
		List     []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := decodeResult(response, &tickerResult); err != nil {
		return 0, err
	}

	if len(tickerResult.List) == 0 {
		return 0, fmt.Errorf("no ticker data found")
	}
	price := parseFloat64(tickerResult.List[0].LastPrice)
	if price <= 0 {
		return 0, fmt.Errorf("invalid last price %q", tickerResult.List[0].LastPrice)
	}
	return price, nil
}
