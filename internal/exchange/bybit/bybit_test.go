package bybit

import (
	"context"
	"errors"
	"testing"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(result interface{}) *bybit_api.ServerResponse {
	return &bybit_api.ServerResponse{RetCode: 0, RetMsg: "OK", Result: result}
}

func TestDecodeResultRetCode(t *testing.T) {
	var out struct{}
	err := decodeResult(&bybit_api.ServerResponse{RetCode: 170131, RetMsg: "Insufficient balance."}, &out)
	require.Error(t, err)
	assert.True(t, IsInsufficientBalanceError(err))
	assert.Contains(t, err.Error(), "retCode 170131")

	err = decodeResult("not a response", &out)
	assert.Error(t, err)
}

func TestParseKlinesAscending(t *testing.T) {
	resp := ok(map[string]interface{}{
		"symbol":   "BTCUSDT",
		"category": "spot",
		"list": [][]string{
			{"1700007200000", "102", "104", "101", "103", "12", "1230"},
			{"1700003600000", "100", "103", "99", "102", "10", "1010"},
			{"1700000000000", "99", "101", "98", "100", "8"},
		},
	})

	klines, err := parseKlineResponse(resp)
	require.NoError(t, err)
	require.Len(t, klines, 2, "short rows are skipped")
	assert.True(t, klines[0].StartTime.Before(klines[1].StartTime))
	assert.Equal(t, 102.0, klines[0].ClosePrice)
	assert.Equal(t, 104.0, klines[1].HighPrice)
}

func TestParseLatestPrice(t *testing.T) {
	price, err := parseLatestPriceResponse(ok(map[string]interface{}{
		"list": []map[string]string{{"symbol": "BTCUSDT", "lastPrice": "64123.5"}},
	}))
	require.NoError(t, err)
	assert.Equal(t, 64123.5, price)

	_, err = parseLatestPriceResponse(ok(map[string]interface{}{"list": []interface{}{}}))
	assert.Error(t, err)
}

func TestParseWallet(t *testing.T) {
	wallet, err := parseWalletResponse(ok(map[string]interface{}{
		"list": []map[string]interface{}{{
			"accountType": "UNIFIED",
			"totalEquity": "2000.5",
			"coin": []map[string]string{
				{"coin": "USDT", "equity": "1000", "usdValue": "1000.2", "walletBalance": "1000", "locked": "100"},
				{"coin": "BTC", "equity": "0.01", "usdValue": "1000.3", "walletBalance": "0.01", "locked": ""},
			},
		}},
	}))
	require.NoError(t, err)
	assert.Equal(t, 2000.5, wallet.TotalEquity)
	assert.Equal(t, 900.0, wallet.Coins["USDT"].Free())
	assert.Equal(t, 0.01, wallet.Coins["BTC"].Free())
}

func TestParseOrders(t *testing.T) {
	orders, err := parseOrdersResponse(ok(map[string]interface{}{
		"list": []map[string]string{{
			"orderId":      "1",
			"symbol":       "BTCUSDT",
			"side":         "Sell",
			"orderStatus":  "Untriggered",
			"orderFilter":  "StopOrder",
			"triggerPrice": "95.5",
			"qty":          "0.5",
			"rejectReason": "EC_NoError",
			"updatedTime":  "1700000000000",
		}},
	}))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, OrderStatusUntriggered, o.OrderStatus)
	assert.Equal(t, 95.5, o.TriggerPrice)
	assert.Equal(t, "EC_NoError", o.RejectReason)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), o.UpdatedTime)
}

func testInstrument(t *testing.T) *Instrument {
	t.Helper()
	inst, err := parseInstrumentResponse(ok(map[string]interface{}{
		"category": "spot",
		"list": []map[string]interface{}{{
			"symbol":    "BTCUSDT",
			"status":    "Trading",
			"baseCoin":  "BTC",
			"quoteCoin": "USDT",
			"lotSizeFilter": map[string]string{
				"basePrecision":  "0.000001",
				"quotePrecision": "0.00000001",
				"minOrderQty":    "0.000048",
				"maxOrderQty":    "71.73956243",
				"minOrderAmt":    "1",
			},
			"priceFilter": map[string]string{"tickSize": "0.01"},
		}},
	}), "BTCUSDT")
	require.NoError(t, err)
	return inst
}

func TestInstrumentFormatting(t *testing.T) {
	inst := testInstrument(t)

	assert.Equal(t, "BTC", inst.BaseCoin)
	assert.Equal(t, 0.000048, inst.MinQty())
	assert.Equal(t, "0.123456", inst.FormatQty(0.1234569), "qty rounds down")
	assert.Equal(t, "102.18", inst.FormatPrice(102.176))
	assert.Equal(t, "500.12345678", inst.FormatQuote(500.123456789))

	_, err := parseInstrumentResponse(ok(map[string]interface{}{"list": []interface{}{}}), "ETHUSDT")
	assert.Error(t, err)
}

func TestInstrumentManagerCachesForAnHour(t *testing.T) {
	inst := testInstrument(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0

	im := NewInstrumentManager(nil)
	im.now = func() time.Time { return now }
	im.fetch = func(ctx context.Context, symbol string) (*Instrument, error) {
		calls++
		if calls > 2 {
			return nil, errors.New("down")
		}
		return inst, nil
	}

	ctx := context.Background()
	_, err := im.Get(ctx, "BTCUSDT")
	require.NoError(t, err)
	_, err = im.Get(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	now = now.Add(61 * time.Minute)
	_, err = im.Get(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	now = now.Add(61 * time.Minute)
	got, err := im.Get(ctx, "BTCUSDT")
	require.NoError(t, err, "stale entry is served when refresh fails")
	assert.Same(t, inst, got)

	_, err = im.Get(ctx, "ETHUSDT")
	assert.Error(t, err)
}

func TestIntervalFor(t *testing.T) {
	iv, err := IntervalFor("4H")
	require.NoError(t, err)
	assert.Equal(t, Interval4h, iv)

	_, err = IntervalFor("7m")
	assert.Error(t, err)
}

func TestRetryStopsOnPermanentErrors(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return NewBybitError(ErrCodeSpotInsufficient, "insufficient")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)

	calls = 0
	err = Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return NewBybitError(ErrCodeRateLimitExceeded, "slow down")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}
