package indicators

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/ema-crossover-bot/pkg/types"
)

// ATR represents the Average True Range technical indicator.
// The first value is the mean true range of the first period candles,
// later values use Wilder smoothing.
type ATR struct {
	period int
}

// NewATR creates a new ATR indicator
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

// Calculate returns the latest ATR value
func (a *ATR) Calculate(data []types.OHLCV) (float64, error) {
	if len(data) < a.period {
		return 0, fmt.Errorf("atr(%d): %w", a.period, ErrInsufficientData)
	}
	s := a.Series(data)
	return s[len(s)-1], nil
}

// Series computes ATR for every candle
func (a *ATR) Series(data []types.OHLCV) []float64 {
	out := make([]float64, len(data))
	tr := TrueRange(data)

	sum := 0.0
	for i := range data {
		switch {
		case i < a.period-1:
			sum += tr[i]
			out[i] = math.NaN()
		case i == a.period-1:
			sum += tr[i]
			out[i] = sum / float64(a.period)
		default:
			out[i] = (out[i-1]*float64(a.period-1) + tr[i]) / float64(a.period)
		}
	}
	return out
}

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|) per candle.
// The first candle has no previous close and uses high-low.
func TrueRange(data []types.OHLCV) []float64 {
	out := make([]float64, len(data))
	for i, c := range data {
		if i == 0 {
			out[i] = c.High - c.Low
			continue
		}
		prevClose := data[i-1].Close
		hl := c.High - c.Low
		hc := math.Abs(c.High - prevClose)
		lc := math.Abs(c.Low - prevClose)
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// GetName returns the indicator name
func (a *ATR) GetName() string {
	return "ATR"
}

// GetRequiredPeriods returns the minimum number of periods needed
func (a *ATR) GetRequiredPeriods() int {
	return a.period
}
