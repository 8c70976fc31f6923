package indicators

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/ema-crossover-bot/pkg/types"
)

// EMA represents the Exponential Moving Average technical indicator.
// The recursion is seeded with the first close, values before index period-1 are NaN.
type EMA struct {
	period int
	alpha  float64
}

// NewEMA creates a new EMA indicator
func NewEMA(period int) *EMA {
	return &EMA{
		period: period,
		alpha:  2.0 / float64(period+1),
	}
}

// Calculate returns the latest EMA value
func (e *EMA) Calculate(data []types.OHLCV) (float64, error) {
	if len(data) < e.period {
		return 0, fmt.Errorf("ema(%d): %w", e.period, ErrInsufficientData)
	}
	s := e.Series(data)
	return s[len(s)-1], nil
}

// Series calculates EMA over the close column
func (e *EMA) Series(data []types.OHLCV) []float64 {
	return e.Values(types.Closes(data))
}

// Values calculates EMA over an arbitrary series
func (e *EMA) Values(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	last := values[0]
	for i, v := range values {
		if i > 0 {
			// EMA = (Value * Alpha) + (Previous EMA * (1 - Alpha))
			last = v*e.alpha + last*(1-e.alpha)
		}
		if i < e.period-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = last
	}
	return out
}

// GetName returns the indicator name
func (e *EMA) GetName() string {
	return "EMA"
}

// GetRequiredPeriods returns the minimum number of periods needed
func (e *EMA) GetRequiredPeriods() int {
	return e.period
}
