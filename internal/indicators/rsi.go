package indicators

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/ema-crossover-bot/pkg/types"
)

// RSI calculates the Relative Strength Index with Wilder smoothing
type RSI struct {
	period int
}

// NewRSI creates a new RSI instance with the given period
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

// Calculate returns the latest RSI value
func (r *RSI) Calculate(data []types.OHLCV) (float64, error) {
	if len(data) < r.period+1 {
		return 0, fmt.Errorf("rsi(%d): %w", r.period, ErrInsufficientData)
	}
	s := r.Series(data)
	return s[len(s)-1], nil
}

// Series computes RSI over the close column. The first diff is treated as zero
// so the first defined value sits at index period-1.
func (r *RSI) Series(data []types.OHLCV) []float64 {
	closes := types.Closes(data)
	out := make([]float64, len(closes))
	if len(closes) == 0 {
		return out
	}

	alpha := 1.0 / float64(r.period)
	var avgGain, avgLoss float64
	for i := range closes {
		gain, loss := 0.0, 0.0
		if i > 0 {
			change := closes[i] - closes[i-1]
			if change > 0 {
				gain = change
			} else {
				loss = math.Abs(change)
			}
		}
		if i == 0 {
			avgGain, avgLoss = gain, loss
		} else {
			avgGain = gain*alpha + avgGain*(1-alpha)
			avgLoss = loss*alpha + avgLoss*(1-alpha)
		}

		if i < r.period-1 {
			out[i] = math.NaN()
			continue
		}
		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - (100 / (1 + rs))
	}
	return out
}

// GetName returns the indicator name
func (r *RSI) GetName() string {
	return "RSI"
}

// GetRequiredPeriods returns the minimum number of periods needed
func (r *RSI) GetRequiredPeriods() int {
	return r.period + 1
}
