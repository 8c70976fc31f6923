package indicators

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/ema-crossover-bot/pkg/types"
)

// ADX represents the Average Directional Index technical indicator.
// ADX measures trend strength regardless of direction (0-100 scale);
// +DI and -DI carry the direction.
type ADX struct {
	period int
}

// DirectionalSeries holds the three ADX outputs aligned with the input candles
type DirectionalSeries struct {
	ADX     []float64
	PlusDI  []float64
	MinusDI []float64
}

// NewADX creates a new ADX indicator
func NewADX(period int) *ADX {
	return &ADX{period: period}
}

// Calculate returns the latest ADX value
func (adx *ADX) Calculate(data []types.OHLCV) (float64, error) {
	if len(data) < adx.GetRequiredPeriods() {
		return 0, fmt.Errorf("adx(%d): %w", adx.period, ErrInsufficientData)
	}
	s := adx.Series(data)
	return s[len(s)-1], nil
}

// Series returns the ADX line only
func (adx *ADX) Series(data []types.OHLCV) []float64 {
	return adx.Components(data).ADX
}

// Components computes ADX, +DI and -DI with Wilder's smoothing.
// DI values are defined from index period, ADX from index 2*period-1.
func (adx *ADX) Components(data []types.OHLCV) DirectionalSeries {
	n := len(data)
	p := adx.period
	out := DirectionalSeries{
		ADX:     nanSlice(n),
		PlusDI:  nanSlice(n),
		MinusDI: nanSlice(n),
	}
	if p <= 0 || n <= p {
		return out
	}

	tr := TrueRange(data)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		highDiff := data[i].High - data[i-1].High
		lowDiff := data[i-1].Low - data[i].Low
		if highDiff > lowDiff && highDiff > 0 {
			plusDM[i] = highDiff
		}
		if lowDiff > highDiff && lowDiff > 0 {
			minusDM[i] = lowDiff
		}
	}

	var trSum, plusSum, minusSum float64
	for i := 1; i <= p; i++ {
		trSum += tr[i]
		plusSum += plusDM[i]
		minusSum += minusDM[i]
	}

	dx := nanSlice(n)
	for i := p; i < n; i++ {
		if i > p {
			trSum = trSum - trSum/float64(p) + tr[i]
			plusSum = plusSum - plusSum/float64(p) + plusDM[i]
			minusSum = minusSum - minusSum/float64(p) + minusDM[i]
		}

		plusDI, minusDI := 0.0, 0.0
		if trSum > 0 {
			plusDI = 100 * plusSum / trSum
			minusDI = 100 * minusSum / trSum
		}
		out.PlusDI[i] = plusDI
		out.MinusDI[i] = minusDI

		if sum := plusDI + minusDI; sum > 0 {
			dx[i] = 100 * math.Abs(plusDI-minusDI) / sum
		} else {
			dx[i] = 0
		}
	}

	first := 2*p - 1
	if first >= n {
		return out
	}
	seed := 0.0
	for i := p; i <= first; i++ {
		seed += dx[i]
	}
	out.ADX[first] = seed / float64(p)
	for i := first + 1; i < n; i++ {
		out.ADX[i] = (out.ADX[i-1]*float64(p-1) + dx[i]) / float64(p)
	}
	return out
}

// GetName returns the indicator name
func (adx *ADX) GetName() string {
	return "ADX"
}

// GetRequiredPeriods returns the minimum number of periods needed
func (adx *ADX) GetRequiredPeriods() int {
	return 2 * adx.period
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
