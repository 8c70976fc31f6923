package indicators

import (
	"fmt"
	"math"
)

// Slope fits an ordinary least-squares line to the last window values against
// bar index 0..window-1 and returns the slope divided by the window mean.
func Slope(values []float64, window int) (float64, error) {
	if window < 2 || len(values) < window {
		return math.NaN(), fmt.Errorf("slope over %d bars with %d points: %w", window, len(values), ErrInsufficientData)
	}

	y := values[len(values)-window:]
	var sumX, sumY float64
	for i, v := range y {
		if math.IsNaN(v) {
			return math.NaN(), fmt.Errorf("slope window contains undefined values: %w", ErrInsufficientData)
		}
		sumX += float64(i)
		sumY += v
	}
	n := float64(window)
	meanX, meanY := sumX/n, sumY/n

	var num, den float64
	for i, v := range y {
		dx := float64(i) - meanX
		num += dx * (v - meanY)
		den += dx * dx
	}
	slope := num / den

	if meanY == 0 {
		if slope == 0 {
			return 0, nil
		}
		return math.NaN(), fmt.Errorf("slope normalization by zero mean")
	}
	return slope / meanY, nil
}
