package types

import "time"

// OHLCV is a single candle. Closed is false for the bar that is still forming.
type OHLCV struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
	Closed    bool
}

// Closes extracts the close column.
func Closes(data []OHLCV) []float64 {
	out := make([]float64, len(data))
	for i, c := range data {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts the volume column.
func Volumes(data []OHLCV) []float64 {
	out := make([]float64, len(data))
	for i, c := range data {
		out[i] = c.Volume
	}
	return out
}

// MaxHigh returns the highest high in data, or 0 when data is empty.
func MaxHigh(data []OHLCV) float64 {
	max := 0.0
	for _, c := range data {
		if c.High > max {
			max = c.High
		}
	}
	return max
}
