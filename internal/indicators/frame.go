package indicators

import (
	"fmt"

	"github.com/ducminhle1904/ema-crossover-bot/pkg/types"
)

// Params selects the indicator windows used to build a Frame
type Params struct {
	FastWindow    int `json:"fast_window"`
	SlowWindow    int `json:"slow_window"`
	ConfirmWindow int `json:"confirmation_indicator_window"`
	ATRWindow     int `json:"atr_window"`
}

// MaxWindow returns the largest configured window
func (p Params) MaxWindow() int {
	m := p.FastWindow
	for _, w := range []int{p.SlowWindow, p.ConfirmWindow, p.ATRWindow} {
		if w > m {
			m = w
		}
	}
	return m
}

// Validate checks that all windows are positive
func (p Params) Validate() error {
	if p.FastWindow <= 0 || p.SlowWindow <= 0 || p.ConfirmWindow <= 0 || p.ATRWindow <= 0 {
		return fmt.Errorf("indicator windows must be positive: %+v", p)
	}
	return nil
}

// Frame is a candle series with its indicator columns. Every column has the
// same length as Candles; undefined leading values are NaN.
type Frame struct {
	Candles []types.OHLCV
	EMAFast []float64
	EMASlow []float64
	RSI     []float64
	ADX     []float64
	ADXPos  []float64
	ADXNeg  []float64
	ATR     []float64
}

// Compute builds a Frame from ascending candles. It fails when fewer candles
// than the largest window are supplied.
func Compute(candles []types.OHLCV, p Params) (*Frame, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(candles) < p.MaxWindow() {
		return nil, fmt.Errorf("need %d candles, got %d: %w", p.MaxWindow(), len(candles), ErrInsufficientData)
	}

	dir := NewADX(p.ConfirmWindow).Components(candles)
	return &Frame{
		Candles: candles,
		EMAFast: NewEMA(p.FastWindow).Series(candles),
		EMASlow: NewEMA(p.SlowWindow).Series(candles),
		RSI:     NewRSI(p.ConfirmWindow).Series(candles),
		ADX:     dir.ADX,
		ADXPos:  dir.PlusDI,
		ADXNeg:  dir.MinusDI,
		ATR:     NewATR(p.ATRWindow).Series(candles),
	}, nil
}

// Len returns the number of rows
func (f *Frame) Len() int {
	return len(f.Candles)
}

// Close returns the close column
func (f *Frame) Close() []float64 {
	return types.Closes(f.Candles)
}

// Volume returns the volume column
func (f *Frame) Volume() []float64 {
	return types.Volumes(f.Candles)
}

// LastClose returns the close of the final candle
func (f *Frame) LastClose() float64 {
	if len(f.Candles) == 0 {
		return 0
	}
	return f.Candles[len(f.Candles)-1].Close
}
