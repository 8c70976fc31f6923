package strategy

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/ema-crossover-bot/internal/indicators"
)

// DefaultConfirmationSlopeWindow is the slope window for ADX, DI and RSI context
const DefaultConfirmationSlopeWindow = 5

// Confirmation is the descriptive indicator bundle computed on the
// confirmation timeframe. It is context for the decision gateway, not a gate.
// Values that could not be computed are reported as 0 and listed in Missing.
type Confirmation struct {
	ADX                float64  `json:"adx"`
	ADXSlope           float64  `json:"adx_slope"`
	DIPlus             float64  `json:"di_plus"`
	DIMinus            float64  `json:"di_minus"`
	DIDifference       float64  `json:"di_difference"`
	DIPlusSlope        float64  `json:"di_plus_slope"`
	DIMinusSlope       float64  `json:"di_minus_slope"`
	Volume             float64  `json:"volume"`
	AvgVolume          float64  `json:"avg_volume"`
	VolumeTrendSlope   float64  `json:"volume_trend_slope"`
	RSI                float64  `json:"rsi"`
	RSIRatioToAvg      float64  `json:"rsi_ratio_to_avg"`
	ATR                float64  `json:"atr"`
	ATRAvg             float64  `json:"atr_avg"`
	ATRSlope           float64  `json:"atr_slope"`
	StopLossToPricePct float64  `json:"stop_loss_to_price_pct"`
	Missing            []string `json:"missing,omitempty"`
}

// Evaluator computes the confirmation bundle
type Evaluator struct {
	confirmWindow int
	atrWindow     int
	atrMultiplier float64
	slopeWindow   int
}

// NewEvaluator creates an evaluator using the strategy windows
func NewEvaluator(confirmWindow, atrWindow int, atrMultiplier float64) *Evaluator {
	return &Evaluator{
		confirmWindow: confirmWindow,
		atrWindow:     atrWindow,
		atrMultiplier: atrMultiplier,
		slopeWindow:   DefaultConfirmationSlopeWindow,
	}
}

// Evaluate builds the bundle from the last rows of frame
func (e *Evaluator) Evaluate(frame *indicators.Frame, direction Direction) (*Confirmation, error) {
	if frame == nil || frame.Len() == 0 {
		return nil, fmt.Errorf("confirmation frame: %w", indicators.ErrInsufficientData)
	}

	c := &Confirmation{}
	val := func(name string, x float64, places int) float64 {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			c.Missing = append(c.Missing, name)
			return 0
		}
		if places < 0 {
			return x
		}
		return indicators.Round(x, places)
	}
	slope := func(name string, values []float64, window int, places int) float64 {
		s, err := indicators.Slope(values, window)
		if err != nil {
			c.Missing = append(c.Missing, name)
			return 0
		}
		return val(name, s, places)
	}

	adx := indicators.Last(frame.ADX)
	c.ADX = val("adx", adx, 1)
	c.ADXSlope = slope("adx_slope", frame.ADX, e.slopeWindow, -1)

	diPlus, diMinus := indicators.Last(frame.ADXPos), indicators.Last(frame.ADXNeg)
	c.DIPlus = val("di_plus", diPlus, 1)
	c.DIMinus = val("di_minus", diMinus, 1)
	c.DIDifference = val("di_difference", diPlus-diMinus, 2)
	c.DIPlusSlope = slope("di_plus_slope", frame.ADXPos, e.slopeWindow, 3)
	c.DIMinusSlope = slope("di_minus_slope", frame.ADXNeg, e.slopeWindow, 3)

	volume := frame.Volume()
	c.Volume = val("volume", indicators.Last(volume), 0)
	c.AvgVolume = val("avg_volume", indicators.Last(indicators.RollingMean(volume, e.confirmWindow)), 0)
	c.VolumeTrendSlope = slope("volume_trend_slope", volume, e.confirmWindow, 4)

	rsi := indicators.Last(frame.RSI)
	rsiMean := indicators.Mean(indicators.Tail(frame.RSI, e.slopeWindow))
	c.RSI = val("rsi", rsi, 1)
	ratio := math.NaN()
	if rsiMean != 0 {
		ratio = rsi / rsiMean
	}
	c.RSIRatioToAvg = val("rsi_ratio_to_avg", ratio, 4)

	price := frame.LastClose()
	atr := indicators.Last(frame.ATR)
	c.ATR = val("atr", atr, 4)
	c.ATRAvg = val("atr_avg", indicators.Last(indicators.RollingMean(frame.ATR, e.atrWindow)), 4)
	c.ATRSlope = slope("atr_slope", frame.ATR, e.atrWindow, 4)
	c.StopLossToPricePct = val("stop_loss_to_price_pct", StopLossDistancePct(price, atr, e.atrMultiplier, direction), 3)

	return c, nil
}

// StopLossPrice places the stop multiplier ATRs below price for bullish
// signals and above it for bearish ones.
func StopLossPrice(price, atr, multiplier float64, direction Direction) float64 {
	if direction == Bullish {
		return price - multiplier*atr
	}
	return price + multiplier*atr
}

// StopLossDistancePct is the absolute stop distance as a percentage of price
func StopLossDistancePct(price, atr, multiplier float64, direction Direction) float64 {
	if price == 0 {
		return math.NaN()
	}
	stop := StopLossPrice(price, atr, multiplier, direction)
	return math.Abs((stop/price - 1) * 100)
}
