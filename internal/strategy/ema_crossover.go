package strategy

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/ema-crossover-bot/internal/indicators"
)

// DetectorParams tunes crossover detection and its filters
type DetectorParams struct {
	LookbackBars          int     `json:"lookback_bars"`
	PersistenceBars       int     `json:"persistence_bars"`
	MinDeltaKATR          float64 `json:"min_delta_k_atr"`
	SlopeWindowFast       int     `json:"slope_window_fast"`
	SlopeThreshold        float64 `json:"slope_threshold"`
	ConfirmSlopeWindow    int     `json:"confirm_slope_window"`
	ConfirmSlopeThreshold float64 `json:"confirm_slope_threshold"`
}

// DefaultDetectorParams returns the production filter settings
func DefaultDetectorParams() DetectorParams {
	return DetectorParams{
		LookbackBars:          3,
		PersistenceBars:       0,
		MinDeltaKATR:          0,
		SlopeWindowFast:       3,
		SlopeThreshold:        0,
		ConfirmSlopeWindow:    2,
		ConfirmSlopeThreshold: 0.0005,
	}
}

// Detector finds EMA crossovers on the fast timeframe and gates them with the
// fast EMA slope of both the fast and the confirmation timeframe.
type Detector struct {
	params DetectorParams
}

// NewDetector creates a detector, zero-valued windows fall back to defaults
func NewDetector(params DetectorParams) *Detector {
	def := DefaultDetectorParams()
	if params.LookbackBars <= 0 {
		params.LookbackBars = def.LookbackBars
	}
	if params.SlopeWindowFast < 2 {
		params.SlopeWindowFast = def.SlopeWindowFast
	}
	if params.ConfirmSlopeWindow < 2 {
		params.ConfirmSlopeWindow = def.ConfirmSlopeWindow
	}
	return &Detector{params: params}
}

// Params returns the effective parameters
func (d *Detector) Params() DetectorParams {
	return d.params
}

// Detect returns nil when no qualifying crossover exists. An error means the
// frames were too short to evaluate.
func (d *Detector) Detect(fast, confirm *indicators.Frame) (*Result, error) {
	if fast == nil || fast.Len() < 2 {
		return nil, fmt.Errorf("fast frame: %w", indicators.ErrInsufficientData)
	}

	fe, se := fast.EMAFast, fast.EMASlow
	last := fast.Len() - 1

	atr := indicators.Last(fast.ATR)
	eps := 0.0
	if atr > 0 {
		eps = 0.01 * atr
	}

	direction, crossIdx := d.findCross(fe, se, eps)
	if direction == "" {
		return nil, nil
	}

	if p := d.params.PersistenceBars; p > 0 && last-crossIdx >= p {
		for i := crossIdx; i <= crossIdx+p; i++ {
			if direction == Bullish && !(fe[i] > se[i]) {
				return nil, nil
			}
			if direction == Bearish && !(fe[i] < se[i]) {
				return nil, nil
			}
		}
	}

	if k := d.params.MinDeltaKATR; k > 0 && atr > 0 {
		if math.Abs(fe[last]-se[last]) < k*atr {
			return nil, nil
		}
	}

	fastSlope, err := indicators.Slope(fe, d.params.SlopeWindowFast)
	if err != nil {
		return nil, fmt.Errorf("fast ema slope: %w", err)
	}
	if !passesSlopeGate(direction, fastSlope, d.params.SlopeThreshold) {
		return nil, nil
	}

	var confirmSlope *float64
	if confirm != nil {
		ce := indicators.DropNaN(confirm.EMAFast)
		if len(ce) >= d.params.ConfirmSlopeWindow {
			s, err := indicators.Slope(ce, d.params.ConfirmSlopeWindow)
			if err != nil {
				return nil, fmt.Errorf("confirm ema slope: %w", err)
			}
			if !passesSlopeGate(direction, s, d.params.ConfirmSlopeThreshold) {
				return nil, nil
			}
			rounded := indicators.Round(s, 6)
			confirmSlope = &rounded
		}
	}

	metrics, err := d.metrics(fast, fastSlope)
	if err != nil {
		return nil, err
	}
	metrics.ConfirmSlope = confirmSlope

	return &Result{
		Direction:  direction,
		Metrics:    metrics,
		CrossIndex: crossIdx,
	}, nil
}

// findCross scans the last LookbackBars rows. Bullish is evaluated first and
// wins when both directions cross inside the window.
func (d *Detector) findCross(fe, se []float64, eps float64) (Direction, int) {
	n := len(fe)
	start := n - d.params.LookbackBars
	if start < 1 {
		start = 1
	}

	for i := n - 1; i >= start; i-- {
		if fe[i-1] <= se[i-1]+eps && fe[i] > se[i]-eps {
			return Bullish, i
		}
	}
	for i := n - 1; i >= start; i-- {
		if fe[i-1] >= se[i-1]-eps && fe[i] < se[i]+eps {
			return Bearish, i
		}
	}
	return "", -1
}

func (d *Detector) metrics(fast *indicators.Frame, fastSlope float64) (EMAMetrics, error) {
	w := d.params.SlopeWindowFast
	fe, se := fast.EMAFast, fast.EMASlow

	slowSlope, err := indicators.Slope(se, w)
	if err != nil {
		return EMAMetrics{}, fmt.Errorf("slow ema slope: %w", err)
	}
	closeSlope, err := indicators.Slope(fast.Close(), w)
	if err != nil {
		return EMAMetrics{}, fmt.Errorf("close slope: %w", err)
	}
	accel, err := indicators.Slope(fe, 2)
	if err != nil {
		return EMAMetrics{}, fmt.Errorf("ema acceleration: %w", err)
	}

	lastFast, lastSlow := indicators.Last(fe), indicators.Last(se)
	separation := 0.0
	if lastSlow != 0 {
		separation = (lastFast - lastSlow) / lastSlow * 100
	}

	return EMAMetrics{
		FastSlope:        indicators.Round(fastSlope, 6),
		SlowSlope:        indicators.Round(slowSlope, 6),
		CloseSlope:       indicators.Round(closeSlope, 6),
		SeparationPct:    indicators.Round(separation, 6),
		FastAcceleration: indicators.Round(accel, 6),
	}, nil
}

func passesSlopeGate(direction Direction, slope, threshold float64) bool {
	switch direction {
	case Bullish:
		return slope > threshold
	case Bearish:
		return slope < -threshold
	}
	return false
}
