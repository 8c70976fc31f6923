package strategy

// Name is the strategy label stored with every signal
const Name = "EMA_Strategy"

// Direction of a detected crossover
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// SignalType maps a crossover direction to the order side it suggests
func (d Direction) SignalType() string {
	switch d {
	case Bullish:
		return "buy"
	case Bearish:
		return "sell"
	default:
		return "hold"
	}
}

// EMAMetrics are the diagnostics attached to a detected crossover.
// All values are rounded to 6 decimal places.
type EMAMetrics struct {
	FastSlope        float64  `json:"ema_fast_slope"`
	SlowSlope        float64  `json:"ema_slow_slope"`
	ConfirmSlope     *float64 `json:"ema_confirm_slope"`
	CloseSlope       float64  `json:"close_slope"`
	SeparationPct    float64  `json:"ema_separation_pct"`
	FastAcceleration float64  `json:"ema_fast_acceleration"`
}

// Result is a detected and filtered crossover
type Result struct {
	Direction  Direction  `json:"signal"`
	Metrics    EMAMetrics `json:"ema_metrics"`
	CrossIndex int        `json:"-"`
}
