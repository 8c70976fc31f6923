package decision

import (
	"encoding/json"
	"time"

	"github.com/ducminhle1904/ema-crossover-bot/internal/indicators"
	"github.com/ducminhle1904/ema-crossover-bot/internal/strategy"
)

// Context is everything the advisor sees about one signal
type Context struct {
	Symbol           string                  `json:"symbol_pair"`
	SignalType       string                  `json:"signal_type"`
	Direction        string                  `json:"signal"`
	Price            float64                 `json:"price"`
	Strategy         string                  `json:"strategy"`
	DetectedAt       time.Time               `json:"detected_at"`
	FastTimeframe    string                  `json:"fast_timeframe"`
	ConfirmTimeframe string                  `json:"slow_timeframe"`
	StrategyParams   indicators.Params       `json:"strategy_params"`
	ATRMultiplier    float64                 `json:"atr_multiplier"`
	DetectorParams   strategy.DetectorParams `json:"detector_params"`
	EMAMetrics       strategy.EMAMetrics     `json:"ema_metrics"`
	Confirmation     *strategy.Confirmation  `json:"confirmation_metrics,omitempty"`

	// Persona and UserConfigID come from the active user config and stay out of the prompt
	Persona      string `json:"-"`
	UserConfigID int64  `json:"-"`
}

// JSON renders the context for the model prompt
func (c Context) JSON() (string, error) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
