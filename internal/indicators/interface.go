package indicators

import (
	"errors"

	"github.com/ducminhle1904/ema-crossover-bot/pkg/types"
)

// ErrInsufficientData is returned when a series is shorter than an indicator window.
var ErrInsufficientData = errors.New("insufficient data")

// SeriesIndicator produces one value per candle. Leading values that are not
// yet defined are NaN.
type SeriesIndicator interface {
	Calculate(data []types.OHLCV) (float64, error)
	Series(data []types.OHLCV) []float64
	GetName() string
	GetRequiredPeriods() int
}

var (
	_ SeriesIndicator = (*EMA)(nil)
	_ SeriesIndicator = (*RSI)(nil)
	_ SeriesIndicator = (*ATR)(nil)
	_ SeriesIndicator = (*ADX)(nil)
)
