package engine

import (
	"slices"
	"time"

	"github.com/ducminhle1904/ema-crossover-bot/pkg/types"
)

// IsSignalCheckTime reports whether signals are evaluated in the minute of t.
// Checks run one minute past the boundary so the boundary candle has closed.
// Frequencies of an hour or more select every freq/60 hours at minute 1,
// shorter ones every freq minutes offset by one.
func IsSignalCheckTime(t time.Time, freqMinutes int) bool {
	t = t.UTC()
	if freqMinutes <= 0 {
		return false
	}
	if freqMinutes >= 60 {
		hours := freqMinutes / 60
		return t.Hour()%hours == 0 && t.Minute() == 1
	}
	return t.Minute()%freqMinutes == 1%freqMinutes
}

// NextMinute returns the start of the minute after t
func NextMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute).Add(time.Minute)
}

// PauseDetector notices wall-clock jumps between cycles, such as a suspended host
type PauseDetector struct {
	threshold time.Duration
	last      time.Time
}

func NewPauseDetector(threshold time.Duration) *PauseDetector {
	return &PauseDetector{threshold: threshold}
}

// Observe records a cycle start and returns the gap since the previous one.
// paused is true when the gap exceeds the threshold.
func (p *PauseDetector) Observe(now time.Time) (gap time.Duration, paused bool) {
	defer func() { p.last = now }()
	if p.last.IsZero() || p.threshold <= 0 {
		return 0, false
	}
	gap = now.Sub(p.last)
	return gap, gap > p.threshold
}

// dropForming trims trailing candles the source reports as still forming.
// Sources that never mark a candle closed fall back to dropping the last
// candle when it opened in the current hour.
func dropForming(candles []types.OHLCV, now time.Time) []types.OHLCV {
	n := len(candles)
	if n == 0 {
		return candles
	}
	if slices.ContainsFunc(candles, func(c types.OHLCV) bool { return c.Closed }) {
		for n > 0 && !candles[n-1].Closed {
			n--
		}
		return candles[:n]
	}
	if candles[n-1].Timestamp.UTC().Hour() == now.UTC().Hour() {
		return candles[:n-1]
	}
	return candles
}
