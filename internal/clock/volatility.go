package clock

import (
	"github.com/aristath/farmd/internal/domain"
	talib "github.com/markcheno/go-talib"
)

// VolatilitySmoother maintains a rolling window of raw volatility index
// readings and exposes an EMA-smoothed value, so a single noisy tick
// cannot flip the Risk Manager's volatility band back and forth.
type VolatilitySmoother struct {
	window    []float64
	maxSamples int
	period     int
}

// NewVolatilitySmoother creates a smoother with the given EMA period.
// maxSamples bounds how much history is retained (must be >= period).
func NewVolatilitySmoother(period, maxSamples int) *VolatilitySmoother {
	if period < 1 {
		period = 1
	}
	if maxSamples < period {
		maxSamples = period * 4
	}
	return &VolatilitySmoother{maxSamples: maxSamples, period: period}
}

// Observe records a new raw reading and returns the current EMA-smoothed
// value. Until at least `period` samples have been observed, the raw
// value is returned unsmoothed.
func (s *VolatilitySmoother) Observe(raw float64) float64 {
	s.window = append(s.window, raw)
	if len(s.window) > s.maxSamples {
		s.window = s.window[len(s.window)-s.maxSamples:]
	}
	if len(s.window) < s.period {
		return raw
	}
	ema := talib.Ema(s.window, s.period)
	if len(ema) == 0 {
		return raw
	}
	return ema[len(ema)-1]
}

// Band classifies a smoothed volatility reading into the bands the Risk
// Manager's volatility gate reasons about.
func Band(smoothed, medThreshold, highThreshold, extremeThreshold float64) domain.VolatilityBand {
	switch {
	case smoothed >= extremeThreshold:
		return domain.VolExtreme
	case smoothed >= highThreshold:
		return domain.VolHigh
	case smoothed >= medThreshold:
		return domain.VolMedium
	default:
		return domain.VolLow
	}
}
