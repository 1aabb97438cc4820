package clock

import (
	"testing"
	"time"

	"github.com/aristath/farmd/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestVirtualClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v := NewVirtual(start)
	require.Equal(t, start, v.Now())

	v.Advance(90 * time.Second)
	require.Equal(t, start.Add(90*time.Second), v.Now())
}

func TestVirtualClockStaleness(t *testing.T) {
	v := NewVirtual(time.Now())
	v.SetSnapshot(domain.MarketSnapshot{VolatilityIndex: 0.4})

	snap, err := v.Snapshot()
	require.NoError(t, err)
	require.Equal(t, 0.4, snap.VolatilityIndex)

	v.SetStale(10*time.Minute, time.Minute)
	_, err = v.Snapshot()
	require.Error(t, err)
	var staleErr *StaleDataError
	require.ErrorAs(t, err, &staleErr)
}

func TestVolatilitySmootherBanding(t *testing.T) {
	s := NewVolatilitySmoother(3, 12)
	var last float64
	for _, raw := range []float64{0.1, 0.15, 0.9, 0.95, 0.92} {
		last = s.Observe(raw)
	}
	band := Band(last, 0.2, 0.5, 0.8)
	require.Contains(t, []domain.VolatilityBand{domain.VolHigh, domain.VolExtreme, domain.VolMedium}, band)
}
