package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearFarmdEnv(t *testing.T) {
	t.Helper()
	for _, e := range os.Environ() {
		if len(e) > 6 && e[:6] == "FARMD_" {
			key := e[:strIndex(e, '=')]
			os.Unsetenv(key)
			t.Cleanup(func() { os.Unsetenv(key) })
		}
	}
}

func strIndex(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return len(s)
}

func TestLoadRequiresOperatorToken(t *testing.T) {
	clearFarmdEnv(t)
	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearFarmdEnv(t)
	os.Setenv("FARMD_OPERATOR_TOKEN", "secret")
	t.Cleanup(func() { os.Unsetenv("FARMD_OPERATOR_TOKEN") })

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 1000.0, cfg.DailyLossCapUSD)
	require.Equal(t, 0.5, cfg.DegradedScale)
	require.Equal(t, 10*time.Minute, cfg.ReservationTTL)
	require.Equal(t, "equal_weight", cfg.AllocatorAlgorithm)
}

func TestLoadRejectsInvalidDegradedScale(t *testing.T) {
	clearFarmdEnv(t)
	os.Setenv("FARMD_OPERATOR_TOKEN", "secret")
	os.Setenv("FARMD_DEGRADED_SCALE", "2.0")
	t.Cleanup(func() {
		os.Unsetenv("FARMD_OPERATOR_TOKEN")
		os.Unsetenv("FARMD_DEGRADED_SCALE")
	})

	_, err := Load()
	require.Error(t, err)
}
