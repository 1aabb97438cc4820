package risk

import "time"

// ProtocolCaps holds per-protocol risk configuration the rule engine
// evaluates exposure and gas gates against.
type ProtocolCaps struct {
	ProtocolID     string
	ExposureCap    float64 // c_p: fraction of V this protocol may hold
	GasCeilingGwei map[string]float64 // keyed by action kind
}

// Config holds every tunable the Risk Manager's rule engine and circuit
// breaker consult. Values are validated at load; invalid configuration is
// a ConfigError and the process refuses to start.
type Config struct {
	DegradedScale float64 // multiplicative downsize applied while DEGRADED, in (0,1]

	AssetConcentrationCap float64 // per-asset cap, same shape as protocol cap
	TxCapPct              float64 // per-transaction cap as a fraction of V
	MinNotionalUSD        float64 // DOWNSIZE below this floor becomes DENY

	DailyLossCapUSD float64 // cumulative realized P&L threshold that trips HALTED

	GasHysteresis float64 // h: ceiling must drop below ceiling*(1-h) to re-open

	VolMedThreshold     float64
	VolHighThreshold    float64
	VolExtremeThreshold float64
	VolMultiplier       map[string]float64 // band name -> notional multiplier

	MinGasReserveNative float64 // wallet health floor, in native token units

	ReservationTTL time.Duration // resolves the open question on reservation decay

	FailureRateWindow    time.Duration
	FailureRateThreshold float64 // fraction of failures over the window that triggers DEGRADED
}

// DefaultConfig returns reasonable defaults; callers should override from
// their loaded configuration.
func DefaultConfig() Config {
	return Config{
		DegradedScale:         0.5,
		AssetConcentrationCap: 0.35,
		TxCapPct:              0.05,
		MinNotionalUSD:        100,
		DailyLossCapUSD:       1000,
		GasHysteresis:         0.2,
		VolMedThreshold:       0.3,
		VolHighThreshold:      0.6,
		VolExtremeThreshold:   0.9,
		VolMultiplier: map[string]float64{
			"LOW": 1.0, "MED": 0.75, "HIGH": 0.4, "EXTREME": 0,
		},
		MinGasReserveNative:  0.01,
		ReservationTTL:       10 * time.Minute,
		FailureRateWindow:    time.Hour,
		FailureRateThreshold: 0.5,
	}
}
