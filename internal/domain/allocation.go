package domain

import "time"

// AllocationTarget is a computed mapping Protocol -> target weight.
// Sum of weights is 1 within floating tolerance; each weight respects its
// protocol's [w_min, w_max] bounds. Previous targets are retained for
// audit — this struct represents one generation.
type AllocationTarget struct {
	ComputedAt time.Time
	Weights    map[string]float64 // protocol id -> w_p
	Algorithm  string             // "equal_weight" | "risk_adjusted" | "momentum"
}

// WeightTolerance is the floating-point slack permitted when checking
// that weights sum to 1 (invariant I1).
const WeightTolerance = 1e-9

// Drift reports, for a protocol, the signed fractional deviation between
// current and target weight: current - target. Positive means
// overweight relative to target.
type Drift struct {
	Protocol string
	Current  float64
	Target   float64
}

// Delta returns current - target.
func (d Drift) Delta() float64 { return d.Current - d.Target }
