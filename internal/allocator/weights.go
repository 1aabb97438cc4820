package allocator

import "github.com/aristath/farmd/internal/domain"

// rawWeights computes pre-projection weights for the configured
// algorithm: equal-weight baseline, risk-adjusted (inversely proportional
// to each protocol's configured risk multiplier), or momentum (biased by
// trailing ROI). The result need not sum to 1 or respect bounds yet —
// project() enforces both.
func (a *Allocator) rawWeights() (map[string]float64, error) {
	switch a.cfg.Algorithm {
	case AlgoRiskAdjusted:
		return a.riskAdjustedWeights(), nil
	case AlgoMomentum:
		return a.momentumWeights()
	default:
		return a.equalWeights(), nil
	}
}

func (a *Allocator) equalWeights() map[string]float64 {
	ids := a.ids()
	weights := make(map[string]float64, len(ids))
	if len(ids) == 0 {
		return weights
	}
	w := 1.0 / float64(len(ids))
	for _, id := range ids {
		weights[id] = w
	}
	return weights
}

// riskAdjustedWeights weights each protocol inversely proportional to its
// configured risk multiplier (higher multiplier = riskier = smaller
// weight), mirroring the constraint-building approach this codebase uses
// elsewhere to turn a risk score into a position-size bound.
func (a *Allocator) riskAdjustedWeights() map[string]float64 {
	ids := a.ids()
	weights := make(map[string]float64, len(ids))
	var sumInv float64
	invs := make(map[string]float64, len(ids))
	for _, id := range ids {
		mult := a.protocols[id].RiskMultiplier
		if mult <= 0 {
			mult = 1
		}
		inv := 1.0 / mult
		invs[id] = inv
		sumInv += inv
	}
	if sumInv == 0 {
		return a.equalWeights()
	}
	for _, id := range ids {
		weights[id] = invs[id] / sumInv
	}
	return weights
}

// momentumWeights biases weights by trailing realized ROI over the
// configured window: protocols with higher trailing ROI receive a larger
// pre-projection weight.
func (a *Allocator) momentumWeights() (map[string]float64, error) {
	ids := a.ids()
	weights := make(map[string]float64, len(ids))
	if len(ids) == 0 {
		return weights, nil
	}
	rois := make(map[string]float64, len(ids))
	var sumShifted float64
	for _, id := range ids {
		roi, err := a.roi.TrailingROI(id, a.cfg.MomentumWindow)
		if err != nil {
			return nil, err
		}
		// Shift ROI into strictly-positive territory so a protocol with
		// negative trailing ROI still receives a nonzero baseline weight
		// rather than a negative one.
		shifted := roi + 1.0
		if shifted < 0.01 {
			shifted = 0.01
		}
		rois[id] = shifted
		sumShifted += shifted
	}
	for _, id := range ids {
		weights[id] = rois[id] / sumShifted
	}
	return weights, nil
}

// project clamps raw weights onto [w_min, w_max] per protocol and
// redistributes the residual proportionally among protocols not at a
// bound, iterating until feasible (sum==1 within tolerance) or
// MaxProjectionIters is exhausted. On non-convergence it falls back to
// equal-weight and reports ok=false so the caller can emit the fallback
// event.
func (a *Allocator) project(raw map[string]float64) (weights map[string]float64, iterations int, ok bool) {
	ids := a.ids()
	if len(ids) == 0 {
		return map[string]float64{}, 0, true
	}

	w := make(map[string]float64, len(ids))
	for _, id := range ids {
		w[id] = raw[id]
	}

	fixed := make(map[string]bool, len(ids))

	for iter := 1; iter <= a.cfg.MaxProjectionIters; iter++ {
		// Clamp to bounds.
		for _, id := range ids {
			p := a.protocols[id]
			if w[id] < p.MinWeight {
				w[id] = p.MinWeight
				fixed[id] = true
			} else if w[id] > p.MaxWeight {
				w[id] = p.MaxWeight
				fixed[id] = true
			}
		}

		var sum float64
		for _, id := range ids {
			sum += w[id]
		}
		residual := 1 - sum
		if abs(residual) <= domain.WeightTolerance {
			return w, iter, true
		}

		// Redistribute residual proportionally among protocols not
		// already fixed at a bound.
		var freeMass float64
		for _, id := range ids {
			if !fixed[id] {
				freeMass += w[id]
			}
		}
		if freeMass <= 0 {
			break // nothing left to adjust; cannot converge further
		}
		for _, id := range ids {
			if fixed[id] {
				continue
			}
			w[id] += residual * (w[id] / freeMass)
		}
	}

	return a.equalWeights(), a.cfg.MaxProjectionIters, false
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
