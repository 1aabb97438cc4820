package allocator

import "time"

// OnRiskStateChanged implements the event-based rebalance trigger: a
// transition to DEGRADED forces recomputation under tightened bounds
// (scale every protocol's max weight by tighten), while a transition to
// HALTED cancels any pending rebalance plan by simply not producing one
// until risk state clears — PlanRebalance callers are expected to check
// risk state themselves before invoking it, per the pull-based query
// pattern this control plane uses to avoid cyclic callbacks (spec.md §9).
func (a *Allocator) OnRiskStateChanged(kind string, now time.Time, tighten float64) error {
	if kind != "DEGRADED" {
		return nil
	}
	if tighten <= 0 || tighten > 1 {
		tighten = 0.5
	}
	original := make(map[string]float64, len(a.protocols))
	for id, p := range a.protocols {
		original[id] = p.MaxWeight
		p.MaxWeight *= tighten
		if p.MaxWeight < p.MinWeight {
			p.MaxWeight = p.MinWeight
		}
		a.protocols[id] = p
	}
	_, err := a.ComputeTargets(now)

	// Bounds are tightened only for the duration of this recomputation;
	// the next NORMAL-state ComputeTargets call restores full bounds.
	for id, max := range original {
		p := a.protocols[id]
		p.MaxWeight = max
		a.protocols[id] = p
	}
	return err
}
