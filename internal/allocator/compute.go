package allocator

import (
	"sort"
	"time"

	"github.com/aristath/farmd/internal/domain"
)

// ComputeTargets runs the configured algorithm and projection step,
// recording the result as the new current AllocationTarget (previous
// targets are retained in history for audit) and publishing
// AllocationChanged.
func (a *Allocator) ComputeTargets(now time.Time) (domain.AllocationTarget, error) {
	raw, err := a.rawWeights()
	if err != nil {
		return domain.AllocationTarget{}, err
	}

	weights, iterations, converged := a.project(raw)
	if !converged {
		a.log.Warn().Int("iterations", iterations).Str("algorithm", a.cfg.Algorithm).
			Msg("allocation projection did not converge, falling back to equal-weight")
		a.publish(domain.AllocationFallbackData{Algorithm: a.cfg.Algorithm, Iterations: iterations})
	}

	target := domain.AllocationTarget{ComputedAt: now, Weights: weights, Algorithm: a.cfg.Algorithm}
	if a.current.Weights != nil {
		a.history = append(a.history, a.current)
	}
	a.current = target

	a.publish(domain.AllocationChangedData{Target: target})
	return target, nil
}

// Current returns the most recently computed AllocationTarget.
func (a *Allocator) Current() domain.AllocationTarget { return a.current }

// History returns all previously superseded AllocationTargets, oldest first.
func (a *Allocator) History() []domain.AllocationTarget { return a.history }

// Drift reports, for every enabled protocol, the signed fractional
// deviation between currentWeights (observed from the Portfolio View)
// and the current AllocationTarget.
func (a *Allocator) Drift(currentWeights map[string]float64) []domain.Drift {
	ids := a.ids()
	drifts := make([]domain.Drift, 0, len(ids))
	for _, id := range ids {
		drifts = append(drifts, domain.Drift{
			Protocol: id,
			Current:  currentWeights[id],
			Target:   a.current.Weights[id],
		})
	}
	return drifts
}

// MaxAbsDrift returns the largest |current - target| across protocols.
func MaxAbsDrift(drifts []domain.Drift) float64 {
	var max float64
	for _, d := range drifts {
		if v := abs(d.Delta()); v > max {
			max = v
		}
	}
	return max
}

// ShouldRebalance reports whether plan_rebalance should produce a
// non-empty plan: max|drift| >= threshold, or scheduledDue is true.
func (a *Allocator) ShouldRebalance(drifts []domain.Drift, scheduledDue bool) bool {
	return scheduledDue || MaxAbsDrift(drifts) >= a.cfg.DriftThreshold
}

// PlanRebalance produces an ordered list of ActionProposals moving the
// portfolio from currentWeights toward the current AllocationTarget.
// Tie-breaking: actions reducing the largest positive drift come first;
// same-magnitude ties break by protocol id lexicographic order. Each
// proposal is sized min(|drift|*V, per_tx_cap*V). Returns an empty slice
// if ShouldRebalance is false for the given inputs.
func (a *Allocator) PlanRebalance(currentWeights map[string]float64, totalUSD float64, scheduledDue bool) []domain.ActionProposal {
	drifts := a.Drift(currentWeights)
	if !a.ShouldRebalance(drifts, scheduledDue) {
		return nil
	}

	// Only protocols that are overweight (positive drift) are sources of
	// capital to move; order them by drift magnitude descending, ties by
	// protocol id ascending.
	sort.Slice(drifts, func(i, j int) bool {
		di, dj := drifts[i].Delta(), drifts[j].Delta()
		if di != dj {
			return di > dj
		}
		return drifts[i].Protocol < drifts[j].Protocol
	})

	perTxCap := a.cfg.PerTxCapPct * totalUSD
	var proposals []domain.ActionProposal
	for _, d := range drifts {
		delta := d.Delta()
		if delta <= domain.WeightTolerance {
			continue // not overweight; nothing to move out of this protocol
		}
		notional := delta * totalUSD
		if notional > perTxCap {
			notional = perTxCap
		}
		proposals = append(proposals, domain.ActionProposal{
			Protocol:    d.Protocol,
			NotionalUSD: notional,
			Context:     map[string]any{"reason": "rebalance"},
		})
	}
	return proposals
}
