// Package allocator implements the Capital Allocator (C4): target-weight
// computation, drift detection, and rebalance-plan generation, all bound
// by per-protocol [w_min, w_max] and the Risk Manager's caps.
package allocator

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/farmd/internal/domain"
	"github.com/rs/zerolog"
)

// Algorithm names accepted by Config.Algorithm.
const (
	AlgoEqualWeight  = "equal_weight"
	AlgoRiskAdjusted = "risk_adjusted"
	AlgoMomentum     = "momentum"
)

// EventPublisher is the narrow slice of the Event Bus the allocator uses.
type EventPublisher interface {
	Publish(data domain.EventData)
}

// Config controls the allocator's algorithm choice and trigger thresholds.
type Config struct {
	Algorithm            string
	DriftThreshold        float64       // θ: max|drift| that forces a rebalance
	PerTxCapPct           float64       // per-tx cap as fraction of V, mirrors risk.Config.TxCapPct
	MaxProjectionIters    int
	MomentumWindow        time.Duration
	ScheduledRebalanceCron string
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		Algorithm:          AlgoEqualWeight,
		DriftThreshold:     0.05,
		PerTxCapPct:        0.05,
		MaxProjectionIters: 50,
		MomentumWindow:     30 * 24 * time.Hour,
	}
}

// ROISource supplies trailing realized ROI per protocol for the momentum
// algorithm.
type ROISource interface {
	TrailingROI(protocol string, window time.Duration) (float64, error)
}

// Allocator is the production Capital Allocator.
type Allocator struct {
	protocols map[string]domain.Protocol // enabled protocols, keyed by id
	cfg       Config
	roi       ROISource
	bus       EventPublisher
	log       zerolog.Logger

	// current/history mutation is serialized by the scheduler loop calling
	// into the allocator; it is not safe for unsynchronized concurrent use.
	current domain.AllocationTarget
	history []domain.AllocationTarget
}

// NewAllocator constructs an Allocator over the given enabled protocols.
// protocols must individually satisfy domain.Protocol.Validate(); the sum
// of w_min across them must not exceed 1.
func NewAllocator(protocols []domain.Protocol, cfg Config, roi ROISource, bus EventPublisher, log zerolog.Logger) (*Allocator, error) {
	byID := make(map[string]domain.Protocol, len(protocols))
	var sumMin float64
	for _, p := range protocols {
		if !p.Enabled {
			continue
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		byID[p.ID] = p
		sumMin += p.MinWeight
	}
	if sumMin > 1+domain.WeightTolerance {
		return nil, fmt.Errorf("allocator: sum of w_min (%v) exceeds 1", sumMin)
	}
	return &Allocator{protocols: byID, cfg: cfg, roi: roi, bus: bus, log: log.With().Str("component", "capital_allocator").Logger()}, nil
}

func (a *Allocator) publish(data domain.EventData) {
	if a.bus != nil {
		a.bus.Publish(data)
	}
}

// ids returns enabled protocol ids in lexicographic order, for
// deterministic iteration wherever tie-breaking matters.
func (a *Allocator) ids() []string {
	ids := make([]string, 0, len(a.protocols))
	for id := range a.protocols {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
