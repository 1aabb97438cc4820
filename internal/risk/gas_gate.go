package risk

import "sync"

// gasGate tracks, per action kind, whether the gas gate is currently
// "open" (closed=false) so the hysteresis band can be enforced: once the
// ceiling trips closed, it only re-opens after gas drops below
// ceiling*(1-h), not merely below ceiling again.
type gasGate struct {
	mu     sync.Mutex
	closed map[string]bool
}

func newGasGate() *gasGate {
	return &gasGate{closed: make(map[string]bool)}
}

// Allow reports whether the gate permits the given gas price for action,
// applying hysteresis band h against ceiling, and updates gate state.
func (g *gasGate) Allow(action string, gasPriceGwei, ceilingGwei, h float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	wasClosed := g.closed[action]
	reopenThreshold := ceilingGwei * (1 - h)

	if wasClosed {
		if gasPriceGwei < reopenThreshold {
			g.closed[action] = false
			return true
		}
		return false
	}

	if gasPriceGwei > ceilingGwei {
		g.closed[action] = true
		return false
	}
	return true
}
