package server

import "net/http"

// handleAllocatorRebalance forces a manual recompute of allocation
// targets and wakes the scheduler to act on any resulting drift, outside
// the usual scheduled/drift/event trigger cadence.
func (s *Server) handleAllocatorRebalance(w http.ResponseWriter, r *http.Request) {
	target, err := s.allocator.ComputeTargets(s.clock.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.scheduler.Trigger()
	writeJSON(w, http.StatusOK, allocationStatus{
		Algorithm:  target.Algorithm,
		ComputedAt: target.ComputedAt,
		Weights:    target.Weights,
	})
}
