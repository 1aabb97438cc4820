package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// statusResponse is the /api/status payload: risk state, current
// allocation target, portfolio total, and host resource sample.
type statusResponse struct {
	Time          time.Time          `json:"time"`
	Risk          riskStatus         `json:"risk"`
	Allocation    allocationStatus   `json:"allocation"`
	PortfolioUSD  float64            `json:"portfolio_usd,omitempty"`
	PortfolioErr  string             `json:"portfolio_error,omitempty"`
	Host          hostStatus         `json:"host"`
	Protocols     []string           `json:"protocols"`
	EventsDropped uint64             `json:"events_dropped"`
}

type riskStatus struct {
	Kind        string    `json:"kind"`
	Reason      string    `json:"reason,omitempty"`
	ActivatedAt time.Time `json:"activated_at"`
}

type allocationStatus struct {
	Algorithm  string             `json:"algorithm"`
	ComputedAt time.Time          `json:"computed_at"`
	Weights    map[string]float64 `json:"weights"`
}

type hostStatus struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemUsedPct float64 `json:"mem_used_percent"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	riskState := s.risk.State()
	target := s.allocator.Current()

	resp := statusResponse{
		Time: s.clock.Now(),
		Risk: riskStatus{
			Kind:        string(riskState.Kind),
			Reason:      riskState.Reason,
			ActivatedAt: riskState.ActivatedAt,
		},
		Allocation: allocationStatus{
			Algorithm:  target.Algorithm,
			ComputedAt: target.ComputedAt,
			Weights:    target.Weights,
		},
		Protocols:     s.adapters.IDs(),
		EventsDropped: s.bus.DroppedEvents(),
	}

	if snap, err := s.portfolio.Current(ctx); err != nil {
		resp.PortfolioErr = err.Error()
	} else {
		resp.PortfolioUSD = snap.TotalUSD
	}

	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		resp.Host.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.Host.MemUsedPct = vm.UsedPercent
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
