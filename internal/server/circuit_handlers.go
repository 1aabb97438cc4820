package server

import (
	"encoding/json"
	"net/http"
)

type tripRequest struct {
	Reason string `json:"reason"`
}

// handleCircuitTrip forces the Risk Manager into HALTED, same as the
// internal daily-loss gate does on a breach, but operator initiated.
func (s *Server) handleCircuitTrip(w http.ResponseWriter, r *http.Request) {
	var req tripRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "operator_requested"
	}
	s.risk.Trip(req.Reason)
	writeJSON(w, http.StatusOK, map[string]string{"status": "halted", "reason": req.Reason})
}

// handleCircuitReset clears HALTED back to NORMAL. The operator token
// check already ran in middleware, but Reset re-validates it against the
// Risk Manager's own copy in case the two ever diverge.
func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(token) > len(prefix) {
		token = token[len(prefix):]
	}
	if err := s.risk.Reset(token); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "normal"})
}
