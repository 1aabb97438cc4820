package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleTaskPause disables a TaskDefinition: the scheduler stops firing
// new instances for it, but in-flight attempts run to completion.
func (s *Server) handleTaskPause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Disable(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "paused"})
}

// handleTaskResume re-enables a previously paused TaskDefinition.
func (s *Server) handleTaskResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Enable(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.scheduler.Trigger()
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "resumed"})
}
