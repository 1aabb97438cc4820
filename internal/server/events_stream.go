package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/farmd/internal/domain"
)

// allEventTypes is the full set of topics the stream subscribes to by
// default; a client may narrow it with ?types=.
var allEventTypes = []domain.EventType{
	domain.EventRiskStateChanged,
	domain.EventAllocationChanged,
	domain.EventTaskScheduled,
	domain.EventTaskStarted,
	domain.EventTaskSucceeded,
	domain.EventTaskFailed,
	domain.EventTaskRetrying,
	domain.EventCircuitTripped,
	domain.EventMetricSampled,
	domain.EventReservationExpired,
	domain.EventAllocationFallback,
}

// handleEventsStream serves Server-Sent Events for every published
// domain event, optionally filtered to a comma-separated ?types= list.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	typesFilter := r.URL.Query().Get("types")
	var allowed map[domain.EventType]bool
	if typesFilter != "" {
		allowed = make(map[domain.EventType]bool)
		for _, t := range strings.Split(typesFilter, ",") {
			allowed[domain.EventType(strings.TrimSpace(t))] = true
		}
	}

	eventChan := make(chan *domain.Event, 100)
	handler := func(e *domain.Event) {
		select {
		case eventChan <- e:
		default:
			s.log.Warn().Str("event_type", string(e.Type)).Msg("sse client slow, dropping event")
		}
	}

	for _, t := range allEventTypes {
		if allowed == nil || allowed[t] {
			s.bus.Subscribe(t, handler)
		}
	}

	fmt.Fprintf(w, "data: %s\n\n", encodeSSE(map[string]any{"type": "connected"}))
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case e := <-eventChan:
			fmt.Fprintf(w, "data: %s\n\n", encodeSSE(map[string]any{
				"seq":            e.Seq,
				"type":           string(e.Type),
				"severity":       string(e.Severity),
				"correlation_id": e.CorrelationID,
				"timestamp":      e.Timestamp.Format(time.RFC3339),
				"data":           e.Data,
			}))
			flusher.Flush()
		}
	}
}

func encodeSSE(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
