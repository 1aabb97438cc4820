package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// handleWebsocket pushes a periodic snapshot to the client every five
// seconds: the risk state, the allocation target and the current time.
// It is a subset of /api/status, encoded from the domain types as they
// are, so its field names differ from the status response's.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeStatus(ctx, conn); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeStatus(ctx context.Context, conn *websocket.Conn) error {
	riskState := s.risk.State()
	target := s.allocator.Current()
	payload, err := json.Marshal(map[string]any{
		"risk":       riskState,
		"allocation": target,
		"time":       s.clock.Now(),
	})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}
