package web

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/sweeney/filter-control/internal/status"
)

const wsWriteTimeout = 5 * time.Second

// handleWS pushes a status snapshot on connect and then every push
// interval until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles their close frame.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(s.opts.PushInterval)
	defer ticker.Stop()

	for {
		if err := s.push(ctx, conn); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) push(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	data := status.FormatStatusEvent(s.tracker.Snapshot(), "STATUS", "")
	return conn.Write(ctx, websocket.MessageText, data)
}
