package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsSink writes broadcast messages to one WebSocket connection.
type wsSink struct {
	conn    *websocket.Conn
	timeout time.Duration

	mu sync.Mutex
}

func (s *wsSink) Send(ctx context.Context, msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.timeout)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

// ServeWS upgrades the connection, attaches it as a subscriber and echoes inbound text until
// the client goes away.
// GET /ws
func (h *Handlers) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	h.hub.Attach(clientID, &wsSink{conn: conn, timeout: h.writeTimeout})
	defer h.hub.Detach(clientID)
	slog.Info("WebSocket client connected", "client_id", clientID, "remote_addr", r.RemoteAddr)

	ctx := context.WithoutCancel(r.Context())
	h.hub.SendTo(ctx, clientID, h.feed.StatusMessage())

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("WebSocket read failed", "client_id", clientID, "error", err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.hub.SendTo(ctx, clientID, []byte("Echo: "+string(data)))
	}
	slog.Info("WebSocket client disconnected", "client_id", clientID)
}
