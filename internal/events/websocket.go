package events

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/igor/internal/common"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler serves the event stream over a websocket. Each message
// is one event in the same wire form the TCP stream uses.
type WebSocketHandler struct {
	publisher *Publisher
	logger    arbor.ILogger
}

// NewWebSocketHandler wires a publisher to the /events endpoint.
func NewWebSocketHandler(publisher *Publisher, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{publisher: publisher, logger: logger}
}

// ServeHTTP upgrades the connection and streams events until the client
// goes away.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	remote := conn.RemoteAddr().String()
	h.logger.Debug().Str("remote", remote).Msg("WebSocket event subscriber connected")
	ch, unsubscribe := h.publisher.Subscribe()

	// Drain the read side so close frames are processed.
	common.SafeGo(h.logger, "event-ws-read", func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				unsubscribe()
				return
			}
		}
	})

	common.SafeGo(h.logger, "event-ws-write", func() {
		defer conn.Close()
		defer unsubscribe()
		for line := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				h.logger.Debug().Str("remote", remote).Err(err).Msg("WebSocket event subscriber disconnected")
				return
			}
		}
	})
}
