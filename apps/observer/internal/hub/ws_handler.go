package hub

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler upgrades incoming HTTP connections into hub Clients.
type WebSocketHandler struct {
	hub *Hub
	log zerolog.Logger
}

// NewWebSocketHandler builds a handler that registers new connections
// with hub.
func NewWebSocketHandler(hub *Hub, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, log: log.With().Str("component", "ws_handler").Logger()}
}

// ServeHTTP implements http.Handler.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:  h.hub,
		conn: conn,
		send: make(chan []byte, 256),
		id:   uuid.New().String(),
	}

	h.hub.register <- client

	go client.writePump()
	go client.readPump()
}
