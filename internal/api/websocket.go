package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tenosiey/Murmer/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketHandler struct {
	hub      *ws.Hub
	resolver *ClientIPResolver
}

func NewWebSocketHandler(hub *ws.Hub, resolver *ClientIPResolver) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, resolver: resolver}
}

// ServeWS upgrades the connection and starts the client pumps. The client
// registers itself with the hub; nothing beyond protocol errors is sent
// until the presence handshake completes.
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	remoteIP := h.resolver.Resolve(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "component", "api", "remote", remoteIP, "error", err)
		return
	}

	client := ws.NewClient(h.hub, conn, remoteIP)

	go client.WritePump()
	go client.ReadPump()
}
