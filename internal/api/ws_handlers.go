package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-roadwatch/internal/hub"
	"github.com/technosupport/ts-roadwatch/internal/tokens"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for dev; restrict in prod
	},
}

// WsHandler upgrades /ws/incidents and hands the connection to the hub.
type WsHandler struct {
	Hub *hub.Hub
	// Tokens, when non-nil, turns on the demo token gate: connections must
	// present a valid ?token= to upgrade. Nil (dev default) leaves the
	// endpoint open. Placeholder auth, not a hardened scheme.
	Tokens *tokens.Manager
}

func NewWsHandler(h *hub.Hub, tm *tokens.Manager) *WsHandler {
	return &WsHandler{Hub: h, Tokens: tm}
}

func (h *WsHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.Tokens != nil {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		claims, err := h.Tokens.ValidateToken(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		log.Printf("WS token accepted: subject=%s role=%s", claims.Subject, claims.Role)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS upgrade failed: %v", err)
		return
	}

	// HandleConn blocks for the lifetime of the connection and cleans up the
	// registry entry for field devices on the way out.
	h.Hub.HandleConn(conn)
}
