// internal/app/features/chat/handler.go
package chat

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server runs one realtime chat connection per request.
type Server interface {
	Serve(w http.ResponseWriter, r *http.Request)
}

// Handler exposes the chat socket endpoint.
type Handler struct {
	Hub Server
	Log *zap.Logger
}

func NewHandler(hub Server, logger *zap.Logger) *Handler {
	return &Handler{Hub: hub, Log: logger}
}

// ServeSocket handles GET /ws/chat.
//
// Authentication is done by the hub after the upgrade, from the session
// cookie, so failures reach the browser as close codes rather than HTTP
// statuses. Plain HTTP requests are refused here.
func (h *Handler) ServeSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Upgrade", "websocket")
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}
	h.Hub.Serve(w, r)
}
