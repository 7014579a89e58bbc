// internal/app/features/chat/routes.go
package chat

import (
	"github.com/dalemusser/ridechat/internal/app/system/ratelimit"
	"github.com/go-chi/chi/v5"
)

// Routes returns the chat socket router. A non-nil limiter throttles
// handshakes per client IP.
func Routes(h *Handler, limiter *ratelimit.Limiter) chi.Router {
	r := chi.NewRouter()
	if limiter != nil {
		r.Use(ratelimit.Middleware(limiter))
	}
	r.Get("/", h.ServeSocket) // mounted under /ws/chat
	return r
}
