// internal/app/features/rides/routes.go
package rides

import (
	"github.com/dalemusser/ridechat/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

func Routes(h *Handler, sm *auth.SessionManager) chi.Router {
	r := chi.NewRouter()

	r.Group(func(pr chi.Router) {
		pr.Use(sm.RequireSignedIn)

		pr.Post("/", h.ServeCreate)
		pr.Delete("/{rideID}", h.ServeDelete)
		pr.Get("/{rideID}/messages", h.ServeMessages)
		pr.Post("/{rideID}/join", h.ServeJoin)
		pr.Post("/{rideID}/leave", h.ServeLeave)
		pr.Post("/{rideID}/kick/{userID}", h.ServeKick)
		pr.Post("/{rideID}/transfer/{userID}", h.ServeTransfer)
	})

	return r
}
