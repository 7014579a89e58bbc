package logout

import (
	"net/http"

	"github.com/dalemusser/ridechat/internal/app/system/auth"
	"go.uber.org/zap"
)

type Handler struct {
	Log        *zap.Logger
	SessionMgr *auth.SessionManager
}

func NewHandler(sessionMgr *auth.SessionManager, logger *zap.Logger) *Handler {
	return &Handler{
		Log:        logger,
		SessionMgr: sessionMgr,
	}
}

// ServeLogout handles POST /logout.
//
// The server-side session is closed so later chat handshakes carrying the
// old cookie are rejected. Sockets that are already open keep running until
// they disconnect.
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.SessionMgr.EndSession(w, r); err != nil {
		h.Log.Error("logout: end session", zap.Error(err))
		http.Error(w, "could not end session", http.StatusServiceUnavailable)
		return
	}

	// HTMX handling: use HX-Redirect to force a client-side navigation to "/".
	if r.Header.Get("HX-Request") != "" {
		w.Header().Set("HX-Redirect", "/")
		w.WriteHeader(http.StatusOK)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}
