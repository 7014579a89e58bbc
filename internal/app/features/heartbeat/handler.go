// internal/app/features/heartbeat/handler.go
package heartbeat

import (
	"context"
	"net/http"

	"github.com/dalemusser/ridechat/internal/app/system/auth"
	"github.com/dalemusser/ridechat/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// SessionResolver identifies the session behind a request.
type SessionResolver interface {
	Resolve(r *http.Request) (auth.Identity, error)
}

// SessionToucher records activity on a session.
type SessionToucher interface {
	Touch(ctx context.Context, sessionID primitive.ObjectID) (bool, error)
}

// Handler handles heartbeat requests for activity tracking.
type Handler struct {
	Sessions   SessionToucher
	SessionMgr SessionResolver
	Log        *zap.Logger
}

// NewHandler creates a new heartbeat handler.
func NewHandler(sessStore SessionToucher, sessionMgr SessionResolver, logger *zap.Logger) *Handler {
	return &Handler{
		Sessions:   sessStore,
		SessionMgr: sessionMgr,
		Log:        logger,
	}
}

// ServeHeartbeat handles POST /api/heartbeat.
//
// Clients that are open but not chatting call it so the idle session sweeper
// leaves their session alone. It answers 204 when the session was touched and
// a silent 200 otherwise.
func (h *Handler) ServeHeartbeat(w http.ResponseWriter, r *http.Request) {
	id, err := h.SessionMgr.Resolve(r)
	if err != nil {
		w.WriteHeader(http.StatusOK) // Silent fail - no usable session
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	touched, err := h.Sessions.Touch(ctx, id.SessionID)
	if err != nil {
		h.Log.Warn("failed to update session last_active_at",
			zap.Error(err),
			zap.String("session_id", id.SessionID.Hex()))
		w.WriteHeader(http.StatusOK)
		return
	}
	if !touched {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
