// internal/app/features/rides/handler.go
package rides

// Terminology: Ride roles
//   - Host: the rider who posted the ride and may manage its roster
//   - Participant: anyone on the ride, host included

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	ridestore "github.com/dalemusser/ridechat/internal/app/store/rides"
	"github.com/dalemusser/ridechat/internal/app/system/auth"
	"github.com/dalemusser/ridechat/internal/app/system/limits"
	"github.com/dalemusser/ridechat/internal/app/system/realtime"
	"github.com/dalemusser/ridechat/internal/app/system/timeouts"
	"github.com/dalemusser/ridechat/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// maxHistoryLimit caps ?limit= on the messages endpoint.
const maxHistoryLimit = 200

// RideStore is the ride persistence the handlers need.
type RideStore interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Ride, error)
	Create(ctx context.Context, r models.Ride) (models.Ride, error)
	AddParticipant(ctx context.Context, rideID, userID primitive.ObjectID) error
	RemoveParticipant(ctx context.Context, rideID, userID primitive.ObjectID) error
	TransferHost(ctx context.Context, rideID, newHostID primitive.ObjectID) (*models.Ride, error)
	Delete(ctx context.Context, rideID primitive.ObjectID) error
}

// ChatRooms keeps live chat rooms in step with ride membership.
type ChatRooms interface {
	Evict(rideID, userID primitive.ObjectID) int
	CloseRoom(rideID primitive.ObjectID) int
	History(ctx context.Context, rideID primitive.ObjectID, limit int64) ([]realtime.MessagePayload, error)
}

type Handler struct {
	Rides RideStore
	Chat  ChatRooms
	Log   *zap.Logger
}

func NewHandler(rides RideStore, chat ChatRooms, logger *zap.Logger) *Handler {
	return &Handler{Rides: rides, Chat: chat, Log: logger}
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /rides                                                                  |
*─────────────────────────────────────────────────────────────────────────────*/

type createRideRequest struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	DepartsAt   string `json:"departsAt"`
}

// ServeCreate posts a new ride hosted by the caller.
func (h *Handler) ServeCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var in createRideRequest
	r.Body = http.MaxBytesReader(w, r.Body, limits.MaxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ride := models.Ride{HostID: userID, Origin: in.Origin, Destination: in.Destination}
	if in.DepartsAt != "" {
		t, err := parseTime(in.DepartsAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "departsAt must be RFC 3339")
			return
		}
		ride.DepartsAt = t
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	created, err := h.Rides.Create(ctx, ride)
	if err != nil {
		h.Log.Error("create ride failed", zap.Error(err), zap.String("user_id", userID.Hex()))
		writeError(w, http.StatusInternalServerError, "could not create ride")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /rides/{rideID}/join                                                    |
*─────────────────────────────────────────────────────────────────────────────*/

// ServeJoin adds the caller to the ride. Chat access follows on the next
// socket join.
func (h *Handler) ServeJoin(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	rideID, ok := pathID(w, r, "rideID")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if err := h.Rides.AddParticipant(ctx, rideID, userID); err != nil {
		h.storeError(w, "join ride", rideID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /rides/{rideID}/leave                                                   |
*─────────────────────────────────────────────────────────────────────────────*/

// ServeLeave removes the caller from the ride and from its live chat room.
func (h *Handler) ServeLeave(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	rideID, ok := pathID(w, r, "rideID")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if err := h.Rides.RemoveParticipant(ctx, rideID, userID); err != nil {
		h.storeError(w, "leave ride", rideID, err)
		return
	}
	h.Chat.Evict(rideID, userID)
	w.WriteHeader(http.StatusNoContent)
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /rides/{rideID}/kick/{userID}                                           |
*─────────────────────────────────────────────────────────────────────────────*/

// ServeKick lets the host remove a rider. The rider's open chat connections
// are dropped from the room immediately.
func (h *Handler) ServeKick(w http.ResponseWriter, r *http.Request) {
	ride, ok := h.loadHostedRide(w, r)
	if !ok {
		return
	}
	target, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if err := h.Rides.RemoveParticipant(ctx, ride.ID, target); err != nil {
		h.storeError(w, "kick rider", ride.ID, err)
		return
	}
	n := h.Chat.Evict(ride.ID, target)
	h.Log.Info("rider kicked",
		zap.String("ride_id", ride.ID.Hex()),
		zap.String("user_id", target.Hex()),
		zap.Int("connections", n))
	w.WriteHeader(http.StatusNoContent)
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /rides/{rideID}/transfer/{userID}                                       |
*─────────────────────────────────────────────────────────────────────────────*/

// ServeTransfer hands the ride to another participant.
func (h *Handler) ServeTransfer(w http.ResponseWriter, r *http.Request) {
	ride, ok := h.loadHostedRide(w, r)
	if !ok {
		return
	}
	target, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	updated, err := h.Rides.TransferHost(ctx, ride.ID, target)
	if err != nil {
		h.storeError(w, "transfer ride", ride.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

/*─────────────────────────────────────────────────────────────────────────────*
| DELETE /rides/{rideID}                                                       |
*─────────────────────────────────────────────────────────────────────────────*/

// ServeDelete removes the ride and closes its chat room. Stored messages
// are kept.
func (h *Handler) ServeDelete(w http.ResponseWriter, r *http.Request) {
	ride, ok := h.loadHostedRide(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if err := h.Rides.Delete(ctx, ride.ID); err != nil {
		h.storeError(w, "delete ride", ride.ID, err)
		return
	}
	h.Chat.CloseRoom(ride.ID)
	w.WriteHeader(http.StatusNoContent)
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /rides/{rideID}/messages                                                 |
*─────────────────────────────────────────────────────────────────────────────*/

type messagesResponse struct {
	RideID   string                    `json:"rideId"`
	Messages []realtime.MessagePayload `json:"messages"`
}

// ServeMessages returns recent chat history to current participants.
func (h *Handler) ServeMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	ride, ok := h.loadRide(w, r)
	if !ok {
		return
	}
	if !ride.HasParticipant(userID) {
		writeError(w, http.StatusForbidden, "not a participant of this ride")
		return
	}

	var limit int64
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	msgs, err := h.Chat.History(ctx, ride.ID, limit)
	if err != nil {
		h.Log.Error("load chat history failed", zap.String("ride_id", ride.ID.Hex()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load chat history")
		return
	}
	if msgs == nil {
		msgs = []realtime.MessagePayload{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{RideID: ride.ID.Hex(), Messages: msgs})
}

// helpers

func (h *Handler) loadRide(w http.ResponseWriter, r *http.Request) (*models.Ride, bool) {
	rideID, ok := pathID(w, r, "rideID")
	if !ok {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	ride, err := h.Rides.GetByID(ctx, rideID)
	if err != nil {
		h.storeError(w, "load ride", rideID, err)
		return nil, false
	}
	return ride, true
}

// loadHostedRide loads the ride and checks that the caller hosts it.
func (h *Handler) loadHostedRide(w http.ResponseWriter, r *http.Request) (*models.Ride, bool) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return nil, false
	}
	ride, ok := h.loadRide(w, r)
	if !ok {
		return nil, false
	}
	if ride.HostID != userID {
		writeError(w, http.StatusForbidden, "only the host can do that")
		return nil, false
	}
	return ride, true
}

// storeError maps ride store failures onto HTTP statuses.
func (h *Handler) storeError(w http.ResponseWriter, op string, rideID primitive.ObjectID, err error) {
	switch {
	case errors.Is(err, ridestore.ErrNotFound), errors.Is(err, mongo.ErrNoDocuments):
		writeError(w, http.StatusNotFound, "ride not found")
	case errors.Is(err, ridestore.ErrNotParticipant), errors.Is(err, ridestore.ErrHostCannotLeave):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.Log.Error(op+" failed", zap.String("ride_id", rideID.Hex()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func currentUserID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	u, ok := auth.CurrentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return primitive.NilObjectID, false
	}
	id, err := u.ObjectID()
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return primitive.NilObjectID, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, key))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+key)
		return primitive.NilObjectID, false
	}
	return id, true
}
