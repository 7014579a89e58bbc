package health

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dalemusser/ridechat/internal/app/system/realtime"
	"github.com/dalemusser/ridechat/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Pinger is the part of *mongo.Client the health check needs.
type Pinger interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
}

// StatsSource reports live realtime counts.
type StatsSource interface {
	Stats() realtime.Stats
}

// Handler holds dependencies needed for health checks.
type Handler struct {
	Client Pinger
	Hub    StatsSource
	Log    *zap.Logger
}

// NewHandler constructs a health Handler with the Mongo client, the chat hub and logger.
func NewHandler(client *mongo.Client, hub *realtime.Hub, logger *zap.Logger) *Handler {
	h := &Handler{Client: client, Log: logger}
	if hub != nil {
		h.Hub = hub
	}
	return h
}

// healthResponse is the JSON structure for the health check response.
type healthResponse struct {
	Status   string          `json:"status"`
	Database string          `json:"database"`
	Message  string          `json:"message,omitempty"`
	Error    string          `json:"error,omitempty"`
	Chat     *realtime.Stats `json:"chat,omitempty"`
}

// Serve handles GET /health.
//
// On success: 200 and
//
//	{ "status":"ok", "database":"connected", "chat":{"connections":3,"rooms":1,"joined":2} }
//
// On DB failure: 503 and
//
//	{ "status":"error", "message":"Database unavailable", "error":"…"}
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	resp := healthResponse{
		Status:   "ok",
		Database: "connected",
	}

	if err := h.Client.Ping(ctx, readpref.Primary()); err != nil {
		h.Log.Error("health-check: mongo ping failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Message = "Database unavailable"
		resp.Error = err.Error()
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	if h.Hub != nil {
		st := h.Hub.Stats()
		resp.Chat = &st
	}

	_ = json.NewEncoder(w).Encode(resp)
}
