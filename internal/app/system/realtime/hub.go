// internal/app/system/realtime/hub.go
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dalemusser/ridechat/internal/app/system/auth"
	"github.com/dalemusser/ridechat/internal/app/system/ratelimit"
	"github.com/dalemusser/ridechat/internal/app/system/timeouts"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Close codes for rejected handshakes and internal failures. Each category
// has its own range in the private 4000-4999 space.
const (
	CloseNoSession      = 4100
	CloseInvalidSession = 4200
	CloseInternalError  = 4500
)

// Defaults applied by NewHub for zero Config values.
const (
	DefaultSendQueue    = 64
	DefaultHistoryLimit = 50
)

// SessionResolver authenticates a handshake request.
type SessionResolver interface {
	Resolve(r *http.Request) (auth.Identity, error)
}

// SessionToucher records activity on a login session so idle cleanup does
// not end sessions that are busy chatting.
type SessionToucher interface {
	Touch(ctx context.Context, sessionID primitive.ObjectID) (bool, error)
}

// Config tunes the hub.
type Config struct {
	// AllowedOrigins lists accepted Origin headers. Empty means same-origin
	// only; "*" accepts any origin.
	AllowedOrigins []string

	// SendQueue is the per-connection outbound buffer. A connection whose
	// buffer is full when a broadcast arrives is closed.
	SendQueue int

	// HistoryLimit is the number of past messages replayed after a join.
	// Negative disables the replay.
	HistoryLimit int64

	// RateLimit messages per RateWindow per user. Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Deps are the stores the hub reads and writes.
type Deps struct {
	Sessions SessionResolver
	Rides    RideLookup
	Users    UserLookup
	Messages MessageStore
	Activity SessionToucher // optional
}

// Stats describes the hub's live state.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
	Joined      int `json:"joined"`
}

// Hub owns the room registry and every live connection.
type Hub struct {
	cfg      Config
	sessions SessionResolver
	activity SessionToucher
	registry *Registry
	authz    *Authorizer
	pipeline *Pipeline
	seq      *sequencer
	limiter  *ratelimit.Limiter
	metrics  *Metrics
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu      sync.Mutex
	live    map[*Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewHub builds a hub. A nil metrics value registers fresh collectors on a
// private registry.
func NewHub(cfg Config, deps Deps, metrics *Metrics, logger *zap.Logger) *Hub {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultSendQueue
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}

	h := &Hub{
		cfg:      cfg,
		sessions: deps.Sessions,
		activity: deps.Activity,
		registry: NewRegistry(),
		authz:    NewAuthorizer(deps.Rides),
		seq:      newSequencer(),
		metrics:  metrics,
		log:      logger,
		live:     make(map[*Conn]struct{}),
	}
	if cfg.RateLimit > 0 && cfg.RateWindow > 0 {
		h.limiter = ratelimit.New(cfg.RateLimit, cfg.RateWindow)
	}
	h.pipeline = newPipeline(deps.Users, deps.Messages, h, h.seq, h.limiter, metrics, logger)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
	}
	return h
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil // gorilla's same-origin check
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] {
			return true
		}
		return set[strings.ToLower(origin)]
	}
}

// Registry exposes the room registry for inspection.
func (h *Hub) Registry() *Registry { return h.registry }

// Stats returns live connection and room counts.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	n := len(h.live)
	h.mu.Unlock()

	rs := h.registry.Stats()
	return Stats{Connections: n, Rooms: rs.Rooms, Joined: rs.Connections}
}

// History returns up to limit recent messages of a ride, oldest first, with
// author names resolved. A non-positive limit uses the configured history
// size.
func (h *Hub) History(ctx context.Context, rideID primitive.ObjectID, limit int64) ([]MessagePayload, error) {
	if limit <= 0 {
		limit = h.cfg.HistoryLimit
		if limit <= 0 {
			limit = DefaultHistoryLimit
		}
	}
	msgs, err := h.pipeline.history(ctx, rideID, limit)
	if err != nil {
		return nil, err
	}
	return historyEvent(rideID.Hex(), msgs).Messages, nil
}

// Serve upgrades the request and runs the connection until it closes.
// Authentication happens after the upgrade so failures can be reported
// with a close code.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error.
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newConn(h, ws)
	if !h.track(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer c.cleanup()

	id, err := h.handshake(r)
	if err != nil {
		code, reason, label := closeCodeFor(err)
		h.metrics.HandshakeFailures.WithLabelValues(label).Inc()
		if code == CloseInternalError {
			c.log.Error("handshake failed", zap.Error(err))
		} else {
			c.log.Info("handshake rejected", zap.Int("close_code", code), zap.Error(err))
		}
		c.closeWith(code, reason)
		return
	}
	c.authenticate(id)
	c.log.Debug("connection authenticated", zap.String("user_id", id.UserID.Hex()))

	go c.writePump()
	c.readPump()
}

func (h *Hub) handshake(r *http.Request) (auth.Identity, error) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Handshake(), h.log, "realtime handshake")
	defer cancel()

	id, err := h.sessions.Resolve(r.WithContext(ctx))
	if err != nil {
		return auth.Identity{}, err
	}
	h.touch(ctx, id.SessionID)
	return id, nil
}

func (h *Hub) touch(ctx context.Context, sessionID primitive.ObjectID) {
	if h.activity == nil {
		return
	}
	if _, err := h.activity.Touch(ctx, sessionID); err != nil {
		h.log.Warn("session touch failed", zap.String("session_id", sessionID.Hex()), zap.Error(err))
	}
}

// closeCodeFor maps a resolver error to a close code, a reason for the peer
// and a metrics label.
func closeCodeFor(err error) (int, string, string) {
	switch {
	case errors.Is(err, auth.ErrNoSession):
		return CloseNoSession, "no session", "no_session"
	case errors.Is(err, auth.ErrInvalidSession):
		return CloseInvalidSession, "invalid session", "invalid_session"
	default:
		return CloseInternalError, "internal error", "internal"
	}
}

func (h *Hub) track(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.live[c] = struct{}{}
	h.wg.Add(1)
	h.metrics.Connections.Inc()
	return true
}

func (h *Hub) untrack(c *Conn) {
	h.mu.Lock()
	_, ok := h.live[c]
	delete(h.live, c)
	h.mu.Unlock()
	if ok {
		h.metrics.Connections.Dec()
		h.wg.Done()
	}
}

func (h *Hub) addToRoom(rideID primitive.ObjectID, c *Conn) {
	if h.registry.Add(rideID, c) {
		h.metrics.Rooms.Inc()
	}
}

func (h *Hub) removeFromRoom(rideID primitive.ObjectID, c *Conn) {
	if h.registry.Remove(rideID, c) {
		h.metrics.Rooms.Dec()
	}
}

// join handles a join frame: authorize, subscribe, confirm and replay
// history. Authorization and registration happen under the ride's sequencer
// so an eviction either sees the new member or the authorization sees the
// membership change. A connection switching rides keeps its current room
// until the new ride has been authorized.
func (h *Hub) join(ctx context.Context, c *Conn, f FrameJoin) {
	rideID, err := primitive.ObjectIDFromHex(f.RideID)
	if err != nil {
		h.metrics.JoinsTotal.WithLabelValues("denied").Inc()
		c.sendError("invalid ride id")
		return
	}
	if cur, ok := c.Room(); ok && cur != rideID {
		if !h.authorizeJoin(ctx, c, rideID) {
			return
		}
		h.leave(c)
	}

	unlock := h.seq.lock(rideID)
	defer unlock()

	if !h.authorizeJoin(ctx, c, rideID) {
		// A rejoin of the current room after losing membership drops it.
		if cur, joined := c.Room(); joined && cur == rideID {
			h.removeFromRoom(rideID, c)
			c.clearRoom(rideID)
		}
		return
	}
	if !h.register(rideID, c) {
		return
	}
	h.metrics.JoinsTotal.WithLabelValues("joined").Inc()
	c.sendEvent(joinedEvent(rideID.Hex()))
	h.touch(ctx, c.sessionID)

	if h.cfg.HistoryLimit < 0 {
		return
	}
	// Still under the ride lock: nothing can be broadcast between the
	// history snapshot and the first live message.
	msgs, err := h.pipeline.history(ctx, rideID, h.cfg.HistoryLimit)
	if err != nil {
		c.log.Error("load chat history failed",
			zap.String("ride_id", rideID.Hex()),
			zap.Error(err))
		c.sendError("could not load chat history")
		return
	}
	c.sendEvent(historyEvent(rideID.Hex(), msgs))
}

// authorizeJoin checks that c's user is a participant of rideID. On failure
// the client gets an error event and false is returned.
func (h *Hub) authorizeJoin(ctx context.Context, c *Conn, rideID primitive.ObjectID) bool {
	userID := c.UserID()
	ok, err := h.authz.Authorize(ctx, userID, rideID)
	if err != nil {
		h.metrics.JoinsTotal.WithLabelValues("error").Inc()
		c.log.Error("ride membership check failed",
			zap.String("user_id", userID.Hex()),
			zap.String("ride_id", rideID.Hex()),
			zap.Error(err))
		c.sendError("could not verify ride membership")
		return false
	}
	if !ok {
		h.metrics.JoinsTotal.WithLabelValues("denied").Inc()
		c.log.Info("join denied",
			zap.String("user_id", userID.Hex()),
			zap.String("ride_id", rideID.Hex()))
		c.sendError("not a participant of this ride")
		return false
	}
	return true
}

// register subscribes c to rideID. A connection that closed concurrently is
// taken back out of the registry, since its cleanup may already have run
// without seeing the room.
func (h *Hub) register(rideID primitive.ObjectID, c *Conn) bool {
	h.addToRoom(rideID, c)
	if !c.setRoom(rideID) {
		h.removeFromRoom(rideID, c)
		return false
	}
	return true
}

// leave unsubscribes c from its room and confirms with a left event. It
// returns false when c was not joined.
func (h *Hub) leave(c *Conn) bool {
	rideID, ok := c.Room()
	if !ok {
		return false
	}
	unlock := h.seq.lock(rideID)
	defer unlock()

	h.removeFromRoom(rideID, c)
	if c.clearRoom(rideID) {
		c.sendEvent(leftEvent(rideID.Hex()))
	}
	return true
}

// Broadcast queues event to every connection in the ride's room. Closed
// connections are skipped; a connection with a full queue is closed without
// affecting the others.
func (h *Hub) Broadcast(rideID primitive.ObjectID, event any) int {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("encode broadcast failed", zap.String("ride_id", rideID.Hex()), zap.Error(err))
		return 0
	}

	n := 0
	h.registry.Each(rideID, func(c *Conn) {
		switch c.enqueue(data) {
		case enqueued:
			n++
		case queueFull:
			h.metrics.SlowConsumers.Inc()
			c.log.Warn("outbound queue full, closing connection", zap.String("ride_id", rideID.Hex()))
			go c.closeWith(CloseInternalError, "slow consumer")
		}
	})
	h.metrics.Deliveries.Add(float64(n))
	return n
}

// Evict removes every connection of userID from the ride's room. Call it
// after the user has been removed from the ride's participants. Evicted
// connections stay open and may join other rides.
func (h *Hub) Evict(rideID, userID primitive.ObjectID) int {
	unlock := h.seq.lock(rideID)
	defer unlock()

	n := 0
	for _, c := range h.registry.Members(rideID) {
		if c.UserID() != userID {
			continue
		}
		h.removeFromRoom(rideID, c)
		if c.clearRoom(rideID) {
			c.sendEvent(leftEvent(rideID.Hex()))
			c.sendError("you are no longer a participant of this ride")
		}
		n++
	}
	if n > 0 {
		h.metrics.Evictions.WithLabelValues("removed").Add(float64(n))
		h.log.Info("evicted from ride chat",
			zap.String("ride_id", rideID.Hex()),
			zap.String("user_id", userID.Hex()),
			zap.Int("connections", n))
	}
	return n
}

// CloseRoom removes every member of the ride's room, for a deleted ride.
func (h *Hub) CloseRoom(rideID primitive.ObjectID) int {
	unlock := h.seq.lock(rideID)
	defer unlock()

	members := h.registry.RemoveAll(rideID)
	if len(members) > 0 {
		h.metrics.Rooms.Dec()
	}
	for _, c := range members {
		if c.clearRoom(rideID) {
			c.sendEvent(leftEvent(rideID.Hex()))
			c.sendError("this ride has been deleted")
		}
	}
	h.metrics.Evictions.WithLabelValues("ride_deleted").Add(float64(len(members)))
	return len(members)
}

// Shutdown closes every connection and waits for their cleanup, or for ctx.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	conns := make([]*Conn, 0, len(h.live))
	for c := range h.live {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	if h.limiter != nil {
		h.limiter.Stop()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
