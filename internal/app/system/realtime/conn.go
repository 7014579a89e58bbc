// internal/app/system/realtime/conn.go
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dalemusser/ridechat/internal/app/system/auth"
	"github.com/dalemusser/ridechat/internal/app/system/limits"
	"github.com/dalemusser/ridechat/internal/app/system/timeouts"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// State is a connection's position in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type enqueueResult int

const (
	enqueued enqueueResult = iota
	skipped                // connection not open
	queueFull
)

// Conn is one realtime connection. The read loop runs on the goroutine
// that called Hub.Serve and handles frames one at a time; writePump owns
// all data writes to the socket.
type Conn struct {
	id   string
	ws   *websocket.Conn
	hub  *Hub
	log  *zap.Logger
	send chan []byte
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	userID    primitive.ObjectID
	sessionID primitive.ObjectID
	room      primitive.ObjectID
	joined    bool

	closeOnce   sync.Once
	cleanupOnce sync.Once
}

func newConn(h *Hub, ws *websocket.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Conn{
		id:     id,
		ws:     ws,
		hub:    h,
		log:    h.log.With(zap.String("conn_id", id)),
		send:   make(chan []byte, h.cfg.SendQueue),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		state:  StateConnecting,
	}
}

// ID returns the connection's unique id.
func (c *Conn) ID() string { return c.id }

// UserID returns the authenticated user. It is zero before the handshake
// completes and never changes afterwards.
func (c *Conn) UserID() primitive.ObjectID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Room returns the ride the connection is joined to, if any.
func (c *Conn) Room() (primitive.ObjectID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.joined
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) authenticate(id auth.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return
	}
	c.userID = id.UserID
	c.sessionID = id.SessionID
	c.state = StateAuthenticated
}

// setRoom records rideID as the current room. It returns false once the
// connection is closed.
func (c *Conn) setRoom(rideID primitive.ObjectID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.room = rideID
	c.joined = true
	c.state = StateJoined
	return true
}

// clearRoom forgets rideID if it is still the current room. Only the caller
// that actually cleared it gets true.
func (c *Conn) clearRoom(rideID primitive.ObjectID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined || c.room != rideID {
		return false
	}
	c.room = primitive.NilObjectID
	c.joined = false
	if c.state == StateJoined {
		c.state = StateAuthenticated
	}
	return true
}

func (c *Conn) enqueue(data []byte) enqueueResult {
	select {
	case <-c.done:
		return skipped
	default:
	}
	select {
	case c.send <- data:
		return enqueued
	default:
		return queueFull
	}
}

// sendEvent queues ev for this connection only.
func (c *Conn) sendEvent(ev any) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.log.Error("encode event failed", zap.Error(err))
		return
	}
	if c.enqueue(data) == queueFull {
		c.hub.metrics.SlowConsumers.Inc()
		c.log.Warn("outbound queue full, closing connection")
		go c.closeWith(CloseInternalError, "slow consumer")
	}
}

func (c *Conn) sendError(msg string) {
	c.sendEvent(errorEvent(msg))
}

// closeWith sends a close frame with code and tears the socket down.
// Only the first call has any effect.
func (c *Conn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()

		close(c.done)
		c.cancel()

		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil &&
			!errors.Is(err, websocket.ErrCloseSent) {
			c.log.Debug("write close frame failed", zap.Error(err))
		}
		_ = c.ws.Close()
		c.log.Debug("connection closed", zap.Int("close_code", code), zap.String("reason", reason))
	})
}

// cleanup runs exactly once when the connection ends, whatever state it was
// in. It is the only place an abrupt disconnect leaves its room.
func (c *Conn) cleanup() {
	c.cleanupOnce.Do(func() {
		c.closeWith(websocket.CloseNormalClosure, "")
		if rideID, ok := c.Room(); ok {
			unlock := c.hub.seq.lock(rideID)
			c.hub.removeFromRoom(rideID, c)
			c.clearRoom(rideID)
			unlock()
		}
		c.hub.untrack(c)
	})
}

func (c *Conn) readPump() {
	c.ws.SetReadLimit(limits.MaxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		if !c.handleFrame(data) {
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				c.closeWith(websocket.CloseGoingAway, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.closeWith(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

// handleFrame processes one inbound frame. It returns false once the
// connection has been closed. Panics are contained here and close the
// connection with an internal error.
func (c *Conn) handleFrame(data []byte) (keep bool) {
	defer func() {
		if p := recover(); p != nil {
			c.log.Error("panic in frame handler", zap.Any("panic", p), zap.Stack("stack"))
			c.closeWith(CloseInternalError, "internal error")
			keep = false
		}
	}()

	frame, err := DecodeFrame(data)
	if err != nil {
		c.log.Debug("malformed frame", zap.Int("bytes", len(data)))
		c.sendError(err.Error())
		return true
	}

	ctx, cancel := timeouts.WithTimeout(c.ctx, timeouts.Medium(), c.log, "handle "+frame.frameType()+" frame")
	defer cancel()

	switch f := frame.(type) {
	case FrameJoin:
		c.hub.join(ctx, c, f)
	case FrameMessage:
		if _, err := c.hub.pipeline.Ingest(ctx, c, f); err != nil {
			c.sendError(clientError(err))
		}
	case FrameLeave:
		if !c.hub.leave(c) {
			c.sendError(ErrNoActiveRide.Error())
		}
	case FrameUnknown:
		c.log.Info("unknown frame type ignored", zap.String("type", f.Type))
		c.sendError("unknown frame type")
	}
	return c.State() != StateClosed
}

// clientError maps an ingest failure to the text sent to the client.
func clientError(err error) string {
	switch {
	case errors.Is(err, ErrPersist):
		return ErrPersist.Error()
	case errors.Is(err, ErrNoActiveRide),
		errors.Is(err, ErrInvalidMessage),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrUnknownAuthor):
		return err.Error()
	default:
		return "message could not be processed"
	}
}
