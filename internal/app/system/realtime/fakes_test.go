package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	messagestore "github.com/dalemusser/ridechat/internal/app/store/messages"
	"github.com/dalemusser/ridechat/internal/app/system/auth"
	"github.com/dalemusser/ridechat/internal/domain/models"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// headerResolver authenticates by the X-Test-User header. The values
// "invalid" and "outage" simulate a bad session and a store failure.
type headerResolver struct{}

func (headerResolver) Resolve(r *http.Request) (auth.Identity, error) {
	v := r.Header.Get("X-Test-User")
	switch v {
	case "":
		return auth.Identity{}, auth.ErrNoSession
	case "invalid":
		return auth.Identity{}, auth.ErrInvalidSession
	case "outage":
		return auth.Identity{}, auth.ErrSessionStore
	}
	id, err := primitive.ObjectIDFromHex(v)
	if err != nil {
		return auth.Identity{}, auth.ErrInvalidSession
	}
	return auth.Identity{UserID: id, SessionID: primitive.NewObjectID()}, nil
}

type fakeRides struct {
	mu    sync.Mutex
	rides map[primitive.ObjectID]models.Ride
	err   error
}

func newFakeRides() *fakeRides {
	return &fakeRides{rides: make(map[primitive.ObjectID]models.Ride)}
}

func (f *fakeRides) GetByID(_ context.Context, id primitive.ObjectID) (*models.Ride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.rides[id]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	r.Participants = append([]primitive.ObjectID(nil), r.Participants...)
	return &r, nil
}

func (f *fakeRides) create(host primitive.ObjectID, riders ...primitive.ObjectID) primitive.ObjectID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := primitive.NewObjectID()
	f.rides[id] = models.Ride{ID: id, HostID: host, Participants: append([]primitive.ObjectID{host}, riders...)}
	return id
}

func (f *fakeRides) addParticipant(rideID, userID primitive.ObjectID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.rides[rideID]
	r.Participants = append(r.Participants, userID)
	f.rides[rideID] = r
}

func (f *fakeRides) removeParticipant(rideID, userID primitive.ObjectID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.rides[rideID]
	kept := r.Participants[:0]
	for _, p := range r.Participants {
		if p != userID {
			kept = append(kept, p)
		}
	}
	r.Participants = kept
	f.rides[rideID] = r
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[primitive.ObjectID]models.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[primitive.ObjectID]models.User)}
}

func (f *fakeUsers) GetByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	return &u, nil
}

func (f *fakeUsers) create(username string) primitive.ObjectID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := primitive.NewObjectID()
	f.users[id] = models.User{ID: id, Username: username}
	return id
}

type fakeMessages struct {
	mu      sync.Mutex
	msgs    []models.ChatMessage
	failErr error
}

func (f *fakeMessages) Create(_ context.Context, userID primitive.ObjectID, in messagestore.NewMessage) (models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return models.ChatMessage{}, f.failErr
	}
	m := models.ChatMessage{
		ID:        primitive.NewObjectID(),
		RideID:    in.RideID,
		UserID:    userID,
		Content:   in.Content,
		Kind:      in.Kind,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	f.msgs = append(f.msgs, m)
	return m, nil
}

func (f *fakeMessages) ListByRide(_ context.Context, rideID primitive.ObjectID, limit int64) ([]models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChatMessage
	for _, m := range f.msgs {
		if m.RideID == rideID {
			out = append(out, m)
		}
	}
	if limit > 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}

func (f *fakeMessages) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

func (f *fakeMessages) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

/* -------------------------------------------------------------------------- */
/* End-to-end harness                                                          */
/* -------------------------------------------------------------------------- */

type testEnv struct {
	hub   *Hub
	srv   *httptest.Server
	rides *fakeRides
	users *fakeUsers
	msgs  *fakeMessages
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	e := &testEnv{rides: newFakeRides(), users: newFakeUsers(), msgs: &fakeMessages{}}
	e.hub = NewHub(cfg, Deps{
		Sessions: headerResolver{},
		Rides:    e.rides,
		Users:    e.users,
		Messages: e.msgs,
	}, nil, zap.NewNop())
	e.srv = httptest.NewServer(http.HandlerFunc(e.hub.Serve))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.hub.Shutdown(ctx)
		e.srv.Close()
	})
	return e
}

type testClient struct {
	t  *testing.T
	ws *websocket.Conn
}

// event is a decoded outbound event.
type event struct {
	Type     string           `json:"type"`
	RideID   string           `json:"rideId"`
	Message  json.RawMessage  `json:"message"`
	Messages []MessagePayload `json:"messages"`
}

func (e event) payload(t *testing.T) MessagePayload {
	t.Helper()
	var p MessagePayload
	if err := json.Unmarshal(e.Message, &p); err != nil {
		t.Fatalf("decode message payload %s: %v", e.Message, err)
	}
	return p
}

func (e event) text(t *testing.T) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(e.Message, &s); err != nil {
		t.Fatalf("decode error text %s: %v", e.Message, err)
	}
	return s
}

func (e *testEnv) dialAs(t *testing.T, user string) (*websocket.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http")
	hdr := http.Header{}
	if user != "" {
		hdr.Set("X-Test-User", user)
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, hdr)
	return ws, err
}

func (e *testEnv) connect(t *testing.T, userID primitive.ObjectID) *testClient {
	t.Helper()
	ws, err := e.dialAs(t, userID.Hex())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return &testClient{t: t, ws: ws}
}

func (c *testClient) send(v any) {
	c.t.Helper()
	if err := c.ws.WriteJSON(v); err != nil {
		c.t.Fatalf("write failed: %v", err)
	}
}

func (c *testClient) next() event {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev event
	if err := c.ws.ReadJSON(&ev); err != nil {
		c.t.Fatalf("read failed: %v", err)
	}
	return ev
}

func (c *testClient) expect(typ string) event {
	c.t.Helper()
	ev := c.next()
	if ev.Type != typ {
		c.t.Fatalf("expected %q event, got %q (%s)", typ, ev.Type, ev.Message)
	}
	return ev
}

func (c *testClient) join(rideID primitive.ObjectID) {
	c.t.Helper()
	c.send(map[string]string{"type": "join", "rideId": rideID.Hex()})
	ev := c.expect(EventJoined)
	if ev.RideID != rideID.Hex() {
		c.t.Fatalf("joined rideId: got %q, want %q", ev.RideID, rideID.Hex())
	}
	c.expect(EventHistory)
}

func (c *testClient) say(content string) {
	c.t.Helper()
	c.send(map[string]string{"type": "message", "content": content})
}

// barrier round-trips an unknown frame. Frames are handled in order and
// events are written in order, so every event queued for this client
// before the barrier was sent is read before the barrier's reply.
func (c *testClient) barrier() {
	c.t.Helper()
	c.send(map[string]string{"type": "barrier"})
	ev := c.expect(EventError)
	if got := ev.text(c.t); got != "unknown frame type" {
		c.t.Fatalf("barrier reply: got %q", got)
	}
}

// closeCode reads until the server closes and returns the close code.
func (c *testClient) closeCode() int {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := c.ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return ce.Code
		}
		c.t.Fatalf("expected close frame, got %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
