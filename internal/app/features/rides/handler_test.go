package rides_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dalemusser/ridechat/internal/app/features/rides"
	ridestore "github.com/dalemusser/ridechat/internal/app/store/rides"
	"github.com/dalemusser/ridechat/internal/app/system/realtime"
	"github.com/dalemusser/ridechat/internal/domain/models"
	"github.com/dalemusser/ridechat/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// fakeRooms records the live-room side effects of membership changes.
type fakeRooms struct {
	mu      sync.Mutex
	evicted []primitive.ObjectID
	closed  []primitive.ObjectID
	history []realtime.MessagePayload
	limit   int64
}

func (f *fakeRooms) Evict(_, userID primitive.ObjectID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, userID)
	return 1
}

func (f *fakeRooms) CloseRoom(rideID primitive.ObjectID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, rideID)
	return 0
}

func (f *fakeRooms) History(_ context.Context, _ primitive.ObjectID, limit int64) ([]realtime.MessagePayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	return f.history, nil
}

type testEnv struct {
	h     *rides.Handler
	store *ridestore.Store
	rooms *fakeRooms
	fx    *testutil.Fixtures
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	store := ridestore.New(db)
	rooms := &fakeRooms{}
	return testEnv{
		h:     rides.NewHandler(store, rooms, zap.NewNop()),
		store: store,
		rooms: rooms,
		fx:    testutil.NewFixtures(t, db),
	}
}

func rideRequest(method, target string, u models.User, params ...string) *http.Request {
	req := testutil.NewAuthenticatedRequest(method, target, u)
	for i := 0; i+1 < len(params); i += 2 {
		req = testutil.WithChiURLParam(req, params[i], params[i+1])
	}
	return req
}

func TestServeCreate_HostIsParticipant(t *testing.T) {
	env := newTestEnv(t)
	host := env.fx.CreateUser(testCtx(t), "host")

	body := `{"origin":"Library","destination":"Station","departsAt":"2026-11-01T08:30:00Z"}`
	req := testutil.WithUser(httptestRequest("POST", "/rides", body), host)
	rec := testutil.NewRecorder()
	env.h.ServeCreate(rec, req)
	rec.AssertStatus(t, http.StatusCreated)

	var got models.Ride
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.HostID != host.ID || !got.HasParticipant(host.ID) {
		t.Errorf("unexpected ride: %+v", got)
	}
	if got.DepartsAt.Hour() != 8 || got.DepartsAt.Minute() != 30 {
		t.Errorf("DepartsAt: got %v", got.DepartsAt)
	}
}

func TestServeCreate_BadTime(t *testing.T) {
	env := newTestEnv(t)
	host := env.fx.CreateUser(testCtx(t), "host")

	req := testutil.WithUser(httptestRequest("POST", "/rides", `{"departsAt":"tomorrow"}`), host)
	rec := testutil.NewRecorder()
	env.h.ServeCreate(rec, req)
	rec.AssertStatus(t, http.StatusBadRequest)
}

func TestServeJoin_AddsParticipant(t *testing.T) {
	env := newTestEnv(t)
	ctx := testCtx(t)
	host := env.fx.CreateUser(ctx, "host")
	rider := env.fx.CreateUser(ctx, "rider")
	ride := env.fx.CreateRide(ctx, host.ID)

	rec := testutil.NewRecorder()
	env.h.ServeJoin(rec, rideRequest("POST", "/", rider, "rideID", ride.ID.Hex()))
	rec.AssertStatus(t, http.StatusNoContent)

	got, err := env.store.GetByID(ctx, ride.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.HasParticipant(rider.ID) {
		t.Error("expected rider to be a participant")
	}
}

func TestServeJoin_UnknownRide(t *testing.T) {
	env := newTestEnv(t)
	rider := env.fx.CreateUser(testCtx(t), "rider")

	rec := testutil.NewRecorder()
	env.h.ServeJoin(rec, rideRequest("POST", "/", rider, "rideID", primitive.NewObjectID().Hex()))
	rec.AssertStatus(t, http.StatusNotFound)
}

func TestServeLeave_EvictsFromChat(t *testing.T) {
	env := newTestEnv(t)
	ctx := testCtx(t)
	host := env.fx.CreateUser(ctx, "host")
	rider := env.fx.CreateUser(ctx, "rider")
	ride := env.fx.CreateRide(ctx, host.ID, rider.ID)

	rec := testutil.NewRecorder()
	env.h.ServeLeave(rec, rideRequest("POST", "/", rider, "rideID", ride.ID.Hex()))
	rec.AssertStatus(t, http.StatusNoContent)

	if len(env.rooms.evicted) != 1 || env.rooms.evicted[0] != rider.ID {
		t.Errorf("evicted: got %v, want [%v]", env.rooms.evicted, rider.ID)
	}
}

func TestServeLeave_HostMustTransferFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := testCtx(t)
	host := env.fx.CreateUser(ctx, "host")
	ride := env.fx.CreateRide(ctx, host.ID)

	rec := testutil.NewRecorder()
	env.h.ServeLeave(rec, rideRequest("POST", "/", host, "rideID", ride.ID.Hex()))
	rec.AssertStatus(t, http.StatusConflict)

	if len(env.rooms.evicted) != 0 {
		t.Error("no eviction expected when leave fails")
	}
}

func TestServeKick_HostOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := testCtx(t)
	host := env.fx.CreateUser(ctx, "host")
	r1 := env.fx.CreateUser(ctx, "rider1")
	r2 := env.fx.CreateUser(ctx, "rider2")
	ride := env.fx.CreateRide(ctx, host.ID, r1.ID, r2.ID)

	rec := testutil.NewRecorder()
	env.h.ServeKick(rec, rideRequest("POST", "/", r1, "rideID", ride.ID.Hex(), "userID", r2.ID.Hex()))
	rec.AssertStatus(t, http.StatusForbidden)

	got, _ := env.store.GetByID(ctx, ride.ID)
	if !got.HasParticipant(r2.ID) {
		t.Error("non-host kick must not change the roster")
	}
}

func TestServeKick_RemovesAndEvicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := testCtx(t)
	host := env.fx.CreateUser(ctx, "host")
	rider := env.fx.CreateUser(ctx, "rider")
	ride := env.fx.CreateRide(ctx, host.ID, rider.ID)

	rec := testutil.NewRecorder()
	env.h.ServeKick(rec, rideRequest("POST", "/", host, "rideID", ride.ID.Hex(), "userID", rider.ID.Hex()))
	rec.AssertStatus(t, http.StatusNoContent)

	got, _ := env.store.GetByID(ctx, ride.ID)
	if got.HasParticipant(rider.ID) {
		t.Error("expected rider to be removed")
	}
	if len(env.rooms.evicted) != 1 || env.rooms.evicted[0] != rider.ID {
		t.Errorf("evicted: got %v", env.rooms.evicted)
	}
}

func TestServeKick_NotParticipant(t *testing.T) {
	env := newTestEnv(t)
	ctx := testCtx(t)
	host := env.fx.CreateUser(ctx, "host")
	ride := env.fx.CreateRide(ctx, host.ID)

	rec := testutil.NewRecorder()
	env.h.ServeKick(rec, rideRequest("POST", "/", host, "rideID", ride.ID.Hex(), "userID", primitive.NewObjectID().Hex()))
	rec.AssertStatus(t, http.StatusConflict)
}

func TestServeTransfer_ChangesHost(t *testing.T) {
	env := newTestEnv(t)
	ctx := testCtx(t)
	host := env.fx.CreateUser(ctx, "host")
	rider := env.fx.CreateUser(ctx, "rider")
	ride := env.fx.CreateRide(ctx, host.ID, rider.ID)

	rec := testutil.NewRecorder()
	env.h.ServeTransfer(rec, rideRequest("POST", "/", host, "rideID", ride.ID.Hex(), "userID", rider.ID.Hex()))
	rec.AssertStatus(t, http.StatusOK)

	got, _ := env.store.GetByID(ctx, ride.ID)
	if got.HostID != rider.ID {
		t.Errorf("HostID: got %v, want %v", got.HostID, rider.ID)
	}
	if !got.HasParticipant(host.ID) {
		t.Error("previous host should stay on the ride")
	}
}

func TestServeDelete_ClosesRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := testCtx(t)
	host := env.fx.CreateUser(ctx, "host")
	ride := env.fx.CreateRide(ctx, host.ID)

	rec := testutil.NewRecorder()
	env.h.ServeDelete(rec, rideRequest("DELETE", "/", host, "rideID", ride.ID.Hex()))
	rec.AssertStatus(t, http.StatusNoContent)

	if len(env.rooms.closed) != 1 || env.rooms.closed[0] != ride.ID {
		t.Errorf("closed rooms: got %v", env.rooms.closed)
	}
	if _, err := env.store.GetByID(ctx, ride.ID); err == nil {
		t.Error("expected ride to be deleted")
	}
}

func TestServeMessages_ParticipantsOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := testCtx(t)
	host := env.fx.CreateUser(ctx, "host")
	outsider := env.fx.CreateUser(ctx, "outsider")
	ride := env.fx.CreateRide(ctx, host.ID)

	rec := testutil.NewRecorder()
	env.h.ServeMessages(rec, rideRequest("GET", "/", outsider, "rideID", ride.ID.Hex()))
	rec.AssertStatus(t, http.StatusForbidden)
}

func TestServeMessages_ReturnsHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := testCtx(t)
	host := env.fx.CreateUser(ctx, "host")
	ride := env.fx.CreateRide(ctx, host.ID)
	env.rooms.history = []realtime.MessagePayload{{ID: "m1", Content: "see you at 8", Username: "host"}}

	rec := testutil.NewRecorder()
	env.h.ServeMessages(rec, rideRequest("GET", "/?limit=500", host, "rideID", ride.ID.Hex()))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, "see you at 8")

	if env.rooms.limit != 200 {
		t.Errorf("limit: got %d, want capped 200", env.rooms.limit)
	}
}

func TestServeMessages_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t)
	ctx := testCtx(t)
	host := env.fx.CreateUser(ctx, "host")
	ride := env.fx.CreateRide(ctx, host.ID)

	rec := testutil.NewRecorder()
	env.h.ServeMessages(rec, rideRequest("GET", "/", host, "rideID", ride.ID.Hex()))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"messages":[]`)
}

func TestServeMessages_BadLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := testCtx(t)
	host := env.fx.CreateUser(ctx, "host")
	ride := env.fx.CreateRide(ctx, host.ID)

	rec := testutil.NewRecorder()
	env.h.ServeMessages(rec, rideRequest("GET", "/?limit=-3", host, "rideID", ride.ID.Hex()))
	rec.AssertStatus(t, http.StatusBadRequest)
}

func TestInvalidRideID(t *testing.T) {
	env := newTestEnv(t)
	host := env.fx.CreateUser(testCtx(t), "host")

	rec := testutil.NewRecorder()
	env.h.ServeJoin(rec, rideRequest("POST", "/", host, "rideID", "not-an-id"))
	rec.AssertStatus(t, http.StatusBadRequest)
}

func TestUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	rec := testutil.NewRecorder()
	env.h.ServeJoin(rec, httptestRequest("POST", "/", ""))
	rec.AssertStatus(t, http.StatusUnauthorized)
}

func httptestRequest(method, target, body string) *http.Request {
	return httptest.NewRequest(method, target, strings.NewReader(body))
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := testutil.TestContext()
	t.Cleanup(cancel)
	return ctx
}
