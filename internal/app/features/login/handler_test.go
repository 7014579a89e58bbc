package login_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/ridechat/internal/app/features/login"
	loginstore "github.com/dalemusser/ridechat/internal/app/store/logins"
	"github.com/dalemusser/ridechat/internal/app/store/sessions"
	userstore "github.com/dalemusser/ridechat/internal/app/store/users"
	"github.com/dalemusser/ridechat/internal/app/system/auth"
	"github.com/dalemusser/ridechat/internal/app/system/ratelimit"
	"github.com/dalemusser/ridechat/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const testKey = "test-session-key-for-testing-only-32+"

type testEnv struct {
	h  *login.Handler
	sm *auth.SessionManager
	db *mongo.Database
	fx *testutil.Fixtures
}

func newTestEnv(t *testing.T, limiter *ratelimit.Limiter) testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()

	sm, err := auth.NewSessionManager(testKey, "test-session", "", 24*time.Hour, false, sessions.New(db), logger)
	if err != nil {
		t.Fatalf("NewSessionManager failed: %v", err)
	}
	h := login.NewHandler(userstore.New(db), sm, loginstore.New(db), limiter, logger)
	return testEnv{h: h, sm: sm, db: db, fx: testutil.NewFixtures(t, db)}
}

func loginRequest(username, password, returnURL string) *http.Request {
	form := url.Values{"username": {username}, "password": {password}}
	if returnURL != "" {
		form.Set("return", returnURL)
	}
	req := httptest.NewRequest("POST", "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestHandleLoginPost_Success(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u := env.fx.CreateUser(ctx, "alice")
	env.fx.SetPassword(ctx, u.ID, "ride-share-42")

	rec := httptest.NewRecorder()
	env.h.HandleLoginPost(rec, loginRequest("Alice", "ride-share-42", "/rides/abc"))

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusSeeOther, rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/rides/abc" {
		t.Errorf("Location: got %q, want %q", loc, "/rides/abc")
	}

	// The issued cookie resolves to the user.
	req := httptest.NewRequest("GET", "/ws/chat", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	id, err := env.sm.Resolve(req)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if id.UserID != u.ID {
		t.Errorf("UserID: got %v, want %v", id.UserID, u.ID)
	}

	n, err := env.db.Collection("login_records").CountDocuments(ctx, bson.M{"user_id": u.ID})
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if n != 1 {
		t.Errorf("login records: got %d, want 1", n)
	}
}

func TestHandleLoginPost_WrongPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u := env.fx.CreateUser(ctx, "alice")
	env.fx.SetPassword(ctx, u.ID, "ride-share-42")

	rec := httptest.NewRecorder()
	env.h.HandleLoginPost(rec, loginRequest("alice", "nope-nope", ""))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("no session cookie expected on failure")
	}
}

func TestHandleLoginPost_UnknownUserSameMessage(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := httptest.NewRecorder()
	env.h.HandleLoginPost(rec, loginRequest("ghost", "whatever1", ""))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid username or password") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestHandleLoginPost_NoPasswordSet(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	env.fx.CreateUser(ctx, "alice")

	rec := httptest.NewRecorder()
	env.h.HandleLoginPost(rec, loginRequest("alice", "anything1", ""))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestHandleLoginPost_DisabledAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u := env.fx.CreateUser(ctx, "alice")
	env.fx.SetPassword(ctx, u.ID, "ride-share-42")
	if _, err := env.db.Collection("users").UpdateByID(ctx, u.ID, bson.M{"$set": bson.M{"status": "disabled"}}); err != nil {
		t.Fatalf("disable user: %v", err)
	}

	rec := httptest.NewRecorder()
	env.h.HandleLoginPost(rec, loginRequest("alice", "ride-share-42", ""))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestHandleLoginPost_MissingFields(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := httptest.NewRecorder()
	env.h.HandleLoginPost(rec, loginRequest("alice", "", ""))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestHandleLoginPost_ExternalReturnURLIgnored(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u := env.fx.CreateUser(ctx, "alice")
	env.fx.SetPassword(ctx, u.ID, "ride-share-42")

	for _, ret := range []string{"https://evil.example", "//evil.example", "rides"} {
		rec := httptest.NewRecorder()
		env.h.HandleLoginPost(rec, loginRequest("alice", "ride-share-42", ret))
		if loc := rec.Header().Get("Location"); loc != "/" {
			t.Errorf("return %q: Location got %q, want /", ret, loc)
		}
	}
}

func TestHandleLoginPost_RateLimited(t *testing.T) {
	limiter := ratelimit.New(2, time.Minute)
	defer limiter.Stop()
	env := newTestEnv(t, limiter)

	var last int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		env.h.HandleLoginPost(rec, loginRequest("ghost", "whatever1", ""))
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third attempt: got %d, want %d", last, http.StatusTooManyRequests)
	}
}
