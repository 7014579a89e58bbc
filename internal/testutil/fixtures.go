package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dalemusser/ridechat/internal/app/store/sessions"
	"github.com/dalemusser/ridechat/internal/app/system/authutil"
	"github.com/dalemusser/ridechat/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// WithChiURLParam adds a chi URL parameter to the request context.
// Use this in handler tests that need to access chi.URLParam values.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx, ok := r.Context().Value(chi.RouteCtxKey).(*chi.Context)
	if !ok || rctx == nil {
		rctx = chi.NewRouteContext()
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	}
	rctx.URLParams.Add(key, value)
	return r
}

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateUser creates an active user with the given username.
func (f *Fixtures) CreateUser(ctx context.Context, username string) models.User {
	f.t.Helper()

	now := time.Now().UTC()
	u := models.User{
		ID:        primitive.NewObjectID(),
		Username:  username,
		FullName:  "Test " + username,
		Email:     username + "@campus.test",
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := f.db.Collection("users").InsertOne(ctx, u); err != nil {
		f.t.Fatalf("CreateUser(%q) failed: %v", username, err)
	}
	return u
}

// SetPassword stores a bcrypt hash of password on the user.
func (f *Fixtures) SetPassword(ctx context.Context, userID primitive.ObjectID, password string) {
	f.t.Helper()

	hash, err := authutil.HashPassword(password)
	if err != nil {
		f.t.Fatalf("HashPassword failed: %v", err)
	}
	if _, err := f.db.Collection("users").UpdateByID(ctx, userID, bson.M{"$set": bson.M{"password_hash": hash}}); err != nil {
		f.t.Fatalf("SetPassword failed: %v", err)
	}
}

// CreateRide creates a ride hosted by host. Extra riders are added to the
// participant list after the host.
func (f *Fixtures) CreateRide(ctx context.Context, host primitive.ObjectID, riders ...primitive.ObjectID) models.Ride {
	f.t.Helper()

	now := time.Now().UTC()
	r := models.Ride{
		ID:           primitive.NewObjectID(),
		HostID:       host,
		Participants: append([]primitive.ObjectID{host}, riders...),
		Origin:       "Main Campus",
		Destination:  "Airport",
		DepartsAt:    now.Add(24 * time.Hour).Truncate(time.Millisecond),
		Status:       "open",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := f.db.Collection("rides").InsertOne(ctx, r); err != nil {
		f.t.Fatalf("CreateRide failed: %v", err)
	}
	return r
}

// CreateSession opens a login session for userID.
func (f *Fixtures) CreateSession(ctx context.Context, userID primitive.ObjectID) sessions.Session {
	f.t.Helper()

	s, err := sessions.New(f.db).Create(ctx, userID, "127.0.0.1", "testutil", sessions.CreatedByLogin)
	if err != nil {
		f.t.Fatalf("CreateSession failed: %v", err)
	}
	return s
}
