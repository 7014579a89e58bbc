// internal/app/store/sessions/store.go
package sessions

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Session creation sources
const (
	CreatedByLogin = "login" // User explicitly logged in
)

// Session end reasons
const (
	EndLogout   = "logout"
	EndInactive = "inactive"
)

// Session is the server-side record behind a signed session cookie. The
// cookie only carries the session ID; this record is authoritative for
// who the session belongs to and whether it is still valid.
type Session struct {
	ID     primitive.ObjectID `bson:"_id,omitempty"`
	UserID primitive.ObjectID `bson:"user_id"`

	// Timing
	LoginAt      time.Time  `bson:"login_at"`
	LogoutAt     *time.Time `bson:"logout_at,omitempty"`
	LastActiveAt time.Time  `bson:"last_active_at"`

	CreatedBy string `bson:"created_by,omitempty"`
	EndReason string `bson:"end_reason,omitempty"` // "logout", "inactive", ""

	// Context
	IP        string `bson:"ip"`
	UserAgent string `bson:"user_agent,omitempty"`

	// Computed on session close
	DurationSecs int64 `bson:"duration_secs,omitempty"`
}

// Active reports whether the session has not been closed.
func (s Session) Active() bool {
	return s.LogoutAt == nil
}

// Store manages login sessions.
type Store struct {
	c *mongo.Collection
}

// New creates a new sessions Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("sessions")}
}

// Create starts a new session for a user. Users may hold several open
// sessions at once (phone and laptop).
func (s *Store) Create(ctx context.Context, userID primitive.ObjectID, ip, userAgent, createdBy string) (Session, error) {
	now := time.Now().UTC()
	sess := Session{
		ID:           primitive.NewObjectID(),
		UserID:       userID,
		LoginAt:      now,
		LastActiveAt: now,
		CreatedBy:    createdBy,
		IP:           ip,
		UserAgent:    userAgent,
	}

	if _, err := s.c.InsertOne(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// GetByID retrieves a session by its ID. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByID(ctx context.Context, sessionID primitive.ObjectID) (Session, error) {
	var sess Session
	err := s.c.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&sess)
	return sess, err
}

// Close ends a session with the given reason and calculates duration.
// Closing an already closed session keeps its original end state.
func (s *Store) Close(ctx context.Context, sessionID primitive.ObjectID, reason string) error {
	now := time.Now().UTC()

	var sess Session
	err := s.c.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&sess)
	if err != nil {
		return err
	}
	if !sess.Active() {
		return nil
	}

	duration := int64(now.Sub(sess.LoginAt).Seconds())

	_, err = s.c.UpdateOne(ctx, bson.M{"_id": sessionID, "logout_at": nil}, bson.M{
		"$set": bson.M{
			"logout_at":     now,
			"end_reason":    reason,
			"duration_secs": duration,
		},
	})
	return err
}

// Touch updates the last active timestamp of an open session. It returns
// false when the session is missing or already closed.
func (s *Store) Touch(ctx context.Context, sessionID primitive.ObjectID) (bool, error) {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": sessionID, "logout_at": nil},
		bson.M{"$set": bson.M{"last_active_at": time.Now().UTC()}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

// GetActiveByUser returns open sessions for a user.
func (s *Store) GetActiveByUser(ctx context.Context, userID primitive.ObjectID) ([]Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "login_at", Value: -1}})
	cur, err := s.c.Find(ctx, bson.M{
		"user_id":   userID,
		"logout_at": nil,
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var sessions []Session
	if err := cur.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// CloseInactiveSessions closes open sessions whose last activity is older
// than inactiveThreshold. Returns the number of sessions closed.
func (s *Store) CloseInactiveSessions(ctx context.Context, inactiveThreshold time.Duration) (int64, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-inactiveThreshold)

	result, err := s.c.UpdateMany(ctx,
		bson.M{
			"logout_at":      nil,
			"last_active_at": bson.M{"$lt": cutoff},
		},
		bson.M{
			"$set": bson.M{
				"logout_at":  now,
				"end_reason": EndInactive,
			},
		},
	)
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}
