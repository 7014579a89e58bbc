// internal/app/store/messages/messagestore.go
package messagestore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/ridechat/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultListLimit caps ListByRide when the caller passes a non-positive limit.
const DefaultListLimit = 50

var errBadKind = errors.New("unrecognized message kind")

// NewMessage holds the caller-supplied fields of a chat message.
type NewMessage struct {
	RideID  primitive.ObjectID
	Content string
	Kind    string
}

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("ride_messages")}
}

// Create persists a message and returns it with its assigned ID and
// timestamp. The timestamp is truncated to milliseconds so the value
// returned equals the value MongoDB stores.
func (s *Store) Create(ctx context.Context, userID primitive.ObjectID, in NewMessage) (models.ChatMessage, error) {
	kind := in.Kind
	if kind == "" {
		kind = models.MessageKindText
	}
	if !models.IsValidMessageKind(kind) {
		return models.ChatMessage{}, errBadKind
	}

	msg := models.ChatMessage{
		ID:        primitive.NewObjectID(),
		RideID:    in.RideID,
		UserID:    userID,
		Content:   in.Content,
		Kind:      kind,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.c.InsertOne(ctx, msg); err != nil {
		return models.ChatMessage{}, err
	}
	return msg, nil
}

// ListByRide returns the most recent messages of a ride, oldest first.
func (s *Store) ListByRide(ctx context.Context, rideID primitive.ObjectID, limit int64) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	// Newest first so the limit keeps the latest messages; reversed below.
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(limit)

	cur, err := s.c.Find(ctx, bson.M{"ride_id": rideID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var msgs []models.ChatMessage
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
