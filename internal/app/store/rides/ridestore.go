// internal/app/store/rides/ridestore.go
package ridestore

// Terminology: Ride participants
//   - HostID: the user who posted the ride; always present in Participants
//   - Participants: every user currently riding, host included

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

var (
	// ErrNotFound is returned when the ride does not exist.
	ErrNotFound = errors.New("ride not found")
	// ErrNotParticipant is returned when a membership change targets a user
	// who is not riding.
	ErrNotParticipant = errors.New("user is not a participant of this ride")
	// ErrHostCannotLeave is returned when the host tries to leave without
	// transferring ownership first.
	ErrHostCannotLeave = errors.New("the host must transfer or delete the ride")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("rides")}
}

// GetByID loads a ride. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Ride, error) {
	var r models.Ride
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Create inserts a ride with the host as its sole participant.
func (s *Store) Create(ctx context.Context, r models.Ride) (models.Ride, error) {
	r.ID = primitive.NewObjectID()
	r.Participants = []primitive.ObjectID{r.HostID}
	if r.Status == "" {
		r.Status = "open"
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, r); err != nil {
		return models.Ride{}, err
	}
	return r, nil
}

// AddParticipant adds userID to the ride. Adding an existing participant
// is a no-op.
func (s *Store) AddParticipant(ctx context.Context, rideID, userID primitive.ObjectID) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": rideID},
		bson.M{
			"$addToSet": bson.M{"participants": userID},
			"$set":      bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveParticipant removes a non-host participant. It is used for both
// leaving and kicking.
func (s *Store) RemoveParticipant(ctx context.Context, rideID, userID primitive.ObjectID) error {
	ride, err := s.GetByID(ctx, rideID)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return ErrNotFound
		}
		return err
	}
	if ride.HostID == userID {
		return ErrHostCannotLeave
	}

	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": rideID, "participants": userID},
		bson.M{
			"$pull": bson.M{"participants": userID},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return err
	}
	if res.ModifiedCount == 0 {
		return ErrNotParticipant
	}
	return nil
}

// TransferHost makes newHostID the host. The new host must already be a
// participant; the previous host stays on the ride.
func (s *Store) TransferHost(ctx context.Context, rideID, newHostID primitive.ObjectID) (*models.Ride, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var r models.Ride
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": rideID, "participants": newHostID},
		bson.M{"$set": bson.M{"host_id": newHostID, "updated_at": time.Now().UTC()}},
		opts,
	).Decode(&r)
	if err == mongo.ErrNoDocuments {
		if _, gerr := s.GetByID(ctx, rideID); gerr == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, ErrNotParticipant
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Delete removes the ride document. Chat history is retained.
func (s *Store) Delete(ctx context.Context, rideID primitive.ObjectID) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": rideID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
