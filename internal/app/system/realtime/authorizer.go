// internal/app/system/realtime/authorizer.go
package realtime

import (
	"context"
	"errors"

	"github.com/dalemusser/ridechat/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// RideLookup loads a ride. It returns mongo.ErrNoDocuments for unknown rides.
type RideLookup interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Ride, error)
}

// Authorizer decides whether a user may subscribe to a ride's chat.
// Decisions are never cached; membership can change between joins.
type Authorizer struct {
	rides RideLookup
}

// NewAuthorizer returns an Authorizer backed by rides.
func NewAuthorizer(rides RideLookup) *Authorizer {
	return &Authorizer{rides: rides}
}

// Authorize reports whether userID is a current participant of rideID.
// An unknown ride is not an error; it is simply not authorized.
func (a *Authorizer) Authorize(ctx context.Context, userID, rideID primitive.ObjectID) (bool, error) {
	ride, err := a.rides.GetByID(ctx, rideID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ride.HasParticipant(userID), nil
}
