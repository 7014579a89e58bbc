// internal/domain/models/ride.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Ride is a carpool trip. The host is always listed in Participants.
//
// NOTE:
//   - Seat counts, fares and rider restrictions belong to the ride
//     management flow and are not interpreted here.
type Ride struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	HostID       primitive.ObjectID   `bson:"host_id" json:"host_id"`
	Participants []primitive.ObjectID `bson:"participants" json:"participants"`

	Origin      string    `bson:"origin,omitempty" json:"origin,omitempty"`
	Destination string    `bson:"destination,omitempty" json:"destination,omitempty"`
	DepartsAt   time.Time `bson:"departs_at,omitempty" json:"departs_at,omitempty"`
	Status      string    `bson:"status,omitempty" json:"status,omitempty"` // open | full | cancelled

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// HasParticipant reports whether userID is currently part of the ride.
func (r Ride) HasParticipant(userID primitive.ObjectID) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
