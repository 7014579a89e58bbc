// internal/domain/models/chatmessage.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message kinds. Only text exists today; the field is stored so new
// kinds can be added without a migration.
const (
	MessageKindText = "text"
)

// IsValidMessageKind reports whether kind is a recognized message kind.
func IsValidMessageKind(kind string) bool {
	return kind == MessageKindText
}

// ChatMessage is one persisted entry in a ride's chat. It is immutable
// once created. CreatedAt is assigned by the store and is the only
// ordering clients may rely on.
type ChatMessage struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RideID    primitive.ObjectID `bson:"ride_id" json:"ride_id"`
	UserID    primitive.ObjectID `bson:"user_id" json:"user_id"`
	Content   string             `bson:"content" json:"content"`
	Kind      string             `bson:"kind" json:"kind"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`

	// Username is resolved from the user store when the message is
	// delivered and is never written to the messages collection.
	Username string `bson:"-" json:"username,omitempty"`
}
