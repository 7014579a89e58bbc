// internal/domain/models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is a rider account. Accounts are created and verified by the
// registration flow. Chat reads them to resolve display names and sign-in
// reads them to check credentials.
type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username string             `bson:"username" json:"username"`
	FullName string             `bson:"full_name" json:"full_name"`
	Email    string             `bson:"email" json:"email"`
	Status   string             `bson:"status,omitempty" json:"status,omitempty"` // active | disabled

	// PasswordHash is a bcrypt hash. Empty means password login is disabled.
	PasswordHash string `bson:"password_hash,omitempty" json:"-"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// DisplayName returns the name shown next to chat messages.
func (u User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.FullName
}
