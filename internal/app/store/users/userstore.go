package userstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/ridechat/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("users")}
}

var (
	// ErrDuplicateUsername is returned when a username is already taken.
	ErrDuplicateUsername = errors.New("a user with this username already exists")
	errUsernameRequired  = errors.New("username is required")
)

// GetByID loads a user by ObjectID. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByUsername loads a user by username, case-insensitively. Returns
// mongo.ErrNoDocuments if not found.
func (s *Store) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	key := strings.ToLower(strings.TrimSpace(username))
	if err := s.c.FindOne(ctx, bson.M{"username": key}).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByEmail loads a user by email, case-insensitively. Returns
// mongo.ErrNoDocuments if not found.
func (s *Store) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	key := strings.ToLower(strings.TrimSpace(email))
	if err := s.c.FindOne(ctx, bson.M{"email": key}).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// DisplayName returns the chat display name for a user, reading only the
// name fields.
func (s *Store) DisplayName(ctx context.Context, id primitive.ObjectID) (string, error) {
	var u models.User
	proj := options.FindOne().SetProjection(bson.M{"username": 1, "full_name": 1})
	if err := s.c.FindOne(ctx, bson.M{"_id": id}, proj).Decode(&u); err != nil {
		return "", err
	}
	return u.DisplayName(), nil
}

// Create inserts a new user. Usernames are stored lowercase and must be unique.
func (s *Store) Create(ctx context.Context, u models.User) (models.User, error) {
	u.Username = strings.ToLower(strings.TrimSpace(u.Username))
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Username == "" {
		return models.User{}, errUsernameRequired
	}
	u.ID = primitive.NewObjectID()
	if u.Status == "" {
		u.Status = "active"
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, u); err != nil {
		if wafflemongo.IsDup(err) {
			return models.User{}, ErrDuplicateUsername
		}
		return models.User{}, err
	}
	return u, nil
}
